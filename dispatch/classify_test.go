package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestClassify asserts that only the exact request name followed by the
// secret is recognized.
func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		plaintext string
		secret    string
		expected  Kind
	}{{
		name:      "address request without secret",
		plaintext: "AddrReq",
		expected:  KindAddrReq,
	}, {
		name:      "address request with secret",
		plaintext: "AddrReqhunter2",
		secret:    "hunter2",
		expected:  KindAddrReq,
	}, {
		name:      "secret missing",
		plaintext: "AddrReq",
		secret:    "hunter2",
		expected:  KindInvalid,
	}, {
		name:      "wrong secret",
		plaintext: "AddrReqhunter3",
		secret:    "hunter2",
		expected:  KindInvalid,
	}, {
		name:      "trailing whitespace",
		plaintext: "AddrReqhunter2 ",
		secret:    "hunter2",
		expected:  KindInvalid,
	}, {
		name:      "xpub request",
		plaintext: "XpubReqhunter2",
		secret:    "hunter2",
		expected:  KindXpubReq,
	}, {
		name:      "descriptor request",
		plaintext: "DescReq",
		expected:  KindDescReq,
	}, {
		name:      "lower case",
		plaintext: "addrreq",
		expected:  KindInvalid,
	}, {
		name:      "empty",
		plaintext: "",
		expected:  KindInvalid,
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			kind := Classify(test.plaintext, test.secret)
			require.Equal(t, test.expected, kind)
		})
	}
}

func TestParseAddressReply(t *testing.T) {
	t.Parallel()

	addr, ok := ParseAddressReply(AddressReply("bcrt1qexample"))
	require.True(t, ok)
	require.Equal(t, "bcrt1qexample", addr)

	_, ok = ParseAddressReply(NotSupportedReply)
	require.False(t, ok)

	_, ok = ParseAddressReply(AddrResPrefix)
	require.False(t, ok)
}
