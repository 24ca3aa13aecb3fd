package nostrnet

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestParseIdentity asserts that secrets are accepted as hex or nsec and that
// the placeholder generates a fresh key.
func TestParseIdentity(t *testing.T) {
	t.Parallel()

	gen, err := ParseIdentity(RandomKey)
	require.NoError(t, err)
	require.True(t, gen.Generated())
	require.Len(t, gen.PubKey(), 64)

	other, err := ParseIdentity("")
	require.NoError(t, err)
	require.NotEqual(t, gen.PubKey(), other.PubKey())

	fromNsec, err := ParseIdentity(gen.Nsec())
	require.NoError(t, err)
	require.False(t, fromNsec.Generated())
	require.Equal(t, gen.PubKey(), fromNsec.PubKey())

	fromHex, err := ParseIdentity(strings.ToUpper(gen.secret))
	require.NoError(t, err)
	require.Equal(t, gen.PubKey(), fromHex.PubKey())

	for _, bad := range []string{"abc", "nsec1garbage", gen.Npub()} {
		_, err := ParseIdentity(bad)
		require.ErrorIs(t, err, ErrInvalidKey, bad)
	}
}

// TestParsePubKey asserts that public keys are accepted as hex or npub.
func TestParsePubKey(t *testing.T) {
	t.Parallel()

	id, err := NewIdentity()
	require.NoError(t, err)

	pub, err := ParsePubKey(id.Npub())
	require.NoError(t, err)
	require.Equal(t, id.PubKey(), pub)

	pub, err = ParsePubKey(id.PubKey())
	require.NoError(t, err)
	require.Equal(t, id.PubKey(), pub)

	_, err = ParsePubKey(id.Nsec())
	require.ErrorIs(t, err, ErrInvalidKey)
}
