package recovery

import (
	"bytes"
	"strings"
	"testing"

	"github.com/lightningnetwork/lnd/tlv"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func genRecord() *rapid.Generator[Record] {
	return rapid.Custom(func(t *rapid.T) Record {
		return Record{
			Kind:      rapid.String().Draw(t, "kind"),
			Receiver:  rapid.String().Draw(t, "receiver"),
			Address:   rapid.String().Draw(t, "address"),
			Index:     rapid.Uint32().Draw(t, "index"),
			Timestamp: rapid.Uint64().Draw(t, "timestamp"),
		}
	})
}

// TestRecordRoundTrip asserts that any record, whatever its field content,
// decodes to itself.
func TestRecordRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rec := genRecord().Draw(t, "record")

		plaintext, err := rec.Encode()
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(plaintext, recordPrefix))

		decoded, err := DecodeRecord(plaintext)
		require.NoError(t, err)
		require.Equal(t, rec, *decoded)
	})
}

// TestDecodeLegacyRecord asserts that the JSON layout of earlier releases is
// still understood.
func TestDecodeLegacyRecord(t *testing.T) {
	t.Parallel()

	plaintext := `{"msg_type":"AddrRes","receiver_pubkey":"ab12",` +
		`"content_given":"tb1qexample","index":7,` +
		`"timestamp":1700000000}`

	rec, err := DecodeRecord(plaintext)
	require.NoError(t, err)
	require.Equal(t, Record{
		Kind:      KindAddrRes,
		Receiver:  "ab12",
		Address:   "tb1qexample",
		Index:     7,
		Timestamp: 1700000000,
	}, *rec)

	_, err = DecodeRecord(`{"msg_type":"AddrRes","index":7}`)
	require.ErrorIs(t, err, ErrIncompleteRecord)
}

// TestDecodeRecordErrors asserts that foreign or damaged plaintexts are
// rejected with the matching error.
func TestDecodeRecordErrors(t *testing.T) {
	t.Parallel()

	_, err := DecodeRecord("AddrReqhunter2")
	require.ErrorIs(t, err, ErrUnknownFormat)

	_, err = DecodeRecord(recordPrefix + "!!!")
	require.ErrorIs(t, err, ErrUnknownFormat)

	_, err = DecodeRecord("{not json")
	require.ErrorIs(t, err, ErrUnknownFormat)

	// A stream with only a version is incomplete.
	version := recordVersion
	var b bytes.Buffer
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(versionType, &version),
	)
	require.NoError(t, err)
	require.NoError(t, stream.Encode(&b))

	_, err = DeserializeRecord(&b)
	require.ErrorIs(t, err, ErrIncompleteRecord)

	// A record from a future version is refused.
	rec := Record{Kind: KindAddrRes, Receiver: "r", Address: "a"}
	b.Reset()
	require.NoError(t, rec.Serialize(&b))
	raw := b.Bytes()

	// The version is the first record: type 0, length 1, value.
	require.Equal(t, []byte{0, 1, recordVersion}, raw[:3])
	raw[2] = recordVersion + 1

	_, err = DeserializeRecord(bytes.NewReader(raw))
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}
