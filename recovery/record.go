package recovery

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/lightningnetwork/lnd/tlv"
)

const (
	// KindAddrRes is the kind of a record written for an address handed
	// out in an AddrRes reply.
	KindAddrRes = "AddrRes"

	// recordVersion is the current version of the record encoding.
	recordVersion uint8 = 1

	// recordPrefix marks the plaintext of a TLV encoded record.
	recordPrefix = "rrec1:"
)

const (
	versionType   tlv.Type = 0
	kindType      tlv.Type = 2
	receiverType  tlv.Type = 4
	addressType   tlv.Type = 6
	indexType     tlv.Type = 8
	timestampType tlv.Type = 10
)

var (
	// ErrUnknownFormat is returned for plaintexts that are not an issuance
	// record in any known encoding.
	ErrUnknownFormat = errors.New("unknown record format")

	// ErrUnsupportedVersion is returned for records written by a newer
	// encoding version.
	ErrUnsupportedVersion = errors.New("unsupported record version")

	// ErrIncompleteRecord is returned when a decoded record misses a
	// required field.
	ErrIncompleteRecord = errors.New("incomplete record")
)

// Record notes that an address was handed to a receiver. Records are
// immutable once written.
type Record struct {
	// Kind is the kind of reply the record was written for.
	Kind string

	// Receiver is the hex x-only public key of the counterparty.
	Receiver string

	// Address is the address handed out.
	Address string

	// Index is the derivation index of the address.
	Index uint32

	// Timestamp is the unix time in seconds the record was made.
	Timestamp uint64
}

// Serialize writes the record as a TLV stream.
func (r *Record) Serialize(w io.Writer) error {
	version := recordVersion
	kind := []byte(r.Kind)
	receiver := []byte(r.Receiver)
	address := []byte(r.Address)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(versionType, &version),
		tlv.MakePrimitiveRecord(kindType, &kind),
		tlv.MakePrimitiveRecord(receiverType, &receiver),
		tlv.MakePrimitiveRecord(addressType, &address),
		tlv.MakePrimitiveRecord(indexType, &r.Index),
		tlv.MakePrimitiveRecord(timestampType, &r.Timestamp),
	)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// DeserializeRecord reads a record from a TLV stream. Unknown odd types are
// skipped so later versions may add optional fields.
func DeserializeRecord(r io.Reader) (*Record, error) {
	var (
		rec                     Record
		version                 uint8
		kind, receiver, address []byte
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(versionType, &version),
		tlv.MakePrimitiveRecord(kindType, &kind),
		tlv.MakePrimitiveRecord(receiverType, &receiver),
		tlv.MakePrimitiveRecord(addressType, &address),
		tlv.MakePrimitiveRecord(indexType, &rec.Index),
		tlv.MakePrimitiveRecord(timestampType, &rec.Timestamp),
	)
	if err != nil {
		return nil, err
	}

	parsed, err := stream.DecodeWithParsedTypes(r)
	if err != nil {
		return nil, err
	}

	for _, typ := range []tlv.Type{
		versionType, kindType, receiverType, addressType, indexType,
		timestampType,
	} {
		if _, ok := parsed[typ]; !ok {
			return nil, fmt.Errorf("%w: missing type %d",
				ErrIncompleteRecord, typ)
		}
	}

	if version != recordVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion,
			version)
	}

	rec.Kind = string(kind)
	rec.Receiver = string(receiver)
	rec.Address = string(address)

	return &rec, nil
}

// Encode returns the record as a printable plaintext suitable for a direct
// message.
func (r *Record) Encode() (string, error) {
	var b bytes.Buffer
	if err := r.Serialize(&b); err != nil {
		return "", err
	}

	return recordPrefix + base64.StdEncoding.EncodeToString(b.Bytes()), nil
}

// legacyRecord is the JSON layout written by earlier releases.
type legacyRecord struct {
	MsgType        string `json:"msg_type"`
	ReceiverPubKey string `json:"receiver_pubkey"`
	ContentGiven   string `json:"content_given"`
	Index          uint32 `json:"index"`
	Timestamp      uint64 `json:"timestamp"`
}

// DecodeRecord parses a plaintext produced by Encode. The JSON layout of
// earlier releases is accepted as well.
func DecodeRecord(plaintext string) (*Record, error) {
	switch {
	case strings.HasPrefix(plaintext, recordPrefix):
		raw, err := base64.StdEncoding.DecodeString(
			strings.TrimPrefix(plaintext, recordPrefix),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
		}

		return DeserializeRecord(bytes.NewReader(raw))

	case strings.HasPrefix(strings.TrimSpace(plaintext), "{"):
		var legacy legacyRecord
		if err := json.Unmarshal([]byte(plaintext), &legacy); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
		}
		if legacy.ReceiverPubKey == "" || legacy.ContentGiven == "" {
			return nil, ErrIncompleteRecord
		}

		return &Record{
			Kind:      legacy.MsgType,
			Receiver:  legacy.ReceiverPubKey,
			Address:   legacy.ContentGiven,
			Index:     legacy.Index,
			Timestamp: legacy.Timestamp,
		}, nil
	}

	return nil, ErrUnknownFormat
}
