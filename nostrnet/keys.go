package nostrnet

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// RandomKey is the key placeholder that requests a freshly generated,
// ephemeral identity.
const RandomKey = "RANDOMLY_GENERATED"

// ErrInvalidKey is returned when a key is neither hex nor a NIP-19 string of
// the expected kind.
var ErrInvalidKey = errors.New("invalid nostr key")

// Identity is a nostr key pair.
type Identity struct {
	secret    string
	pubKey    string
	generated bool
}

// NewIdentity generates a fresh random identity.
func NewIdentity() (*Identity, error) {
	sk := nostr.GeneratePrivateKey()

	return identityFromSecret(sk, true)
}

// ParseIdentity parses a secret key given as 64 hex characters or as an nsec
// string. RandomKey and the empty string yield a generated identity.
func ParseIdentity(key string) (*Identity, error) {
	key = strings.TrimSpace(key)

	switch {
	case key == "" || key == RandomKey:
		return NewIdentity()

	case strings.HasPrefix(key, "nsec1"):
		prefix, value, err := nip19.Decode(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		sk, ok := value.(string)
		if prefix != "nsec" || !ok {
			return nil, fmt.Errorf("%w: unexpected prefix %v",
				ErrInvalidKey, prefix)
		}

		return identityFromSecret(sk, false)
	}

	if !isHexKey(key) {
		return nil, fmt.Errorf("%w: expected 64 hex characters or "+
			"nsec", ErrInvalidKey)
	}

	return identityFromSecret(strings.ToLower(key), false)
}

func identityFromSecret(sk string, generated bool) (*Identity, error) {
	pub, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	return &Identity{
		secret:    sk,
		pubKey:    pub,
		generated: generated,
	}, nil
}

// PubKey returns the hex encoded x-only public key.
func (i *Identity) PubKey() string {
	return i.pubKey
}

// Npub returns the NIP-19 encoding of the public key.
func (i *Identity) Npub() string {
	npub, err := nip19.EncodePublicKey(i.pubKey)
	if err != nil {
		return i.pubKey
	}

	return npub
}

// Nsec returns the NIP-19 encoding of the secret key.
func (i *Identity) Nsec() string {
	nsec, err := nip19.EncodePrivateKey(i.secret)
	if err != nil {
		return ""
	}

	return nsec
}

// Generated reports whether the identity was created at random rather than
// loaded from configuration.
func (i *Identity) Generated() bool {
	return i.generated
}

// ParsePubKey parses a public key given as 64 hex characters or as an npub
// string and returns its hex form.
func ParsePubKey(key string) (string, error) {
	key = strings.TrimSpace(key)

	if strings.HasPrefix(key, "npub1") {
		prefix, value, err := nip19.Decode(key)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		pub, ok := value.(string)
		if prefix != "npub" || !ok {
			return "", fmt.Errorf("%w: unexpected prefix %v",
				ErrInvalidKey, prefix)
		}

		return pub, nil
	}

	if !isHexKey(key) {
		return "", fmt.Errorf("%w: expected 64 hex characters or "+
			"npub", ErrInvalidKey)
	}

	return strings.ToLower(key), nil
}

func isHexKey(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)

	return err == nil
}
