package nostrnet

import (
	"errors"
	"fmt"

	"github.com/lightninglabs/neutrino/cache"
	"github.com/lightninglabs/neutrino/cache/lru"
	"github.com/nbd-wtf/go-nostr/nip04"
)

// sharedKeyCacheSize bounds the number of counterparties whose ECDH secret is
// kept around.
const sharedKeyCacheSize = 1024

// ErrDecrypt is wrapped by every failure to decrypt a direct message.
var ErrDecrypt = errors.New("unable to decrypt message")

// sharedKey is an ECDH secret shared with one counterparty.
type sharedKey []byte

// Size returns the "size" of an entry. We return 1 as we just want to limit
// the total number of entries rather than do accurate size accounting.
func (s sharedKey) Size() (uint64, error) {
	return 1, nil
}

// cipher encrypts and decrypts NIP-04 direct messages for one identity.
type cipher struct {
	id *Identity

	keys *lru.Cache[string, sharedKey]
}

func newCipher(id *Identity) *cipher {
	return &cipher{
		id:   id,
		keys: lru.NewCache[string, sharedKey](sharedKeyCacheSize),
	}
}

func (c *cipher) sharedKey(pub string) (sharedKey, error) {
	key, err := c.keys.Get(pub)
	switch {
	case err == nil:
		return key, nil

	case !errors.Is(err, cache.ErrElementNotFound):
		return nil, err
	}

	secret, err := nip04.ComputeSharedSecret(pub, c.id.secret)
	if err != nil {
		return nil, err
	}
	_, _ = c.keys.Put(pub, secret)

	return secret, nil
}

// encrypt encrypts plaintext for the given counterparty.
func (c *cipher) encrypt(pub, plaintext string) (string, error) {
	key, err := c.sharedKey(pub)
	if err != nil {
		return "", fmt.Errorf("unable to derive shared key: %w", err)
	}

	return nip04.Encrypt(plaintext, key)
}

// decrypt decrypts content sent to us by, or sent by us to, the given
// counterparty.
func (c *cipher) decrypt(pub, content string) (string, error) {
	key, err := c.sharedKey(pub)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	plaintext, err := nip04.Decrypt(content, key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	return plaintext, nil
}
