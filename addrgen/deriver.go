package addrgen

import (
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

var (
	// ErrNetworkMismatch is returned when the extended public key was
	// encoded for a different network than the one selected.
	ErrNetworkMismatch = errors.New("extended key network mismatch")

	// ErrPrivateKey is returned when an extended private key is passed
	// where only a public one should ever be handed to the service.
	ErrPrivateKey = errors.New("extended private key given, expected " +
		"an extended public key")

	// ErrIndexExhausted is returned when the cursor has walked off the end
	// of the non-hardened index space.
	ErrIndexExhausted = errors.New("non-hardened index space exhausted")
)

// Deriver derives P2WPKH receiving addresses from an extended public key and
// a derivation path, and keeps a monotonic cursor pointing at the next index
// that has not been handed out.
type Deriver struct {
	params *chaincfg.Params

	// branch is the extended key at the end of the configured path. The
	// i-th address is derived from its i-th child.
	branch *hdkeychain.ExtendedKey

	path Path

	mu     sync.Mutex
	cursor uint32
}

// NewDeriver parses the extended public key, checks it against the selected
// network and walks it down the given path.
func NewDeriver(xpub string, path Path,
	params *chaincfg.Params) (*Deriver, error) {

	root, err := hdkeychain.NewKeyFromString(xpub)
	if err != nil {
		return nil, fmt.Errorf("unable to parse extended public "+
			"key: %w", err)
	}

	if root.IsPrivate() {
		return nil, ErrPrivateKey
	}

	if !root.IsForNet(params) {
		return nil, fmt.Errorf("%w: key is not for %s",
			ErrNetworkMismatch, params.Name)
	}

	branch := root
	for _, index := range path {
		branch, err = branch.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("unable to derive %v: %w",
				path, err)
		}
	}

	return &Deriver{
		params: params,
		branch: branch,
		path:   path,
	}, nil
}

// Params returns the chain parameters addresses are encoded for.
func (d *Deriver) Params() *chaincfg.Params {
	return d.params
}

// Path returns the derivation path of the address branch.
func (d *Deriver) Path() Path {
	return d.path
}

// AddressAt derives the address at the given child index of the branch.
func (d *Deriver) AddressAt(index uint32) (string, error) {
	if index >= hdkeychain.HardenedKeyStart {
		return "", ErrIndexExhausted
	}

	child, err := d.branch.Derive(index)
	if err != nil {
		return "", err
	}

	pubKey, err := child.ECPubKey()
	if err != nil {
		return "", err
	}

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(pubKey.SerializeCompressed()), d.params,
	)
	if err != nil {
		return "", err
	}

	return addr.EncodeAddress(), nil
}

// NextUnusedIndex returns the index the next call to NewAddress will try.
func (d *Deriver) NextUnusedIndex() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.cursor
}

// ResetCursor moves the cursor so that the next address handed out is the
// one at the given index.
func (d *Deriver) ResetCursor(index uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	log.Debugf("Resetting address cursor %d -> %d", d.cursor, index)

	d.cursor = index
}

// NewAddress derives the address at the cursor and advances the cursor past
// it. Indexes whose child key is invalid under BIP-32 are skipped, so the
// returned index may be greater than NextUnusedIndex was before the call.
func (d *Deriver) NewAddress() (uint32, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for {
		index := d.cursor
		if index >= hdkeychain.HardenedKeyStart {
			return 0, "", ErrIndexExhausted
		}

		addr, err := d.AddressAt(index)
		switch {
		case errors.Is(err, hdkeychain.ErrInvalidChild):
			log.Warnf("Skipping invalid child index %d", index)
			d.cursor++
			continue

		case err != nil:
			return 0, "", err
		}

		d.cursor = index + 1

		return index, addr, nil
	}
}
