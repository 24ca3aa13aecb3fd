package esplora

import (
	"context"
	"fmt"
)

// Oracle answers whether an address has ever been part of a transaction, on
// chain or in the mempool, using an Esplora API.
type Oracle struct {
	client *Client
}

// NewOracle returns an oracle backed by the given client.
func NewOracle(client *Client) *Oracle {
	return &Oracle{client: client}
}

// IsUnused returns true iff the API reports no confirmed or unconfirmed
// transaction for the address. Any failure to get an answer is returned as an
// error and never folded into the boolean.
func (o *Oracle) IsUnused(ctx context.Context, address string) (bool, error) {
	info, err := o.client.GetAddressInfo(ctx, address)
	if err != nil {
		return false, fmt.Errorf("unable to query activity of %v: %w",
			address, err)
	}

	log.Tracef("Address %v has %d chain and %d mempool txns", address,
		info.ChainStats.TxCount, info.MempoolStats.TxCount)

	return info.TxCount() == 0, nil
}
