package addrgen

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

// NetworkParams maps the single letter network selector used on the command
// line to the chain parameters addresses are encoded for.
func NetworkParams(selector string) (*chaincfg.Params, error) {
	switch strings.ToLower(strings.TrimSpace(selector)) {
	case "b", "bitcoin", "mainnet":
		return &chaincfg.MainNetParams, nil

	case "s", "signet":
		return &chaincfg.SigNetParams, nil

	case "t", "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil

	case "r", "regtest":
		return &chaincfg.RegressionNetParams, nil

	default:
		return nil, fmt.Errorf("unknown address network %q, use "+
			"b (bitcoin), s (signet), t (testnet) or r (regtest)",
			selector)
	}
}
