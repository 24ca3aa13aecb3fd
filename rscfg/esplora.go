package rscfg

import (
	"fmt"
	"net/url"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
)

const (
	// DefaultEsploraRequestTimeout is the default timeout for HTTP
	// requests to the Esplora API.
	DefaultEsploraRequestTimeout = 30 * time.Second

	// DefaultEsploraMaxRetries is the default number of times to retry
	// a failed request before giving up.
	DefaultEsploraMaxRetries = 3
)

// defaultEsploraURLs maps a network name to the public mempool.space API that
// serves it.
var defaultEsploraURLs = map[string]string{
	chaincfg.MainNetParams.Name:  "https://mempool.space/api",
	chaincfg.SigNetParams.Name:   "https://mempool.space/signet/api",
	chaincfg.TestNet3Params.Name: "https://mempool.space/testnet/api",
}

// Esplora holds the configuration options for the connection to the Esplora
// HTTP API used to check whether an address has seen any activity.
//
//nolint:ll
type Esplora struct {
	// URL is the base URL of the Esplora API to connect to.
	// Examples:
	//   - http://localhost:3002 (local electrs/mempool)
	//   - https://blockstream.info/api (Blockstream mainnet)
	//   - https://mempool.space/signet/api (mempool.space signet)
	URL string `long:"url" description:"The base URL of the Esplora API. Defaults to mempool.space for the selected network; required on regtest."`

	// RequestTimeout is the timeout for HTTP requests sent to the Esplora
	// API.
	RequestTimeout time.Duration `long:"requesttimeout" description:"Timeout for HTTP requests to the Esplora API."`

	// MaxRetries is the maximum number of times to retry a failed request.
	MaxRetries int `long:"maxretries" description:"Maximum number of times to retry a failed request."`
}

// DefaultEsploraConfig returns a new Esplora config with default values
// populated.
func DefaultEsploraConfig() *Esplora {
	return &Esplora{
		RequestTimeout: DefaultEsploraRequestTimeout,
		MaxRetries:     DefaultEsploraMaxRetries,
	}
}

// ApplyNetworkDefault fills in the public API URL for the network if no URL
// was configured. It fails for networks without a public API.
func (e *Esplora) ApplyNetworkDefault(params *chaincfg.Params) error {
	if e.URL != "" {
		return nil
	}

	u, ok := defaultEsploraURLs[params.Name]
	if !ok {
		return fmt.Errorf("esplora.url must be set for network %v",
			params.Name)
	}
	e.URL = u

	return nil
}

// Validate checks the Esplora options.
//
// NOTE: Part of the Validator interface.
func (e *Esplora) Validate() error {
	if e.URL != "" {
		u, err := url.Parse(e.URL)
		if err != nil {
			return fmt.Errorf("invalid esplora.url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("esplora.url must be http or https, "+
				"got %q", e.URL)
		}
	}

	if e.RequestTimeout <= 0 {
		return fmt.Errorf("esplora.requesttimeout must be positive")
	}

	if e.MaxRetries < 0 {
		return fmt.Errorf("esplora.maxretries must not be negative")
	}

	return nil
}
