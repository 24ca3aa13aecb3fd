package rscfg

import (
	"fmt"
	"time"
)

const (
	// DefaultConnectTimeout is the default time allowed for the websocket
	// handshake with a relay.
	DefaultConnectTimeout = 15 * time.Second

	// DefaultPublishTimeout is the default time to wait for relays to
	// acknowledge a published event.
	DefaultPublishTimeout = 10 * time.Second

	// DefaultFetchTimeout is the default time allowed for fetching the
	// recovery history at startup.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMinReconnectBackoff is the initial delay before reconnecting
	// to a relay that dropped the connection.
	DefaultMinReconnectBackoff = time.Second

	// DefaultMaxReconnectBackoff caps the reconnection delay.
	DefaultMaxReconnectBackoff = 2 * time.Minute
)

// Relays holds the timing options shared by all relay connections.
//
//nolint:ll
type Relays struct {
	ConnectTimeout time.Duration `long:"connecttimeout" description:"Timeout for the websocket handshake with a relay."`

	PublishTimeout time.Duration `long:"publishtimeout" description:"How long to wait for relays to acknowledge a published event."`

	FetchTimeout time.Duration `long:"fetchtimeout" description:"How long to wait for the recovery history at startup."`

	MinBackoff time.Duration `long:"minbackoff" description:"Initial delay before reconnecting to a relay."`

	MaxBackoff time.Duration `long:"maxbackoff" description:"Maximum delay between relay reconnection attempts."`
}

// DefaultRelaysConfig returns the relay options with default values.
func DefaultRelaysConfig() *Relays {
	return &Relays{
		ConnectTimeout: DefaultConnectTimeout,
		PublishTimeout: DefaultPublishTimeout,
		FetchTimeout:   DefaultFetchTimeout,
		MinBackoff:     DefaultMinReconnectBackoff,
		MaxBackoff:     DefaultMaxReconnectBackoff,
	}
}

// Validate checks the relay options.
//
// NOTE: Part of the Validator interface.
func (r *Relays) Validate() error {
	switch {
	case r.ConnectTimeout <= 0:
		return fmt.Errorf("relays.connecttimeout must be positive")

	case r.PublishTimeout <= 0:
		return fmt.Errorf("relays.publishtimeout must be positive")

	case r.FetchTimeout <= 0:
		return fmt.Errorf("relays.fetchtimeout must be positive")

	case r.MinBackoff <= 0:
		return fmt.Errorf("relays.minbackoff must be positive")

	case r.MaxBackoff < r.MinBackoff:
		return fmt.Errorf("relays.maxbackoff must not be below " +
			"relays.minbackoff")
	}

	return nil
}
