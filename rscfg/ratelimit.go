package rscfg

import "fmt"

const (
	// DefaultRequestRate is the default number of requests per second a
	// single sender may make in the long run.
	DefaultRequestRate = 0.2

	// DefaultRequestBurst is the default number of requests a sender may
	// make back to back.
	DefaultRequestBurst = 5

	// DefaultLimiterCacheSize is the default number of senders whose rate
	// limit state is tracked.
	DefaultLimiterCacheSize = 10000
)

// RateLimit holds the per-sender request rate limiting options.
//
//nolint:ll
type RateLimit struct {
	Disable bool `long:"disable" description:"Do not rate limit incoming requests."`

	Rate float64 `long:"rate" description:"Sustained number of requests per second allowed for a single sender."`

	Burst int `long:"burst" description:"Number of back to back requests allowed for a single sender."`

	CacheSize uint64 `long:"cachesize" description:"Maximum number of senders tracked by the rate limiter."`
}

// DefaultRateLimitConfig returns the rate limiting options with default
// values.
func DefaultRateLimitConfig() *RateLimit {
	return &RateLimit{
		Rate:      DefaultRequestRate,
		Burst:     DefaultRequestBurst,
		CacheSize: DefaultLimiterCacheSize,
	}
}

// Validate checks the rate limiting options.
//
// NOTE: Part of the Validator interface.
func (r *RateLimit) Validate() error {
	if r.Disable {
		return nil
	}

	switch {
	case r.Rate <= 0:
		return fmt.Errorf("ratelimit.rate must be positive")

	case r.Burst < 1:
		return fmt.Errorf("ratelimit.burst must be at least 1")

	case r.CacheSize == 0:
		return fmt.Errorf("ratelimit.cachesize must be positive")
	}

	return nil
}
