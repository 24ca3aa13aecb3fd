package rscfg

import (
	"fmt"
	"time"
)

const (
	// DefaultOracleAttempts is the default number of times an activity
	// query is tried before the answer is considered unknown.
	DefaultOracleAttempts = 3

	// DefaultOracleBackoff is the delay before the first retry. It doubles
	// on each following attempt.
	DefaultOracleBackoff = 500 * time.Millisecond
)

// Oracle holds the retry policy for address activity queries.
//
//nolint:ll
type Oracle struct {
	Attempts int `long:"attempts" description:"Number of times an address activity query is tried before giving up."`

	Backoff time.Duration `long:"backoff" description:"Delay before the first retry of an activity query, doubled on every following retry."`
}

// DefaultOracleConfig returns the oracle options with default values.
func DefaultOracleConfig() *Oracle {
	return &Oracle{
		Attempts: DefaultOracleAttempts,
		Backoff:  DefaultOracleBackoff,
	}
}

// Validate checks the oracle options.
//
// NOTE: Part of the Validator interface.
func (o *Oracle) Validate() error {
	if o.Attempts < 1 {
		return fmt.Errorf("oracle.attempts must be at least 1")
	}

	if o.Backoff < 0 {
		return fmt.Errorf("oracle.backoff must not be negative")
	}

	return nil
}
