package rscfg

import (
	"fmt"
	"time"
)

var (
	// MinHealthCheckInterval is the minimum interval we allow between
	// health checks.
	MinHealthCheckInterval = time.Minute

	// MinHealthCheckTimeout is the minimum timeout we allow for health
	// check calls.
	MinHealthCheckTimeout = time.Second

	// MinHealthCheckBackoff is the minimum back off we allow between health
	// check retries.
	MinHealthCheckBackoff = time.Second
)

// HealthCheckConfig contains the configuration for the different health
// checks the daemon runs.
type HealthCheckConfig struct {
	EsploraCheck *CheckConfig `group:"esplora" namespace:"esplora"`

	RelayCheck *CheckConfig `group:"relays" namespace:"relays"`
}

// DefaultHealthCheckConfig returns the health checks with default values.
// Outages of the API or the relays are survived on their own, so the checks
// only run, and shut the daemon down, once attempts are set. That suits
// deployments under a supervisor that restarts the daemon.
func DefaultHealthCheckConfig() *HealthCheckConfig {
	return &HealthCheckConfig{
		EsploraCheck: &CheckConfig{
			Interval: 5 * time.Minute,
			Timeout:  30 * time.Second,
			Backoff:  30 * time.Second,
		},
		RelayCheck: &CheckConfig{
			Interval: 5 * time.Minute,
			Timeout:  5 * time.Second,
			Backoff:  time.Minute,
		},
	}
}

// Validate checks the values configured for our health checks.
//
// NOTE: Part of the Validator interface.
func (h *HealthCheckConfig) Validate() error {
	if err := h.EsploraCheck.validate("esplora"); err != nil {
		return err
	}

	return h.RelayCheck.validate("relays")
}

// CheckConfig is the set of options shared by every health check.
//
//nolint:ll
type CheckConfig struct {
	Interval time.Duration `long:"interval" description:"How often should the health check be performed."`

	Attempts int `long:"attempts" description:"The number of calls we will make for the check before shutting down. 0 disables the check."`

	Timeout time.Duration `long:"timeout" description:"The amount of time we allow the health check to take before failing due to timeout."`

	Backoff time.Duration `long:"backoff" description:"The amount of time to back-off between failed health checks."`
}

// validate checks the values in a health check config entry if it is
// enabled.
func (c *CheckConfig) validate(name string) error {
	if c.Attempts == 0 {
		return nil
	}

	if c.Backoff < MinHealthCheckBackoff {
		return fmt.Errorf("%v backoff: %v below minimum: %v", name,
			c.Backoff, MinHealthCheckBackoff)
	}

	if c.Timeout < MinHealthCheckTimeout {
		return fmt.Errorf("%v timeout: %v below minimum: %v", name,
			c.Timeout, MinHealthCheckTimeout)
	}

	if c.Interval < MinHealthCheckInterval {
		return fmt.Errorf("%v interval: %v below minimum: %v", name,
			c.Interval, MinHealthCheckInterval)
	}

	return nil
}
