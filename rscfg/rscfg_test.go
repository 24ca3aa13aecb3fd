package rscfg_test

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/rasun/rasun/rscfg"
	"github.com/stretchr/testify/require"
)

// TestDefaultsValidate asserts that every default sub config passes its own
// validation.
func TestDefaultsValidate(t *testing.T) {
	err := rscfg.Validate(
		rscfg.DefaultEsploraConfig(),
		rscfg.DefaultRelaysConfig(),
		rscfg.DefaultOracleConfig(),
		rscfg.DefaultRateLimitConfig(),
		rscfg.DefaultHealthCheckConfig(),
	)
	require.NoError(t, err)
}

// TestValidateSubConfigs asserts that insane values are rejected.
func TestValidateSubConfigs(t *testing.T) {
	tests := []struct {
		name  string
		cfg   rscfg.Validator
		valid bool
	}{
		{
			name: "esplora bad scheme",
			cfg: &rscfg.Esplora{
				URL:            "ftp://example.com",
				RequestTimeout: time.Second,
			},
		},
		{
			name: "esplora zero timeout",
			cfg: &rscfg.Esplora{
				URL: "https://example.com/api",
			},
		},
		{
			name: "esplora ok",
			cfg: &rscfg.Esplora{
				URL:            "http://localhost:3002",
				RequestTimeout: time.Second,
			},
			valid: true,
		},
		{
			name: "oracle no attempts",
			cfg:  &rscfg.Oracle{Attempts: 0},
		},
		{
			name: "relays inverted backoff",
			cfg: &rscfg.Relays{
				ConnectTimeout: time.Second,
				PublishTimeout: time.Second,
				FetchTimeout:   time.Second,
				MinBackoff:     time.Minute,
				MaxBackoff:     time.Second,
			},
		},
		{
			name:  "ratelimit disabled ignores values",
			cfg:   &rscfg.RateLimit{Disable: true},
			valid: true,
		},
		{
			name: "ratelimit zero burst",
			cfg: &rscfg.RateLimit{
				Rate:      1,
				CacheSize: 10,
			},
		},
		{
			name: "healthcheck disabled check",
			cfg: &rscfg.HealthCheckConfig{
				EsploraCheck: &rscfg.CheckConfig{},
				RelayCheck:   &rscfg.CheckConfig{},
			},
			valid: true,
		},
		{
			name: "healthcheck interval too short",
			cfg: &rscfg.HealthCheckConfig{
				EsploraCheck: &rscfg.CheckConfig{
					Attempts: 1,
					Interval: time.Second,
					Timeout:  time.Second,
					Backoff:  time.Second,
				},
				RelayCheck: &rscfg.CheckConfig{},
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.cfg.Validate()
			if test.valid {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

// TestEsploraNetworkDefault asserts that public networks get a default API
// URL while regtest requires an explicit one.
func TestEsploraNetworkDefault(t *testing.T) {
	cfg := rscfg.DefaultEsploraConfig()
	require.NoError(t, cfg.ApplyNetworkDefault(&chaincfg.SigNetParams))
	require.Equal(t, "https://mempool.space/signet/api", cfg.URL)

	cfg = rscfg.DefaultEsploraConfig()
	require.Error(t, cfg.ApplyNetworkDefault(&chaincfg.RegressionNetParams))

	cfg = rscfg.DefaultEsploraConfig()
	cfg.URL = "http://localhost:3002"
	require.NoError(t, cfg.ApplyNetworkDefault(&chaincfg.RegressionNetParams))
	require.Equal(t, "http://localhost:3002", cfg.URL)
}

// TestCleanAndExpandPath asserts that environment variables are expanded.
func TestCleanAndExpandPath(t *testing.T) {
	t.Setenv("RASUN_TEST_DIR", "/tmp/rasun")
	require.Equal(
		t, "/tmp/rasun/logs",
		rscfg.CleanAndExpandPath("$RASUN_TEST_DIR/./logs/"),
	)
	require.Empty(t, rscfg.CleanAndExpandPath(""))
}
