package rasun

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/rasun/rasun/addrgen"
	"github.com/rasun/rasun/nostrnet"
	"github.com/stretchr/testify/require"
)

func newTestConfig(t *testing.T) Config {
	t.Helper()

	cfg := DefaultConfig()
	cfg.RasunDir = t.TempDir()

	return cfg
}

// TestValidateConfigDefaults asserts that the defaults form a valid
// configuration.
func TestValidateConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := ValidateConfig(newTestConfig(t))
	require.NoError(t, err)

	require.Equal(t, chaincfg.SigNetParams.Name, cfg.NetParams.Name)
	require.Equal(t, "m/0", cfg.Path.String())
	require.Equal(t, "https://mempool.space/signet/api", cfg.Esplora.URL)
	require.Equal(t, []string{
		"wss://relay.damus.io", "wss://relay.snort.social",
	}, cfg.ResponseRelayURLs)
	require.Equal(t, cfg.ResponseRelayURLs, cfg.RecoveryRelayURLs)
	require.True(t, cfg.Identity.Generated())
	require.Empty(t, cfg.ProxyAddr())

	// Outages never stop the daemon unless asked to.
	require.Zero(t, cfg.HealthChecks.EsploraCheck.Attempts)
	require.Zero(t, cfg.HealthChecks.RelayCheck.Attempts)
}

// TestValidateConfigErrors asserts that bad options are rejected before
// anything is started.
func TestValidateConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		modify    func(*Config)
		expectErr error
		errSubstr string
	}{{
		name: "bad xpub",
		modify: func(c *Config) {
			c.ExtendedPublicKey = "tpubnotakey"
		},
		errSubstr: "extended-public-key",
	}, {
		name: "hardened path",
		modify: func(c *Config) {
			c.DerivationPath = "m/0'/1"
		},
		expectErr: addrgen.ErrHardenedPath,
	}, {
		name: "network mismatch",
		modify: func(c *Config) {
			c.AddressNetwork = "b"
		},
		expectErr: addrgen.ErrNetworkMismatch,
	}, {
		name: "unknown network",
		modify: func(c *Config) {
			c.AddressNetwork = "x"
		},
		errSubstr: "unknown address network",
	}, {
		name: "bad nostr key",
		modify: func(c *Config) {
			c.NostrKey = "nsec1invalid"
		},
		expectErr: nostrnet.ErrInvalidKey,
	}, {
		name: "no response relays",
		modify: func(c *Config) {
			c.ResponseRelays = "   "
		},
		expectErr: nostrnet.ErrNoRelays,
	}, {
		name: "non websocket relay",
		modify: func(c *Config) {
			c.RecoveryRelays = "wss://relay.damus.io " +
				"https://relay.snort.social"
		},
		errSubstr: "not a ws:// or wss:// URL",
	}, {
		name: "regtest without esplora url",
		modify: func(c *Config) {
			c.AddressNetwork = "r"
		},
		errSubstr: "esplora.url must be set",
	}, {
		name: "bad oracle attempts",
		modify: func(c *Config) {
			c.Oracle.Attempts = 0
		},
		errSubstr: "oracle.attempts",
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			cfg := newTestConfig(t)
			test.modify(&cfg)

			_, err := ValidateConfig(cfg)
			require.Error(t, err)

			if test.expectErr != nil {
				require.ErrorIs(t, err, test.expectErr)
			}
			if test.errSubstr != "" {
				require.ErrorContains(t, err, test.errSubstr)
			}
		})
	}
}

// TestValidateConfigRegtest asserts that regtest works with an explicit
// Esplora URL and that the proxy port selects a local SOCKS proxy.
func TestValidateConfigRegtest(t *testing.T) {
	t.Parallel()

	raw := newTestConfig(t)
	raw.AddressNetwork = "r"
	raw.Esplora.URL = "http://127.0.0.1:3002"
	raw.ProxyPort = 9050
	raw.ResponseRelays = "ws://127.0.0.1:7000 ws://127.0.0.1:7000"

	cfg, err := ValidateConfig(raw)
	require.NoError(t, err)

	require.Equal(t, chaincfg.RegressionNetParams.Name, cfg.NetParams.Name)
	require.Equal(t, "http://127.0.0.1:3002", cfg.Esplora.URL)
	require.Equal(t, "127.0.0.1:9050", cfg.ProxyAddr())
	require.NotNil(t, proxyDialer(cfg))
}
