package rasun

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	flags "github.com/jessevdk/go-flags"
	"github.com/rasun/rasun/addrgen"
	"github.com/rasun/rasun/build"
	"github.com/rasun/rasun/nostrnet"
	"github.com/rasun/rasun/rscfg"
	"github.com/rasun/rasun/signal"
)

const (
	defaultLogLevel    = "info"
	defaultLogDirname  = "logs"
	defaultLogFilename = "rasund.log"

	// defaultXpub is a key for test purposes only. Funds sent to its
	// addresses cannot be spent by the operator.
	defaultXpub = "tpubDC6zXTLA5Y96rECsqNbU3JPYVCbn8kSUoh3vqHX1sKRfKP5Sg" +
		"MHN6Cy5txJhDEFsuKUnTQ745sye3PTdSWrSMhoJFwzfq5zGWwSZK5912aK"

	defaultDerivationPath = "m/0"
	defaultAddressNetwork = "s"
	defaultRelays         = "wss://relay.damus.io wss://relay.snort.social"

	// defaultGapLimit is the number of unused addresses the startup scan
	// looks past before it stops.
	defaultGapLimit = 20

	// proxyHost is where the SOCKS proxy selected by --proxy-port runs.
	proxyHost = "127.0.0.1"
)

var (
	// DefaultRasunDir is the default directory where rasund tries to find
	// its configuration file and write its logs.
	DefaultRasunDir = btcutil.AppDataDir("rasun", false)

	// DefaultConfigFile is the default full path of rasund's configuration
	// file.
	DefaultConfigFile = filepath.Join(
		DefaultRasunDir, rscfg.DefaultConfigFilename,
	)

	defaultLogDir = filepath.Join(DefaultRasunDir, defaultLogDirname)
)

// Config defines the configuration options for rasund.
//
// See LoadConfig for further details regarding the configuration
// loading+parsing process.
//
//nolint:ll
type Config struct {
	ShowVersion bool `short:"V" long:"version" description:"Display version information and exit"`

	RasunDir   string `long:"rasundir" description:"The base directory that contains rasund's logs and configuration file"`
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	LogDir     string `long:"logdir" description:"Directory to log output."`
	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	ExtendedPublicKey string `short:"x" long:"extended-public-key" env:"XPUB" description:"The BIP-32 extended public key addresses are derived from. The default is a key for test purposes, funds sent to it cannot be spent."`
	DerivationPath    string `short:"d" long:"derivation-path" env:"DERIVATION_PATH" description:"Derivation path of the addresses relative to the extended public key. Only non-hardened steps are allowed."`
	NostrKey          string `short:"k" long:"nostr-key" env:"NOSTR_KEY" description:"The nostr secret key of the service in hex or nsec form, or RANDOMLY_GENERATED for a new key on every start. Use a single key per wallet, multiple keys hand out colliding addresses."`
	ResponseRelays    string `short:"r" long:"nostr-response-relays" env:"NOSTR_RESPONSE_RELAYS" description:"Space separated relays requests are read from and answered on. Fewer is better."`
	RecoveryRelays    string `short:"c" long:"nostr-recovery-relays" env:"NOSTR_RECOVERY_RELAYS" description:"Space separated relays the issuance log is kept on. More is better."`
	ProxyPort         uint16 `short:"p" long:"proxy-port" env:"PROXY_PORT" description:"Local port of a SOCKS5 proxy all connections are made through, e.g. 9050 for Tor."`
	AddressNetwork    string `short:"n" long:"address-network" env:"ADDR_NETWORK" description:"The network addresses are encoded for: b (bitcoin), s (signet), t (testnet) or r (regtest)."`
	ReqPass           string `long:"reqpass" env:"REQ_PASS" description:"Secret that has to follow every request for it to be served."`

	FirstIndex uint32 `long:"firstindex" description:"The lowest derivation index handed out."`
	GapLimit   uint32 `long:"gaplimit" description:"Number of consecutive unused addresses the startup scan looks past for addresses used outside of rasund. Set to 0 to disable the scan."`

	Esplora *rscfg.Esplora `group:"esplora" namespace:"esplora"`

	Relays *rscfg.Relays `group:"relays" namespace:"relays"`

	Oracle *rscfg.Oracle `group:"oracle" namespace:"oracle"`

	RateLimit *rscfg.RateLimit `group:"ratelimit" namespace:"ratelimit"`

	Prometheus *rscfg.Prometheus `group:"prometheus" namespace:"prometheus"`

	HealthChecks *rscfg.HealthCheckConfig `group:"healthcheck" namespace:"healthcheck"`

	LogConfig *build.LogConfig `group:"logging" namespace:"logging"`

	// NetParams are the parameters of the selected address network.
	NetParams *chaincfg.Params `no-flag:"true"`

	// Path is the parsed derivation path.
	Path addrgen.Path `no-flag:"true"`

	// Identity is the nostr identity of the service.
	Identity *nostrnet.Identity `no-flag:"true"`

	// ResponseRelayURLs and RecoveryRelayURLs are the split relay lists.
	ResponseRelayURLs []string `no-flag:"true"`
	RecoveryRelayURLs []string `no-flag:"true"`

	// LogFile is the rotating log file writer.
	LogFile *build.LogFile `no-flag:"true"`

	// SubLogMgr is the root logger that all the daemon's subloggers are
	// hooked up to.
	SubLogMgr *build.SubLoggerManager `no-flag:"true"`
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		RasunDir:          DefaultRasunDir,
		ConfigFile:        DefaultConfigFile,
		LogDir:            defaultLogDir,
		DebugLevel:        defaultLogLevel,
		ExtendedPublicKey: defaultXpub,
		DerivationPath:    defaultDerivationPath,
		NostrKey:          nostrnet.RandomKey,
		ResponseRelays:    defaultRelays,
		RecoveryRelays:    defaultRelays,
		AddressNetwork:    defaultAddressNetwork,
		GapLimit:          defaultGapLimit,
		Esplora:           rscfg.DefaultEsploraConfig(),
		Relays:            rscfg.DefaultRelaysConfig(),
		Oracle:            rscfg.DefaultOracleConfig(),
		RateLimit:         rscfg.DefaultRateLimitConfig(),
		Prometheus:        rscfg.DefaultPrometheus(),
		HealthChecks:      rscfg.DefaultHealthCheckConfig(),
		LogConfig:         build.DefaultLogConfig(),
	}
}

// LoadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig(interceptor signal.Interceptor) (*Config, error) {
	// Pre-parse the command line options to pick up an alternative config
	// file.
	preCfg := DefaultConfig()
	if _, err := flags.Parse(&preCfg); err != nil {
		return nil, err
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", build.Version(),
			"commit="+build.Commit)
		os.Exit(0)
	}

	// If the config file path has not been modified by the user, then we'll
	// use the default config file path. However, if the user has modified
	// their rasundir, then we should assume they intend to use the config
	// file within it.
	configFileDir := rscfg.CleanAndExpandPath(preCfg.RasunDir)
	configFilePath := rscfg.CleanAndExpandPath(preCfg.ConfigFile)
	if configFileDir != DefaultRasunDir {
		if configFilePath == DefaultConfigFile {
			configFilePath = filepath.Join(
				configFileDir, rscfg.DefaultConfigFilename,
			)
		}
	}

	// Next, load any additional configuration options from the file.
	var configFileError error
	cfg := preCfg
	if err := flags.IniParse(configFilePath, &cfg); err != nil {
		// If it's a parsing related error, then we'll return
		// immediately, otherwise we can proceed as possibly the config
		// file doesn't exist which is OK.
		var iniErr *flags.IniError
		if errors.As(err, &iniErr) {
			return nil, err
		}

		configFileError = err
	}

	// Finally, parse the remaining command line options again to ensure
	// they take precedence.
	if _, err := flags.Parse(&cfg); err != nil {
		return nil, err
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		subLogMgr := build.NewSubLoggerManager()
		SetupLoggers(subLogMgr, interceptor)

		fmt.Println("Supported subsystems",
			subLogMgr.SupportedSubsystems())
		os.Exit(0)
	}

	// Make sure everything we just loaded makes sense.
	cleanCfg, err := ValidateConfig(cfg)
	if err != nil {
		return nil, err
	}

	if err := cleanCfg.initLogging(interceptor); err != nil {
		return nil, err
	}

	// Warn about missing config file only after all other configuration is
	// done. This prevents the warning on help messages and invalid
	// options. Note this should go directly before the return.
	if configFileError != nil {
		rasnLog.Warnf("%v", configFileError)
	}

	return cleanCfg, nil
}

// ValidateConfig check the given configuration to be sane. This makes sure no
// illegal values or combination of values are set. All file system paths are
// normalized. The cleaned up config is returned on success.
func ValidateConfig(cfg Config) (*Config, error) {
	// If the provided rasun directory is not the default, we'll move the
	// log directory within it.
	rasunDir := rscfg.CleanAndExpandPath(cfg.RasunDir)
	if rasunDir != DefaultRasunDir && cfg.LogDir == defaultLogDir {
		cfg.LogDir = filepath.Join(rasunDir, defaultLogDirname)
	}
	cfg.RasunDir = rasunDir
	cfg.LogDir = rscfg.CleanAndExpandPath(cfg.LogDir)

	params, err := addrgen.NetworkParams(cfg.AddressNetwork)
	if err != nil {
		return nil, err
	}
	cfg.NetParams = params

	cfg.Path, err = addrgen.ParsePath(cfg.DerivationPath)
	if err != nil {
		return nil, fmt.Errorf("invalid derivation-path: %w", err)
	}

	// Derive the first address once so a bad key is reported now and not
	// on the first request.
	deriver, err := addrgen.NewDeriver(
		cfg.ExtendedPublicKey, cfg.Path, cfg.NetParams,
	)
	if err != nil {
		return nil, fmt.Errorf("invalid extended-public-key: %w", err)
	}
	if _, err := deriver.AddressAt(cfg.FirstIndex); err != nil {
		return nil, fmt.Errorf("invalid firstindex: %w", err)
	}

	cfg.Identity, err = nostrnet.ParseIdentity(cfg.NostrKey)
	if err != nil {
		return nil, fmt.Errorf("invalid nostr-key: %w", err)
	}

	cfg.ResponseRelayURLs, err = parseRelayList(cfg.ResponseRelays)
	if err != nil {
		return nil, fmt.Errorf("invalid nostr-response-relays: %w", err)
	}

	cfg.RecoveryRelayURLs, err = parseRelayList(cfg.RecoveryRelays)
	if err != nil {
		return nil, fmt.Errorf("invalid nostr-recovery-relays: %w", err)
	}

	if err := cfg.Esplora.ApplyNetworkDefault(cfg.NetParams); err != nil {
		return nil, err
	}

	// Validate the subconfigs.
	err = rscfg.Validate(
		cfg.Esplora,
		cfg.Relays,
		cfg.Oracle,
		cfg.RateLimit,
		cfg.HealthChecks,
		cfg.LogConfig,
	)
	if err != nil {
		return nil, err
	}

	if cfg.Prometheus.Enable && cfg.Prometheus.Listen == "" {
		return nil, errors.New("prometheus.listen must be set when " +
			"prometheus.enable is set")
	}

	// All good, return the sanitized result.
	return &cfg, nil
}

// initLogging creates the log handlers, hooks up every subsystem logger and
// applies the debug level.
func (c *Config) initLogging(interceptor signal.Interceptor) error {
	c.LogFile = build.NewLogFile()
	c.SubLogMgr = build.NewSubLoggerManager(
		build.NewDefaultLogHandlers(c.LogConfig, c.LogFile)...,
	)

	// Initialize logging at the default logging level.
	SetupLoggers(c.SubLogMgr, interceptor)

	if !c.LogConfig.File.Disable {
		err := c.LogFile.Open(
			c.LogConfig.File, filepath.Join(
				c.LogDir, normalizeNetwork(c.NetParams.Name),
			), defaultLogFilename,
		)
		if err != nil {
			return fmt.Errorf("log rotation setup failed: %w", err)
		}
	}

	// Parse, validate, and set debug log level(s).
	err := build.ParseAndSetDebugLevels(c.DebugLevel, c.SubLogMgr)
	if err != nil {
		return fmt.Errorf("invalid debuglevel: %w", err)
	}

	return nil
}

// ProxyAddr returns the address of the configured SOCKS proxy, or the empty
// string if none is set.
func (c *Config) ProxyAddr() string {
	if c.ProxyPort == 0 {
		return ""
	}

	return fmt.Sprintf("%s:%d", proxyHost, c.ProxyPort)
}

// parseRelayList splits a space separated relay list and checks every entry
// is a websocket URL.
func parseRelayList(list string) ([]string, error) {
	relays := strings.Fields(list)
	if len(relays) == 0 {
		return nil, nostrnet.ErrNoRelays
	}

	for _, relay := range relays {
		u, err := url.Parse(relay)
		if err != nil {
			return nil, err
		}

		if u.Scheme != "ws" && u.Scheme != "wss" {
			return nil, fmt.Errorf("relay %q is not a ws:// or "+
				"wss:// URL", relay)
		}

		if u.Host == "" {
			return nil, fmt.Errorf("relay %q has no host", relay)
		}
	}

	return relays, nil
}

// normalizeNetwork returns the common name of a network type used to create
// file paths.
func normalizeNetwork(network string) string {
	if network == chaincfg.TestNet3Params.Name {
		return "testnet"
	}

	return network
}
