package rasun

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/healthcheck"
	"github.com/lightningnetwork/lnd/tor"
	"github.com/rasun/rasun/addrgen"
	"github.com/rasun/rasun/build"
	"github.com/rasun/rasun/dispatch"
	"github.com/rasun/rasun/esplora"
	"github.com/rasun/rasun/issuer"
	"github.com/rasun/rasun/monitoring"
	"github.com/rasun/rasun/nostrnet"
	"github.com/rasun/rasun/recovery"
	"github.com/rasun/rasun/signal"
)

// Main is the true entry point for rasund. It returns once a shutdown was
// requested through the interceptor, or with an error if startup failed.
func Main(cfg *Config, interceptor signal.Interceptor) error {
	defer func() {
		rasnLog.Info("Shutdown complete")
		if err := cfg.LogFile.Close(); err != nil {
			rasnLog.Errorf("Could not close log file: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Abort whatever startup step is in progress once a shutdown is
	// requested.
	go func() {
		select {
		case <-interceptor.ShutdownChannel():
			cancel()
		case <-ctx.Done():
		}
	}()

	mkErr := func(format string, args ...interface{}) error {
		rasnLog.Errorf("Shutting down because error in main "+
			"method: "+format, args...)
		return fmt.Errorf(format, args...)
	}

	// Show version at startup.
	rasnLog.Infof("Version: %s commit=%s, build=%s, logging=%s, "+
		"debuglevel=%s", build.Version(), build.Commit,
		build.Deployment, build.LoggingType, cfg.DebugLevel)
	rasnLog.Infof("Active network: %v, derivation path: %v",
		cfg.NetParams.Name, cfg.Path)

	if cfg.Prometheus.Enable {
		exporter := monitoring.NewExporter(cfg.Prometheus)
		if err := exporter.Start(); err != nil {
			return mkErr("unable to start prometheus exporter: %v",
				err)
		}
		defer func() {
			_ = exporter.Stop()
		}()
	}

	dial := proxyDialer(cfg)
	if dial != nil {
		rasnLog.Infof("Connecting through SOCKS proxy %v",
			cfg.ProxyAddr())
	}

	esploraClient := esplora.NewClient(&esplora.ClientConfig{
		URL:            cfg.Esplora.URL,
		RequestTimeout: cfg.Esplora.RequestTimeout,
		MaxRetries:     cfg.Esplora.MaxRetries,
		Dial:           esplora.DialFunc(dial),
	})

	responsePool, err := newPool(cfg, cfg.ResponseRelayURLs, dial)
	if err != nil {
		return mkErr("unable to create response relay pool: %v", err)
	}
	recoveryPool, err := newPool(cfg, cfg.RecoveryRelayURLs, dial)
	if err != nil {
		return mkErr("unable to create recovery relay pool: %v", err)
	}

	// The health monitor is stopped last, once everything it watches is
	// gone.
	monitor := newHealthMonitor(cfg, esploraClient, map[string]*nostrnet.Pool{
		"response": responsePool,
		"recovery": recoveryPool,
	})
	if err := monitor.Start(); err != nil {
		return mkErr("unable to start health monitor: %v", err)
	}
	defer func() {
		_ = monitor.Stop()
	}()

	if err := esploraClient.Start(); err != nil {
		return mkErr("unable to start esplora client: %v", err)
	}
	defer func() {
		_ = esploraClient.Stop()
	}()

	defer func() {
		_ = responsePool.Stop()
		_ = recoveryPool.Stop()
	}()

	// Issuing without the history could hand out an address twice, so
	// the recovery relays are required.
	if err := connectPool(ctx, cfg, recoveryPool); err != nil {
		return mkErr("unable to reach recovery relays: %v", err)
	}

	// The response relays are retried in the background and the request
	// subscription is sent once they are up.
	if err := connectPool(ctx, cfg, responsePool); err != nil {
		rasnLog.Warnf("No response relay reachable yet: %v", err)
	}

	svc, err := newService(
		ctx, cfg, responsePool, recoveryPool,
		esplora.NewOracle(esploraClient), clock.NewDefaultClock(),
	)
	if err != nil {
		return mkErr("unable to create service: %v", err)
	}
	if err := svc.Start(); err != nil {
		return mkErr("unable to start service: %v", err)
	}
	defer func() {
		_ = svc.Stop()
	}()

	printIdentity(cfg)

	// Wait for shutdown signal from either a graceful server stop or from
	// the interrupt handler.
	<-interceptor.ShutdownChannel()

	return nil
}

// printIdentity writes the public key of the service to stdout, and the
// secret key if it was generated on this start.
func printIdentity(cfg *Config) {
	rasnLog.Infof("Serving requests to %v", cfg.Identity.Npub())

	fmt.Printf("rasund npub: %s\n", cfg.Identity.Npub())
	if cfg.Identity.Generated() {
		fmt.Printf("rasund nsec (randomly generated, pass it with "+
			"--nostr-key to keep this identity): %s\n",
			cfg.Identity.Nsec())
	}
}

// proxyDialer returns a dialer going through the configured SOCKS proxy, or
// nil if no proxy is set.
func proxyDialer(cfg *Config) nostrnet.DialFunc {
	socksAddr := cfg.ProxyAddr()
	if socksAddr == "" {
		return nil
	}

	timeout := cfg.Relays.ConnectTimeout

	return func(ctx context.Context, _, addr string) (net.Conn, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		return tor.Dial(addr, socksAddr, false, false, timeout)
	}
}

// newPool creates a relay pool with the configured timing options.
func newPool(cfg *Config, urls []string,
	dial nostrnet.DialFunc) (*nostrnet.Pool, error) {

	return nostrnet.NewPool(&nostrnet.PoolConfig{
		URLs:           urls,
		Dial:           dial,
		ConnectTimeout: cfg.Relays.ConnectTimeout,
		MinBackoff:     cfg.Relays.MinBackoff,
		MaxBackoff:     cfg.Relays.MaxBackoff,
	})
}

// connectPool waits up to the connect timeout for a relay of the pool.
func connectPool(ctx context.Context, cfg *Config, pool *nostrnet.Pool) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Relays.ConnectTimeout)
	defer cancel()

	return pool.Connect(ctx)
}

// newHealthMonitor watches the Esplora API and the relay pools. A check that
// exhausts its attempts requests a shutdown. Both checks are disabled unless
// attempts are configured.
func newHealthMonitor(cfg *Config, esploraClient *esplora.Client,
	pools map[string]*nostrnet.Pool) *healthcheck.Monitor {

	esploraCheck := healthcheck.NewObservation(
		"esplora",
		func() error {
			ctx, cancel := context.WithTimeout(
				context.Background(),
				cfg.HealthChecks.EsploraCheck.Timeout,
			)
			defer cancel()

			if err := esploraClient.IsConnected(ctx); err != nil {
				return err
			}
			rasnLog.Debugf("Esplora API healthy, tip height=%d",
				esploraClient.BestHeight())

			return nil
		},
		cfg.HealthChecks.EsploraCheck.Interval,
		cfg.HealthChecks.EsploraCheck.Timeout,
		cfg.HealthChecks.EsploraCheck.Backoff,
		cfg.HealthChecks.EsploraCheck.Attempts,
	)

	relayCheck := healthcheck.NewObservation(
		"relays",
		func() error {
			return checkPools(pools)
		},
		cfg.HealthChecks.RelayCheck.Interval,
		cfg.HealthChecks.RelayCheck.Timeout,
		cfg.HealthChecks.RelayCheck.Backoff,
		cfg.HealthChecks.RelayCheck.Attempts,
	)

	return healthcheck.NewMonitor(&healthcheck.Config{
		Checks:   []*healthcheck.Observation{esploraCheck, relayCheck},
		Shutdown: rasnLog.Criticalf,
	})
}

// connectedCounter is the part of a relay pool the health check looks at.
type connectedCounter interface {
	ConnectedCount() int
}

// checkPools fails if any pool has no connected relay.
func checkPools[P connectedCounter](pools map[string]P) error {
	var err error
	for name, pool := range pools {
		if pool.ConnectedCount() == 0 {
			err = errors.Join(err, fmt.Errorf("%w: %v relays",
				nostrnet.ErrNoRelayReachable, name))
		}
	}

	return err
}

// service is the request handling core: the recovery log, the allocator and
// the dispatcher.
type service struct {
	issuanceLog *recovery.Log
	allocator   *issuer.Allocator
	dispatcher  *dispatch.Dispatcher
}

// newService replays the recovery history and wires the allocator and the
// dispatcher. The transports carry the response and recovery traffic.
func newService(ctx context.Context, cfg *Config, response,
	recoveryTransport nostrnet.Transport, oracle issuer.ActivityOracle,
	clk clock.Clock) (*service, error) {

	deriver, err := addrgen.NewDeriver(
		cfg.ExtendedPublicKey, cfg.Path, cfg.NetParams,
	)
	if err != nil {
		return nil, err
	}

	store := recovery.NewNetworkStore(
		nostrnet.NewClient(cfg.Identity, recoveryTransport, clk),
		cfg.Relays.FetchTimeout, cfg.Relays.PublishTimeout,
	)

	start := time.Now()
	issuanceLog, err := recovery.Replay(ctx, store)
	if err != nil {
		return nil, err
	}
	rasnLog.Debugf("Recovery history replayed in %v", time.Since(start))

	allocator := issuer.NewAllocator(&issuer.Config{
		Deriver:        deriver,
		Log:            issuanceLog,
		Oracle:         oracle,
		Clock:          clk,
		OracleAttempts: cfg.Oracle.Attempts,
		OracleBackoff:  cfg.Oracle.Backoff,
		OracleTimeout:  cfg.Esplora.RequestTimeout,
		FirstIndex:     cfg.FirstIndex,
		GapLimit:       cfg.GapLimit,
	})

	dispatcher := dispatch.New(&dispatch.Config{
		Messenger:      nostrnet.NewClient(cfg.Identity, response, clk),
		Resolver:       allocator,
		Secret:         cfg.ReqPass,
		Clock:          clk,
		PublishTimeout: cfg.Relays.PublishTimeout,
		RateLimit:      cfg.RateLimit,
	})

	return &service{
		issuanceLog: issuanceLog,
		allocator:   allocator,
		dispatcher:  dispatcher,
	}, nil
}

// Start starts the allocator, then the dispatcher feeding it.
func (s *service) Start() error {
	if err := s.allocator.Start(); err != nil {
		return err
	}

	if err := s.dispatcher.Start(); err != nil {
		_ = s.allocator.Stop()
		return err
	}

	return nil
}

// Stop stops the dispatcher first so no request reaches a stopped
// allocator.
func (s *service) Stop() error {
	if err := s.dispatcher.Stop(); err != nil {
		return err
	}

	return s.allocator.Stop()
}
