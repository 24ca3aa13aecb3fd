package rasun

import (
	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/lnd/healthcheck"
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

// Subsystem is the logging code of the daemon itself.
const Subsystem = "RASN"

// rasnLog is the logger of the daemon. It writes nowhere until SetupLoggers
// is called.
var rasnLog = build.NewSubLogger(Subsystem, nil)

// SetupLoggers initializes all package-global logger variables.
func SetupLoggers(root *build.SubLoggerManager, interceptor signal.Interceptor) {
	genLogger := genSubLogger(root, interceptor)

	rasnLog = build.NewSubLogger(Subsystem, genLogger)
	SetSubLogger(root, Subsystem, rasnLog)

	AddSubLogger(root, signal.Subsystem, interceptor, signal.UseLogger)
	AddSubLogger(root, addrgen.Subsystem, interceptor, addrgen.UseLogger)
	AddSubLogger(root, esplora.Subsystem, interceptor, esplora.UseLogger)
	AddSubLogger(root, nostrnet.Subsystem, interceptor, nostrnet.UseLogger)
	AddSubLogger(root, recovery.Subsystem, interceptor, recovery.UseLogger)
	AddSubLogger(root, issuer.Subsystem, interceptor, issuer.UseLogger)
	AddSubLogger(root, dispatch.Subsystem, interceptor, dispatch.UseLogger)
	AddSubLogger(
		root, monitoring.Subsystem, interceptor, monitoring.UseLogger,
	)
	AddSubLogger(
		root, healthcheck.Subsystem, interceptor, healthcheck.UseLogger,
	)
}

// AddSubLogger is a helper method to conveniently create and register the
// logger of one or more sub systems.
func AddSubLogger(root *build.SubLoggerManager, subsystem string,
	interceptor signal.Interceptor, useLoggers ...func(btclog.Logger)) {

	// genSubLogger will return a callback for creating a logger instance,
	// which we will give to the root logger.
	genLogger := genSubLogger(root, interceptor)

	// Create and register just a single logger to prevent them from
	// overwriting each other internally.
	logger := build.NewSubLogger(subsystem, genLogger)
	SetSubLogger(root, subsystem, logger, useLoggers...)
}

// SetSubLogger is a helper method to conveniently register the logger of a
// sub system.
func SetSubLogger(root *build.SubLoggerManager, subsystem string,
	logger btclog.Logger, useLoggers ...func(btclog.Logger)) {

	root.RegisterSubLogger(subsystem, logger)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}

// genSubLogger creates a logger for a subsystem. We provide an instance of
// a signal.Interceptor to be able to shutdown in the case of a critical error.
func genSubLogger(root *build.SubLoggerManager,
	interceptor signal.Interceptor) func(string) btclog.Logger {

	// Create a shutdown function which will request shutdown from our
	// interceptor if it is listening.
	shutdown := func() {
		if !interceptor.Listening() {
			return
		}

		interceptor.RequestShutdown()
	}

	// Return a function which will create a sublogger from our root
	// logger without shutdown fn.
	return func(tag string) btclog.Logger {
		return root.GenSubLogger(tag, shutdown)
	}
}
