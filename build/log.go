package build

import (
	"fmt"
	"os"
	"strings"

	btclogv1 "github.com/btcsuite/btclog"
	"github.com/btcsuite/btclog/v2"
)

// LogType selects where sub loggers created through NewSubLogger write. It is
// fixed at compile time by the stdlog and nolog build tags.
type LogType byte

const (
	// LogTypeNone disables all logging.
	LogTypeNone LogType = iota

	// LogTypeStdOut writes every sub logger straight to stdout. Unit tests
	// are built with it.
	LogTypeStdOut

	// LogTypeDefault hands sub loggers out from the daemon's shared
	// backend, which writes to stdout and the log file.
	LogTypeDefault
)

// String returns a human readable identifier for the logging type.
func (t LogType) String() string {
	switch t {
	case LogTypeNone:
		return "none"
	case LogTypeStdOut:
		return "stdout"
	case LogTypeDefault:
		return "default"
	default:
		return "unknown"
	}
}

// NewSubLogger returns the logger a package starts out with before the daemon
// calls its UseLogger. genSubLogger may be nil, in which case default builds
// stay silent.
func NewSubLogger(subsystem string,
	genSubLogger func(string) btclog.Logger) btclog.Logger {

	switch LoggingType {
	case LogTypeStdOut:
		handler := btclog.NewDefaultHandler(os.Stdout)
		logger := btclog.NewSLogger(handler).SubSystem(subsystem)

		level, _ := btclogv1.LevelFromString(LogLevel)
		logger.SetLevel(level)

		return logger

	case LogTypeDefault:
		if genSubLogger != nil {
			return genSubLogger(subsystem)
		}
	}

	return btclog.Disabled
}

// SubLoggers maps subsystem names to their loggers.
type SubLoggers map[string]btclog.Logger

// LeveledSubLogger is a set of subsystem loggers whose levels can be changed
// one at a time or together.
type LeveledSubLogger interface {
	// SubLoggers returns the registered subsystem loggers.
	SubLoggers() SubLoggers

	// SupportedSubsystems returns the sorted subsystem names.
	SupportedSubsystems() []string

	// SetLogLevel sets the level of a single subsystem.
	SetLogLevel(subsystemID string, logLevel string)

	// SetLogLevels sets the level of every subsystem.
	SetLogLevels(logLevel string)
}

// ParseAndSetDebugLevels applies a --debuglevel value to logger. The value is
// either a bare level for every subsystem, a comma separated list of
// SUBSYS=level pairs, or a bare level followed by such pairs. Nothing is
// changed unless the whole value is valid.
func ParseAndSetDebugLevels(level string, logger LeveledSubLogger) error {
	entries := strings.Split(level, ",")

	global := ""
	if !strings.Contains(entries[0], "=") {
		global = entries[0]
		if !validLogLevel(global) {
			return fmt.Errorf("the specified debug level [%v] is "+
				"invalid", global)
		}
		entries = entries[1:]
	}

	subLoggers := logger.SubLoggers()
	pairs := make([][2]string, 0, len(entries))
	for _, entry := range entries {
		subsystem, subLevel, ok := strings.Cut(entry, "=")
		if !ok || strings.Contains(subLevel, "=") {
			return fmt.Errorf("invalid subsystem/level pair [%v], "+
				"use the format subsystem1=level1,"+
				"subsystem2=level2", entry)
		}

		if _, exists := subLoggers[subsystem]; !exists {
			return fmt.Errorf("the specified subsystem [%v] is "+
				"invalid, supported subsystems are %v",
				subsystem, logger.SupportedSubsystems())
		}

		if !validLogLevel(subLevel) {
			return fmt.Errorf("the specified debug level [%v] is "+
				"invalid", subLevel)
		}

		pairs = append(pairs, [2]string{subsystem, subLevel})
	}

	if global != "" {
		logger.SetLogLevels(global)
	}
	for _, pair := range pairs {
		logger.SetLogLevel(pair[0], pair[1])
	}

	return nil
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical", "off":
		return true
	}

	return false
}
