package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rasun/rasun/build"
)

const namespace = "rasun"

var (
	// Requests counts incoming requests by kind.
	Requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Number of direct message requests by kind.",
		},
		[]string{"kind"},
	)

	// RateLimited counts requests dropped by the per-sender limiter.
	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_ratelimited_total",
		Help:      "Number of requests dropped by rate limiting.",
	})

	// AddressesIssued counts freshly allocated addresses.
	AddressesIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "addresses_issued_total",
		Help:      "Number of newly derived addresses handed out.",
	})

	// AddressesReused counts requests answered with a prior, unused
	// address.
	AddressesReused = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "addresses_reused_total",
		Help:      "Number of requests answered with a previously " +
			"issued unused address.",
	})

	// OracleErrors counts activity queries that failed.
	OracleErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "oracle_errors_total",
		Help:      "Number of failed address activity queries.",
	})

	// DecryptFailures counts events that could not be opened.
	DecryptFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decrypt_failures_total",
		Help:      "Number of events that failed verification or " +
			"decryption.",
	})

	// RecoveryPublishFailures counts issuance records that could not be
	// written to the recovery relays.
	RecoveryPublishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recovery_publish_failures_total",
		Help:      "Number of issuance records not accepted by any " +
			"recovery relay.",
	})

	// RecoveryRecords is the number of records in the recovery log.
	RecoveryRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "recovery_records",
		Help:      "Number of records in the in-memory recovery log.",
	})

	// NextIndex is the derivation index the next allocation will use.
	NextIndex = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "next_index",
		Help:      "Derivation index of the next address to allocate.",
	})

	registry = prometheus.NewRegistry()
)

func init() {
	startTime := time.Now()

	version := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "version",
			Help:      "Version of rasund running.",
		},
		[]string{"version", "commit"},
	)
	version.WithLabelValues(build.Version(), build.Commit).Set(1)

	uptime := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime",
			Help:      "Uptime of rasund in seconds.",
		},
		func() float64 {
			return time.Since(startTime).Seconds()
		},
	)

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		),
		version, uptime,
		Requests, RateLimited, AddressesIssued, AddressesReused,
		OracleErrors, DecryptFailures, RecoveryPublishFailures,
		RecoveryRecords, NextIndex,
	)
}

// Registry returns the registry holding every rasund metric.
func Registry() *prometheus.Registry {
	return registry
}
