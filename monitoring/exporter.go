package monitoring

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rasun/rasun/rscfg"
)

// Exporter serves the metrics over HTTP for Prometheus to scrape.
type Exporter struct {
	cfg *rscfg.Prometheus

	srv      *http.Server
	listener net.Listener

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewExporter creates an exporter for the given configuration.
func NewExporter(cfg *rscfg.Prometheus) *Exporter {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		registry, promhttp.HandlerOpts{},
	))

	return &Exporter{
		cfg: cfg,
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start binds the listen address and serves in the background.
func (e *Exporter) Start() error {
	var err error
	e.startOnce.Do(func() {
		e.listener, err = net.Listen("tcp", e.cfg.Listen)
		if err != nil {
			return
		}

		log.Infof("Prometheus exporter started on %v/metrics",
			e.listener.Addr())

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()

			err := e.srv.Serve(e.listener)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Prometheus exporter failed: %v", err)
			}
		}()
	})

	return err
}

// Addr returns the address the exporter listens on, or nil before Start.
func (e *Exporter) Addr() net.Addr {
	if e.listener == nil {
		return nil
	}

	return e.listener.Addr()
}

// Stop shuts the HTTP server down.
func (e *Exporter) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		if e.listener == nil {
			return
		}

		ctx, cancel := context.WithTimeout(
			context.Background(), 5*time.Second,
		)
		defer cancel()

		err = e.srv.Shutdown(ctx)
		e.wg.Wait()
	})

	return err
}
