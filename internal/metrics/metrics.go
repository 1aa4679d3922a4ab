// Package metrics exposes refresh-cycle metrics in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cycle outcomes used as label values.
const (
	OutcomePublished = "published"
	OutcomeDisabled  = "disabled"
	OutcomeFailed    = "failed"
)

// Collector records refresh pipeline activity. A nil *Collector is a no-op.
type Collector struct {
	registry *prometheus.Registry

	cycles         *prometheus.CounterVec
	cycleDuration  *prometheus.HistogramVec
	entities       *prometheus.GaugeVec
	skipped        *prometheus.CounterVec
	mirrorFailures *prometheus.CounterVec
	uploads        *prometheus.CounterVec
}

// NewCollector registers the c8yview metrics on a private registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "c8yview_refresh_cycles_total",
				Help: "Refresh cycles completed, by collection and outcome",
			},
			[]string{"collection", "outcome"},
		),
		cycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "c8yview_refresh_duration_seconds",
				Help:    "Time spent in one refresh cycle",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"collection"},
		),
		entities: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "c8yview_cache_entities",
				Help: "Entities in the current cache generation",
			},
			[]string{"collection"},
		),
		skipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "c8yview_records_skipped_total",
				Help: "Remote records skipped because they could not be mapped",
			},
			[]string{"collection"},
		),
		mirrorFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "c8yview_mirror_write_failures_total",
				Help: "Mirror file writes that failed",
			},
			[]string{"collection"},
		),
		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "c8yview_uploads_total",
				Help: "EPL application uploads, by status",
			},
			[]string{"status"},
		),
	}
	c.registry.MustRegister(
		c.cycles,
		c.cycleDuration,
		c.entities,
		c.skipped,
		c.mirrorFailures,
		c.uploads,
		collectors.NewGoCollector(),
	)
	return c
}

// RecordCycle records one completed refresh cycle.
func (c *Collector) RecordCycle(collection, outcome string, entities, skipped, mirrorFailures int, took time.Duration) {
	if c == nil {
		return
	}
	c.cycles.WithLabelValues(collection, outcome).Inc()
	c.cycleDuration.WithLabelValues(collection).Observe(took.Seconds())
	if outcome != OutcomeFailed {
		c.entities.WithLabelValues(collection).Set(float64(entities))
	}
	if skipped > 0 {
		c.skipped.WithLabelValues(collection).Add(float64(skipped))
	}
	if mirrorFailures > 0 {
		c.mirrorFailures.WithLabelValues(collection).Add(float64(mirrorFailures))
	}
}

// RecordUpload records one upload attempt.
func (c *Collector) RecordUpload(err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.uploads.WithLabelValues(status).Inc()
}

// Handler serves the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
