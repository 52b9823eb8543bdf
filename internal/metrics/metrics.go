// Package metrics exposes migration telemetry to Prometheus:
//
//   - r2mig_items_total: items finished, by outcome
//   - r2mig_item_bytes_total: bytes of items finished, by outcome
//   - r2mig_item_duration_seconds: per-item copy/verify/delete latency
//   - r2mig_store_retries_total: retried store operations, by stage
//   - r2mig_items_in_flight: items currently being transferred
//   - r2mig_receipt_urls_total: receipt_url rows rewritten, by outcome
//   - r2mig_runs_total / r2mig_run_duration_seconds: finished runs, by status
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"r2mig/internal/r2mig"
)

const namespace = "r2mig"

// Recorder implements r2mig.Metrics on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	items        *prometheus.CounterVec
	itemBytes    *prometheus.CounterVec
	itemDuration prometheus.Histogram
	retries      *prometheus.CounterVec
	inFlight     prometheus.Gauge
	urls         *prometheus.CounterVec
	runs         *prometheus.CounterVec
	runDuration  prometheus.Histogram
}

// NewRecorder registers the collectors on a fresh registry, together with
// the Go runtime and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		items: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Receipt objects processed, by outcome",
		}, []string{"outcome"}),
		itemBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_bytes_total",
			Help:      "Bytes of receipt objects processed, by outcome",
		}, []string{"outcome"}),
		itemDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "item_duration_seconds",
			Help:      "Time to copy, verify and delete one object",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Object store operations retried after a transient failure",
		}, []string{"stage"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "items_in_flight",
			Help:      "Objects currently being transferred",
		}),
		urls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipt_urls_total",
			Help:      "receipt_url rows rewritten, by outcome",
		}, []string{"outcome"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Migration runs finished, by final status",
		}, []string{"status"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of finished migration runs",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
}

func (r *Recorder) ItemProcessed(outcome string, bytes int64, elapsed time.Duration) {
	r.items.WithLabelValues(outcome).Inc()
	r.itemBytes.WithLabelValues(outcome).Add(float64(bytes))
	r.itemDuration.Observe(elapsed.Seconds())
}

func (r *Recorder) RetryAttempted(stage string) {
	r.retries.WithLabelValues(stage).Inc()
}

func (r *Recorder) InFlight(n int) {
	r.inFlight.Set(float64(n))
}

func (r *Recorder) URLsUpdated(outcome string, n int) {
	if n > 0 {
		r.urls.WithLabelValues(outcome).Add(float64(n))
	}
}

func (r *Recorder) RunFinished(status string, elapsed time.Duration) {
	r.runs.WithLabelValues(status).Inc()
	r.runDuration.Observe(elapsed.Seconds())
}

// Registry returns the registry the collectors live on.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled. The listener is
// bound before Serve returns so a bad address fails fast.
func (r *Recorder) Serve(ctx context.Context, addr string) (net.Addr, <-chan error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	done := make(chan error, 1)
	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	return ln.Addr(), done, nil
}

var _ r2mig.Metrics = (*Recorder)(nil)
