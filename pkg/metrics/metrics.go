// Package metrics exposes Prometheus counters, gauges, and histograms for
// the session engine. A nil *Metrics disables collection with zero
// overhead: every method returns early on a nil receiver.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the session engine reports to.
type Metrics struct {
	registry *prometheus.Registry

	sessionsStarted  prometheus.Counter
	sessionsEnded    *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	handlesInUse     prometheus.Gauge
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	bytesTransferred *prometheus.CounterVec
}

// New builds a fresh registry and registers all sftpd collectors on it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return &Metrics{
		registry: reg,
		sessionsStarted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "sftpd_sessions_started_total",
			Help: "Total number of SFTP sessions started.",
		}),
		sessionsEnded: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sftpd_sessions_ended_total",
			Help: "Total number of SFTP sessions ended, labeled by outcome.",
		}, []string{"outcome"}), // "clean", "error"
		activeSessions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "sftpd_active_sessions",
			Help: "Current number of open SFTP sessions.",
		}),
		handlesInUse: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "sftpd_handles_in_use",
			Help: "Current number of allocated file/directory handles across all sessions.",
		}),
		requestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sftpd_requests_total",
			Help: "Total number of SFTP requests processed, labeled by packet type and status.",
		}, []string{"packet_type", "status"}),
		requestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name: "sftpd_request_duration_seconds",
			Help: "Time from request dispatch to response, labeled by packet type.",
			Buckets: []float64{
				0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5,
			},
		}, []string{"packet_type"}),
		bytesTransferred: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sftpd_bytes_transferred_total",
			Help: "Total bytes moved over READ and WRITE requests.",
		}, []string{"direction"}), // "read", "write"
	}
}

// SessionStarted records the start of a new session.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
	m.activeSessions.Inc()
}

// SessionEnded records session teardown. outcome is "clean" or "error".
func (m *Metrics) SessionEnded(outcome string) {
	if m == nil {
		return
	}
	m.sessionsEnded.WithLabelValues(outcome).Inc()
	m.activeSessions.Dec()
}

// IncHandlesInUse reports one more handle allocated, across all sessions
// sharing this Metrics instance.
func (m *Metrics) IncHandlesInUse() {
	if m == nil {
		return
	}
	m.handlesInUse.Inc()
}

// DecHandlesInUse reports one fewer handle allocated.
func (m *Metrics) DecHandlesInUse() {
	if m == nil {
		return
	}
	m.handlesInUse.Dec()
}

// RecordRequest records one dispatched request's outcome and latency.
func (m *Metrics) RecordRequest(packetType string, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(packetType, status).Inc()
	m.requestDuration.WithLabelValues(packetType).Observe(d.Seconds())
}

// RecordBytes records payload bytes moved by a READ ("read") or WRITE
// ("write") request.
func (m *Metrics) RecordBytes(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesTransferred.WithLabelValues(direction).Add(float64(n))
}

// Handler returns the HTTP handler that serves this registry's metrics in
// the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs an HTTP server exposing /metrics on addr until ctx is
// cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
