// Package metrics exposes the worker's Prometheus series and the
// /metrics + /health endpoint pair.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every series the worker reports.
type Metrics struct {
	registry *prometheus.Registry

	EmailsProcessed    *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	EmailRetries       *prometheus.CounterVec
	SMTPConnections    *prometheus.GaugeVec
	SMTPSendDuration   *prometheus.HistogramVec
	SMTPErrors         *prometheus.CounterVec
	ActiveJobs         prometheus.Gauge
	WorkerStatus       prometheus.Gauge
}

var durationBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// New creates and registers the worker metrics on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		EmailsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailqueue_worker_emails_processed_total",
			Help: "Emails processed by final outcome.",
		}, []string{"app_id", "queue", "status"}),
		ProcessingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mailqueue_worker_email_processing_duration_seconds",
			Help:    "End-to-end send job duration.",
			Buckets: durationBuckets,
		}, []string{"app_id", "queue"}),
		EmailRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailqueue_worker_email_retries_total",
			Help: "Transient failures re-enqueued for retry.",
		}, []string{"app_id", "queue"}),
		SMTPConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mailqueue_worker_smtp_connections_active",
			Help: "Open SMTP connections per relay host.",
		}, []string{"host"}),
		SMTPSendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mailqueue_worker_smtp_send_duration_seconds",
			Help:    "SMTP send duration per relay host.",
			Buckets: durationBuckets,
		}, []string{"host", "status"}),
		SMTPErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailqueue_worker_smtp_errors_total",
			Help: "SMTP errors per relay host and classification.",
		}, []string{"host", "error_type"}),
		ActiveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mailqueue_worker_active_jobs",
			Help: "Jobs currently being processed.",
		}),
		WorkerStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mailqueue_worker_status",
			Help: "1 while the worker is running, 0 once stopped.",
		}),
	}

	registry.MustRegister(
		m.EmailsProcessed,
		m.ProcessingDuration,
		m.EmailRetries,
		m.SMTPConnections,
		m.SMTPSendDuration,
		m.SMTPErrors,
		m.ActiveJobs,
		m.WorkerStatus,
	)
	return m
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server is the dedicated metrics listener.
type Server struct {
	srv *http.Server
}

// NewServer builds the /metrics + /health server on its own port.
func NewServer(port int, m *Metrics) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	return &Server{
		srv: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Start blocks serving until Shutdown.
func (s *Server) Start() error {
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
