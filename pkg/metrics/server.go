// Package metrics exposes Prometheus metrics for the tracking daemon.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/geoquest/geoquest/pkg/logx"
)

// Server provides Prometheus metrics for geoquestd
type Server struct {
	logger  *logx.Logger
	server  *http.Server
	started time.Time

	samplesRecorded *prometheus.CounterVec
	bufferSize      prometheus.Gauge
	bufferEvictions prometheus.Counter

	reconciliations *prometheus.CounterVec
	discoveries     prometheus.Counter
	notifications   *prometheus.CounterVec

	socialSends      *prometheus.CounterVec
	socialSuppressed prometheus.Counter
	daemonUptime     prometheus.GaugeFunc
}

// NewServer creates a new metrics server
func NewServer(logger *logx.Logger) *Server {
	s := &Server{
		logger:  logger,
		started: time.Now(),
	}

	s.registerMetrics()
	return s
}

// registerMetrics registers all Prometheus metrics
func (s *Server) registerMetrics() {
	s.samplesRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoquest_samples_recorded_total",
			Help: "Total number of location samples recorded",
		},
		[]string{"mode"},
	)

	s.bufferSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "geoquest_buffer_samples",
			Help: "Number of samples currently in the position buffer",
		},
	)

	s.bufferEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "geoquest_buffer_evictions_total",
			Help: "Total number of samples evicted from the position buffer",
		},
	)

	s.reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoquest_reconciliations_total",
			Help: "Total number of discovery reconciliation runs by outcome",
		},
		[]string{"result"},
	)

	s.discoveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "geoquest_discoveries_total",
			Help: "Total number of quizzes discovered",
		},
	)

	s.notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoquest_notifications_total",
			Help: "Total number of notifications by delivery status",
		},
		[]string{"status"},
	)

	s.socialSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoquest_social_sends_total",
			Help: "Total number of social position sends by trigger",
		},
		[]string{"trigger"},
	)

	s.socialSuppressed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "geoquest_social_suppressed_total",
			Help: "Total number of position updates held back as insignificant",
		},
	)

	s.daemonUptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "geoquest_daemon_uptime_seconds",
			Help: "Daemon uptime in seconds",
		},
		func() float64 { return time.Since(s.started).Seconds() },
	)

	prometheus.MustRegister(
		s.samplesRecorded,
		s.bufferSize,
		s.bufferEvictions,
		s.reconciliations,
		s.discoveries,
		s.notifications,
		s.socialSends,
		s.socialSuppressed,
		s.daemonUptime,
	)
}

// Start starts the metrics server
func (s *Server) Start(port int) error {
	s.logger.Info("starting metrics server", "port", port)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.healthHandler)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info("stopping metrics server")

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// healthHandler provides a simple health check endpoint
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","timestamp":"` + time.Now().Format(time.RFC3339) + `"}`))
}

// RecordSample records a delivered location sample
func (s *Server) RecordSample(mode string) {
	s.samplesRecorded.With(prometheus.Labels{"mode": mode}).Inc()
}

// SetBufferSize updates the position buffer size gauge
func (s *Server) SetBufferSize(n int) {
	s.bufferSize.Set(float64(n))
}

// RecordEvictions records n samples dropped by the buffer cap
func (s *Server) RecordEvictions(n int) {
	s.bufferEvictions.Add(float64(n))
}

// RecordReconciliation records a reconciliation run outcome
func (s *Server) RecordReconciliation(result string) {
	s.reconciliations.With(prometheus.Labels{"result": result}).Inc()
}

// RecordDiscoveries records n newly discovered quizzes
func (s *Server) RecordDiscoveries(n int) {
	s.discoveries.Add(float64(n))
}

// RecordNotification records a notification delivery status
func (s *Server) RecordNotification(status string) {
	s.notifications.With(prometheus.Labels{"status": status}).Inc()
}

// RecordSocialSend records a social position send
func (s *Server) RecordSocialSend(trigger string) {
	s.socialSends.With(prometheus.Labels{"trigger": trigger}).Inc()
}

// RecordSocialSuppressed records a position update held back as insignificant
func (s *Server) RecordSocialSuppressed() {
	s.socialSuppressed.Inc()
}
