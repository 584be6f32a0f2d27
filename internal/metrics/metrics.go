// Package metrics exposes Prometheus metrics and the health endpoint.
//
// Collectors are package-level and registered via promauto, following the
// md-ingest connector convention:
//   - pm_upstream_requests_total{upstream,status}  — HTTP pool request counts
//   - pm_upstream_request_seconds{upstream}        — request latency histogram
//   - pm_job_last_success_timestamp{job}           — scheduler last-success gauge
//   - pm_job_failures_total{job}                   — job failure counter
//   - pm_ws_connection_state                       — websocket state (see clob.State values)
//   - pm_ws_subscriptions                          — current subscription count
//   - pm_signals_total{type}                       — emitted signal counts
//   - pm_alerts_total{channel,status}              — alert delivery outcomes
//   - pm_parse_dropped_total{upstream}             — records skipped by normalizers
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pm_upstream_requests_total",
			Help: "Upstream HTTP requests by status class",
		},
		[]string{"upstream", "status"},
	)

	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pm_upstream_request_seconds",
			Help:    "Upstream HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"upstream"},
	)

	JobLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pm_job_last_success_timestamp",
			Help: "Unix timestamp of the last successful run per job",
		},
		[]string{"job"},
	)

	JobFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pm_job_failures_total",
			Help: "Job run failures",
		},
		[]string{"job"},
	)

	WSConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pm_ws_connection_state",
			Help: "Websocket consumer state (0=disconnected 1=connecting 2=subscribing 3=live 4=draining)",
		},
	)

	WSSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pm_ws_subscriptions",
			Help: "Number of token subscriptions on the market channel",
		},
	)

	SignalsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pm_signals_total",
			Help: "Signal events emitted by type",
		},
		[]string{"type"},
	)

	AlertDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pm_alerts_total",
			Help: "Alert delivery attempts by channel and status",
		},
		[]string{"channel", "status"},
	)

	ParseDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pm_parse_dropped_total",
			Help: "Upstream records dropped by normalizers",
		},
		[]string{"upstream"},
	)
)

// JobStatusSource supplies per-job run state for the health endpoint.
type JobStatusSource interface {
	JobStatuses() map[string]JobStatus
}

// JobStatus is the health-page view of one job.
type JobStatus struct {
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastFailure *time.Time `json:"last_failure,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// Server serves /metrics and /healthz.
type Server struct {
	server *http.Server
	jobs   JobStatusSource
	logger *slog.Logger
}

// NewServer creates the metrics server on addr.
func NewServer(addr string, jobs JobStatusSource, logger *slog.Logger) *Server {
	s := &Server{jobs: jobs, logger: logger.With("component", "metrics")}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("metrics server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.jobs != nil {
		body["jobs"] = s.jobs.JobStatuses()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("write health response", "error", err)
	}
}
