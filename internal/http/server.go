// Package http serves the job submission API, health probes and Prometheus
// metrics.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tunepull/internal/core"
)

// JobService is the orchestrator surface the API exposes.
type JobService interface {
	Submit(link string) (string, error)
	Cancel(jobID string) error
	Status(jobID string) (*core.DownloadJob, error)
	History(limit, offset int) ([]*core.DownloadJob, error)
}

type Server struct {
	config  *core.ServerConfig
	logger  *zap.Logger
	server  *http.Server
	jobs    JobService
	metrics *Metrics
}

type Metrics struct {
	TracksTotal    *prometheus.CounterVec
	JobsTotal      *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	ActiveWorkers  prometheus.Gauge
	DeliveredBytes prometheus.Counter
}

func newMetrics() *Metrics {
	metrics := &Metrics{
		TracksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunepull_tracks_total",
				Help: "Total number of track pipelines by platform and outcome",
			},
			[]string{"platform", "status"},
		),
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunepull_jobs_total",
				Help: "Total number of submitted jobs by platform",
			},
			[]string{"platform"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tunepull_stage_duration_seconds",
				Help:    "Time spent per pipeline stage",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		ActiveWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tunepull_active_workers",
				Help: "Number of track pipelines currently past queued",
			},
		),
		DeliveredBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tunepull_delivered_bytes_total",
				Help: "Total bytes delivered to sinks",
			},
		),
	}

	prometheus.MustRegister(
		metrics.TracksTotal,
		metrics.JobsTotal,
		metrics.StageDuration,
		metrics.ActiveWorkers,
		metrics.DeliveredBytes,
	)
	return metrics
}

func NewServer(config *core.ServerConfig, logger *zap.Logger) *Server {
	s := &Server{
		config:  config,
		logger:  logger,
		metrics: newMetrics(),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "tunepull"})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "service": "tunepull"})
	})
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/api/jobs", s.handleJobs)
	mux.HandleFunc("/api/jobs/", s.handleJob)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// BindJobs attaches the job service. Called once during wiring; the server
// doubles as the orchestrator's metrics recorder, so it exists first.
func (s *Server) BindJobs(jobs JobService) {
	s.jobs = jobs
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// handleJobs serves POST /api/jobs (submit) and GET /api/jobs (history).
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.URL) == "" {
			writeError(w, http.StatusBadRequest, "body must be {\"url\": \"...\"}")
			return
		}
		jobID, err := s.jobs.Submit(strings.TrimSpace(req.URL))
		if err != nil {
			var ue *core.UnsupportedLinkError
			if errors.As(err, &ue) {
				writeError(w, http.StatusUnprocessableEntity, err.Error())
				return
			}
			s.logger.Error("Job submission failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "submission failed")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})

	case http.MethodGet:
		limit := queryInt(r, "limit", 50)
		offset := queryInt(r, "offset", 0)
		list, err := s.jobs.History(limit, offset)
		if err != nil {
			s.logger.Error("History read failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "history read failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": jobSummaries(list)})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleJob serves GET /api/jobs/{id} (status) and DELETE /api/jobs/{id}
// (cancel).
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if jobID == "" || strings.Contains(jobID, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		job, err := s.jobs.Status(jobID)
		if err != nil {
			if errors.Is(err, core.ErrJobNotFound) {
				writeError(w, http.StatusNotFound, "job not found")
				return
			}
			s.logger.Error("Status read failed", zap.String("jobID", jobID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "status read failed")
			return
		}
		writeJSON(w, http.StatusOK, jobView(job))

	case http.MethodDelete:
		if err := s.jobs.Cancel(jobID); err != nil {
			if errors.Is(err, core.ErrJobNotFound) {
				writeError(w, http.StatusNotFound, "job not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "cancel failed")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "canceling"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// API representations. Tracks appear only in single-job views.

type trackJSON struct {
	Index    int      `json:"index"`
	TrackID  string   `json:"track_id"`
	Title    string   `json:"title,omitempty"`
	Artist   string   `json:"artist,omitempty"`
	State    string   `json:"state"`
	Quality  string   `json:"quality,omitempty"`
	Output   string   `json:"output,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Error    string   `json:"error,omitempty"`
	ErrorMsg string   `json:"error_message,omitempty"`
}

type jobJSON struct {
	ID          string      `json:"id"`
	Platform    string      `json:"platform"`
	Kind        string      `json:"kind"`
	SourceURL   string      `json:"source_url"`
	Title       string      `json:"title,omitempty"`
	State       string      `json:"state"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Tracks      []trackJSON `json:"tracks,omitempty"`
}

func jobView(job *core.DownloadJob) jobJSON {
	out := jobSummary(job)
	out.Tracks = make([]trackJSON, len(job.Tracks))
	for i, t := range job.Tracks {
		tj := trackJSON{
			Index:    t.Index,
			TrackID:  t.Ref.ID,
			State:    string(t.State),
			Output:   t.Output,
			Warnings: t.Warnings,
			Error:    t.ErrKind,
			ErrorMsg: t.ErrMsg,
		}
		if t.Meta != nil {
			tj.Title = t.Meta.Title
			tj.Artist = t.Meta.Artist()
		}
		if t.Chosen != nil {
			tj.Quality = t.Chosen.Label
		}
		out.Tracks[i] = tj
	}
	return out
}

func jobSummary(job *core.DownloadJob) jobJSON {
	out := jobJSON{
		ID:        job.ID,
		Platform:  string(job.Link.Platform),
		Kind:      string(job.Link.Kind),
		SourceURL: job.SourceURL,
		Title:     job.Title,
		State:     string(job.State),
		CreatedAt: job.CreatedAt,
	}
	if !job.CompletedAt.IsZero() {
		completed := job.CompletedAt
		out.CompletedAt = &completed
	}
	return out
}

func jobSummaries(jobs []*core.DownloadJob) []jobJSON {
	out := make([]jobJSON, len(jobs))
	for i, job := range jobs {
		out[i] = jobSummary(job)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// MetricsRecorder implementation consumed by the orchestrator.

func (s *Server) RecordTrack(platform core.Platform, status string) {
	s.metrics.TracksTotal.WithLabelValues(string(platform), status).Inc()
}

func (s *Server) RecordStage(stage string, d time.Duration) {
	s.metrics.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (s *Server) SetActiveWorkers(n int) {
	s.metrics.ActiveWorkers.Set(float64(n))
}

func (s *Server) RecordJob(platform core.Platform) {
	s.metrics.JobsTotal.WithLabelValues(string(platform)).Inc()
}

func (s *Server) RecordDeliveredBytes(n int64) {
	s.metrics.DeliveredBytes.Add(float64(n))
}
