package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
	jobid "github.com/JakeFAU/docsynapse-crawler/internal/id/uuid"
	"github.com/JakeFAU/docsynapse-crawler/internal/metrics"
	"github.com/JakeFAU/docsynapse-crawler/internal/notify"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	defaultTimeout  = 60 * time.Second
)

// Jobs is the job lifecycle surface the handlers drive.
type Jobs interface {
	StartJob(baseURL string, cfg crawler.CrawlConfig) (string, error)
	GetProgress(jobID string) (crawler.ProgressInfo, error)
	GetResult(jobID string) (crawler.CrawlResult, error)
	CancelJob(ctx context.Context, jobID string) bool
	ListJobs(limit, offset int) ([]crawler.JobSummary, int)
}

// Files exposes generated artifacts by job id.
type Files interface {
	Artifact(jobID string) (crawler.Artifact, bool)
	Open(ctx context.Context, jobID string) (io.ReadCloser, crawler.Artifact, error)
	Delete(ctx context.Context, jobID string) error
}

// Notifications accepts websocket observers.
type Notifications interface {
	Serve(ctx context.Context, s notify.Stream, jobID string, onConnect func(notify.Handle))
	Send(ctx context.Context, id notify.Handle, msg notify.Message) bool
	Stats() notify.Stats
}

// Config tunes the HTTP surface.
type Config struct {
	// APIKey enables key checks on /api and /ws routes when non-empty.
	APIKey         string
	RequestTimeout time.Duration
	// Defaults fills fields a start request leaves out.
	Defaults crawler.CrawlConfig
	// Ready reports whether the shared browser is available. Nil means always ready.
	Ready func() bool
}

// Server wires HTTP handlers to the orchestrator, artifacts and notification hub.
type Server struct {
	router chi.Router
	jobs   Jobs
	files  Files
	hub    Notifications
	clock  crawler.Clock
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobs Jobs,
	files Files,
	hub Notifications,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTimeout
	}
	if cfg.Defaults.MaxPages == 0 {
		cfg.Defaults = crawler.DefaultCrawlConfig()
	}
	s := &Server{
		jobs:   jobs,
		files:  files,
		hub:    hub,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/api/v1", func(r chi.Router) {
			r.Use(timeoutMiddleware(cfg.RequestTimeout))
			r.Route("/crawl", func(r chi.Router) {
				r.Post("/start", s.startCrawl)
				r.Get("/status/{job_id}", s.getStatus)
				r.Get("/result/{job_id}", s.getResult)
				r.Post("/cancel/{job_id}", s.cancelCrawl)
				r.Get("/jobs", s.listJobs)
			})
			r.Route("/files", func(r chi.Router) {
				r.Get("/download/{job_id}", s.downloadFile)
				r.Get("/info/{job_id}", s.fileInfo)
				r.Delete("/{job_id}", s.deleteFile)
			})
		})
		// Websocket routes stay outside the timeout handler, which cannot hijack.
		r.Route("/ws", func(r chi.Router) {
			r.Get("/progress", s.progressSocket)
			r.Get("/updates/{job_id}", s.updatesSocket)
			r.Get("/stats", s.socketStats)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Ready != nil && !s.cfg.Ready() {
		writeError(w, http.StatusServiceUnavailable, "browser not available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type startRequest struct {
	URL    string          `json:"url"`
	Config json.RawMessage `json:"config,omitempty"`
}

type startResponse struct {
	JobID     string            `json:"job_id"`
	Status    crawler.JobStatus `json:"status"`
	Message   string            `json:"message"`
	CreatedAt time.Time         `json:"created_at"`
}

func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	cfg := s.cfg.Defaults.Clone()
	if len(req.Config) > 0 && string(req.Config) != "null" {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid config")
			return
		}
	}

	jobID, err := s.jobs.StartJob(req.URL, cfg)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, crawler.ErrInvalidConfig) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	createdAt := s.clock.Now()
	if info, err := s.jobs.GetProgress(jobID); err == nil {
		createdAt = info.StartTime
	}
	writeJSON(w, http.StatusAccepted, startResponse{
		JobID:     jobID,
		Status:    crawler.JobStatusPending,
		Message:   fmt.Sprintf("Crawl job started for %s", req.URL),
		CreatedAt: createdAt,
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	info, err := s.jobs.GetProgress(chi.URLParam(r, "job_id"))
	if err != nil {
		writeLookupError(w, err, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.jobs.GetResult(chi.URLParam(r, "job_id"))
	if err != nil {
		writeLookupError(w, err, "result not found")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) cancelCrawl(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if !s.jobs.CancelJob(r.Context(), jobID) {
		writeError(w, http.StatusNotFound, "job not found or already finished")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Job %s cancelled", jobID),
	})
}

type jobsResponse struct {
	Jobs     []crawler.JobSummary `json:"jobs"`
	Total    int                  `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil || limit < 1 || limit > maxPageSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxPageSize))
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be >= 0")
		return
	}
	jobs, total := s.jobs.ListJobs(limit, offset)
	if jobs == nil {
		jobs = []crawler.JobSummary{}
	}
	writeJSON(w, http.StatusOK, jobsResponse{
		Jobs:     jobs,
		Total:    total,
		Page:     offset/limit + 1,
		PageSize: limit,
	})
}

func (s *Server) downloadFile(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	rc, artifact, err := s.files.Open(r.Context(), jobID)
	if err != nil {
		writeLookupError(w, err, "file not found")
		return
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil {
			s.logger.Debug("close artifact failed", zap.String("job_id", jobID), zap.Error(cerr))
		}
	}()
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Name))
	if artifact.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(artifact.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("stream artifact failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (s *Server) fileInfo(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	artifact, ok := s.files.Artifact(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	info := map[string]any{
		"job_id":     jobID,
		"filename":   artifact.Name,
		"size":       artifact.Size,
		"created_at": artifact.CreatedAt,
	}
	if artifact.Checksum != "" {
		info["sha256"] = artifact.Checksum
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.files.Delete(r.Context(), jobID); err != nil {
		writeLookupError(w, err, "file not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("File for job %s deleted", jobID),
	})
}

func (s *Server) progressSocket(w http.ResponseWriter, r *http.Request) {
	s.serveSocket(w, r, r.URL.Query().Get("job_id"))
}

func (s *Server) updatesSocket(w http.ResponseWriter, r *http.Request) {
	s.serveSocket(w, r, chi.URLParam(r, "job_id"))
}

// serveSocket upgrades the request and blocks until the observer goes away.
func (s *Server) serveSocket(w http.ResponseWriter, r *http.Request, jobID string) {
	conn, err := notify.Upgrade(w, r)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	ctx := context.WithoutCancel(r.Context())
	s.hub.Serve(ctx, conn, jobID, func(h notify.Handle) {
		if jobID == "" {
			return
		}
		info, err := s.jobs.GetProgress(jobID)
		if err != nil {
			return
		}
		s.hub.Send(ctx, h, notify.ProgressUpdate(jobID, info, "connected", s.clock.Now()))
	})
}

func (s *Server) socketStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"websocket_stats": s.hub.Stats(),
		"timestamp":       s.clock.Now(),
	})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = newRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newRequestID() string {
	id, err := jobid.Generator{}.NewRequestID()
	if err != nil {
		return uuid.NewString()
	}
	return id
}

// RequestID returns the id assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", RequestID(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		rw.status = http.StatusSwitchingProtocols
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeLookupError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, crawler.ErrNotFound) {
		writeError(w, http.StatusNotFound, notFound)
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
