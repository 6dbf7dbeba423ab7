package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonathan/grant-matcher/internal/feedback"
	"github.com/jonathan/grant-matcher/internal/gateway"
	"github.com/jonathan/grant-matcher/internal/logging"
	"github.com/jonathan/grant-matcher/internal/matching"
	"github.com/jonathan/grant-matcher/internal/server/ratelimit"
	"github.com/jonathan/grant-matcher/internal/types"
)

// loopbackID is the rate-limit identity used when no client address header is present.
const loopbackID = "127.0.0.1"

// Matcher scores and ranks programs. *matching.Engine implements it.
type Matcher interface {
	Score(ctx context.Context, identity string, req matching.ScoreRequest) (*matching.Match, ratelimit.Info, error)
	ScoreStream(ctx context.Context, identity string, req matching.ScoreRequest) (<-chan matching.Event, ratelimit.Info, error)
	ScoreBatch(ctx context.Context, identity string, req matching.BatchRequest) ([]matching.BatchResult, ratelimit.Info, error)
	Rank(ctx context.Context, identity string, req matching.RankRequest) (*matching.RankResult, ratelimit.Info, error)
}

// FeedbackStore persists feedback records. *db.DB implements it.
type FeedbackStore interface {
	UpsertFeedback(ctx context.Context, r *types.FeedbackRecord) (*types.FeedbackRecord, error)
}

// Recalibrator recomputes the feedback offset on demand.
type Recalibrator interface {
	RunOnce(ctx context.Context) (feedback.Summary, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators the HTTP API is built on.
type Deps struct {
	Matcher      Matcher
	Feedback     FeedbackStore
	Offsets      feedback.OffsetStore
	Recalibrator Recalibrator
	// Limiter admits non-generation routes; generation routes are admitted by the gateway.
	Limiter *ratelimit.Limiter
	// Checks are run by /health, keyed by dependency name.
	Checks   map[string]HealthCheck
	Gatherer prometheus.Gatherer
	Metrics  *Metrics
	Logger   *slog.Logger
}

// Config holds server configuration
type Config struct {
	Port int
	// Routes maps non-generation routes to rate-limit purposes. Nil uses ratelimit.DefaultRoutes.
	Routes          []ratelimit.Route
	ShutdownTimeout time.Duration
	// HealthTimeout bounds each health check.
	HealthTimeout time.Duration
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	deps       Deps
	routes     []ratelimit.Route
	logger     *slog.Logger
	metrics    *Metrics

	shutdownTimeout time.Duration
	healthTimeout   time.Duration
}

// New creates a new server instance
func New(cfg Config, deps Deps) *Server {
	s := &Server{
		deps:            deps,
		routes:          cfg.Routes,
		logger:          deps.Logger,
		metrics:         deps.Metrics,
		shutdownTimeout: cfg.ShutdownTimeout,
		healthTimeout:   cfg.HealthTimeout,
	}
	if s.routes == nil {
		s.routes = ratelimit.DefaultRoutes()
	}
	if s.logger == nil {
		s.logger = logging.New("server")
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	if s.deps.Limiter == nil {
		s.deps.Limiter = ratelimit.NewLimiter(&ratelimit.Config{Enabled: false}, ratelimit.NewMemoryStore(0))
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 30 * time.Second
	}
	if s.healthTimeout <= 0 {
		s.healthTimeout = 2 * time.Second
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.metricsHandler())

	// Generation endpoints
	mux.HandleFunc("POST /match", s.handleMatch)
	mux.HandleFunc("POST /match/stream", s.handleMatchStream)
	mux.HandleFunc("POST /match/batch", s.handleMatchBatch)

	// Retrieval
	mux.HandleFunc("GET /programs/search", s.handleSearchPrograms)

	// Feedback endpoints
	mux.HandleFunc("POST /feedback", s.handleSubmitFeedback)
	mux.HandleFunc("GET /feedback/offset", s.handleGetOffset)
	mux.HandleFunc("POST /feedback/recalibrate", s.handleRecalibrate)

	s.handler = s.withRateLimit(s.withLogging(s.withCORS(mux)))
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // Long timeout for streams and paced batches
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped request handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Expose-Headers", "X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset, Retry-After")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit admits routes listed in the route table. Unlisted routes pass through.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		purpose, limited := ratelimit.MatchRoute(r.URL.Path, r.Method, s.routes)
		if !limited {
			next.ServeHTTP(w, r)
			return
		}

		info := s.deps.Limiter.Allow(r.Context(), purpose, ClientID(r))
		s.setRateLimitHeaders(w, info)
		if !info.Allowed {
			s.rateLimitResponse(w, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging and request metrics
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		s.metrics.observe(r.Method, r.Pattern, rec.status, elapsed)
		s.logger.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", elapsed,
			"client", ClientID(r))
	})
}

// statusRecorder captures the response status. It forwards Flush so SSE keeps working.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wrote {
		r.status = status
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// ClientID extracts the rate-limit identity: the first X-Forwarded-For entry,
// then X-Real-IP, then a loopback placeholder. It is never used for authorization.
func ClientID(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if id := strings.TrimSpace(first); id != "" {
			return id
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return loopbackID
}

// handleHealth pings every dependency
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(s.deps.Checks))
	for name, check := range s.deps.Checks {
		ctx, cancel := context.WithTimeout(r.Context(), s.healthTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("health check failed", "dependency", name, "error", err)
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	s.jsonResponse(w, status, map[string]any{"status": overall, "checks": checks})
}

func (s *Server) metricsHandler() http.Handler {
	if s.deps.Gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("error encoding JSON response", "error", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, code, message string) {
	s.jsonResponse(w, status, map[string]string{"error": code, "message": message})
}

// writeError maps err to its status and code. Rate limit errors get the full 429 body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var limited *gateway.RateLimitError
	if errors.As(err, &limited) {
		s.setRateLimitHeaders(w, limited.Info)
		s.rateLimitResponse(w, limited.Info)
		return
	}

	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	s.errorResponse(w, status, errorCode(err), err.Error())
}

// setRateLimitHeaders sets standard rate limit headers on the response.
// The reset time is an epoch timestamp in milliseconds.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.UnixMilli(), 10))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, info ratelimit.Info) {
	response := map[string]any{
		"error":     codeRateLimited,
		"message":   "Rate limit exceeded. Please try again later.",
		"purpose":   info.Purpose,
		"limit":     info.Limit,
		"remaining": info.Remaining,
	}
	if !info.ResetTime.IsZero() {
		response["reset_at"] = info.ResetTime.Format(time.RFC3339)
	}

	if secs := info.RetryAfterSeconds(); secs > 0 {
		response["retry_after"] = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
