// Package server provides the HTTP API over the bid pipeline: pipeline
// views, job capture, alert preferences, notification history and the
// in-app alert stream.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/bidpilot/internal/channels"
	"github.com/jonathan/bidpilot/internal/events"
	"github.com/jonathan/bidpilot/internal/journey"
	"github.com/jonathan/bidpilot/internal/server/ratelimit"
	"github.com/jonathan/bidpilot/internal/types"
)

// CorrelationHeader carries the correlation id in and out of the API
const CorrelationHeader = "X-Correlation-ID"

// Store is the persistence the handlers read directly
type Store interface {
	GetJobByID(ctx context.Context, tenantID, jobID uuid.UUID) (*types.Job, error)
	ListNotificationLogs(ctx context.Context, tenantID, userID uuid.UUID, limit int) ([]types.NotificationLogEntry, error)
}

// Pipeline serves the read-only pipeline projection
type Pipeline interface {
	GetPipeline(ctx context.Context, tenantID uuid.UUID) ([]journey.PipelineEntry, error)
	GetPipelineStats(ctx context.Context, tenantID uuid.UUID) (*journey.PipelineStats, error)
}

// Preferences manages alert preferences and their secrets
type Preferences interface {
	Upsert(ctx context.Context, tenantID, userID uuid.UUID, req types.UpdatePreferenceRequest) (*types.AlertPreference, error)
	View(ctx context.Context, tenantID, userID uuid.UUID) (*types.PreferenceView, error)
	Reveal(ctx context.Context, tenantID, userID uuid.UUID) (*types.PreferenceSecrets, error)
}

// Deps are the components the server routes to. Limiter may be nil.
type Deps struct {
	Store          Store
	Pipeline       Pipeline
	Preferences    Preferences
	Channels       *channels.Registry
	Bus            *events.Bus
	Limiter        *ratelimit.Limiter
	VAPIDPublicKey string
	Logger         *zap.SugaredLogger
}

// Config holds server configuration
type Config struct {
	Port              int
	StreamHeartbeat   time.Duration // interval of keep-alive comments on alert streams
	ShutdownTimeout   time.Duration
	HealthCheckBudget time.Duration // bound on /health/channels
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     chi.Router
	deps       Deps
	cfg        Config
	log        *zap.SugaredLogger
}

// New creates a new server instance
func New(cfg Config, deps Deps) *Server {
	if cfg.StreamHeartbeat <= 0 {
		cfg.StreamHeartbeat = 15 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.HealthCheckBudget <= 0 {
		cfg.HealthCheckBudget = 5 * time.Second
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	s := &Server{
		deps: deps,
		cfg:  cfg,
		log:  log.Named("http"),
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second, // alert streams lift this per request
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.withCorrelation)
	r.Use(s.withLogging)
	r.Use(s.withCORS)
	r.Use(s.withRateLimit)

	r.Get("/health", s.handleHealth)
	r.Get("/health/channels", s.handleChannelHealth)
	r.Get("/push/vapid-public-key", s.handleVAPIDPublicKey)

	r.Route("/tenants/{tenantID}", func(r chi.Router) {
		r.Get("/pipeline", s.handleGetPipeline)
		r.Get("/pipeline/stats", s.handleGetPipelineStats)
		r.Post("/jobs/{jobID}/capture", s.handleCaptureJob)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/preferences", s.handleGetPreferences)
			r.Put("/preferences", s.handlePutPreferences)
			r.Get("/preferences/secrets", s.handleRevealPreferences)
			r.Get("/notifications", s.handleListNotifications)
			r.Get("/alerts/stream", s.handleAlertStream)
		})
	})
	return r
}

// Handler returns the routed handler with all middleware applied
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.httpServer.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("Server starting", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "server error")
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Infow("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "server shutdown failed")
	}
	if s.deps.Limiter != nil {
		s.deps.Limiter.Stop()
	}
	s.log.Infow("Server stopped")
	return nil
}

// withCorrelation adopts the caller's correlation id or mints one, so that
// events published while serving the request carry it
func (s *Server) withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(CorrelationHeader, id)
		next.ServeHTTP(w, r.WithContext(events.WithCorrelationID(r.Context(), id)))
	})
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+CorrelationHeader)
		w.Header().Set("Access-Control-Expose-Headers", CorrelationHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit rejects clients over their endpoint budget with 429
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		allowed, info := s.deps.Limiter.Allow(extractClientID(r), r.URL.Path, r.Method)
		setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, r, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withLogging logs one line per request with its status and duration
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		fields := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
			"correlation_id", events.CorrelationID(r.Context()),
		}
		if ww.Status() >= http.StatusInternalServerError {
			s.log.Warnw("Request failed", fields...)
			return
		}
		s.log.Debugw("Request completed", fields...)
	})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warnw("Error encoding JSON response", "error", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// failure maps err to a status and writes it. Server errors are logged and
// their detail is withheld from the client.
func (s *Server) failure(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Errorw("Request error",
			"method", r.Method,
			"path", r.URL.Path,
			"correlation_id", events.CorrelationID(r.Context()),
			"error", err,
		)
		s.errorResponse(w, status, http.StatusText(status))
		return
	}
	s.errorResponse(w, status, err.Error())
}

// extractClientID extracts the client identifier from the request.
// This uses the IP address from RemoteAddr; forwarded headers are not trusted.
func extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetTime.Unix()))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, r *http.Request, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
	}
	if !info.ResetTime.IsZero() {
		response["reset_at"] = info.ResetTime.Format(time.RFC3339)
	}
	if info.RetryAfter > 0 {
		seconds := int(info.RetryAfter.Seconds() + 0.999)
		response["retry_after"] = seconds
		w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
	}

	s.log.Infow("Rate limit exceeded",
		"client", extractClientID(r),
		"path", r.URL.Path,
		"limit", info.Limit,
	)
	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
