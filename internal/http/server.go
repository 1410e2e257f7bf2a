package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"movimenti/internal/auth"
	"movimenti/internal/log"
	"movimenti/internal/middleware/ratelimit"
	"movimenti/internal/middleware/security"
	"movimenti/internal/middleware/trace"
)

const defaultMaxJSONBytes = 64 << 10

// Options configures NewServer.
type Options struct {
	Addr           string
	MaxUploadBytes int64
	RateLimit      int // mutations per minute per client, 0 disables
	Verifier       auth.Verifier
	Logger         *log.Logger
}

type Server struct {
	http.Server
	service        Service
	limiter        *ratelimit.Limiter
	tracer         *trace.Middleware
	detector       *security.Detector
	logger         *log.Logger
	maxUploadBytes int64
	maxJSONBytes   int64

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(svc Service, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	verifier := opts.Verifier
	if verifier == nil {
		verifier = auth.AllowAll{}
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}

	s := &Server{
		service:        svc,
		tracer:         trace.NewMiddleware(security.ExtractClientIP, logger),
		detector:       security.NewDetector(logger),
		logger:         logger,
		maxUploadBytes: maxUpload,
		maxJSONBytes:   defaultMaxJSONBytes,
	}
	if opts.RateLimit > 0 {
		s.limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimit})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("POST /api/imports", s.limited(s.handleImport))
	mux.HandleFunc("GET /api/transactions", s.handleListTransactions)
	mux.HandleFunc("POST /api/transactions", s.limited(s.requireSession(s.handleCreateTransaction)))
	mux.HandleFunc("PATCH /api/transactions/{id}", s.limited(s.requireSession(s.handleUpdateTransaction)))
	mux.HandleFunc("DELETE /api/transactions/{id}", s.limited(s.requireSession(s.handleDeleteTransaction)))
	mux.HandleFunc("GET /api/summary", s.handleSummary)

	// Outermost first: trace, detection, logger, headers, auth.
	var handler http.Handler = mux
	handler = auth.Middleware(verifier, logger)(handler)
	handler = security.Headers(security.DefaultHeadersConfig())(handler)
	handler = log.RequestIDMiddleware(trace.RequestIDFromRequest)(handler)
	handler = log.Middleware(logger)(handler)
	handler = s.detector.Middleware(handler)
	handler = s.tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

// limited applies the per-client rate limit when one is configured.
func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return next
	}
	h := s.limiter.Middleware(security.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		s.logger.WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, security.ExtractClientIP(r),
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path)
		TooManyRequestsError().Write(w)
	})(next)
	return h.ServeHTTP
}

// Shutdown gracefully shuts down the server and the limiter cleanup routine.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.limiter != nil {
			s.limiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// Stats reports request counters for diagnostics.
func (s *Server) Stats() (trace.Metrics, ratelimit.Metrics, int64) {
	var rl ratelimit.Metrics
	if s.limiter != nil {
		rl = s.limiter.GetMetrics()
	}
	return s.tracer.GetMetrics(), rl, s.detector.Suspicious()
}
