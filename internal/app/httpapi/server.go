// Package httpapi exposes the coordinator's worker-facing and operator
// HTTP surface over the scheduler, registry, verification, and release
// services.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/oddurs/prime-coordinator/internal/app/auth"
	"github.com/oddurs/prime-coordinator/internal/app/metrics"
	"github.com/oddurs/prime-coordinator/internal/app/services/costmodel"
	"github.com/oddurs/prime-coordinator/internal/app/services/registry"
	"github.com/oddurs/prime-coordinator/internal/app/services/release"
	"github.com/oddurs/prime-coordinator/internal/app/services/scheduler"
	"github.com/oddurs/prime-coordinator/internal/app/services/verification"
	"github.com/oddurs/prime-coordinator/pkg/logger"
)

// Server wires the coordinator services behind chi's router.
type Server struct {
	scheduler    *scheduler.Service
	registry     *registry.Service
	verification *verification.Service
	costmodel    *costmodel.Service
	release      *release.Service
	log          *logger.Logger

	maxBodyBytes int64
	limiter      *rateLimiter
	tokens       auth.TokenSource
}

// Config configures the surface a Server exposes.
type Config struct {
	MaxRequestBodyBytes int64
	RateLimitPerSecond  float64
	RateLimitBurst      int
	Tokens              auth.TokenSource
}

// New constructs a Server. costmodel may be nil, in which case claimed
// blocks carry no digits hint for cost estimation.
func New(
	sched *scheduler.Service,
	reg *registry.Service,
	verif *verification.Service,
	cost *costmodel.Service,
	rel *release.Service,
	log *logger.Logger,
	cfg Config,
) *Server {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	maxBody := cfg.MaxRequestBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Server{
		scheduler:    sched,
		registry:     reg,
		verification: verif,
		costmodel:    cost,
		release:      rel,
		log:          log,
		maxBodyBytes: maxBody,
		limiter:      newRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		tokens:       cfg.Tokens,
	}
}

// Handler builds the full HTTP handler: routing, rate limiting, body-size
// enforcement, and metrics instrumentation.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/worker/register", s.handleWorkerRegister)
		r.Post("/worker/heartbeat", s.handleWorkerHeartbeat)
		r.Post("/worker/prime", s.handleWorkerPrime)
		r.Post("/worker/deregister", s.handleWorkerDeregister)
		r.Get("/work", s.handleWork)
		r.Post("/work/result", s.handleWorkResult)
	})
	// release/resolve is unauthenticated: a worker must be able to check
	// for updates before it has ever registered.
	r.Get("/release/resolve", s.handleReleaseResolve)

	var handler http.Handler = r
	handler = s.limitBody(handler)
	handler = s.limiter.middleware(handler)
	handler = metrics.InstrumentHandler(handler)
	return handler
}

// limitBody rejects request bodies larger than maxBodyBytes with 413,
// mirroring the worker-facing API's documented body size cap.
func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > s.maxBodyBytes {
			writeError(w, http.StatusRequestEntityTooLarge, errBodyTooLarge)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

type bodyTooLargeError struct{}

func (bodyTooLargeError) Error() string { return "request body exceeds the maximum allowed size" }

var errBodyTooLarge = bodyTooLargeError{}
