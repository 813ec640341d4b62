// Package api serves the territory operations over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/geoflags/territory/internal/metrics"
	"github.com/geoflags/territory/internal/notify"
	"github.com/geoflags/territory/internal/territory"
	"github.com/geoflags/territory/pkg/core"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

// PlayerHeader carries the authenticated player id, set by the gateway in
// front of this service.
const PlayerHeader = "X-Player-ID"

// Config tunes the HTTP layer.
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ActionRate   float64
	ActionBurst  int
}

// Server routes HTTP requests to a territory.Service.
type Server struct {
	cfg      Config
	svc      *territory.Service
	outbox   *notify.Outbox
	metrics  *metrics.Metrics
	limiter  *playerLimiter
	validate *validator.Validate
	log      *slog.Logger
	http     *http.Server
}

// New creates a Server. outbox and m may be nil.
func New(cfg Config, svc *territory.Service, outbox *notify.Outbox, m *metrics.Metrics, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		svc:      svc,
		outbox:   outbox,
		metrics:  m,
		limiter:  newPlayerLimiter(cfg.ActionRate, cfg.ActionBurst, 10*time.Minute),
		validate: newValidator(),
		log:      log,
	}
	s.http = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Get("/health", s.health)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/flags", s.nearby)
		r.Get("/flags/{id}", s.getFlag)
		r.Get("/flags/{id}/outline", s.outline)
		r.Get("/flags/{id}/ledger", s.ledger)
		r.Get("/flags/{id}/reconcile", s.reconcile)
		r.Get("/claims", s.claim)
		r.Get("/players/{id}/groups", s.groups)
		r.Post("/movement/check", s.canMove)
		r.Get("/events", s.drainEvents)

		r.Group(func(r chi.Router) {
			r.Use(s.requirePlayer)
			r.Post("/movement", s.move)
			r.Post("/flags", s.place)

			r.Group(func(r chi.Router) {
				r.Use(s.rateLimit)
				r.Post("/flags/{id}/upgrade", s.upgrade)
				r.Post("/flags/{id}/attack", s.attack)
				r.Post("/flags/{id}/capture", s.capture)
				r.Post("/flags/{id}/collect", s.collect)
				r.Post("/flags/{id}/repair", s.repair)
				r.Post("/flags/{id}/abandon", s.abandon)
			})
		})
	})
	return r
}

// ListenAndServe blocks until the server stops. A graceful Shutdown is not
// reported as an error.
func (s *Server) ListenAndServe() error {
	s.log.Info("API listening", "address", s.cfg.Address)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type ctxKey struct{}

func playerFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (s *Server) requirePlayer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(PlayerHeader)
		if id == "" {
			s.writeError(w, r, core.Errorf(core.KindValidation, "%s header is required", PlayerHeader))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(playerFrom(r.Context())) {
			if s.metrics != nil {
				s.metrics.RateLimited.Inc()
			}
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "too many actions, slow down"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
