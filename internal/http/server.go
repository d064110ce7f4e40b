package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bilancio/internal/core"
	applog "bilancio/internal/log"
	"bilancio/internal/services"
)

type (
	// PassRunner triggers a materialization pass.
	PassRunner interface {
		Run(ctx context.Context) (services.PassResult, error)
	}

	// RuleRepository reads and replaces the rule set.
	RuleRepository interface {
		Load(ctx context.Context) ([]core.RecurrenceRule, error)
		Save(ctx context.Context, rules []core.RecurrenceRule) error
	}

	// MovementFinder looks up the movement of a day.
	MovementFinder interface {
		GetMovementByDate(ctx context.Context, date core.Date) (core.Movement, error)
	}
)

// Deps are the collaborators the API serves.
type Deps struct {
	Runner    PassRunner
	Rules     RuleRepository
	Movements MovementFinder
	// Ping backs /readyz; nil means always ready.
	Ping func(ctx context.Context) error
}

type Server struct {
	http.Server
	deps   Deps
	logger *applog.Logger
}

const maxBodyBytes = 1 << 20

func NewServer(addr string, deps Deps, logger *applog.Logger) *Server {
	if logger == nil {
		logger = applog.Default(applog.ComponentHTTP)
	}
	s := &Server{
		deps:   deps,
		logger: logger.WithComponent(applog.ComponentHTTP),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(applog.Middleware(s.logger, requestID))
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		r.Use(middleware.Timeout(60 * time.Second))

		r.Post("/recurring/run", s.handleRunRecurring)
		r.Get("/rules", s.handleListRules)
		r.Put("/rules", s.handleReplaceRules)
		r.Get("/movements/{date}", s.handleGetMovement)
	})

	s.Server = http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Shutting down HTTP server", applog.FieldOperation, applog.OpShutdown)
	return s.Server.Shutdown(ctx)
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// securityHeaders sets the response headers a JSON API needs.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
