// Package httpapi exposes the custody service over JSON/HTTP.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ajazfarhad/chainofcustody/custody"
)

type Server struct {
	svc        *custody.Service
	users      Users
	logger     *slog.Logger
	trustProxy bool
	router     chi.Router
}

type Option func(*Server)

// WithTrustProxy takes the client address from X-Forwarded-For or
// X-Real-IP. Enable it only behind a proxy that overwrites those headers;
// otherwise callers choose the IP written to the access log.
func WithTrustProxy(trust bool) Option {
	return func(s *Server) { s.trustProxy = trust }
}

// New builds the router. A nil logger discards request logs.
func New(svc *custody.Service, users Users, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{svc: svc, users: users, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(withRequestID)
	if s.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, r, http.StatusOK, map[string]any{"status": "ok"})
	})

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(s.authenticate)

		api.Get("/me", s.handleMe)

		api.Post("/evidence", s.handleRegister)
		api.Get("/evidence/{id}", s.handleGetEvidence)
		api.Post("/evidence/{id}/transfer", s.handleInitiate)

		api.Get("/custody/pending", s.handlePending)
		api.Post("/custody/transfer/{id}/approve", s.handleApprove)
		api.Post("/custody/transfer/{id}/reject", s.handleReject)
		api.Get("/custody/{evidenceId}/history", s.handleHistory)
		api.Get("/custody/{evidenceId}/verify", s.handleVerify)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", RequestID(r.Context()),
		)
	})
}
