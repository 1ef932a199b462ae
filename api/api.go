// Package api exposes the plugwatch operations over HTTP.
//
// Callers are identified by the X-User-Id header; every read and write is
// scoped to that user. There is no session of our own here — upstream
// infrastructure authenticates the caller, this layer only isolates data.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/plugwatch/credcipher"
	"github.com/hazyhaar/plugwatch/jobs"
	"github.com/hazyhaar/plugwatch/refresh"
	"github.com/hazyhaar/plugwatch/scheduler"
	"github.com/hazyhaar/plugwatch/store"
)

// Service wires the HTTP surface to the stores and engines.
type Service struct {
	st      *store.Store
	orch    *refresh.Orchestrator
	acquire scheduler.Acquirer
	cipher  *credcipher.Cipher
	queue   *jobs.Q
	limiter *rateLimiter
	logger  *slog.Logger
}

// New creates a Service.
func New(st *store.Store, orch *refresh.Orchestrator, acquire scheduler.Acquirer,
	cipher *credcipher.Cipher, queue *jobs.Q, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		st:      st,
		orch:    orch,
		acquire: acquire,
		cipher:  cipher,
		queue:   queue,
		limiter: newRateLimiter(DefaultRateLimits()),
		logger:  logger,
	}
}

// WithRateLimits replaces the default caps.
func (s *Service) WithRateLimits(limits RateLimits) *Service {
	s.limiter = newRateLimiter(limits)
	return s
}

// Router builds the chi router with all endpoints mounted.
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireUser)
		r.Use(s.limiter.middleware)

		r.Post("/accounts", s.handleUpsertAccount)
		r.Post("/accounts/login", s.handleLogin)

		r.Get("/points", s.handleListPoints)
		r.Post("/points", s.handleCreatePoint)
		r.Get("/points/{id}", s.handleGetPoint)
		r.Post("/points/{id}/connectors", s.handleAddConnector)
		r.Post("/points/{id}/refresh", s.handleRefreshPoint)
		r.Post("/points/{id}/info", s.handlePointInfo)

		r.Post("/connectors/{id}/refresh", s.handleRefreshConnector)
		r.Post("/connectors/{id}/info", s.handleConnectorInfo)
		r.Get("/connectors/{id}/history", s.handleHistory)
		r.Post("/connectors/{id}/active", s.handleConnectorActive)

		r.Get("/watchsets", s.handleListWatchSets)
		r.Post("/watchsets", s.handleCreateWatchSet)
		r.Post("/watchsets/{id}/items", s.handleAddWatchItem)
		r.Post("/watchsets/{id}/activate", s.handleWatchSetActive(true))
		r.Post("/watchsets/{id}/deactivate", s.handleWatchSetActive(false))
	})

	return r
}

type ctxKey string

const userKey ctxKey = "user"

// requireUser rejects requests without a caller identity.
func (s *Service) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get("X-User-Id")
		if user == "" {
			http.Error(w, "X-User-Id header required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
