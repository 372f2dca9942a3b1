// SPDX-License-Identifier: MIT

// Package api provides the HTTP surface of the portal automation daemon.
// Authentication happens upstream at the portal frontend, which forwards
// the authenticated user in X-Portal-User.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/novarealms/portal/internal/api/middleware"
	"github.com/novarealms/portal/internal/automation"
	"github.com/novarealms/portal/internal/config"
)

// HeaderPortalUser carries the authenticated portal user id, set by the
// frontend proxy.
const HeaderPortalUser = "X-Portal-User"

// Server exposes the automation orchestrator over HTTP.
type Server struct {
	svc *automation.Service
	cfg config.AppConfig
}

// NewServer creates the API server around the orchestrator.
func NewServer(svc *automation.Service, cfg config.AppConfig) *Server {
	return &Server{svc: svc, cfg: cfg}
}

// Router builds the chi router with the canonical middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics)
	r.Use(middleware.Logging)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/automation", func(r chi.Router) {
		if s.cfg.RateLimit.Enabled {
			r.Use(middleware.AutomationRateLimit(s.cfg.RateLimit.Requests, s.cfg.RateLimit.Window))
		}
		r.Use(requireUser)

		r.Post("/password-reset", s.handlePasswordReset)
		r.Post("/force-login", s.handleForceLogin)
		r.Post("/permission-group", s.handlePermissionGroup)
		r.Get("/events", s.handleListEvents)
		r.Get("/events/{id}", s.handleGetEvent)
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireUser rejects requests without a forwarded portal user.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderPortalUser) == "" {
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userID(r *http.Request) string {
	return r.Header.Get(HeaderPortalUser)
}
