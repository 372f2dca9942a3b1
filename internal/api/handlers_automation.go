// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/novarealms/portal/internal/automation"
	"github.com/novarealms/portal/internal/lifecycle"
)

func (s *Server) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req automation.PasswordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	receipt, err := s.svc.SubmitPasswordReset(r.Context(), userID(r), req)
	if err != nil {
		writeAutomationError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

func (s *Server) handleForceLogin(w http.ResponseWriter, r *http.Request) {
	var req automation.ForceLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	receipt, err := s.svc.SubmitForceLogin(r.Context(), userID(r), req)
	if err != nil {
		writeAutomationError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

func (s *Server) handlePermissionGroup(w http.ResponseWriter, r *http.Request) {
	var req automation.PermissionAdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	receipt, err := s.svc.SubmitPermissionAdjustment(r.Context(), userID(r), req)
	if err != nil {
		writeAutomationError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	var sources []string
	if raw := r.URL.Query().Get("source"); raw != "" {
		for _, src := range strings.Split(raw, ",") {
			if src = strings.TrimSpace(src); src != "" {
				sources = append(sources, src)
			}
		}
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
		limit = parsed
	}

	events, err := s.svc.ListEvents(r.Context(), userID(r), sources, limit)
	if err != nil {
		writeAutomationError(w, err)
		return
	}
	if events == nil {
		events = []*lifecycle.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.svc.GetEvent(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeAutomationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}
