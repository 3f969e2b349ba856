package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/staffhub/presence/internal/http/middleware"
	"github.com/staffhub/presence/internal/http/response"
	"github.com/staffhub/presence/internal/observability"
	"github.com/staffhub/presence/internal/repository"
	"github.com/staffhub/presence/internal/service"
)

type SessionHandler struct {
	presenceSvc *service.PresenceService
}

func NewSessionHandler(presenceSvc *service.PresenceService) *SessionHandler {
	return &SessionHandler{presenceSvc: presenceSvc}
}

type claimRequest struct {
	DeviceID string `json:"device_id"`
}

func (h *SessionHandler) Claim(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing session")
		return
	}
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "device_id is required")
		return
	}
	if err := h.presenceSvc.ClaimSession(r.Context(), claims.Subject, req.DeviceID); err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "profile not found")
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "session claim failed")
		return
	}
	observability.Audit(r, "session.claimed", "user_id", claims.Subject, "device_id", req.DeviceID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "claimed"})
}

func (h *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing session")
		return
	}
	view, err := h.presenceSvc.CurrentSession(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "profile not found")
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "session lookup failed")
		return
	}
	response.JSON(w, r, http.StatusOK, view)
}
