package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/staffhub/presence/internal/http/middleware"
	"github.com/staffhub/presence/internal/http/response"
	"github.com/staffhub/presence/internal/observability"
	"github.com/staffhub/presence/internal/repository"
	"github.com/staffhub/presence/internal/service"

	"github.com/go-chi/chi/v5"
)

type PresenceHandler struct {
	presenceSvc *service.PresenceService
}

func NewPresenceHandler(presenceSvc *service.PresenceService) *PresenceHandler {
	return &PresenceHandler{presenceSvc: presenceSvc}
}

func (h *PresenceHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing session")
		return
	}
	if err := h.presenceSvc.Heartbeat(r.Context(), claims.Subject); err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "profile not found")
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "heartbeat failed")
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// Offline is the beacon endpoint. No body required; identity comes from the
// ambient credential only. The response is an empty 200 whether or not an
// identity resolved, so the already-departing client can neither block nor
// learn auth state from it.
func (h *PresenceHandler) Offline(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Empty(w)
		return
	}
	if err := h.presenceSvc.GoOffline(r.Context(), claims.Subject); err != nil {
		slog.WarnContext(r.Context(), "offline beacon clear failed", "user_id", claims.Subject, "error", err)
		response.Empty(w)
		return
	}
	observability.Audit(r, "presence.offline", "user_id", claims.Subject)
	response.Empty(w)
}

func (h *PresenceHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	view, err := h.presenceSvc.Status(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "profile not found")
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "status lookup failed")
		return
	}
	response.JSON(w, r, http.StatusOK, view)
}

func (h *PresenceHandler) Online(w http.ResponseWriter, r *http.Request) {
	views, err := h.presenceSvc.OnlineUsers(r.Context())
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "online listing failed")
		return
	}
	response.JSON(w, r, http.StatusOK, views)
}
