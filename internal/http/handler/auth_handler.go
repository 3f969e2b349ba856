package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/staffhub/presence/internal/http/middleware"
	"github.com/staffhub/presence/internal/http/response"
	"github.com/staffhub/presence/internal/observability"
	"github.com/staffhub/presence/internal/security"
	"github.com/staffhub/presence/internal/service"
)

type AuthHandler struct {
	authSvc      *service.AuthService
	presenceSvc  *service.PresenceService
	cookieSecure bool
}

func NewAuthHandler(authSvc *service.AuthService, presenceSvc *service.PresenceService, cookieSecure bool) *AuthHandler {
	return &AuthHandler{authSvc: authSvc, presenceSvc: presenceSvc, cookieSecure: cookieSecure}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Token       string `json:"token"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "email and password are required")
		return
	}
	p, token, err := h.authSvc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			observability.Audit(r, "auth.login.rejected", "email", req.Email)
			response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials")
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "login failed")
		return
	}
	security.SetSessionCookie(w, token, h.authSvc.SessionTTL(), h.cookieSecure)
	observability.Audit(r, "auth.login.success", "user_id", p.ID)
	response.JSON(w, r, http.StatusOK, loginResponse{
		UserID:      p.ID,
		DisplayName: p.DisplayName,
		Role:        p.Role,
		Token:       token,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing session")
		return
	}
	if err := h.presenceSvc.GoOffline(r.Context(), claims.Subject); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "logout failed")
		return
	}
	security.ClearSessionCookie(w, h.cookieSecure)
	observability.Audit(r, "auth.logout", "user_id", claims.Subject)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "signed_out"})
}
