package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/staffhub/presence/internal/health"
	"github.com/staffhub/presence/internal/http/handler"
	"github.com/staffhub/presence/internal/http/middleware"
	"github.com/staffhub/presence/internal/http/response"
	"github.com/staffhub/presence/internal/security"
)

type Dependencies struct {
	AuthHandler      *handler.AuthHandler
	PresenceHandler  *handler.PresenceHandler
	SessionHandler   *handler.SessionHandler
	JWTManager       *security.JWTManager
	CORSOrigins      []string
	AuthRateLimitRPM int
	APIRateLimitRPM  int
	Readiness        *health.ProbeRunner
	EnableOTelHTTP   bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))
	r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute).Middleware())

	authLimiter := middleware.NewRateLimiter(dep.AuthRateLimitRPM, time.Minute).Middleware()
	requireAuth := middleware.AuthMiddleware(dep.JWTManager)
	softAuth := middleware.SoftAuthMiddleware(dep.JWTManager)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(authLimiter).Post("/login", dep.AuthHandler.Login)
			r.With(requireAuth).Post("/logout", dep.AuthHandler.Logout)
		})

		r.Route("/presence", func(r chi.Router) {
			r.With(requireAuth).Post("/heartbeat", dep.PresenceHandler.Heartbeat)
			// Soft auth on purpose: the unload beacon must get an empty 200
			// even when no valid credential made it out of the closing tab.
			r.With(softAuth).Post("/offline", dep.PresenceHandler.Offline)
			r.With(requireAuth).Get("/status/{id}", dep.PresenceHandler.Status)
			r.With(requireAuth).Get("/online", dep.PresenceHandler.Online)
		})

		r.Route("/session", func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/claim", dep.SessionHandler.Claim)
			r.Get("/", dep.SessionHandler.Current)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
