package observability

import (
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Audit emits a structured audit record for a security-relevant request,
// tagged with the request id so it can be correlated with access logs.
func Audit(r *http.Request, event string, attrs ...any) {
	fields := make([]any, 0, 8+len(attrs))
	fields = append(fields,
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", chimiddleware.GetReqID(r.Context()),
	)
	fields = append(fields, attrs...)
	slog.InfoContext(r.Context(), "audit", fields...)
}
