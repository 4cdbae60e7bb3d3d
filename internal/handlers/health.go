package handlers

import (
	"context"
	"log/slog"
	"net/http"

	pkghttp "github.com/mabini-abc/portal/pkg/http"
)

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Health returns a handler for GET /health
func Health(db HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			logger.ErrorContext(r.Context(), "health check failed", slog.Any("error", err))
			pkghttp.WriteError(w, http.StatusServiceUnavailable, "unavailable", "Database unavailable")
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
