package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"entrypack/internal/platform/middleware"
)

// NewRouter wires the public surface. Everything under the API group is
// authenticated; health and metrics are not.
func NewRouter(
	logger *slog.Logger,
	validator middleware.JWTValidator,
	packs *PackHandler,
	snapshots *SnapshotHandler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(validator, logger))
		packs.Register(r)
		snapshots.Register(r)
	})

	return r
}
