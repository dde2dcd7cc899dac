package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/health"
)

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	checkers []health.Checker
	logger   *slog.Logger
	timeout  time.Duration
}

// NewHealthHandlers creates a new HealthHandlers over the given backend
// checkers.
func NewHealthHandlers(logger *slog.Logger, checkers ...health.Checker) *HealthHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandlers{
		checkers: checkers,
		logger:   logger,
		timeout:  2 * time.Second,
	}
}

// GetHealth handles GET /health. Liveness only; backends are not consulted.
func (h *HealthHandlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// GetReady handles GET /ready. Fails when any backend is unreachable.
func (h *HealthHandlers) GetReady(w http.ResponseWriter, r *http.Request) {
	if err := health.CheckAll(r.Context(), h.timeout, h.checkers...); err != nil {
		h.logger.WarnContext(r.Context(), "readiness check failed", "error", err)
		WriteError(w, r, http.StatusServiceUnavailable, ErrCodeUnavailable, "A required backend is unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
