package handlers

import (
	"context"
	"net/http"
	"time"

	"forumsearch/pkg/common"
	"forumsearch/pkg/utils"

	"go.uber.org/zap"
)

// Pinger is a dependency probed by the readiness check
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	checks  map[string]Pinger
	timeout time.Duration
	logger  *zap.Logger
}

// NewHealthHandler creates a health handler probing checks on /ready
func NewHealthHandler(checks map[string]Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		checks:  checks,
		timeout: 2 * time.Second,
		logger:  logger,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	common.RespondJSON(w, r, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": utils.NowRFC3339(),
	})
}

// Ready handles GET /ready. Any failing dependency makes the instance not
// ready; the search path itself keeps serving through store outages.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	overall := "ready"
	if status != http.StatusOK {
		overall = "not_ready"
	}
	common.RespondJSON(w, r, status, map[string]any{
		"status": overall,
		"checks": results,
	})
}
