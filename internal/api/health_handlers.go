package api

import (
	"context"
	"net/http"
	"time"

	"log/slog"
)

// HealthChecker is satisfied by each dependency probe in internal/health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandlers provides liveness and readiness endpoints for probes.
// Every checker is optional; an absent dependency reports ok.
type HealthHandlers struct {
	dbChecker      HealthChecker
	redisChecker   HealthChecker
	livekitChecker HealthChecker
}

// HealthHandlersConfig lists the dependencies to probe; nil entries
// are treated as healthy.
type HealthHandlersConfig struct {
	DBChecker      HealthChecker
	RedisChecker   HealthChecker
	LiveKitChecker HealthChecker
}

func NewHealthHandlers(config HealthHandlersConfig) *HealthHandlers {
	return &HealthHandlers{
		dbChecker:      config.DBChecker,
		redisChecker:   config.RedisChecker,
		livekitChecker: config.LiveKitChecker,
	}
}

// HealthResponse is the body of both probe endpoints.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Health handles GET /healthz (liveness probe). Responding at all means the
// process is alive.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Checks:    map[string]string{"runtime": "ok"},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /readyz (readiness probe). Returns 503 when any
// configured dependency fails its check.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	healthy := true
	probe := func(name string, c HealthChecker) {
		if c == nil {
			checks[name] = "ok"
			return
		}
		if err := c.HealthCheck(ctx); err != nil {
			checks[name] = "error"
			healthy = false
			slog.WarnContext(ctx, "readiness check failed", "check", name, "error", err)
			return
		}
		checks[name] = "ok"
	}

	probe("database", h.dbChecker)
	probe("redis", h.redisChecker)
	probe("livekit", h.livekitChecker)

	status := "healthy"
	statusCode := http.StatusOK
	if !healthy {
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	WriteJSON(w, statusCode, HealthResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
