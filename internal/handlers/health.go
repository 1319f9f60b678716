// Package handlers exposes the portal managers over a local JSON API: the
// liveness and readiness probes, the session and course registration
// endpoints, the notification endpoints and the admin publish endpoints
// that drive the real-time feed.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ieraasyl/StudentPortal/pkg/utils"
	"github.com/rs/zerolog/log"
)

// readyTimeout bounds a readiness probe.
const readyTimeout = 5 * time.Second

// Pinger is a dependency the readiness probe checks.
// *database.PostgresDB and *database.RedisDB satisfy it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves /health and /ready.
type HealthHandler struct {
	deps map[string]Pinger
}

// NewHealthHandler checks PostgreSQL and Redis on /ready.
//
// Example:
//
//	health := handlers.NewHealthHandler(postgresDB, redisDB)
//	r.Get("/health", health.Health)
//	r.Get("/ready", health.Ready)
func NewHealthHandler(postgres, redis Pinger) *HealthHandler {
	return &HealthHandler{
		deps: map[string]Pinger{
			"postgres": postgres,
			"redis":    redis,
		},
	}
}

// HealthResponse is the body of both probes.
//
// JSON example:
//
//	{
//	  "status": "degraded",
//	  "timestamp": "2024-09-02T08:15:00Z",
//	  "services": {"postgres": "healthy", "redis": "unhealthy"}
//	}
type HealthResponse struct {
	Status    string            `json:"status"`             // "ok" or "degraded"
	Timestamp time.Time         `json:"timestamp"`          // Server time
	Services  map[string]string `json:"services,omitempty"` // Readiness only
}

// Health is the liveness probe. It never touches dependencies.
//
// @Summary      Health check (liveness probe)
// @Description  Returns 200 OK while the process is running. Does not check dependencies.
// @Tags         health
// @Produce      json
// @Success      200  {object}  HealthResponse  "Process is alive"
// @Router       /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithJSON(w, r, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
	})
}

// Ready pings every dependency and answers 503 when any of them fails.
//
// @Summary      Readiness check
// @Description  Pings PostgreSQL and Redis
// @Tags         health
// @Produce      json
// @Success      200  {object}  HealthResponse  "All dependencies healthy"
// @Failure      503  {object}  HealthResponse  "One or more dependencies unhealthy"
// @Router       /ready [get]
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Services:  make(map[string]string, len(h.deps)),
	}
	statusCode := http.StatusOK

	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			log.Error().Err(err).Str("service", name).Msg("Readiness check failed")
			response.Services[name] = "unhealthy"
			response.Status = "degraded"
			statusCode = http.StatusServiceUnavailable
			continue
		}
		response.Services[name] = "healthy"
	}

	utils.RespondWithJSON(w, r, statusCode, response)
}
