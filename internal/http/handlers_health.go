package httpx

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"time"

	"github.com/mymuse-io/adcopy-api/internal/service"
)

const healthResponse = `{"status":"ok"}`

const healthCheckTimeout = 2 * time.Second

// healthHandler returns a simple 200 OK status for readiness/liveness checks.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.WriteString(w, healthResponse); err != nil {
		// Nothing more to do if the client connection is gone.
		return
	}
}

// HealthHandlers provides the detailed health endpoint with dependency checks.
type HealthHandlers struct {
	DB    *sql.DB
	Cache *service.CacheService
}

// Detailed reports the health of the database and the active cache backend.
// Degraded dependencies are reported but do not fail the endpoint; the
// process is still serving.
func (h *HealthHandlers) Detailed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]any{}
	status := "ok"

	dbStatus := "ok"
	if h.DB == nil {
		dbStatus = "not configured"
		status = "degraded"
	} else if err := h.DB.PingContext(ctx); err != nil {
		dbStatus = err.Error()
		status = "degraded"
	}
	checks["database"] = dbStatus

	cacheStatus := map[string]any{}
	if h.Cache == nil {
		cacheStatus["status"] = "not configured"
		status = "degraded"
	} else {
		if err := h.Cache.Health(ctx); err != nil {
			cacheStatus["status"] = err.Error()
			status = "degraded"
		} else {
			cacheStatus["status"] = "ok"
		}
		backend := "shared"
		if h.Cache.UsingLocalFallback() {
			backend = "local"
		}
		cacheStatus["backend"] = backend
	}
	checks["cache"] = cacheStatus

	WriteJSON(w, http.StatusOK, map[string]any{
		"status": status,
		"checks": checks,
	})
}
