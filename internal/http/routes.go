package httpx

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/mymuse-io/adcopy-api/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Jobs       *service.JobService
	Cache      *service.CacheService
	Dispatcher *service.Dispatcher
	DB         *sql.DB
	BaseURL    string
	Logger     *slog.Logger // optional
}

// NewRouter creates and configures a new HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	jobHandlers := &JobHandlers{
		Jobs:       services.Jobs,
		Cache:      services.Cache,
		Dispatcher: services.Dispatcher,
		BaseURL:    services.BaseURL,
	}
	healthHandlers := &HealthHandlers{
		DB:    services.DB,
		Cache: services.Cache,
	}

	mux.HandleFunc("POST /api/jobs", jobHandlers.CreateJob)
	mux.HandleFunc("GET /api/jobs/{id}", jobHandlers.GetJob)

	mux.HandleFunc("GET /api/admin/jobs", jobHandlers.ListJobs)
	mux.HandleFunc("GET /api/admin/jobs/stats", jobHandlers.Stats)
	mux.HandleFunc("DELETE /api/admin/jobs/{id}", jobHandlers.DeleteJob)
	mux.HandleFunc("POST /api/admin/cache/invalidate", jobHandlers.InvalidateCache)

	mux.HandleFunc("GET /healthz", healthHandler)
	mux.HandleFunc("HEAD /healthz", healthHandler)
	mux.HandleFunc("GET /healthz/detailed", healthHandlers.Detailed)

	return mux
}
