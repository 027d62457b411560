// Package httpx provides HTTP handlers and utilities for the adcopy job system API.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/mymuse-io/adcopy-api/internal/domain/model"
	apperrors "github.com/mymuse-io/adcopy-api/internal/errors"
	"github.com/mymuse-io/adcopy-api/internal/service"
)

const defaultListLimit = 100

// JobHandlers provides HTTP handlers for job-related operations.
type JobHandlers struct {
	Jobs       *service.JobService
	Cache      *service.CacheService
	Dispatcher *service.Dispatcher
	BaseURL    string
}

type createJobBody struct {
	JobID    string          `json:"job_id"`
	ImageKey string          `json:"image_key"`
	Params   json.RawMessage `json:"params"`
}

type createJobResponse struct {
	Job     *model.Job `json:"job"`
	PollURL string     `json:"poll_url"`
}

// CreateJob accepts a job and routes it into execution. Callers may supply
// their own job_id for idempotent retries; without one a fresh UUID is
// assigned. Resubmitting an existing ID returns the stored job unchanged.
func (h *JobHandlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var body createJobBody
	if !DecodeJSON(w, r, &body) {
		return
	}

	if body.JobID == "" {
		body.JobID = uuid.NewString()
	}

	job, err := h.Jobs.Create(r.Context(), &model.CreateJobRequest{
		JobID:    body.JobID,
		ImageKey: body.ImageKey,
		Params:   body.Params,
	})
	if err != nil {
		WriteAppError(w, err)
		return
	}

	// Only a queued job needs dispatching; an idempotent resubmission of a
	// finished job must not run the pipeline again.
	if job.Status == model.JobStatusQueued {
		if err := h.Dispatcher.Submit(r.Context(), job.JobID); err != nil {
			WriteAppError(w, err)
			return
		}
	}

	WriteJSON(w, http.StatusAccepted, createJobResponse{
		Job:     job,
		PollURL: h.pollURL(job.JobID),
	})
}

// GetJob returns a job by ID. Finished jobs are served from the cache when
// possible; a miss falls through to storage and repopulates the cache.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")},
		)
		return
	}

	if h.Cache != nil {
		if cached, ok := h.Cache.Get(r.Context(), service.JobCacheKey(jobID)); ok {
			WriteJSON(w, http.StatusOK, cached)
			return
		}
	}

	job, err := h.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if job == nil {
		WriteError(
			w,
			ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: errors.New("job not found")},
		)
		return
	}

	// Terminal jobs never change again, so they are safe to cache.
	if h.Cache != nil && job.Status.Terminal() {
		h.Cache.Set(r.Context(), service.JobCacheKey(jobID), job, 0)
	}

	WriteJSON(w, http.StatusOK, job)
}

// ListJobs returns jobs in a given status for the admin surface.
func (h *JobHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := model.JobStatus(r.URL.Query().Get("status"))
	if status == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_query", Err: errors.New("status query parameter is required")},
		)
		return
	}

	limit := parseIntQuery(r, "limit", defaultListLimit)

	jobs, err := h.Jobs.ListByStatus(r.Context(), status, limit)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// Stats returns per-status job counts.
func (h *JobHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Jobs.Stats(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"stats": stats,
		"total": stats.Total(),
	})
}

// DeleteJob removes a job and its cache entry.
func (h *JobHandlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")},
		)
		return
	}

	if err := h.Jobs.Delete(r.Context(), jobID); err != nil {
		WriteAppError(w, err)
		return
	}

	if h.Cache != nil {
		h.Cache.Delete(r.Context(), service.JobCacheKey(jobID))
	}

	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type invalidateCacheBody struct {
	Pattern string `json:"pattern"`
}

// InvalidateCache removes cached job entries matching a pattern. An empty
// pattern invalidates every job entry.
func (h *JobHandlers) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	var body invalidateCacheBody
	if r.ContentLength > 0 && !DecodeJSON(w, r, &body) {
		return
	}

	pattern := strings.TrimSpace(body.Pattern)
	if pattern == "" {
		pattern = service.JobCachePattern()
	}

	if h.Cache == nil {
		WriteError(
			w,
			ErrorParams{
				Code:    http.StatusServiceUnavailable,
				ErrCode: string(apperrors.ErrCodeStorage),
				Err:     errors.New("cache is not configured"),
			},
		)
		return
	}

	deleted := h.Cache.DeletePattern(r.Context(), pattern)
	WriteJSON(w, http.StatusOK, map[string]any{
		"pattern": pattern,
		"deleted": deleted,
	})
}

func (h *JobHandlers) pollURL(jobID string) string {
	base := strings.TrimSuffix(h.BaseURL, "/")
	return base + "/api/jobs/" + jobID
}

// parseIntQuery returns the integer value of a query parameter, or the
// default when absent or malformed.
func parseIntQuery(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
