// Package service provides the business logic layer for the adcopy job system.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mymuse-io/adcopy-api/internal/core"
	"github.com/mymuse-io/adcopy-api/internal/data"
	"github.com/mymuse-io/adcopy-api/internal/domain/model"
	apperrors "github.com/mymuse-io/adcopy-api/internal/errors"
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo          core.JobRepository // Required: job repository
	Logger        *slog.Logger       // Optional: structured logger
	TimeProvider  data.TimeProvider  // Optional: injectable clock
	FinishRetries int                // Optional: attempts for Finish persistence (default 3)
	FinishBackoff time.Duration      // Optional: delay between Finish attempts (default 200ms)
}

const (
	defaultFinishRetries = 3
	defaultFinishBackoff = 200 * time.Millisecond
)

// JobService provides business logic for job lifecycle operations.
//
// This service manages:
// - Idempotent job creation
// - Status reads where a missing job is a normal outcome
// - Typed partial updates guarded by the status state machine
// - Terminal finishing with status coercion and bounded persistence retry.
type JobService struct {
	repo          core.JobRepository
	logger        *slog.Logger
	timeProvider  data.TimeProvider
	finishRetries int
	finishBackoff time.Duration
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}

	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}

	retries := opts.FinishRetries
	if retries <= 0 {
		retries = defaultFinishRetries
	}
	backoff := opts.FinishBackoff
	if backoff <= 0 {
		backoff = defaultFinishBackoff
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_service")
	}

	return &JobService{
		repo:          opts.Repo,
		logger:        logger,
		timeProvider:  tp,
		finishRetries: retries,
		finishBackoff: backoff,
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// Create creates a new job in the queued status. Submitting an ID that already
// exists returns the stored row unchanged.
func (s *JobService) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, apperrors.Validation("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid create job request")
	}

	job, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("create job: %w", err))
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "job created",
			"job_id", job.JobID,
			"image_key", job.ImageKey,
			"status", job.Status,
		)
	}

	return job, nil
}

// GetByID returns a job by its ID, or (nil, nil) when no such job exists.
// Polling an unknown or already-cleaned-up job is not an error.
func (s *JobService) GetByID(ctx context.Context, id string) (*model.Job, error) {
	if id == "" {
		return nil, apperrors.ValidationField("job_id", "job id is required")
	}

	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("get job %s: %w", id, err))
	}
	return job, nil
}

// Update applies a typed partial update to a job. Updates against a job in a
// terminal status are no-ops returning the stored row. A missing job yields a
// not found error.
func (s *JobService) Update(ctx context.Context, id string, update model.JobUpdate) (*model.Job, error) {
	if id == "" {
		return nil, apperrors.ValidationField("job_id", "job id is required")
	}
	if err := update.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job update")
	}

	job, err := s.repo.Update(ctx, id, update)
	if err != nil {
		if data.IsInvalidTransition(err) {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "status transition not permitted")
		}
		return nil, apperrors.MapDBError(fmt.Errorf("update job %s: %w", id, err))
	}
	if job == nil {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "job updated", "job_id", id, "status", job.Status)
	}

	return job, nil
}

// Finish moves a job into a terminal status and stores its result. A status
// outside the terminal set is coerced to failed before persisting, so a job
// never ends in a malformed state. Persistence is retried a bounded number of
// times because losing the terminal write would strand the job in processing.
func (s *JobService) Finish(
	ctx context.Context,
	id string,
	status model.JobStatus,
	result json.RawMessage,
) (*model.Job, error) {
	if id == "" {
		return nil, apperrors.ValidationField("job_id", "job id is required")
	}

	terminal := model.CoerceTerminal(status)
	if terminal != status && s.logger != nil {
		s.logger.WarnContext(ctx, "coerced non-terminal finish status to failed",
			"job_id", id,
			"requested_status", status,
		)
	}

	update := model.JobUpdate{Status: &terminal, Result: result}

	var job *model.Job
	var lastErr error
	for attempt := 1; attempt <= s.finishRetries; attempt++ {
		job, lastErr = s.Update(ctx, id, update)
		if lastErr == nil {
			return job, nil
		}
		if !retryableFinishError(lastErr) {
			return nil, lastErr
		}

		if s.logger != nil {
			s.logger.WarnContext(ctx, "finish attempt failed",
				"job_id", id,
				"attempt", attempt,
				"error", lastErr,
			)
		}

		if attempt < s.finishRetries {
			select {
			case <-ctx.Done():
				return nil, apperrors.MapDBError(ctx.Err())
			case <-time.After(s.finishBackoff):
			}
		}
	}

	return nil, apperrors.Wrapf(lastErr, apperrors.ErrCodeStorage,
		"finish job %s after %d attempts", id, s.finishRetries)
}

// retryableFinishError reports whether a Finish failure is worth another
// attempt. Validation and not-found outcomes will not improve on retry.
func retryableFinishError(err error) bool {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeValidation, apperrors.ErrCodeNotFound,
		apperrors.ErrCodeConflict, apperrors.ErrCodeCanceled:
		return false
	default:
		return true
	}
}

// ListByStatus returns jobs in the given status for the admin surface.
func (s *JobService) ListByStatus(
	ctx context.Context,
	status model.JobStatus,
	limit int,
) ([]*model.Job, error) {
	if !status.Valid() {
		return nil, apperrors.ValidationField("status", fmt.Sprintf("invalid job status: %s", status))
	}

	jobs, err := s.repo.ListByStatus(ctx, status, limit)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("list jobs by status %s: %w", status, err))
	}
	return jobs, nil
}

// Stats returns per-status job counts.
func (s *JobService) Stats(ctx context.Context) (*model.JobStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("get job stats: %w", err))
	}
	return stats, nil
}

// Delete removes a job by ID. Returns a not found error when no such job exists.
func (s *JobService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return apperrors.ValidationField("job_id", "job id is required")
	}

	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("delete job %s: %w", id, err))
	}
	if !deleted {
		return apperrors.NotFoundf("job %s not found", id)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "job deleted", "job_id", id)
	}
	return nil
}
