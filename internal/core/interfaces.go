// Package core provides the business logic and service layer for the adcopy job system.
package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mymuse-io/adcopy-api/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// JobRepository defines the interface for job data operations.
type JobRepository interface {
	// Create inserts a new job, or returns the existing row unchanged when the
	// job ID is already present.
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)

	// GetByID returns the job with the given ID, or (nil, nil) when absent.
	GetByID(ctx context.Context, id string) (*model.Job, error)

	// Update applies a partial update to a job. Updates against a job already
	// in a terminal status are no-ops that return the stored row.
	Update(ctx context.Context, id string, update model.JobUpdate) (*model.Job, error)

	// ListByStatus returns jobs in the given status, newest first.
	ListByStatus(ctx context.Context, status model.JobStatus, limit int) ([]*model.Job, error)

	// Stats returns per-status job counts.
	Stats(ctx context.Context) (*model.JobStats, error)

	// Delete removes a job. Returns false if the job did not exist.
	Delete(ctx context.Context, id string) (bool, error)
}

// CacheRepository defines the interface for caching operations.
// Both the shared Redis backend and the in-process fallback implement it.
type CacheRepository interface {
	// Set stores a value in the cache with the given key and TTL.
	// If TTL is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves a value from the cache by key.
	// Returns nil if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key from the cache.
	// Returns true if the key was deleted, false if it didn't exist.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists checks if a key exists in the cache.
	Exists(ctx context.Context, key string) (bool, error)

	// DeletePattern removes all keys matching a glob-style pattern with a
	// single "*" wildcard. Returns the number of keys removed.
	DeletePattern(ctx context.Context, pattern string) (int, error)

	// Clear removes every key from the backend.
	Clear(ctx context.Context) error

	// Health checks the health of the cache connection.
	Health(ctx context.Context) error
}

// PipelineOutcome is the result of one pipeline execution. Status must be a
// terminal status; anything else is coerced to failed when persisted.
type PipelineOutcome struct {
	Status model.JobStatus
	Result json.RawMessage
}

// PipelineExecutor runs the generation pipeline for one job.
type PipelineExecutor interface {
	Run(ctx context.Context, job *model.Job) (*PipelineOutcome, error)
}

// JobQueue hands jobs to the external broker for out-of-process execution.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string) error
}

// CreateJobRequest is re-exported for use in HTTP handlers to avoid direct coupling to the model package.
type CreateJobRequest = model.CreateJobRequest
