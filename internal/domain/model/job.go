// Package model defines the core data types and structures used throughout the adcopy job system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the current status of a job.
type JobStatus string

// ExecutionMode represents the job dispatcher execution strategy.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type ExecutionMode string

const (
	// JobStatusQueued indicates a job is waiting to be executed.
	JobStatusQueued JobStatus = "queued"
	// JobStatusProcessing indicates a job is currently being executed.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusDone indicates a job has finished successfully.
	JobStatusDone JobStatus = "done"
	// JobStatusFailed indicates a job has failed to complete.
	JobStatusFailed JobStatus = "failed"
	// JobStatusFailedPrecheck indicates the input artifact was rejected before generation.
	JobStatusFailedPrecheck JobStatus = "failed_precheck"
	// JobStatusLowLegibility indicates the pipeline finished but the output did not meet legibility thresholds.
	JobStatusLowLegibility JobStatus = "low_legibility"

	// ExecutionModeInline runs jobs on a background pool inside the API process.
	ExecutionModeInline ExecutionMode = "inline"
	// ExecutionModeQueued hands jobs to the external broker for out-of-process execution.
	ExecutionModeQueued ExecutionMode = "queued"
)

// UnmarshalText implements encoding.TextUnmarshaler for ExecutionMode to allow env parsing.
func (m *ExecutionMode) UnmarshalText(text []byte) error {
	v := ExecutionMode(strings.ToLower(strings.TrimSpace(string(text))))
	if v.Valid() {
		*m = v
		return nil
	}
	return fmt.Errorf("invalid ExecutionMode: %q", v)
}

// Valid returns true if the ExecutionMode is valid.
func (m ExecutionMode) Valid() bool {
	return m == ExecutionModeInline || m == ExecutionModeQueued
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing,
		JobStatusDone, JobStatusFailed, JobStatusFailedPrecheck, JobStatusLowLegibility:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transition is permitted from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusDone, JobStatusFailed, JobStatusFailedPrecheck, JobStatusLowLegibility:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the status machine permits moving from s to next.
// Status only moves forward: queued → processing → one terminal state.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case JobStatusQueued:
		return next == JobStatusProcessing || next.Terminal()
	case JobStatusProcessing:
		return next.Terminal()
	default:
		return false
	}
}

// CoerceTerminal validates s against the terminal set and coerces anything
// else to failed. Persisting an unknown status would break the always-terminal
// contract, so malformed values degrade to failed instead of erroring.
func CoerceTerminal(s JobStatus) JobStatus {
	if s.Terminal() {
		return s
	}
	return JobStatusFailed
}

// Job represents one asynchronous generation request with an immutable
// identity and a monotonically advancing status.
type Job struct {
	JobID     string          `json:"job_id"     db:"job_id"`
	ImageKey  string          `json:"image_key"  db:"image_key"`
	Status    JobStatus       `json:"status"     db:"status"`
	Params    json.RawMessage `json:"params"     db:"params"`
	Result    json.RawMessage `json:"result"     db:"result"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// CreateJobRequest represents a request to create a new job.
type CreateJobRequest struct {
	JobID    string          `json:"job_id"`
	ImageKey string          `json:"image_key"`
	Params   json.RawMessage `json:"params,omitempty"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if strings.TrimSpace(r.JobID) == "" {
		return errors.New("job id is required")
	}
	if strings.TrimSpace(r.ImageKey) == "" {
		return errors.New("image key is required")
	}
	if len(r.Params) > 0 && !json.Valid(r.Params) {
		return errors.New("params must be valid JSON")
	}
	return nil
}

// JobUpdate is a typed partial update for the mutable job fields.
// Nil fields are left untouched. Enumerating the fields here makes an invalid
// field a compile-time error instead of a silently ignored runtime warning.
type JobUpdate struct {
	Status *JobStatus
	Result json.RawMessage
}

// Empty returns true if the update would not change anything.
func (u JobUpdate) Empty() bool {
	return u.Status == nil && u.Result == nil
}

// Validate checks that the requested update is well formed.
func (u JobUpdate) Validate() error {
	if u.Status != nil && !u.Status.Valid() {
		return fmt.Errorf("invalid job status: %q", *u.Status)
	}
	if u.Result != nil && !json.Valid(u.Result) {
		return errors.New("result must be valid JSON")
	}
	return nil
}

// JobStats represents counts of jobs in each status.
type JobStats struct {
	Queued         int `json:"queued"`
	Processing     int `json:"processing"`
	Done           int `json:"done"`
	Failed         int `json:"failed"`
	FailedPrecheck int `json:"failed_precheck"`
	LowLegibility  int `json:"low_legibility"`
}

// Total returns the total number of jobs across all statuses.
func (s JobStats) Total() int {
	return s.Queued + s.Processing + s.Done + s.Failed + s.FailedPrecheck + s.LowLegibility
}
