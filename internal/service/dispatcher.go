package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mymuse-io/adcopy-api/internal/core"
	"github.com/mymuse-io/adcopy-api/internal/domain/model"
	apperrors "github.com/mymuse-io/adcopy-api/internal/errors"
)

// DispatcherOptions groups dependencies for Dispatcher.
type DispatcherOptions struct {
	Jobs     *JobService           // Required: job lifecycle service
	Executor core.PipelineExecutor // Required: runs the generation pipeline
	Queue    core.JobQueue         // Required in queued mode: external broker handoff
	Logger   *slog.Logger          // Optional: structured logger

	Mode        model.ExecutionMode // inline or queued; defaults to inline
	Workers     int                 // inline worker goroutines; defaults to 4
	QueueDepth  int                 // inline work channel capacity; defaults to 64
	ExecTimeout time.Duration       // bound for one pipeline execution; defaults to 5m
}

const (
	defaultDispatchWorkers    = 4
	defaultDispatchQueueDepth = 64
	defaultExecTimeout        = 5 * time.Minute
)

// Dispatcher routes accepted jobs into execution. In inline mode it runs jobs
// on a bounded background pool inside this process, falling back to running
// the job synchronously when the pool cannot take it. In queued mode it hands
// jobs to the external broker and a separate worker drains them.
//
// Whichever path a job takes, a job that reached processing always ends in
// exactly one terminal status.
type Dispatcher struct {
	jobs     *JobService
	executor core.PipelineExecutor
	queue    core.JobQueue
	logger   *slog.Logger

	mode        model.ExecutionMode
	workers     int
	execTimeout time.Duration

	work chan string
	wg   sync.WaitGroup
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobService is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("PipelineExecutor is required")
	}

	mode := opts.Mode
	if !mode.Valid() {
		mode = model.ExecutionModeInline
	}
	if mode == model.ExecutionModeQueued && opts.Queue == nil {
		return nil, errors.New("JobQueue is required in queued mode")
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = defaultDispatchWorkers
	}
	queueDepth := opts.QueueDepth
	if queueDepth <= 0 {
		queueDepth = defaultDispatchQueueDepth
	}
	execTimeout := opts.ExecTimeout
	if execTimeout <= 0 {
		execTimeout = defaultExecTimeout
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "dispatcher")
	} else {
		logger = slog.Default().With("component", "dispatcher")
	}

	return &Dispatcher{
		jobs:        opts.Jobs,
		executor:    opts.Executor,
		queue:       opts.Queue,
		logger:      logger,
		mode:        mode,
		workers:     workers,
		execTimeout: execTimeout,
		work:        make(chan string, queueDepth),
	}, nil
}

// MustNewDispatcher constructs a Dispatcher and panics on error.
func MustNewDispatcher(opts DispatcherOptions) *Dispatcher {
	d, err := NewDispatcher(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create Dispatcher: %v", err))
	}
	return d
}

// Mode returns the configured execution mode.
func (d *Dispatcher) Mode() model.ExecutionMode {
	return d.mode
}

// Run starts the inline worker pool and blocks until the context is
// cancelled and in-flight executions have completed. Buffered jobs the pool
// never started are not executed; they remain queued in storage and their
// count is logged. In queued mode there is nothing to run in this process and
// Run returns once the context ends.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.mode != model.ExecutionModeInline {
		<-ctx.Done()
		return ctx.Err()
	}

	d.logger.InfoContext(ctx, "starting inline dispatcher",
		"workers", d.workers,
		"queue_depth", cap(d.work),
		"exec_timeout", d.execTimeout,
	)

	for range d.workers {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.workerLoop(ctx)
		}()
	}

	<-ctx.Done()
	d.wg.Wait()

	if pending := len(d.work); pending > 0 {
		d.logger.Warn("stopping with unstarted jobs on the inline pool, they remain queued",
			"count", pending,
		)
	}
	return ctx.Err()
}

func (d *Dispatcher) workerLoop(ctx context.Context) {
	for {
		// Cancellation wins over buffered work; a job that was never started
		// stays queued instead of racing the shutdown.
		select {
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case jobID := <-d.work:
			d.Execute(ctx, jobID)
		}
	}
}

// Submit routes an accepted job into execution. Inline mode prefers the
// background pool and runs the job synchronously on the caller's goroutine
// when the pool is saturated, so acceptance never silently drops a job.
// Queued mode hands the job to the broker; a handoff failure is returned to
// the caller because nothing else will run the job.
func (d *Dispatcher) Submit(ctx context.Context, jobID string) error {
	if jobID == "" {
		return apperrors.ValidationField("job_id", "job id is required")
	}

	if d.mode == model.ExecutionModeQueued {
		if err := d.queue.Enqueue(ctx, jobID); err != nil {
			return apperrors.Wrapf(err, apperrors.ErrCodeStorage, "enqueue job %s", jobID)
		}
		d.logger.DebugContext(ctx, "job enqueued", "job_id", jobID)
		return nil
	}

	select {
	case d.work <- jobID:
		d.logger.DebugContext(ctx, "job scheduled on inline pool", "job_id", jobID)
	default:
		d.logger.WarnContext(ctx, "inline pool saturated, running job synchronously", "job_id", jobID)
		d.Execute(ctx, jobID)
	}
	return nil
}

// Execute runs one job end to end: mark it processing, run the pipeline under
// the execution timeout, and finish it with a terminal status. A job that was
// already finished (or deleted) is skipped. Execution never leaves a job in
// processing: any pipeline failure, timeout or shutdown included, finishes it
// as failed.
func (d *Dispatcher) Execute(ctx context.Context, jobID string) {
	// Status writes run on an uncancelled context: cancellation aborts the
	// pipeline call, but the terminal write still has to land or the job
	// would be stranded in processing.
	storeCtx := context.WithoutCancel(ctx)

	processing := model.JobStatusProcessing
	job, err := d.jobs.Update(storeCtx, jobID, model.JobUpdate{Status: &processing})
	if err != nil {
		if apperrors.IsNotFound(err) {
			d.logger.WarnContext(ctx, "job vanished before execution", "job_id", jobID)
		} else {
			d.logger.ErrorContext(ctx, "mark job processing failed", "job_id", jobID, "error", err)
		}
		return
	}
	if job.Status != model.JobStatusProcessing {
		// Terminal no-op: the job was already finished elsewhere.
		d.logger.DebugContext(ctx, "job already finished, skipping execution",
			"job_id", jobID,
			"status", job.Status,
		)
		return
	}

	execCtx, cancel := context.WithTimeout(ctx, d.execTimeout)
	outcome, execErr := d.executor.Run(execCtx, job)
	cancel()

	if execErr != nil {
		d.finishFailed(storeCtx, jobID, execErr)
		return
	}

	status := model.JobStatusDone
	var result json.RawMessage
	if outcome != nil {
		if outcome.Status != "" {
			status = outcome.Status
		}
		result = outcome.Result
	}

	if _, err := d.jobs.Finish(storeCtx, jobID, status, result); err != nil {
		d.logger.ErrorContext(ctx, "finish job failed", "job_id", jobID, "error", err)
		return
	}

	d.logger.InfoContext(ctx, "job finished",
		"job_id", jobID,
		"status", model.CoerceTerminal(status),
	)
}

func (d *Dispatcher) finishFailed(ctx context.Context, jobID string, execErr error) {
	d.logger.ErrorContext(ctx, "pipeline execution failed", "job_id", jobID, "error", execErr)

	result, err := json.Marshal(map[string]string{"error": execErr.Error()})
	if err != nil {
		result = json.RawMessage(`{"error":"pipeline execution failed"}`)
	}

	if _, err := d.jobs.Finish(ctx, jobID, model.JobStatusFailed, result); err != nil {
		d.logger.ErrorContext(ctx, "finish failed job failed", "job_id", jobID, "error", err)
	}
}
