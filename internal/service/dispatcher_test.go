package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/mymuse-io/adcopy-api/internal/core"
	"github.com/mymuse-io/adcopy-api/internal/domain/model"
	apperrors "github.com/mymuse-io/adcopy-api/internal/errors"
	"github.com/mymuse-io/adcopy-api/internal/mocks"
)

type dispatcherFixture struct {
	repo     *mocks.MockJobRepository
	executor *mocks.MockPipelineExecutor
	queue    *mocks.MockJobQueue
}

func newTestDispatcher(t *testing.T, ctrl *gomock.Controller, opts DispatcherOptions) (*Dispatcher, *dispatcherFixture) {
	t.Helper()

	f := &dispatcherFixture{
		repo:     mocks.NewMockJobRepository(ctrl),
		executor: mocks.NewMockPipelineExecutor(ctrl),
		queue:    mocks.NewMockJobQueue(ctrl),
	}

	opts.Jobs = MustNewJobService(JobServiceOptions{
		Repo:          f.repo,
		FinishRetries: 1,
		FinishBackoff: time.Millisecond,
	})
	opts.Executor = f.executor
	if opts.Queue == nil && opts.Mode == model.ExecutionModeQueued {
		opts.Queue = f.queue
	}

	d, err := NewDispatcher(opts)
	require.NoError(t, err)
	return d, f
}

// expectMarkProcessing sets up the status transition the dispatcher performs
// before running the pipeline.
func expectMarkProcessing(f *dispatcherFixture, jobID string) *model.Job {
	job := &model.Job{
		JobID:    jobID,
		ImageKey: "uploads/banner.png",
		Status:   model.JobStatusProcessing,
	}
	processing := model.JobStatusProcessing
	f.repo.EXPECT().
		Update(gomock.Any(), jobID, model.JobUpdate{Status: &processing}).
		Return(job, nil)
	return job
}

func TestNewDispatcher(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockJobRepository(ctrl)
	jobs := MustNewJobService(JobServiceOptions{Repo: repo})
	executor := mocks.NewMockPipelineExecutor(ctrl)

	t.Run("defaults", func(t *testing.T) {
		d, err := NewDispatcher(DispatcherOptions{Jobs: jobs, Executor: executor})
		require.NoError(t, err)
		assert.Equal(t, model.ExecutionModeInline, d.Mode())
		assert.Equal(t, defaultDispatchWorkers, d.workers)
		assert.Equal(t, defaultDispatchQueueDepth, cap(d.work))
		assert.Equal(t, defaultExecTimeout, d.execTimeout)
	})

	t.Run("missing jobs", func(t *testing.T) {
		_, err := NewDispatcher(DispatcherOptions{Executor: executor})
		require.Error(t, err)
	})

	t.Run("missing executor", func(t *testing.T) {
		_, err := NewDispatcher(DispatcherOptions{Jobs: jobs})
		require.Error(t, err)
	})

	t.Run("queued mode requires queue", func(t *testing.T) {
		_, err := NewDispatcher(DispatcherOptions{
			Jobs:     jobs,
			Executor: executor,
			Mode:     model.ExecutionModeQueued,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "JobQueue is required")
	})
}

func TestDispatcher_Execute(t *testing.T) {
	t.Run("successful run finishes done", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		d, f := newTestDispatcher(t, ctrl, DispatcherOptions{})
		job := expectMarkProcessing(f, "job-1")

		result := json.RawMessage(`{"copy":"Buy now"}`)
		f.executor.EXPECT().
			Run(gomock.Any(), job).
			Return(&core.PipelineOutcome{Status: model.JobStatusDone, Result: result}, nil)

		f.repo.EXPECT().
			Update(gomock.Any(), "job-1", gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, u model.JobUpdate) (*model.Job, error) {
				require.NotNil(t, u.Status)
				assert.Equal(t, model.JobStatusDone, *u.Status)
				assert.Equal(t, result, u.Result)
				return &model.Job{JobID: "job-1", Status: *u.Status, Result: u.Result}, nil
			})

		d.Execute(context.Background(), "job-1")
	})

	t.Run("outcome status carried through", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		d, f := newTestDispatcher(t, ctrl, DispatcherOptions{})
		job := expectMarkProcessing(f, "job-2")

		f.executor.EXPECT().
			Run(gomock.Any(), job).
			Return(&core.PipelineOutcome{Status: model.JobStatusLowLegibility}, nil)

		f.repo.EXPECT().
			Update(gomock.Any(), "job-2", gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, u model.JobUpdate) (*model.Job, error) {
				require.NotNil(t, u.Status)
				assert.Equal(t, model.JobStatusLowLegibility, *u.Status)
				return &model.Job{JobID: "job-2", Status: *u.Status}, nil
			})

		d.Execute(context.Background(), "job-2")
	})

	t.Run("executor error finishes failed with error result", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		d, f := newTestDispatcher(t, ctrl, DispatcherOptions{})
		job := expectMarkProcessing(f, "job-3")

		f.executor.EXPECT().
			Run(gomock.Any(), job).
			Return(nil, errors.New("pipeline unreachable"))

		f.repo.EXPECT().
			Update(gomock.Any(), "job-3", gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, u model.JobUpdate) (*model.Job, error) {
				require.NotNil(t, u.Status)
				assert.Equal(t, model.JobStatusFailed, *u.Status)

				var payload map[string]string
				require.NoError(t, json.Unmarshal(u.Result, &payload))
				assert.Equal(t, "pipeline unreachable", payload["error"])

				return &model.Job{JobID: "job-3", Status: *u.Status, Result: u.Result}, nil
			})

		d.Execute(context.Background(), "job-3")
	})

	t.Run("executor timeout finishes failed", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		d, f := newTestDispatcher(t, ctrl, DispatcherOptions{ExecTimeout: 10 * time.Millisecond})
		job := expectMarkProcessing(f, "job-4")

		f.executor.EXPECT().
			Run(gomock.Any(), job).
			DoAndReturn(func(ctx context.Context, _ *model.Job) (*core.PipelineOutcome, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			})

		f.repo.EXPECT().
			Update(gomock.Any(), "job-4", gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, u model.JobUpdate) (*model.Job, error) {
				require.NotNil(t, u.Status)
				assert.Equal(t, model.JobStatusFailed, *u.Status)
				return &model.Job{JobID: "job-4", Status: *u.Status}, nil
			})

		d.Execute(context.Background(), "job-4")
	})

	t.Run("cancellation during execution still finishes failed", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		d, f := newTestDispatcher(t, ctrl, DispatcherOptions{})
		job := expectMarkProcessing(f, "job-6")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		f.executor.EXPECT().
			Run(gomock.Any(), job).
			DoAndReturn(func(runCtx context.Context, _ *model.Job) (*core.PipelineOutcome, error) {
				cancel()
				<-runCtx.Done()
				return nil, runCtx.Err()
			})

		f.repo.EXPECT().
			Update(gomock.Any(), "job-6", gomock.Any()).
			DoAndReturn(func(updateCtx context.Context, _ string, u model.JobUpdate) (*model.Job, error) {
				// The terminal write must not inherit the cancellation.
				require.NoError(t, updateCtx.Err())
				require.NotNil(t, u.Status)
				assert.Equal(t, model.JobStatusFailed, *u.Status)
				return &model.Job{JobID: "job-6", Status: *u.Status, Result: u.Result}, nil
			})

		d.Execute(ctx, "job-6")
	})

	t.Run("already finished job is skipped", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		d, f := newTestDispatcher(t, ctrl, DispatcherOptions{})

		f.repo.EXPECT().
			Update(gomock.Any(), "job-5", gomock.Any()).
			Return(&model.Job{JobID: "job-5", Status: model.JobStatusDone}, nil)

		// No executor run, no finish.
		d.Execute(context.Background(), "job-5")
	})

	t.Run("vanished job is skipped", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		d, f := newTestDispatcher(t, ctrl, DispatcherOptions{})

		f.repo.EXPECT().Update(gomock.Any(), "gone", gomock.Any()).Return(nil, nil)

		d.Execute(context.Background(), "gone")
	})
}

func TestDispatcher_Submit(t *testing.T) {
	t.Run("inline schedules on pool", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		d, _ := newTestDispatcher(t, ctrl, DispatcherOptions{QueueDepth: 1})

		// No workers running: the job parks on the channel untouched.
		require.NoError(t, d.Submit(context.Background(), "job-1"))
		assert.Len(t, d.work, 1)
	})

	t.Run("inline saturation falls back to synchronous run", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		d, f := newTestDispatcher(t, ctrl, DispatcherOptions{QueueDepth: 1})
		require.NoError(t, d.Submit(context.Background(), "job-1"))

		// Pool is full; the second submission runs on the caller's goroutine.
		job := expectMarkProcessing(f, "job-2")
		f.executor.EXPECT().Run(gomock.Any(), job).Return(nil, nil)
		f.repo.EXPECT().
			Update(gomock.Any(), "job-2", gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, u model.JobUpdate) (*model.Job, error) {
				require.NotNil(t, u.Status)
				assert.Equal(t, model.JobStatusDone, *u.Status)
				return &model.Job{JobID: "job-2", Status: *u.Status}, nil
			})

		require.NoError(t, d.Submit(context.Background(), "job-2"))
	})

	t.Run("queued hands off to broker", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		d, f := newTestDispatcher(t, ctrl, DispatcherOptions{Mode: model.ExecutionModeQueued})
		f.queue.EXPECT().Enqueue(gomock.Any(), "job-1").Return(nil)

		require.NoError(t, d.Submit(context.Background(), "job-1"))
	})

	t.Run("queued handoff failure surfaces to caller", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		d, f := newTestDispatcher(t, ctrl, DispatcherOptions{Mode: model.ExecutionModeQueued})
		f.queue.EXPECT().Enqueue(gomock.Any(), "job-1").Return(errors.New("broker down"))

		err := d.Submit(context.Background(), "job-1")
		require.Error(t, err)
		assert.True(t, apperrors.IsStorage(err))
	})

	t.Run("empty job id", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		d, _ := newTestDispatcher(t, ctrl, DispatcherOptions{})

		err := d.Submit(context.Background(), "")
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestDispatcher_Run(t *testing.T) {
	t.Run("inline drains submitted work before stopping", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		d, f := newTestDispatcher(t, ctrl, DispatcherOptions{Workers: 1})

		executed := make(chan struct{})
		job := expectMarkProcessing(f, "job-1")
		f.executor.EXPECT().Run(gomock.Any(), job).Return(nil, nil)
		f.repo.EXPECT().
			Update(gomock.Any(), "job-1", gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, u model.JobUpdate) (*model.Job, error) {
				defer close(executed)
				return &model.Job{JobID: "job-1", Status: *u.Status}, nil
			})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- d.Run(ctx)
		}()

		require.NoError(t, d.Submit(ctx, "job-1"))

		select {
		case <-executed:
		case <-time.After(2 * time.Second):
			t.Fatal("job was not executed by the inline pool")
		}

		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("dispatcher did not stop")
		}
	})

	t.Run("inline stop leaves unstarted work queued", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		d, _ := newTestDispatcher(t, ctrl, DispatcherOptions{Workers: 1, QueueDepth: 2})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		require.NoError(t, d.Submit(ctx, "job-1"))
		require.NoError(t, d.Submit(ctx, "job-2"))

		// Workers see the cancelled context before touching buffered work:
		// neither job runs, both stay queued in storage.
		assert.ErrorIs(t, d.Run(ctx), context.Canceled)
		assert.Len(t, d.work, 2)
	})

	t.Run("queued mode blocks until context ends", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		d, _ := newTestDispatcher(t, ctrl, DispatcherOptions{Mode: model.ExecutionModeQueued})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, d.Run(ctx), context.Canceled)
	})
}
