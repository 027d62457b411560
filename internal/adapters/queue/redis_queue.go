// Package queue provides the Redis-backed job handoff between the API process
// and worker processes running in queued execution mode.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultQueueName is the Redis list jobs are pushed onto.
	DefaultQueueName = "adcopy:jobs"

	// defaultPollTimeout bounds one blocking pop so workers notice context
	// cancellation without hammering Redis.
	defaultPollTimeout = 5 * time.Second
)

// Executor runs one job end to end. The dispatcher satisfies this.
type Executor interface {
	Execute(ctx context.Context, jobID string)
}

// RedisQueueOptions configures a RedisQueue.
type RedisQueueOptions struct {
	Client    redis.UniversalClient // Required
	QueueName string                // Optional: defaults to DefaultQueueName
	Logger    *slog.Logger          // Optional
}

// RedisQueue hands job IDs to worker processes through a Redis list.
// Enqueue pushes onto the head; workers pop from the tail, so delivery is
// first in, first out.
type RedisQueue struct {
	client    redis.UniversalClient
	queueName string
	logger    *slog.Logger
}

// NewRedisQueue constructs a RedisQueue.
func NewRedisQueue(opts RedisQueueOptions) (*RedisQueue, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}

	queueName := opts.QueueName
	if queueName == "" {
		queueName = DefaultQueueName
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "redis_queue")
	} else {
		logger = slog.Default().With("component", "redis_queue")
	}

	return &RedisQueue{
		client:    opts.Client,
		queueName: queueName,
		logger:    logger,
	}, nil
}

// Enqueue pushes a job ID onto the queue for a worker to pick up.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	if jobID == "" {
		return errors.New("job id cannot be empty")
	}
	if err := q.client.LPush(ctx, q.queueName, jobID).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", q.queueName, err)
	}
	return nil
}

// Len returns the number of jobs waiting on the queue.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	length, err := q.client.LLen(ctx, q.queueName).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", q.queueName, err)
	}
	return length, nil
}

// WorkerOptions configures a queue Worker.
type WorkerOptions struct {
	Client      redis.UniversalClient // Required
	Executor    Executor              // Required
	QueueName   string                // Optional: defaults to DefaultQueueName
	Logger      *slog.Logger          // Optional
	PollTimeout time.Duration         // Optional: blocking pop bound; defaults to 5s
}

// Worker drains the queue, executing each job it pops. Run one or more of
// these in a dedicated worker process when the dispatcher runs in queued mode.
type Worker struct {
	client      redis.UniversalClient
	executor    Executor
	queueName   string
	logger      *slog.Logger
	pollTimeout time.Duration
}

// NewWorker constructs a queue Worker.
func NewWorker(opts WorkerOptions) (*Worker, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("executor is required")
	}

	queueName := opts.QueueName
	if queueName == "" {
		queueName = DefaultQueueName
	}
	pollTimeout := opts.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "queue_worker")
	} else {
		logger = slog.Default().With("component", "queue_worker")
	}

	return &Worker{
		client:      opts.Client,
		executor:    opts.Executor,
		queueName:   queueName,
		logger:      logger,
		pollTimeout: pollTimeout,
	}, nil
}

// Run pops and executes jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "starting queue worker",
		"queue", w.queueName,
		"poll_timeout", w.pollTimeout,
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		values, err := w.client.BRPop(ctx, w.pollTimeout, w.queueName).Result()
		switch {
		case errors.Is(err, redis.Nil):
			// Queue empty for this poll window.
			continue
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.ErrorContext(ctx, "queue pop failed", "queue", w.queueName, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		// BRPOP returns [queueName, value].
		if len(values) != 2 || values[1] == "" {
			w.logger.WarnContext(ctx, "discarding malformed queue entry", "values", values)
			continue
		}

		w.executor.Execute(ctx, values[1])
	}
}
