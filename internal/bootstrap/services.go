package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/mymuse-io/adcopy-api/config"
	"github.com/mymuse-io/adcopy-api/internal/adapters/pipeline"
	"github.com/mymuse-io/adcopy-api/internal/adapters/queue"
	"github.com/mymuse-io/adcopy-api/internal/data"
	"github.com/mymuse-io/adcopy-api/internal/domain/model"
	"github.com/mymuse-io/adcopy-api/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs       *service.JobService
	Cache      *service.CacheService
	Dispatcher *service.Dispatcher
	Queue      *queue.RedisQueue
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// NewServices wires repositories, services, and the dispatcher.
func NewServices(ctx context.Context, deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service dependencies are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	jobRepo := data.NewJobRepo(deps.DB, data.RepoConfig{Logger: logger})
	jobs := service.MustNewJobService(service.JobServiceOptions{
		Repo:   jobRepo,
		Logger: logger,
	})

	cache, err := buildCacheService(ctx, deps.RedisClient, cfg, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	executor, err := pipeline.NewHTTPExecutor(pipeline.HTTPExecutorOptions{
		Endpoint:   cfg.Pipeline.Endpoint,
		HTTPClient: &http.Client{Timeout: cfg.Pipeline.Timeout},
		Logger:     logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build pipeline executor: %w", err)
	}

	var jobQueue *queue.RedisQueue
	if cfg.Dispatcher.Mode == model.ExecutionModeQueued {
		if deps.RedisClient == nil {
			return ServiceContainer{}, errors.New("queued execution mode requires redis")
		}
		jobQueue, err = queue.NewRedisQueue(queue.RedisQueueOptions{
			Client:    deps.RedisClient,
			QueueName: cfg.Dispatcher.QueueName,
			Logger:    logger,
		})
		if err != nil {
			return ServiceContainer{}, fmt.Errorf("build job queue: %w", err)
		}
	}

	dispatcherOpts := service.DispatcherOptions{
		Jobs:        jobs,
		Executor:    executor,
		Logger:      logger,
		Mode:        cfg.Dispatcher.Mode,
		Workers:     cfg.Dispatcher.Workers,
		QueueDepth:  cfg.Dispatcher.QueueDepth,
		ExecTimeout: cfg.Dispatcher.ExecTimeout,
	}
	if jobQueue != nil {
		dispatcherOpts.Queue = jobQueue
	}
	dispatcher, err := service.NewDispatcher(dispatcherOpts)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build dispatcher: %w", err)
	}

	return ServiceContainer{
		Jobs:       jobs,
		Cache:      cache,
		Dispatcher: dispatcher,
		Queue:      jobQueue,
	}, nil
}

// buildCacheService constructs the cache with both backends. Without a Redis
// client the probe target is an in-process backend, so the probe passes and
// behavior is unchanged; the explicit fallback still guards a live Redis that
// goes unreachable at startup.
func buildCacheService(
	ctx context.Context,
	redisClient redis.UniversalClient,
	cfg *config.AppConfig,
	logger *slog.Logger,
) (*service.CacheService, error) {
	opts := service.CacheServiceOptions{
		Fallback:     data.NewMemoryCacheRepo(nil),
		DefaultTTL:   cfg.Cache.DefaultTTL,
		ProbeTimeout: cfg.Cache.ProbeTimeout,
		Logger:       logger,
	}
	if redisClient != nil {
		opts.Shared = data.NewRedisCacheRepo(redisClient)
	} else {
		opts.Shared = data.NewMemoryCacheRepo(nil)
	}

	cache, err := service.NewCacheService(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("build cache service: %w", err)
	}
	return cache, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// RunServicesWithShutdown starts all enabled services and manages their
// lifecycle. It blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// The dispatcher runs wherever jobs can be submitted or executed: the
	// inline pool lives in the HTTP process, and queued-mode workers drive
	// Execute through it.
	g.Go(func() error {
		err := cfg.Services.Dispatcher.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if enabled[config.ServiceModeHTTP] {
		server := StartHTTPServer(&HTTPServerConfig{
			Config:   cfg.Config,
			Services: cfg.Services,
			DB:       cfg.DB,
			Logger:   logger,
		})
		g.Go(func() error {
			<-gctx.Done()
			return ShutdownHTTPServer(ShutdownConfig{
				Server:  server,
				Timeout: cfg.Config.HTTP.ShutdownTimeout,
				Logger:  logger,
			})
		})
	}

	if enabled[config.ServiceModeWorker] && cfg.Config.Dispatcher.Mode == model.ExecutionModeQueued {
		worker, workerErr := queue.NewWorker(queue.WorkerOptions{
			Client:    cfg.RedisClient,
			Executor:  cfg.Services.Dispatcher,
			QueueName: cfg.Config.Dispatcher.QueueName,
			Logger:    logger,
		})
		if workerErr != nil {
			return fmt.Errorf("build queue worker: %w", workerErr)
		}
		g.Go(func() error {
			err := worker.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	logger.Info("services started", "services", GetEnabledServices(cfg.Config))

	if err := g.Wait(); err != nil {
		logger.Error("service error", "error", err)
		return err
	}

	logger.Info("all services stopped")
	return nil
}
