package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/mymuse-io/adcopy-api/internal/service"
)

type invalidateCacheOptions struct {
	Pattern string
	DryRun  bool
	Yes     bool
}

func runInvalidateCache(cmdCtx *commandContext, args []string) error {
	opts, err := parseInvalidateCacheFlags(args)
	if err != nil {
		return err
	}
	if !opts.DryRun {
		if confirmErr := confirmAction(opts.Yes, fmt.Sprintf("delete cache keys matching %q", opts.Pattern)); confirmErr != nil {
			return confirmErr
		}
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	_, redisClient, err := connectInfraWithOptions(&connectInfraOptions{
		Logger:    cmdCtx.Logger,
		Config:    &cmdCtx.Config,
		WantRedis: true,
	})
	if err != nil {
		return err
	}
	if redisClient == nil {
		if writeErr := writeln(os.Stderr, "Redis client is not available"); writeErr != nil {
			return fmt.Errorf("print redis availability: %w", writeErr)
		}
		return nil
	}
	defer func() {
		if closeErr := redisClient.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", closeErr)
		}
	}()

	stats, err := deleteCacheKeys(&cacheDeleteRequest{
		Ctx:      ctx,
		Logger:   cmdCtx.Logger,
		Redis:    redisClient,
		Options:  opts,
		BatchCap: 1000,
	})
	if err != nil {
		return err
	}

	if stats.total == 0 {
		if writeErr := writef(os.Stdout, "No keys matching %q found in Redis\n", opts.Pattern); writeErr != nil {
			return fmt.Errorf("print cache summary: %w", writeErr)
		}
		return nil
	}

	if opts.DryRun {
		if writeErr := writef(os.Stdout, "Dry-run: would delete %d keys\n", stats.total); writeErr != nil {
			return fmt.Errorf("print cache dry run: %w", writeErr)
		}
		return nil
	}

	if writeErr := writef(os.Stdout, "Deleted %d/%d keys\n", stats.deleted, stats.total); writeErr != nil {
		return fmt.Errorf("print cache deleted: %w", writeErr)
	}
	if stats.failures > 0 {
		if writeErr := writef(os.Stdout, "Failed batches: %d\n", stats.failures); writeErr != nil {
			return fmt.Errorf("print cache failures: %w", writeErr)
		}
	}
	return nil
}

type cacheDeleteRequest struct {
	Ctx      context.Context
	Logger   *slog.Logger
	Redis    redis.UniversalClient
	Options  invalidateCacheOptions
	BatchCap int
}

type cacheDeleteStats struct {
	total    int
	deleted  int64
	failures int
}

func deleteCacheKeys(req *cacheDeleteRequest) (cacheDeleteStats, error) {
	batchCap := req.BatchCap
	if batchCap <= 0 {
		batchCap = 1000
	}

	if req.Logger != nil {
		req.Logger.Info("scanning redis", "pattern", req.Options.Pattern, "dry_run", req.Options.DryRun)
	}

	stats := cacheDeleteStats{}
	iter := req.Redis.Scan(req.Ctx, 0, req.Options.Pattern, 100).Iterator()
	batch := make([]string, 0, batchCap)

	for iter.Next(req.Ctx) {
		stats.total++
		batch = append(batch, iter.Val())

		if len(batch) == batchCap {
			flushCacheBatch(req, batch, &stats)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return stats, fmt.Errorf("redis scan: %w", err)
	}

	flushCacheBatch(req, batch, &stats)
	return stats, nil
}

func flushCacheBatch(req *cacheDeleteRequest, batch []string, stats *cacheDeleteStats) {
	if len(batch) == 0 {
		return
	}
	if req.Options.DryRun {
		if req.Logger != nil {
			req.Logger.Info("dry-run skipping cache delete", "count", len(batch))
		}
		return
	}
	n, err := req.Redis.Del(req.Ctx, batch...).Result()
	if err != nil {
		stats.failures++
		if req.Logger != nil {
			req.Logger.Error("failed to delete cache keys", "count", len(batch), "error", err)
		}
		return
	}
	stats.deleted += n
}

func parseInvalidateCacheFlags(args []string) (invalidateCacheOptions, error) {
	fs := flag.NewFlagSet("invalidate-cache", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts invalidateCacheOptions
	fs.StringVar(&opts.Pattern, "pattern", service.JobCachePattern(), "Key pattern with a single * wildcard")
	fs.BoolVar(&opts.DryRun, "dry-run", false, "Print actions without executing")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt")

	if err := fs.Parse(args); err != nil {
		return invalidateCacheOptions{}, err
	}

	opts.Pattern = strings.TrimSpace(opts.Pattern)
	if opts.Pattern == "" {
		return invalidateCacheOptions{}, errors.New("--pattern is required")
	}
	if strings.Count(opts.Pattern, "*") > 1 {
		return invalidateCacheOptions{}, errors.New("--pattern supports a single * wildcard")
	}

	return opts, nil
}
