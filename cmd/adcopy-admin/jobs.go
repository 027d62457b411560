package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/mymuse-io/adcopy-api/internal/bootstrap"
	"github.com/mymuse-io/adcopy-api/internal/data"
	"github.com/mymuse-io/adcopy-api/internal/domain/model"
	"github.com/mymuse-io/adcopy-api/internal/service"
)

const (
	defaultCommandTimeout   = 2 * time.Minute
	defaultMigrationTimeout = 5 * time.Minute
)

type listJobsOptions struct {
	Status  string
	Limit   int
	RawJSON bool
	Query   string
}

type jobStatsOptions struct {
	RawJSON bool
	Query   string
}

type deleteJobOptions struct {
	JobID string
	Yes   bool
}

type migrateOptions struct {
	Timeout time.Duration
}

func runListJobs(cmdCtx *commandContext, args []string) error {
	opts, err := parseListJobsFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	return withJobService(cmdCtx, func(jobs *service.JobService) error {
		rows, listErr := jobs.ListByStatus(ctx, model.JobStatus(opts.Status), opts.Limit)
		if listErr != nil {
			return listErr
		}

		if opts.RawJSON || opts.Query != "" {
			return printQueriedJSON(rows, opts.Query)
		}
		return printJobRows(rows)
	})
}

func runJobStats(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobStatsFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	return withJobService(cmdCtx, func(jobs *service.JobService) error {
		stats, statsErr := jobs.Stats(ctx)
		if statsErr != nil {
			return statsErr
		}

		if opts.RawJSON || opts.Query != "" {
			return printQueriedJSON(stats, opts.Query)
		}
		return printJobStats(stats)
	})
}

func runDeleteJob(cmdCtx *commandContext, args []string) error {
	opts, err := parseDeleteJobFlags(args)
	if err != nil {
		return err
	}
	if confirmErr := confirmAction(opts.Yes, fmt.Sprintf("delete job %q", opts.JobID)); confirmErr != nil {
		return confirmErr
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	db, redisClient, err := connectInfraWithOptions(&connectInfraOptions{
		Logger:    cmdCtx.Logger,
		Config:    &cmdCtx.Config,
		WantDB:    true,
		WantRedis: true,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeInfra(db, redisClient); cerr != nil {
			cmdCtx.Logger.Warn("close infra failed", "error", cerr)
		}
	}()

	jobs := service.MustNewJobService(service.JobServiceOptions{
		Repo:   data.NewJobRepo(db, data.RepoConfig{Logger: cmdCtx.Logger}),
		Logger: cmdCtx.Logger,
	})
	if deleteErr := jobs.Delete(ctx, opts.JobID); deleteErr != nil {
		return deleteErr
	}

	if redisClient != nil {
		key := service.JobCacheKey(opts.JobID)
		if delErr := redisClient.Del(ctx, key).Err(); delErr != nil {
			cmdCtx.Logger.Warn("delete cache entry failed", "key", key, "error", delErr)
		}
	}

	cmdCtx.Logger.Info("job deleted", "job_id", opts.JobID)
	return nil
}

func runMigrateCommand(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	cmdCtx.Logger.Info("running database migrations")

	if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
		return fmt.Errorf("run migrations: %w", migrateErr)
	}

	cmdCtx.Logger.Info("migrations completed successfully")
	return nil
}

func withJobService(cmdCtx *commandContext, f func(*service.JobService) error) error {
	db, _, err := connectInfraWithOptions(&connectInfraOptions{
		Logger: cmdCtx.Logger,
		Config: &cmdCtx.Config,
		WantDB: true,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeInfra(db, nil); cerr != nil {
			cmdCtx.Logger.Warn("close infra failed", "error", cerr)
		}
	}()

	jobs := service.MustNewJobService(service.JobServiceOptions{
		Repo:   data.NewJobRepo(db, data.RepoConfig{Logger: cmdCtx.Logger}),
		Logger: cmdCtx.Logger,
	})
	return f(jobs)
}

// printQueriedJSON marshals v, optionally filters it through a JMESPath
// expression, and prints the indented result.
func printQueriedJSON(v any, query string) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}

	var decoded any
	if err = json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode output: %w", err)
	}

	if query != "" {
		decoded, err = jmespath.Search(query, decoded)
		if err != nil {
			return fmt.Errorf("evaluate query %q: %w", query, err)
		}
	}

	out, err := json.MarshalIndent(decoded, "", "  ")
	if err != nil {
		return fmt.Errorf("encode query result: %w", err)
	}
	return writef(os.Stdout, "%s\n", out)
}

func printJobRows(rows []*model.Job) error {
	if len(rows) == 0 {
		return writeln(os.Stdout, "(no jobs found)")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writeln(w, "Job ID\tStatus\tImage Key\tCreated\tUpdated"); err != nil {
		return fmt.Errorf("write jobs header: %w", err)
	}
	for _, job := range rows {
		if err := writef(w, "%s\t%s\t%s\t%s\t%s\n",
			job.JobID,
			job.Status,
			job.ImageKey,
			job.CreatedAt.Format(time.RFC3339),
			job.UpdatedAt.Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("write job row %q: %w", job.JobID, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush jobs table: %w", err)
	}
	return writef(os.Stdout, "\nTotal: %d\n", len(rows))
}

func printJobStats(stats *model.JobStats) error {
	if stats == nil {
		return writeln(os.Stdout, "(no stats available)")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writeln(w, "Status\tCount"); err != nil {
		return fmt.Errorf("write stats header: %w", err)
	}
	rows := []struct {
		label string
		count int
	}{
		{string(model.JobStatusQueued), stats.Queued},
		{string(model.JobStatusProcessing), stats.Processing},
		{string(model.JobStatusDone), stats.Done},
		{string(model.JobStatusFailed), stats.Failed},
		{string(model.JobStatusFailedPrecheck), stats.FailedPrecheck},
		{string(model.JobStatusLowLegibility), stats.LowLegibility},
	}
	for _, row := range rows {
		if err := writef(w, "%s\t%d\n", row.label, row.count); err != nil {
			return fmt.Errorf("write stats row %q: %w", row.label, err)
		}
	}
	if err := writef(w, "total\t%d\n", stats.Total()); err != nil {
		return fmt.Errorf("write stats total: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush stats table: %w", err)
	}
	return nil
}

func confirmAction(yes bool, action string) error {
	if yes {
		return nil
	}
	if err := writef(os.Stderr, "About to %s. Type \"yes\" to continue or press enter to abort: ", action); err != nil {
		return fmt.Errorf("print confirmation prompt: %w", err)
	}
	reader := bufio.NewReader(os.Stdin)
	resp, err := reader.ReadString('\n')
	if err != nil {
		return errors.New("aborted by user")
	}
	if strings.TrimSpace(resp) != "yes" {
		return errors.New("aborted by user")
	}
	return nil
}

func parseListJobsFlags(args []string) (listJobsOptions, error) {
	fs := flag.NewFlagSet("list-jobs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts listJobsOptions
	fs.StringVar(&opts.Status, "status", "", "Job status to list (required)")
	fs.IntVar(&opts.Limit, "limit", 50, "Maximum rows to display")
	fs.BoolVar(&opts.RawJSON, "json", false, "Print JSON instead of a table")
	fs.StringVar(&opts.Query, "query", "", "JMESPath expression applied to JSON output (implies --json)")

	if err := fs.Parse(args); err != nil {
		return listJobsOptions{}, err
	}

	opts.Status = strings.TrimSpace(opts.Status)
	if opts.Status == "" {
		return listJobsOptions{}, errors.New("--status is required")
	}
	if !model.JobStatus(opts.Status).Valid() {
		return listJobsOptions{}, fmt.Errorf("invalid status %q", opts.Status)
	}
	if opts.Limit <= 0 {
		return listJobsOptions{}, errors.New("--limit must be greater than zero")
	}
	if err := validateQuery(opts.Query); err != nil {
		return listJobsOptions{}, err
	}

	return opts, nil
}

func parseJobStatsFlags(args []string) (jobStatsOptions, error) {
	fs := flag.NewFlagSet("job-stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts jobStatsOptions
	fs.BoolVar(&opts.RawJSON, "json", false, "Print JSON instead of a table")
	fs.StringVar(&opts.Query, "query", "", "JMESPath expression applied to JSON output (implies --json)")

	if err := fs.Parse(args); err != nil {
		return jobStatsOptions{}, err
	}

	if err := validateQuery(opts.Query); err != nil {
		return jobStatsOptions{}, err
	}

	return opts, nil
}

func parseDeleteJobFlags(args []string) (deleteJobOptions, error) {
	fs := flag.NewFlagSet("delete-job", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts deleteJobOptions
	fs.StringVar(&opts.JobID, "job-id", "", "Job ID to delete (required)")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt")

	if err := fs.Parse(args); err != nil {
		return deleteJobOptions{}, err
	}

	opts.JobID = strings.TrimSpace(opts.JobID)
	if opts.JobID == "" {
		return deleteJobOptions{}, errors.New("--job-id is required")
	}

	return opts, nil
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := migrateOptions{
		Timeout: defaultMigrationTimeout,
	}
	fs.DurationVar(
		&opts.Timeout,
		"timeout",
		defaultMigrationTimeout,
		"Maximum duration to wait for migrations to complete",
	)

	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}

	if opts.Timeout <= 0 {
		return migrateOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

func validateQuery(query string) error {
	if query == "" {
		return nil
	}
	if _, err := jmespath.Compile(query); err != nil {
		return fmt.Errorf("invalid --query expression: %w", err)
	}
	return nil
}
