package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/mymuse-io/adcopy-api/internal/data/pgxutil"
	"github.com/mymuse-io/adcopy-api/internal/domain/model"
)

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for job management.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const jobColumns = `
  job_id,
  image_key,
  status,
  params,
  result,
  created_at,
  updated_at
`

// Create inserts a new job in the queued status. Creation is idempotent: if a
// job with the same ID already exists, the stored row is returned unchanged.
func (r *JobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if validateErr := req.Validate(); validateErr != nil {
		return nil, validateErr
	}

	params := req.Params
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	now := r.timeProvider.Now().UTC()

	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, qerr := pgxConn.Query(ctx, `
			INSERT INTO jobs (job_id, image_key, status, params, created_at, updated_at)
			VALUES ($1, $2, 'queued', $3, $4, $4)
			ON CONFLICT (job_id) DO NOTHING
			RETURNING `+jobColumns, req.JobID, req.ImageKey, []byte(params), now)
		if qerr != nil {
			return fmt.Errorf("insert job: %w", qerr)
		}
		j, cerr := collectJobFromRows(rows)
		rows.Close()
		if cerr != nil {
			return cerr
		}
		job = j
		return nil
	})
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	// The insert hit the conflict arm, so the job already exists.
	existing, getErr := r.GetByID(ctx, req.JobID)
	if getErr != nil {
		return nil, getErr
	}
	if existing == nil {
		return nil, fmt.Errorf("job %s vanished between insert and fetch", req.JobID)
	}
	return existing, nil
}

// GetByID retrieves a job by its ID. A missing job is a normal outcome and
// returns (nil, nil) rather than an error.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, qerr := pgxConn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE job_id = $1
		`, id)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		j, cerr := collectJobFromRows(rows)
		if cerr != nil {
			return cerr
		}
		job = j
		return nil
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Update applies a partial update to a job inside a transaction. The row is
// locked first so the terminal check and the write are atomic: a job already
// in a terminal status is returned unchanged, and a status change is only
// written when the state machine permits it. A missing job returns (nil, nil).
func (r *JobRepo) Update(ctx context.Context, id string, update model.JobUpdate) (*model.Job, error) {
	if validateErr := update.Validate(); validateErr != nil {
		return nil, validateErr
	}

	var job *model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx pgx.Tx) error {
			rows, qerr := tx.Query(ctx, `
				SELECT `+jobColumns+`
				FROM jobs
				WHERE job_id = $1
				FOR UPDATE
			`, id)
			if qerr != nil {
				return fmt.Errorf("lock job: %w", qerr)
			}
			current, cerr := collectJobFromRows(rows)
			rows.Close()
			if cerr != nil {
				return cerr
			}

			if current.Status.Terminal() || update.Empty() {
				job = current
				return nil
			}

			if update.Status != nil && !current.Status.CanTransitionTo(*update.Status) {
				return fmt.Errorf(
					"invalid status transition from %s to %s: %w",
					current.Status, *update.Status, errInvalidTransition,
				)
			}

			updated, uerr := r.applyUpdateInTx(ctx, tx, current, update)
			if uerr != nil {
				return uerr
			}
			job = updated
			return nil
		},
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// errInvalidTransition marks transition violations so callers can classify them.
var errInvalidTransition = errors.New("transition not permitted")

// IsInvalidTransition reports whether err is a status transition violation.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, errInvalidTransition)
}

func (r *JobRepo) applyUpdateInTx(
	ctx context.Context,
	tx pgx.Tx,
	current *model.Job,
	update model.JobUpdate,
) (*model.Job, error) {
	status := current.Status
	if update.Status != nil {
		status = *update.Status
	}

	result := []byte(current.Result)
	if update.Result != nil {
		result = []byte(update.Result)
	}

	rows, qerr := tx.Query(ctx, `
		UPDATE jobs
		SET status = $2,
		    result = $3,
		    updated_at = $4
		WHERE job_id = $1
		RETURNING `+jobColumns, current.JobID, status, result, r.timeProvider.Now().UTC())
	if qerr != nil {
		return nil, fmt.Errorf("update job: %w", qerr)
	}
	job, cerr := collectJobFromRows(rows)
	rows.Close()
	if cerr != nil {
		return nil, fmt.Errorf("collect updated job: %w", cerr)
	}
	return job, nil
}

// ListByStatus returns jobs in the given status, newest first.
func (r *JobRepo) ListByStatus(
	ctx context.Context,
	status model.JobStatus,
	limit int,
) ([]*model.Job, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid job status: %s", status)
	}
	if limit <= 0 {
		limit = 100
	}

	var jobs []*model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, qerr := pgxConn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE status = $1
			ORDER BY created_at DESC
			LIMIT $2
		`, status, limit)
		if qerr != nil {
			return fmt.Errorf("list jobs: %w", qerr)
		}
		defer rows.Close()

		for rows.Next() {
			job, serr := scanJobFromRow(rows)
			if serr != nil {
				return fmt.Errorf("scan job: %w", serr)
			}
			jobs = append(jobs, job)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// Stats returns per-status counts across all jobs.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'queued')          AS queued,
    count(*) FILTER (WHERE status = 'processing')      AS processing,
    count(*) FILTER (WHERE status = 'done')            AS done,
    count(*) FILTER (WHERE status = 'failed')          AS failed,
    count(*) FILTER (WHERE status = 'failed_precheck') AS failed_precheck,
    count(*) FILTER (WHERE status = 'low_legibility')  AS low_legibility
  FROM jobs
  `).Scan(
		&s.Queued,
		&s.Processing,
		&s.Done,
		&s.Failed,
		&s.FailedPrecheck,
		&s.LowLegibility,
	)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}
	return &s, nil
}

// Delete removes a job by ID. Returns false if no such job existed.
func (r *JobRepo) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// collectJobFromRows collects a single job from pgx rows using pgx v5 helpers.
func collectJobFromRows(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}

	return job, nil
}

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	params, result []byte
}

func (d *jobRowData) scanInto(scanner jobRowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.JobID,
		&job.ImageKey,
		&job.Status,
		&d.params,
		&d.result,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
}

func (d *jobRowData) apply(job *model.Job) {
	job.Params = cloneJSON(d.params)
	job.Result = cloneNullableJSON(d.result)
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}

	data.apply(job)
	return job, nil
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
