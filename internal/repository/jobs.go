package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/AthleteDocs/internal/model"
)

var jobColumns = columns(model.ProcessingJob{})

// insertJobColumns skips the BIGSERIAL id.
var insertJobColumns = jobColumns[1:]

const activeJobConflict = "ON CONFLICT (entity_type, entity_id, job_type) WHERE status IN ('pending', 'processing') " +
	"DO UPDATE SET priority = LEAST(processing_jobs.priority, EXCLUDED.priority), updated_at = EXCLUDED.updated_at "

// JobRepository is the authoritative job table. Workers claim rows directly;
// there is no second queue to keep in sync.
type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

type enqueuedJob struct {
	model.ProcessingJob
	Created bool `db:"created"`
}

// EnqueueJob inserts a pending job. When the tuple already has an active job
// the existing row is kept, its priority raised to the more urgent of the
// two, and created is false.
func (r *JobRepository) EnqueueJob(ctx context.Context, job *model.ProcessingJob) (*model.ProcessingJob, bool, error) {
	query, args, err := enqueueJobQuery(job, time.Now().UTC()).ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("build enqueue job: %w", err)
	}
	var row enqueuedJob
	if err := pgxscan.Get(ctx, r.pool, &row, query, args...); err != nil {
		return nil, false, fmt.Errorf("enqueue job: %w", err)
	}
	return &row.ProcessingJob, row.Created, nil
}

// enqueueJobQuery is the upsert behind EnqueueJob. created comes from xmax,
// which is zero only for a freshly inserted row.
func enqueueJobQuery(job *model.ProcessingJob, now time.Time) sq.InsertBuilder {
	if job.Payload == nil {
		job.Payload = map[string]any{}
	}
	if job.RunAt.IsZero() {
		job.RunAt = now
	}
	return psql().
		Insert(jobTable).
		Columns(insertJobColumns...).
		Values(
			job.JobType,
			job.EntityType,
			job.EntityID,
			job.Payload,
			job.Priority,
			model.JobPending,
			0,
			nil,
			0,
			job.MaxAttempts,
			job.RunAt,
			nil,
			nil,
			now,
			now,
		).
		Suffix(activeJobConflict + returning(jobColumns) + ", (xmax = 0) AS created")
}

// ClaimJob locks the most urgent runnable job of jobType for workerID. It
// returns nil when nothing is runnable.
func (r *JobRepository) ClaimJob(ctx context.Context, jobType model.JobType, workerID string) (*model.ProcessingJob, error) {
	query, args, err := claimJobQuery(jobType, workerID, time.Now().UTC()).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build claim job: %w", err)
	}
	var job model.ProcessingJob
	if err := pgxscan.Get(ctx, r.pool, &job, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return &job, nil
}

// claimJobQuery picks one row with SKIP LOCKED so concurrent workers never
// claim the same job.
func claimJobQuery(jobType model.JobType, workerID string, now time.Time) sq.UpdateBuilder {
	next := sq.Select("id").
		From(jobTable).
		Where(sq.Eq{"status": model.JobPending, "job_type": jobType}).
		Where(sq.LtOrEq{"run_at": now}).
		OrderBy("priority", "run_at", "id").
		Suffix("FOR UPDATE SKIP LOCKED").
		Limit(1)

	return psql().
		Update(jobTable).
		Set("status", model.JobProcessing).
		Set("attempts", sq.Expr("attempts + 1")).
		Set("progress", 0).
		Set("locked_by", workerID).
		Set("heartbeat_at", now).
		Set("updated_at", now).
		Where(sq.Expr("id = (?)", next)).
		Suffix(returning(jobColumns))
}

// UpdateJobProgress stores advisory progress and doubles as a heartbeat.
func (r *JobRepository) UpdateJobProgress(ctx context.Context, id int64, progress int) error {
	now := time.Now().UTC()
	return r.updateRunning(ctx, id, map[string]any{
		"progress":     progress,
		"heartbeat_at": now,
		"updated_at":   now,
	})
}

func (r *JobRepository) HeartbeatJob(ctx context.Context, id int64) error {
	return r.updateRunning(ctx, id, map[string]any{"heartbeat_at": time.Now().UTC()})
}

func (r *JobRepository) CompleteJob(ctx context.Context, id int64) error {
	return r.updateRunning(ctx, id, map[string]any{
		"status":        model.JobCompleted,
		"progress":      100,
		"error_message": nil,
		"locked_by":     nil,
		"updated_at":    time.Now().UTC(),
	})
}

// RescheduleJob returns a running job to pending for another attempt at runAt.
func (r *JobRepository) RescheduleJob(ctx context.Context, id int64, runAt time.Time, msg string) error {
	return r.updateRunning(ctx, id, map[string]any{
		"status":        model.JobPending,
		"run_at":        runAt,
		"error_message": msg,
		"locked_by":     nil,
		"heartbeat_at":  nil,
		"updated_at":    time.Now().UTC(),
	})
}

func (r *JobRepository) FailJob(ctx context.Context, id int64, msg string) error {
	return r.updateRunning(ctx, id, map[string]any{
		"status":        model.JobFailed,
		"error_message": msg,
		"locked_by":     nil,
		"updated_at":    time.Now().UTC(),
	})
}

func (r *JobRepository) updateRunning(ctx context.Context, id int64, set map[string]any) error {
	query, args, err := psql().
		Update(jobTable).
		SetMap(set).
		Where(sq.Eq{"id": id, "status": model.JobProcessing}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build job update: %w", err)
	}
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		current, err := r.JobByID(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: job %d is %s", model.ErrIllegalTransition, id, current.Status)
	}
	return nil
}

// RetryJob moves a failed job back to pending with a fresh attempt budget.
// It returns ErrConflict when the tuple already has another active job.
func (r *JobRepository) RetryJob(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	query, args, _ := psql().
		Update(jobTable).
		Set("status", model.JobPending).
		Set("attempts", 0).
		Set("progress", 0).
		Set("error_message", nil).
		Set("run_at", now).
		Set("updated_at", now).
		Where(sq.Eq{"id": id, "status": model.JobFailed}).
		ToSql()
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: job %d already has an active duplicate", model.ErrConflict, id)
		}
		return fmt.Errorf("retry job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		current, err := r.JobByID(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: job %d is %s", model.ErrIllegalTransition, id, current.Status)
	}
	return nil
}

func (r *JobRepository) JobByID(ctx context.Context, id int64) (*model.ProcessingJob, error) {
	query, args, _ := psql().
		Select(jobColumns...).
		From(jobTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	var job model.ProcessingJob
	if err := pgxscan.Get(ctx, r.pool, &job, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, model.NewNotFound("job", id)
		}
		return nil, fmt.Errorf("select job: %w", err)
	}
	return &job, nil
}

// LatestJobForEntity returns the newest job of jobType for the entity.
func (r *JobRepository) LatestJobForEntity(ctx context.Context, entityType model.EntityType, entityID string, jobType model.JobType) (*model.ProcessingJob, error) {
	query, args, _ := psql().
		Select(jobColumns...).
		From(jobTable).
		Where(sq.Eq{"entity_type": entityType, "entity_id": entityID, "job_type": jobType}).
		OrderBy("id DESC").
		Limit(1).
		ToSql()
	var job model.ProcessingJob
	if err := pgxscan.Get(ctx, r.pool, &job, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, model.NewNotFound("job", entityID)
		}
		return nil, fmt.Errorf("select latest job: %w", err)
	}
	return &job, nil
}

// ListJobs returns the most recently updated jobs matching filter.
func (r *JobRepository) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.ProcessingJob, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	builder := psql().
		Select(jobColumns...).
		From(jobTable).
		OrderBy("updated_at DESC", "id DESC").
		Limit(uint64(limit))
	if len(filter.JobTypes) > 0 {
		builder = builder.Where(sq.Eq{"job_type": filter.JobTypes})
	}
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": filter.Status})
	}
	query, args, _ := builder.ToSql()

	var jobs []model.ProcessingJob
	if err := pgxscan.Select(ctx, r.pool, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func (r *JobRepository) JobCounts(ctx context.Context) ([]model.JobCount, error) {
	query, args, _ := psql().
		Select("job_type", "status", "COUNT(*) AS count").
		From(jobTable).
		GroupBy("job_type", "status").
		ToSql()
	var counts []model.JobCount
	if err := pgxscan.Select(ctx, r.pool, &counts, query, args...); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	return counts, nil
}

// QueuePosition is the 1-based position of a pending job among pending jobs
// of the given types, using claim order. Non-pending jobs report 0.
func (r *JobRepository) QueuePosition(ctx context.Context, job *model.ProcessingJob, types []model.JobType) (int, error) {
	if job.Status != model.JobPending {
		return 0, nil
	}
	query, args, _ := psql().
		Select("COUNT(*)").
		From(jobTable).
		Where(sq.Eq{"status": model.JobPending, "job_type": types}).
		Where(sq.Or{
			sq.Lt{"priority": job.Priority},
			sq.And{sq.Eq{"priority": job.Priority}, sq.Lt{"run_at": job.RunAt}},
			sq.And{sq.Eq{"priority": job.Priority, "run_at": job.RunAt}, sq.Lt{"id": job.ID}},
		}).
		ToSql()
	var ahead int
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&ahead); err != nil {
		return 0, fmt.Errorf("queue position: %w", err)
	}
	return ahead + 1, nil
}

// ReclaimStalledJobs finds running jobs whose heartbeat is older than
// staleBefore. Jobs with attempts left go back to pending; the rest fail.
func (r *JobRepository) ReclaimStalledJobs(ctx context.Context, staleBefore time.Time) (requeued, failed int, err error) {
	fail, requeue := stalledJobUpdates(staleBefore, time.Now().UTC())

	query, args, _ := fail.ToSql()
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, 0, fmt.Errorf("fail stalled jobs: %w", err)
	}
	failed = int(tag.RowsAffected())

	query, args, _ = requeue.ToSql()
	tag, err = r.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, failed, fmt.Errorf("requeue stalled jobs: %w", err)
	}
	return int(tag.RowsAffected()), failed, nil
}

// stalledJobUpdates fails stale jobs that used their last attempt and
// requeues the others.
func stalledJobUpdates(staleBefore, now time.Time) (fail, requeue sq.UpdateBuilder) {
	stale := sq.And{
		sq.Eq{"status": model.JobProcessing},
		sq.Or{sq.Eq{"heartbeat_at": nil}, sq.Lt{"heartbeat_at": staleBefore}},
	}
	const msg = "stalled: worker heartbeat lost"

	fail = psql().
		Update(jobTable).
		Set("status", model.JobFailed).
		Set("error_message", msg).
		Set("locked_by", nil).
		Set("updated_at", now).
		Where(stale).
		Where("attempts >= max_attempts")
	requeue = psql().
		Update(jobTable).
		Set("status", model.JobPending).
		Set("error_message", msg).
		Set("locked_by", nil).
		Set("heartbeat_at", nil).
		Set("run_at", now).
		Set("updated_at", now).
		Where(stale).
		Where("attempts < max_attempts")
	return fail, requeue
}

// PruneJobs deletes jobs in status last updated before the cutoff.
func (r *JobRepository) PruneJobs(ctx context.Context, status model.JobStatus, before time.Time) (int, error) {
	query, args, _ := psql().
		Delete(jobTable).
		Where(sq.Eq{"status": status}).
		Where(sq.Lt{"updated_at": before}).
		ToSql()
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("prune %s jobs: %w", status, err)
	}
	return int(tag.RowsAffected()), nil
}

// Ping reports whether the job table is reachable.
func (r *JobRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
