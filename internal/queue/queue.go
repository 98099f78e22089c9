// Package queue schedules processing work over the processing_jobs table.
// The table is the only source of truth: enqueue is a single upsert against
// the active-job unique index and workers claim rows with SKIP LOCKED.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/AthleteDocs/internal/model"
)

// Store is the job persistence used by the queue and its workers.
type Store interface {
	EnqueueJob(ctx context.Context, job *model.ProcessingJob) (*model.ProcessingJob, bool, error)
	ClaimJob(ctx context.Context, jobType model.JobType, workerID string) (*model.ProcessingJob, error)
	UpdateJobProgress(ctx context.Context, id int64, progress int) error
	HeartbeatJob(ctx context.Context, id int64) error
	CompleteJob(ctx context.Context, id int64) error
	RescheduleJob(ctx context.Context, id int64, runAt time.Time, msg string) error
	FailJob(ctx context.Context, id int64, msg string) error
	RetryJob(ctx context.Context, id int64) error
	ListJobs(ctx context.Context, filter model.JobFilter) ([]model.ProcessingJob, error)
	JobCounts(ctx context.Context) ([]model.JobCount, error)
	QueuePosition(ctx context.Context, job *model.ProcessingJob, types []model.JobType) (int, error)
	ReclaimStalledJobs(ctx context.Context, staleBefore time.Time) (requeued, failed int, err error)
	PruneJobs(ctx context.Context, status model.JobStatus, before time.Time) (int, error)
	Ping(ctx context.Context) error
}

// Queue submits and inspects jobs.
type Queue struct {
	store     Store
	logger    logrus.FieldLogger
	now       func() time.Time
	inspector *asynq.Inspector
}

type Option func(*Queue)

// WithInspector adds Redis connectivity to Stats.
func WithInspector(in *asynq.Inspector) Option {
	return func(q *Queue) { q.inspector = in }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func New(store Store, logger logrus.FieldLogger, opts ...Option) *Queue {
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	q := &Queue{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue submits a job. When an active job already exists for the same
// entity and type the existing one is kept, takes the more urgent priority,
// and created is false.
func (q *Queue) Enqueue(ctx context.Context, jobType model.JobType, entityType model.EntityType, entityID string, priority int, payload map[string]any) (*model.ProcessingJob, bool, error) {
	if priority <= 0 {
		priority = model.PriorityNormal
	}
	job, created, err := q.store.EnqueueJob(ctx, &model.ProcessingJob{
		JobType:     jobType,
		EntityType:  entityType,
		EntityID:    entityID,
		Payload:     payload,
		Priority:    priority,
		MaxAttempts: PolicyFor(jobType).MaxAttempts(),
		RunAt:       q.now().UTC(),
	})
	if err != nil {
		return nil, false, fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	log := q.logger.WithFields(logrus.Fields{"job_id": job.ID, "job_type": jobType, "entity_id": entityID})
	if created {
		log.Debug("job queued")
	} else {
		log.Info("job already active, coalesced")
	}
	return job, created, nil
}

// AddDocumentToQueue queues document processing for documentID.
func (q *Queue) AddDocumentToQueue(ctx context.Context, documentID string, priority int) (*model.ProcessingJob, bool, error) {
	return q.Enqueue(ctx, model.JobDocumentProcessing, model.EntityDocument, documentID, priority,
		map[string]any{"document_id": documentID})
}

// EnqueueAnalysis queues one of the AI follow-up jobs for documentID.
func (q *Queue) EnqueueAnalysis(ctx context.Context, documentID string, jobType model.JobType, priority int) (*model.ProcessingJob, bool, error) {
	if jobType.Queue() != model.QueueAI {
		return nil, false, model.NewValidationError(fmt.Sprintf("%s is not an analysis job", jobType))
	}
	return q.Enqueue(ctx, jobType, model.EntityDocument, documentID, priority,
		map[string]any{"document_id": documentID})
}

// Position is the 1-based position of job within its logical queue, or 0
// once it is no longer pending.
func (q *Queue) Position(ctx context.Context, job *model.ProcessingJob) (int, error) {
	return q.store.QueuePosition(ctx, job, job.JobType.Queue().JobTypes())
}

// StatsFilter narrows the recent job list of Stats.
type StatsFilter struct {
	Queue  model.QueueName
	Status model.JobStatus
	Limit  int
}

// StatusCounts holds one queue's jobs by status.
type StatusCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

func (c *StatusCounts) add(status model.JobStatus, n int) {
	switch status {
	case model.JobPending:
		c.Pending += n
	case model.JobProcessing:
		c.Processing += n
	case model.JobCompleted:
		c.Completed += n
	case model.JobFailed:
		c.Failed += n
	}
}

// Connectivity reports the reachability of the job stores.
type Connectivity struct {
	Database string `json:"database"`
	Redis    string `json:"redis,omitempty"`
}

// Stats is the queue status report.
type Stats struct {
	Queues       map[model.QueueName]*StatusCounts `json:"queues"`
	Connectivity Connectivity                      `json:"connectivity"`
	RecentJobs   []model.ProcessingJob             `json:"recent_jobs"`
}

// Stats gathers per-queue counts, connectivity and recent jobs.
func (q *Queue) Stats(ctx context.Context, filter StatsFilter) (*Stats, error) {
	out := &Stats{Queues: map[model.QueueName]*StatusCounts{
		model.QueueDocument: {},
		model.QueueAI:       {},
	}}
	out.Connectivity.Database = "connected"
	if err := q.store.Ping(ctx); err != nil {
		out.Connectivity.Database = "unreachable: " + err.Error()
		return out, nil
	}
	if q.inspector != nil {
		out.Connectivity.Redis = "connected"
		if _, err := q.inspector.Queues(); err != nil {
			out.Connectivity.Redis = "unreachable: " + err.Error()
		}
	}

	counts, err := q.store.JobCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	for _, c := range counts {
		out.Queues[c.JobType.Queue()].add(c.Status, c.Count)
	}

	jobFilter := model.JobFilter{Status: filter.Status, Limit: filter.Limit}
	if filter.Queue != "" {
		jobFilter.JobTypes = filter.Queue.JobTypes()
	}
	recent, err := q.store.ListJobs(ctx, jobFilter)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	out.RecentJobs = recent
	return out, nil
}

// RetryResult aggregates a retry request. Individual failures are logged.
type RetryResult struct {
	Requested int `json:"requested"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
}

// maxRetryAll bounds one RetryFailedJobs sweep.
const maxRetryAll = 1000

// RetryFailedJobs moves every failed job in both queues back to pending.
func (q *Queue) RetryFailedJobs(ctx context.Context) (*RetryResult, error) {
	failed, err := q.store.ListJobs(ctx, model.JobFilter{Status: model.JobFailed, Limit: maxRetryAll})
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}
	ids := make([]int64, len(failed))
	for i, j := range failed {
		ids[i] = j.ID
	}
	return q.RetryJobs(ctx, ids), nil
}

// RetryJobs retries the given failed jobs with a fresh attempt budget.
func (q *Queue) RetryJobs(ctx context.Context, ids []int64) *RetryResult {
	out := &RetryResult{Requested: len(ids)}
	for _, id := range ids {
		if err := q.store.RetryJob(ctx, id); err != nil {
			out.Failed++
			entry := q.logger.WithError(err).WithField("job_id", id)
			if errors.Is(err, model.ErrConflict) {
				entry.Info("retry skipped, job already active")
			} else {
				entry.Warn("retry failed")
			}
			continue
		}
		out.Retried++
	}
	q.logger.WithFields(logrus.Fields{"retried": out.Retried, "failed": out.Failed}).Info("jobs retried")
	return out
}
