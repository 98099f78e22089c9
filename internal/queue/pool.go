package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/dharsanguruparan/AthleteDocs/internal/model"
)

// Handler executes one claimed job. progress is advisory, 0-100.
type Handler func(ctx context.Context, job *model.ProcessingJob, progress func(int)) error

// Pool polls the job table and runs handlers with a concurrency cap per job
// type. Handlers run detached from the pool's context so shutdown waits for
// in-flight jobs instead of abandoning them mid-write.
type Pool struct {
	queue     *Queue
	workerID  string
	poll      time.Duration
	heartbeat time.Duration
	handlers  map[model.JobType]Handler
	sems      map[model.JobType]*semaphore.Weighted
	wg        sync.WaitGroup
}

// PoolConfig tunes polling and heartbeats.
type PoolConfig struct {
	WorkerID          string
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
}

func NewPool(q *Queue, cfg PoolConfig) *Pool {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker"
	}
	return &Pool{
		queue:     q,
		workerID:  cfg.WorkerID,
		poll:      cfg.PollInterval,
		heartbeat: cfg.HeartbeatInterval,
		handlers:  map[model.JobType]Handler{},
		sems:      map[model.JobType]*semaphore.Weighted{},
	}
}

// Register binds h to jobType with the type's concurrency cap.
func (p *Pool) Register(jobType model.JobType, h Handler) {
	p.handlers[jobType] = h
	p.sems[jobType] = semaphore.NewWeighted(PolicyFor(jobType).Concurrency)
}

// Run polls until ctx is done, then waits for in-flight jobs.
func (p *Pool) Run(ctx context.Context) error {
	if len(p.handlers) == 0 {
		return fmt.Errorf("queue pool: no handlers registered")
	}
	p.queue.logger.WithFields(logrus.Fields{"worker_id": p.workerID, "job_types": len(p.handlers)}).Info("worker pool started")
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()
	for {
		p.dispatch(ctx)
		select {
		case <-ctx.Done():
			p.wg.Wait()
			p.queue.logger.WithField("worker_id", p.workerID).Info("worker pool stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Drain runs every job that is claimable now, including jobs that become
// claimable while draining, and returns how many ran.
func (p *Pool) Drain(ctx context.Context) int {
	total := 0
	for {
		n := p.dispatch(ctx)
		p.wg.Wait()
		if n == 0 {
			return total
		}
		total += n
	}
}

// dispatch claims as many jobs as free slots allow and starts them.
func (p *Pool) dispatch(ctx context.Context) int {
	started := 0
	for jobType, sem := range p.sems {
		for ctx.Err() == nil && sem.TryAcquire(1) {
			job, err := p.queue.store.ClaimJob(ctx, jobType, p.workerID)
			if err != nil {
				sem.Release(1)
				p.queue.logger.WithError(err).WithField("job_type", jobType).Error("claim job")
				break
			}
			if job == nil {
				sem.Release(1)
				break
			}
			started++
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				defer sem.Release(1)
				p.execute(context.WithoutCancel(ctx), job)
			}()
		}
	}
	return started
}

func (p *Pool) execute(ctx context.Context, job *model.ProcessingJob) {
	store := p.queue.store
	log := p.queue.logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"entity":   job.EntityID,
		"attempt":  job.Attempts,
	})
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go func() {
		t := time.NewTicker(p.heartbeat)
		defer t.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-t.C:
				if err := store.HeartbeatJob(hbCtx, job.ID); err != nil {
					log.WithError(err).Debug("heartbeat")
				}
			}
		}
	}()

	progress := func(pct int) {
		if err := store.UpdateJobProgress(ctx, job.ID, pct); err != nil {
			log.WithError(err).Debug("progress update")
		}
	}

	started := time.Now()
	err := p.invoke(ctx, job, progress)
	stopHeartbeat()
	log = log.WithField("duration_ms", time.Since(started).Milliseconds())
	p.finish(ctx, log, job, err)
}

func (p *Pool) invoke(ctx context.Context, job *model.ProcessingJob, progress func(int)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	h, ok := p.handlers[job.JobType]
	if !ok {
		return model.NewValidationError(fmt.Sprintf("no handler for job type %s", job.JobType))
	}
	return h(ctx, job, progress)
}

// finish records the outcome: completed, rescheduled with backoff, or failed
// when the error is permanent or the budget is spent.
func (p *Pool) finish(ctx context.Context, log logrus.FieldLogger, job *model.ProcessingJob, err error) {
	store := p.queue.store
	if err == nil {
		if cerr := store.CompleteJob(ctx, job.ID); cerr != nil {
			log.WithError(cerr).Error("complete job")
			return
		}
		log.Info("job completed")
		return
	}
	if model.IsPermanent(err) || job.Attempts >= job.MaxAttempts {
		if ferr := store.FailJob(ctx, job.ID, err.Error()); ferr != nil {
			log.WithError(ferr).Error("fail job")
		}
		log.WithError(err).Warn("job failed")
		return
	}
	delay := PolicyFor(job.JobType).Backoff(job.Attempts)
	runAt := p.queue.now().UTC().Add(delay)
	if rerr := store.RescheduleJob(ctx, job.ID, runAt, err.Error()); rerr != nil {
		log.WithError(rerr).Error("reschedule job")
		return
	}
	log.WithError(err).WithField("retry_in", delay.String()).Warn("job will be retried")
}
