// Package worker runs the periodic queue upkeep next to the job pool. With
// Redis configured the pass is scheduled through asynq, so of many worker
// processes only one runs each tick; without Redis a local ticker drives it.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/AthleteDocs/internal/config"
	"github.com/dharsanguruparan/AthleteDocs/internal/queue"
)

const (
	// MaintainQueueTask is the asynq task type of one maintenance pass.
	MaintainQueueTask = "queue:maintain"
	maintenanceQueue  = "maintenance"
)

// Maintainer is the queue upkeep entry point.
type Maintainer interface {
	Maintain(ctx context.Context, r queue.Retention) (*queue.MaintenanceResult, error)
}

// RetentionFromConfig copies stall and retention windows out of cfg.
func RetentionFromConfig(cfg *config.Config) queue.Retention {
	return queue.Retention{
		StallTimeout: cfg.StallTimeout,
		Completed:    cfg.CompletedJobRetention,
		Failed:       cfg.FailedJobRetention,
	}
}

// Maintenance is plugged into the asynq worker loop.
type Maintenance struct {
	queue     Maintainer
	retention queue.Retention
	interval  time.Duration
	logger    logrus.FieldLogger
}

// NewMaintenance constructs the maintenance runner.
func NewMaintenance(q Maintainer, retention queue.Retention, interval time.Duration, logger logrus.FieldLogger) *Maintenance {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Maintenance{queue: q, retention: retention, interval: interval, logger: logger}
}

// Handler registers the maintenance task handler.
func (m *Maintenance) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(MaintainQueueTask, m.handleMaintain)
	return mux
}

// NewMaintainTask builds the scheduled task. Unique keeps a slow pass from
// piling up behind itself.
func (m *Maintenance) NewMaintainTask() *asynq.Task {
	return asynq.NewTask(MaintainQueueTask, nil,
		asynq.Queue(maintenanceQueue),
		asynq.MaxRetry(0),
		asynq.Timeout(m.interval),
		asynq.Unique(m.interval),
	)
}

func (m *Maintenance) handleMaintain(ctx context.Context, _ *asynq.Task) error {
	res, err := m.queue.Maintain(ctx, m.retention)
	if err != nil {
		m.logger.WithError(err).Error("queue maintenance failed")
		return err
	}
	if res.Requeued+res.FailedStalled+res.PrunedCompleted+res.PrunedFailed > 0 {
		m.logger.WithFields(logrus.Fields{
			"requeued":         res.Requeued,
			"failed_stalled":   res.FailedStalled,
			"pruned_completed": res.PrunedCompleted,
			"pruned_failed":    res.PrunedFailed,
		}).Info("queue maintenance pass")
	}
	return nil
}

// Run blocks until ctx is done. A nil redis runs the local ticker.
func (m *Maintenance) Run(ctx context.Context, redis *asynq.RedisClientOpt) error {
	if redis == nil {
		return m.runLocal(ctx)
	}

	server := asynq.NewServer(*redis, asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{maintenanceQueue: 1},
		Logger:      m.logger,
	})
	if err := server.Start(m.Handler()); err != nil {
		return fmt.Errorf("start maintenance server: %w", err)
	}
	defer server.Shutdown()

	scheduler := asynq.NewScheduler(*redis, &asynq.SchedulerOpts{Location: time.UTC, Logger: m.logger})
	spec := fmt.Sprintf("@every %s", m.interval)
	if _, err := scheduler.Register(spec, m.NewMaintainTask()); err != nil {
		return fmt.Errorf("register maintenance schedule: %w", err)
	}
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("start maintenance scheduler: %w", err)
	}
	defer scheduler.Shutdown()

	m.logger.WithField("every", m.interval).Info("queue maintenance scheduled through redis")
	<-ctx.Done()
	return nil
}

func (m *Maintenance) runLocal(ctx context.Context) error {
	m.logger.WithField("every", m.interval).Info("queue maintenance on local ticker")
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = m.handleMaintain(ctx, nil)
		}
	}
}
