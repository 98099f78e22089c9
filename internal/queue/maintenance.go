package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/AthleteDocs/internal/model"
)

// Retention configures maintenance. Zero durations disable that step.
type Retention struct {
	StallTimeout time.Duration
	Completed    time.Duration
	Failed       time.Duration
}

// MaintenanceResult reports one maintenance pass.
type MaintenanceResult struct {
	Requeued        int `json:"requeued"`
	FailedStalled   int `json:"failed_stalled"`
	PrunedCompleted int `json:"pruned_completed"`
	PrunedFailed    int `json:"pruned_failed"`
}

// Maintain reclaims stalled jobs then prunes old completed and failed jobs.
func (q *Queue) Maintain(ctx context.Context, r Retention) (*MaintenanceResult, error) {
	now := q.now().UTC()
	out := &MaintenanceResult{}
	var err error
	if r.StallTimeout > 0 {
		out.Requeued, out.FailedStalled, err = q.ReclaimStalled(ctx, now.Add(-r.StallTimeout))
		if err != nil {
			return nil, err
		}
	}
	if r.Completed > 0 {
		if out.PrunedCompleted, err = q.store.PruneJobs(ctx, model.JobCompleted, now.Add(-r.Completed)); err != nil {
			return nil, fmt.Errorf("prune completed jobs: %w", err)
		}
	}
	if r.Failed > 0 {
		if out.PrunedFailed, err = q.store.PruneJobs(ctx, model.JobFailed, now.Add(-r.Failed)); err != nil {
			return nil, fmt.Errorf("prune failed jobs: %w", err)
		}
	}
	q.logger.WithFields(logrus.Fields{
		"requeued":         out.Requeued,
		"failed_stalled":   out.FailedStalled,
		"pruned_completed": out.PrunedCompleted,
		"pruned_failed":    out.PrunedFailed,
	}).Debug("queue maintenance")
	return out, nil
}

// ReclaimStalled returns jobs whose heartbeat predates staleBefore to pending,
// or fails them when they are out of attempts.
func (q *Queue) ReclaimStalled(ctx context.Context, staleBefore time.Time) (requeued, failed int, err error) {
	requeued, failed, err = q.store.ReclaimStalledJobs(ctx, staleBefore)
	if err != nil {
		return 0, 0, fmt.Errorf("reclaim stalled jobs: %w", err)
	}
	if requeued+failed > 0 {
		q.logger.WithFields(logrus.Fields{"requeued": requeued, "failed": failed}).Warn("stalled jobs reclaimed")
	}
	return requeued, failed, nil
}
