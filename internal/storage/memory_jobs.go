package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dharsanguruparan/AthleteDocs/internal/model"
)

// SetClock overrides the store's notion of now. Tests use it to age jobs.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) EnqueueJob(_ context.Context, job *model.ProcessingJob) (*model.ProcessingJob, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing := m.activeJob(job.EntityType, job.EntityID, job.JobType); existing != nil {
		if job.Priority < existing.Priority {
			existing.Priority = job.Priority
		}
		existing.UpdatedAt = m.now()
		return copyJob(existing), false, nil
	}
	now := m.now()
	m.nextJobID++
	stored := copyJob(job)
	stored.ID = m.nextJobID
	stored.Status = model.JobPending
	stored.Progress = 0
	stored.Attempts = 0
	stored.ErrorMessage = nil
	stored.LockedBy = nil
	stored.HeartbeatAt = nil
	if stored.Payload == nil {
		stored.Payload = map[string]any{}
	}
	if stored.RunAt.IsZero() {
		stored.RunAt = now
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.jobs[stored.ID] = stored
	return copyJob(stored), true, nil
}

func (m *MemoryStore) activeJob(entityType model.EntityType, entityID string, jobType model.JobType) *model.ProcessingJob {
	for _, j := range m.jobs {
		if j.EntityType == entityType && j.EntityID == entityID && j.JobType == jobType && j.Active() {
			return j
		}
	}
	return nil
}

// ClaimJob uses the same priority, run_at, id order as the SQL claim.
func (m *MemoryStore) ClaimJob(_ context.Context, jobType model.JobType, workerID string) (*model.ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var next *model.ProcessingJob
	for _, j := range m.jobs {
		if j.JobType != jobType || j.Status != model.JobPending || j.RunAt.After(now) {
			continue
		}
		if next == nil || claimsBefore(j, next) {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}
	worker := workerID
	next.Status = model.JobProcessing
	next.Attempts++
	next.Progress = 0
	next.LockedBy = &worker
	next.HeartbeatAt = &now
	next.UpdatedAt = now
	return copyJob(next), nil
}

func claimsBefore(a, b *model.ProcessingJob) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.RunAt.Equal(b.RunAt) {
		return a.RunAt.Before(b.RunAt)
	}
	return a.ID < b.ID
}

func (m *MemoryStore) UpdateJobProgress(_ context.Context, id int64, progress int) error {
	return m.updateRunning(id, func(j *model.ProcessingJob, now time.Time) {
		j.Progress = progress
		j.HeartbeatAt = &now
	})
}

func (m *MemoryStore) HeartbeatJob(_ context.Context, id int64) error {
	return m.updateRunning(id, func(j *model.ProcessingJob, now time.Time) {
		j.HeartbeatAt = &now
	})
}

func (m *MemoryStore) CompleteJob(_ context.Context, id int64) error {
	return m.updateRunning(id, func(j *model.ProcessingJob, _ time.Time) {
		j.Status = model.JobCompleted
		j.Progress = 100
		j.ErrorMessage = nil
		j.LockedBy = nil
	})
}

func (m *MemoryStore) RescheduleJob(_ context.Context, id int64, runAt time.Time, msg string) error {
	return m.updateRunning(id, func(j *model.ProcessingJob, _ time.Time) {
		j.Status = model.JobPending
		j.RunAt = runAt
		j.ErrorMessage = &msg
		j.LockedBy = nil
		j.HeartbeatAt = nil
	})
}

func (m *MemoryStore) FailJob(_ context.Context, id int64, msg string) error {
	return m.updateRunning(id, func(j *model.ProcessingJob, _ time.Time) {
		j.Status = model.JobFailed
		j.ErrorMessage = &msg
		j.LockedBy = nil
	})
}

func (m *MemoryStore) updateRunning(id int64, apply func(*model.ProcessingJob, time.Time)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return model.NewNotFound("job", id)
	}
	if j.Status != model.JobProcessing {
		return fmt.Errorf("%w: job %d is %s", model.ErrIllegalTransition, id, j.Status)
	}
	now := m.now()
	apply(j, now)
	j.UpdatedAt = now
	return nil
}

func (m *MemoryStore) RetryJob(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return model.NewNotFound("job", id)
	}
	if j.Status != model.JobFailed {
		return fmt.Errorf("%w: job %d is %s", model.ErrIllegalTransition, id, j.Status)
	}
	if m.activeJob(j.EntityType, j.EntityID, j.JobType) != nil {
		return fmt.Errorf("%w: job %d already has an active duplicate", model.ErrConflict, id)
	}
	now := m.now()
	j.Status = model.JobPending
	j.Attempts = 0
	j.Progress = 0
	j.ErrorMessage = nil
	j.RunAt = now
	j.UpdatedAt = now
	return nil
}

func (m *MemoryStore) JobByID(_ context.Context, id int64) (*model.ProcessingJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, model.NewNotFound("job", id)
	}
	return copyJob(j), nil
}

func (m *MemoryStore) LatestJobForEntity(_ context.Context, entityType model.EntityType, entityID string, jobType model.JobType) (*model.ProcessingJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *model.ProcessingJob
	for _, j := range m.jobs {
		if j.EntityType == entityType && j.EntityID == entityID && j.JobType == jobType {
			if latest == nil || j.ID > latest.ID {
				latest = j
			}
		}
	}
	if latest == nil {
		return nil, model.NewNotFound("job", entityID)
	}
	return copyJob(latest), nil
}

func (m *MemoryStore) ListJobs(_ context.Context, filter model.JobFilter) ([]model.ProcessingJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var out []model.ProcessingJob
	for _, j := range m.jobs {
		if len(filter.JobTypes) > 0 && !containsJobType(filter.JobTypes, j.JobType) {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		out = append(out, *copyJob(j))
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].UpdatedAt.Equal(out[k].UpdatedAt) {
			return out[i].UpdatedAt.After(out[k].UpdatedAt)
		}
		return out[i].ID > out[k].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) JobCounts(_ context.Context) ([]model.JobCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type key struct {
		t model.JobType
		s model.JobStatus
	}
	counts := map[key]int{}
	for _, j := range m.jobs {
		counts[key{j.JobType, j.Status}]++
	}
	out := make([]model.JobCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, model.JobCount{JobType: k.t, Status: k.s, Count: n})
	}
	return out, nil
}

func (m *MemoryStore) QueuePosition(_ context.Context, job *model.ProcessingJob, types []model.JobType) (int, error) {
	if job.Status != model.JobPending {
		return 0, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ahead := 0
	for _, j := range m.jobs {
		if j.Status == model.JobPending && containsJobType(types, j.JobType) && claimsBefore(j, job) {
			ahead++
		}
	}
	return ahead + 1, nil
}

func (m *MemoryStore) ReclaimStalledJobs(_ context.Context, staleBefore time.Time) (requeued, failed int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	msg := "stalled: worker heartbeat lost"
	for _, j := range m.jobs {
		if j.Status != model.JobProcessing {
			continue
		}
		if j.HeartbeatAt != nil && !j.HeartbeatAt.Before(staleBefore) {
			continue
		}
		reason := msg
		j.ErrorMessage = &reason
		j.LockedBy = nil
		j.UpdatedAt = now
		if j.Attempts >= j.MaxAttempts {
			j.Status = model.JobFailed
			failed++
			continue
		}
		j.Status = model.JobPending
		j.HeartbeatAt = nil
		j.RunAt = now
		requeued++
	}
	return requeued, failed, nil
}

func (m *MemoryStore) PruneJobs(_ context.Context, status model.JobStatus, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pruned := 0
	for id, j := range m.jobs {
		if j.Status == status && j.UpdatedAt.Before(before) {
			delete(m.jobs, id)
			pruned++
		}
	}
	return pruned, nil
}

func containsJobType(types []model.JobType, t model.JobType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func copyJob(j *model.ProcessingJob) *model.ProcessingJob {
	out := *j
	if j.Payload != nil {
		out.Payload = make(map[string]any, len(j.Payload))
		for k, v := range j.Payload {
			out.Payload[k] = v
		}
	}
	return &out
}
