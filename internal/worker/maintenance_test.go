package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/dharsanguruparan/AthleteDocs/internal/model"
	"github.com/dharsanguruparan/AthleteDocs/internal/queue"
	"github.com/dharsanguruparan/AthleteDocs/internal/storage"
)

func TestMaintainTaskRequeuesStalledJobs(t *testing.T) {
	logger, hook := test.NewNullLogger()
	store := storage.NewMemoryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store.SetClock(clock)
	q := queue.New(store, logger, queue.WithClock(clock))

	ctx := context.Background()
	job, _, _ := q.AddDocumentToQueue(ctx, "doc-1", 0)
	store.ClaimJob(ctx, model.JobDocumentProcessing, "crashed-worker")
	now = now.Add(5 * time.Minute)

	m := NewMaintenance(q, queue.Retention{StallTimeout: 2 * time.Minute}, time.Minute, logger)
	task := m.NewMaintainTask()
	if task.Type() != MaintainQueueTask {
		t.Fatalf("task type %s", task.Type())
	}
	if err := m.handleMaintain(ctx, task); err != nil {
		t.Fatalf("maintain: %v", err)
	}
	got, _ := store.JobByID(ctx, job.ID)
	if got.Status != model.JobPending {
		t.Fatalf("stalled job status %s", got.Status)
	}
	if hook.LastEntry() == nil || hook.LastEntry().Message != "queue maintenance pass" {
		t.Fatalf("pass not logged")
	}
}

type countingMaintainer struct {
	calls atomic.Int32
	err   error
}

func (c *countingMaintainer) Maintain(context.Context, queue.Retention) (*queue.MaintenanceResult, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return &queue.MaintenanceResult{}, nil
}

func TestHandlerReturnsMaintenanceErrors(t *testing.T) {
	logger, _ := test.NewNullLogger()
	m := NewMaintenance(&countingMaintainer{err: errors.New("db down")}, queue.Retention{}, time.Minute, logger)
	if err := m.Handler().ProcessTask(context.Background(), asynq.NewTask(MaintainQueueTask, nil)); err == nil {
		t.Fatalf("expected maintenance error")
	}
}

func TestLocalTickerRunsUntilCancelled(t *testing.T) {
	logger, _ := test.NewNullLogger()
	counter := &countingMaintainer{}
	m := NewMaintenance(counter, queue.Retention{}, 5*time.Millisecond, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, nil) }()

	deadline := time.After(2 * time.Second)
	for counter.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("ticker ran %d passes", counter.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}
