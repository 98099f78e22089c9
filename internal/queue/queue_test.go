package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/dharsanguruparan/AthleteDocs/internal/model"
	"github.com/dharsanguruparan/AthleteDocs/internal/storage"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newQueue(t *testing.T) (*Queue, *storage.MemoryStore, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := storage.NewMemoryStore()
	store.SetClock(c.Now)
	logger, _ := test.NewNullLogger()
	return New(store, logger, WithClock(c.Now)), store, c
}

func TestPolicyBackoff(t *testing.T) {
	doc := PolicyFor(model.JobDocumentProcessing)
	if doc.MaxAttempts() != 4 {
		t.Fatalf("document max attempts = %d", doc.MaxAttempts())
	}
	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}
	for i, w := range want {
		if got := doc.Backoff(i + 1); got != w {
			t.Fatalf("backoff(%d) = %s, want %s", i+1, got, w)
		}
	}
	ai := PolicyFor(model.JobOCRExtraction)
	if ai.MaxAttempts() != 3 || ai.Backoff(1) != 10*time.Second || ai.Concurrency != 3 {
		t.Fatalf("unexpected ai policy %+v", ai)
	}
}

func TestAddDocumentToQueueCoalesces(t *testing.T) {
	q, _, _ := newQueue(t)
	ctx := context.Background()
	first, created, err := q.AddDocumentToQueue(ctx, "doc-1", model.PriorityLow)
	if err != nil || !created {
		t.Fatalf("first enqueue: created=%v err=%v", created, err)
	}
	if first.MaxAttempts != 4 {
		t.Fatalf("max attempts not stored: %d", first.MaxAttempts)
	}
	second, created, err := q.AddDocumentToQueue(ctx, "doc-1", model.PriorityHigh)
	if err != nil || created {
		t.Fatalf("second enqueue should coalesce: created=%v err=%v", created, err)
	}
	if second.ID != first.ID || second.Priority != model.PriorityHigh {
		t.Fatalf("expected same job with high priority, got %+v", second)
	}
	pos, err := q.Position(ctx, second)
	if err != nil || pos != 1 {
		t.Fatalf("position = %d, %v", pos, err)
	}
}

func TestEnqueueAnalysisRejectsDocumentJob(t *testing.T) {
	q, _, _ := newQueue(t)
	_, _, err := q.EnqueueAnalysis(context.Background(), "doc-1", model.JobDocumentProcessing, 0)
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPoolRetriesWithBackoffThenFails(t *testing.T) {
	q, store, c := newQueue(t)
	ctx := context.Background()
	job, _, _ := q.AddDocumentToQueue(ctx, "doc-1", 0)

	var calls atomic.Int32
	pool := NewPool(q, PoolConfig{WorkerID: "w1"})
	pool.Register(model.JobDocumentProcessing, func(context.Context, *model.ProcessingJob, func(int)) error {
		calls.Add(1)
		return &model.ProviderError{Provider: "vision", Err: errors.New("rate limited")}
	})

	for attempt := 1; attempt <= 4; attempt++ {
		if n := pool.Drain(ctx); n != 1 {
			t.Fatalf("attempt %d: drained %d jobs", attempt, n)
		}
		got, _ := store.JobByID(ctx, job.ID)
		if got.Attempts != attempt {
			t.Fatalf("attempts = %d, want %d", got.Attempts, attempt)
		}
		if attempt < 4 {
			if got.Status != model.JobPending {
				t.Fatalf("attempt %d: status %s", attempt, got.Status)
			}
			if n := pool.Drain(ctx); n != 0 {
				t.Fatalf("job ran before its backoff elapsed")
			}
			c.Advance(PolicyFor(model.JobDocumentProcessing).Backoff(attempt))
			continue
		}
		if got.Status != model.JobFailed || got.ErrorMessage == nil {
			t.Fatalf("expected failed job with message, got %+v", got)
		}
	}
	if calls.Load() != 4 {
		t.Fatalf("handler calls = %d", calls.Load())
	}
}

func TestPoolFailsPermanentErrorsImmediately(t *testing.T) {
	q, store, _ := newQueue(t)
	ctx := context.Background()
	job, _, _ := q.AddDocumentToQueue(ctx, "doc-1", 0)
	pool := NewPool(q, PoolConfig{})
	pool.Register(model.JobDocumentProcessing, func(context.Context, *model.ProcessingJob, func(int)) error {
		return model.NewNotFound("document", "doc-1")
	})
	pool.Drain(ctx)
	got, _ := store.JobByID(ctx, job.ID)
	if got.Status != model.JobFailed || got.Attempts != 1 {
		t.Fatalf("expected failure on first attempt, got %+v", got)
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	q, store, _ := newQueue(t)
	ctx := context.Background()
	job, _, _ := q.AddDocumentToQueue(ctx, "doc-1", 0)
	pool := NewPool(q, PoolConfig{})
	pool.Register(model.JobDocumentProcessing, func(context.Context, *model.ProcessingJob, func(int)) error {
		panic("boom")
	})
	pool.Drain(ctx)
	got, _ := store.JobByID(ctx, job.ID)
	if got.Status != model.JobPending || got.ErrorMessage == nil {
		t.Fatalf("panic should reschedule, got %+v", got)
	}
}

func TestPoolHonorsConcurrencyPerType(t *testing.T) {
	q, _, _ := newQueue(t)
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		if _, _, err := q.AddDocumentToQueue(ctx, fmt.Sprintf("doc-%d", i), 0); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	release := make(chan struct{})
	var running, peak atomic.Int32
	pool := NewPool(q, PoolConfig{})
	pool.Register(model.JobDocumentProcessing, func(context.Context, *model.ProcessingJob, func(int)) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return nil
	})

	if started := pool.dispatch(ctx); started != 5 {
		t.Fatalf("started %d jobs, want 5", started)
	}
	if started := pool.dispatch(ctx); started != 0 {
		t.Fatalf("dispatch exceeded the cap: %d more", started)
	}
	close(release)
	pool.wg.Wait()
	if rest := pool.Drain(ctx); rest != 3 {
		t.Fatalf("remaining jobs = %d", rest)
	}
	if peak.Load() > 5 {
		t.Fatalf("peak concurrency %d", peak.Load())
	}
}

func TestStatsAndRetry(t *testing.T) {
	q, store, _ := newQueue(t)
	ctx := context.Background()
	a, _, _ := q.AddDocumentToQueue(ctx, "doc-a", 0)
	q.AddDocumentToQueue(ctx, "doc-b", 0)
	q.EnqueueAnalysis(ctx, "doc-a", model.JobAuthenticityCheck, 0)

	claimed, _ := store.ClaimJob(ctx, model.JobDocumentProcessing, "w")
	if claimed.ID != a.ID {
		t.Fatalf("claimed %d", claimed.ID)
	}
	store.FailJob(ctx, a.ID, "broken")

	stats, err := q.Stats(ctx, StatsFilter{Queue: model.QueueDocument})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if doc := stats.Queues[model.QueueDocument]; doc.Pending != 1 || doc.Failed != 1 {
		t.Fatalf("document counts %+v", doc)
	}
	if ai := stats.Queues[model.QueueAI]; ai.Pending != 1 {
		t.Fatalf("ai counts %+v", ai)
	}
	if stats.Connectivity.Database != "connected" || len(stats.RecentJobs) != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	res, err := q.RetryFailedJobs(ctx)
	if err != nil || res.Retried != 1 || res.Failed != 0 {
		t.Fatalf("retry failed: %+v %v", res, err)
	}
	again := q.RetryJobs(ctx, []int64{a.ID, 999})
	if again.Requested != 2 || again.Retried != 0 || again.Failed != 2 {
		t.Fatalf("retry of non-failed jobs: %+v", again)
	}
}

func TestMaintainReclaimsAndPrunes(t *testing.T) {
	q, store, c := newQueue(t)
	ctx := context.Background()
	stalled, _, _ := q.AddDocumentToQueue(ctx, "doc-stalled", 0)
	done, _, _ := q.AddDocumentToQueue(ctx, "doc-done", 0)
	store.ClaimJob(ctx, model.JobDocumentProcessing, "w")
	store.ClaimJob(ctx, model.JobDocumentProcessing, "w")
	store.CompleteJob(ctx, done.ID)

	c.Advance(3 * time.Minute)
	res, err := q.Maintain(ctx, Retention{StallTimeout: 2 * time.Minute, Completed: time.Minute, Failed: time.Hour})
	if err != nil {
		t.Fatalf("maintain: %v", err)
	}
	if res.Requeued != 1 || res.PrunedCompleted != 1 || res.PrunedFailed != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	got, _ := store.JobByID(ctx, stalled.ID)
	if got.Status != model.JobPending {
		t.Fatalf("stalled job status %s", got.Status)
	}
	if _, err := store.JobByID(ctx, done.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("completed job not pruned: %v", err)
	}
}
