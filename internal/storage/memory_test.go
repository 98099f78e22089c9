package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dharsanguruparan/AthleteDocs/internal/model"
)

func newDoc(t *testing.T, store *MemoryStore, id string) {
	t.Helper()
	doc := &model.Document{ID: id, EntityType: model.EntityPlayer, EntityID: 1, DocumentType: model.DocBirthCertificate}
	if err := store.CreateDocument(context.Background(), doc); err != nil {
		t.Fatalf("create: %v", err)
	}
}

func TestDocumentTransitions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	newDoc(t, store, "d1")

	if err := store.CompleteDocument(ctx, "d1", model.DocumentResult{}); !errors.Is(err, model.ErrIllegalTransition) {
		t.Fatalf("pending -> completed should be illegal, got %v", err)
	}
	if err := store.TransitionDocument(ctx, "d1", model.StatusProcessing); err != nil {
		t.Fatalf("pending -> processing: %v", err)
	}
	if err := store.CompleteDocument(ctx, "d1", model.DocumentResult{OCRText: "text", VerificationStatus: model.VerificationVerified}); err != nil {
		t.Fatalf("processing -> completed: %v", err)
	}
	if err := store.TransitionDocument(ctx, "d1", model.StatusProcessing); !errors.Is(err, model.ErrIllegalTransition) {
		t.Fatalf("completed -> processing must require a reset, got %v", err)
	}
	if err := store.TransitionDocument(ctx, "d1", model.StatusPending); err != nil {
		t.Fatalf("completed -> pending: %v", err)
	}
	if err := store.TransitionDocument(ctx, "d1", model.StatusProcessing); err != nil {
		t.Fatalf("pending -> processing after reset: %v", err)
	}
	doc, _ := store.DocumentByID(ctx, "d1")
	if doc.ProcessingAttempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", doc.ProcessingAttempts)
	}
	if err := store.TransitionDocument(ctx, "missing", model.StatusProcessing); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDocumentByIDReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	newDoc(t, store, "d1")
	doc, _ := store.DocumentByID(ctx, "d1")
	doc.ProcessingStatus = model.StatusFailed
	again, _ := store.DocumentByID(ctx, "d1")
	if again.ProcessingStatus != model.StatusPending {
		t.Fatalf("mutating a returned document leaked into the store")
	}
}

func TestEnqueueCoalescesActiveJobs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	first, created, err := store.EnqueueJob(ctx, &model.ProcessingJob{
		JobType: model.JobDocumentProcessing, EntityType: model.EntityDocument, EntityID: "d1",
		Priority: model.PriorityLow, MaxAttempts: 4,
	})
	if err != nil || !created {
		t.Fatalf("first enqueue: created=%v err=%v", created, err)
	}
	if err := store.UpdateJobProgress(ctx, first.ID, 40); !errors.Is(err, model.ErrIllegalTransition) {
		t.Fatalf("progress on pending job should be rejected, got %v", err)
	}
	second, created, err := store.EnqueueJob(ctx, &model.ProcessingJob{
		JobType: model.JobDocumentProcessing, EntityType: model.EntityDocument, EntityID: "d1",
		Priority: model.PriorityHigh, MaxAttempts: 4,
	})
	if err != nil || created {
		t.Fatalf("second enqueue should coalesce: created=%v err=%v", created, err)
	}
	if second.ID != first.ID || second.Priority != model.PriorityHigh {
		t.Fatalf("expected same job with raised priority, got %+v", second)
	}
	third, _, _ := store.EnqueueJob(ctx, &model.ProcessingJob{
		JobType: model.JobDocumentProcessing, EntityType: model.EntityDocument, EntityID: "d1",
		Priority: model.PriorityLow, MaxAttempts: 4,
	})
	if third.Priority != model.PriorityHigh {
		t.Fatalf("priority must never be lowered by a re-enqueue")
	}
}

func TestClaimOrderAndQueuePosition(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	enqueue := func(entity string, priority int) *model.ProcessingJob {
		job, _, err := store.EnqueueJob(ctx, &model.ProcessingJob{
			JobType: model.JobDocumentProcessing, EntityType: model.EntityDocument, EntityID: entity,
			Priority: priority, MaxAttempts: 1,
		})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		return job
	}
	low := enqueue("a", model.PriorityLow)
	normal := enqueue("b", model.PriorityNormal)
	high := enqueue("c", model.PriorityHigh)

	pos, _ := store.QueuePosition(ctx, low, model.QueueDocument.JobTypes())
	if pos != 3 {
		t.Fatalf("low priority job should be third, got %d", pos)
	}
	for _, want := range []int64{high.ID, normal.ID, low.ID} {
		got, err := store.ClaimJob(ctx, model.JobDocumentProcessing, "w1")
		if err != nil || got == nil {
			t.Fatalf("claim: %v %v", got, err)
		}
		if got.ID != want || got.Attempts != 1 || got.Status != model.JobProcessing {
			t.Fatalf("expected job %d claimed, got %+v", want, got)
		}
	}
	if got, _ := store.ClaimJob(ctx, model.JobDocumentProcessing, "w1"); got != nil {
		t.Fatalf("expected empty queue, got %+v", got)
	}
}

func TestClaimSkipsFutureRunAt(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	job, _, _ := store.EnqueueJob(ctx, &model.ProcessingJob{
		JobType: model.JobOCRExtraction, EntityType: model.EntityDocument, EntityID: "x", MaxAttempts: 3,
	})
	claimed, _ := store.ClaimJob(ctx, model.JobOCRExtraction, "w")
	if err := store.RescheduleJob(ctx, claimed.ID, time.Now().Add(time.Hour), "boom"); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if got, _ := store.ClaimJob(ctx, model.JobOCRExtraction, "w"); got != nil {
		t.Fatalf("job scheduled in the future was claimed")
	}
	stored, _ := store.JobByID(ctx, job.ID)
	if stored.Status != model.JobPending || stored.ErrorMessage == nil {
		t.Fatalf("unexpected rescheduled job %+v", stored)
	}
}

func TestReclaimStalledJobs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return base })

	retryable, _, _ := store.EnqueueJob(ctx, &model.ProcessingJob{JobType: model.JobDataValidation, EntityType: model.EntityDocument, EntityID: "a", MaxAttempts: 3})
	exhausted, _, _ := store.EnqueueJob(ctx, &model.ProcessingJob{JobType: model.JobAuthenticityCheck, EntityType: model.EntityDocument, EntityID: "b", MaxAttempts: 1})
	store.ClaimJob(ctx, model.JobDataValidation, "w")
	store.ClaimJob(ctx, model.JobAuthenticityCheck, "w")

	store.SetClock(func() time.Time { return base.Add(10 * time.Minute) })
	requeued, failed, err := store.ReclaimStalledJobs(ctx, base.Add(time.Minute))
	if err != nil || requeued != 1 || failed != 1 {
		t.Fatalf("expected 1 requeued and 1 failed, got %d %d %v", requeued, failed, err)
	}
	if j, _ := store.JobByID(ctx, retryable.ID); j.Status != model.JobPending {
		t.Fatalf("retryable job should be pending, got %s", j.Status)
	}
	if j, _ := store.JobByID(ctx, exhausted.ID); j.Status != model.JobFailed {
		t.Fatalf("exhausted job should be failed, got %s", j.Status)
	}
}

func TestRetryAndPrune(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	job, _, _ := store.EnqueueJob(ctx, &model.ProcessingJob{JobType: model.JobDocumentProcessing, EntityType: model.EntityDocument, EntityID: "d", MaxAttempts: 1})
	store.ClaimJob(ctx, model.JobDocumentProcessing, "w")
	if err := store.FailJob(ctx, job.ID, "provider down"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	dup, created, _ := store.EnqueueJob(ctx, &model.ProcessingJob{JobType: model.JobDocumentProcessing, EntityType: model.EntityDocument, EntityID: "d", MaxAttempts: 1})
	if !created {
		t.Fatalf("failed job must not block a new enqueue")
	}
	if err := store.RetryJob(ctx, job.ID); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("retry with an active duplicate should conflict, got %v", err)
	}
	store.ClaimJob(ctx, model.JobDocumentProcessing, "w")
	store.CompleteJob(ctx, dup.ID)
	if err := store.RetryJob(ctx, job.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if err := store.RetryJob(ctx, job.ID); !errors.Is(err, model.ErrIllegalTransition) {
		t.Fatalf("retrying a pending job should be illegal, got %v", err)
	}

	pruned, _ := store.PruneJobs(ctx, model.JobCompleted, time.Now().Add(time.Hour))
	if pruned != 1 {
		t.Fatalf("expected completed job pruned, got %d", pruned)
	}
	if _, err := store.JobByID(ctx, job.ID); err != nil {
		t.Fatalf("pending job should survive pruning: %v", err)
	}
}

func TestAthleteSequenceExhaustion(t *testing.T) {
	store := NewMemoryStore()
	store.sequence = MaxAthleteSequence - 1
	if v, err := store.NextAthleteSequence(context.Background()); err != nil || v != MaxAthleteSequence {
		t.Fatalf("expected last value, got %d %v", v, err)
	}
	if _, err := store.NextAthleteSequence(context.Background()); err == nil {
		t.Fatalf("expected exhaustion error")
	}
}

func TestAssignAthleteIDOnlyOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.PutPlayer(&model.Player{ID: 1})
	store.PutPlayer(&model.Player{ID: 2})
	if ok, err := store.AssignAthleteID(ctx, 1, "ATH0000112"); !ok || err != nil {
		t.Fatalf("first assign: %v %v", ok, err)
	}
	if ok, err := store.AssignAthleteID(ctx, 1, "ATH0000234"); ok || err != nil {
		t.Fatalf("second assign should be a no-op: %v %v", ok, err)
	}
	if _, err := store.AssignAthleteID(ctx, 2, "ATH0000112"); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("duplicate id should conflict, got %v", err)
	}
	if _, err := store.AssignAthleteID(ctx, 9, "ATH0000999"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("missing player should be not found, got %v", err)
	}
}
