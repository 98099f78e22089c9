package repository

import (
	"strings"
	"testing"
	"time"

	"github.com/dharsanguruparan/AthleteDocs/internal/model"
)

var clock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestJobColumnsSkipSerialID(t *testing.T) {
	if jobColumns[0] != "id" {
		t.Fatalf("first job column = %q", jobColumns[0])
	}
	for _, c := range insertJobColumns {
		if c == "id" {
			t.Fatalf("insert columns include the serial id: %v", insertJobColumns)
		}
	}
	if len(documentColumns) != 23 {
		t.Fatalf("document columns = %d, insert supplies 23 values", len(documentColumns))
	}
}

func TestEnqueueCoalescesActiveJobs(t *testing.T) {
	job := &model.ProcessingJob{
		JobType:     model.JobDocumentProcessing,
		EntityType:  model.EntityDocument,
		EntityID:    "doc-1",
		Priority:    model.PriorityHigh,
		MaxAttempts: 3,
	}
	query, args, err := enqueueJobQuery(job, clock).ToSql()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.HasPrefix(query, "INSERT INTO processing_jobs (job_type,") {
		t.Fatalf("query = %s", query)
	}
	for _, want := range []string{
		"ON CONFLICT (entity_type, entity_id, job_type) WHERE status IN ('pending', 'processing')",
		"priority = LEAST(processing_jobs.priority, EXCLUDED.priority)",
		"RETURNING id, job_type,",
		", (xmax = 0) AS created",
	} {
		if !strings.Contains(query, want) {
			t.Fatalf("query lacks %q: %s", want, query)
		}
	}
	if strings.Contains(query, "?") {
		t.Fatalf("question placeholders left: %s", query)
	}
	if len(args) != len(insertJobColumns) {
		t.Fatalf("args = %d, columns = %d", len(args), len(insertJobColumns))
	}
	if args[5] != model.JobPending {
		t.Fatalf("status arg = %v", args[5])
	}
	if !job.RunAt.Equal(clock) || job.Payload == nil {
		t.Fatalf("defaults not applied: run_at %v payload %v", job.RunAt, job.Payload)
	}
}

func TestClaimSkipsLockedRows(t *testing.T) {
	query, args, err := claimJobQuery(model.JobOCRExtraction, "worker-7", clock).ToSql()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, want := range []string{
		"UPDATE processing_jobs SET status = $1, attempts = attempts + 1,",
		"id = (SELECT id FROM processing_jobs WHERE job_type = $6 AND status = $7 AND run_at <= $8",
		"ORDER BY priority, run_at, id LIMIT 1 FOR UPDATE SKIP LOCKED)",
		"RETURNING id,",
	} {
		if !strings.Contains(query, want) {
			t.Fatalf("query lacks %q: %s", want, query)
		}
	}
	if len(args) != 8 {
		t.Fatalf("args = %v", args)
	}
	if args[0] != model.JobProcessing || args[2] != "worker-7" {
		t.Fatalf("set args = %v", args[:5])
	}
	if args[5] != model.JobOCRExtraction || args[6] != model.JobPending {
		t.Fatalf("claim filter args = %v", args[5:])
	}
}

func TestGuardedUpdateRequiresSourceStatus(t *testing.T) {
	query, args, err := guardedUpdateQuery("doc-1", model.TransitionSources(model.StatusDeleted), transitionSet(model.StatusDeleted, clock)).ToSql()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := "UPDATE documents SET processing_status = $1, updated_at = $2 WHERE id = $3 AND processing_status IN ($4,$5,$6)"
	if query != want {
		t.Fatalf("query = %s", query)
	}
	if args[2] != "doc-1" || args[3] != model.StatusPending || args[5] != model.StatusFailed {
		t.Fatalf("args = %v", args)
	}
}

func TestEnteringProcessingCountsAttempt(t *testing.T) {
	query, args, err := guardedUpdateQuery("doc-2", model.TransitionSources(model.StatusProcessing), transitionSet(model.StatusProcessing, clock)).ToSql()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(query, "processing_attempts = processing_attempts + 1") {
		t.Fatalf("attempt not counted: %s", query)
	}
	if !strings.HasSuffix(query, "WHERE id = $6 AND processing_status IN ($7)") {
		t.Fatalf("query = %s", query)
	}
	if args[len(args)-1] != model.StatusPending {
		t.Fatalf("source arg = %v", args[len(args)-1])
	}
}

func TestStalledJobsSplitOnAttemptBudget(t *testing.T) {
	staleBefore := clock.Add(-time.Minute)
	fail, requeue := stalledJobUpdates(staleBefore, clock)

	query, args, err := fail.ToSql()
	if err != nil {
		t.Fatalf("build fail: %v", err)
	}
	if !strings.Contains(query, "(heartbeat_at IS NULL OR heartbeat_at < $") || !strings.HasSuffix(query, "AND attempts >= max_attempts") {
		t.Fatalf("fail query = %s", query)
	}
	if args[0] != model.JobFailed || args[len(args)-1] != staleBefore {
		t.Fatalf("fail args = %v", args)
	}

	query, args, err = requeue.ToSql()
	if err != nil {
		t.Fatalf("build requeue: %v", err)
	}
	if !strings.Contains(query, "heartbeat_at = $") || !strings.HasSuffix(query, "AND attempts < max_attempts") {
		t.Fatalf("requeue query = %s", query)
	}
	if args[0] != model.JobPending {
		t.Fatalf("requeue args = %v", args)
	}
}
