package model

import (
	"fmt"
	"strings"
	"time"
)

// JobType names a unit of asynchronous work.
type JobType string

const (
	JobDocumentProcessing JobType = "document_processing"
	JobOCRExtraction      JobType = "ocr_extraction"
	JobDataValidation     JobType = "data_validation"
	JobAuthenticityCheck  JobType = "authenticity_check"
)

// JobTypes lists every job type.
func JobTypes() []JobType {
	return []JobType{JobDocumentProcessing, JobOCRExtraction, JobDataValidation, JobAuthenticityCheck}
}

// ParseJobType validates a job type string.
func ParseJobType(s string) (JobType, error) {
	t := JobType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range JobTypes() {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unsupported job type %q", s)
}

// Queue returns the logical queue a job type belongs to.
func (t JobType) Queue() QueueName {
	if t == JobDocumentProcessing {
		return QueueDocument
	}
	return QueueAI
}

// QueueName is one of the two logical queues.
type QueueName string

const (
	QueueDocument QueueName = "document"
	QueueAI       QueueName = "ai"
)

// ParseQueueName validates a queue name.
func ParseQueueName(s string) (QueueName, error) {
	switch q := QueueName(strings.ToLower(strings.TrimSpace(s))); q {
	case QueueDocument, QueueAI:
		return q, nil
	}
	return "", fmt.Errorf("unsupported queue %q", s)
}

// JobTypes returns the job types served by the queue.
func (q QueueName) JobTypes() []JobType {
	var out []JobType
	for _, t := range JobTypes() {
		if t.Queue() == q {
			out = append(out, t)
		}
	}
	return out
}

// JobStatus is the lifecycle of a queue row.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// ParseJobStatus validates a job status string.
func ParseJobStatus(s string) (JobStatus, error) {
	switch st := JobStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case JobPending, JobProcessing, JobCompleted, JobFailed:
		return st, nil
	}
	return "", fmt.Errorf("unsupported job status %q", s)
}

// Priorities: lower is more urgent.
const (
	PriorityHigh   = 1
	PriorityNormal = 5
	PriorityLow    = 10
)

// ParsePriority maps low/normal/high onto queue priorities. An empty string
// is normal.
func ParsePriority(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "low":
		return PriorityLow, nil
	}
	return 0, fmt.Errorf("unsupported priority %q", s)
}

// ProcessingJob is a row in the processing_jobs table, the single
// authoritative queue.
type ProcessingJob struct {
	ID           int64          `db:"id" json:"id"`
	JobType      JobType        `db:"job_type" json:"job_type"`
	EntityType   EntityType     `db:"entity_type" json:"entity_type"`
	EntityID     string         `db:"entity_id" json:"entity_id"`
	Payload      map[string]any `db:"payload" json:"payload,omitempty"`
	Priority     int            `db:"priority" json:"priority"`
	Status       JobStatus      `db:"status" json:"status"`
	Progress     int            `db:"progress" json:"progress"`
	ErrorMessage *string        `db:"error_message" json:"error_message,omitempty"`
	Attempts     int            `db:"attempts" json:"attempts"`
	MaxAttempts  int            `db:"max_attempts" json:"max_attempts"`
	RunAt        time.Time      `db:"run_at" json:"run_at"`
	LockedBy     *string        `db:"locked_by" json:"locked_by,omitempty"`
	HeartbeatAt  *time.Time     `db:"heartbeat_at" json:"heartbeat_at,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// Active reports whether the job still occupies its entity tuple.
func (j *ProcessingJob) Active() bool {
	return j.Status == JobPending || j.Status == JobProcessing
}

// PayloadString reads a string payload value.
func (j *ProcessingJob) PayloadString(key string) string {
	if v, ok := j.Payload[key].(string); ok {
		return v
	}
	return ""
}

// JobCount is one bucket of the status aggregation.
type JobCount struct {
	JobType JobType   `db:"job_type"`
	Status  JobStatus `db:"status"`
	Count   int       `db:"count"`
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	JobTypes []JobType
	Status   JobStatus
	Limit    int
}
