package queue

import (
	"time"

	"github.com/dharsanguruparan/AthleteDocs/internal/model"
)

// Policy is the retry and concurrency budget of one job type.
type Policy struct {
	Retries     int
	BaseBackoff time.Duration
	Concurrency int64
}

var policies = map[model.JobType]Policy{
	model.JobDocumentProcessing: {Retries: 3, BaseBackoff: 5 * time.Second, Concurrency: 5},
	model.JobOCRExtraction:      {Retries: 2, BaseBackoff: 10 * time.Second, Concurrency: 3},
	model.JobDataValidation:     {Retries: 2, BaseBackoff: 10 * time.Second, Concurrency: 2},
	model.JobAuthenticityCheck:  {Retries: 2, BaseBackoff: 10 * time.Second, Concurrency: 2},
}

// PolicyFor returns the policy of t. Every declared job type has one.
func PolicyFor(t model.JobType) Policy {
	if p, ok := policies[t]; ok {
		return p
	}
	return Policy{Retries: 2, BaseBackoff: 10 * time.Second, Concurrency: 1}
}

// MaxAttempts counts the first run plus its retries.
func (p Policy) MaxAttempts() int { return p.Retries + 1 }

// Backoff is the delay before the retry following attempt (1-based):
// base, 2*base, 4*base and so on.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseBackoff << (attempt - 1)
}
