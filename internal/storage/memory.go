// Package storage contains the in-memory persistence layer. It implements the
// same methods as the Postgres repositories so tests and the memory backend
// can run the whole pipeline without a database.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dharsanguruparan/AthleteDocs/internal/model"
)

// MaxAthleteSequence mirrors the MAXVALUE of athlete_id_seq.
const MaxAthleteSequence = 99999

// MemoryStore provides an in-memory store guarded by an RWMutex. Read locks
// let concurrent status polls proceed while a worker holds no lock at all
// between its writes.
type MemoryStore struct {
	mu            sync.RWMutex
	documents     map[string]*model.Document
	jobs          map[int64]*model.ProcessingJob
	players       map[int64]*model.Player
	notifications []*model.Notification
	nextJobID     int64
	nextNoteID    int64
	sequence      int64
	now           func() time.Time
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]*model.Document),
		jobs:      make(map[int64]*model.ProcessingJob),
		players:   make(map[int64]*model.Player),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// --- documents ---

func (m *MemoryStore) CreateDocument(_ context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.documents[doc.ID]; exists {
		return fmt.Errorf("%w: document %s already exists", model.ErrConflict, doc.ID)
	}
	now := m.now()
	doc.ProcessingStatus = model.StatusPending
	doc.CreatedAt = now
	doc.UpdatedAt = now
	m.documents[doc.ID] = copyDocument(doc)
	return nil
}

// DocumentByID returns a copy so callers cannot mutate internal state.
func (m *MemoryStore) DocumentByID(_ context.Context, id string) (*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil, model.NewNotFound("document", id)
	}
	return copyDocument(doc), nil
}

func (m *MemoryStore) TransitionDocument(_ context.Context, id string, to model.ProcessingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, err := m.guard(id, to, model.TransitionSources(to))
	if err != nil {
		return err
	}
	now := m.now()
	switch to {
	case model.StatusProcessing:
		doc.ProcessingAttempts++
		doc.ProcessingStartedAt = &now
		doc.ProcessingCompletedAt = nil
		doc.ErrorMessage = nil
	case model.StatusPending:
		doc.ErrorMessage = nil
	}
	doc.ProcessingStatus = to
	doc.UpdatedAt = now
	return nil
}

func (m *MemoryStore) SetDocumentType(_ context.Context, id string, docType model.DocumentType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok || doc.ProcessingStatus == model.StatusDeleted {
		return model.NewNotFound("document", id)
	}
	doc.DocumentType = docType
	doc.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) CompleteDocument(_ context.Context, id string, result model.DocumentResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, err := m.guard(id, model.StatusCompleted, model.TransitionSources(model.StatusCompleted))
	if err != nil {
		return err
	}
	now := m.now()
	applyResult(doc, result)
	doc.ProcessingStatus = model.StatusCompleted
	doc.ProcessingCompletedAt = &now
	doc.ErrorMessage = nil
	doc.UpdatedAt = now
	return nil
}

func (m *MemoryStore) FailDocument(_ context.Context, id string, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, err := m.guard(id, model.StatusFailed, model.TransitionSources(model.StatusFailed))
	if err != nil {
		return err
	}
	now := m.now()
	doc.ProcessingStatus = model.StatusFailed
	doc.ErrorMessage = &msg
	doc.ProcessingCompletedAt = &now
	doc.UpdatedAt = now
	return nil
}

func (m *MemoryStore) ApproveDocument(_ context.Context, id string, approval model.DocumentApproval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, err := m.guard(id, model.StatusCompleted, []model.ProcessingStatus{model.StatusCompleted})
	if err != nil {
		return err
	}
	now := m.now()
	verified := model.VerificationVerified
	approvedBy := approval.ApprovedBy
	doc.VerificationStatus = &verified
	doc.ApprovedBy = &approvedBy
	doc.ApprovedAt = &now
	if approval.Notes != "" {
		notes := approval.Notes
		doc.ApprovalNotes = &notes
	}
	if approval.ExtractedData != nil {
		doc.ExtractedData = approval.ExtractedData.Clone()
	}
	doc.UpdatedAt = now
	return nil
}

func (m *MemoryStore) UpdateDocumentResult(_ context.Context, id string, result model.DocumentResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, err := m.guard(id, model.StatusCompleted, []model.ProcessingStatus{model.StatusCompleted})
	if err != nil {
		return err
	}
	applyResult(doc, result)
	doc.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) DocumentIDsByStatus(_ context.Context, status model.ProcessingStatus) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var docs []*model.Document
	for _, doc := range m.documents {
		if doc.ProcessingStatus == status {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].CreatedAt.Before(docs[j].CreatedAt) })
	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}
	return ids, nil
}

func (m *MemoryStore) DocumentAnalytics(_ context.Context, filter model.AnalyticsFilter) (*model.Analytics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type acc struct {
		row        model.TypeBreakdown
		confidence float64
	}
	var (
		out        model.Analytics
		confidence float64
		seconds    float64
		timed      int
		byType     = map[model.DocumentType]*acc{}
	)
	for _, doc := range m.documents {
		if doc.ProcessingStatus == model.StatusDeleted || doc.CreatedAt.Before(filter.Since) {
			continue
		}
		if filter.DocumentType != "" && doc.DocumentType != filter.DocumentType {
			continue
		}
		bucket := byType[doc.DocumentType]
		if bucket == nil {
			bucket = &acc{row: model.TypeBreakdown{DocumentType: doc.DocumentType}}
			byType[doc.DocumentType] = bucket
		}
		out.Total++
		bucket.row.Total++
		switch doc.ProcessingStatus {
		case model.StatusCompleted:
			out.Processed++
			bucket.row.Processed++
			if doc.AIAnalysis != nil {
				confidence += doc.AIAnalysis.Confidence.Overall
				bucket.confidence += doc.AIAnalysis.Confidence.Overall
			}
			if doc.ProcessingStartedAt != nil && doc.ProcessingCompletedAt != nil {
				seconds += doc.ProcessingCompletedAt.Sub(*doc.ProcessingStartedAt).Seconds()
				timed++
			}
		case model.StatusFailed:
			out.Failed++
			bucket.row.Failed++
		}
	}
	if out.Processed > 0 {
		out.AverageConfidence = confidence / float64(out.Processed)
	}
	if timed > 0 {
		out.AverageProcessingSeconds = seconds / float64(timed)
	}
	for _, bucket := range byType {
		if bucket.row.Processed > 0 {
			bucket.row.AverageConfidence = bucket.confidence / float64(bucket.row.Processed)
		}
		out.ByType = append(out.ByType, bucket.row)
	}
	sort.Slice(out.ByType, func(i, j int) bool { return out.ByType[i].DocumentType < out.ByType[j].DocumentType })
	return &out, nil
}

// guard returns the live document when its status is one of from. The caller
// must hold the write lock.
func (m *MemoryStore) guard(id string, to model.ProcessingStatus, from []model.ProcessingStatus) (*model.Document, error) {
	doc, ok := m.documents[id]
	if !ok {
		return nil, model.NewNotFound("document", id)
	}
	for _, s := range from {
		if doc.ProcessingStatus == s {
			return doc, nil
		}
	}
	return nil, fmt.Errorf("%w: document %s is %s, cannot move to %s", model.ErrIllegalTransition, id, doc.ProcessingStatus, to)
}

func applyResult(doc *model.Document, result model.DocumentResult) {
	text := result.OCRText
	analysis := result.Analysis
	verification := result.VerificationStatus
	doc.OCRText = &text
	doc.ExtractedData = result.ExtractedData.Clone()
	doc.AIAnalysis = &analysis
	doc.VerificationStatus = &verification
	if result.DocumentType != "" {
		doc.DocumentType = result.DocumentType
	}
}

func copyDocument(doc *model.Document) *model.Document {
	out := *doc
	out.ExtractedData = doc.ExtractedData.Clone()
	if doc.AIAnalysis != nil {
		analysis := *doc.AIAnalysis
		scores := make(map[string]float64, len(analysis.Authenticity.Scores))
		for k, v := range analysis.Authenticity.Scores {
			scores[k] = v
		}
		analysis.Authenticity.Scores = scores
		out.AIAnalysis = &analysis
	}
	return &out
}
