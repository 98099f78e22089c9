package processing

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/AthleteDocs/internal/extraction"
	"github.com/dharsanguruparan/AthleteDocs/internal/model"
)

// BulkItem is the per-document outcome of a bulk operation.
type BulkItem struct {
	DocumentID   string `json:"document_id"`
	JobID        int64  `json:"job_id,omitempty"`
	Deduplicated bool   `json:"deduplicated,omitempty"`
	Error        string `json:"error,omitempty"`
}

// BulkResult aggregates a bulk operation. One document failing never aborts
// the others.
type BulkResult struct {
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
	Items     []BulkItem `json:"items"`
}

func (r *BulkResult) add(item BulkItem) {
	if item.Error != "" {
		r.Failed++
	} else {
		r.Succeeded++
	}
	r.Items = append(r.Items, item)
}

// BulkProcess queues every id at priority. Approved documents are refused
// per item. initiatedBy is only logged.
func (p *Processor) BulkProcess(ctx context.Context, ids []string, priority int, initiatedBy string) (*BulkResult, error) {
	if len(ids) == 0 {
		return nil, model.NewValidationError("document_ids must not be empty")
	}
	out := &BulkResult{Items: make([]BulkItem, 0, len(ids))}
	for _, id := range ids {
		out.add(p.enqueue(ctx, id, priority))
	}
	p.logger.WithFields(logrus.Fields{
		"initiated_by": initiatedBy,
		"queued":       out.Succeeded,
		"failed":       out.Failed,
	}).Info("bulk processing queued")
	return out, nil
}

func (p *Processor) enqueue(ctx context.Context, id string, priority int) BulkItem {
	item := BulkItem{DocumentID: id}
	doc, err := p.store.DocumentByID(ctx, id)
	if err != nil {
		item.Error = err.Error()
		return item
	}
	if doc.ProcessingStatus == model.StatusDeleted {
		item.Error = model.NewNotFound("document", id).Error()
		return item
	}
	if err := approvalLock(doc); err != nil {
		item.Error = err.Error()
		return item
	}
	job, created, err := p.queue.AddDocumentToQueue(ctx, id, priority)
	if err != nil {
		item.Error = err.Error()
		return item
	}
	item.JobID = job.ID
	item.Deduplicated = !created
	return item
}

// ProcessInline runs ProcessDocument for each id without the queue, with at
// most the configured number in flight.
func (p *Processor) ProcessInline(ctx context.Context, ids []string) *BulkResult {
	items := make([]BulkItem, len(ids))
	var g errgroup.Group
	g.SetLimit(p.bulkLimit)
	for i, id := range ids {
		g.Go(func() error {
			items[i] = BulkItem{DocumentID: id}
			doc, err := p.store.DocumentByID(ctx, id)
			if err == nil {
				err = approvalLock(doc)
			}
			if err == nil && (doc.ProcessingStatus == model.StatusFailed || doc.ProcessingStatus == model.StatusCompleted) {
				err = p.store.TransitionDocument(ctx, id, model.StatusPending)
			}
			if err == nil {
				_, err = p.ProcessDocument(ctx, id)
			}
			if err != nil {
				items[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	out := &BulkResult{Items: make([]BulkItem, 0, len(ids))}
	for _, item := range items {
		out.add(item)
	}
	return out
}

// Approval is an admin sign-off. Corrections override extracted fields and
// are validated like model output.
type Approval struct {
	ApprovedBy  string
	Corrections map[string]any
	Notes       string
}

// ApproveDocument applies corrections and marks a completed document
// verified.
func (p *Processor) ApproveDocument(ctx context.Context, id string, approval Approval) (*model.Document, error) {
	if approval.ApprovedBy == "" {
		return nil, model.NewValidationError("approved_by is required")
	}
	doc, err := p.store.DocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.ProcessingStatus != model.StatusCompleted {
		return nil, fmt.Errorf("%w: document %s is %s, only completed documents can be approved", model.ErrIllegalTransition, id, doc.ProcessingStatus)
	}

	var corrected model.ExtractedData
	if len(approval.Corrections) > 0 {
		corrected, err = applyCorrections(doc.DocumentType, doc.ExtractedData, approval.Corrections)
		if err != nil {
			return nil, err
		}
	}
	if err := p.store.ApproveDocument(ctx, id, model.DocumentApproval{
		ApprovedBy:    approval.ApprovedBy,
		ExtractedData: corrected,
		Notes:         approval.Notes,
	}); err != nil {
		return nil, err
	}
	p.logger.WithFields(logrus.Fields{
		"document_id": id,
		"approved_by": approval.ApprovedBy,
		"corrections": len(approval.Corrections),
	}).Info("document approved")
	return p.store.DocumentByID(ctx, id)
}

func applyCorrections(docType model.DocumentType, current model.ExtractedData, corrections map[string]any) (model.ExtractedData, error) {
	declared := map[string]bool{}
	for _, f := range extraction.Fields(docType) {
		declared[f] = true
	}
	var violations []string
	cleaned := extraction.ValidateFields(docType, corrections)
	merged := current.Clone()
	if merged == nil {
		merged = model.ExtractedData{}
	}
	for field, value := range corrections {
		if !declared[field] {
			violations = append(violations, fmt.Sprintf("%s is not a field of %s", field, docType))
			continue
		}
		if value != nil && !cleaned.Has(field) {
			violations = append(violations, fmt.Sprintf("invalid value for %s", field))
			continue
		}
		merged[field] = cleaned[field]
	}
	if len(violations) > 0 {
		return nil, model.NewValidationError(violations...)
	}
	return merged, nil
}

// StatusReport is what status polling returns.
type StatusReport struct {
	DocumentID         string                    `json:"upload_id"`
	DocumentType       model.DocumentType        `json:"document_type"`
	ProcessingStatus   model.ProcessingStatus    `json:"processing_status"`
	Progress           int                       `json:"progress"`
	ExtractedData      model.ExtractedData       `json:"extracted_data"`
	ConfidenceScore    *float64                  `json:"confidence_score"`
	VerificationStatus *model.VerificationStatus `json:"verification_status,omitempty"`
	ErrorMessage       *string                   `json:"error_message"`
	ProcessingAttempts int                       `json:"processing_attempts"`
}

// DocumentStatus reports a document's state and the progress of its latest
// processing job.
func (p *Processor) DocumentStatus(ctx context.Context, id string) (*StatusReport, error) {
	doc, err := p.store.DocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	report := &StatusReport{
		DocumentID:         doc.ID,
		DocumentType:       doc.DocumentType,
		ProcessingStatus:   doc.ProcessingStatus,
		ExtractedData:      doc.ExtractedData,
		VerificationStatus: doc.VerificationStatus,
		ErrorMessage:       doc.ErrorMessage,
		ProcessingAttempts: doc.ProcessingAttempts,
	}
	if doc.AIAnalysis != nil {
		overall := doc.AIAnalysis.Confidence.Overall
		report.ConfidenceScore = &overall
	}
	switch doc.ProcessingStatus {
	case model.StatusCompleted:
		report.Progress = 100
	case model.StatusPending, model.StatusProcessing:
		job, err := p.store.LatestJobForEntity(ctx, model.EntityDocument, id, model.JobDocumentProcessing)
		switch {
		case err == nil:
			report.Progress = job.Progress
		case !errors.Is(err, model.ErrNotFound):
			return nil, fmt.Errorf("load processing job: %w", err)
		}
	}
	return report, nil
}

// Analytics aggregates documents created within the timeframe.
func (p *Processor) Analytics(ctx context.Context, timeframe model.Timeframe, docType model.DocumentType) (*model.Analytics, error) {
	return p.store.DocumentAnalytics(ctx, model.AnalyticsFilter{
		Since:        timeframe.Since(p.now().UTC()),
		DocumentType: docType,
	})
}

// ReprocessFailed resets every failed document to pending and queues it.
func (p *Processor) ReprocessFailed(ctx context.Context, priority int) (*BulkResult, error) {
	ids, err := p.store.DocumentIDsByStatus(ctx, model.StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("list failed documents: %w", err)
	}
	out := &BulkResult{Items: make([]BulkItem, 0, len(ids))}
	for _, id := range ids {
		if err := p.store.TransitionDocument(ctx, id, model.StatusPending); err != nil {
			out.add(BulkItem{DocumentID: id, Error: err.Error()})
			continue
		}
		out.add(p.enqueue(ctx, id, priority))
	}
	p.logger.WithFields(logrus.Fields{"requeued": out.Succeeded, "failed": out.Failed}).Info("failed documents requeued")
	return out, nil
}

// Reanalyze queues an AI follow-up job for a completed document.
func (p *Processor) Reanalyze(ctx context.Context, id string, jobType model.JobType, priority int) (*model.ProcessingJob, bool, error) {
	if jobType.Queue() != model.QueueAI {
		return nil, false, model.NewValidationError(fmt.Sprintf("%s is not an analysis job", jobType))
	}
	doc, err := p.store.DocumentByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if doc.ProcessingStatus != model.StatusCompleted {
		return nil, false, fmt.Errorf("%w: document %s is %s, only completed documents can be reanalyzed", model.ErrConflict, id, doc.ProcessingStatus)
	}
	if jobType == model.JobOCRExtraction {
		if err := approvalLock(doc); err != nil {
			return nil, false, err
		}
	}
	return p.queue.EnqueueAnalysis(ctx, id, jobType, priority)
}

// approvalLock refuses machine re-extraction of an approved document, which
// would replace the data the approver signed off.
func approvalLock(doc *model.Document) error {
	if doc.ApprovedBy == nil {
		return nil
	}
	return fmt.Errorf("%w: document %s was approved by %s and is not re-extracted", model.ErrIllegalTransition, doc.ID, *doc.ApprovedBy)
}
