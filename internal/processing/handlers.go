package processing

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/AthleteDocs/internal/extraction"
	"github.com/dharsanguruparan/AthleteDocs/internal/model"
)

type progressKey struct{}

// WithProgress attaches a progress reporter that StageProgress feeds.
func WithProgress(ctx context.Context, report func(int)) context.Context {
	return context.WithValue(ctx, progressKey{}, report)
}

func reportProgress(ctx context.Context, pct int) {
	if report, ok := ctx.Value(progressKey{}).(func(int)); ok && report != nil {
		report(pct)
	}
}

var stageProgress = map[extraction.Stage]int{
	extraction.StageReceived:            15,
	extraction.StagePreprocessed:        25,
	extraction.StageOCRExtracted:        50,
	extraction.StageStructuredExtracted: 70,
	extraction.StageAuthenticityChecked: 85,
	extraction.StageDone:                90,
}

// StageProgress is an extraction.StageHook translating stages into job
// progress for the reporter attached with WithProgress.
func StageProgress(ctx context.Context, stage extraction.Stage) {
	if pct, ok := stageProgress[stage]; ok {
		reportProgress(ctx, pct)
	}
}

// HandleDocumentJob executes a document_processing job. Failed and completed
// documents are reset to pending first; approved documents are left alone.
// A document still in processing is reset only on a retried job whose run
// started before the stall cutoff; otherwise the job backs off.
func (p *Processor) HandleDocumentJob(ctx context.Context, job *model.ProcessingJob, progress func(int)) error {
	id := job.EntityID
	log := p.logger.WithFields(logrus.Fields{"job_id": job.ID, "document_id": id})
	progress(10)

	doc, err := p.store.DocumentByID(ctx, id)
	if err != nil {
		return err
	}
	switch doc.ProcessingStatus {
	case model.StatusDeleted:
		log.Info("document deleted before processing, skipping")
		return nil
	case model.StatusCompleted:
		if doc.ApprovedBy != nil {
			log.WithField("approved_by", *doc.ApprovedBy).Info("document approved, not reprocessing")
			return nil
		}
		if err := p.store.TransitionDocument(ctx, id, model.StatusPending); err != nil {
			return fmt.Errorf("reset document: %w", err)
		}
	case model.StatusProcessing:
		if !p.abandoned(job, doc) {
			return fmt.Errorf("%w: document %s is still being processed", model.ErrConflict, id)
		}
		log.Warn("document left in processing by an interrupted run, resetting")
		if err := p.store.FailDocument(ctx, id, "processing interrupted"); err != nil {
			return fmt.Errorf("reset interrupted document: %w", err)
		}
		fallthrough
	case model.StatusFailed:
		if err := p.store.TransitionDocument(ctx, id, model.StatusPending); err != nil {
			return fmt.Errorf("reset document: %w", err)
		}
	}

	_, err = p.ProcessDocument(WithProgress(ctx, progress), id)
	return err
}

// HandleOCRJob re-runs OCR and structured extraction on a completed document.
func (p *Processor) HandleOCRJob(ctx context.Context, job *model.ProcessingJob, progress func(int)) error {
	doc, err := p.completedDocument(ctx, job)
	if err != nil {
		return err
	}
	if err := approvalLock(doc); err != nil {
		return err
	}
	progress(10)
	data, err := p.readFile(ctx, doc)
	if err != nil {
		return err
	}
	res, report, err := p.pipeline.Process(WithProgress(ctx, progress), extraction.Input{
		Data:         data,
		MIMEType:     doc.MimeType,
		DocumentType: doc.DocumentType,
	})
	if err != nil {
		return err
	}
	result := model.DocumentResult{
		DocumentType:  res.DocumentType,
		OCRText:       res.OCRText,
		ExtractedData: res.ExtractedData,
		Analysis: model.AIAnalysis{
			Confidence:   res.Confidence,
			Authenticity: report,
			AnalyzedAt:   p.now().UTC(),
		},
		VerificationStatus: p.verification(doc, report.Recommendation),
	}
	if err := p.store.UpdateDocumentResult(ctx, doc.ID, result); err != nil {
		return fmt.Errorf("persist reanalysis: %w", err)
	}
	return nil
}

// HandleValidationJob re-validates stored extracted data and recomputes the
// extraction confidence.
func (p *Processor) HandleValidationJob(ctx context.Context, job *model.ProcessingJob, progress func(int)) error {
	doc, err := p.completedDocument(ctx, job)
	if err != nil {
		return err
	}
	progress(30)
	raw := make(map[string]any, len(doc.ExtractedData))
	for k, v := range doc.ExtractedData {
		if v != nil {
			raw[k] = *v
		}
	}
	data := extraction.ValidateFields(doc.DocumentType, raw)
	result := resultOf(doc)
	result.ExtractedData = data
	result.Analysis.Confidence.Extraction = extraction.Confidence(doc.DocumentType, data)
	result.Analysis.Confidence.Overall = (result.Analysis.Confidence.OCR + result.Analysis.Confidence.Extraction) / 2
	result.Analysis.AnalyzedAt = p.now().UTC()
	if err := p.store.UpdateDocumentResult(ctx, doc.ID, result); err != nil {
		return fmt.Errorf("persist validation: %w", err)
	}
	return nil
}

// HandleAuthenticityJob re-scores authenticity for stored data.
func (p *Processor) HandleAuthenticityJob(ctx context.Context, job *model.ProcessingJob, progress func(int)) error {
	doc, err := p.completedDocument(ctx, job)
	if err != nil {
		return err
	}
	progress(30)
	ocrText := ""
	if doc.OCRText != nil {
		ocrText = *doc.OCRText
	}
	report := p.pipeline.Authenticate(ctx, doc.DocumentType, doc.ExtractedData, ocrText)
	result := resultOf(doc)
	result.Analysis.Authenticity = report
	result.Analysis.AnalyzedAt = p.now().UTC()
	result.VerificationStatus = p.verification(doc, report.Recommendation)
	if err := p.store.UpdateDocumentResult(ctx, doc.ID, result); err != nil {
		return fmt.Errorf("persist authenticity: %w", err)
	}
	return nil
}

// abandoned reports whether a processing document belongs to an earlier,
// reclaimed attempt of job rather than to a run that is still alive.
func (p *Processor) abandoned(job *model.ProcessingJob, doc *model.Document) bool {
	if job.Attempts <= 1 {
		return false
	}
	cutoff := p.now().Add(-p.stallTimeout)
	return doc.ProcessingStartedAt == nil || doc.ProcessingStartedAt.Before(cutoff)
}

func (p *Processor) completedDocument(ctx context.Context, job *model.ProcessingJob) (*model.Document, error) {
	doc, err := p.store.DocumentByID(ctx, job.EntityID)
	if err != nil {
		return nil, err
	}
	if doc.ProcessingStatus != model.StatusCompleted {
		return nil, fmt.Errorf("%w: %s needs a completed document, %s is %s", model.ErrIllegalTransition, job.JobType, doc.ID, doc.ProcessingStatus)
	}
	return doc, nil
}

// verification keeps an admin approval in place.
func (p *Processor) verification(doc *model.Document, rec model.Recommendation) model.VerificationStatus {
	if doc.ApprovedBy != nil {
		return model.VerificationVerified
	}
	return extraction.Verification(rec)
}

func resultOf(doc *model.Document) model.DocumentResult {
	out := model.DocumentResult{
		DocumentType:  doc.DocumentType,
		ExtractedData: doc.ExtractedData,
	}
	if doc.OCRText != nil {
		out.OCRText = *doc.OCRText
	}
	if doc.AIAnalysis != nil {
		out.Analysis = *doc.AIAnalysis
	}
	if doc.VerificationStatus != nil {
		out.VerificationStatus = *doc.VerificationStatus
	}
	return out
}
