// Package processing drives one document from queued to completed or failed:
// it loads the file, runs the extraction pipeline, persists the result and
// dispatches document-type specific post-processing.
package processing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/AthleteDocs/internal/athleteid"
	"github.com/dharsanguruparan/AthleteDocs/internal/besteffort"
	"github.com/dharsanguruparan/AthleteDocs/internal/blobstore"
	"github.com/dharsanguruparan/AthleteDocs/internal/extraction"
	"github.com/dharsanguruparan/AthleteDocs/internal/model"
)

// Store is the persistence the processor needs.
type Store interface {
	DocumentByID(ctx context.Context, id string) (*model.Document, error)
	TransitionDocument(ctx context.Context, id string, to model.ProcessingStatus) error
	SetDocumentType(ctx context.Context, id string, docType model.DocumentType) error
	CompleteDocument(ctx context.Context, id string, result model.DocumentResult) error
	FailDocument(ctx context.Context, id string, msg string) error
	ApproveDocument(ctx context.Context, id string, approval model.DocumentApproval) error
	UpdateDocumentResult(ctx context.Context, id string, result model.DocumentResult) error
	DocumentIDsByStatus(ctx context.Context, status model.ProcessingStatus) ([]string, error)
	DocumentAnalytics(ctx context.Context, filter model.AnalyticsFilter) (*model.Analytics, error)
	LatestJobForEntity(ctx context.Context, entityType model.EntityType, entityID string, jobType model.JobType) (*model.ProcessingJob, error)
	UpdatePlayerProfile(ctx context.Context, id int64, update model.PlayerProfileUpdate) error
	CreateNotification(ctx context.Context, n *model.Notification) error
}

// Enqueuer submits follow-up work to the queue.
type Enqueuer interface {
	AddDocumentToQueue(ctx context.Context, documentID string, priority int) (*model.ProcessingJob, bool, error)
	EnqueueAnalysis(ctx context.Context, documentID string, jobType model.JobType, priority int) (*model.ProcessingJob, bool, error)
}

// Outcome summarizes a successful ProcessDocument.
type Outcome struct {
	DocumentID     string               `json:"document_id"`
	DocumentType   model.DocumentType   `json:"document_type"`
	Confidence     model.Confidence     `json:"confidence"`
	Recommendation model.Recommendation `json:"recommendation"`
	AthleteID      string               `json:"athlete_id,omitempty"`
}

type postProcessor func(ctx context.Context, doc *model.Document, res *extraction.Result, out *Outcome) error

// Processor orchestrates document processing.
type Processor struct {
	store        Store
	blobs        blobstore.Store
	pipeline     *extraction.Pipeline
	ids          *athleteid.Generator
	queue        Enqueuer
	logger       logrus.FieldLogger
	now          func() time.Time
	bulkLimit    int
	stallTimeout time.Duration
	post         map[model.DocumentType]postProcessor
}

// Option customizes a Processor.
type Option func(*Processor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithBulkLimit bounds ProcessInline concurrency.
func WithBulkLimit(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.bulkLimit = n
		}
	}
}

// WithStallTimeout matches the queue's stall reclaim threshold. A document
// whose run started more recently is treated as still in progress.
func WithStallTimeout(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.stallTimeout = d
		}
	}
}

// New builds a Processor. It panics if a declared document type has no
// post-processor, so a new type cannot ship without one.
func New(store Store, blobs blobstore.Store, pipeline *extraction.Pipeline, ids *athleteid.Generator, queue Enqueuer, logger logrus.FieldLogger, opts ...Option) *Processor {
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	p := &Processor{
		store:        store,
		blobs:        blobs,
		pipeline:     pipeline,
		ids:          ids,
		queue:        queue,
		logger:       logger,
		now:          time.Now,
		bulkLimit:    5,
		stallTimeout: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.post = map[model.DocumentType]postProcessor{
		model.DocBirthCertificate:       p.postBirthCertificate,
		model.DocCitizenshipCertificate: p.postLogOnly,
		model.DocSchoolID:               p.postLogOnly,
		model.DocUnknown:                p.postLogOnly,
	}
	for _, t := range model.DocumentTypes() {
		if p.post[t] == nil {
			panic(fmt.Sprintf("processing: no post-processor for document type %s", t))
		}
	}
	return p
}

// ProcessDocument runs the full pipeline for a pending document. Any failure
// after the document enters processing marks it failed; post-processing
// failures are logged and never change a completed outcome.
func (p *Processor) ProcessDocument(ctx context.Context, id string) (*Outcome, error) {
	doc, err := p.store.DocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := p.store.TransitionDocument(ctx, id, model.StatusProcessing); err != nil {
		return nil, fmt.Errorf("start processing: %w", err)
	}
	log := p.logger.WithFields(logrus.Fields{"document_id": id, "document_type": doc.DocumentType})
	log.Info("document processing started")

	out, res, err := p.run(ctx, doc)
	if err != nil {
		besteffort.Run(log, "mark document failed", func() error {
			return p.store.FailDocument(context.WithoutCancel(ctx), id, err.Error())
		})
		log.WithError(err).Warn("document processing failed")
		return nil, err
	}

	post := p.post[out.DocumentType]
	besteffort.Runf(log, func() error { return post(ctx, doc, res, out) }, "post-process %s", out.DocumentType)

	log.WithFields(logrus.Fields{
		"confidence":     out.Confidence.Overall,
		"recommendation": out.Recommendation,
	}).Info("document processing completed")
	return out, nil
}

func (p *Processor) run(ctx context.Context, doc *model.Document) (*Outcome, *extraction.Result, error) {
	data, err := p.readFile(ctx, doc)
	if err != nil {
		return nil, nil, err
	}
	res, report, err := p.pipeline.Process(ctx, extraction.Input{
		Data:         data,
		MIMEType:     doc.MimeType,
		DocumentType: doc.DocumentType,
	})
	if err != nil {
		return nil, nil, err
	}
	if res.DocumentType != doc.DocumentType {
		if err := p.store.SetDocumentType(ctx, doc.ID, res.DocumentType); err != nil {
			return nil, nil, fmt.Errorf("persist detected type: %w", err)
		}
		doc.DocumentType = res.DocumentType
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
		VerificationStatus: extraction.Verification(report.Recommendation),
	}
	if err := p.store.CompleteDocument(ctx, doc.ID, result); err != nil {
		return nil, nil, fmt.Errorf("persist result: %w", err)
	}
	doc.OCRText = &result.OCRText
	doc.ExtractedData = result.ExtractedData
	return &Outcome{
		DocumentID:     doc.ID,
		DocumentType:   res.DocumentType,
		Confidence:     res.Confidence,
		Recommendation: report.Recommendation,
	}, res, nil
}

// readFile fails fast when the stored object is gone.
func (p *Processor) readFile(ctx context.Context, doc *model.Document) ([]byte, error) {
	exists, err := p.blobs.Exists(ctx, doc.StoredPath)
	if err != nil {
		return nil, fmt.Errorf("check stored file: %w", err)
	}
	if !exists {
		return nil, model.NewNotFound("stored file", doc.StoredPath)
	}
	data, err := p.blobs.Get(ctx, doc.StoredPath)
	if errors.Is(err, blobstore.ErrNotExist) {
		return nil, model.NewNotFound("stored file", doc.StoredPath)
	}
	if err != nil {
		return nil, fmt.Errorf("read stored file: %w", err)
	}
	return data, nil
}

// postBirthCertificate copies the extracted identity onto the player and
// assigns an athlete id once both name and date of birth are known.
func (p *Processor) postBirthCertificate(ctx context.Context, doc *model.Document, res *extraction.Result, out *Outcome) error {
	if doc.EntityType != model.EntityPlayer {
		p.logger.WithField("document_id", doc.ID).Info("birth certificate not bound to a player, skipping profile update")
		return nil
	}
	data := res.ExtractedData
	update := model.PlayerProfileUpdate{
		FullName:     data["full_name"],
		GuardianName: data["father_name"],
		Address:      data["place_of_birth"],
	}
	if data.Has("date_of_birth") {
		if dob, err := time.Parse("2006-01-02", data.Value("date_of_birth")); err == nil {
			update.DateOfBirth = &dob
		}
	}
	if !update.Empty() {
		if err := p.store.UpdatePlayerProfile(ctx, doc.EntityID, update); err != nil {
			return fmt.Errorf("update player %d: %w", doc.EntityID, err)
		}
	}

	message := "Birth certificate processed"
	if update.FullName != nil && update.DateOfBirth != nil {
		assignment, err := p.ids.GenerateForPlayer(ctx, doc.EntityID)
		if err != nil {
			return fmt.Errorf("athlete id for player %d: %w", doc.EntityID, err)
		}
		out.AthleteID = assignment.AthleteID
		message = fmt.Sprintf("Birth certificate processed, athlete id %s", assignment.AthleteID)
	}

	docID := doc.ID
	return p.store.CreateNotification(ctx, &model.Notification{
		Type:       model.NotificationDocumentProcessed,
		Title:      "Document processed",
		Message:    fmt.Sprintf("%s for player %d (%s)", message, doc.EntityID, out.Recommendation),
		EntityType: doc.EntityType,
		EntityID:   doc.EntityID,
		DocumentID: &docID,
	})
}

func (p *Processor) postLogOnly(_ context.Context, doc *model.Document, _ *extraction.Result, out *Outcome) error {
	p.logger.WithFields(logrus.Fields{
		"document_id":   doc.ID,
		"document_type": out.DocumentType,
	}).Info("no post-processing for document type")
	return nil
}
