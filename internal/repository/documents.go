package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/AthleteDocs/internal/model"
)

var documentColumns = columns(model.Document{})

// DocumentRepository persists uploaded documents and their processing state.
type DocumentRepository struct {
	pool *pgxpool.Pool
}

// NewDocumentRepository constructs a repository.
func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool}
}

// CreateDocument inserts a pending document before it is queued.
func (r *DocumentRepository) CreateDocument(ctx context.Context, doc *model.Document) error {
	now := time.Now().UTC()
	doc.ProcessingStatus = model.StatusPending
	doc.CreatedAt = now
	doc.UpdatedAt = now
	query, args, err := psql().
		Insert(documentTable).
		Columns(documentColumns...).
		Values(
			doc.ID,
			doc.EntityType,
			doc.EntityID,
			doc.DocumentType,
			doc.OriginalFilename,
			doc.StoredPath,
			doc.FileSizeBytes,
			doc.MimeType,
			doc.UploadedBy,
			doc.ProcessingStatus,
			doc.OCRText,
			doc.ExtractedData,
			doc.AIAnalysis,
			doc.VerificationStatus,
			doc.ErrorMessage,
			doc.ProcessingAttempts,
			doc.ApprovedBy,
			doc.ApprovalNotes,
			doc.ApprovedAt,
			doc.ProcessingStartedAt,
			doc.ProcessingCompletedAt,
			doc.CreatedAt,
			doc.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert document: %w", err)
	}
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// DocumentByID returns a document or a NotFoundError.
func (r *DocumentRepository) DocumentByID(ctx context.Context, id string) (*model.Document, error) {
	query, args, _ := psql().
		Select(documentColumns...).
		From(documentTable).
		Where(sq.Eq{"id": id}).
		ToSql()

	var doc model.Document
	if err := pgxscan.Get(ctx, r.pool, &doc, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, model.NewNotFound("document", id)
		}
		return nil, fmt.Errorf("select document: %w", err)
	}
	return &doc, nil
}

// TransitionDocument moves a document to status to, but only from one of the
// statuses the lifecycle allows. Entering processing counts an attempt.
func (r *DocumentRepository) TransitionDocument(ctx context.Context, id string, to model.ProcessingStatus) error {
	return r.guardedUpdate(ctx, id, to, model.TransitionSources(to), transitionSet(to, time.Now().UTC()))
}

func transitionSet(to model.ProcessingStatus, now time.Time) map[string]any {
	set := map[string]any{
		"processing_status": to,
		"updated_at":        now,
	}
	switch to {
	case model.StatusProcessing:
		set["processing_attempts"] = sq.Expr("processing_attempts + 1")
		set["processing_started_at"] = now
		set["processing_completed_at"] = nil
		set["error_message"] = nil
	case model.StatusPending:
		set["error_message"] = nil
	}
	return set
}

// SetDocumentType stores a detected document type.
func (r *DocumentRepository) SetDocumentType(ctx context.Context, id string, docType model.DocumentType) error {
	query, args, _ := psql().
		Update(documentTable).
		Set("document_type", docType).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		Where(sq.NotEq{"processing_status": model.StatusDeleted}).
		ToSql()
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update document type: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFound("document", id)
	}
	return nil
}

// CompleteDocument writes a successful processing result and moves the
// document from processing to completed.
func (r *DocumentRepository) CompleteDocument(ctx context.Context, id string, result model.DocumentResult) error {
	now := time.Now().UTC()
	set := resultColumns(result)
	set["processing_status"] = model.StatusCompleted
	set["processing_completed_at"] = now
	set["error_message"] = nil
	set["updated_at"] = now
	return r.guardedUpdate(ctx, id, model.StatusCompleted, model.TransitionSources(model.StatusCompleted), set)
}

// FailDocument records the failure message and moves the document from
// processing to failed.
func (r *DocumentRepository) FailDocument(ctx context.Context, id string, msg string) error {
	now := time.Now().UTC()
	set := map[string]any{
		"processing_status":       model.StatusFailed,
		"error_message":           msg,
		"processing_completed_at": now,
		"updated_at":              now,
	}
	return r.guardedUpdate(ctx, id, model.StatusFailed, model.TransitionSources(model.StatusFailed), set)
}

// ApproveDocument marks a completed document verified, replacing its
// extracted data when corrections were applied.
func (r *DocumentRepository) ApproveDocument(ctx context.Context, id string, approval model.DocumentApproval) error {
	now := time.Now().UTC()
	set := map[string]any{
		"verification_status": model.VerificationVerified,
		"approved_by":         approval.ApprovedBy,
		"approved_at":         now,
		"updated_at":          now,
	}
	if approval.Notes != "" {
		set["approval_notes"] = approval.Notes
	}
	if approval.ExtractedData != nil {
		set["extracted_data"] = approval.ExtractedData
	}
	return r.guardedUpdate(ctx, id, model.StatusCompleted, []model.ProcessingStatus{model.StatusCompleted}, set)
}

// UpdateDocumentResult rewrites the analysis of an already completed document.
// Used by the AI follow-up jobs.
func (r *DocumentRepository) UpdateDocumentResult(ctx context.Context, id string, result model.DocumentResult) error {
	set := resultColumns(result)
	set["updated_at"] = time.Now().UTC()
	return r.guardedUpdate(ctx, id, model.StatusCompleted, []model.ProcessingStatus{model.StatusCompleted}, set)
}

// DocumentIDsByStatus lists ids in creation order.
func (r *DocumentRepository) DocumentIDsByStatus(ctx context.Context, status model.ProcessingStatus) ([]string, error) {
	query, args, _ := psql().
		Select("id").
		From(documentTable).
		Where(sq.Eq{"processing_status": status}).
		OrderBy("created_at ASC").
		ToSql()

	var ids []string
	if err := pgxscan.Select(ctx, r.pool, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("select document ids: %w", err)
	}
	return ids, nil
}

type analyticsRow struct {
	Total             int     `db:"total"`
	Processed         int     `db:"processed"`
	Failed            int     `db:"failed"`
	AverageSeconds    float64 `db:"average_seconds"`
	AverageConfidence float64 `db:"average_confidence"`
}

// DocumentAnalytics aggregates non-deleted documents created since the
// filter's start.
func (r *DocumentRepository) DocumentAnalytics(ctx context.Context, filter model.AnalyticsFilter) (*model.Analytics, error) {
	where := sq.And{
		sq.GtOrEq{"created_at": filter.Since},
		sq.NotEq{"processing_status": model.StatusDeleted},
	}
	if filter.DocumentType != "" {
		where = append(where, sq.Eq{"document_type": filter.DocumentType})
	}
	const (
		processed  = "COUNT(*) FILTER (WHERE processing_status = 'completed') AS processed"
		failed     = "COUNT(*) FILTER (WHERE processing_status = 'failed') AS failed"
		confidence = "COALESCE(AVG((ai_analysis->'confidence'->>'overall')::float8) FILTER (WHERE processing_status = 'completed'), 0) AS average_confidence"
	)

	query, args, _ := psql().
		Select(
			"COUNT(*) AS total",
			processed,
			failed,
			"COALESCE(AVG(EXTRACT(EPOCH FROM processing_completed_at - processing_started_at)) FILTER (WHERE processing_status = 'completed'), 0)::float8 AS average_seconds",
			confidence,
		).
		From(documentTable).
		Where(where).
		ToSql()

	var row analyticsRow
	if err := pgxscan.Get(ctx, r.pool, &row, query, args...); err != nil {
		return nil, fmt.Errorf("select analytics: %w", err)
	}

	query, args, _ = psql().
		Select(
			"document_type",
			"COUNT(*) AS total",
			processed,
			failed,
			confidence,
		).
		From(documentTable).
		Where(where).
		GroupBy("document_type").
		OrderBy("document_type").
		ToSql()

	var breakdown []model.TypeBreakdown
	if err := pgxscan.Select(ctx, r.pool, &breakdown, query, args...); err != nil {
		return nil, fmt.Errorf("select analytics breakdown: %w", err)
	}
	return &model.Analytics{
		Total:                    row.Total,
		Processed:                row.Processed,
		Failed:                   row.Failed,
		AverageProcessingSeconds: row.AverageSeconds,
		AverageConfidence:        row.AverageConfidence,
		ByType:                   breakdown,
	}, nil
}

func resultColumns(result model.DocumentResult) map[string]any {
	analysis := result.Analysis
	set := map[string]any{
		"ocr_text":            result.OCRText,
		"extracted_data":      result.ExtractedData,
		"ai_analysis":         &analysis,
		"verification_status": result.VerificationStatus,
	}
	if result.DocumentType != "" {
		set["document_type"] = result.DocumentType
	}
	return set
}

// guardedUpdate applies set only when the row is in one of the allowed
// statuses, then tells a missing row apart from an illegal transition.
func (r *DocumentRepository) guardedUpdate(ctx context.Context, id string, to model.ProcessingStatus, from []model.ProcessingStatus, set map[string]any) error {
	query, args, err := guardedUpdateQuery(id, from, set).ToSql()
	if err != nil {
		return fmt.Errorf("build document update: %w", err)
	}
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	current, err := r.DocumentByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: document %s is %s, cannot move to %s", model.ErrIllegalTransition, id, current.ProcessingStatus, to)
}

func guardedUpdateQuery(id string, from []model.ProcessingStatus, set map[string]any) sq.UpdateBuilder {
	return psql().
		Update(documentTable).
		SetMap(set).
		Where(sq.Eq{"id": id, "processing_status": from})
}
