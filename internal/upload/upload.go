// Package upload is the ingress boundary for identity documents: it
// validates and stores the file, records the document and queues it.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/AthleteDocs/internal/besteffort"
	"github.com/dharsanguruparan/AthleteDocs/internal/blobstore"
	"github.com/dharsanguruparan/AthleteDocs/internal/config"
	"github.com/dharsanguruparan/AthleteDocs/internal/model"
	pdfutil "github.com/dharsanguruparan/AthleteDocs/internal/pdf"
)

// Store is the document persistence the handler needs.
type Store interface {
	CreateDocument(ctx context.Context, doc *model.Document) error
	DocumentByID(ctx context.Context, id string) (*model.Document, error)
	TransitionDocument(ctx context.Context, id string, to model.ProcessingStatus) error
}

// Enqueuer queues document processing and reports queue positions.
type Enqueuer interface {
	AddDocumentToQueue(ctx context.Context, documentID string, priority int) (*model.ProcessingJob, bool, error)
	Position(ctx context.Context, job *model.ProcessingJob) (int, error)
}

// Limits bound what may be uploaded.
type Limits struct {
	MinSize           int64
	MaxSize           int64
	AllowedTypes      []string
	AllowedExtensions []string
}

// LimitsFromConfig copies the upload limits out of cfg.
func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{
		MinSize:           cfg.MinFileSize,
		MaxSize:           cfg.MaxFileSize,
		AllowedTypes:      cfg.AllowedTypes,
		AllowedExtensions: cfg.AllowedExtensions,
	}
}

// File is one uploaded binary.
type File struct {
	Name        string
	ContentType string
	Body        io.Reader
}

// Metadata binds the upload to an entity.
type Metadata struct {
	DocumentType model.DocumentType
	EntityType   model.EntityType
	EntityID     int64
	UploadedBy   string
	Priority     int
}

// Receipt is returned once the document is queued.
type Receipt struct {
	UploadID         string `json:"upload_id"`
	Filename         string `json:"filename"`
	StoredFilename   string `json:"stored_filename"`
	FileSize         int64  `json:"file_size"`
	MimeType         string `json:"mime_type"`
	ProcessingStatus string `json:"processing_status"`
	QueuePosition    int    `json:"queue_position"`
	JobID            int64  `json:"job_id"`
}

// Handler validates, stores, records and enqueues uploads.
type Handler struct {
	store  Store
	blobs  blobstore.Store
	queue  Enqueuer
	limits Limits
	logger logrus.FieldLogger
	now    func() time.Time
}

func NewHandler(store Store, blobs blobstore.Store, queue Enqueuer, limits Limits, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	return &Handler{store: store, blobs: blobs, queue: queue, limits: limits, logger: logger, now: time.Now}
}

// HandleDocumentUpload validates file, stores it under a generated name and
// queues a document_processing job. All violations are reported together;
// a stored file that fails a later check is removed.
func (h *Handler) HandleDocumentUpload(ctx context.Context, file File, meta Metadata) (*Receipt, error) {
	violations := validateMetadata(meta)

	data, err := io.ReadAll(io.LimitReader(file.Body, h.limits.MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	size := int64(len(data))
	contentType := normalizeType(file.ContentType)
	ext := strings.ToLower(path.Ext(file.Name))

	if size < h.limits.MinSize {
		violations = append(violations, fmt.Sprintf("file is smaller than the %d byte minimum", h.limits.MinSize))
	}
	if size > h.limits.MaxSize {
		violations = append(violations, fmt.Sprintf("file exceeds the %d byte maximum", h.limits.MaxSize))
	}
	if !contains(h.limits.AllowedTypes, contentType) {
		violations = append(violations, fmt.Sprintf("file type %q is not allowed", contentType))
	} else if sniffed := sniffType(data); canonicalType(sniffed) != canonicalType(contentType) {
		violations = append(violations, fmt.Sprintf("file content is %q, not the declared %q", sniffed, contentType))
	}
	if !contains(h.limits.AllowedExtensions, ext) {
		violations = append(violations, fmt.Sprintf("file extension %q is not allowed", ext))
	}
	if len(violations) > 0 {
		return nil, model.NewValidationError(violations...)
	}

	key, err := storedKey(h.now(), ext)
	if err != nil {
		return nil, err
	}
	if err := h.blobs.Put(ctx, key, bytes.NewReader(data), size, contentType); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	log := h.logger.WithField("stored_path", key)
	discard := func() {
		besteffort.Run(log, "remove rejected upload", func() error { return h.blobs.Delete(context.WithoutCancel(ctx), key) })
	}

	if violations := h.verifyStored(ctx, key, size, contentType); len(violations) > 0 {
		discard()
		return nil, model.NewValidationError(violations...)
	}

	doc := &model.Document{
		ID:               uuid.NewString(),
		EntityType:       meta.EntityType,
		EntityID:         meta.EntityID,
		DocumentType:     meta.DocumentType,
		OriginalFilename: file.Name,
		StoredPath:       key,
		FileSizeBytes:    size,
		MimeType:         contentType,
		UploadedBy:       meta.UploadedBy,
	}
	if err := h.store.CreateDocument(ctx, doc); err != nil {
		discard()
		return nil, fmt.Errorf("create document: %w", err)
	}
	job, _, err := h.queue.AddDocumentToQueue(ctx, doc.ID, meta.Priority)
	if err != nil {
		// The row was never queued; retire it so nothing is left pending.
		besteffort.Run(log.WithField("document_id", doc.ID), "retire unqueued document", func() error {
			return h.store.TransitionDocument(context.WithoutCancel(ctx), doc.ID, model.StatusDeleted)
		})
		discard()
		return nil, fmt.Errorf("queue document %s: %w", doc.ID, err)
	}
	position, err := h.queue.Position(ctx, job)
	if err != nil {
		log.WithError(err).Warn("queue position unavailable")
	}

	log.WithFields(logrus.Fields{
		"document_id":   doc.ID,
		"document_type": doc.DocumentType,
		"entity_id":     doc.EntityID,
		"size":          size,
	}).Info("document uploaded")
	return &Receipt{
		UploadID:         doc.ID,
		Filename:         file.Name,
		StoredFilename:   path.Base(key),
		FileSize:         size,
		MimeType:         contentType,
		ProcessingStatus: "queued",
		QueuePosition:    position,
		JobID:            job.ID,
	}, nil
}

// verifyStored reads the object back and, for PDFs, checks the page tree.
func (h *Handler) verifyStored(ctx context.Context, key string, size int64, contentType string) []string {
	stored, err := h.blobs.Get(ctx, key)
	if err != nil {
		return []string{"stored file could not be read back"}
	}
	if int64(len(stored)) != size {
		return []string{"stored file is incomplete"}
	}
	if pdfutil.IsPDF(contentType) {
		if _, err := pdfutil.PageCount(stored); err != nil {
			return []string{"pdf is unreadable"}
		}
	}
	return nil
}

// DeleteDocument soft-deletes a document and removes its file. Documents
// being processed cannot be deleted.
func (h *Handler) DeleteDocument(ctx context.Context, id string) error {
	doc, err := h.store.DocumentByID(ctx, id)
	if err != nil {
		return err
	}
	switch doc.ProcessingStatus {
	case model.StatusProcessing:
		return fmt.Errorf("%w: document %s is being processed", model.ErrConflict, id)
	case model.StatusDeleted:
		return model.NewNotFound("document", id)
	}
	if err := h.store.TransitionDocument(ctx, id, model.StatusDeleted); err != nil {
		return err
	}
	log := h.logger.WithFields(logrus.Fields{"document_id": id, "stored_path": doc.StoredPath})
	besteffort.Run(log, "remove deleted document file", func() error {
		err := h.blobs.Delete(ctx, doc.StoredPath)
		if errors.Is(err, blobstore.ErrNotExist) {
			log.Info("document file already gone")
			return nil
		}
		return err
	})
	log.Info("document deleted")
	return nil
}

func validateMetadata(meta Metadata) []string {
	var out []string
	if !meta.DocumentType.Uploadable() {
		out = append(out, "document_type must be birth_certificate, citizenship_certificate or school_id")
	}
	if _, err := model.ParseEntityType(string(meta.EntityType)); err != nil {
		out = append(out, "entity_type must be player, team or tournament")
	}
	if meta.EntityID <= 0 {
		out = append(out, "entity_id must be a positive integer")
	}
	if meta.UploadedBy == "" {
		out = append(out, "uploader is required")
	}
	return out
}

// storedKey is documents/<unix millis>-<random token><ext>.
func storedKey(now time.Time, ext string) (string, error) {
	token, err := gonanoid.New(16)
	if err != nil {
		return "", fmt.Errorf("generate stored name: %w", err)
	}
	return fmt.Sprintf("documents/%d-%s%s", now.UnixMilli(), token, ext), nil
}

func normalizeType(ct string) string {
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(ct))
	}
	return mediaType
}

// sniffType detects the media type from the first 512 bytes.
func sniffType(data []byte) string {
	if len(data) > 512 {
		data = data[:512]
	}
	return normalizeType(http.DetectContentType(data))
}

func canonicalType(ct string) string {
	if ct == "image/jpg" {
		return "image/jpeg"
	}
	return ct
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
