package api

import (
	"errors"
	"mime"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/dharsanguruparan/AthleteDocs/internal/blobstore"
	"github.com/dharsanguruparan/AthleteDocs/internal/model"
	"github.com/dharsanguruparan/AthleteDocs/internal/processing"
	"github.com/dharsanguruparan/AthleteDocs/internal/signing"
	"github.com/dharsanguruparan/AthleteDocs/internal/upload"
)

// multipartMemory is how much of a form is held in memory before spooling
// to disk.
const multipartMemory = 8 << 20

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// One extra MiB for form fields and boundaries; the file limit itself is
	// enforced by upload validation.
	r.Body = http.MaxBytesReader(w, r.Body, s.app.Config.MaxFileSize+1<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
			return
		}
		s.fail(w, r, model.NewValidationError("expecting multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.fail(w, r, model.NewValidationError("file is required"))
		return
	}
	defer file.Close()

	meta := upload.Metadata{
		DocumentType: model.DocumentType(r.FormValue("document_type")),
		EntityType:   model.EntityType(r.FormValue("entity_type")),
		UploadedBy:   r.Header.Get(UserHeader),
	}
	if t, err := model.ParseDocumentType(r.FormValue("document_type")); err == nil {
		meta.DocumentType = t
	}
	if t, err := model.ParseEntityType(r.FormValue("entity_type")); err == nil {
		meta.EntityType = t
	}
	meta.EntityID, _ = strconv.ParseInt(r.FormValue("entity_id"), 10, 64)
	if meta.Priority, err = model.ParsePriority(r.FormValue("priority")); err != nil {
		s.fail(w, r, model.NewValidationError(err.Error()))
		return
	}

	receipt, err := s.app.Uploads.HandleDocumentUpload(r.Context(), upload.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	}, meta)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.app.Processor.DocumentStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

type approveRequest struct {
	Corrections   map[string]any `json:"corrections"`
	ApprovalNotes string         `json:"approval_notes"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decodeJSON(r, &req, true); err != nil {
		s.fail(w, r, err)
		return
	}
	doc, err := s.app.Processor.ApproveDocument(r.Context(), r.PathValue("id"), processing.Approval{
		ApprovedBy:  r.Header.Get(UserHeader),
		Corrections: req.Corrections,
		Notes:       req.ApprovalNotes,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

type reanalyzeRequest struct {
	JobType  string `json:"job_type"`
	Priority string `json:"priority"`
}

func (s *Server) handleReanalyze(w http.ResponseWriter, r *http.Request) {
	var req reanalyzeRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	jobType, err := model.ParseJobType(req.JobType)
	if err != nil {
		s.fail(w, r, model.NewValidationError(err.Error()))
		return
	}
	priority, err := model.ParsePriority(req.Priority)
	if err != nil {
		s.fail(w, r, model.NewValidationError(err.Error()))
		return
	}
	job, created, err := s.app.Processor.Reanalyze(r.Context(), r.PathValue("id"), jobType, priority)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"job": job, "deduplicated": !created})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.app.Uploads.DeleteDocument(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"upload_id": id, "processing_status": string(model.StatusDeleted)})
}

func (s *Server) handleFileURL(w http.ResponseWriter, r *http.Request) {
	doc, err := s.app.Store.DocumentByID(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if doc.ProcessingStatus == model.StatusDeleted {
		s.fail(w, r, model.NewNotFound("document", doc.ID))
		return
	}
	url, expires, err := s.app.FileURL(r.Context(), downloadPath, doc.StoredPath)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"url": url, "expires_at": expires.UTC().Format(time.RFC3339)})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := q.Get("key")
	if err := s.app.Signer.Verify(key, q.Get("expires"), q.Get("sig")); err != nil {
		status := http.StatusForbidden
		if errors.Is(err, signing.ErrExpired) {
			status = http.StatusGone
		}
		respondJSON(w, status, errorBody{Error: err.Error()})
		return
	}
	data, err := s.app.Blobs.Get(r.Context(), key)
	if errors.Is(err, blobstore.ErrNotExist) {
		s.fail(w, r, model.NewNotFound("file", key))
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	timeframe, err := model.ParseTimeframe(q.Get("timeframe"))
	if err != nil {
		s.fail(w, r, model.NewValidationError(err.Error()))
		return
	}
	var docType model.DocumentType
	if raw := q.Get("document_type"); raw != "" {
		if docType, err = model.ParseDocumentType(raw); err != nil {
			s.fail(w, r, model.NewValidationError(err.Error()))
			return
		}
	}
	stats, err := s.app.Processor.Analytics(r.Context(), timeframe, docType)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"timeframe": timeframe, "analytics": stats})
}

type bulkRequest struct {
	DocumentIDs []string `json:"document_ids"`
	Priority    string   `json:"priority"`
}

func (s *Server) handleBulkProcess(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	priority, err := model.ParsePriority(req.Priority)
	if err != nil {
		s.fail(w, r, model.NewValidationError(err.Error()))
		return
	}
	res, err := s.app.Processor.BulkProcess(r.Context(), req.DocumentIDs, priority, r.Header.Get(UserHeader))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, res)
}

func (s *Server) handleReprocessFailed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Priority string `json:"priority"`
	}
	if err := decodeJSON(r, &req, true); err != nil {
		s.fail(w, r, err)
		return
	}
	priority, err := model.ParsePriority(req.Priority)
	if err != nil {
		s.fail(w, r, model.NewValidationError(err.Error()))
		return
	}
	res, err := s.app.Processor.ReprocessFailed(r.Context(), priority)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, res)
}
