// Package model contains the struct definitions and closed enums shared by the
// upload, processing, queue and athlete id packages.
package model

import (
	"fmt"
	"strings"
	"time"
)

// ProcessingStatus describes the lifecycle of an uploaded document. A named
// string type keeps the set closed and lets transition rules hang off it.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
	StatusDeleted    ProcessingStatus = "deleted"
)

// transitions lists, for every target status, the statuses a document may
// leave to reach it. completed -> pending and failed -> pending are the
// explicit retry/reprocess resets; nothing reaches processing except pending.
var transitions = map[ProcessingStatus][]ProcessingStatus{
	StatusPending:    {StatusFailed, StatusCompleted},
	StatusProcessing: {StatusPending},
	StatusCompleted:  {StatusProcessing},
	StatusFailed:     {StatusProcessing},
	StatusDeleted:    {StatusPending, StatusCompleted, StatusFailed},
}

// TransitionSources returns the statuses from which to may be entered.
func TransitionSources(to ProcessingStatus) []ProcessingStatus {
	return transitions[to]
}

// CanTransition reports whether a document in status s may move to status to.
func (s ProcessingStatus) CanTransition(to ProcessingStatus) bool {
	for _, from := range transitions[to] {
		if from == s {
			return true
		}
	}
	return false
}

// VerificationStatus is set once processing completes.
type VerificationStatus string

const (
	VerificationVerified       VerificationStatus = "verified"
	VerificationRequiresReview VerificationStatus = "requires_review"
)

// EntityType names the record a document belongs to.
type EntityType string

const (
	EntityPlayer     EntityType = "player"
	EntityTeam       EntityType = "team"
	EntityTournament EntityType = "tournament"
	// EntityDocument is only used as the owner of queue jobs.
	EntityDocument EntityType = "document"
)

// ParseEntityType accepts the entity types an upload may be bound to.
func ParseEntityType(s string) (EntityType, error) {
	switch t := EntityType(strings.ToLower(strings.TrimSpace(s))); t {
	case EntityPlayer, EntityTeam, EntityTournament:
		return t, nil
	}
	return "", fmt.Errorf("unsupported entity type %q", s)
}

// DocumentType classifies an identity document.
type DocumentType string

const (
	DocBirthCertificate       DocumentType = "birth_certificate"
	DocCitizenshipCertificate DocumentType = "citizenship_certificate"
	DocSchoolID               DocumentType = "school_id"
	DocUnknown                DocumentType = "unknown"
)

// DocumentTypes is every declared document type, unknown included.
func DocumentTypes() []DocumentType {
	return []DocumentType{DocBirthCertificate, DocCitizenshipCertificate, DocSchoolID, DocUnknown}
}

// ParseDocumentType accepts any declared type; uploads additionally reject
// unknown via Uploadable.
func ParseDocumentType(s string) (DocumentType, error) {
	t := DocumentType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range DocumentTypes() {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unsupported document type %q", s)
}

// Uploadable reports whether callers may declare this type at upload time.
func (t DocumentType) Uploadable() bool {
	return t == DocBirthCertificate || t == DocCitizenshipCertificate || t == DocSchoolID
}

// ExtractedData maps a document type's declared fields to a validated value
// or nil. A nil pointer marshals to JSON null.
type ExtractedData map[string]*string

// Value returns the field value or "" when the field is null or absent.
func (d ExtractedData) Value(field string) string {
	if v := d[field]; v != nil {
		return *v
	}
	return ""
}

// Has reports whether field holds a non-null value.
func (d ExtractedData) Has(field string) bool {
	return d[field] != nil
}

// NonNull counts populated fields.
func (d ExtractedData) NonNull() int {
	n := 0
	for _, v := range d {
		if v != nil {
			n++
		}
	}
	return n
}

// Clone returns an independent copy.
func (d ExtractedData) Clone() ExtractedData {
	if d == nil {
		return nil
	}
	out := make(ExtractedData, len(d))
	for k, v := range d {
		if v != nil {
			val := *v
			out[k] = &val
		} else {
			out[k] = nil
		}
	}
	return out
}

// Confidence holds the three confidence figures, each on a 0-100 scale.
type Confidence struct {
	OCR        float64 `json:"ocr"`
	Extraction float64 `json:"extraction"`
	Overall    float64 `json:"overall"`
}

// Recommendation is the authenticity verdict.
type Recommendation string

const (
	RecommendAutoApprove  Recommendation = "auto_approve"
	RecommendManualReview Recommendation = "manual_review"
	RecommendReject       Recommendation = "reject"
)

// AuthenticityReport is the outcome of the heuristic authenticity checks.
type AuthenticityReport struct {
	Scores         map[string]float64 `json:"scores"`
	OverallScore   float64            `json:"overall_score"`
	Recommendation Recommendation     `json:"recommendation"`
	IsAuthentic    bool               `json:"is_authentic"`
}

// AIAnalysis is persisted alongside the extracted data.
type AIAnalysis struct {
	Confidence   Confidence         `json:"confidence"`
	Authenticity AuthenticityReport `json:"authenticity"`
	AnalyzedAt   time.Time          `json:"analyzed_at"`
}

// Document is a row in the documents table.
type Document struct {
	ID                    string              `db:"id" json:"id"`
	EntityType            EntityType          `db:"entity_type" json:"entity_type"`
	EntityID              int64               `db:"entity_id" json:"entity_id"`
	DocumentType          DocumentType        `db:"document_type" json:"document_type"`
	OriginalFilename      string              `db:"original_filename" json:"original_filename"`
	StoredPath            string              `db:"stored_path" json:"-"`
	FileSizeBytes         int64               `db:"file_size_bytes" json:"file_size"`
	MimeType              string              `db:"mime_type" json:"mime_type"`
	UploadedBy            string              `db:"uploaded_by" json:"uploaded_by"`
	ProcessingStatus      ProcessingStatus    `db:"processing_status" json:"processing_status"`
	OCRText               *string             `db:"ocr_text" json:"ocr_text,omitempty"`
	ExtractedData         ExtractedData       `db:"extracted_data" json:"extracted_data,omitempty"`
	AIAnalysis            *AIAnalysis         `db:"ai_analysis" json:"ai_analysis,omitempty"`
	VerificationStatus    *VerificationStatus `db:"verification_status" json:"verification_status,omitempty"`
	ErrorMessage          *string             `db:"error_message" json:"error_message,omitempty"`
	ProcessingAttempts    int                 `db:"processing_attempts" json:"processing_attempts"`
	ApprovedBy            *string             `db:"approved_by" json:"approved_by,omitempty"`
	ApprovalNotes         *string             `db:"approval_notes" json:"approval_notes,omitempty"`
	ApprovedAt            *time.Time          `db:"approved_at" json:"approved_at,omitempty"`
	ProcessingStartedAt   *time.Time          `db:"processing_started_at" json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time          `db:"processing_completed_at" json:"processing_completed_at,omitempty"`
	CreatedAt             time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time           `db:"updated_at" json:"updated_at"`
}

// DocumentResult is what a successful processing run writes back.
type DocumentResult struct {
	DocumentType       DocumentType
	OCRText            string
	ExtractedData      ExtractedData
	Analysis           AIAnalysis
	VerificationStatus VerificationStatus
}

// DocumentApproval records an admin sign-off.
type DocumentApproval struct {
	ApprovedBy    string
	ExtractedData ExtractedData
	Notes         string
}
