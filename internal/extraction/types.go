// Package extraction turns a document image into validated structured fields
// with confidence and authenticity signals.
//
// A document moves through fixed stages: received, preprocessed,
// ocr_extracted, structured_extracted, authenticity_checked, done. Any stage
// failing aborts the run and no partial result is returned.
package extraction

import (
	"context"
	"time"

	"github.com/dharsanguruparan/AthleteDocs/internal/model"
)

// Stage names a step of the per-document state machine.
type Stage string

const (
	StageReceived            Stage = "received"
	StagePreprocessed        Stage = "preprocessed"
	StageOCRExtracted        Stage = "ocr_extracted"
	StageStructuredExtracted Stage = "structured_extracted"
	StageAuthenticityChecked Stage = "authenticity_checked"
	StageDone                Stage = "done"
)

// Box is an axis aligned bounding box in pixels of the processed image.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// TextBlock is one detection. Confidence is in [0, 1] as vision providers
// report it.
type TextBlock struct {
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"`
	BoundingBox Box     `json:"bounding_box"`
}

// Detection is what a vision provider returns for one image.
type Detection struct {
	FullText string
	Blocks   []TextBlock
}

// OCRResult is the raw text stage output. Confidence is the mean block
// confidence on a 0-100 scale.
type OCRResult struct {
	Text       string      `json:"text"`
	Blocks     []TextBlock `json:"blocks"`
	Confidence float64     `json:"confidence"`
	Source     string      `json:"source"`
}

// Image is the input handed to a vision provider.
type Image struct {
	Data     []byte
	MIMEType string
}

// VisionProvider detects text in an image or PDF.
type VisionProvider interface {
	DetectText(ctx context.Context, img Image) (*Detection, error)
}

// Prompt is a deterministic, JSON-only language model request.
type Prompt struct {
	System string
	User   string
}

// LanguageModel answers a Prompt with raw JSON text.
type LanguageModel interface {
	GenerateJSON(ctx context.Context, purpose string, prompt Prompt) (string, error)
}

// Input is one document to process.
type Input struct {
	Data         []byte
	MIMEType     string
	DocumentType model.DocumentType
}

// Metadata records how a result was produced.
type Metadata struct {
	TextSource    string    `json:"text_source"`
	Preprocessed  bool      `json:"preprocessed"`
	Width         int       `json:"width,omitempty"`
	Height        int       `json:"height,omitempty"`
	BlockCount    int       `json:"block_count"`
	DetectedType  bool      `json:"detected_type"`
	ProcessedAt   time.Time `json:"processed_at"`
	FieldsPresent int       `json:"fields_present"`
	FieldsTotal   int       `json:"fields_total"`
}

// Result is the combined output of one pipeline run.
type Result struct {
	DocumentType  model.DocumentType  `json:"document_type"`
	OCRText       string              `json:"ocr_text"`
	ExtractedData model.ExtractedData `json:"extracted_data"`
	Confidence    model.Confidence    `json:"confidence"`
	Metadata      Metadata            `json:"metadata"`
}

const (
	SourceVision       = "vision"
	SourcePDFTextLayer = "pdf_text_layer"
)
