package extraction

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/AthleteDocs/internal/besteffort"
	"github.com/dharsanguruparan/AthleteDocs/internal/model"
	pdfutil "github.com/dharsanguruparan/AthleteDocs/internal/pdf"
)

// ErrNoText aborts a run whose OCR stage produced nothing.
var ErrNoText = model.NewValidationError("no text extracted from document")

// StageHook observes stage completion, for progress reporting.
type StageHook func(ctx context.Context, stage Stage)

// Pipeline runs the per-document stages in strict order.
type Pipeline struct {
	vision       VisionProvider
	llm          LanguageModel
	preprocessor *Preprocessor
	auth         *Authenticator
	logger       logrus.FieldLogger
	pdfText      bool
	hook         StageHook
	now          func() time.Time
}

type Option func(*Pipeline)

// WithPDFTextLayer reads embedded PDF text before calling the vision provider.
func WithPDFTextLayer() Option {
	return func(p *Pipeline) { p.pdfText = true }
}

func WithStageHook(h StageHook) Option {
	return func(p *Pipeline) { p.hook = h }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func WithPatternCheck(pc PatternCheck) Option {
	return func(p *Pipeline) { p.auth = NewAuthenticator(pc) }
}

func WithTempDir(dir string) Option {
	return func(p *Pipeline) { p.preprocessor.TempDir = dir }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func NewPipeline(vision VisionProvider, llm LanguageModel, opts ...Option) *Pipeline {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	p := &Pipeline{
		vision:       vision,
		llm:          llm,
		preprocessor: &Preprocessor{},
		auth:         NewAuthenticator(nil),
		logger:       discard,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.auth.Now = p.now
	return p
}

func (p *Pipeline) stage(ctx context.Context, s Stage) {
	if p.hook != nil {
		p.hook(ctx, s)
	}
}

// Process runs extraction followed by the authenticity checks.
func (p *Pipeline) Process(ctx context.Context, in Input) (*Result, model.AuthenticityReport, error) {
	res, err := p.Extract(ctx, in)
	if err != nil {
		return nil, model.AuthenticityReport{}, err
	}
	report := p.Authenticate(ctx, res.DocumentType, res.ExtractedData, res.OCRText)
	p.stage(ctx, StageDone)
	return res, report, nil
}

// Extract runs preprocess, OCR, type detection and structured extraction.
// Empty OCR text aborts before structured extraction is attempted. The
// preprocessed artifact is always removed.
func (p *Pipeline) Extract(ctx context.Context, in Input) (*Result, error) {
	p.stage(ctx, StageReceived)
	artifact, err := p.preprocessor.Process(in.Data, in.MIMEType)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}
	defer besteffort.Run(p.logger, "remove preprocessed image", artifact.Cleanup)
	p.stage(ctx, StagePreprocessed)

	ocr, err := p.recognize(ctx, artifact)
	if err != nil {
		return nil, err
	}
	if ocr.Text == "" {
		return nil, ErrNoText
	}
	p.stage(ctx, StageOCRExtracted)

	docType, detected := in.DocumentType, false
	if docType == "" || docType == model.DocUnknown {
		docType, err = DetectType(ctx, p.llm, ocr.Text)
		if err != nil {
			return nil, fmt.Errorf("detect document type: %w", err)
		}
		detected = true
		p.logger.WithField("document_type", docType).Debug("detected document type")
	}

	data, extractionConfidence, err := ExtractStructured(ctx, p.llm, ocr.Text, docType)
	if err != nil {
		return nil, fmt.Errorf("structured extraction: %w", err)
	}
	p.stage(ctx, StageStructuredExtracted)

	return &Result{
		DocumentType:  docType,
		OCRText:       ocr.Text,
		ExtractedData: data,
		Confidence: model.Confidence{
			OCR:        ocr.Confidence,
			Extraction: extractionConfidence,
			Overall:    (ocr.Confidence + extractionConfidence) / 2,
		},
		Metadata: Metadata{
			TextSource:    ocr.Source,
			Preprocessed:  artifact.Path != "",
			Width:         artifact.Width,
			Height:        artifact.Height,
			BlockCount:    len(ocr.Blocks),
			DetectedType:  detected,
			ProcessedAt:   p.now().UTC(),
			FieldsPresent: data.NonNull(),
			FieldsTotal:   len(documentFields[docType]),
		},
	}, nil
}

// Authenticate scores already extracted data.
func (p *Pipeline) Authenticate(ctx context.Context, docType model.DocumentType, data model.ExtractedData, ocrText string) model.AuthenticityReport {
	report := p.auth.Check(ctx, docType, data, ocrText)
	p.stage(ctx, StageAuthenticityChecked)
	return report
}

func (p *Pipeline) recognize(ctx context.Context, a *Artifact) (*OCRResult, error) {
	if p.pdfText && pdfutil.IsPDF(a.MIMEType) {
		text, err := pdfutil.ExtractText(a.Data)
		switch {
		case err == nil && text != "":
			return &OCRResult{Text: text, Blocks: []TextBlock{}, Confidence: 100, Source: SourcePDFTextLayer}, nil
		case err != nil:
			p.logger.WithError(err).Debug("pdf text layer unreadable, using vision")
		}
	}
	return ExtractText(ctx, p.vision, Image{Data: a.Data, MIMEType: a.MIMEType})
}
