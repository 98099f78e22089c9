package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dharsanguruparan/AthleteDocs/internal/model"
)

const dateLayout = "2006-01-02"

const extractionSystemPrompt = "You extract fields from OCR text of identity documents. " +
	"Answer with a single JSON object and nothing else. Never guess: use null when a field is not clearly present."

// ExtractionPrompt builds the structured extraction request for a type.
func ExtractionPrompt(text string, docType model.DocumentType) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Document type: %s\n", docType)
	b.WriteString("Return a JSON object with exactly these keys:\n")
	for _, f := range documentFields[docType] {
		switch f.kind {
		case kindDate:
			fmt.Fprintf(&b, "- %s (date, YYYY-MM-DD)\n", f.name)
		case kindName:
			fmt.Fprintf(&b, "- %s (person name as written)\n", f.name)
		default:
			fmt.Fprintf(&b, "- %s\n", f.name)
		}
	}
	b.WriteString("Use null for any field you cannot find.\n\nOCR text:\n")
	b.WriteString(text)
	return Prompt{System: extractionSystemPrompt, User: b.String()}
}

// ExtractStructured asks the language model for the type's fields, then
// validates every value. It returns the data and the extraction confidence.
// The unknown type declares no fields and never calls the model.
func ExtractStructured(ctx context.Context, llm LanguageModel, text string, docType model.DocumentType) (model.ExtractedData, float64, error) {
	fields := documentFields[docType]
	if len(fields) == 0 {
		return model.ExtractedData{}, 0, nil
	}
	raw, err := llm.GenerateJSON(ctx, "extraction", ExtractionPrompt(text, docType))
	if err != nil {
		return nil, 0, &model.ProviderError{Provider: "llm", Err: err}
	}
	parsed, err := parseJSONObject(raw)
	if err != nil {
		return nil, 0, &model.ProviderError{Provider: "llm", Err: err}
	}
	data := ValidateFields(docType, parsed)
	return data, Confidence(docType, data), nil
}

// ValidateFields keeps only declared fields and nulls anything malformed.
func ValidateFields(docType model.DocumentType, raw map[string]any) model.ExtractedData {
	data := make(model.ExtractedData, len(documentFields[docType]))
	for _, f := range documentFields[docType] {
		data[f.name] = cleanValue(f.kind, raw[f.name])
	}
	return data
}

// Confidence is the share of declared fields holding a value, 0-100.
func Confidence(docType model.DocumentType, data model.ExtractedData) float64 {
	fields := documentFields[docType]
	if len(fields) == 0 {
		return 0
	}
	present := 0
	for _, f := range fields {
		if data.Has(f.name) {
			present++
		}
	}
	return float64(present) / float64(len(fields)) * 100
}

func cleanValue(kind fieldKind, v any) *string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		s = t.String()
	default:
		return nil
	}
	switch kind {
	case kindName:
		s = strings.Join(strings.Fields(s), " ")
	case kindDate:
		s = strings.TrimSpace(s)
		if _, err := time.Parse(dateLayout, s); err != nil {
			return nil
		}
	default:
		s = strings.TrimSpace(s)
	}
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	return &s
}

// parseJSONObject tolerates a markdown code fence around the object.
func parseJSONObject(raw string) (map[string]any, error) {
	s := stripFence(raw)
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("parse model json: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("model returned no json object")
	}
	return out, nil
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
