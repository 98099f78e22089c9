package extraction

import (
	"context"
	"strings"

	"github.com/dharsanguruparan/AthleteDocs/internal/model"
)

var typeMarkers = map[model.DocumentType][]string{
	model.DocBirthCertificate:       {"birth certificate", "certificate of birth", "birth registration", "place of birth"},
	model.DocCitizenshipCertificate: {"citizenship", "nagarikta", "citizen certificate"},
	model.DocSchoolID:               {"student id", "school id", "student identity", "identity card", "roll no", "grade"},
}

const classifySystemPrompt = "You classify identity documents from OCR text. Answer with a JSON object of the form {\"document_type\": \"...\"}."

// DetectByKeywords returns the type whose markers appear most often, or
// unknown when no type wins outright.
func DetectByKeywords(text string) model.DocumentType {
	lower := strings.ToLower(text)
	best, bestHits, tie := model.DocUnknown, 0, false
	for _, t := range []model.DocumentType{model.DocBirthCertificate, model.DocCitizenshipCertificate, model.DocSchoolID} {
		hits := 0
		for _, marker := range typeMarkers[t] {
			if strings.Contains(lower, marker) {
				hits++
			}
		}
		switch {
		case hits > bestHits:
			best, bestHits, tie = t, hits, false
		case hits == bestHits && hits > 0:
			tie = true
		}
	}
	if tie {
		return model.DocUnknown
	}
	return best
}

// DetectType tries keywords first and falls back to an LLM classification
// constrained to the declared types.
func DetectType(ctx context.Context, llm LanguageModel, text string) (model.DocumentType, error) {
	if t := DetectByKeywords(text); t != model.DocUnknown {
		return t, nil
	}
	names := make([]string, 0, len(model.DocumentTypes()))
	for _, t := range model.DocumentTypes() {
		names = append(names, string(t))
	}
	prompt := Prompt{
		System: classifySystemPrompt,
		User:   "Allowed values: " + strings.Join(names, ", ") + ".\n\nOCR text:\n" + text,
	}
	raw, err := llm.GenerateJSON(ctx, "classification", prompt)
	if err != nil {
		return "", &model.ProviderError{Provider: "llm", Err: err}
	}
	return parseClassification(raw), nil
}

func parseClassification(raw string) model.DocumentType {
	var candidate string
	if obj, err := parseJSONObject(raw); err == nil {
		candidate, _ = obj["document_type"].(string)
	} else {
		candidate = strings.Trim(stripFence(raw), "\" \n")
	}
	t, err := model.ParseDocumentType(candidate)
	if err != nil {
		return model.DocUnknown
	}
	return t
}
