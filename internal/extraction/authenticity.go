package extraction

import (
	"context"
	"regexp"
	"time"

	"github.com/dharsanguruparan/AthleteDocs/internal/model"
)

const (
	ScoreDateConsistency = "date_consistency"
	ScoreNameConsistency = "name_consistency"
	ScoreCompleteness    = "format_completeness"
	ScorePatterns        = "suspicious_patterns"

	autoApproveThreshold = 90
	reviewThreshold      = 70
)

var (
	namePattern  = regexp.MustCompile(`^[a-zA-Z\s.]{2,100}$`)
	earliestDate = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
)

// PatternCheck scores tamper and duplication signals, 0-100.
type PatternCheck interface {
	Score(ctx context.Context, docType model.DocumentType, data model.ExtractedData, ocrText string) float64
}

// NoPatternCheck is the default: no deeper analysis, always passing.
type NoPatternCheck struct{}

func (NoPatternCheck) Score(context.Context, model.DocumentType, model.ExtractedData, string) float64 {
	return 100
}

// Authenticator runs the four heuristic checks.
type Authenticator struct {
	Patterns PatternCheck
	Now      func() time.Time
}

// NewAuthenticator uses NoPatternCheck when patterns is nil.
func NewAuthenticator(patterns PatternCheck) *Authenticator {
	if patterns == nil {
		patterns = NoPatternCheck{}
	}
	return &Authenticator{Patterns: patterns, Now: time.Now}
}

// Check scores data and maps the mean onto a recommendation.
func (a *Authenticator) Check(ctx context.Context, docType model.DocumentType, data model.ExtractedData, ocrText string) model.AuthenticityReport {
	scores := map[string]float64{
		ScoreDateConsistency: a.dateConsistency(docType, data),
		ScoreNameConsistency: nameConsistency(docType, data),
		ScoreCompleteness:    Confidence(docType, data),
		ScorePatterns:        a.Patterns.Score(ctx, docType, data, ocrText),
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	overall := sum / float64(len(scores))
	rec, authentic := Recommend(overall)
	return model.AuthenticityReport{
		Scores:         scores,
		OverallScore:   overall,
		Recommendation: rec,
		IsAuthentic:    authentic,
	}
}

// Recommend maps an overall score: >=90 auto_approve, >=70 manual_review,
// otherwise reject. Scores of 70 and up count as authentic.
func Recommend(score float64) (model.Recommendation, bool) {
	switch {
	case score >= autoApproveThreshold:
		return model.RecommendAutoApprove, true
	case score >= reviewThreshold:
		return model.RecommendManualReview, true
	}
	return model.RecommendReject, false
}

// Verification derives the stored verification status.
func Verification(rec model.Recommendation) model.VerificationStatus {
	if rec == model.RecommendAutoApprove {
		return model.VerificationVerified
	}
	return model.VerificationRequiresReview
}

// dateConsistency is the share of present date fields that parse and lie in
// [1900-01-01, now]. Expiry dates only need the lower bound.
func (a *Authenticator) dateConsistency(docType model.DocumentType, data model.ExtractedData) float64 {
	now := a.Now()
	checked, valid := 0, 0
	for _, name := range fieldsOfKind(docType, kindDate) {
		if !data.Has(name) {
			continue
		}
		checked++
		d, err := time.Parse(dateLayout, data.Value(name))
		if err != nil || d.Before(earliestDate) {
			continue
		}
		if d.After(now) && !futureDateAllowed[name] {
			continue
		}
		valid++
	}
	if checked == 0 {
		return 100
	}
	return float64(valid) / float64(checked) * 100
}

func nameConsistency(docType model.DocumentType, data model.ExtractedData) float64 {
	checked, valid := 0, 0
	for _, name := range fieldsOfKind(docType, kindName) {
		if !data.Has(name) {
			continue
		}
		checked++
		if namePattern.MatchString(data.Value(name)) {
			valid++
		}
	}
	if checked == 0 {
		return 100
	}
	return float64(valid) / float64(checked) * 100
}
