package extraction

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/dharsanguruparan/AthleteDocs/internal/model"
)

type fakeVision struct {
	det   *Detection
	err   error
	calls int
}

func (f *fakeVision) DetectText(_ context.Context, _ Image) (*Detection, error) {
	f.calls++
	return f.det, f.err
}

type fakeLLM struct {
	responses map[string]string
	err       error
	calls     []string
}

func (f *fakeLLM) GenerateJSON(_ context.Context, purpose string, _ Prompt) (string, error) {
	f.calls = append(f.calls, purpose)
	if f.err != nil {
		return "", f.err
	}
	return f.responses[purpose], nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

const birthJSON = `{"full_name":"  Sita   Rai ","date_of_birth":"2010-04-12","place_of_birth":"Pokhara",
"father_name":"Hari Rai","mother_name":"Gita Rai","registration_number":"BR-1182",
"registration_date":"12/04/2010","issuing_authority":null}`

func TestExtractStopsWhenOCRIsEmpty(t *testing.T) {
	vision := &fakeVision{det: &Detection{}}
	llm := &fakeLLM{}
	p := NewPipeline(vision, llm, WithTempDir(t.TempDir()))

	_, err := p.Extract(context.Background(), Input{Data: pngBytes(t, 40, 20), MIMEType: "image/png", DocumentType: model.DocBirthCertificate})
	if !errors.Is(err, ErrNoText) {
		t.Fatalf("expected ErrNoText, got %v", err)
	}
	if !model.IsPermanent(err) {
		t.Fatalf("empty ocr should be permanent")
	}
	if len(llm.calls) != 0 {
		t.Fatalf("structured extraction must not run, llm calls: %v", llm.calls)
	}
}

func TestExtractBuildsCombinedResult(t *testing.T) {
	dir := t.TempDir()
	vision := &fakeVision{det: &Detection{
		FullText: "GOVERNMENT BIRTH CERTIFICATE\nName: Sita Rai",
		Blocks:   []TextBlock{{Text: "BIRTH CERTIFICATE", Confidence: 0.9}, {Text: "Sita Rai", Confidence: 0.7}},
	}}
	llm := &fakeLLM{responses: map[string]string{"extraction": "```json\n" + birthJSON + "\n```"}}
	var stages []Stage
	p := NewPipeline(vision, llm,
		WithTempDir(dir),
		WithStageHook(func(_ context.Context, s Stage) { stages = append(stages, s) }),
	)

	res, report, err := p.Process(context.Background(), Input{Data: pngBytes(t, 400, 300), MIMEType: "image/png", DocumentType: model.DocBirthCertificate})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := res.ExtractedData.Value("full_name"); got != "Sita Rai" {
		t.Fatalf("name not collapsed: %q", got)
	}
	if res.ExtractedData.Has("registration_date") {
		t.Fatalf("malformed date should be null")
	}
	// 6 of 8 fields survive validation.
	if res.Confidence.Extraction != 75 {
		t.Fatalf("extraction confidence = %v, want 75", res.Confidence.Extraction)
	}
	if res.Confidence.OCR < 79.99 || res.Confidence.OCR > 80.01 {
		t.Fatalf("ocr confidence = %v, want 80", res.Confidence.OCR)
	}
	if want := (res.Confidence.OCR + 75) / 2; res.Confidence.Overall != want {
		t.Fatalf("overall = %v, want %v", res.Confidence.Overall, want)
	}
	if res.Metadata.Width != minLongSide || !res.Metadata.Preprocessed {
		t.Fatalf("unexpected metadata %+v", res.Metadata)
	}
	if len(report.Scores) != 4 {
		t.Fatalf("expected four scores, got %v", report.Scores)
	}
	want := []Stage{StageReceived, StagePreprocessed, StageOCRExtracted, StageStructuredExtracted, StageAuthenticityChecked, StageDone}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v", stages)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("stage %d = %s, want %s", i, stages[i], want[i])
		}
	}
	left, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("preprocessed artifact not removed: %d files", len(left))
	}
}

func TestExtractDetectsUnknownType(t *testing.T) {
	vision := &fakeVision{det: &Detection{FullText: "Student ID card\nSt. Xavier School", Blocks: []TextBlock{{Confidence: 1}}}}
	llm := &fakeLLM{responses: map[string]string{"extraction": `{"full_name":"Ram Thapa","grade":8}`}}
	p := NewPipeline(vision, llm, WithTempDir(t.TempDir()))

	res, err := p.Extract(context.Background(), Input{Data: pngBytes(t, 1200, 800), MIMEType: "image/png", DocumentType: model.DocUnknown})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.DocumentType != model.DocSchoolID || !res.Metadata.DetectedType {
		t.Fatalf("expected detected school_id, got %s", res.DocumentType)
	}
	if res.ExtractedData.Value("grade") != "8" {
		t.Fatalf("numeric grade should be stringified, got %q", res.ExtractedData.Value("grade"))
	}
	if len(llm.calls) != 1 {
		t.Fatalf("keyword match should skip classification, calls %v", llm.calls)
	}
}

func TestProviderFailureIsTransient(t *testing.T) {
	vision := &fakeVision{err: errors.New("deadline exceeded")}
	p := NewPipeline(vision, &fakeLLM{}, WithTempDir(t.TempDir()))
	_, err := p.Extract(context.Background(), Input{Data: pngBytes(t, 10, 10), MIMEType: "image/png", DocumentType: model.DocSchoolID})
	if !errors.Is(err, model.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if model.IsPermanent(err) {
		t.Fatalf("provider errors must be retryable")
	}
}

func TestDetectType(t *testing.T) {
	cases := []struct {
		name string
		text string
		llm  string
		want model.DocumentType
	}{
		{"birth keywords", "Certificate of Birth, place of birth Kathmandu", "", model.DocBirthCertificate},
		{"citizenship keyword", "Nepali Citizenship Certificate", "", model.DocCitizenshipCertificate},
		{"llm fallback", "illegible scan", `{"document_type":"school_id"}`, model.DocSchoolID},
		{"llm off enum", "illegible scan", `{"document_type":"passport"}`, model.DocUnknown},
		{"llm bare string", "illegible scan", `"birth_certificate"`, model.DocBirthCertificate},
	}
	for _, tc := range cases {
		llm := &fakeLLM{responses: map[string]string{"classification": tc.llm}}
		got, err := DetectType(context.Background(), llm, tc.text)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestStructuredExtractionRejectsInvalidJSON(t *testing.T) {
	llm := &fakeLLM{responses: map[string]string{"extraction": "I could not read it"}}
	_, _, err := ExtractStructured(context.Background(), llm, "text", model.DocBirthCertificate)
	if !errors.Is(err, model.ErrTransient) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestUnknownTypeSkipsModel(t *testing.T) {
	llm := &fakeLLM{}
	data, conf, err := ExtractStructured(context.Background(), llm, "text", model.DocUnknown)
	if err != nil || conf != 0 || len(data) != 0 || len(llm.calls) != 0 {
		t.Fatalf("unexpected result %v %v %v %v", data, conf, err, llm.calls)
	}
}

func TestRecommendThresholds(t *testing.T) {
	cases := []struct {
		score     float64
		want      model.Recommendation
		authentic bool
	}{
		{92, model.RecommendAutoApprove, true},
		{90, model.RecommendAutoApprove, true},
		{75, model.RecommendManualReview, true},
		{70, model.RecommendManualReview, true},
		{69.9, model.RecommendReject, false},
		{40, model.RecommendReject, false},
	}
	for _, tc := range cases {
		rec, ok := Recommend(tc.score)
		if rec != tc.want || ok != tc.authentic {
			t.Fatalf("score %v: got %s/%v, want %s/%v", tc.score, rec, ok, tc.want, tc.authentic)
		}
	}
}

func ptr(s string) *string { return &s }

type fixedPatterns float64

func (f fixedPatterns) Score(context.Context, model.DocumentType, model.ExtractedData, string) float64 {
	return float64(f)
}

func TestAuthenticityChecks(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	a := NewAuthenticator(nil)
	a.Now = func() time.Time { return now }

	data := model.ExtractedData{
		"full_name":   ptr("Ram Thapa"),
		"student_id":  ptr("S-1"),
		"school_name": ptr("Xavier"),
		"grade":       ptr("8"),
		// 2024 issue, 2027 expiry, 1890 birth: one of three dates fails.
		"date_of_birth": ptr("1890-01-01"),
		"issue_date":    ptr("2024-01-01"),
		"expiry_date":   ptr("2027-01-01"),
	}
	report := a.Check(context.Background(), model.DocSchoolID, data, "")
	if got := report.Scores[ScoreDateConsistency]; got < 66.6 || got > 66.7 {
		t.Fatalf("date score = %v", got)
	}
	if report.Scores[ScoreNameConsistency] != 100 || report.Scores[ScoreCompleteness] != 100 || report.Scores[ScorePatterns] != 100 {
		t.Fatalf("unexpected scores %v", report.Scores)
	}
	if report.Recommendation != model.RecommendAutoApprove {
		t.Fatalf("recommendation = %s (overall %v)", report.Recommendation, report.OverallScore)
	}

	data["full_name"] = ptr("R4m_Thapa")
	low := NewAuthenticator(fixedPatterns(0))
	low.Now = a.Now
	report = low.Check(context.Background(), model.DocSchoolID, data, "")
	if report.Scores[ScoreNameConsistency] != 0 || report.IsAuthentic {
		t.Fatalf("expected rejection, got %+v", report)
	}
	if Verification(report.Recommendation) != model.VerificationRequiresReview {
		t.Fatalf("rejected document must require review")
	}
}

func TestPreprocessScalesAndCleansUp(t *testing.T) {
	p := &Preprocessor{TempDir: t.TempDir()}
	art, err := p.Process(pngBytes(t, 3000, 1500), "image/png")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if art.Width != maxLongSide || art.Height != 1000 {
		t.Fatalf("scaled to %dx%d", art.Width, art.Height)
	}
	if _, err := os.Stat(art.Path); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if err := art.Cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := os.Stat(art.Path); !os.IsNotExist(err) {
		t.Fatalf("artifact still present")
	}

	pdf, err := p.Process([]byte("%PDF-1.4"), "application/pdf")
	if err != nil || pdf.Path != "" {
		t.Fatalf("pdf should pass through: %+v %v", pdf, err)
	}
	if _, err := p.Process([]byte("not an image"), "image/png"); err == nil || !strings.Contains(err.Error(), "decode") {
		t.Fatalf("expected decode error, got %v", err)
	}
}

// pngHeader is a PNG signature and IHDR chunk for a w x h grayscale image
// with no pixel data.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 17)
	copy(ihdr, "IHDR")
	binary.BigEndian.PutUint32(ihdr[4:], w)
	binary.BigEndian.PutUint32(ihdr[8:], h)
	ihdr[12] = 8
	out := []byte("\x89PNG\r\n\x1a\n")
	out = binary.BigEndian.AppendUint32(out, 13)
	out = append(out, ihdr...)
	return binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(ihdr))
}

func TestPreprocessRejectionsArePermanent(t *testing.T) {
	p := &Preprocessor{TempDir: t.TempDir()}
	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"not an image", bytes.Repeat([]byte("MZ not an image "), 200), "decode image"},
		{"too many pixels", pngHeader(10000, 10000), "out of range"},
		{"truncated", pngHeader(64, 64), "decode image"},
	}
	for _, tc := range cases {
		_, err := p.Process(tc.data, "image/png")
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected %q, got %v", tc.name, tc.want, err)
		}
		if !model.IsPermanent(err) {
			t.Fatalf("%s: rejection must not be retried: %v", tc.name, err)
		}
	}
}

func TestFutureDatesKeptForAuthenticity(t *testing.T) {
	data := ValidateFields(model.DocSchoolID, map[string]any{
		"full_name":   "Ram Thapa",
		"issue_date":  "2099-01-01",
		"expiry_date": "2099-06-01",
		"grade":       "8",
	})
	if data.Value("issue_date") != "2099-01-01" || data.Value("expiry_date") != "2099-06-01" {
		t.Fatalf("well-formed dates must survive validation: %v", data)
	}

	a := NewAuthenticator(nil)
	a.Now = func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) }
	report := a.Check(context.Background(), model.DocSchoolID, data, "")
	// The future issue date fails; the future expiry date does not.
	if got := report.Scores[ScoreDateConsistency]; got != 50 {
		t.Fatalf("date score = %v", got)
	}
}
