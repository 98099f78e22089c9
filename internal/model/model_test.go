package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestProcessingStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to ProcessingStatus
		ok       bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusFailed, StatusPending, true},
		{StatusCompleted, StatusDeleted, true},
		{StatusCompleted, StatusPending, true},
		{StatusCompleted, StatusProcessing, false},
		{StatusFailed, StatusProcessing, false},
		{StatusPending, StatusCompleted, false},
		{StatusProcessing, StatusDeleted, false},
		{StatusDeleted, StatusPending, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.ok, got)
		}
	}
}

func TestParsePriority(t *testing.T) {
	cases := map[string]int{"": PriorityNormal, "normal": PriorityNormal, "HIGH": PriorityHigh, "low": PriorityLow}
	for in, want := range cases {
		got, err := ParsePriority(in)
		if err != nil || got != want {
			t.Fatalf("ParsePriority(%q) = %d, %v; want %d", in, got, err, want)
		}
	}
	if _, err := ParsePriority("urgent"); err == nil {
		t.Fatalf("expected error for unknown priority")
	}
}

func TestDocumentTypeUploadable(t *testing.T) {
	if DocUnknown.Uploadable() {
		t.Fatalf("unknown must not be uploadable")
	}
	for _, dt := range []DocumentType{DocBirthCertificate, DocCitizenshipCertificate, DocSchoolID} {
		if !dt.Uploadable() {
			t.Fatalf("%s should be uploadable", dt)
		}
	}
}

func TestJobTypeQueues(t *testing.T) {
	if JobDocumentProcessing.Queue() != QueueDocument {
		t.Fatalf("document processing belongs to the document queue")
	}
	if got := QueueAI.JobTypes(); len(got) != 3 {
		t.Fatalf("expected 3 ai job types, got %v", got)
	}
}

func TestIsPermanent(t *testing.T) {
	if !IsPermanent(fmt.Errorf("wrap: %w", NewNotFound("document", "x"))) {
		t.Fatalf("not found should be permanent")
	}
	if !IsPermanent(NewValidationError("bad")) {
		t.Fatalf("validation should be permanent")
	}
	perr := &ProviderError{Provider: "ocr", Err: errors.New("timeout")}
	if IsPermanent(perr) {
		t.Fatalf("provider errors are transient")
	}
	if !errors.Is(perr, ErrTransient) {
		t.Fatalf("provider error should match ErrTransient")
	}
}

func TestExtractedDataClone(t *testing.T) {
	name := "Ada"
	d := ExtractedData{"full_name": &name, "date_of_birth": nil}
	c := d.Clone()
	*c["full_name"] = "Grace"
	if d.Value("full_name") != "Ada" {
		t.Fatalf("clone shares storage with original")
	}
	if d.NonNull() != 1 || !d.Has("full_name") || d.Has("date_of_birth") {
		t.Fatalf("unexpected NonNull/Has results")
	}
}
