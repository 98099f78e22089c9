package pdfutil

import "testing"

func TestRejectsGarbage(t *testing.T) {
	garbage := []byte("definitely not a pdf document")
	if _, err := PageCount(garbage); err == nil {
		t.Fatalf("expected page count error for garbage input")
	}
	if _, err := ExtractText(garbage); err == nil {
		t.Fatalf("expected text extraction error for garbage input")
	}
}

func TestIsPDF(t *testing.T) {
	if !IsPDF("Application/PDF") || IsPDF("image/png") {
		t.Fatalf("unexpected IsPDF results")
	}
}
