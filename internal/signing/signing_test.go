package signing

import (
	"errors"
	"net/url"
	"testing"
	"time"
)

func TestSigner(t *testing.T) {
	s := NewSigner([]byte("topsecret"), 5*time.Minute)
	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }

	link := s.URL("/files/download", "documents/1-abc.png")
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse %q: %v", link, err)
	}
	q := u.Query()
	if q.Get("key") != "documents/1-abc.png" || q.Get("expires") != "1700000300" {
		t.Fatalf("unexpected query %v", q)
	}
	if err := s.Verify(q.Get("key"), q.Get("expires"), q.Get("sig")); err != nil {
		t.Fatalf("expected signature to validate: %v", err)
	}
	if err := s.Verify("documents/other.png", q.Get("expires"), q.Get("sig")); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected validation to fail for wrong key, got %v", err)
	}
	if err := s.Verify(q.Get("key"), "42", q.Get("sig")); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected validation to fail for wrong expiry, got %v", err)
	}

	now = now.Add(6 * time.Minute)
	if err := s.Verify(q.Get("key"), q.Get("expires"), q.Get("sig")); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected expiry, got %v", err)
	}
}
