package athleteid

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/dharsanguruparan/AthleteDocs/internal/model"
	"github.com/dharsanguruparan/AthleteDocs/internal/storage"
)

func strPtr(s string) *string { return &s }

func seedPlayers(store *storage.MemoryStore, n int, school int64) {
	for i := 1; i <= n; i++ {
		dob := time.Date(2010, 1, i, 0, 0, 0, 0, time.UTC)
		store.PutPlayer(&model.Player{
			ID:          int64(i),
			SchoolID:    &school,
			FullName:    strPtr(fmt.Sprintf("Player %d", i)),
			DateOfBirth: &dob,
		})
	}
}

func TestGeneratedIDsAreValidAndUnique(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := storage.NewMemoryStore()
	gen := New(store, logger)
	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		out, err := gen.Generate(context.Background(), PlayerData{FullName: "Sita Rai"})
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if ok, reason := Validate(out.AthleteID); !ok {
			t.Fatalf("generated id %q invalid: %s", out.AthleteID, reason)
		}
		if seen[out.AthleteID] {
			t.Fatalf("duplicate id %s", out.AthleteID)
		}
		seen[out.AthleteID] = true
	}
}

func TestValidateRejectsEachRule(t *testing.T) {
	cases := map[string]string{
		"short":         "ATH000011",
		"long":          "ATH00001123",
		"prefix":        "ATX0000112",
		"sequence":      "ATH00a0112",
		"checksum":      "ATH000011x",
		"lowercase pre": "ath0000112",
	}
	for name, id := range cases {
		if ok, reason := Validate(id); ok || reason == "" {
			t.Fatalf("%s: expected %q to be rejected", name, id)
		}
	}
	if ok, _ := Validate("ATH0000112"); !ok {
		t.Fatalf("expected well formed id to validate")
	}
}

func TestChecksumPadsMissingDigits(t *testing.T) {
	g := New(storage.NewMemoryStore(), nil, WithHasher(func(string) string { return "ab7cdef" }))
	if got := g.checksum("ATH00001", "seed"); got != "70" {
		t.Fatalf("expected 70, got %s", got)
	}
	g = New(storage.NewMemoryStore(), nil, WithHasher(func(string) string { return "abcdef" }))
	if got := g.checksum("ATH00001", "seed"); got != "00" {
		t.Fatalf("expected 00, got %s", got)
	}
}

func TestForcedCollisionRegenerates(t *testing.T) {
	logger, hook := test.NewNullLogger()
	store := storage.NewMemoryStore()
	store.PutPlayer(&model.Player{ID: 99, AthleteID: strPtr("ATH0000100")})
	gen := New(store, logger, WithHasher(func(string) string { return "no-digits-here" }))

	out, err := gen.Generate(context.Background(), PlayerData{FullName: "Colliding Name"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out.AthleteID != "ATH0000200" || out.Metadata.Attempts != 2 {
		t.Fatalf("expected regeneration to ATH0000200 on attempt 2, got %+v", out)
	}
	if hook.LastEntry() == nil {
		t.Fatalf("expected collision to be logged")
	}
}

func TestCollisionsAreBounded(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := storage.NewMemoryStore()
	for i := 1; i <= 3; i++ {
		store.PutPlayer(&model.Player{ID: int64(100 + i), AthleteID: strPtr(fmt.Sprintf("ATH%05d00", i))})
	}
	gen := New(store, logger, WithMaxAttempts(3), WithHasher(func(string) string { return "x" }))
	if _, err := gen.Generate(context.Background(), PlayerData{FullName: "Unlucky"}); err == nil {
		t.Fatalf("expected bounded collision loop to give up")
	}
}

func TestGenerateRequiresName(t *testing.T) {
	gen := New(storage.NewMemoryStore(), nil)
	_, err := gen.Generate(context.Background(), PlayerData{FullName: "   "})
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGenerateForPlayerIsIdempotent(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := storage.NewMemoryStore()
	seedPlayers(store, 1, 7)
	gen := New(store, logger)

	first, err := gen.GenerateForPlayer(context.Background(), 1)
	if err != nil || !first.IsNew {
		t.Fatalf("first call: %+v %v", first, err)
	}
	second, err := gen.GenerateForPlayer(context.Background(), 1)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if second.IsNew || second.AthleteID != first.AthleteID {
		t.Fatalf("expected same id with IsNew=false, got %+v", second)
	}
	if _, err := gen.GenerateForPlayer(context.Background(), 404); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found for missing player, got %v", err)
	}
}

func TestBatchIsolatesMalformedCandidates(t *testing.T) {
	logger, hook := test.NewNullLogger()
	store := storage.NewMemoryStore()
	seedPlayers(store, 10, 3)
	store.PutPlayer(&model.Player{ID: 5})

	gen := New(store, logger)
	ids := []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	result, err := gen.GenerateBatch(context.Background(), BatchRequest{PlayerIDs: ids, BatchSize: 10})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if result.GeneratedCount != 9 || result.SkippedCount != 1 {
		t.Fatalf("expected 9 generated and 1 skipped, got %d/%d", result.GeneratedCount, result.SkippedCount)
	}
	if result.Skipped[0].PlayerID != 5 {
		t.Fatalf("expected player 5 skipped, got %+v", result.Skipped)
	}
	if len(hook.AllEntries()) == 0 {
		t.Fatalf("expected skipped candidate to be logged")
	}
}

func TestBatchBySchoolHonorsSize(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := storage.NewMemoryStore()
	seedPlayers(store, 8, 11)
	gen := New(store, logger)
	school := int64(11)

	result, err := gen.GenerateBatch(context.Background(), BatchRequest{SchoolID: &school, BatchSize: 5})
	if err != nil || result.GeneratedCount != 5 {
		t.Fatalf("expected 5 generated, got %+v %v", result, err)
	}
	result, err = gen.GenerateBatch(context.Background(), BatchRequest{SchoolID: &school})
	if err != nil || result.GeneratedCount != 3 {
		t.Fatalf("expected remaining 3 generated, got %+v %v", result, err)
	}
}

func TestBatchValidatesSize(t *testing.T) {
	gen := New(storage.NewMemoryStore(), nil)
	for _, size := range []int{-1, 101} {
		if _, err := gen.GenerateBatch(context.Background(), BatchRequest{PlayerIDs: []int64{1}, BatchSize: size}); err == nil {
			t.Fatalf("expected size %d to be rejected", size)
		}
	}
	if _, err := gen.GenerateBatch(context.Background(), BatchRequest{}); err == nil {
		t.Fatalf("expected empty request to be rejected")
	}
}

type brokenSequence struct {
	*storage.MemoryStore
}

func (brokenSequence) NextAthleteSequence(context.Context) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestSequenceFailureAbortsBatch(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := storage.NewMemoryStore()
	seedPlayers(store, 3, 1)
	gen := New(brokenSequence{store}, logger)

	_, err := gen.GenerateBatch(context.Background(), BatchRequest{PlayerIDs: []int64{1, 2, 3}})
	if !errors.Is(err, ErrSequence) {
		t.Fatalf("expected sequence error to propagate, got %v", err)
	}
}
