package athleteid

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/AthleteDocs/internal/model"
)

const (
	DefaultBatchSize = 10
	MaxBatchSize     = 100
)

// BatchRequest selects candidates either explicitly or by school. BatchSize
// bounds both forms; zero means DefaultBatchSize.
type BatchRequest struct {
	PlayerIDs []int64
	SchoolID  *int64
	BatchSize int
}

// BatchEntry is one generated id.
type BatchEntry struct {
	PlayerID  int64    `json:"player_id"`
	AthleteID string   `json:"athlete_id"`
	Metadata  Metadata `json:"metadata"`
}

// SkippedEntry is one candidate that did not receive a new id.
type SkippedEntry struct {
	PlayerID int64  `json:"player_id"`
	Reason   string `json:"reason"`
}

// BatchResult counts what happened to every candidate.
type BatchResult struct {
	GeneratedCount int            `json:"generated_count"`
	SkippedCount   int            `json:"skipped_count"`
	GeneratedIDs   []BatchEntry   `json:"generated_ids"`
	Skipped        []SkippedEntry `json:"skipped,omitempty"`
}

// GenerateBatch generates ids for up to BatchSize candidates. A candidate that
// fails is counted as skipped; only a sequence failure aborts, returning the
// partial result alongside the error.
func (g *Generator) GenerateBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	size := req.BatchSize
	if size == 0 {
		size = DefaultBatchSize
	}
	if size < 1 || size > MaxBatchSize {
		return nil, model.NewValidationError(fmt.Sprintf("batch_size must be between 1 and %d", MaxBatchSize))
	}

	var candidates []int64
	switch {
	case len(req.PlayerIDs) > 0:
		candidates = req.PlayerIDs
		if len(candidates) > size {
			candidates = candidates[:size]
		}
	case req.SchoolID != nil:
		players, err := g.store.PlayersWithoutAthleteID(ctx, *req.SchoolID, size)
		if err != nil {
			return nil, fmt.Errorf("list school players: %w", err)
		}
		for _, p := range players {
			candidates = append(candidates, p.ID)
		}
	default:
		return nil, model.NewValidationError("player_ids or school_id is required")
	}
	return g.run(ctx, candidates)
}

// BulkGenerate generates ids for every given player with no batch bound.
func (g *Generator) BulkGenerate(ctx context.Context, playerIDs []int64) (*BatchResult, error) {
	return g.run(ctx, playerIDs)
}

func (g *Generator) run(ctx context.Context, candidates []int64) (*BatchResult, error) {
	result := &BatchResult{GeneratedIDs: []BatchEntry{}}
	for _, playerID := range candidates {
		assignment, err := g.GenerateForPlayer(ctx, playerID)
		if err != nil {
			if errors.Is(err, ErrSequence) {
				return result, err
			}
			g.logger.WithError(err).WithField("player_id", playerID).Warn("athlete id generation skipped")
			result.skip(playerID, err.Error())
			continue
		}
		if !assignment.IsNew {
			result.skip(playerID, "player already has athlete id "+assignment.AthleteID)
			continue
		}
		result.GeneratedCount++
		result.GeneratedIDs = append(result.GeneratedIDs, BatchEntry{
			PlayerID:  playerID,
			AthleteID: assignment.AthleteID,
			Metadata:  *assignment.Metadata,
		})
	}
	g.logger.WithFields(logrus.Fields{
		"generated": result.GeneratedCount,
		"skipped":   result.SkippedCount,
	}).Info("athlete id batch finished")
	return result, nil
}

func (r *BatchResult) skip(playerID int64, reason string) {
	r.SkippedCount++
	r.Skipped = append(r.Skipped, SkippedEntry{PlayerID: playerID, Reason: reason})
}
