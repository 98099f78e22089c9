package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/AthleteDocs/internal/model"
)

var playerColumns = columns(model.Player{})

// PlayerRepository reads and writes the player columns the pipeline owns:
// profile fields filled from documents and the athlete id.
type PlayerRepository struct {
	pool *pgxpool.Pool
}

func NewPlayerRepository(pool *pgxpool.Pool) *PlayerRepository {
	return &PlayerRepository{pool: pool}
}

func (r *PlayerRepository) PlayerByID(ctx context.Context, id int64) (*model.Player, error) {
	query, args, _ := psql().
		Select(playerColumns...).
		From(playerTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	var player model.Player
	if err := pgxscan.Get(ctx, r.pool, &player, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, model.NewNotFound("player", id)
		}
		return nil, fmt.Errorf("select player: %w", err)
	}
	return &player, nil
}

// UpdatePlayerProfile writes only the fields present in update.
func (r *PlayerRepository) UpdatePlayerProfile(ctx context.Context, id int64, update model.PlayerProfileUpdate) error {
	if update.Empty() {
		return nil
	}
	set := map[string]any{"updated_at": time.Now().UTC()}
	if update.FullName != nil {
		set["full_name"] = *update.FullName
	}
	if update.DateOfBirth != nil {
		set["date_of_birth"] = *update.DateOfBirth
	}
	if update.GuardianName != nil {
		set["guardian_name"] = *update.GuardianName
	}
	if update.Address != nil {
		set["address"] = *update.Address
	}
	query, args, err := psql().
		Update(playerTable).
		SetMap(set).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build player update: %w", err)
	}
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update player: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFound("player", id)
	}
	return nil
}

// AssignAthleteID sets the athlete id only when the player has none. It
// reports false when an id was already present and ErrConflict when another
// player holds athleteID.
func (r *PlayerRepository) AssignAthleteID(ctx context.Context, playerID int64, athleteID string) (bool, error) {
	query, args, _ := psql().
		Update(playerTable).
		Set("athlete_id", athleteID).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": playerID, "athlete_id": nil}).
		ToSql()
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return false, fmt.Errorf("%w: athlete id %s is taken", model.ErrConflict, athleteID)
		}
		return false, fmt.Errorf("assign athlete id: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.PlayerByID(ctx, playerID); err != nil {
		return false, err
	}
	return false, nil
}

func (r *PlayerRepository) AthleteIDExists(ctx context.Context, athleteID string) (bool, error) {
	query, args, _ := psql().
		Select("1").
		Prefix("SELECT EXISTS (").
		From(playerTable).
		Where(sq.Eq{"athlete_id": athleteID}).
		Suffix(")").
		ToSql()
	var exists bool
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("check athlete id: %w", err)
	}
	return exists, nil
}

// PlayersWithoutAthleteID lists up to limit players of a school lacking an id.
func (r *PlayerRepository) PlayersWithoutAthleteID(ctx context.Context, schoolID int64, limit int) ([]model.Player, error) {
	query, args, _ := psql().
		Select(playerColumns...).
		From(playerTable).
		Where(sq.Eq{"school_id": schoolID, "athlete_id": nil}).
		OrderBy("id").
		Limit(uint64(limit)).
		ToSql()
	var players []model.Player
	if err := pgxscan.Select(ctx, r.pool, &players, query, args...); err != nil {
		return nil, fmt.Errorf("select players without athlete id: %w", err)
	}
	return players, nil
}

// NextAthleteSequence draws from athlete_id_seq. Values are never reused,
// even when the id that consumed them is discarded.
func (r *PlayerRepository) NextAthleteSequence(ctx context.Context) (int64, error) {
	var next int64
	if err := r.pool.QueryRow(ctx, "SELECT nextval('athlete_id_seq')").Scan(&next); err != nil {
		return 0, fmt.Errorf("next athlete sequence: %w", err)
	}
	return next, nil
}
