// Package athleteid generates and assigns athlete ids: "ATH", a five digit
// zero padded sequence and a two digit checksum, ten characters in total.
//
// The sequence comes from the store (a Postgres sequence in production) so
// every worker draws disjoint values. The checksum is derived from the base id
// and a hashed per-player seed; it cannot be reversed into personal data.
package athleteid

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/AthleteDocs/internal/model"
)

const (
	Prefix      = "ATH"
	Length      = 10
	MaxSequence = 99999

	defaultMaxAttempts = 5
)

// ErrSequence marks a failure to allocate from the sequence. Unlike every
// other per-player failure it aborts a batch.
var ErrSequence = errors.New("athlete id sequence unavailable")

// Store is the subset of the player repository the generator needs.
type Store interface {
	PlayerByID(ctx context.Context, id int64) (*model.Player, error)
	AssignAthleteID(ctx context.Context, playerID int64, athleteID string) (bool, error)
	AthleteIDExists(ctx context.Context, athleteID string) (bool, error)
	PlayersWithoutAthleteID(ctx context.Context, schoolID int64, limit int) ([]model.Player, error)
	NextAthleteSequence(ctx context.Context) (int64, error)
}

// PlayerData holds the identifying fields that feed the seed. Only FullName
// is required.
type PlayerData struct {
	FullName     string
	DateOfBirth  *time.Time
	SchoolID     *int64
	GuardianName string
}

// Metadata describes how an id was produced.
type Metadata struct {
	Sequence    int64     `json:"sequence"`
	Checksum    string    `json:"checksum"`
	Attempts    int       `json:"attempts"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Generated is a freshly generated, not yet assigned, id.
type Generated struct {
	AthleteID string   `json:"athlete_id"`
	Metadata  Metadata `json:"metadata"`
}

// Assignment is the outcome of GenerateForPlayer.
type Assignment struct {
	PlayerID  int64     `json:"player_id"`
	AthleteID string    `json:"athlete_id"`
	IsNew     bool      `json:"is_new"`
	Metadata  *Metadata `json:"metadata,omitempty"`
}

// Hasher returns a hex (or otherwise printable) digest of input.
type Hasher func(input string) string

// Generator produces ids. The zero value is not usable; call New.
type Generator struct {
	store       Store
	logger      logrus.FieldLogger
	hash        Hasher
	now         func() time.Time
	maxAttempts int
}

// Option customizes a Generator.
type Option func(*Generator)

// WithHasher replaces sha256. Tests use it to force checksum collisions.
func WithHasher(h Hasher) Option {
	return func(g *Generator) { g.hash = h }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithMaxAttempts bounds collision regeneration.
func WithMaxAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// New builds a Generator. A nil logger discards output.
func New(store Store, logger logrus.FieldLogger, opts ...Option) *Generator {
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	g := &Generator{
		store:       store,
		logger:      logger,
		hash:        sha256Hex,
		now:         time.Now,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// Generate builds an id that no player holds yet. On a collision it draws a
// new sequence value and tries again, up to the configured attempt limit.
func (g *Generator) Generate(ctx context.Context, data PlayerData) (*Generated, error) {
	if normalize(data.FullName) == "" {
		return nil, model.NewValidationError("player name is required to generate an athlete id")
	}
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		now := g.now()
		seed := g.seed(data, now)
		seq, err := g.store.NextAthleteSequence(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSequence, err)
		}
		if seq < 1 || seq > MaxSequence {
			return nil, fmt.Errorf("%w: sequence value %d outside 1..%d", ErrSequence, seq, MaxSequence)
		}
		base := fmt.Sprintf("%s%05d", Prefix, seq)
		checksum := g.checksum(base, seed)
		id := base + checksum

		exists, err := g.store.AthleteIDExists(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("check athlete id: %w", err)
		}
		if exists {
			g.logger.WithFields(logrus.Fields{"athlete_id": id, "attempt": attempt}).Warn("athlete id collision, regenerating")
			continue
		}
		return &Generated{
			AthleteID: id,
			Metadata: Metadata{
				Sequence:    seq,
				Checksum:    checksum,
				Attempts:    attempt,
				GeneratedAt: now.UTC(),
			},
		}, nil
	}
	return nil, fmt.Errorf("athlete id still colliding after %d attempts", g.maxAttempts)
}

// seed hashes the normalized identifying fields plus a nanosecond timestamp.
func (g *Generator) seed(data PlayerData, now time.Time) string {
	parts := []string{normalize(data.FullName)}
	if data.DateOfBirth != nil {
		parts = append(parts, data.DateOfBirth.Format("2006-01-02"))
	} else {
		parts = append(parts, "")
	}
	if data.SchoolID != nil {
		parts = append(parts, strconv.FormatInt(*data.SchoolID, 10))
	} else {
		parts = append(parts, "")
	}
	parts = append(parts, normalize(data.GuardianName), strconv.FormatInt(now.UnixNano(), 10))
	return g.hash(strings.Join(parts, "|"))
}

// checksum takes the first two decimal digits of hash(base+seed), padding
// with '0' when the digest holds fewer than two.
func (g *Generator) checksum(base, seed string) string {
	digest := g.hash(base + seed)
	var digits []byte
	for i := 0; i < len(digest) && len(digits) < 2; i++ {
		if c := digest[i]; c >= '0' && c <= '9' {
			digits = append(digits, c)
		}
	}
	for len(digits) < 2 {
		digits = append(digits, '0')
	}
	return string(digits)
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Validate checks the structural rules and returns a reason when id breaks
// one of them.
func Validate(id string) (bool, string) {
	switch {
	case len(id) != Length:
		return false, fmt.Sprintf("athlete id must be %d characters, got %d", Length, len(id))
	case !strings.HasPrefix(id, Prefix):
		return false, fmt.Sprintf("athlete id must start with %s", Prefix)
	case !allDigits(id[3:8]):
		return false, "athlete id sequence must be digits"
	case !allDigits(id[8:]):
		return false, "athlete id checksum must be digits"
	}
	return true, ""
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

// GenerateForPlayer is idempotent: a player that already has an id gets it
// back with IsNew false.
func (g *Generator) GenerateForPlayer(ctx context.Context, playerID int64) (*Assignment, error) {
	player, err := g.store.PlayerByID(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if player.AthleteID != nil {
		return &Assignment{PlayerID: playerID, AthleteID: *player.AthleteID}, nil
	}
	data := PlayerData{SchoolID: player.SchoolID, DateOfBirth: player.DateOfBirth}
	if player.FullName != nil {
		data.FullName = *player.FullName
	}
	if player.GuardianName != nil {
		data.GuardianName = *player.GuardianName
	}

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		gen, err := g.Generate(ctx, data)
		if err != nil {
			return nil, err
		}
		assigned, err := g.store.AssignAthleteID(ctx, playerID, gen.AthleteID)
		if errors.Is(err, model.ErrConflict) {
			// Another player took the id between the check and the write.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("assign athlete id: %w", err)
		}
		if !assigned {
			current, err := g.store.PlayerByID(ctx, playerID)
			if err != nil {
				return nil, err
			}
			if current.AthleteID == nil {
				return nil, fmt.Errorf("athlete id for player %d was neither assigned nor present", playerID)
			}
			return &Assignment{PlayerID: playerID, AthleteID: *current.AthleteID}, nil
		}
		g.logger.WithFields(logrus.Fields{"player_id": playerID, "athlete_id": gen.AthleteID}).Info("athlete id assigned")
		meta := gen.Metadata
		return &Assignment{PlayerID: playerID, AthleteID: gen.AthleteID, IsNew: true, Metadata: &meta}, nil
	}
	return nil, fmt.Errorf("athlete id for player %d kept conflicting after %d attempts", playerID, g.maxAttempts)
}
