package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/dharsanguruparan/AthleteDocs/internal/model"
)

// PutPlayer inserts or replaces a player. Player CRUD is owned by the wider
// tournament system; tests and the memory backend seed players through here.
func (m *MemoryStore) PutPlayer(p *model.Player) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *p
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = m.now()
	}
	m.players[p.ID] = &out
}

func (m *MemoryStore) PlayerByID(_ context.Context, id int64) (*model.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[id]
	if !ok {
		return nil, model.NewNotFound("player", id)
	}
	out := *p
	return &out, nil
}

func (m *MemoryStore) UpdatePlayerProfile(_ context.Context, id int64, update model.PlayerProfileUpdate) error {
	if update.Empty() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[id]
	if !ok {
		return model.NewNotFound("player", id)
	}
	if update.FullName != nil {
		v := *update.FullName
		p.FullName = &v
	}
	if update.DateOfBirth != nil {
		v := *update.DateOfBirth
		p.DateOfBirth = &v
	}
	if update.GuardianName != nil {
		v := *update.GuardianName
		p.GuardianName = &v
	}
	if update.Address != nil {
		v := *update.Address
		p.Address = &v
	}
	p.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) AssignAthleteID(_ context.Context, playerID int64, athleteID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[playerID]
	if !ok {
		return false, model.NewNotFound("player", playerID)
	}
	if p.AthleteID != nil {
		return false, nil
	}
	for _, other := range m.players {
		if other.AthleteID != nil && *other.AthleteID == athleteID {
			return false, fmt.Errorf("%w: athlete id %s is taken", model.ErrConflict, athleteID)
		}
	}
	id := athleteID
	p.AthleteID = &id
	p.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryStore) AthleteIDExists(_ context.Context, athleteID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.players {
		if p.AthleteID != nil && *p.AthleteID == athleteID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) PlayersWithoutAthleteID(_ context.Context, schoolID int64, limit int) ([]model.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Player
	for _, p := range m.players {
		if p.AthleteID == nil && p.SchoolID != nil && *p.SchoolID == schoolID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// NextAthleteSequence is a mutex-guarded counter; like the Postgres sequence
// it refuses to go past MaxAthleteSequence.
func (m *MemoryStore) NextAthleteSequence(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sequence >= MaxAthleteSequence {
		return 0, fmt.Errorf("athlete id sequence exhausted at %d", m.sequence)
	}
	m.sequence++
	return m.sequence, nil
}

// --- notifications ---

func (m *MemoryStore) CreateNotification(_ context.Context, n *model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextNoteID++
	n.ID = m.nextNoteID
	if n.CreatedAt.IsZero() {
		n.CreatedAt = m.now()
	}
	stored := *n
	m.notifications = append(m.notifications, &stored)
	return nil
}

func (m *MemoryStore) NotificationsByEntity(_ context.Context, entityType model.EntityType, entityID int64) ([]model.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Notification
	for i := len(m.notifications) - 1; i >= 0; i-- {
		n := m.notifications[i]
		if n.EntityType == entityType && n.EntityID == entityID {
			out = append(out, *n)
		}
	}
	return out, nil
}
