package model

import "time"

// Player is the subset of the players table the pipeline reads and writes.
// Player CRUD lives elsewhere.
type Player struct {
	ID           int64      `db:"id" json:"id"`
	SchoolID     *int64     `db:"school_id" json:"school_id,omitempty"`
	FullName     *string    `db:"full_name" json:"full_name,omitempty"`
	DateOfBirth  *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	GuardianName *string    `db:"guardian_name" json:"guardian_name,omitempty"`
	Address      *string    `db:"address" json:"address,omitempty"`
	AthleteID    *string    `db:"athlete_id" json:"athlete_id,omitempty"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// PlayerProfileUpdate writes only the non-nil fields.
type PlayerProfileUpdate struct {
	FullName     *string
	DateOfBirth  *time.Time
	GuardianName *string
	Address      *string
}

// Empty reports whether the update carries nothing.
func (u PlayerProfileUpdate) Empty() bool {
	return u.FullName == nil && u.DateOfBirth == nil && u.GuardianName == nil && u.Address == nil
}

// Notification is an admin-facing message.
type Notification struct {
	ID         int64      `db:"id" json:"id"`
	Type       string     `db:"type" json:"type"`
	Title      string     `db:"title" json:"title"`
	Message    string     `db:"message" json:"message"`
	EntityType EntityType `db:"entity_type" json:"entity_type"`
	EntityID   int64      `db:"entity_id" json:"entity_id"`
	DocumentID *string    `db:"document_id" json:"document_id,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

const NotificationDocumentProcessed = "document_processed"
