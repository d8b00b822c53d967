package voting

import (
	"database/sql"
	"strings"
	"time"
)

// Game is one ballot entry in a cycle. NormKey is unique within the cycle.
type Game struct {
	ID          int64
	CycleID     int64
	Name        string // display name as first nominated, preserved across carry-over
	NormKey     string
	NominatedBy sql.NullInt64 // unset for admin-added and carried-over games
	CarriedOver bool
	CreatedAt   time.Time
}

// PendingNomination is a nomination made while no cycle is open. Pending
// entries are absorbed, oldest first, when the next cycle starts.
type PendingNomination struct {
	ID          int64
	Name        string
	NormKey     string
	NominatedBy int64
	NominatedAt time.Time
}

// NormalizeName derives the case- and whitespace-insensitive key used to
// detect duplicate game entries: lowercased, interior runs of whitespace
// collapsed to a single space.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
