package voting

import (
	"database/sql"
	"time"
)

// CycleState is the lifecycle position of a voting cycle.
// A cycle moves Pending -> Open -> Closed -> Completed, with an optional
// RunoffOpen detour between Closed and Completed when scoring ends in a tie.
type CycleState string

const (
	StatePending    CycleState = "PENDING"
	StateOpen       CycleState = "OPEN"
	StateClosed     CycleState = "CLOSED"
	StateRunoffOpen CycleState = "RUNOFF_OPEN"
	StateCompleted  CycleState = "COMPLETED"
)

// Active reports whether the state still accepts voter interaction of any
// kind. At most one cycle may be active at a time.
func (s CycleState) Active() bool {
	return s == StateOpen || s == StateRunoffOpen
}

// Cycle represents one weekly voting round, from nomination through the
// optional runoff to completion. Completed cycles are never deleted; they
// back carry-over and history queries.
type Cycle struct {
	ID           int64
	WeekDate     time.Time // anchor date of the game night this cycle votes for
	State        CycleState
	OpenedAt     sql.NullTime
	ClosedAt     sql.NullTime
	CompletedAt  sql.NullTime
	WinnerGameID sql.NullInt64 // unset until Completed, and left unset on an unresolved runoff
	CreatedAt    time.Time
}
