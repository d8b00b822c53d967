package voting

import (
	"context"
	"errors"
)

// Sentinel errors shared by every Repository implementation.
var (
	ErrCycleNotFound    = errors.New("cycle not found")
	ErrNoCurrentCycle   = errors.New("no active cycle")
	ErrGameNotFound     = errors.New("game not found")
	ErrBallotNotFound   = errors.New("ballot not found")
	ErrPollNotFound     = errors.New("runoff poll not found")
	ErrDuplicateGame    = errors.New("a game with this normalized name is already on the cycle")
	ErrDuplicatePending = errors.New("a pending nomination with this normalized name already exists")
)

// Repository is the Ballot Store contract: durable CRUD for cycles, games,
// ballots, runoff polls, and pending nominations. Implementations must make
// UpsertBallot and UpsertRunoffPick atomic per (cycle, voter).
type Repository interface {
	// Cycles
	CreateCycle(ctx context.Context, c *Cycle) error
	UpdateCycle(ctx context.Context, c *Cycle) error
	// DeleteCycle removes a cycle and everything hanging off it. Only
	// abandoned Pending cycles are ever deleted.
	DeleteCycle(ctx context.Context, id int64) error
	GetCycleByID(ctx context.Context, id int64) (*Cycle, error)
	// CurrentCycle returns the Open or RunoffOpen cycle, or ErrNoCurrentCycle.
	CurrentCycle(ctx context.Context) (*Cycle, error)
	// LatestCompletedCycle backs carry-over; ErrCycleNotFound when history is empty.
	LatestCompletedCycle(ctx context.Context) (*Cycle, error)
	LatestCycle(ctx context.Context) (*Cycle, error)

	// Games
	AddGame(ctx context.Context, g *Game) error // ErrDuplicateGame on a norm-key collision within the cycle
	RemoveGame(ctx context.Context, cycleID, gameID int64) error
	GetGameByNormKey(ctx context.Context, cycleID int64, normKey string) (*Game, error)
	ListGames(ctx context.Context, cycleID int64) ([]*Game, error)

	// Ballots
	UpsertBallot(ctx context.Context, b *Ballot) error
	GetBallot(ctx context.Context, cycleID, voterID int64) (*Ballot, error)
	ListBallots(ctx context.Context, cycleID int64) ([]*Ballot, error)

	// Runoff
	CreateRunoffPoll(ctx context.Context, p *RunoffPoll) error
	UpdateRunoffPoll(ctx context.Context, p *RunoffPoll) error
	GetRunoffPoll(ctx context.Context, cycleID int64) (*RunoffPoll, error)
	UpsertRunoffPick(ctx context.Context, pick *RunoffPick) error
	ListRunoffPicks(ctx context.Context, cycleID int64) ([]*RunoffPick, error)

	// Pending nominations
	AddPendingNomination(ctx context.Context, n *PendingNomination) error // ErrDuplicatePending on a norm-key collision
	ListPendingNominations(ctx context.Context) ([]*PendingNomination, error)
	CountPendingByVoter(ctx context.Context, voterID int64) (int, error)
	ClearPendingNominations(ctx context.Context) error
}
