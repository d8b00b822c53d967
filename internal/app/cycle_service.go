package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"game_night_bot/internal/domain/voter"
	"game_night_bot/internal/domain/voting"
)

// TriggerEvent is a named event the scheduler or an admin fires into the
// engine. Both arrive through HandleTrigger and are indistinguishable to the
// state machine.
type TriggerEvent string

const (
	TriggerOpen           TriggerEvent = "open"
	TriggerRemind         TriggerEvent = "remind"
	TriggerClose          TriggerEvent = "close"
	TriggerRunoffDeadline TriggerEvent = "runoffDeadline"
)

// CycleConfig is the engine's tunable surface.
type CycleConfig struct {
	MaxTotalGames   int
	NominationQuota int
	CarryOverCount  int
	Epsilon         float64 // scores within epsilon of the leader tie; 0 means exact equality
	RunoffDuration  time.Duration
	LockTimeout     time.Duration
}

// CycleService is the Cycle Manager: the top-level state machine that owns
// every cycle transition and structural mutation. All of them run under one
// exclusive lock per current cycle, so duplicate triggers and racing admin
// commands serialize; the loser of a race sees a StateError and the cycle is
// left unchanged. Read-only queries are served lock-free from the last
// committed snapshot.
type CycleService struct {
	repo     voting.Repository
	voters   voter.Repository
	noms     *NominationService
	runoffs  *RunoffService
	dispatch *Dispatcher
	cfg      CycleConfig
	log      *logrus.Entry
	now      func() time.Time

	// lock is the per-cycle transition lock. The channel form, rather than
	// sync.Mutex, lets acquisition time out into a ConcurrencyError.
	lock chan struct{}

	snapshot atomic.Pointer[Snapshot]

	// onRunoffOpened lets the scheduler arm the runoffDeadline trigger
	// when a runoff spawns. Optional; without it the deadline only fires
	// via admin force-close.
	onRunoffOpened func(cycleID int64, deadline time.Time)
}

func NewCycleService(
	repo voting.Repository,
	voters voter.Repository,
	noms *NominationService,
	runoffs *RunoffService,
	dispatch *Dispatcher,
	cfg CycleConfig,
	log *logrus.Entry,
) *CycleService {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 5 * time.Second
	}
	return &CycleService{
		repo:     repo,
		voters:   voters,
		noms:     noms,
		runoffs:  runoffs,
		dispatch: dispatch,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		lock:     make(chan struct{}, 1),
	}
}

// OnRunoffOpened registers the scheduler's callback for arming the
// runoffDeadline trigger. Must be called before the first transition.
func (s *CycleService) OnRunoffOpened(fn func(cycleID int64, deadline time.Time)) {
	s.onRunoffOpened = fn
}

func (s *CycleService) acquire(op string) (release func(), err error) {
	select {
	case s.lock <- struct{}{}:
		return func() { <-s.lock }, nil
	case <-time.After(s.cfg.LockTimeout):
		return nil, &voting.ConcurrencyError{Op: op}
	}
}

// HandleTrigger is the single ingress for named events. Scheduled fires and
// manual admin invocations both land here; a trigger whose precondition no
// longer holds (a late close on an already-Closed cycle, a duplicate
// runoffDeadline) comes back as a StateError and the cycle is untouched.
func (s *CycleService) HandleTrigger(ctx context.Context, ev TriggerEvent) error {
	var err error
	switch ev {
	case TriggerOpen:
		_, err = s.Start(ctx)
	case TriggerRemind:
		_, err = s.SendReminders(ctx)
	case TriggerClose:
		err = s.Close(ctx)
	case TriggerRunoffDeadline:
		err = s.ResolveRunoff(ctx)
	default:
		return fmt.Errorf("unknown trigger event %q", ev)
	}

	var stateErr *voting.StateError
	if errors.As(err, &stateErr) {
		s.log.WithField("trigger", string(ev)).WithError(err).Info("trigger ignored, precondition not met")
	}
	return err
}

// Start opens a new cycle: Pending -> Open. It refuses while another cycle
// is still Open or RunoffOpen, seeds the ballot with the previous Completed
// cycle's carry-over set, absorbs pending nominations into the remaining
// slots, and announces the new ballot.
func (s *CycleService) Start(ctx context.Context) (*voting.Cycle, error) {
	release, err := s.acquire("start")
	if err != nil {
		return nil, err
	}
	defer release()

	if cur, err := s.repo.CurrentCycle(ctx); err == nil {
		return nil, &voting.StateError{Op: "start", State: cur.State}
	} else if !errors.Is(err, voting.ErrNoCurrentCycle) {
		return nil, fmt.Errorf("checking for active cycle: %w", err)
	}

	now := s.now()
	cycle := &voting.Cycle{
		WeekDate: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()),
		State:    voting.StatePending,
	}
	if err := withRetry(ctx, func() error { return s.repo.CreateCycle(ctx, cycle) }); err != nil {
		return nil, fmt.Errorf("creating cycle: %w", err)
	}

	carried, err := s.seedCarryOver(ctx, cycle)
	if err != nil {
		return nil, s.abandonCycle(ctx, cycle, err)
	}
	absorbed, err := s.noms.AbsorbPending(ctx, cycle)
	if err != nil {
		return nil, s.abandonCycle(ctx, cycle, err)
	}

	cycle.State = voting.StateOpen
	cycle.OpenedAt = sql.NullTime{Time: now, Valid: true}
	if err := withRetry(ctx, func() error { return s.repo.UpdateCycle(ctx, cycle) }); err != nil {
		return nil, s.abandonCycle(ctx, cycle, fmt.Errorf("opening cycle %d: %w", cycle.ID, err))
	}

	s.log.WithFields(logrus.Fields{
		"cycle_id":     cycle.ID,
		"carried_over": carried,
		"absorbed":     absorbed,
	}).Info("cycle opened")

	s.refreshSnapshot(ctx)
	s.announceOpen(ctx, cycle)
	return cycle, nil
}

// Close ends voting: Open -> Closed. The ballot set is snapshotted and
// scored; a tie among the top games routes Closed -> RunoffOpen and spawns
// the runoff poll, otherwise the cycle goes straight to Completed with the
// winner recorded.
func (s *CycleService) Close(ctx context.Context) error {
	release, err := s.acquire("close")
	if err != nil {
		return err
	}
	defer release()

	cycle, err := s.mustCurrentState(ctx, "close", voting.StateOpen)
	if err != nil {
		return err
	}

	games, err := s.repo.ListGames(ctx, cycle.ID)
	if err != nil {
		return fmt.Errorf("listing games for scoring: %w", err)
	}
	// Immutable scoring snapshot: votes arriving after this point are
	// rejected by the Open-state guard on ballot mutations.
	ballots, err := s.repo.ListBallots(ctx, cycle.ID)
	if err != nil {
		return fmt.Errorf("snapshotting ballots: %w", err)
	}

	cycle.State = voting.StateClosed
	cycle.ClosedAt = sql.NullTime{Time: s.now(), Valid: true}
	if err := withRetry(ctx, func() error { return s.repo.UpdateCycle(ctx, cycle) }); err != nil {
		return fmt.Errorf("closing cycle %d: %w", cycle.ID, err)
	}

	results := voting.Score(games, ballots)
	if len(results) == 0 {
		cycle.State = voting.StateCompleted
		cycle.CompletedAt = sql.NullTime{Time: s.now(), Valid: true}
		if err := withRetry(ctx, func() error { return s.repo.UpdateCycle(ctx, cycle) }); err != nil {
			return fmt.Errorf("completing empty cycle %d: %w", cycle.ID, err)
		}
		s.log.WithField("cycle_id", cycle.ID).Info("cycle closed with no counted ballots")
		s.refreshSnapshot(ctx)
		s.dispatch.Announce("Voting is closed. No ballots were counted this week, so there is no winner.")
		return nil
	}

	tie := voting.TieSet(results, s.cfg.Epsilon)
	if len(tie) >= 2 {
		poll, err := s.runoffs.OpenPoll(ctx, cycle.ID, tie)
		if err != nil {
			return err
		}
		cycle.State = voting.StateRunoffOpen
		if err := withRetry(ctx, func() error { return s.repo.UpdateCycle(ctx, cycle) }); err != nil {
			return fmt.Errorf("moving cycle %d to runoff: %w", cycle.ID, err)
		}
		s.log.WithFields(logrus.Fields{
			"cycle_id": cycle.ID,
			"tie_set":  poll.GameIDs,
			"deadline": poll.Deadline,
		}).Info("scoring tied, runoff opened")

		s.refreshSnapshot(ctx)
		if s.onRunoffOpened != nil {
			s.onRunoffOpened(cycle.ID, poll.Deadline)
		}
		s.announceRunoff(ctx, cycle, tie, poll)
		return nil
	}

	winner := results[0]
	cycle.State = voting.StateCompleted
	cycle.WinnerGameID = sql.NullInt64{Int64: winner.GameID, Valid: true}
	cycle.CompletedAt = sql.NullTime{Time: s.now(), Valid: true}
	if err := withRetry(ctx, func() error { return s.repo.UpdateCycle(ctx, cycle) }); err != nil {
		return fmt.Errorf("completing cycle %d: %w", cycle.ID, err)
	}
	s.log.WithFields(logrus.Fields{"cycle_id": cycle.ID, "winner": winner.Name}).Info("cycle completed")

	s.refreshSnapshot(ctx)
	s.announceResults(cycle, results, winner.Name, nil)
	return nil
}

// ResolveRunoff closes the runoff poll: RunoffOpen -> Completed. Fired by
// the deadline or an admin force-close. A plurality winner is recorded; a
// runoff that itself tied (or drew no picks) completes the cycle with no
// winner and an unresolved poll awaiting DeclareWinner.
func (s *CycleService) ResolveRunoff(ctx context.Context) error {
	release, err := s.acquire("resolveRunoff")
	if err != nil {
		return err
	}
	defer release()

	cycle, err := s.mustCurrentState(ctx, "resolveRunoff", voting.StateRunoffOpen)
	if err != nil {
		return err
	}

	outcome, err := s.runoffs.Resolve(ctx, cycle.ID)
	if err != nil {
		return err
	}

	cycle.State = voting.StateCompleted
	cycle.CompletedAt = sql.NullTime{Time: s.now(), Valid: true}
	if !outcome.Unresolved {
		cycle.WinnerGameID = sql.NullInt64{Int64: outcome.WinnerGameID, Valid: true}
	}
	if err := withRetry(ctx, func() error { return s.repo.UpdateCycle(ctx, cycle) }); err != nil {
		return fmt.Errorf("completing cycle %d after runoff: %w", cycle.ID, err)
	}

	s.log.WithFields(logrus.Fields{
		"cycle_id":   cycle.ID,
		"unresolved": outcome.Unresolved,
		"counts":     outcome.Counts,
	}).Info("runoff resolved")

	s.refreshSnapshot(ctx)
	s.announceRunoffOutcome(ctx, cycle, outcome)
	return nil
}

// DeclareWinner records an admin's explicit pick after an unresolved runoff.
// The cycle is already Completed; this only fills in the winner, restricted
// to the tied games.
func (s *CycleService) DeclareWinner(ctx context.Context, name string) error {
	release, err := s.acquire("declareWinner")
	if err != nil {
		return err
	}
	defer release()

	cycle, err := s.repo.LatestCycle(ctx)
	if err != nil {
		if errors.Is(err, voting.ErrCycleNotFound) {
			return &voting.NotFoundError{Kind: "cycle", Ref: "latest"}
		}
		return fmt.Errorf("loading latest cycle: %w", err)
	}
	if cycle.State != voting.StateCompleted || cycle.WinnerGameID.Valid {
		return &voting.StateError{Op: "declareWinner", State: cycle.State}
	}

	game, err := s.repo.GetGameByNormKey(ctx, cycle.ID, voting.NormalizeName(name))
	if err != nil {
		if errors.Is(err, voting.ErrGameNotFound) {
			return &voting.NotFoundError{Kind: "game", Ref: name}
		}
		return fmt.Errorf("looking up game %q: %w", name, err)
	}

	if err := s.runoffs.DeclareWinner(ctx, cycle.ID, game.ID); err != nil {
		return err
	}

	cycle.WinnerGameID = sql.NullInt64{Int64: game.ID, Valid: true}
	if err := withRetry(ctx, func() error { return s.repo.UpdateCycle(ctx, cycle) }); err != nil {
		return fmt.Errorf("recording declared winner on cycle %d: %w", cycle.ID, err)
	}

	s.log.WithFields(logrus.Fields{"cycle_id": cycle.ID, "winner": game.Name}).Info("winner declared by admin")
	s.refreshSnapshot(ctx)
	s.dispatch.Announce(fmt.Sprintf("The tie has been settled: this week's game is %s!", game.Name))
	return nil
}

// OpenRunoff reports the in-flight runoff poll, if the current cycle is in
// RunoffOpen. Used on startup to re-arm the deadline timer after a restart.
// Returns (nil, nil, nil) when no runoff is open.
func (s *CycleService) OpenRunoff(ctx context.Context) (*voting.Cycle, *voting.RunoffPoll, error) {
	cycle, err := s.repo.CurrentCycle(ctx)
	if err != nil {
		if errors.Is(err, voting.ErrNoCurrentCycle) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("loading current cycle: %w", err)
	}
	if cycle.State != voting.StateRunoffOpen {
		return nil, nil, nil
	}
	poll, err := s.repo.GetRunoffPoll(ctx, cycle.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading runoff poll of cycle %d: %w", cycle.ID, err)
	}
	return cycle, poll, nil
}

// SendReminders DMs every attending voter who has not submitted a ranking.
// Returns how many reminders were dispatched.
func (s *CycleService) SendReminders(ctx context.Context) (int, error) {
	cycle, err := s.mustCurrentState(ctx, "remind", voting.StateOpen)
	if err != nil {
		return 0, err
	}

	ballots, err := s.repo.ListBallots(ctx, cycle.ID)
	if err != nil {
		return 0, fmt.Errorf("listing ballots for reminders: %w", err)
	}

	sent := 0
	for _, b := range ballots {
		if b.Attending && !b.Submitted() {
			s.dispatch.DirectMessage(b.VoterID,
				"Friendly reminder: you haven't ranked this week's games yet. Use /vote before results drop!")
			sent++
		}
	}
	s.log.WithFields(logrus.Fields{"cycle_id": cycle.ID, "sent": sent}).Info("reminders dispatched")
	return sent, nil
}

// mustCurrentState loads the active cycle and checks the transition
// precondition. Used by every trigger-driven transition so a mismatch is a
// uniform StateError with the cycle untouched.
func (s *CycleService) mustCurrentState(ctx context.Context, op string, want voting.CycleState) (*voting.Cycle, error) {
	cycle, err := s.repo.CurrentCycle(ctx)
	if err != nil {
		if !errors.Is(err, voting.ErrNoCurrentCycle) {
			return nil, fmt.Errorf("loading current cycle: %w", err)
		}
		latest, lerr := s.repo.LatestCycle(ctx)
		if lerr != nil {
			if errors.Is(lerr, voting.ErrCycleNotFound) {
				return nil, &voting.NotFoundError{Kind: "cycle", Ref: "current"}
			}
			return nil, fmt.Errorf("loading latest cycle: %w", lerr)
		}
		return nil, &voting.StateError{Op: op, State: latest.State}
	}
	if cycle.State != want {
		return nil, &voting.StateError{Op: op, State: cycle.State}
	}
	return cycle, nil
}

// abandonCycle deletes a Pending cycle whose opening failed partway, so the
// store holds no trace of the attempt. The seeding games cascade with the
// cycle; the pending pool is only cleared after a full absorption, so it
// survives intact. Returns cause for the caller to propagate.
func (s *CycleService) abandonCycle(ctx context.Context, cycle *voting.Cycle, cause error) error {
	if err := s.repo.DeleteCycle(ctx, cycle.ID); err != nil {
		s.log.WithError(err).WithField("cycle_id", cycle.ID).Warn("could not remove abandoned cycle")
	}
	return cause
}

// seedCarryOver copies the top carry-over games of the previous Completed
// cycle onto a fresh ballot, preserving display names. Returns how many were
// seeded.
func (s *CycleService) seedCarryOver(ctx context.Context, cycle *voting.Cycle) (int, error) {
	prev, err := s.repo.LatestCompletedCycle(ctx)
	if err != nil {
		if errors.Is(err, voting.ErrCycleNotFound) {
			return 0, nil // first cycle ever
		}
		return 0, fmt.Errorf("loading previous completed cycle: %w", err)
	}

	ranking, err := s.finalRanking(ctx, prev)
	if err != nil {
		return 0, err
	}
	if len(ranking) > s.cfg.CarryOverCount {
		ranking = ranking[:s.cfg.CarryOverCount]
	}

	seeded := 0
	for _, r := range ranking {
		if _, err := s.noms.AddGame(ctx, cycle, r.Name, true); err != nil {
			var vErr *voting.ValidationError
			if errors.As(err, &vErr) {
				continue
			}
			return seeded, err
		}
		seeded++
	}
	return seeded, nil
}

// finalRanking recomputes a completed cycle's final ordering from its stored
// ballot snapshot: the scoring ranking, with the runoff winner (when one was
// recorded) moved to the front.
func (s *CycleService) finalRanking(ctx context.Context, cycle *voting.Cycle) ([]voting.Result, error) {
	games, err := s.repo.ListGames(ctx, cycle.ID)
	if err != nil {
		return nil, fmt.Errorf("listing games of cycle %d: %w", cycle.ID, err)
	}
	ballots, err := s.repo.ListBallots(ctx, cycle.ID)
	if err != nil {
		return nil, fmt.Errorf("listing ballots of cycle %d: %w", cycle.ID, err)
	}

	results := voting.Score(games, ballots)
	if !cycle.WinnerGameID.Valid {
		return results, nil
	}

	ordered := make([]voting.Result, 0, len(results))
	for _, r := range results {
		if r.GameID == cycle.WinnerGameID.Int64 {
			ordered = append([]voting.Result{r}, ordered...)
		} else {
			ordered = append(ordered, r)
		}
	}
	return ordered, nil
}

func (s *CycleService) announceOpen(ctx context.Context, cycle *voting.Cycle) {
	games, err := s.repo.ListGames(ctx, cycle.ID)
	if err != nil {
		s.log.WithError(err).Warn("could not list games for open announcement")
		return
	}

	var sb strings.Builder
	sb.WriteString("A new game night voting cycle is open!\n")
	if len(games) == 0 {
		sb.WriteString("No games on the ballot yet. Use /nominate to add one.\n")
	} else {
		sb.WriteString("On the ballot:\n")
		for _, g := range games {
			if g.CarriedOver {
				sb.WriteString(fmt.Sprintf("- %s (carry-over)\n", g.Name))
			} else {
				sb.WriteString(fmt.Sprintf("- %s\n", g.Name))
			}
		}
	}
	slots := s.cfg.MaxTotalGames - len(games)
	sb.WriteString(fmt.Sprintf("%d of %d nomination slots remain. Set your attendance with /attend and rank with /vote.", slots, s.cfg.MaxTotalGames))
	s.dispatch.Announce(sb.String())
}

func (s *CycleService) announceRunoff(ctx context.Context, cycle *voting.Cycle, tie []voting.Result, poll *voting.RunoffPoll) {
	names := make([]string, len(tie))
	for i, r := range tie {
		names[i] = r.Name
	}
	s.dispatch.Announce(fmt.Sprintf(
		"Voting ended in a tie between %s! A runoff is open until %s. Attending voters, cast your single pick with /vote.",
		strings.Join(names, " and "), poll.Deadline.Format("Mon 15:04 MST")))

	ballots, err := s.repo.ListBallots(ctx, cycle.ID)
	if err != nil {
		s.log.WithError(err).Warn("could not list ballots for runoff pings")
		return
	}
	for _, b := range ballots {
		if b.Attending {
			s.dispatch.DirectMessage(b.VoterID,
				"A runoff vote is needed for game night! Cast your tie-breaker pick with /vote before the deadline.")
		}
	}
}

func (s *CycleService) announceRunoffOutcome(ctx context.Context, cycle *voting.Cycle, outcome *RunoffOutcome) {
	if outcome.Unresolved {
		s.dispatch.Announce("The runoff ended without a clear winner. An admin will settle the tie shortly.")
		return
	}
	results, err := s.finalRanking(ctx, cycle)
	if err != nil {
		s.log.WithError(err).Warn("could not compute final ranking for announcement")
		return
	}
	winnerName := ""
	for _, r := range results {
		if cycle.WinnerGameID.Valid && r.GameID == cycle.WinnerGameID.Int64 {
			winnerName = r.Name
			break
		}
	}
	s.announceResults(cycle, results, winnerName, outcome.Counts)
}

func (s *CycleService) announceResults(cycle *voting.Cycle, results []voting.Result, winnerName string, runoffCounts map[int64]int) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Game night results are in: this week we're playing %s!\n", winnerName))
	for i, r := range results {
		sb.WriteString(fmt.Sprintf("%d. %s: avg %.2f (%d ballots ranked it)\n", i+1, r.Name, r.Score, r.Mentions))
	}
	if len(runoffCounts) > 0 {
		sb.WriteString("Decided by runoff.")
	}
	s.dispatch.Announce(sb.String())
}
