package app

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"game_night_bot/internal/domain/voter"
	"game_night_bot/internal/domain/voting"
)

// memRepo is an in-memory voting.Repository for service tests.
type memRepo struct {
	mu            sync.Mutex
	cycles        map[int64]*voting.Cycle
	games         map[int64]*voting.Game
	ballots       map[string]*voting.Ballot
	polls         map[int64]*voting.RunoffPoll
	picks         map[string]*voting.RunoffPick
	pending       []*voting.PendingNomination
	nextCycleID   int64
	nextGameID    int64
	nextPendingID int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		cycles:  make(map[int64]*voting.Cycle),
		games:   make(map[int64]*voting.Game),
		ballots: make(map[string]*voting.Ballot),
		polls:   make(map[int64]*voting.RunoffPoll),
		picks:   make(map[string]*voting.RunoffPick),
	}
}

func ballotKey(cycleID, voterID int64) string {
	return fmt.Sprintf("%d:%d", cycleID, voterID)
}

func (r *memRepo) CreateCycle(_ context.Context, c *voting.Cycle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextCycleID++
	c.ID = r.nextCycleID
	c.CreatedAt = time.Now()
	clone := *c
	r.cycles[c.ID] = &clone
	return nil
}

func (r *memRepo) UpdateCycle(_ context.Context, c *voting.Cycle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cycles[c.ID]; !ok {
		return voting.ErrCycleNotFound
	}
	clone := *c
	r.cycles[c.ID] = &clone
	return nil
}

func (r *memRepo) DeleteCycle(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cycles[id]; !ok {
		return voting.ErrCycleNotFound
	}
	delete(r.cycles, id)
	for gid, g := range r.games {
		if g.CycleID == id {
			delete(r.games, gid)
		}
	}
	for key, b := range r.ballots {
		if b.CycleID == id {
			delete(r.ballots, key)
		}
	}
	delete(r.polls, id)
	for key, p := range r.picks {
		if p.CycleID == id {
			delete(r.picks, key)
		}
	}
	return nil
}

func (r *memRepo) GetCycleByID(_ context.Context, id int64) (*voting.Cycle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cycles[id]
	if !ok {
		return nil, voting.ErrCycleNotFound
	}
	clone := *c
	return &clone, nil
}

func (r *memRepo) latestWhere(match func(*voting.Cycle) bool) *voting.Cycle {
	var latest *voting.Cycle
	for _, c := range r.cycles {
		if match(c) && (latest == nil || c.ID > latest.ID) {
			latest = c
		}
	}
	if latest == nil {
		return nil
	}
	clone := *latest
	return &clone
}

func (r *memRepo) CurrentCycle(_ context.Context) (*voting.Cycle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.latestWhere(func(c *voting.Cycle) bool { return c.State.Active() })
	if c == nil {
		return nil, voting.ErrNoCurrentCycle
	}
	return c, nil
}

func (r *memRepo) LatestCompletedCycle(_ context.Context) (*voting.Cycle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.latestWhere(func(c *voting.Cycle) bool { return c.State == voting.StateCompleted })
	if c == nil {
		return nil, voting.ErrCycleNotFound
	}
	return c, nil
}

func (r *memRepo) LatestCycle(_ context.Context) (*voting.Cycle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.latestWhere(func(*voting.Cycle) bool { return true })
	if c == nil {
		return nil, voting.ErrCycleNotFound
	}
	return c, nil
}

func (r *memRepo) AddGame(_ context.Context, g *voting.Game) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.games {
		if existing.CycleID == g.CycleID && existing.NormKey == g.NormKey {
			return voting.ErrDuplicateGame
		}
	}
	r.nextGameID++
	g.ID = r.nextGameID
	g.CreatedAt = time.Now()
	clone := *g
	r.games[g.ID] = &clone
	return nil
}

func (r *memRepo) RemoveGame(_ context.Context, cycleID, gameID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.games[gameID]
	if !ok || g.CycleID != cycleID {
		return voting.ErrGameNotFound
	}
	delete(r.games, gameID)
	return nil
}

func (r *memRepo) GetGameByNormKey(_ context.Context, cycleID int64, normKey string) (*voting.Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.games {
		if g.CycleID == cycleID && g.NormKey == normKey {
			clone := *g
			return &clone, nil
		}
	}
	return nil, voting.ErrGameNotFound
}

func (r *memRepo) ListGames(_ context.Context, cycleID int64) ([]*voting.Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	games := make([]*voting.Game, 0)
	for _, g := range r.games {
		if g.CycleID == cycleID {
			clone := *g
			games = append(games, &clone)
		}
	}
	sort.Slice(games, func(i, j int) bool { return games[i].Name < games[j].Name })
	return games, nil
}

func (r *memRepo) UpsertBallot(_ context.Context, b *voting.Ballot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *b
	clone.RankedGameIDs = append([]int64(nil), b.RankedGameIDs...)
	r.ballots[ballotKey(b.CycleID, b.VoterID)] = &clone
	return nil
}

func (r *memRepo) GetBallot(_ context.Context, cycleID, voterID int64) (*voting.Ballot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.ballots[ballotKey(cycleID, voterID)]
	if !ok {
		return nil, voting.ErrBallotNotFound
	}
	clone := *b
	clone.RankedGameIDs = append([]int64(nil), b.RankedGameIDs...)
	return &clone, nil
}

func (r *memRepo) ListBallots(_ context.Context, cycleID int64) ([]*voting.Ballot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ballots := make([]*voting.Ballot, 0)
	for _, b := range r.ballots {
		if b.CycleID == cycleID {
			clone := *b
			clone.RankedGameIDs = append([]int64(nil), b.RankedGameIDs...)
			ballots = append(ballots, &clone)
		}
	}
	sort.Slice(ballots, func(i, j int) bool { return ballots[i].VoterID < ballots[j].VoterID })
	return ballots, nil
}

func (r *memRepo) CreateRunoffPoll(_ context.Context, p *voting.RunoffPoll) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *p
	clone.GameIDs = append([]int64(nil), p.GameIDs...)
	r.polls[p.CycleID] = &clone
	return nil
}

func (r *memRepo) UpdateRunoffPoll(_ context.Context, p *voting.RunoffPoll) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.polls[p.CycleID]; !ok {
		return voting.ErrPollNotFound
	}
	clone := *p
	clone.GameIDs = append([]int64(nil), p.GameIDs...)
	r.polls[p.CycleID] = &clone
	return nil
}

func (r *memRepo) GetRunoffPoll(_ context.Context, cycleID int64) (*voting.RunoffPoll, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.polls[cycleID]
	if !ok {
		return nil, voting.ErrPollNotFound
	}
	clone := *p
	clone.GameIDs = append([]int64(nil), p.GameIDs...)
	return &clone, nil
}

func (r *memRepo) UpsertRunoffPick(_ context.Context, pick *voting.RunoffPick) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *pick
	r.picks[ballotKey(pick.CycleID, pick.VoterID)] = &clone
	return nil
}

func (r *memRepo) ListRunoffPicks(_ context.Context, cycleID int64) ([]*voting.RunoffPick, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	picks := make([]*voting.RunoffPick, 0)
	for _, p := range r.picks {
		if p.CycleID == cycleID {
			clone := *p
			picks = append(picks, &clone)
		}
	}
	sort.Slice(picks, func(i, j int) bool { return picks[i].VoterID < picks[j].VoterID })
	return picks, nil
}

func (r *memRepo) AddPendingNomination(_ context.Context, n *voting.PendingNomination) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.pending {
		if existing.NormKey == n.NormKey {
			return voting.ErrDuplicatePending
		}
	}
	r.nextPendingID++
	n.ID = r.nextPendingID
	n.NominatedAt = time.Now()
	clone := *n
	r.pending = append(r.pending, &clone)
	return nil
}

func (r *memRepo) ListPendingNominations(_ context.Context) ([]*voting.PendingNomination, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*voting.PendingNomination, 0, len(r.pending))
	for _, n := range r.pending {
		clone := *n
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) CountPendingByVoter(_ context.Context, voterID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, n := range r.pending {
		if n.NominatedBy == voterID {
			count++
		}
	}
	return count, nil
}

func (r *memRepo) ClearPendingNominations(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = nil
	return nil
}

// memVoters is an in-memory voter.Repository.
type memVoters struct {
	mu     sync.Mutex
	voters map[int64]*voter.AuthorizedVoter
}

func newMemVoters(ids ...int64) *memVoters {
	m := &memVoters{voters: make(map[int64]*voter.AuthorizedVoter)}
	for _, id := range ids {
		m.voters[id] = &voter.AuthorizedVoter{UserID: id, AddedAt: time.Now()}
	}
	return m
}

func (m *memVoters) Upsert(_ context.Context, v *voter.AuthorizedVoter) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.voters[v.UserID]
	if !exists {
		v.AddedAt = time.Now()
	}
	clone := *v
	m.voters[v.UserID] = &clone
	return !exists, nil
}

func (m *memVoters) Remove(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.voters[userID]; !ok {
		return voter.ErrVoterNotFound
	}
	delete(m.voters, userID)
	return nil
}

func (m *memVoters) IsAuthorized(_ context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.voters[userID]
	return ok, nil
}

func (m *memVoters) List(_ context.Context) ([]*voter.AuthorizedVoter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*voter.AuthorizedVoter, 0, len(m.voters))
	for _, v := range m.voters {
		clone := *v
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// fakeGateway records outbound notifications.
type fakeGateway struct {
	mu            sync.Mutex
	announcements []string
	dms           map[int64][]string
}

func (g *fakeGateway) Announce(_ context.Context, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.announcements = append(g.announcements, text)
	return nil
}

func (g *fakeGateway) DirectMessage(_ context.Context, userID int64, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dms == nil {
		g.dms = make(map[int64][]string)
	}
	g.dms[userID] = append(g.dms[userID], text)
	return nil
}

func (g *fakeGateway) announced() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.announcements...)
}

func (g *fakeGateway) dmCount(userID int64) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.dms[userID])
}

func testConfig() CycleConfig {
	return CycleConfig{
		MaxTotalGames:   10,
		NominationQuota: 1,
		CarryOverCount:  5,
		Epsilon:         0,
		RunoffDuration:  time.Hour,
		LockTimeout:     time.Second,
	}
}

// newTestEngine wires a CycleService against in-memory stores, with the
// given voter IDs pre-authorized.
func newTestEngine(cfg CycleConfig, voterIDs ...int64) (*CycleService, *memRepo, *memVoters, *fakeGateway) {
	repo := newMemRepo()
	svc, voters, gw := newTestEngineOn(repo, cfg, voterIDs...)
	return svc, repo, voters, gw
}

// newTestEngineOn is newTestEngine over a caller-supplied repository, for
// failure-injection tests.
func newTestEngineOn(repo voting.Repository, cfg CycleConfig, voterIDs ...int64) (*CycleService, *memVoters, *fakeGateway) {
	voters := newMemVoters(voterIDs...)
	gw := &fakeGateway{}

	base := logrus.New()
	base.SetOutput(io.Discard)
	log := logrus.NewEntry(base)

	dispatch := NewDispatcher(gw, log, 4, time.Second)
	noms := NewNominationService(repo, cfg.NominationQuota, cfg.MaxTotalGames)
	runoffs := NewRunoffService(repo, voters, cfg.RunoffDuration)
	svc := NewCycleService(repo, voters, noms, runoffs, dispatch, cfg, log)
	return svc, voters, gw
}

// flakyRepo lets a test fail a single repository call on demand.
type flakyRepo struct {
	*memRepo
	failAddGame error
}

func (r *flakyRepo) AddGame(ctx context.Context, g *voting.Game) error {
	if r.failAddGame != nil {
		return r.failAddGame
	}
	return r.memRepo.AddGame(ctx, g)
}
