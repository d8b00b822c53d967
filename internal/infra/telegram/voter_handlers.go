package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"game_night_bot/internal/app"
	"game_night_bot/internal/domain/voting"
)

// userMessage turns an engine error into a reply a voter can act on.
func userMessage(err error) string {
	var (
		vErr    *voting.ValidationError
		sErr    *voting.StateError
		authErr *voting.AuthorizationError
		nfErr   *voting.NotFoundError
		cErr    *voting.ConcurrencyError
	)
	switch {
	case errors.As(err, &vErr):
		return "That didn't work: " + vErr.Reason + "."
	case errors.As(err, &sErr):
		switch sErr.State {
		case voting.StateRunoffOpen:
			return "A runoff is in progress, only runoff picks are accepted right now. Use /vote."
		case voting.StateCompleted, voting.StateClosed:
			return "Voting for this week is already closed."
		default:
			return "That isn't possible right now: no voting cycle is open."
		}
	case errors.As(err, &authErr):
		return "You're not on the voter list for this group. Ask an admin to add you."
	case errors.As(err, &nfErr):
		return fmt.Sprintf("Couldn't find that %s.", nfErr.Kind)
	case errors.As(err, &cErr):
		return "The bot is busy with another update, please try again in a moment."
	default:
		return "Something went wrong, please try again."
	}
}

// rankingSession is one voter's in-progress /vote flow: game IDs in the
// order tapped so far. Sessions are in-memory only; a restart just means
// redoing the taps, the ballot itself is stored atomically on "Done".
type rankingSession struct {
	cycleID int64
	picks   []int64
}

// sessionStore guards the sessions as well as the map holding them: telebot
// runs every handler in its own goroutine, so two rapid taps from the same
// voter arrive concurrently. Callers only ever see copies of the pick list.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[int64]*rankingSession
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[int64]*rankingSession)}
}

func (st *sessionStore) begin(userID, cycleID int64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[userID] = &rankingSession{cycleID: cycleID}
}

// tap records a pick. ok is false when no session exists, dup is true when
// the game was already ranked; otherwise picks holds the ranking so far.
func (st *sessionStore) tap(userID, gameID int64) (picks []int64, ok, dup bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.sessions[userID]
	if s == nil {
		return nil, false, false
	}
	for _, id := range s.picks {
		if id == gameID {
			return nil, true, true
		}
	}
	s.picks = append(s.picks, gameID)
	return append([]int64(nil), s.picks...), true, false
}

func (st *sessionStore) picks(userID int64) ([]int64, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.sessions[userID]
	if s == nil {
		return nil, false
	}
	return append([]int64(nil), s.picks...), true
}

func (st *sessionStore) reset(userID int64) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.sessions[userID]
	if s == nil {
		return false
	}
	s.picks = s.picks[:0]
	return true
}

func (st *sessionStore) clear(userID int64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, userID)
}

// RegisterVoterHandlers wires the voter-facing commands and the inline
// keyboard callbacks of the ranking flow.
func RegisterVoterHandlers(ctx context.Context, b *telebot.Bot, cycles *app.CycleService, baseLogger *logrus.Entry) {
	sessions := newSessionStore()

	b.Handle("/attend", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/attend",
			"sender_id": c.Sender().ID,
		})

		args := c.Args()
		if len(args) != 1 || (args[0] != "yes" && args[0] != "no") {
			return c.Send("Usage: /attend yes (or /attend no)")
		}
		attending := args[0] == "yes"

		if err := cycles.SetAttendance(ctx, c.Sender().ID, attending); err != nil {
			handlerLogger.WithError(err).Warn("attendance update rejected")
			return c.Send(userMessage(err))
		}
		handlerLogger.WithField("attending", attending).Info("attendance recorded")
		if attending {
			return c.Send("You're in for game night! Rank the games with /vote.")
		}
		return c.Send("Noted, you're sitting this week out. Your ballot won't be counted.")
	})

	b.Handle("/nominate", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/nominate",
			"sender_id": c.Sender().ID,
		})

		name := strings.TrimSpace(strings.Join(c.Args(), " "))
		if name == "" {
			return c.Send("Usage: /nominate <game name>")
		}

		onBallot, err := cycles.Nominate(ctx, c.Sender().ID, name)
		if err != nil {
			handlerLogger.WithField("game", name).WithError(err).Warn("nomination rejected")
			return c.Send(userMessage(err))
		}
		handlerLogger.WithFields(logrus.Fields{"game": name, "on_ballot": onBallot}).Info("nomination accepted")
		if onBallot {
			return c.Send(fmt.Sprintf("%s is on this week's ballot!", name))
		}
		return c.Send(fmt.Sprintf("No cycle is open for voting right now, so %s is parked for the next one.", name))
	})

	b.Handle("/vote", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/vote",
			"sender_id": c.Sender().ID,
		})

		snap, err := cycles.Status(ctx)
		if err != nil {
			handlerLogger.WithError(err).Error("failed to load status for /vote")
			return c.Send(userMessage(err))
		}
		if snap.Cycle != nil && snap.Cycle.State == voting.StateRunoffOpen {
			return sendRunoffKeyboard(c, snap)
		}

		ballot, games, err := cycles.MyBallot(ctx, c.Sender().ID)
		if err != nil {
			handlerLogger.WithError(err).Warn("/vote rejected")
			return c.Send(userMessage(err))
		}
		if len(games) == 0 {
			return c.Send("The ballot is empty. Nominate something first with /nominate.")
		}
		if ballot == nil || !ballot.Attending {
			return c.Send("Set your attendance first: /attend yes")
		}

		sessions.begin(c.Sender().ID, games[0].CycleID)
		handlerLogger.WithField("games", len(games)).Info("ranking flow started")
		return c.Send(
			"Tap the games in order of preference, favorite first. Hit Done when finished.",
			rankingKeyboard(nil, games),
		)
	})

	b.Handle("/myvote", func(c telebot.Context) error {
		ballot, games, err := cycles.MyBallot(ctx, c.Sender().ID)
		if err != nil {
			return c.Send(userMessage(err))
		}
		if ballot == nil {
			return c.Send("You haven't voted yet this week. Start with /attend yes, then /vote.")
		}

		var sb strings.Builder
		if ballot.Attending {
			sb.WriteString("Attendance: coming\n")
		} else {
			sb.WriteString("Attendance: not coming\n")
		}
		if !ballot.Submitted() {
			sb.WriteString("Ranking: none yet. Use /vote.")
			return c.Send(sb.String())
		}
		names := gameNames(games)
		sb.WriteString("Your ranking:\n")
		for i, id := range ballot.RankedGameIDs {
			sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, names[id]))
		}
		return c.Send(sb.String())
	})

	b.Handle("/status", func(c telebot.Context) error {
		snap, err := cycles.Status(ctx)
		if err != nil {
			return c.Send(userMessage(err))
		}
		return c.Send(formatStatus(snap))
	})

	b.Handle("/results", func(c telebot.Context) error {
		cycle, results, err := cycles.Results(ctx)
		if err != nil {
			var nfErr *voting.NotFoundError
			if errors.As(err, &nfErr) {
				return c.Send("No cycle has finished yet. Results will appear after the first close.")
			}
			return c.Send(userMessage(err))
		}

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Results for the week of %s:\n", cycle.WeekDate.Format("Jan 2")))
		for i, r := range results {
			line := fmt.Sprintf("%d. %s: avg %.2f", i+1, r.Name, r.Score)
			if cycle.WinnerGameID.Valid && r.GameID == cycle.WinnerGameID.Int64 {
				line += " (winner)"
			}
			sb.WriteString(line + "\n")
		}
		if !cycle.WinnerGameID.Valid {
			sb.WriteString("The runoff ended in a tie; an admin still has to declare the winner.")
		}
		return c.Send(sb.String())
	})

	b.Handle(telebot.OnCallback, func(c telebot.Context) error {
		data := strings.TrimSpace(c.Callback().Data)
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "callback",
			"sender_id": c.Sender().ID,
			"data":      data,
		})

		switch {
		case strings.HasPrefix(data, "rank_"):
			return handleRankTap(ctx, c, cycles, sessions, data, handlerLogger)
		case strings.HasPrefix(data, "rankdone_"):
			return handleRankDone(ctx, c, cycles, sessions, handlerLogger)
		case strings.HasPrefix(data, "rankreset_"):
			return handleRankReset(ctx, c, cycles, sessions, handlerLogger)
		case strings.HasPrefix(data, "runoff_"):
			return handleRunoffPick(ctx, c, cycles, data, handlerLogger)
		}

		handlerLogger.Warn("unhandled callback")
		return c.Respond(&telebot.CallbackResponse{Text: "Unknown action."})
	})
}

func handleRankTap(ctx context.Context, c telebot.Context, cycles *app.CycleService, sessions *sessionStore, data string, log *logrus.Entry) error {
	gameID, err := strconv.ParseInt(strings.TrimPrefix(data, "rank_"), 10, 64)
	if err != nil {
		log.WithError(err).Warn("malformed rank callback")
		return c.Respond(&telebot.CallbackResponse{Text: "Bad button data."})
	}

	picks, ok, dup := sessions.tap(c.Sender().ID, gameID)
	if !ok {
		return c.Respond(&telebot.CallbackResponse{Text: "This ranking expired; send /vote again."})
	}
	if dup {
		return c.Respond(&telebot.CallbackResponse{Text: "Already ranked that one."})
	}

	_, games, err := cycles.MyBallot(ctx, c.Sender().ID)
	if err != nil {
		sessions.clear(c.Sender().ID)
		return c.Respond(&telebot.CallbackResponse{Text: userMessage(err)})
	}
	if err := c.Edit(
		fmt.Sprintf("Ranked %d of %d. Keep tapping, or hit Done.", len(picks), len(games)),
		rankingKeyboard(picks, games),
	); err != nil {
		log.WithError(err).Warn("failed to update ranking keyboard")
	}
	return c.Respond()
}

func handleRankDone(ctx context.Context, c telebot.Context, cycles *app.CycleService, sessions *sessionStore, log *logrus.Entry) error {
	picks, ok := sessions.picks(c.Sender().ID)
	if !ok {
		return c.Respond(&telebot.CallbackResponse{Text: "This ranking expired; send /vote again."})
	}
	if len(picks) == 0 {
		return c.Respond(&telebot.CallbackResponse{Text: "Tap at least one game first."})
	}

	if err := cycles.SubmitBallot(ctx, c.Sender().ID, true, picks); err != nil {
		log.WithError(err).Warn("ballot submission rejected")
		sessions.clear(c.Sender().ID)
		return c.Respond(&telebot.CallbackResponse{Text: userMessage(err)})
	}
	sessions.clear(c.Sender().ID)
	log.WithField("ranked", len(picks)).Info("ballot submitted")

	if err := c.Edit("Ballot submitted! You can redo it any time with /vote; the new one replaces the old."); err != nil {
		log.WithError(err).Warn("failed to finalize ranking message")
	}
	return c.Respond(&telebot.CallbackResponse{Text: "Ballot saved."})
}

func handleRankReset(ctx context.Context, c telebot.Context, cycles *app.CycleService, sessions *sessionStore, log *logrus.Entry) error {
	if !sessions.reset(c.Sender().ID) {
		return c.Respond(&telebot.CallbackResponse{Text: "This ranking expired; send /vote again."})
	}

	_, games, err := cycles.MyBallot(ctx, c.Sender().ID)
	if err != nil {
		sessions.clear(c.Sender().ID)
		return c.Respond(&telebot.CallbackResponse{Text: userMessage(err)})
	}
	if err := c.Edit(
		"Ranking cleared. Tap the games in order of preference, favorite first.",
		rankingKeyboard(nil, games),
	); err != nil {
		log.WithError(err).Warn("failed to reset ranking keyboard")
	}
	return c.Respond()
}

func handleRunoffPick(ctx context.Context, c telebot.Context, cycles *app.CycleService, data string, log *logrus.Entry) error {
	gameID, err := strconv.ParseInt(strings.TrimPrefix(data, "runoff_"), 10, 64)
	if err != nil {
		log.WithError(err).Warn("malformed runoff callback")
		return c.Respond(&telebot.CallbackResponse{Text: "Bad button data."})
	}

	if err := cycles.SubmitRunoffPick(ctx, c.Sender().ID, gameID); err != nil {
		log.WithError(err).Warn("runoff pick rejected")
		return c.Respond(&telebot.CallbackResponse{Text: userMessage(err)})
	}
	log.WithField("game_id", gameID).Info("runoff pick recorded")
	return c.Respond(&telebot.CallbackResponse{Text: "Pick recorded! You can change it until the deadline."})
}

// rankingKeyboard renders one button per still-unranked game, plus Done and
// Start over.
func rankingKeyboard(picks []int64, games []*voting.Game) *telebot.ReplyMarkup {
	ranked := make(map[int64]bool, len(picks))
	for _, id := range picks {
		ranked[id] = true
	}
	var cycleID int64
	if len(games) > 0 {
		cycleID = games[0].CycleID
	}

	var rows [][]telebot.InlineButton
	for _, g := range games {
		if ranked[g.ID] {
			continue
		}
		rows = append(rows, []telebot.InlineButton{{
			Text: g.Name,
			Data: fmt.Sprintf("rank_%d", g.ID),
		}})
	}
	rows = append(rows, []telebot.InlineButton{
		{Text: "Done", Data: fmt.Sprintf("rankdone_%d", cycleID)},
		{Text: "Start over", Data: fmt.Sprintf("rankreset_%d", cycleID)},
	})
	return &telebot.ReplyMarkup{InlineKeyboard: rows}
}

func sendRunoffKeyboard(c telebot.Context, snap *app.Snapshot) error {
	if snap.Poll == nil {
		return c.Send("The runoff is being set up, try again in a moment.")
	}
	names := gameNames(snap.Games)
	var rows [][]telebot.InlineButton
	for _, id := range snap.Poll.GameIDs {
		rows = append(rows, []telebot.InlineButton{{
			Text: names[id],
			Data: fmt.Sprintf("runoff_%d", id),
		}})
	}
	return c.Send(
		fmt.Sprintf("The vote tied! Pick ONE game before %s:", snap.Poll.Deadline.Format("Mon 15:04 MST")),
		&telebot.ReplyMarkup{InlineKeyboard: rows},
	)
}

func gameNames(games []*voting.Game) map[int64]string {
	names := make(map[int64]string, len(games))
	for _, g := range games {
		names[g.ID] = g.Name
	}
	return names
}

func formatStatus(snap *app.Snapshot) string {
	if snap.Cycle == nil {
		return "No voting cycle yet. An admin can start one with /start_cycle."
	}

	var sb strings.Builder
	switch snap.Cycle.State {
	case voting.StateOpen:
		sb.WriteString(fmt.Sprintf("Voting is OPEN for the week of %s.\n", snap.Cycle.WeekDate.Format("Jan 2")))
		sb.WriteString("On the ballot:\n")
		for _, g := range snap.Games {
			if g.CarriedOver {
				sb.WriteString(fmt.Sprintf("- %s (carry-over)\n", g.Name))
			} else {
				sb.WriteString(fmt.Sprintf("- %s\n", g.Name))
			}
		}
		sb.WriteString(fmt.Sprintf("Coming: %d, not coming: %d, ballots in: %d, still waiting on: %d",
			snap.Attending, snap.NotAttending, snap.Submitted, len(snap.Waiting)))
	case voting.StateRunoffOpen:
		sb.WriteString("A runoff is OPEN: the top games tied.\n")
		names := gameNames(snap.Games)
		for _, id := range snap.Poll.GameIDs {
			sb.WriteString(fmt.Sprintf("- %s (%d picks)\n", names[id], snap.RunoffCounts[id]))
		}
		sb.WriteString(fmt.Sprintf("Deadline: %s. Cast your pick with /vote.", snap.Poll.Deadline.Format("Mon 15:04 MST")))
	default:
		sb.WriteString("Voting is closed for the week.")
		if snap.LastCompleted != nil && len(snap.LastResults) > 0 && snap.LastCompleted.WinnerGameID.Valid {
			sb.WriteString(fmt.Sprintf(" This week's game: %s. See /results for the full ranking.", snap.LastResults[0].Name))
		} else if snap.Poll != nil && snap.Poll.State == voting.RunoffUnresolved {
			sb.WriteString(" The runoff tied; waiting on an admin to declare the winner.")
		}
	}
	return sb.String()
}
