package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"game_night_bot/internal/app"
	"game_night_bot/internal/domain/voting"
)

// RegisterAdminHandlers wires the cycle-control and voter-management
// commands. Every command is gated on the configured admin list.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, cycles *app.CycleService, admins *app.AdminService, baseLogger *logrus.Entry) {
	adminOnly := func(handler string, fn func(c telebot.Context, log *logrus.Entry) error) telebot.HandlerFunc {
		return func(c telebot.Context) error {
			handlerLogger := baseLogger.WithFields(logrus.Fields{
				"handler":   handler,
				"sender_id": c.Sender().ID,
			})
			if !admins.IsAdmin(c.Sender().ID) {
				handlerLogger.Warn("unauthorized access attempt")
				return c.Send("You don't have permission to run this command.")
			}
			handlerLogger.Info("command received")
			return fn(c, handlerLogger)
		}
	}

	b.Handle("/start_cycle", adminOnly("/start_cycle", func(c telebot.Context, log *logrus.Entry) error {
		cycle, err := cycles.Start(ctx)
		if err != nil {
			log.WithError(err).Warn("start rejected")
			return c.Send(userMessage(err))
		}
		log.WithField("cycle_id", cycle.ID).Info("cycle started")
		return c.Send(fmt.Sprintf("Cycle for the week of %s is open for voting.", cycle.WeekDate.Format("Jan 2")))
	}))

	b.Handle("/close_cycle", adminOnly("/close_cycle", func(c telebot.Context, log *logrus.Entry) error {
		// Force-closes whichever stage is open: voting, or a running
		// runoff ahead of its deadline.
		err := cycles.Close(ctx)
		var stateErr *voting.StateError
		if errors.As(err, &stateErr) && stateErr.State == voting.StateRunoffOpen {
			err = cycles.ResolveRunoff(ctx)
		}
		if err != nil {
			log.WithError(err).Warn("close rejected")
			return c.Send(userMessage(err))
		}
		log.Info("cycle closed")
		return c.Send("Cycle closed. Results are being announced.")
	}))

	b.Handle("/remind", adminOnly("/remind", func(c telebot.Context, log *logrus.Entry) error {
		sent, err := cycles.SendReminders(ctx)
		if err != nil {
			log.WithError(err).Warn("reminders rejected")
			return c.Send(userMessage(err))
		}
		return c.Send(fmt.Sprintf("Reminders sent to %d voter(s) who haven't ranked yet.", sent))
	}))

	b.Handle("/declare_winner", adminOnly("/declare_winner", func(c telebot.Context, log *logrus.Entry) error {
		name := strings.TrimSpace(strings.Join(c.Args(), " "))
		if name == "" {
			return c.Send("Usage: /declare_winner <game name>")
		}
		if err := cycles.DeclareWinner(ctx, name); err != nil {
			log.WithField("game", name).WithError(err).Warn("declare winner rejected")
			var vErr *voting.ValidationError
			if errors.As(err, &vErr) {
				return c.Send("That didn't work: " + vErr.Reason + ". Only the tied games are eligible.")
			}
			return c.Send(userMessage(err))
		}
		log.WithField("game", name).Info("winner declared")
		return c.Send(fmt.Sprintf("Done, %s is this week's game.", name))
	}))

	b.Handle("/add_game", adminOnly("/add_game", func(c telebot.Context, log *logrus.Entry) error {
		name := strings.TrimSpace(strings.Join(c.Args(), " "))
		if name == "" {
			return c.Send("Usage: /add_game <game name>")
		}
		game, err := cycles.AddGame(ctx, name)
		if err != nil {
			log.WithField("game", name).WithError(err).Warn("add game rejected")
			return c.Send(userMessage(err))
		}
		log.WithField("game_id", game.ID).Info("game added")
		return c.Send(fmt.Sprintf("%s added to the ballot.", game.Name))
	}))

	b.Handle("/remove_game", adminOnly("/remove_game", func(c telebot.Context, log *logrus.Entry) error {
		name := strings.TrimSpace(strings.Join(c.Args(), " "))
		if name == "" {
			return c.Send("Usage: /remove_game <game name>")
		}
		if err := cycles.RemoveGame(ctx, name); err != nil {
			log.WithField("game", name).WithError(err).Warn("remove game rejected")
			return c.Send(userMessage(err))
		}
		log.WithField("game", name).Info("game removed")
		return c.Send(fmt.Sprintf("%s removed. It has been scrubbed from every submitted ballot.", name))
	}))

	b.Handle("/merge_game", adminOnly("/merge_game", func(c telebot.Context, log *logrus.Entry) error {
		// Format: /merge_game <duplicate> | <canonical>
		raw := strings.Join(c.Args(), " ")
		parts := strings.SplitN(raw, "|", 2)
		if len(parts) != 2 {
			return c.Send("Usage: /merge_game <duplicate name> | <name to keep>")
		}
		from, into := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		if from == "" || into == "" {
			return c.Send("Usage: /merge_game <duplicate name> | <name to keep>")
		}
		if err := cycles.MergeGame(ctx, from, into); err != nil {
			log.WithFields(logrus.Fields{"from": from, "into": into}).WithError(err).Warn("merge rejected")
			return c.Send(userMessage(err))
		}
		log.WithFields(logrus.Fields{"from": from, "into": into}).Info("games merged")
		return c.Send(fmt.Sprintf("Merged %s into %s. Ballots ranking the duplicate now point at %s.", from, into, into))
	}))

	b.Handle("/seed", adminOnly("/seed", func(c telebot.Context, log *logrus.Entry) error {
		// Format: /seed Catan; Wingspan; Azul
		raw := strings.Join(c.Args(), " ")
		var names []string
		for _, part := range strings.Split(raw, ";") {
			if name := strings.TrimSpace(part); name != "" {
				names = append(names, name)
			}
		}
		if len(names) == 0 {
			return c.Send("Usage: /seed <name>; <name>; ...")
		}

		added, skipped, err := cycles.SeedGames(ctx, names)
		if err != nil {
			log.WithError(err).Warn("seed rejected")
			return c.Send(userMessage(err))
		}
		log.WithFields(logrus.Fields{"added": len(added), "skipped": len(skipped)}).Info("ballot seeded")

		msg := fmt.Sprintf("Seeded %d game(s) onto the ballot.", len(added))
		if len(skipped) > 0 {
			msg += fmt.Sprintf(" Skipped (duplicate or over the cap): %s.", strings.Join(skipped, ", "))
		}
		return c.Send(msg)
	}))

	b.Handle("/add_voter", adminOnly("/add_voter", func(c telebot.Context, log *logrus.Entry) error {
		args := c.Args()
		if len(args) < 1 {
			return c.Send("Usage: /add_voter <TelegramID> [display name]")
		}
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return c.Send("The Telegram ID must be a number.")
		}
		displayName := strings.TrimSpace(strings.Join(args[1:], " "))

		created, err := admins.AddVoter(ctx, c.Sender().ID, userID, displayName)
		if err != nil {
			log.WithField("voter_id", userID).WithError(err).Error("failed to add voter")
			return c.Send(userMessage(err))
		}
		log.WithFields(logrus.Fields{"voter_id": userID, "created": created}).Info("voter added")
		if !created {
			return c.Send(fmt.Sprintf("Voter %d was already on the list; display name refreshed.", userID))
		}
		return c.Send(fmt.Sprintf("Voter %d can now nominate and vote.", userID))
	}))

	b.Handle("/remove_voter", adminOnly("/remove_voter", func(c telebot.Context, log *logrus.Entry) error {
		args := c.Args()
		if len(args) != 1 {
			return c.Send("Usage: /remove_voter <TelegramID>")
		}
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return c.Send("The Telegram ID must be a number.")
		}

		if err := admins.RemoveVoter(ctx, c.Sender().ID, userID); err != nil {
			var nfErr *voting.NotFoundError
			if errors.As(err, &nfErr) {
				return c.Send(fmt.Sprintf("No voter with Telegram ID %d on the list.", userID))
			}
			log.WithField("voter_id", userID).WithError(err).Error("failed to remove voter")
			return c.Send(userMessage(err))
		}
		log.WithField("voter_id", userID).Info("voter removed")
		return c.Send(fmt.Sprintf("Voter %d removed. Their existing ballots remain counted in past cycles.", userID))
	}))

	b.Handle("/list_voters", adminOnly("/list_voters", func(c telebot.Context, log *logrus.Entry) error {
		voters, err := admins.ListVoters(ctx, c.Sender().ID)
		if err != nil {
			log.WithError(err).Error("failed to list voters")
			return c.Send(userMessage(err))
		}
		if len(voters) == 0 {
			return c.Send("The voter list is empty. Add someone with /add_voter.")
		}

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Authorized voters (%d):\n", len(voters)))
		for _, v := range voters {
			if v.DisplayName.Valid && v.DisplayName.String != "" {
				sb.WriteString(fmt.Sprintf("- %s (ID: %d)\n", v.DisplayName.String, v.UserID))
			} else {
				sb.WriteString(fmt.Sprintf("- ID: %d\n", v.UserID))
			}
		}
		return c.Send(sb.String())
	}))
}
