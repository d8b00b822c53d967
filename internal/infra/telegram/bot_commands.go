package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"game_night_bot/internal/app"
	"game_night_bot/internal/domain/voter"
)

// RegisterBotCommands wires /start and /help, tailored to the sender's role.
func RegisterBotCommands(
	ctx context.Context,
	b *telebot.Bot,
	admins *app.AdminService,
	voters voter.Repository,
	baseLogger *logrus.Entry,
) {
	startHelpLogger := baseLogger.WithField("handler_group", "start_help")

	b.Handle("/start", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithFields(logrus.Fields{"command": "/start", "sender_id": senderID})
		logCtx.Info("Processing /start command")

		if admins.IsAdmin(senderID) {
			return c.Send(fmt.Sprintf("Hi %s! You're an admin here. Use /help for the full command list.", c.Sender().FirstName))
		}

		authorized, err := voters.IsAuthorized(ctx, senderID)
		if err != nil {
			logCtx.WithError(err).Error("Error checking voter status for /start command")
			return c.Send("Something went wrong checking your status. Please try again later.")
		}
		if authorized {
			return c.Send(fmt.Sprintf("Hi %s! I run the weekly game night vote. Nominate with /nominate, set attendance with /attend, and rank games with /vote.", c.Sender().FirstName))
		}

		logCtx.Info("User is unknown")
		return c.Send("Hi! I run a game night voting group. Ask an admin to add you to the voter list if you'd like to take part.")
	})

	b.Handle("/help", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithFields(logrus.Fields{"command": "/help", "sender_id": senderID})
		logCtx.Info("Processing /help command")

		if admins.IsAdmin(senderID) {
			var helpText strings.Builder
			helpText.WriteString("Admin commands:\n\n")
			helpText.WriteString("`/start_cycle` - Open this week's voting cycle.\n")
			helpText.WriteString("`/close_cycle` - Close voting (or force-close a running runoff) and announce results.\n")
			helpText.WriteString("`/remind` - Nudge attending voters who haven't ranked yet.\n")
			helpText.WriteString("`/declare_winner <name>` - Settle an unresolved runoff tie.\n\n")
			helpText.WriteString("`/add_game <name>` / `/remove_game <name>` - Edit the ballot.\n")
			helpText.WriteString("`/merge_game <duplicate> | <keep>` - Fold a duplicate entry into the canonical one.\n")
			helpText.WriteString("`/seed <name>; <name>; ...` - Add several games at once.\n\n")
			helpText.WriteString("`/add_voter <TelegramID> [name]` / `/remove_voter <TelegramID>` / `/list_voters` - Manage who may vote.\n")
			return c.Send(helpText.String(), &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
		}

		authorized, err := voters.IsAuthorized(ctx, senderID)
		if err != nil {
			logCtx.WithError(err).Error("Error checking voter status for /help command")
			return c.Send("Something went wrong checking your status. Please try again later.")
		}
		if authorized {
			var helpText strings.Builder
			helpText.WriteString("Voter commands:\n\n")
			helpText.WriteString("`/attend yes|no` - Say whether you're coming this week.\n")
			helpText.WriteString("`/nominate <name>` - Put a game on the ballot (one per cycle).\n")
			helpText.WriteString("`/vote` - Rank the games, favorite first. During a tie runoff this casts your single pick instead.\n")
			helpText.WriteString("`/myvote` - Show your current ballot.\n")
			helpText.WriteString("`/status` - Where the week's vote stands.\n")
			helpText.WriteString("`/results` - The latest final ranking and winner.\n")
			return c.Send(helpText.String(), &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
		}

		return c.Send("No commands are available to you yet. Ask an admin to add you to the voter list.")
	})
}
