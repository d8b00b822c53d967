package telegram

import (
	"context"

	"gopkg.in/telebot.v3"
)

// TelebotAdapter implements the notify.Gateway interface using the
// gopkg.in/telebot.v3 library. Announcements go to the configured group
// chat; reminders and runoff pings go to the voter's direct chat.
type TelebotAdapter struct {
	bot       *telebot.Bot
	channelID int64
}

func NewTelebotAdapter(b *telebot.Bot, announceChannelID int64) *TelebotAdapter {
	return &TelebotAdapter{bot: b, channelID: announceChannelID}
}

func (tba *TelebotAdapter) Announce(ctx context.Context, text string) error {
	_, err := tba.bot.Send(&telebot.Chat{ID: tba.channelID}, text)
	return err
}

func (tba *TelebotAdapter) DirectMessage(ctx context.Context, userID int64, text string) error {
	_, err := tba.bot.Send(&telebot.User{ID: userID}, text)
	return err
}
