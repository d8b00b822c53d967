package notify

import "context"

// Gateway delivers engine output to wherever the group lives. The engine
// dispatches announcements only after a transition has committed; a delivery
// failure is reported but never rolls back or blocks the transition.
// Implementations must be safe for concurrent use.
type Gateway interface {
	// Announce posts to the group's shared channel.
	Announce(ctx context.Context, text string) error
	// DirectMessage reaches one voter privately (reminders, runoff pings).
	DirectMessage(ctx context.Context, userID int64, text string) error
}
