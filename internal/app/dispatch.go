package app

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"game_night_bot/internal/domain/notify"
)

// Dispatcher fans announcements and reminders out to the Notification
// Gateway after a transition has committed. Concurrency is bounded by a
// semaphore, every delivery gets its own timeout, and failures are logged
// but never propagated back into the transition path.
type Dispatcher struct {
	gateway notify.Gateway
	log     *logrus.Entry
	sem     chan struct{}
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(gateway notify.Gateway, log *logrus.Entry, maxInFlight int, timeout time.Duration) *Dispatcher {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &Dispatcher{
		gateway: gateway,
		log:     log,
		sem:     make(chan struct{}, maxInFlight),
		timeout: timeout,
	}
}

// Announce posts to the group channel in the background.
func (d *Dispatcher) Announce(text string) {
	d.deliver("announce", 0, func(ctx context.Context) error {
		return d.gateway.Announce(ctx, text)
	})
}

// DirectMessage reaches one voter in the background.
func (d *Dispatcher) DirectMessage(userID int64, text string) {
	d.deliver("dm", userID, func(ctx context.Context) error {
		return d.gateway.DirectMessage(ctx, userID, text)
	})
}

func (d *Dispatcher) deliver(kind string, userID int64, send func(context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.sem <- struct{}{}
		defer func() { <-d.sem }()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := send(ctx); err != nil {
			d.log.WithFields(logrus.Fields{"kind": kind, "user_id": userID}).
				WithError(err).Warn("notification delivery failed")
		}
	}()
}

// Wait blocks until all in-flight deliveries finish. Used on shutdown and
// in tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
