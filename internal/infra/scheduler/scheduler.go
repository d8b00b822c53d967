package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"game_night_bot/internal/app"
	"game_night_bot/internal/domain/voting"
)

const triggerTimeout = time.Minute

// CycleScheduler fires the weekly open/remind/close triggers on cron specs
// and arms a one-shot timer for each runoff deadline. Every fire goes through
// the engine's HandleTrigger, which rejects stale or duplicate events, so a
// missed or double-fired job is harmless.
type CycleScheduler struct {
	cronEngine *cron.Cron
	cycles     *app.CycleService
	log        *logrus.Entry

	cronSpecOpen   string
	cronSpecRemind string
	cronSpecClose  string

	mu          sync.Mutex
	runoffTimer *time.Timer
}

func NewCycleScheduler(
	cycles *app.CycleService,
	log *logrus.Entry,
	location *time.Location,
	cronSpecOpen string, // e.g. "0 9 * * 2" (Tuesday 09:00)
	cronSpecRemind string, // e.g. "0 18 * * 4" (Thursday 18:00)
	cronSpecClose string, // e.g. "0 9 * * 5" (Friday 09:00)
) *CycleScheduler {
	s := &CycleScheduler{
		cronEngine:     cron.New(cron.WithLocation(location)),
		cycles:         cycles,
		log:            log,
		cronSpecOpen:   cronSpecOpen,
		cronSpecRemind: cronSpecRemind,
		cronSpecClose:  cronSpecClose,
	}
	// Runoffs spawned while we're running arm their deadline directly.
	cycles.OnRunoffOpened(s.ScheduleRunoffResolution)
	return s
}

func (s *CycleScheduler) Start() error {
	jobs := []struct {
		spec string
		ev   app.TriggerEvent
	}{
		{s.cronSpecOpen, app.TriggerOpen},
		{s.cronSpecRemind, app.TriggerRemind},
		{s.cronSpecClose, app.TriggerClose},
	}
	for _, job := range jobs {
		ev := job.ev
		if _, err := s.cronEngine.AddFunc(job.spec, func() { s.fire(ev) }); err != nil {
			return err
		}
	}

	if err := s.resumeRunoff(); err != nil {
		s.log.WithError(err).Warn("could not check for an in-flight runoff on startup")
	}

	s.cronEngine.Start()
	s.log.WithFields(logrus.Fields{
		"open":   s.cronSpecOpen,
		"remind": s.cronSpecRemind,
		"close":  s.cronSpecClose,
	}).Info("cycle scheduler started")
	return nil
}

func (s *CycleScheduler) fire(ev app.TriggerEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), triggerTimeout)
	defer cancel()

	err := s.cycles.HandleTrigger(ctx, ev)
	var stateErr *voting.StateError
	switch {
	case err == nil, errors.As(err, &stateErr):
		// State mismatches are already logged by the engine; a scheduled
		// fire against the wrong state is expected after manual admin
		// intervention.
	default:
		s.log.WithField("trigger", string(ev)).WithError(err).Error("scheduled trigger failed")
	}
}

// ScheduleRunoffResolution arms a one-shot runoffDeadline trigger. Re-arming
// replaces any previous timer; only one runoff can be in flight.
func (s *CycleScheduler) ScheduleRunoffResolution(cycleID int64, deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runoffTimer != nil {
		s.runoffTimer.Stop()
	}
	delay := time.Until(deadline)
	if delay < 0 {
		delay = 0
	}
	s.log.WithFields(logrus.Fields{"cycle_id": cycleID, "deadline": deadline}).Info("runoff deadline armed")
	s.runoffTimer = time.AfterFunc(delay, func() { s.fire(app.TriggerRunoffDeadline) })
}

// resumeRunoff re-arms the deadline of a runoff that was open when the
// process last stopped.
func (s *CycleScheduler) resumeRunoff() error {
	ctx, cancel := context.WithTimeout(context.Background(), triggerTimeout)
	defer cancel()

	cycle, poll, err := s.cycles.OpenRunoff(ctx)
	if err != nil {
		return err
	}
	if poll == nil {
		return nil
	}
	s.ScheduleRunoffResolution(cycle.ID, poll.Deadline)
	return nil
}

func (s *CycleScheduler) Stop() {
	s.mu.Lock()
	if s.runoffTimer != nil {
		s.runoffTimer.Stop()
		s.runoffTimer = nil
	}
	s.mu.Unlock()

	ctx := s.cronEngine.Stop()
	<-ctx.Done()
	s.log.Info("cycle scheduler stopped")
}
