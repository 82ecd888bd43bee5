package app

import (
	"fmt"
	"log/slog"
	"time"

	"million-dialogue/internal/dependencies/clock"
)

// Scheduler drives the timed transitions of a round: it closes question
// windows and advances to the next question after the reveal delay.
// Callbacks carry the room version they were scheduled for; a room ignores
// callbacks whose version no longer matches.
type Scheduler struct {
	clock       clock.Clock
	revealDelay time.Duration
	logger      *slog.Logger
}

// NewScheduler builds a Scheduler on top of c.
func NewScheduler(c clock.Clock, revealDelay time.Duration, logger *slog.Logger) *Scheduler {
	if revealDelay < 0 {
		revealDelay = 0
	}
	return &Scheduler{
		clock:       c,
		revealDelay: revealDelay,
		logger:      logger.With(slog.String("component", "scheduler")),
	}
}

func (s *Scheduler) scheduleClose(r *Room, version uint64, after time.Duration) clock.Timer {
	return s.clock.AfterFunc(after, func() {
		s.run(r, version, "close", func() {
			r.CloseQuestionWindow(version)
		})
	})
}

func (s *Scheduler) scheduleAdvance(r *Room, version uint64) clock.Timer {
	return s.clock.AfterFunc(s.revealDelay, func() {
		s.run(r, version, "advance", func() {
			r.AdvanceOrFinish(version)
		})
	})
}

// run executes a timer callback. A panic must not take the process down or
// leave the room stuck mid-round, so it is logged and the round is forced
// to finish in degraded mode.
func (s *Scheduler) run(r *Room, version uint64, step string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("round step panicked",
				slog.String("room", r.ID()),
				slog.String("step", step),
				slog.Uint64("version", version),
				slog.String("panic", fmt.Sprint(rec)),
			)
			r.abortRound(version, "internal error")
		}
	}()
	fn()
}
