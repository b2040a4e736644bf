package wager

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"

	"dice-wager-bot/internal/scheduler"
)

// SweepReport counts what one sweep did.
type SweepReport struct {
	Cancelled int
	Settled   int
	Purged    int
}

// Sweep cancels stale lobbies and expired challenges, retries pending
// settlements and purges old tombstones.
func (e *Engine) Sweep(ctx context.Context) SweepReport {
	now := e.now()
	var report SweepReport
	for _, s := range e.registry.List() {
		e.sweepSession(ctx, s, now, &report)
	}
	report.Purged = e.registry.PurgeTombstones(now.Add(-e.cfg.TombstoneRetention))
	return report
}

func (e *Engine) sweepSession(ctx context.Context, s *Session, now time.Time, report *SweepReport) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("session_id", s.ID).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Sweep panicked on session")
		}
	}()

	if err := e.lockSession(s); err != nil {
		return
	}
	defer e.unlock(ctx, s)

	age := now.Sub(s.CreatedAt)
	switch {
	case s.state.Terminal():
		if err := e.retrySettlement(ctx, s); err != nil {
			log.Error().Err(err).Str("session_id", s.ID).Msg("Settlement retry failed")
			return
		}
		report.Settled++
		log.Info().Str("session_id", s.ID).Msg("Pending settlement completed")

	case s.Kind == KindLobby && s.state == StateForming &&
		len(s.participants) <= 1 && age > e.cfg.StaleSessionTimeout:
		report.Cancelled++
		if err := e.cancel(ctx, s, "lobby expired"); err != nil {
			log.Error().Err(err).Str("session_id", s.ID).Msg("Failed to cancel stale lobby")
		}

	case (s.state == StateWaitingForOpponent || s.state == StateOpen) && age > e.cfg.OpenChallengeTimeout:
		report.Cancelled++
		if err := e.cancel(ctx, s, "challenge expired"); err != nil {
			log.Error().Err(err).Str("session_id", s.ID).Msg("Failed to cancel expired challenge")
		}
	}
}

// RunSweeper sweeps every SweepInterval until ctx is cancelled.
func (e *Engine) RunSweeper(ctx context.Context) {
	scheduler.Every(ctx, "wager-sweep", e.cfg.SweepInterval, func(ctx context.Context) {
		report := e.Sweep(ctx)
		if report != (SweepReport{}) {
			log.Info().
				Int("cancelled", report.Cancelled).
				Int("settled", report.Settled).
				Int("purged", report.Purged).
				Msg("Sweep completed")
		}
	})
}
