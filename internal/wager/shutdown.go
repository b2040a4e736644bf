package wager

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// ShutdownReason is the cancel note on sessions aborted by Shutdown.
const ShutdownReason = "bot restarting"

// ShutdownReport counts what Shutdown did.
type ShutdownReport struct {
	Cancelled int
	Aborted   int
	Settled   int
	Failed    int
}

// Shutdown stops accepting new sessions and refunds every live one. Sessions
// live only in memory, so a game in progress cannot resume after a restart;
// it is cancelled with every stake returned. Sessions whose refunds fail stay
// registered and are reported in the returned error.
func (e *Engine) Shutdown(ctx context.Context) (ShutdownReport, error) {
	e.closed.Store(true)

	var (
		report ShutdownReport
		errs   []error
	)
	for _, s := range e.registry.List() {
		if err := e.shutdownSession(ctx, s, &report); err != nil {
			report.Failed++
			errs = append(errs, fmt.Errorf("session %s: %w", s.ID, err))
		}
	}

	log.Info().
		Int("cancelled", report.Cancelled).
		Int("aborted", report.Aborted).
		Int("settled", report.Settled).
		Int("failed", report.Failed).
		Msg("Wager engine shut down")

	return report, errors.Join(errs...)
}

func (e *Engine) shutdownSession(ctx context.Context, s *Session, report *ShutdownReport) error {
	if err := e.lockSession(s); err != nil {
		// Removed while we waited.
		return nil
	}
	defer e.unlock(ctx, s)

	switch {
	case s.state.Terminal():
		if err := e.retrySettlement(ctx, s); err != nil {
			return err
		}
		report.Settled++
		return nil

	case s.state.Gathering():
		report.Cancelled++
		return e.cancel(ctx, s, ShutdownReason)
	}

	e.cancelTimer(s)
	if err := s.abort(); err != nil {
		return err
	}
	report.Aborted++
	log.Warn().
		Str("session_id", s.ID).
		Str("kind", string(s.Kind)).
		Msg("Aborting game in progress on shutdown")
	return e.refundAndClose(ctx, s, ShutdownReason)
}
