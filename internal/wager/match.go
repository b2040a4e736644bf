package wager

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// CreateMatch opens a 1v1 match and returns its id and join code.
func (e *Engine) CreateMatch(ctx context.Context, creatorID int64, name string, stake decimal.Decimal) (string, string, error) {
	stake, err := e.validateStake(stake)
	if err != nil {
		return "", "", err
	}

	s, err := e.register(ctx, func() *Session {
		s := newSession(newSessionID(), KindMatch, creatorID, creatorID, stake, 2, e.now())
		s.Code = newJoinCode()
		return s
	}, name)
	if err != nil {
		return "", "", err
	}
	return s.ID, s.Code, nil
}

// JoinMatch joins the match with the given code and starts it.
func (e *Engine) JoinMatch(ctx context.Context, code string, userID int64, name string) (string, error) {
	s, ok := e.registry.ByCode(strings.ToUpper(strings.TrimSpace(code)))
	if !ok {
		return "", fmt.Errorf("code %s: %w", code, ErrNotFound)
	}
	if err := e.lockSession(s); err != nil {
		return "", err
	}
	defer e.unlock(ctx, s)

	if err := e.acceptOpponent(ctx, s, userID, name, StateWaitingForOpponent); err != nil {
		return "", err
	}
	return s.ID, nil
}

// FindByCode returns the live match with the given join code.
func (e *Engine) FindByCode(code string) (SessionSnapshot, error) {
	s, ok := e.registry.ByCode(strings.ToUpper(strings.TrimSpace(code)))
	if !ok {
		return SessionSnapshot{}, fmt.Errorf("code %s: %w", code, ErrNotFound)
	}
	return e.GetSession(s.ID)
}

// acceptOpponent seats the second party of a match or duel and starts play
// with the creator rolling first. Caller holds the lock.
func (e *Engine) acceptOpponent(ctx context.Context, s *Session, userID int64, name string, waiting State) error {
	if userID == s.CreatorID {
		return fmt.Errorf("user %d in %s: %w", userID, s.ID, ErrSelfJoin)
	}
	if s.state == StateAccepted || s.state == StateActive {
		return fmt.Errorf("%s %s: %w", s.Kind, s.ID, ErrCapacityExceeded)
	}
	if err := s.assertState(waiting); err != nil {
		return err
	}
	if err := e.escrow.Collect(ctx, s.ID, userID, s.Stake); err != nil {
		return err
	}

	s.addParticipant(userID, name)
	if s.Kind == KindDuel {
		if err := s.transition(StateAccepted); err != nil {
			return err
		}
	}
	if err := s.transition(StateActive); err != nil {
		return err
	}
	s.turn = 0
	e.touch(s)
	s.emit(EventJoined, userID, 0)
	s.emit(EventStarted, 0, 0)

	log.Info().
		Str("session_id", s.ID).
		Str("kind", string(s.Kind)).
		Int64("user_id", userID).
		Msg("Opponent joined")
	return nil
}
