package wager

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// CreateLobby opens a group lobby in chatID and reserves the creator's stake.
func (e *Engine) CreateLobby(ctx context.Context, chatID, creatorID int64, name string, stake decimal.Decimal, maxPlayers int) (string, error) {
	stake, err := e.validateStake(stake)
	if err != nil {
		return "", err
	}
	if maxPlayers < e.cfg.LobbyMinPlayers || maxPlayers > e.cfg.LobbyMaxPlayers {
		return "", fmt.Errorf("%d players not in [%d, %d]: %w",
			maxPlayers, e.cfg.LobbyMinPlayers, e.cfg.LobbyMaxPlayers, ErrInvalidCapacity)
	}

	s, err := e.register(ctx, func() *Session {
		return newSession(newSessionID(), KindLobby, chatID, creatorID, stake, maxPlayers, e.now())
	}, name)
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

// JoinLobby adds userID to a forming lobby after reserving their stake.
func (e *Engine) JoinLobby(ctx context.Context, id string, userID int64, name string) error {
	return e.withSession(ctx, id, func(s *Session) error {
		if err := s.assertKind(KindLobby); err != nil {
			return err
		}
		if p, _ := s.participant(userID); p != nil {
			return fmt.Errorf("user %d in %s: %w", userID, s.ID, ErrAlreadyJoined)
		}
		if err := s.assertState(StateForming, StateAllReady); err != nil {
			return err
		}
		if s.full() {
			return fmt.Errorf("lobby %s has %d/%d: %w", s.ID, len(s.participants), s.MaxParticipants, ErrCapacityExceeded)
		}
		if err := e.escrow.Collect(ctx, s.ID, userID, s.Stake); err != nil {
			return err
		}

		s.addParticipant(userID, name)
		e.touch(s)
		s.emit(EventJoined, userID, 0)

		log.Info().
			Str("session_id", s.ID).
			Int64("user_id", userID).
			Int("participants", len(s.participants)).
			Msg("Joined lobby")
		return nil
	})
}

// SetReady marks a participant ready or not. A full lobby whose participants
// are all ready starts its countdown; un-readying cancels it.
func (e *Engine) SetReady(ctx context.Context, id string, userID int64, ready bool) error {
	return e.withSession(ctx, id, func(s *Session) error {
		if err := s.assertKind(KindLobby); err != nil {
			return err
		}
		if err := s.assertState(StateForming, StateAllReady); err != nil {
			return err
		}
		p, _ := s.participant(userID)
		if p == nil {
			return fmt.Errorf("user %d in %s: %w", userID, s.ID, ErrNotParticipant)
		}
		if p.Ready == ready {
			return nil
		}

		p.Ready = ready
		e.touch(s)
		s.emit(EventReady, userID, 0)

		switch {
		case s.state == StateForming && s.full() && s.allReady():
			if err := s.transition(StateAllReady); err != nil {
				return err
			}
			e.startCountdown(s)
			s.emit(EventCountdownStarted, 0, 0)
			log.Info().
				Str("session_id", s.ID).
				Dur("countdown", e.cfg.LobbyCountdown).
				Msg("Lobby countdown started")
		case s.state == StateAllReady && !ready:
			e.cancelTimer(s)
			if err := s.transition(StateForming); err != nil {
				return err
			}
			s.emit(EventCountdownCancelled, userID, 0)
			log.Info().Str("session_id", s.ID).Int64("user_id", userID).Msg("Lobby countdown cancelled")
		}
		return nil
	})
}

// StartLobby starts an all-ready lobby before its countdown expires.
// Only the creator may do this.
func (e *Engine) StartLobby(ctx context.Context, id string, requesterID int64) error {
	return e.withSession(ctx, id, func(s *Session) error {
		if err := s.assertKind(KindLobby); err != nil {
			return err
		}
		if requesterID != s.CreatorID {
			if p, _ := s.participant(requesterID); p == nil {
				return fmt.Errorf("user %d in %s: %w", requesterID, s.ID, ErrNotParticipant)
			}
			return fmt.Errorf("user %d cannot start %s: %w", requesterID, s.ID, ErrNotAuthorized)
		}
		if err := s.assertState(StateAllReady); err != nil {
			return err
		}
		return e.start(s)
	})
}
