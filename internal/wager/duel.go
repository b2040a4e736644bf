package wager

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// CreateDuel opens a challenge in a group chat. A chat holds one duel at a time.
func (e *Engine) CreateDuel(ctx context.Context, chatID, creatorID int64, name string, stake decimal.Decimal) (string, error) {
	stake, err := e.validateStake(stake)
	if err != nil {
		return "", err
	}

	s, err := e.register(ctx, func() *Session {
		return newSession(newSessionID(), KindDuel, chatID, creatorID, stake, 2, e.now())
	}, name)
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

// AcceptDuel takes up an open challenge and starts the duel.
func (e *Engine) AcceptDuel(ctx context.Context, id string, userID int64, name string) error {
	return e.withSession(ctx, id, func(s *Session) error {
		if err := s.assertKind(KindDuel); err != nil {
			return err
		}
		return e.acceptOpponent(ctx, s, userID, name, StateOpen)
	})
}

// FindByChat returns the live duel of a chat.
func (e *Engine) FindByChat(chatID int64) (SessionSnapshot, error) {
	s, ok := e.registry.DuelInChat(chatID)
	if !ok {
		return SessionSnapshot{}, fmt.Errorf("duel in chat %d: %w", chatID, ErrNotFound)
	}
	return e.GetSession(s.ID)
}
