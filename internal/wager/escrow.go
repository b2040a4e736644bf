package wager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"dice-wager-bot/internal/pkg/lock"
)

// StakeState is the lifecycle position of one stake.
type StakeState int

const (
	// StakeReserved means the amount sits in the owner's reserved funds.
	StakeReserved StakeState = iota
	// StakeCaptured means the amount left reserved funds for a payout that has
	// not been confirmed yet. It is still owed to someone.
	StakeCaptured
	StakeRefunded
	StakePaidOut
)

func (s StakeState) String() string {
	switch s {
	case StakeReserved:
		return "reserved"
	case StakeCaptured:
		return "captured"
	case StakeRefunded:
		return "refunded"
	case StakePaidOut:
		return "paid_out"
	default:
		return "unknown"
	}
}

// Resolved reports whether the stake reached a final state.
func (s StakeState) Resolved() bool {
	return s == StakeRefunded || s == StakePaidOut
}

// Stake is a read-only view of one stake record.
type Stake struct {
	UserID int64
	Amount decimal.Decimal
	State  StakeState
}

type stakeRecord struct {
	userID int64
	amount decimal.Decimal
	state  StakeState
}

// StakeEscrow tracks every stake collected for a session so each one is
// reserved once and resolved once.
type StakeEscrow struct {
	ledger      Ledger
	sessionLock *lock.KeyLock[string]

	mu     sync.Mutex
	stakes map[string][]*stakeRecord
}

// NewStakeEscrow creates a StakeEscrow over ledger.
func NewStakeEscrow(ledger Ledger) *StakeEscrow {
	return &StakeEscrow{
		ledger:      ledger,
		sessionLock: lock.NewKeyLock[string](),
		stakes:      make(map[string][]*stakeRecord),
	}
}

func (e *StakeEscrow) records(sessionID string) []*stakeRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stakes[sessionID]
}

func (e *StakeEscrow) add(sessionID string, rec *stakeRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stakes[sessionID] = append(e.stakes[sessionID], rec)
}

// open returns the user's unresolved stake in the session, if any.
func open(records []*stakeRecord, userID int64) *stakeRecord {
	for _, r := range records {
		if r.userID == userID && !r.state.Resolved() {
			return r
		}
	}
	return nil
}

// Collect reserves amount from the user for the session.
func (e *StakeEscrow) Collect(ctx context.Context, sessionID string, userID int64, amount decimal.Decimal) error {
	return e.sessionLock.WithLock(sessionID, func() error {
		if open(e.records(sessionID), userID) != nil {
			return fmt.Errorf("stake for user %d in %s: %w", userID, sessionID, ErrAlreadyExists)
		}
		if err := e.ledger.Reserve(ctx, userID, amount, sessionID); err != nil {
			return err
		}
		e.add(sessionID, &stakeRecord{userID: userID, amount: amount, state: StakeReserved})
		log.Debug().
			Str("session_id", sessionID).
			Int64("user_id", userID).
			Str("amount", amount.StringFixed(MoneyPlaces)).
			Msg("Stake reserved")
		return nil
	})
}

// Refund returns one user's stake.
func (e *StakeEscrow) Refund(ctx context.Context, sessionID string, userID int64) error {
	return e.sessionLock.WithLock(sessionID, func() error {
		rec := open(e.records(sessionID), userID)
		if rec == nil {
			return fmt.Errorf("refund user %d in %s: %w", userID, sessionID, ErrStakeNotHeld)
		}
		return e.refund(ctx, sessionID, rec)
	})
}

// refund resolves rec back to its owner. A reserved stake is released; a
// captured one is credited since it already left the reserved funds.
func (e *StakeEscrow) refund(ctx context.Context, sessionID string, rec *stakeRecord) error {
	var err error
	switch rec.state {
	case StakeReserved:
		err = e.ledger.Release(ctx, rec.userID, rec.amount, sessionID)
	case StakeCaptured:
		err = e.ledger.Credit(ctx, rec.userID, rec.amount, sessionID)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to refund user %d in %s: %w", rec.userID, sessionID, err)
	}
	rec.state = StakeRefunded
	return nil
}

// SettleRefundAll refunds every unresolved stake of the session. Stakes that
// are already resolved are skipped, so repeated calls never refund twice.
func (e *StakeEscrow) SettleRefundAll(ctx context.Context, sessionID string) error {
	return e.sessionLock.WithLock(sessionID, func() error {
		var errs []error
		for _, rec := range e.records(sessionID) {
			if err := e.refund(ctx, sessionID, rec); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// SettlePayout captures every stake into the pot and credits payout to the
// winner. If the ledger fails at any step, each stake is returned to its owner
// and the result wraps ErrPayoutFallback. Stakes the fallback cannot return
// stay unresolved and are reported by Outstanding.
func (e *StakeEscrow) SettlePayout(ctx context.Context, sessionID string, winnerID int64, payout decimal.Decimal) error {
	return e.sessionLock.WithLock(sessionID, func() error {
		records := e.records(sessionID)

		var cause error
		for _, rec := range records {
			if rec.state != StakeReserved {
				continue
			}
			if err := e.ledger.Capture(ctx, rec.userID, rec.amount, sessionID); err != nil {
				cause = fmt.Errorf("failed to capture stake of user %d: %w", rec.userID, err)
				break
			}
			rec.state = StakeCaptured
		}

		if cause == nil {
			if err := e.ledger.Credit(ctx, winnerID, payout, sessionID); err != nil {
				cause = fmt.Errorf("failed to credit payout to user %d: %w", winnerID, err)
			}
		}

		if cause == nil {
			for _, rec := range records {
				if rec.state == StakeCaptured {
					rec.state = StakePaidOut
				}
			}
			return nil
		}

		log.Error().Err(cause).
			Str("session_id", sessionID).
			Int64("winner_id", winnerID).
			Str("payout", payout.StringFixed(MoneyPlaces)).
			Msg("Payout failed, returning stakes")

		errs := []error{ErrPayoutFallback, cause}
		for _, rec := range records {
			if err := e.refund(ctx, sessionID, rec); err != nil {
				log.Error().Err(err).
					Str("session_id", sessionID).
					Int64("user_id", rec.userID).
					Str("amount", rec.amount.StringFixed(MoneyPlaces)).
					Str("state", rec.state.String()).
					Msg("Stake refund failed, reconciliation required")
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// Held returns the total amount currently reserved for the session.
func (e *StakeEscrow) Held(sessionID string) decimal.Decimal {
	e.sessionLock.Lock(sessionID)
	defer e.sessionLock.Unlock(sessionID)

	held := decimal.Zero
	for _, rec := range e.records(sessionID) {
		if rec.state == StakeReserved {
			held = held.Add(rec.amount)
		}
	}
	return held
}

// HasStake reports whether the user has an unresolved stake in the session.
func (e *StakeEscrow) HasStake(sessionID string, userID int64) bool {
	e.sessionLock.Lock(sessionID)
	defer e.sessionLock.Unlock(sessionID)
	return open(e.records(sessionID), userID) != nil
}

// Outstanding returns the number of unresolved stakes in the session.
func (e *StakeEscrow) Outstanding(sessionID string) int {
	e.sessionLock.Lock(sessionID)
	defer e.sessionLock.Unlock(sessionID)

	n := 0
	for _, rec := range e.records(sessionID) {
		if !rec.state.Resolved() {
			n++
		}
	}
	return n
}

// Stakes returns a copy of the session's stake records.
func (e *StakeEscrow) Stakes(sessionID string) []Stake {
	e.sessionLock.Lock(sessionID)
	defer e.sessionLock.Unlock(sessionID)

	records := e.records(sessionID)
	out := make([]Stake, 0, len(records))
	for _, rec := range records {
		out = append(out, Stake{UserID: rec.userID, Amount: rec.amount, State: rec.state})
	}
	return out
}

// Forget drops the session's records once every stake is resolved.
// It reports whether the records were dropped.
func (e *StakeEscrow) Forget(sessionID string) bool {
	if e.Outstanding(sessionID) > 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.stakes, sessionID)
	return true
}
