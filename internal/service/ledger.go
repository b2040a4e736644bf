package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"dice-wager-bot/internal/model"
	"dice-wager-bot/internal/pkg/lock"
	"dice-wager-bot/internal/repository"
	"dice-wager-bot/internal/wager"
)

// Ledger errors.
var (
	ErrInvalidAmount = errors.New("invalid amount: must be positive")
	ErrUserNotFound  = errors.New("user not found")
)

// LedgerService is the PostgreSQL-backed wager.Ledger. Each movement runs
// under the user's lock in a database transaction together with its journal
// entry, so balance and journal never diverge.
type LedgerService struct {
	pool        *pgxpool.Pool
	userRepo    *repository.UserRepository
	txRepo      *repository.TransactionRepository
	userLock    *lock.UserLock
	lockTimeout time.Duration
}

var _ wager.Ledger = (*LedgerService)(nil)

// NewLedgerService creates a new LedgerService instance.
func NewLedgerService(
	pool *pgxpool.Pool,
	userRepo *repository.UserRepository,
	txRepo *repository.TransactionRepository,
	userLock *lock.UserLock,
	lockTimeout time.Duration,
) *LedgerService {
	return &LedgerService{
		pool:        pool,
		userRepo:    userRepo,
		txRepo:      txRepo,
		userLock:    userLock,
		lockTimeout: lockTimeout,
	}
}

// movement applies one guarded balance update.
type movement func(ctx context.Context, users *repository.UserRepository) error

// Reserve moves amount from balance to reserved.
func (s *LedgerService) Reserve(ctx context.Context, userID int64, amount decimal.Decimal, ref string) error {
	return s.apply(ctx, userID, amount, model.TxTypeReserve, amount.Neg(), ref, func(ctx context.Context, users *repository.UserRepository) error {
		_, err := users.Reserve(ctx, userID, amount)
		return err
	})
}

// Release moves amount from reserved back to balance.
func (s *LedgerService) Release(ctx context.Context, userID int64, amount decimal.Decimal, ref string) error {
	return s.apply(ctx, userID, amount, model.TxTypeRelease, amount, ref, func(ctx context.Context, users *repository.UserRepository) error {
		_, err := users.Release(ctx, userID, amount)
		return err
	})
}

// Capture consumes amount from reserved.
func (s *LedgerService) Capture(ctx context.Context, userID int64, amount decimal.Decimal, ref string) error {
	return s.apply(ctx, userID, amount, model.TxTypeCapture, amount.Neg(), ref, func(ctx context.Context, users *repository.UserRepository) error {
		_, err := users.Capture(ctx, userID, amount)
		return err
	})
}

// Credit adds amount to balance.
func (s *LedgerService) Credit(ctx context.Context, userID int64, amount decimal.Decimal, ref string) error {
	return s.apply(ctx, userID, amount, model.TxTypeCredit, amount, ref, func(ctx context.Context, users *repository.UserRepository) error {
		_, err := users.Credit(ctx, userID, amount)
		return err
	})
}

func (s *LedgerService) apply(ctx context.Context, userID int64, amount decimal.Decimal, txType string, journaled decimal.Decimal, ref string, fn movement) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	err := s.userLock.WithLockContext(ctx, userID, s.lockTimeout, func() error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if err := fn(ctx, s.userRepo.WithTx(tx)); err != nil {
				return err
			}
			var reference *string
			if ref != "" {
				reference = &ref
			}
			_, err := s.txRepo.WithTx(tx).Create(ctx, userID, journaled, txType, reference, nil)
			return err
		})
	})
	if err != nil {
		log.Warn().Err(err).
			Int64("user_id", userID).
			Str("type", txType).
			Str("amount", amount.StringFixed(2)).
			Str("ref", ref).
			Msg("Ledger movement failed")
		return mapLedgerError(txType, err)
	}
	return nil
}

// mapLedgerError translates repository failures into the wager error kinds.
func mapLedgerError(txType string, err error) error {
	switch {
	case errors.Is(err, repository.ErrInsufficientBalance):
		return fmt.Errorf("%w: %w", wager.ErrInsufficientFunds, err)
	case errors.Is(err, repository.ErrInsufficientReserve):
		return fmt.Errorf("%w: %w", wager.ErrStakeNotHeld, err)
	case errors.Is(err, repository.ErrUserNotFound) && txType == model.TxTypeReserve:
		return fmt.Errorf("%w: %w", wager.ErrInsufficientFunds, ErrUserNotFound)
	case errors.Is(err, repository.ErrUserNotFound):
		return ErrUserNotFound
	case errors.Is(err, lock.ErrLockTimeout):
		return fmt.Errorf("failed to acquire user lock: %w", err)
	default:
		return fmt.Errorf("ledger update failed: %w", err)
	}
}

// RestartReleaseNote describes journal entries written by ReleaseOrphanedStakes.
const RestartReleaseNote = "released after restart"

// ReleaseOrphanedStakes returns every reserved amount to its owner's balance.
// Sessions are held in memory only, so once the process starts no reserve can
// belong to a live session. Each release is journaled against the session it
// was reserved for; reserved funds the journal cannot attribute are released
// without a reference. It reports how many users were refunded and the total.
func (s *LedgerService) ReleaseOrphanedStakes(ctx context.Context) (int, decimal.Decimal, error) {
	users, err := s.userRepo.ListWithReserve(ctx)
	if err != nil {
		return 0, decimal.Zero, err
	}

	var (
		refunded int
		total    = decimal.Zero
		errs     []error
	)
	for _, user := range users {
		var released decimal.Decimal
		err := s.userLock.WithLockContext(ctx, user.TelegramID, s.lockTimeout, func() error {
			return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
				var err error
				released, err = s.releaseAll(ctx, tx, user.TelegramID)
				return err
			})
		})
		if err != nil {
			log.Error().Err(err).Int64("user_id", user.TelegramID).Msg("Failed to release orphaned stake")
			errs = append(errs, fmt.Errorf("user %d: %w", user.TelegramID, err))
			continue
		}
		if released.IsPositive() {
			refunded++
			total = total.Add(released)
		}
	}

	return refunded, total, errors.Join(errs...)
}

func (s *LedgerService) releaseAll(ctx context.Context, tx pgx.Tx, userID int64) (decimal.Decimal, error) {
	users := s.userRepo.WithTx(tx)
	journal := s.txRepo.WithTx(tx)

	user, err := users.GetForUpdate(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	open, err := journal.OpenReservations(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}

	note := RestartReleaseNote
	release := func(amount decimal.Decimal, ref *string) error {
		if _, err := users.Release(ctx, userID, amount); err != nil {
			return err
		}
		_, err := journal.Create(ctx, userID, amount, model.TxTypeRelease, ref, &note)
		return err
	}

	remaining := user.Reserved
	for _, o := range open {
		if !remaining.IsPositive() {
			break
		}
		amount := decimal.Min(o.Amount, remaining)
		ref := o.Reference
		if err := release(amount, &ref); err != nil {
			return decimal.Zero, err
		}
		remaining = remaining.Sub(amount)
	}
	if remaining.IsPositive() {
		if err := release(remaining, nil); err != nil {
			return decimal.Zero, err
		}
	}

	return user.Reserved, nil
}
