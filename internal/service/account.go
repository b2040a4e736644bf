// Package service provides business logic implementations.
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
)

// Common errors for account operations.
var (
	ErrDailyAlreadyClaimed = errors.New("daily reward already claimed")
)

// AccountOptions configures AccountService.
type AccountOptions struct {
	InitialBalance decimal.Decimal
	DailyReward    decimal.Decimal
	DailyCooldown  time.Duration
	LockTimeout    time.Duration
}

// AccountService handles user account operations.
type AccountService struct {
	pool        *pgxpool.Pool
	userRepo    *repository.UserRepository
	txRepo      *repository.TransactionRepository
	sessionRepo *repository.SessionRepository
	userLock    *lock.UserLock
	opts        AccountOptions
	now         func() time.Time
}

// NewAccountService creates a new AccountService instance.
func NewAccountService(
	pool *pgxpool.Pool,
	userRepo *repository.UserRepository,
	txRepo *repository.TransactionRepository,
	sessionRepo *repository.SessionRepository,
	userLock *lock.UserLock,
	opts AccountOptions,
) *AccountService {
	return &AccountService{
		pool:        pool,
		userRepo:    userRepo,
		txRepo:      txRepo,
		sessionRepo: sessionRepo,
		userLock:    userLock,
		opts:        opts,
		now:         time.Now,
	}
}

// EnsureUser ensures a user exists, creating one with the initial balance if
// necessary. Returns the user and whether it was newly created.
func (s *AccountService) EnsureUser(ctx context.Context, telegramID int64, username string) (*model.User, bool, error) {
	created := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		created, err = s.userRepo.WithTx(tx).CreateIfMissing(ctx, telegramID, username, s.opts.InitialBalance)
		if err != nil || !created || !s.opts.InitialBalance.IsPositive() {
			return err
		}
		desc := "initial balance"
		_, err = s.txRepo.WithTx(tx).Create(ctx, telegramID, s.opts.InitialBalance, model.TxTypeInitial, nil, &desc)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure user: %w", err)
	}

	user, err := s.userRepo.GetByID(ctx, telegramID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure user: %w", err)
	}

	if !created && user.Username != username && username != "" {
		if err := s.userRepo.UpdateUsername(ctx, telegramID, username); err != nil {
			log.Warn().Err(err).Int64("user_id", telegramID).Msg("Failed to update username")
		} else {
			user.Username = username
		}
	}

	if created {
		log.Info().Int64("user_id", telegramID).Str("username", username).Msg("New account created")
	}

	return user, created, nil
}

// GetUser retrieves a user by their Telegram ID.
func (s *AccountService) GetUser(ctx context.Context, telegramID int64) (*model.User, error) {
	return s.userRepo.GetByID(ctx, telegramID)
}

// DailyClaim is the outcome of a daily bonus attempt.
type DailyClaim struct {
	Amount    decimal.Decimal
	Balance   decimal.Decimal
	Remaining time.Duration
}

// ClaimDaily grants the daily bonus. When the cooldown has not elapsed it
// returns ErrDailyAlreadyClaimed with Remaining set.
func (s *AccountService) ClaimDaily(ctx context.Context, telegramID int64) (*DailyClaim, error) {
	var claim DailyClaim

	err := s.userLock.WithLockContext(ctx, telegramID, s.opts.LockTimeout, func() error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			users := s.userRepo.WithTx(tx)

			user, err := users.GetForUpdate(ctx, telegramID)
			if err != nil {
				return err
			}

			now := s.now()
			if remaining := repository.DailyCooldownRemaining(user.LastDailyClaim, s.opts.DailyCooldown, now); remaining > 0 {
				claim.Remaining = remaining
				claim.Balance = user.Balance
				return ErrDailyAlreadyClaimed
			}

			user, err = users.Credit(ctx, telegramID, s.opts.DailyReward)
			if err != nil {
				return err
			}
			if err := users.UpdateDailyClaim(ctx, telegramID, now.Unix()); err != nil {
				return err
			}

			desc := "daily bonus"
			if _, err := s.txRepo.WithTx(tx).Create(ctx, telegramID, s.opts.DailyReward, model.TxTypeDaily, nil, &desc); err != nil {
				return err
			}

			claim.Amount = s.opts.DailyReward
			claim.Balance = user.Balance
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ErrDailyAlreadyClaimed) {
			return &claim, err
		}
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to claim daily reward: %w", err)
	}

	return &claim, nil
}

// AdminCredit credits a user outside any session and journals who did it.
func (s *AccountService) AdminCredit(ctx context.Context, adminID, telegramID int64, amount decimal.Decimal) (*model.User, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var user *model.User
	err := s.userLock.WithLockContext(ctx, telegramID, s.opts.LockTimeout, func() error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			var err error
			user, err = s.userRepo.WithTx(tx).Credit(ctx, telegramID, amount)
			if err != nil {
				return err
			}
			desc := fmt.Sprintf("admin %d", adminID)
			_, err = s.txRepo.WithTx(tx).Create(ctx, telegramID, amount, model.TxTypeAdmin, nil, &desc)
			return err
		})
	})
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to credit user: %w", err)
	}

	log.Info().
		Int64("admin_id", adminID).
		Int64("user_id", telegramID).
		Str("amount", amount.StringFixed(2)).
		Msg("Admin credit applied")

	return user, nil
}

// GetTopUsers retrieves the top users by balance.
func (s *AccountService) GetTopUsers(ctx context.Context, limit int) ([]*model.User, error) {
	return s.userRepo.GetTopUsers(ctx, limit)
}

// History returns the user's most recent archived sessions.
func (s *AccountService) History(ctx context.Context, telegramID int64, limit int) ([]*model.SessionRecord, error) {
	return s.sessionRepo.ListByUser(ctx, telegramID, limit)
}

// Transactions returns the user's most recent journal entries.
func (s *AccountService) Transactions(ctx context.Context, telegramID int64, limit int) ([]*model.Transaction, error) {
	return s.txRepo.GetByUserID(ctx, telegramID, limit)
}

// SessionJournal returns every ledger movement made for a session, oldest first.
func (s *AccountService) SessionJournal(ctx context.Context, sessionID string) ([]*model.Transaction, error) {
	return s.txRepo.GetByReference(ctx, sessionID)
}

// FormatCooldown renders a remaining cooldown as "Hh Mm Ss".
func FormatCooldown(remaining time.Duration) string {
	if remaining < 0 {
		remaining = 0
	}
	total := int64(remaining.Round(time.Second) / time.Second)
	return fmt.Sprintf("%dh %dm %ds", total/3600, (total/60)%60, total%60)
}
