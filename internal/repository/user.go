package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"dice-wager-bot/internal/model"
)

// Common errors for repository operations.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientReserve = errors.New("insufficient reserved funds")
	ErrSessionNotFound     = errors.New("session not found")
)

const userColumns = `telegram_id, username, balance, reserved, games_played, games_won, last_daily_claim, created_at, updated_at`

// UserRepository handles user data persistence.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *UserRepository) WithTx(tx pgx.Tx) *UserRepository {
	return &UserRepository{db: tx}
}

func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.TelegramID,
		&user.Username,
		&user.Balance,
		&user.Reserved,
		&user.GamesPlayed,
		&user.GamesWon,
		&user.LastDailyClaim,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Create creates a new user with the given initial balance.
func (r *UserRepository) Create(ctx context.Context, telegramID int64, username string, initialBalance decimal.Decimal) (*model.User, error) {
	const query = `
		INSERT INTO users (telegram_id, username, balance, reserved, last_daily_claim, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, NOW(), NOW())
		RETURNING ` + userColumns

	user, err := scanUser(r.db.QueryRow(ctx, query, telegramID, username, initialBalance))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// CreateIfMissing inserts the user unless it exists. Returns true if a row was created.
func (r *UserRepository) CreateIfMissing(ctx context.Context, telegramID int64, username string, initialBalance decimal.Decimal) (bool, error) {
	const query = `
		INSERT INTO users (telegram_id, username, balance, reserved, last_daily_claim, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, NOW(), NOW())
		ON CONFLICT (telegram_id) DO NOTHING
	`

	tag, err := r.db.Exec(ctx, query, telegramID, username, initialBalance)
	if err != nil {
		return false, fmt.Errorf("failed to create user: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetByID retrieves a user by their Telegram ID.
// Returns ErrUserNotFound if the user does not exist.
func (r *UserRepository) GetByID(ctx context.Context, telegramID int64) (*model.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE telegram_id = $1`

	user, err := scanUser(r.db.QueryRow(ctx, query, telegramID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetForUpdate reads a user row and locks it until the surrounding transaction ends.
func (r *UserRepository) GetForUpdate(ctx context.Context, telegramID int64) (*model.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE telegram_id = $1 FOR UPDATE`

	user, err := scanUser(r.db.QueryRow(ctx, query, telegramID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}
	return user, nil
}

// Reserve moves amount from balance to reserved.
// Returns ErrInsufficientBalance if the spendable balance is too low.
func (r *UserRepository) Reserve(ctx context.Context, telegramID int64, amount decimal.Decimal) (*model.User, error) {
	const query = `
		UPDATE users
		SET balance = balance - $2, reserved = reserved + $2, updated_at = NOW()
		WHERE telegram_id = $1 AND balance >= $2
		RETURNING ` + userColumns

	return r.guardedUpdate(ctx, query, telegramID, amount, ErrInsufficientBalance)
}

// Release moves amount from reserved back to balance.
func (r *UserRepository) Release(ctx context.Context, telegramID int64, amount decimal.Decimal) (*model.User, error) {
	const query = `
		UPDATE users
		SET balance = balance + $2, reserved = reserved - $2, updated_at = NOW()
		WHERE telegram_id = $1 AND reserved >= $2
		RETURNING ` + userColumns

	return r.guardedUpdate(ctx, query, telegramID, amount, ErrInsufficientReserve)
}

// Capture removes amount from reserved; the funds leave the account.
func (r *UserRepository) Capture(ctx context.Context, telegramID int64, amount decimal.Decimal) (*model.User, error) {
	const query = `
		UPDATE users
		SET reserved = reserved - $2, updated_at = NOW()
		WHERE telegram_id = $1 AND reserved >= $2
		RETURNING ` + userColumns

	return r.guardedUpdate(ctx, query, telegramID, amount, ErrInsufficientReserve)
}

// Credit adds amount to the spendable balance.
func (r *UserRepository) Credit(ctx context.Context, telegramID int64, amount decimal.Decimal) (*model.User, error) {
	const query = `
		UPDATE users
		SET balance = balance + $2, updated_at = NOW()
		WHERE telegram_id = $1
		RETURNING ` + userColumns

	user, err := scanUser(r.db.QueryRow(ctx, query, telegramID, amount))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to credit user: %w", err)
	}
	return user, nil
}

// guardedUpdate runs a conditional balance update. No row means either the
// user is missing or the guard failed; a second lookup tells them apart.
func (r *UserRepository) guardedUpdate(ctx context.Context, query string, telegramID int64, amount decimal.Decimal, guardErr error) (*model.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, query, telegramID, amount))
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	exists, err := r.Exists(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrUserNotFound
	}
	return nil, guardErr
}

// GetTopUsers retrieves the top N users by balance.
func (r *UserRepository) GetTopUsers(ctx context.Context, limit int) ([]*model.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users ORDER BY balance DESC, telegram_id LIMIT $1`
	return r.list(ctx, query, limit)
}

// ListWithReserve returns every user holding reserved funds.
func (r *UserRepository) ListWithReserve(ctx context.Context) ([]*model.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE reserved > 0 ORDER BY telegram_id`
	return r.list(ctx, query)
}

func (r *UserRepository) list(ctx context.Context, query string, args ...any) ([]*model.User, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

// UpdateDailyClaim updates the user's last daily claim timestamp.
func (r *UserRepository) UpdateDailyClaim(ctx context.Context, telegramID int64, claimTime int64) error {
	const query = `
		UPDATE users
		SET last_daily_claim = $2, updated_at = NOW()
		WHERE telegram_id = $1
	`

	tag, err := r.db.Exec(ctx, query, telegramID, claimTime)
	if err != nil {
		return fmt.Errorf("failed to update daily claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DailyCooldownRemaining returns how long until lastClaim+cooldown, or zero
// when the user may claim now.
func DailyCooldownRemaining(lastClaim int64, cooldown time.Duration, now time.Time) time.Duration {
	if lastClaim == 0 {
		return 0
	}
	next := time.Unix(lastClaim, 0).Add(cooldown)
	if !now.Before(next) {
		return 0
	}
	return next.Sub(now)
}

// UpdateUsername updates a user's username.
func (r *UserRepository) UpdateUsername(ctx context.Context, telegramID int64, username string) error {
	const query = `
		UPDATE users
		SET username = $2, updated_at = NOW()
		WHERE telegram_id = $1
	`

	result, err := r.db.Exec(ctx, query, telegramID, username)
	if err != nil {
		return fmt.Errorf("failed to update username: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// IncrementStats bumps games_played for every player and games_won for the winner.
func (r *UserRepository) IncrementStats(ctx context.Context, players []int64, winnerID int64) error {
	const query = `
		UPDATE users
		SET games_played = games_played + 1,
			games_won = games_won + CASE WHEN telegram_id = $2 THEN 1 ELSE 0 END,
			updated_at = NOW()
		WHERE telegram_id = ANY($1)
	`

	if _, err := r.db.Exec(ctx, query, players, winnerID); err != nil {
		return fmt.Errorf("failed to update game stats: %w", err)
	}
	return nil
}

// Exists checks if a user with the given Telegram ID exists.
func (r *UserRepository) Exists(ctx context.Context, telegramID int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM users WHERE telegram_id = $1)`

	var exists bool
	err := r.db.QueryRow(ctx, query, telegramID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}

	return exists, nil
}
