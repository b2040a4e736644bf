package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"dice-wager-bot/internal/model"
)

const transactionColumns = `id, user_id, amount, type, reference, description, created_at`

// TransactionRepository handles the ledger journal.
type TransactionRepository struct {
	db DBTX
}

// NewTransactionRepository creates a new TransactionRepository instance.
func NewTransactionRepository(db DBTX) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *TransactionRepository) WithTx(tx pgx.Tx) *TransactionRepository {
	return &TransactionRepository{db: tx}
}

// Create records a journal entry. reference is the session id when the
// movement belongs to a session.
func (r *TransactionRepository) Create(ctx context.Context, userID int64, amount decimal.Decimal, txType string, reference, description *string) (*model.Transaction, error) {
	const query = `
		INSERT INTO transactions (user_id, amount, type, reference, description, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING ` + transactionColumns

	tx, err := scanTransaction(r.db.QueryRow(ctx, query, userID, amount, txType, reference, description))
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return tx, nil
}

// GetByUserID retrieves a user's transactions, newest first.
func (r *TransactionRepository) GetByUserID(ctx context.Context, userID int64, limit int) ([]*model.Transaction, error) {
	const query = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	return r.list(ctx, query, userID, limit)
}

// GetByReference retrieves every journal entry tied to a session, oldest first.
func (r *TransactionRepository) GetByReference(ctx context.Context, reference string) ([]*model.Transaction, error) {
	const query = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE reference = $1
		ORDER BY id
	`
	return r.list(ctx, query, reference)
}

// OpenReservation is the part of a session stake the journal still shows as
// reserved: reserves minus the releases and captures that followed them.
type OpenReservation struct {
	Reference string
	Amount    decimal.Decimal
}

// OpenReservations returns the user's session stakes that were never released
// or captured.
func (r *TransactionRepository) OpenReservations(ctx context.Context, userID int64) ([]OpenReservation, error) {
	const query = `
		SELECT reference, SUM(CASE WHEN type = 'reserve' THEN ABS(amount) ELSE -ABS(amount) END) AS open
		FROM transactions
		WHERE user_id = $1 AND reference IS NOT NULL AND type IN ('reserve', 'release', 'capture')
		GROUP BY reference
		HAVING SUM(CASE WHEN type = 'reserve' THEN ABS(amount) ELSE -ABS(amount) END) > 0
		ORDER BY MIN(id)
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query open reservations: %w", err)
	}
	defer rows.Close()

	var open []OpenReservation
	for rows.Next() {
		var o OpenReservation
		if err := rows.Scan(&o.Reference, &o.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		open = append(open, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reservations: %w", err)
	}
	return open, nil
}

func (r *TransactionRepository) list(ctx context.Context, query string, args ...any) ([]*model.Transaction, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*model.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var tx model.Transaction
	err := row.Scan(
		&tx.ID,
		&tx.UserID,
		&tx.Amount,
		&tx.Type,
		&tx.Reference,
		&tx.Description,
		&tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}
