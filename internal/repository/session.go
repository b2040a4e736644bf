package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"dice-wager-bot/internal/model"
)

const sessionColumns = `id, kind, state, chat_id, creator_id, stake, pot, payout, commission,
	winner_id, tie, payout_fallback, cancel_reason, participants, created_at, finished_at`

// SessionRepository stores the archive of resolved sessions.
type SessionRepository struct {
	db DBTX
}

// NewSessionRepository creates a new SessionRepository instance.
func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *SessionRepository) WithTx(tx pgx.Tx) *SessionRepository {
	return &SessionRepository{db: tx}
}

// Insert archives a session. Returns false if the id is already archived.
func (r *SessionRepository) Insert(ctx context.Context, rec *model.SessionRecord) (bool, error) {
	const query = `
		INSERT INTO sessions (id, kind, state, chat_id, creator_id, stake, pot, payout, commission,
			winner_id, tie, payout_fallback, cancel_reason, participants, created_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO NOTHING
	`

	participants, err := json.Marshal(rec.Participants)
	if err != nil {
		return false, fmt.Errorf("failed to encode participants: %w", err)
	}

	tag, err := r.db.Exec(ctx, query,
		rec.ID, rec.Kind, rec.State, rec.ChatID, rec.CreatorID,
		rec.Stake, rec.Pot, rec.Payout, rec.Commission,
		rec.WinnerID, rec.Tie, rec.PayoutFallback, rec.CancelReason,
		participants, rec.CreatedAt, rec.FinishedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to archive session: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetByID retrieves an archived session.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.SessionRecord, error) {
	const query = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	rec, err := scanSession(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return rec, nil
}

// ListByUser returns the sessions a user took part in, most recent first.
func (r *SessionRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*model.SessionRecord, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE participants @> jsonb_build_array(jsonb_build_object('user_id', $1::bigint))
		ORDER BY finished_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var records []*model.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return records, nil
}

func scanSession(row pgx.Row) (*model.SessionRecord, error) {
	var (
		rec          model.SessionRecord
		participants []byte
	)
	err := row.Scan(
		&rec.ID,
		&rec.Kind,
		&rec.State,
		&rec.ChatID,
		&rec.CreatorID,
		&rec.Stake,
		&rec.Pot,
		&rec.Payout,
		&rec.Commission,
		&rec.WinnerID,
		&rec.Tie,
		&rec.PayoutFallback,
		&rec.CancelReason,
		&participants,
		&rec.CreatedAt,
		&rec.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(participants, &rec.Participants); err != nil {
		return nil, fmt.Errorf("failed to decode participants: %w", err)
	}
	return &rec, nil
}
