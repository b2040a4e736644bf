package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"dice-wager-bot/internal/model"
	"dice-wager-bot/internal/repository"
	"dice-wager-bot/internal/wager"
)

// ArchiveService persists resolved sessions and keeps the per-user game
// statistics in step with them.
type ArchiveService struct {
	pool        *pgxpool.Pool
	sessionRepo *repository.SessionRepository
	userRepo    *repository.UserRepository
	now         func() time.Time
}

var _ wager.Archive = (*ArchiveService)(nil)

// NewArchiveService creates a new ArchiveService instance.
func NewArchiveService(pool *pgxpool.Pool, sessionRepo *repository.SessionRepository, userRepo *repository.UserRepository) *ArchiveService {
	return &ArchiveService{
		pool:        pool,
		sessionRepo: sessionRepo,
		userRepo:    userRepo,
		now:         time.Now,
	}
}

// Record archives a finished or cancelled session. Recording the same
// session twice leaves the archive and statistics unchanged.
func (s *ArchiveService) Record(ctx context.Context, snap wager.SessionSnapshot) error {
	rec := SessionRecordFromSnapshot(snap, s.now())

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		inserted, err := s.sessionRepo.WithTx(tx).Insert(ctx, rec)
		if err != nil || !inserted || !snap.Resolved() {
			return err
		}

		players := make([]int64, 0, len(snap.Participants))
		for _, p := range snap.Participants {
			players = append(players, p.UserID)
		}

		// A tie or a failed payout has no winner.
		var winner int64
		if !snap.Tie && !snap.PayoutFallback {
			winner = snap.WinnerID
		}
		return s.userRepo.WithTx(tx).IncrementStats(ctx, players, winner)
	})
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", snap.ID, err)
	}

	log.Debug().Str("session_id", snap.ID).Str("state", string(snap.State)).Msg("Session archived")
	return nil
}

// SessionRecordFromSnapshot maps an engine snapshot to its archive row.
func SessionRecordFromSnapshot(snap wager.SessionSnapshot, finishedAt time.Time) *model.SessionRecord {
	rec := &model.SessionRecord{
		ID:             snap.ID,
		Kind:           string(snap.Kind),
		State:          string(snap.State),
		ChatID:         snap.ChatID,
		CreatorID:      snap.CreatorID,
		Stake:          snap.Stake,
		Pot:            snap.Pot,
		Payout:         snap.PayoutAmount,
		Commission:     snap.Commission,
		Tie:            snap.Tie,
		PayoutFallback: snap.PayoutFallback,
		CreatedAt:      snap.CreatedAt,
		FinishedAt:     finishedAt,
		Participants:   make([]model.ParticipantRecord, 0, len(snap.Participants)),
	}

	if snap.Resolved() && !snap.Tie && snap.WinnerID != 0 {
		winner := snap.WinnerID
		rec.WinnerID = &winner
	}
	if snap.CancelReason != "" {
		reason := snap.CancelReason
		rec.CancelReason = &reason
	}

	for _, p := range snap.Participants {
		rolls := p.Rolls
		if rolls == nil {
			rolls = []int{}
		}
		rec.Participants = append(rec.Participants, model.ParticipantRecord{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Rolls:       rolls,
			Total:       p.Total,
		})
	}

	return rec
}
