// Package model defines the persisted data models for the wager bot.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a player account. Balance is spendable; Reserved is held by open sessions.
type User struct {
	TelegramID     int64           `db:"telegram_id"`
	Username       string          `db:"username"`
	Balance        decimal.Decimal `db:"balance"`
	Reserved       decimal.Decimal `db:"reserved"`
	GamesPlayed    int             `db:"games_played"`
	GamesWon       int             `db:"games_won"`
	LastDailyClaim int64           `db:"last_daily_claim"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

// Transaction is one journaled ledger movement. Amount is signed from the
// user's spendable balance point of view, except capture which records the
// stake leaving the account as a negative amount.
type Transaction struct {
	ID          int64           `db:"id"`
	UserID      int64           `db:"user_id"`
	Amount      decimal.Decimal `db:"amount"`
	Type        string          `db:"type"`
	Reference   *string         `db:"reference"`
	Description *string         `db:"description"`
	CreatedAt   time.Time       `db:"created_at"`
}

// Transaction types for categorizing ledger movements.
const (
	TxTypeInitial = "initial" // Initial balance on account creation
	TxTypeDaily   = "daily"   // Daily bonus claim
	TxTypeReserve = "reserve" // Stake moved into escrow
	TxTypeRelease = "release" // Stake returned from escrow
	TxTypeCapture = "capture" // Stake consumed into a pot
	TxTypeCredit  = "credit"  // Payout or fallback refund
	TxTypeAdmin   = "admin"   // Manual admin adjustment
)

// SessionRecord is the archived final state of a session.
type SessionRecord struct {
	ID             string              `db:"id"`
	Kind           string              `db:"kind"`
	State          string              `db:"state"`
	ChatID         int64               `db:"chat_id"`
	CreatorID      int64               `db:"creator_id"`
	Stake          decimal.Decimal     `db:"stake"`
	Pot            decimal.Decimal     `db:"pot"`
	Payout         decimal.Decimal     `db:"payout"`
	Commission     decimal.Decimal     `db:"commission"`
	WinnerID       *int64              `db:"winner_id"`
	Tie            bool                `db:"tie"`
	PayoutFallback bool                `db:"payout_fallback"`
	CancelReason   *string             `db:"cancel_reason"`
	Participants   []ParticipantRecord `db:"participants"`
	CreatedAt      time.Time           `db:"created_at"`
	FinishedAt     time.Time           `db:"finished_at"`
}

// ParticipantRecord is one participant inside an archived session.
type ParticipantRecord struct {
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
	Rolls       []int  `json:"rolls"`
	Total       int    `json:"total"`
}
