// Package handler provides Telegram bot command handlers.
package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"dice-wager-bot/internal/service"
)

// AccountHandler handles account-related commands.
type AccountHandler struct {
	accountService *service.AccountService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountService *service.AccountService) *AccountHandler {
	return &AccountHandler{accountService: accountService}
}

// HandleStart handles the /start command.
func (h *AccountHandler) HandleStart(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	user, created, err := h.accountService.EnsureUser(ctx, sender.ID, accountName(sender))
	if err != nil {
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("Failed to create account")
		return c.Reply("❌ Failed to create your account, please try again later")
	}

	if created {
		return c.Reply(fmt.Sprintf(
			"🎉 Welcome %s!\n\nYour account is ready, balance: %s\n\n%s",
			DisplayName(sender), Money(user.Balance), HelpText,
		))
	}

	return c.Reply(fmt.Sprintf("👋 Welcome back %s!\n\nBalance: %s", DisplayName(sender), Money(user.Balance)))
}

// HandleHelp handles the /help command.
func (h *AccountHandler) HandleHelp(c tele.Context) error {
	return c.Reply(HelpText)
}

// HandleBalance handles the /balance command.
func (h *AccountHandler) HandleBalance(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	user, _, err := h.accountService.EnsureUser(ctx, sender.ID, accountName(sender))
	if err != nil {
		return c.Reply("❌ Failed to load your balance, please try again later")
	}

	return c.Reply(fmt.Sprintf(
		"📊 Account\n"+
			"━━━━━━━━━━━━━━━\n"+
			"👤 %s\n"+
			"💰 Balance: %s\n"+
			"🔒 In play: %s\n"+
			"🎲 Games: %d (won %d)\n"+
			"━━━━━━━━━━━━━━━",
		DisplayName(sender), Money(user.Balance), Money(user.Reserved), user.GamesPlayed, user.GamesWon,
	))
}

// HandleDaily handles the /daily command.
func (h *AccountHandler) HandleDaily(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	if _, _, err := h.accountService.EnsureUser(ctx, sender.ID, accountName(sender)); err != nil {
		return c.Reply("❌ Operation failed, please try again later")
	}

	claim, err := h.accountService.ClaimDaily(ctx, sender.ID)
	if errors.Is(err, service.ErrDailyAlreadyClaimed) {
		return c.Reply(fmt.Sprintf("⏰ Come back in %s", service.FormatCooldown(claim.Remaining)))
	}
	if err != nil {
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("Daily claim failed")
		return c.Reply("❌ Daily claim failed, please try again later")
	}

	return c.Reply(fmt.Sprintf("✅ Daily bonus: +%s\n💰 Balance: %s", Money(claim.Amount), Money(claim.Balance)))
}

// HandleTop handles the /top command.
func (h *AccountHandler) HandleTop(c tele.Context) error {
	ctx := context.Background()

	users, err := h.accountService.GetTopUsers(ctx, 10)
	if err != nil {
		return c.Reply("❌ Failed to load the leaderboard, please try again later")
	}

	if len(users) == 0 {
		return c.Reply("📊 No players yet")
	}

	var b strings.Builder
	b.WriteString("🏆 Top 10\n")
	b.WriteString("━━━━━━━━━━━━━━━\n")

	medals := []string{"🥇", "🥈", "🥉"}
	for i, user := range users {
		rank := fmt.Sprintf("%d.", i+1)
		if i < len(medals) {
			rank = medals[i]
		}

		displayName := user.Username
		if displayName == "" {
			displayName = fmt.Sprintf("User%d", user.TelegramID)
		}

		fmt.Fprintf(&b, "%s %s: %s\n", rank, displayName, Money(user.Balance))
	}

	b.WriteString("━━━━━━━━━━━━━━━")
	return c.Reply(b.String())
}

// HandleHistory handles the /history command.
func (h *AccountHandler) HandleHistory(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	records, err := h.accountService.History(ctx, sender.ID, 10)
	if err != nil {
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("Failed to load history")
		return c.Reply("❌ Failed to load your games, please try again later")
	}
	if len(records) == 0 {
		return c.Reply("📜 No finished games yet")
	}

	var b strings.Builder
	b.WriteString("📜 Recent games\n")
	b.WriteString("━━━━━━━━━━━━━━━\n")
	for _, rec := range records {
		outcome := "🚫 cancelled"
		switch {
		case rec.State != "finished":
		case rec.Tie:
			outcome = "🤝 tie"
		case rec.PayoutFallback:
			outcome = "⚠️ refunded"
		case rec.WinnerID != nil && *rec.WinnerID == sender.ID:
			outcome = fmt.Sprintf("🏆 won %s", Money(rec.Payout))
		default:
			outcome = fmt.Sprintf("💸 lost %s", Money(rec.Stake))
		}
		fmt.Fprintf(&b, "%s %s %s: %s\n", rec.FinishedAt.Format("01-02 15:04"), rec.Kind, rec.ID, outcome)
	}
	b.WriteString("━━━━━━━━━━━━━━━")

	return c.Reply(b.String())
}

// HandleTransactions handles the /transactions command.
func (h *AccountHandler) HandleTransactions(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	txs, err := h.accountService.Transactions(ctx, sender.ID, 15)
	if err != nil {
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("Failed to load transactions")
		return c.Reply("❌ Failed to load your balance movements, please try again later")
	}
	return c.Reply(FormatTransactions(txs))
}
