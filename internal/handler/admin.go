package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	tele "gopkg.in/telebot.v3"

	"dice-wager-bot/internal/model"
	"dice-wager-bot/internal/service"
	"dice-wager-bot/internal/wager"
)

// AdminHandler handles admin-only commands. Access is checked by the bot's
// admin middleware.
type AdminHandler struct {
	accountService *service.AccountService
	engine         *wager.Engine
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(accountService *service.AccountService, engine *wager.Engine) *AdminHandler {
	return &AdminHandler{
		accountService: accountService,
		engine:         engine,
	}
}

// HandleAdminCredit handles /admin_credit <user_id> <amount>.
func (h *AdminHandler) HandleAdminCredit(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	targetID, amount, err := parseAdminArgs(c.Args())
	if err != nil {
		return c.Reply(err.Error())
	}

	user, err := h.accountService.AdminCredit(ctx, sender.ID, targetID, amount)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			return c.Reply("❌ User not found")
		}
		if errors.Is(err, service.ErrInvalidAmount) {
			return c.Reply("❌ Amount must be positive")
		}
		return c.Reply("❌ Operation failed")
	}

	return c.Reply(fmt.Sprintf(
		"✅ Done\n\n👤 User: %s (ID: %d)\n➕ Credited: %s\n💰 Balance: %s",
		user.Username, targetID, Money(amount), Money(user.Balance),
	))
}

// HandleAdminStats handles /admin_stats.
func (h *AdminHandler) HandleAdminStats(c tele.Context) error {
	stats := h.engine.Stats()

	var b strings.Builder
	fmt.Fprintf(&b, "📊 Open sessions: %d\n", stats.Open)
	for kind, n := range stats.ByKind {
		fmt.Fprintf(&b, "• %s: %d\n", kind, n)
	}
	for state, n := range stats.ByState {
		fmt.Fprintf(&b, "• %s: %d\n", state, n)
	}
	fmt.Fprintf(&b, "⚠️ Pending settlement: %d", stats.PendingSettlement)

	return c.Reply(b.String())
}

// HandleAdminSession handles /admin_session <id>: the ledger trail of one session.
func (h *AdminHandler) HandleAdminSession(c tele.Context) error {
	args := c.Args()
	if len(args) < 1 {
		return c.Reply("❌ Usage: /admin_session <id>")
	}
	id := strings.ToUpper(args[0])

	txs, err := h.accountService.SessionJournal(context.Background(), id)
	if err != nil {
		log.Error().Err(err).Str("session_id", id).Msg("Failed to load session journal")
		return c.Reply("❌ Operation failed")
	}
	return c.Reply(FormatSessionJournal(id, txs))
}

// FormatSessionJournal renders a session's ledger trail with the user of each movement.
func FormatSessionJournal(id string, txs []*model.Transaction) string {
	if len(txs) == 0 {
		return fmt.Sprintf("🧾 No movements for %s", id)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🧾 Session %s\n", id)
	for _, tx := range txs {
		fmt.Fprintf(&b, "%s %d %s %s\n", tx.CreatedAt.Format("15:04:05"), tx.UserID, tx.Type, Money(tx.Amount))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func parseAdminArgs(args []string) (int64, decimal.Decimal, error) {
	if len(args) < 2 {
		return 0, decimal.Zero, errors.New("❌ Usage: /admin_credit <user_id> <amount>")
	}

	targetID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, decimal.Zero, errors.New("❌ Invalid user id")
	}

	amount, err := decimal.NewFromString(args[1])
	if err != nil {
		return 0, decimal.Zero, errors.New("❌ Invalid amount")
	}

	return targetID, wager.NormalizeAmount(amount), nil
}
