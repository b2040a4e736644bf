package handler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"dice-wager-bot/internal/command"
	"dice-wager-bot/internal/model"
	"dice-wager-bot/internal/pkg/lock"
	"dice-wager-bot/internal/service"
	"dice-wager-bot/internal/wager"
)

// Money renders an amount with two decimals.
func Money(d decimal.Decimal) string {
	return d.StringFixed(wager.MoneyPlaces)
}

// ErrorText maps an engine, command or service error to the reply shown to the user.
func ErrorText(err error, cfg wager.Config) string {
	switch {
	// Detail errors first: each one also matches its broader kind.
	case errors.Is(err, ErrRollInProgress):
		return "🎲 Your die is still rolling, wait for it to land"
	case errors.Is(err, wager.ErrNotYourTurn):
		return "⏳ It is not your turn yet"
	case errors.Is(err, wager.ErrRollsComplete):
		return "🎲 You have already rolled all your dice"
	case errors.Is(err, wager.ErrSelfJoin):
		return "❌ You cannot join your own game"
	case errors.Is(err, wager.ErrWrongKind):
		return "❌ That command does not apply to this game"
	case errors.Is(err, wager.ErrAlreadyJoined):
		return "ℹ️ You are already in this game"
	case errors.Is(err, wager.ErrDuelInProgress):
		return "⚔️ There is already a duel in this chat"
	case errors.Is(err, wager.ErrSettlementPending):
		return "⚠️ The game is cancelled but a refund is still pending, it will be retried automatically"

	case errors.Is(err, wager.ErrInvalidStake):
		return fmt.Sprintf("❌ Stake must be between %s and %s", Money(cfg.MinStake), Money(cfg.MaxStake))
	case errors.Is(err, wager.ErrInvalidCapacity):
		return fmt.Sprintf("❌ A lobby takes %d to %d players", cfg.LobbyMinPlayers, cfg.LobbyMaxPlayers)
	case errors.Is(err, wager.ErrInvalidRoll):
		return "❌ Invalid dice value"
	case errors.Is(err, wager.ErrInsufficientFunds):
		return "💸 Insufficient balance"
	case errors.Is(err, wager.ErrNotFound):
		return "❌ Game not found"
	case errors.Is(err, wager.ErrAlreadyFinished):
		return "🏁 This game is already over"
	case errors.Is(err, wager.ErrAlreadyExists):
		return "❌ Already exists"
	case errors.Is(err, wager.ErrNotParticipant):
		return "❌ You are not in this game"
	case errors.Is(err, wager.ErrNotAuthorized):
		return "❌ Only the creator can do that"
	case errors.Is(err, wager.ErrCapacityExceeded):
		return "❌ This game is full"
	case errors.Is(err, wager.ErrInvalidStateTransition):
		return "❌ That is not possible right now"

	case errors.Is(err, command.ErrUnknownCommand),
		errors.Is(err, command.ErrMissingArgument),
		errors.Is(err, command.ErrInvalidArgument):
		return "❌ Invalid command, see /help"
	case errors.Is(err, service.ErrUserNotFound):
		return "❌ Account not found, send /start first"
	case errors.Is(err, lock.ErrLockTimeout):
		return "⏳ Busy, please try again"
	}
	return "❌ Operation failed, please try again later"
}

// Usage returns the syntax hint for a text command.
func Usage(name string) string {
	switch name {
	case command.TextLobby:
		return "Usage: /lobby <stake> [players]"
	case command.TextMatch:
		return "Usage: /match <stake>"
	case command.TextDuel:
		return "Usage: /duel <stake>"
	case command.TextJoinMatch:
		return "Usage: /joinmatch <code>"
	case command.TextAccept:
		return "Usage: /accept [duel id]"
	}
	return fmt.Sprintf("Usage: %s <game id>", name)
}

var kindTitles = map[wager.Kind]string{
	wager.KindLobby: "🎲 Dice lobby",
	wager.KindMatch: "🎯 1v1 match",
	wager.KindDuel:  "⚔️ Dice duel",
}

var stateTitles = map[wager.State]string{
	wager.StateForming:            "waiting for players",
	wager.StateAllReady:           "everyone ready, starting soon",
	wager.StateStarting:           "starting",
	wager.StateWaitingForOpponent: "waiting for an opponent",
	wager.StateOpen:               "open challenge",
	wager.StateAccepted:           "accepted",
	wager.StateActive:             "rolling",
	wager.StateFinished:           "finished",
	wager.StateCancelled:          "cancelled",
}

// FormatSession renders the current state of a session.
func FormatSession(s wager.SessionSnapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", kindTitles[s.Kind], s.ID)
	if s.Code != "" {
		fmt.Fprintf(&b, "🔑 Join code: %s\n", s.Code)
	}
	fmt.Fprintf(&b, "💰 Stake: %s\n", Money(s.Stake))
	fmt.Fprintf(&b, "📌 Status: %s\n", stateTitles[s.State])
	b.WriteString("━━━━━━━━━━━━━━━\n")

	for _, p := range s.Participants {
		b.WriteString(participantLine(s, p))
		b.WriteString("\n")
	}
	if s.Kind == wager.KindLobby && s.State.Gathering() {
		fmt.Fprintf(&b, "👥 %d/%d players\n", len(s.Participants), s.MaxParticipants)
	}

	return strings.TrimRight(b.String(), "\n")
}

func participantLine(s wager.SessionSnapshot, p wager.ParticipantSnapshot) string {
	var marks []string
	if p.UserID == s.CreatorID {
		marks = append(marks, "👑")
	}
	if s.Kind == wager.KindLobby && s.State.Gathering() {
		if p.Ready {
			marks = append(marks, "✅")
		} else {
			marks = append(marks, "⏳")
		}
	}
	if s.State == wager.StateActive && s.CurrentTurn == p.UserID {
		marks = append(marks, "👉")
	}

	line := strings.TrimSpace(strings.Join(marks, "") + " " + p.DisplayName)
	if len(p.Rolls) > 0 {
		rolls := make([]string, len(p.Rolls))
		for i, r := range p.Rolls {
			rolls[i] = fmt.Sprintf("%d", r)
		}
		line += fmt.Sprintf(": %s = %d", strings.Join(rolls, "+"), p.Total)
	}
	return line
}

// FormatResult renders the outcome of a finished or cancelled session.
func FormatResult(s wager.SessionSnapshot) string {
	var b strings.Builder
	b.WriteString(FormatSession(s))
	b.WriteString("\n━━━━━━━━━━━━━━━\n")

	switch {
	case s.State == wager.StateCancelled:
		b.WriteString("🚫 Game cancelled")
		if s.CancelReason != "" {
			fmt.Fprintf(&b, " (%s)", s.CancelReason)
		}
		b.WriteString(", stakes refunded")
	case s.Tie:
		b.WriteString("🤝 Tie! All stakes refunded")
	case s.PayoutFallback:
		b.WriteString("⚠️ Payout failed, all stakes refunded")
	default:
		winner, _ := s.Participant(s.WinnerID)
		fmt.Fprintf(&b, "🏆 Winner: %s\n", winner.DisplayName)
		fmt.Fprintf(&b, "💰 Pot: %s\n", Money(s.Pot))
		fmt.Fprintf(&b, "🎁 Payout: %s\n", Money(s.PayoutAmount))
		fmt.Fprintf(&b, "🏦 Commission: %s", Money(s.Commission))
	}

	return b.String()
}

// FormatTransactions renders journal entries newest first, one per line.
func FormatTransactions(txs []*model.Transaction) string {
	if len(txs) == 0 {
		return "🧾 No balance movements yet"
	}

	var b strings.Builder
	b.WriteString("🧾 Recent movements\n")
	b.WriteString("━━━━━━━━━━━━━━━\n")
	for _, tx := range txs {
		sign := "+"
		if tx.Amount.IsNegative() {
			sign = "-"
		}
		fmt.Fprintf(&b, "%s %s %s%s", tx.CreatedAt.Format("01-02 15:04"), tx.Type, sign, Money(tx.Amount.Abs()))
		if tx.Reference != nil {
			fmt.Fprintf(&b, " [%s]", *tx.Reference)
		}
		b.WriteString("\n")
	}
	b.WriteString("━━━━━━━━━━━━━━━")
	return b.String()
}

// HelpText lists the bot commands.
const HelpText = "🎲 Dice Wager Bot\n\n" +
	"Account:\n" +
	"/balance - balance and stats\n" +
	"/daily - daily bonus\n" +
	"/top - richest players\n" +
	"/history - your recent games\n" +
	"/transactions - your recent balance movements\n\n" +
	"Lobby (3-5 players, group chat):\n" +
	"/lobby <stake> [players] - open a lobby with an invite link\n" +
	"/join <id>, /leave <id>\n" +
	"/ready <id>, /unready <id>\n" +
	"/startgame <id> - start once everyone is ready\n\n" +
	"1v1 match:\n" +
	"/match <stake> - get a join code and invite link\n" +
	"/joinmatch <code>\n\n" +
	"Duel (group chat):\n" +
	"/duel <stake>, /accept\n\n" +
	"During a game: /roll <id> throws your next die (3 each)\n" +
	"/cancel <id> - creator cancels before the game starts"
