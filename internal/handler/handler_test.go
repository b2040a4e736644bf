package handler

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"

	"dice-wager-bot/internal/command"
	"dice-wager-bot/internal/model"
	"dice-wager-bot/internal/pkg/lock"
	"dice-wager-bot/internal/service"
	"dice-wager-bot/internal/wager"
)

func TestErrorText(t *testing.T) {
	cfg := wager.DefaultConfig()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"not your turn beats state kind", fmt.Errorf("roll: %w", wager.ErrNotYourTurn), "not your turn"},
		{"rolls complete", wager.ErrRollsComplete, "already rolled"},
		{"self join", wager.ErrSelfJoin, "your own game"},
		{"already joined beats exists", wager.ErrAlreadyJoined, "already in this game"},
		{"duel in chat", wager.ErrDuelInProgress, "already a duel"},
		{"settlement pending", errors.Join(wager.ErrSettlementPending, errors.New("db down")), "refund is still pending"},
		{"stake range", wager.ErrInvalidStake, "between 1.00 and 10000.00"},
		{"lobby size", wager.ErrInvalidCapacity, "3 to 5 players"},
		{"funds", fmt.Errorf("join: %w", wager.ErrInsufficientFunds), "Insufficient balance"},
		{"not found", wager.ErrNotFound, "not found"},
		{"finished", wager.ErrAlreadyFinished, "already over"},
		{"not participant", wager.ErrNotParticipant, "not in this game"},
		{"not authorized", wager.ErrNotAuthorized, "Only the creator"},
		{"full", wager.ErrCapacityExceeded, "full"},
		{"bad state", wager.ErrInvalidStateTransition, "not possible right now"},
		{"bad command", command.ErrMissingArgument, "/help"},
		{"no account", service.ErrUserNotFound, "/start"},
		{"lock timeout", lock.ErrLockTimeout, "Busy"},
		{"roll in flight", ErrRollInProgress, "still rolling"},
		{"unknown", errors.New("boom"), "Operation failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, ErrorText(tt.err, cfg), tt.want)
		})
	}
}

func TestUsage(t *testing.T) {
	assert.Equal(t, "Usage: /lobby <stake> [players]", Usage(command.TextLobby))
	assert.Equal(t, "Usage: /joinmatch <code>", Usage(command.TextJoinMatch))
	assert.Equal(t, "Usage: /roll <game id>", Usage(command.TextRoll))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "@alice", DisplayName(&tele.User{ID: 1, Username: "alice", FirstName: "Alice"}))
	assert.Equal(t, "Bob Smith", DisplayName(&tele.User{ID: 2, FirstName: "Bob", LastName: "Smith"}))
	assert.Equal(t, "3", DisplayName(&tele.User{ID: 3}))
}

func lobbySnapshot(state wager.State) wager.SessionSnapshot {
	return wager.SessionSnapshot{
		ID:              "ABCD1234",
		Kind:            wager.KindLobby,
		State:           state,
		CreatorID:       1,
		Stake:           decimal.NewFromInt(10),
		MaxParticipants: 3,
		Participants: []wager.ParticipantSnapshot{
			{UserID: 1, DisplayName: "@alice", Ready: true, Paid: true},
			{UserID: 2, DisplayName: "@bob", Paid: true},
		},
	}
}

func TestFormatSession(t *testing.T) {
	out := FormatSession(lobbySnapshot(wager.StateForming))

	assert.Contains(t, out, "ABCD1234")
	assert.Contains(t, out, "Stake: 10.00")
	assert.Contains(t, out, "👑✅ @alice")
	assert.Contains(t, out, "⏳ @bob")
	assert.Contains(t, out, "2/3 players")
}

func TestFormatSessionActive(t *testing.T) {
	snap := lobbySnapshot(wager.StateActive)
	snap.CurrentTurn = 2
	snap.Participants[0].Rolls = []int{6, 5, 4}
	snap.Participants[0].Total = 15

	out := FormatSession(snap)
	assert.Contains(t, out, "@alice: 6+5+4 = 15")
	assert.Contains(t, out, "👉 @bob")
	assert.NotContains(t, out, "players")
}

func TestFormatResult(t *testing.T) {
	won := lobbySnapshot(wager.StateFinished)
	won.WinnerID = 2
	won.Pot = decimal.NewFromInt(20)
	won.PayoutAmount = decimal.RequireFromString("18.40")
	won.Commission = decimal.RequireFromString("1.60")

	tie := lobbySnapshot(wager.StateFinished)
	tie.Tie = true

	fallback := lobbySnapshot(wager.StateFinished)
	fallback.WinnerID = 2
	fallback.PayoutFallback = true

	cancelled := lobbySnapshot(wager.StateCancelled)
	cancelled.CancelReason = "lobby expired"

	tests := []struct {
		name string
		snap wager.SessionSnapshot
		want []string
	}{
		{"winner", won, []string{"Winner: @bob", "Pot: 20.00", "Payout: 18.40", "Commission: 1.60"}},
		{"tie", tie, []string{"Tie", "refunded"}},
		{"fallback", fallback, []string{"Payout failed"}},
		{"cancelled", cancelled, []string{"cancelled (lobby expired)", "refunded"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := FormatResult(tt.snap)
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
		})
	}
}

func TestSessionMarkup(t *testing.T) {
	tests := []struct {
		name     string
		kind     wager.Kind
		state    wager.State
		wantData []string
	}{
		{"lobby forming", wager.KindLobby, wager.StateForming, []string{
			"w|join|ABCD1234", "w|leave|ABCD1234", "w|ready|ABCD1234|true",
			"w|ready|ABCD1234|false", "w|start|ABCD1234", "w|cancel|ABCD1234",
		}},
		{"duel open", wager.KindDuel, wager.StateOpen, []string{"w|accept|ABCD1234", "w|cancel|ABCD1234"}},
		{"match waiting", wager.KindMatch, wager.StateWaitingForOpponent, []string{"w|cancel|ABCD1234"}},
		{"active", wager.KindMatch, wager.StateActive, []string{"w|roll|ABCD1234"}},
		{"finished", wager.KindMatch, wager.StateFinished, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := wager.SessionSnapshot{ID: "ABCD1234", Kind: tt.kind, State: tt.state}
			markup := SessionMarkup(snap)
			if tt.wantData == nil {
				assert.Nil(t, markup)
				return
			}
			require.NotNil(t, markup)

			var got []string
			for _, row := range markup.InlineKeyboard {
				for _, btn := range row {
					got = append(got, btn.Data)
					_, err := command.ParseCallback(btn.Data)
					assert.NoError(t, err, "button %q must parse", btn.Data)
				}
			}
			assert.Equal(t, tt.wantData, got)
		})
	}
}

func TestParseAdminArgs(t *testing.T) {
	id, amount, err := parseAdminArgs([]string{"42", "12.345"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, "12.35", amount.StringFixed(2))

	for _, args := range [][]string{nil, {"42"}, {"x", "1"}, {"42", "lots"}} {
		_, _, err := parseAdminArgs(args)
		assert.Error(t, err, strings.Join(args, " "))
	}
}

func TestBeginRoll_OneDiePerSession(t *testing.T) {
	h := NewWagerHandler(nil, nil)

	release, ok := h.beginRoll("AB12CD34")
	require.True(t, ok)

	_, again := h.beginRoll("AB12CD34")
	assert.False(t, again, "second press while the first die is in flight")

	otherRelease, other := h.beginRoll("FFFF0000")
	require.True(t, other, "other sessions roll independently")
	otherRelease()

	release()
	release2, ok := h.beginRoll("AB12CD34")
	require.True(t, ok)
	release2()
}

func TestCheckTurn(t *testing.T) {
	base := wager.SessionSnapshot{
		State: wager.StateActive,
		Participants: []wager.ParticipantSnapshot{
			{UserID: 1, Rolls: []int{1, 2, 3}},
			{UserID: 2, Rolls: []int{4}},
		},
		CurrentTurn: 2,
	}

	tests := []struct {
		name   string
		mutate func(*wager.SessionSnapshot)
		userID int64
		want   error
	}{
		{"current player", nil, 2, nil},
		{"not active", func(s *wager.SessionSnapshot) { s.State = wager.StateForming }, 2, wager.ErrInvalidStateTransition},
		{"stranger", nil, 3, wager.ErrNotParticipant},
		{"done rolling", nil, 1, wager.ErrRollsComplete},
		{"waiting", func(s *wager.SessionSnapshot) { s.CurrentTurn = 1; s.Participants[0].Rolls = nil }, 2, wager.ErrNotYourTurn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := base
			snap.Participants = []wager.ParticipantSnapshot{
				{UserID: 1, Rolls: []int{1, 2, 3}},
				{UserID: 2, Rolls: []int{4}},
			}
			if tt.mutate != nil {
				tt.mutate(&snap)
			}
			err := checkTurn(snap, tt.userID)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFormatTransactions(t *testing.T) {
	assert.Equal(t, "🧾 No balance movements yet", FormatTransactions(nil))

	ref := "M1A2B3"
	at := time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)
	out := FormatTransactions([]*model.Transaction{
		{Amount: decimal.RequireFromString("-10"), Type: model.TxTypeReserve, Reference: &ref, CreatedAt: at},
		{Amount: decimal.RequireFromString("19.5"), Type: model.TxTypeCredit, CreatedAt: at},
	})

	assert.Contains(t, out, "03-09 14:05 reserve -10.00 [M1A2B3]\n")
	assert.Contains(t, out, "03-09 14:05 credit +19.50\n")
}

func TestFormatSessionJournal(t *testing.T) {
	assert.Equal(t, "🧾 No movements for Q7", FormatSessionJournal("Q7", nil))

	at := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	out := FormatSessionJournal("Q7", []*model.Transaction{
		{UserID: 11, Amount: decimal.RequireFromString("-10"), Type: model.TxTypeReserve, CreatedAt: at},
		{UserID: 11, Amount: decimal.RequireFromString("-10"), Type: model.TxTypeCapture, CreatedAt: at},
		{UserID: 22, Amount: decimal.RequireFromString("19"), Type: model.TxTypeCredit, CreatedAt: at},
	})

	assert.Equal(t, "🧾 Session Q7\n"+
		"14:05:06 11 reserve -10.00\n"+
		"14:05:06 11 capture -10.00\n"+
		"14:05:06 22 credit 19.00", out)
}
