package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"dice-wager-bot/internal/command"
	"dice-wager-bot/internal/pkg/lock"
	"dice-wager-bot/internal/service"
	"dice-wager-bot/internal/wager"
)

// ErrRollInProgress is returned while a die for the same session is in flight.
var ErrRollInProgress = errors.New("a die is already being rolled")

// WagerHandler turns chat commands and button presses into engine calls.
// Session announcements are posted by the bot's notifier; the handler only
// answers the sender.
type WagerHandler struct {
	engine         *wager.Engine
	accountService *service.AccountService
	rolling        *lock.KeyLock[string]
}

// NewWagerHandler creates a new WagerHandler.
func NewWagerHandler(engine *wager.Engine, accountService *service.AccountService) *WagerHandler {
	return &WagerHandler{
		engine:         engine,
		accountService: accountService,
		rolling:        lock.NewKeyLock[string](),
	}
}

// botUsername returns the bot's own username, or "" when offline.
func botUsername(c tele.Context) string {
	if b := c.Bot(); b != nil && b.Me != nil {
		return b.Me.Username
	}
	return ""
}

// DisplayName returns the name shown for a Telegram user.
func DisplayName(u *tele.User) string {
	if u.Username != "" {
		return "@" + u.Username
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return fmt.Sprintf("%d", u.ID)
	}
	return name
}

// accountName is the name stored on the account row.
func accountName(u *tele.User) string {
	if u.Username != "" {
		return u.Username
	}
	return u.FirstName
}

// HandleCommand handles every wager text command.
func (h *WagerHandler) HandleCommand(c tele.Context) error {
	sender := c.Sender()
	chat := c.Chat()
	if sender == nil || chat == nil {
		return nil
	}

	fields := strings.Fields(c.Text())
	if len(fields) == 0 {
		return nil
	}
	name := strings.ToLower(strings.SplitN(fields[0], "@", 2)[0])

	cmd, err := command.Parse(name, c.Args())
	if err != nil {
		return c.Reply(Usage(name))
	}

	reply, err := h.execute(context.Background(), c, cmd)
	if err != nil {
		return c.Reply(ErrorText(err, h.engine.Config()))
	}
	if reply != "" {
		return c.Reply(reply)
	}
	return nil
}

// HandleInvite runs a join command that arrived through a t.me deep link.
func (h *WagerHandler) HandleInvite(c tele.Context, cmd command.Command) error {
	if c.Sender() == nil || c.Chat() == nil {
		return nil
	}

	reply, err := h.execute(context.Background(), c, cmd)
	if err != nil {
		return c.Reply(ErrorText(err, h.engine.Config()))
	}
	if reply == "" {
		reply = "✅ You're in! Watch the game chat for your turn"
	}
	return c.Reply(reply)
}

// HandleCallback handles wager inline buttons.
func (h *WagerHandler) HandleCallback(c tele.Context) error {
	callback := c.Callback()
	if callback == nil || c.Sender() == nil {
		return nil
	}

	cmd, err := command.ParseCallback(callback.Data)
	if err != nil {
		log.Debug().Err(err).Str("data", callback.Data).Msg("Ignoring malformed callback")
		return c.Respond(&tele.CallbackResponse{Text: "❌ Invalid action"})
	}

	reply, err := h.execute(context.Background(), c, cmd)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{
			Text:      ErrorText(err, h.engine.Config()),
			ShowAlert: true,
		})
	}
	if reply == "" {
		reply = "✅"
	}
	return c.Respond(&tele.CallbackResponse{Text: reply})
}

func (h *WagerHandler) execute(ctx context.Context, c tele.Context, cmd command.Command) (string, error) {
	sender := c.Sender()
	name := DisplayName(sender)

	// Stake-affecting commands need an account to reserve from.
	switch cmd.Kind {
	case command.CreateLobby, command.JoinLobby, command.CreateMatch, command.JoinMatch,
		command.CreateDuel, command.AcceptDuel:
		if _, _, err := h.accountService.EnsureUser(ctx, sender.ID, accountName(sender)); err != nil {
			log.Error().Err(err).Int64("user_id", sender.ID).Msg("Failed to ensure user")
			return "", err
		}
	}

	log.Debug().
		Str("kind", string(cmd.Kind)).
		Str("session_id", cmd.SessionID).
		Int64("user_id", sender.ID).
		Msg("Wager command")

	switch cmd.Kind {
	case command.CreateLobby:
		if c.Chat().Type == tele.ChatPrivate {
			return "❌ Lobbies are played in group chats", nil
		}
		players := cmd.MaxPlayers
		if players == 0 {
			players = h.engine.Config().LobbyMaxPlayers
		}
		_, err := h.engine.CreateLobby(ctx, c.Chat().ID, sender.ID, name, cmd.Stake, players)
		return "", err

	case command.JoinLobby:
		return "", h.engine.JoinLobby(ctx, cmd.SessionID, sender.ID, name)

	case command.SetReady:
		return "", h.engine.SetReady(ctx, cmd.SessionID, sender.ID, cmd.Ready)

	case command.StartLobby:
		return "", h.engine.StartLobby(ctx, cmd.SessionID, sender.ID)

	case command.LeaveLobby:
		return "", h.engine.LeaveSession(ctx, cmd.SessionID, sender.ID)

	case command.CancelSession:
		return "", h.engine.CancelSession(ctx, cmd.SessionID, sender.ID)

	case command.CreateMatch:
		_, code, err := h.engine.CreateMatch(ctx, sender.ID, name, cmd.Stake)
		if err != nil {
			return "", err
		}
		reply := fmt.Sprintf("🎯 Match created! Your opponent joins with /joinmatch %s", code)
		if link := command.MatchInviteLink(botUsername(c), code); link != "" {
			reply += "\nor through this link: " + link
		}
		return reply, nil

	case command.JoinMatch:
		_, err := h.engine.JoinMatch(ctx, cmd.Code, sender.ID, name)
		return "", err

	case command.CreateDuel:
		if c.Chat().Type == tele.ChatPrivate {
			return "❌ Duels are played in group chats", nil
		}
		_, err := h.engine.CreateDuel(ctx, c.Chat().ID, sender.ID, name, cmd.Stake)
		return "", err

	case command.AcceptDuel:
		id := cmd.SessionID
		if id == "" {
			snap, err := h.engine.FindByChat(c.Chat().ID)
			if err != nil {
				return "", err
			}
			id = snap.ID
		}
		return "", h.engine.AcceptDuel(ctx, id, sender.ID, name)

	case command.RollDice:
		return "", h.roll(ctx, c, cmd.SessionID)
	}

	return "", fmt.Errorf("%q: %w", cmd.Kind, command.ErrUnknownCommand)
}

// roll throws a Telegram die for the sender and records its value. The turn
// is checked first so an out-of-turn press does not throw a visible die, and
// only one die per session is in flight at a time.
func (h *WagerHandler) roll(ctx context.Context, c tele.Context, id string) error {
	sender := c.Sender()

	release, ok := h.beginRoll(id)
	if !ok {
		return ErrRollInProgress
	}
	defer release()

	snap, err := h.engine.GetSession(id)
	if err != nil {
		return err
	}
	if err := checkTurn(snap, sender.ID); err != nil {
		return err
	}

	msg, err := c.Bot().Send(c.Chat(), tele.Cube)
	if err != nil {
		return fmt.Errorf("failed to send dice: %w", err)
	}
	if msg.Dice == nil {
		return fmt.Errorf("telegram returned no dice value: %w", wager.ErrInvalidRoll)
	}

	_, err = h.engine.RollDice(ctx, id, sender.ID, msg.Dice.Value)
	if err != nil {
		log.Warn().Err(err).
			Str("session_id", id).
			Int64("user_id", sender.ID).
			Int("roll", msg.Dice.Value).
			Msg("Dice thrown but roll rejected")
	}
	return err
}

// beginRoll claims the session's roll slot without waiting.
func (h *WagerHandler) beginRoll(id string) (func(), bool) {
	if !h.rolling.TryLock(id) {
		return nil, false
	}
	return func() { h.rolling.Unlock(id) }, true
}

// checkTurn reports why userID may not roll in snap right now.
func checkTurn(snap wager.SessionSnapshot, userID int64) error {
	if snap.State != wager.StateActive {
		return wager.ErrInvalidStateTransition
	}
	p, ok := snap.Participant(userID)
	if !ok {
		return wager.ErrNotParticipant
	}
	if len(p.Rolls) >= wager.RollsPerParticipant {
		return wager.ErrRollsComplete
	}
	if snap.CurrentTurn != userID {
		return wager.ErrNotYourTurn
	}
	return nil
}
