package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"dice-wager-bot/internal/command"
	"dice-wager-bot/internal/handler"
	"dice-wager-bot/internal/wager"
)

// Sender is the part of *tele.Bot the notifier needs.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Notifier posts session events to Telegram. Lobby and duel events go to
// the group chat; match events go to each player's private chat.
type Notifier struct {
	sender      Sender
	botUsername string
	now         func() time.Time
}

var _ wager.Notifier = (*Notifier)(nil)

// NewNotifier creates a Notifier that sends through sender. botUsername is
// used to build invite links and may be empty.
func NewNotifier(sender Sender, botUsername string) *Notifier {
	return &Notifier{sender: sender, botUsername: botUsername, now: time.Now}
}

// Notify renders ev and sends it. Send failures are logged and dropped.
func (n *Notifier) Notify(ctx context.Context, ev wager.Event) {
	text, markup := n.render(ev)
	if text == "" {
		return
	}

	opts := []interface{}{tele.NoPreview}
	if markup != nil {
		opts = append(opts, markup)
	}

	for _, chatID := range recipients(ev) {
		if ctx.Err() != nil {
			return
		}
		if _, err := n.sender.Send(tele.ChatID(chatID), text, opts...); err != nil {
			log.Warn().Err(err).
				Str("session_id", ev.Session.ID).
				Str("event", string(ev.Type)).
				Int64("chat_id", chatID).
				Msg("Failed to deliver session notification")
		}
	}
}

func recipients(ev wager.Event) []int64 {
	s := ev.Session
	if s.Kind != wager.KindMatch {
		return []int64{s.ChatID}
	}

	// The roller already sees their own die.
	ids := make([]int64, 0, len(s.Participants))
	for _, p := range s.Participants {
		if ev.Type == wager.EventRolled && p.UserID == ev.UserID {
			continue
		}
		ids = append(ids, p.UserID)
	}
	// A match that is created or cancelled before anyone joined only has the creator.
	if len(ids) == 0 && ev.Type != wager.EventRolled {
		ids = append(ids, s.CreatorID)
	}
	return ids
}

func (n *Notifier) render(ev wager.Event) (string, *tele.ReplyMarkup) {
	s := ev.Session
	who := displayName(s, ev.UserID)

	switch ev.Type {
	case wager.EventCreated:
		if s.Kind == wager.KindMatch {
			// The creator gets the join code in the command reply.
			return "", nil
		}
		text := fmt.Sprintf("%s opened a game\n\n%s", who, handler.FormatSession(s))
		if s.Kind == wager.KindLobby {
			if link := command.LobbyInviteLink(n.botUsername, s.ID); link != "" {
				text += "\n\n🔗 Invite: " + link
			}
		}
		return text, handler.SessionMarkup(s)

	case wager.EventJoined:
		return fmt.Sprintf("➕ %s joined\n\n%s", who, handler.FormatSession(s)), handler.SessionMarkup(s)

	case wager.EventLeft:
		return fmt.Sprintf("🚪 %s left\n\n%s", who, handler.FormatSession(s)), handler.SessionMarkup(s)

	case wager.EventReady:
		p, _ := s.Participant(ev.UserID)
		status := "⏳ %s is not ready"
		if p.Ready {
			status = "✅ %s is ready"
		}
		return fmt.Sprintf(status+"\n\n%s", who, handler.FormatSession(s)), handler.SessionMarkup(s)

	case wager.EventCountdownStarted:
		wait := s.CountdownDeadline.Sub(n.now()).Round(time.Second)
		if wait < 0 {
			wait = 0
		}
		return fmt.Sprintf("⏱ Everyone is ready! The game starts in %s unless someone changes their mind", wait), handler.SessionMarkup(s)

	case wager.EventCountdownCancelled:
		return "⏸ Countdown cancelled, waiting for everyone to be ready again", handler.SessionMarkup(s)

	case wager.EventStarted:
		first := displayName(s, s.CurrentTurn)
		return fmt.Sprintf("🎲 Game on! Each player rolls %d dice, %s goes first\n\n%s",
			wager.RollsPerParticipant, first, handler.FormatSession(s)), handler.SessionMarkup(s)

	case wager.EventRolled:
		p, _ := s.Participant(ev.UserID)
		text := fmt.Sprintf("🎲 %s rolled %d (%d/%d)", who, ev.Roll, len(p.Rolls), wager.RollsPerParticipant)
		if s.State != wager.StateActive || s.CurrentTurn == 0 {
			// The finished event carries the result.
			return text, nil
		}
		if s.CurrentTurn != ev.UserID {
			text += fmt.Sprintf("\n👉 %s, your turn", displayName(s, s.CurrentTurn))
		}
		return text, handler.SessionMarkup(s)

	case wager.EventFinished, wager.EventCancelled:
		return handler.FormatResult(s), nil
	}

	return "", nil
}

func displayName(s wager.SessionSnapshot, userID int64) string {
	if p, ok := s.Participant(userID); ok {
		return p.DisplayName
	}
	return fmt.Sprintf("%d", userID)
}
