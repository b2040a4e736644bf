package handler

import (
	tele "gopkg.in/telebot.v3"

	"dice-wager-bot/internal/command"
	"dice-wager-bot/internal/wager"
)

// SessionMarkup builds the inline keyboard for a session's current state.
// Returns nil when no action is available.
func SessionMarkup(s wager.SessionSnapshot) *tele.ReplyMarkup {
	rows := sessionButtons(s)
	if len(rows) == 0 {
		return nil
	}

	markup := &tele.ReplyMarkup{}
	inline := make([]tele.Row, 0, len(rows))
	for _, r := range rows {
		inline = append(inline, markup.Row(r...))
	}
	markup.Inline(inline...)
	return markup
}

func button(text string, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

func sessionButtons(s wager.SessionSnapshot) [][]tele.Btn {
	switch s.State {
	case wager.StateForming, wager.StateAllReady:
		return [][]tele.Btn{
			{
				button("➕ Join", command.Callback(command.JoinLobby, s.ID)),
				button("🚪 Leave", command.Callback(command.LeaveLobby, s.ID)),
			},
			{
				button("✅ Ready", command.ReadyCallback(s.ID, true)),
				button("⏳ Not ready", command.ReadyCallback(s.ID, false)),
			},
			{
				button("▶️ Start", command.Callback(command.StartLobby, s.ID)),
				button("🚫 Cancel", command.Callback(command.CancelSession, s.ID)),
			},
		}
	case wager.StateOpen:
		return [][]tele.Btn{{
			button("⚔️ Accept", command.Callback(command.AcceptDuel, s.ID)),
			button("🚫 Cancel", command.Callback(command.CancelSession, s.ID)),
		}}
	case wager.StateWaitingForOpponent:
		return [][]tele.Btn{{
			button("🚫 Cancel", command.Callback(command.CancelSession, s.ID)),
		}}
	case wager.StateActive:
		return [][]tele.Btn{{
			button("🎲 Roll", command.Callback(command.RollDice, s.ID)),
		}}
	}
	return nil
}
