package command

import (
	"fmt"
	"strings"
)

// Deep-link payload prefixes. Telegram delivers t.me/<bot>?start=<payload>
// as "/start <payload>" in the user's private chat.
const (
	lobbyInvitePrefix = "joinlobby_"
	matchInvitePrefix = "join"
)

// LobbyInviteLink returns the t.me link that joins a lobby.
func LobbyInviteLink(botUsername, sessionID string) string {
	return inviteLink(botUsername, lobbyInvitePrefix+sessionID)
}

// MatchInviteLink returns the t.me link that joins a match by its code.
func MatchInviteLink(botUsername, code string) string {
	return inviteLink(botUsername, matchInvitePrefix+code)
}

func inviteLink(botUsername, payload string) string {
	if botUsername == "" {
		return ""
	}
	return fmt.Sprintf("https://t.me/%s?start=%s", botUsername, payload)
}

// ParseStartPayload maps a /start deep-link payload to a join command.
// It reports false for an empty or unrelated payload so /start can fall back
// to the welcome message.
func ParseStartPayload(payload string) (Command, bool) {
	payload = strings.TrimSpace(payload)
	lower := strings.ToLower(payload)

	switch {
	case strings.HasPrefix(lower, lobbyInvitePrefix):
		id := normalizeID(payload[len(lobbyInvitePrefix):])
		if id == "" {
			return Command{}, false
		}
		return Command{Kind: JoinLobby, SessionID: id}, true

	case strings.HasPrefix(lower, matchInvitePrefix):
		code := normalizeID(payload[len(matchInvitePrefix):])
		if code == "" {
			return Command{}, false
		}
		return Command{Kind: JoinMatch, Code: code}, true
	}

	return Command{}, false
}
