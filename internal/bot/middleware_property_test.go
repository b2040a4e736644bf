// Property-based tests for middleware functions.
// **Feature: dice-wager-bot, Property 12: Admin Permission Check**
// **Feature: dice-wager-bot, Property 13: Whitelist Enforcement**
package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	tele "gopkg.in/telebot.v3"
	"pgregory.net/rapid"

	"dice-wager-bot/internal/config"
)

// offlineBot builds contexts without talking to Telegram.
var offlineBot = &tele.Bot{}

// TestAdminPermissionCheckProperty checks that a user is an admin if and
// only if their id is configured.
func TestAdminPermissionCheckProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		adminIDs := rapid.SliceOfN(rapid.Int64Range(1, 1000000000), 1, 10).Draw(t, "adminIDs")
		cfg := &config.Config{Admin: config.AdminConfig{IDs: adminIDs}}

		userID := rapid.OneOf(
			rapid.SampledFrom(adminIDs),
			rapid.Int64Range(1, 1000000000),
		).Draw(t, "userID")

		expected := false
		for _, id := range adminIDs {
			if id == userID {
				expected = true
				break
			}
		}

		if got := cfg.IsAdmin(userID); got != expected {
			t.Fatalf("IsAdmin(%d) with admins %v = %v, want %v", userID, adminIDs, got, expected)
		}
	})
}

// TestWhitelistMiddlewareProperty checks that group updates reach the
// handler exactly when the chat is whitelisted, and that a whitelisted
// sender is then allowed in private chat.
func TestWhitelistMiddlewareProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		chats := rapid.SliceOfN(rapid.Int64Range(-1000000000, -1), 1, 10).Draw(t, "chats")
		cfg := &config.Config{Whitelist: config.WhitelistConfig{Chats: chats}}

		chatID := rapid.OneOf(
			rapid.SampledFrom(chats),
			rapid.Int64Range(-1000000000, -1),
		).Draw(t, "chatID")
		userID := rapid.Int64Range(1, 1000000000).Draw(t, "userID")

		called := false
		handler := WhitelistMiddleware(cfg)(func(tele.Context) error {
			called = true
			return nil
		})

		c := offlineBot.NewContext(tele.Update{Message: &tele.Message{
			Sender: &tele.User{ID: userID},
			Chat:   &tele.Chat{ID: chatID, Type: tele.ChatGroup},
		}})
		if err := handler(c); err != nil {
			t.Fatalf("middleware returned %v", err)
		}

		if called != cfg.IsChatAllowed(chatID) {
			t.Fatalf("chat %d whitelisted=%v but handler called=%v", chatID, cfg.IsChatAllowed(chatID), called)
		}
		if called && !IsPrivateUserAllowed(userID) {
			t.Fatalf("user %d seen in a whitelisted group must be allowed in private", userID)
		}
	})
}

func TestWhitelistMiddlewarePrivateChat(t *testing.T) {
	cfg := &config.Config{Whitelist: config.WhitelistConfig{Chats: []int64{-100}}}

	run := func(userID int64) bool {
		called := false
		handler := WhitelistMiddleware(cfg)(func(tele.Context) error {
			called = true
			return nil
		})
		c := offlineBot.NewContext(tele.Update{Message: &tele.Message{
			Sender: &tele.User{ID: userID},
			Chat:   &tele.Chat{ID: userID, Type: tele.ChatPrivate},
		}})
		assert.NoError(t, handler(c))
		return called
	}

	const stranger, known = 9_000_000_001, 9_000_000_002
	AllowPrivateUser(known)

	assert.False(t, run(stranger))
	assert.True(t, run(known))

	open := &config.Config{}
	handler := WhitelistMiddleware(open)(func(tele.Context) error { return nil })
	assert.NoError(t, handler(offlineBot.NewContext(tele.Update{})), "updates without chat are ignored")
}

func TestWhitelistMiddlewareInviteLink(t *testing.T) {
	cfg := &config.Config{Whitelist: config.WhitelistConfig{Chats: []int64{-100}}}

	run := func(userID int64, text string) bool {
		called := false
		handler := WhitelistMiddleware(cfg)(func(tele.Context) error {
			called = true
			return nil
		})
		c := offlineBot.NewContext(tele.Update{Message: &tele.Message{
			Text:   text,
			Sender: &tele.User{ID: userID},
			Chat:   &tele.Chat{ID: userID, Type: tele.ChatPrivate},
		}})
		assert.NoError(t, handler(c))
		return called
	}

	const reader, other = 9_000_000_101, 9_000_000_102

	assert.True(t, run(reader, "/start joinlobby_AB12CD34"))
	assert.True(t, IsPrivateUserAllowed(reader))

	assert.False(t, run(other, "/start"))
	assert.False(t, run(other, "/start ref_42"))
	assert.False(t, IsPrivateUserAllowed(other))
}
