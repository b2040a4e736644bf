// Package bot provides the Telegram bot initialization, middleware and the
// notifier that announces session events.
package bot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"dice-wager-bot/internal/command"
	"dice-wager-bot/internal/config"
	"dice-wager-bot/internal/handler"
	"dice-wager-bot/internal/service"
	"dice-wager-bot/internal/wager"
)

// ErrMissingToken is returned when no bot token is configured.
var ErrMissingToken = errors.New("bot token is required")

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot *tele.Bot
	cfg *config.Config

	accountHandler *handler.AccountHandler
	wagerHandler   *handler.WagerHandler
	adminHandler   *handler.AdminHandler
}

// Dependencies holds all the dependencies needed by the bot handlers.
type Dependencies struct {
	AccountService *service.AccountService
	Engine         *wager.Engine
}

// New creates the Telegram client and registers middleware. Handlers are
// registered by Register once the engine exists, since the engine needs the
// bot's notifier first.
func New(cfg *config.Config) (*Bot, error) {
	if cfg.Bot.Token == "" {
		return nil, ErrMissingToken
	}

	timeout := cfg.Bot.PollerTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	teleBot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Bot.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, c tele.Context) {
			log.Error().Err(err).Msg("Telegram handler error")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := &Bot{bot: teleBot, cfg: cfg}
	b.registerMiddleware()
	return b, nil
}

// Notifier returns a wager.Notifier that posts through this bot.
func (b *Bot) Notifier() *Notifier {
	return NewNotifier(b.bot, b.bot.Me.Username)
}

// Register creates the handlers and routes commands to them.
func (b *Bot) Register(deps *Dependencies) {
	b.accountHandler = handler.NewAccountHandler(deps.AccountService)
	b.wagerHandler = handler.NewWagerHandler(deps.Engine, deps.AccountService)
	b.adminHandler = handler.NewAdminHandler(deps.AccountService, deps.Engine)

	b.registerHandlers()
}

// registerMiddleware registers all middleware.
func (b *Bot) registerMiddleware() {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(WhitelistMiddleware(b.cfg))
	b.bot.Use(LoggingMiddleware())
}

// registerHandlers registers all command and callback handlers.
func (b *Bot) registerHandlers() {
	b.bot.Handle("/start", b.handleStart)
	b.bot.Handle("/help", b.accountHandler.HandleHelp)
	b.bot.Handle("/balance", b.accountHandler.HandleBalance)
	b.bot.Handle("/daily", b.accountHandler.HandleDaily)
	b.bot.Handle("/top", b.accountHandler.HandleTop)
	b.bot.Handle("/history", b.accountHandler.HandleHistory)
	b.bot.Handle("/transactions", b.accountHandler.HandleTransactions)

	for _, name := range command.TextCommands {
		b.bot.Handle(name, b.wagerHandler.HandleCommand)
	}

	adminGroup := b.bot.Group()
	adminGroup.Use(AdminMiddleware(b.cfg))
	adminGroup.Handle("/admin_credit", b.adminHandler.HandleAdminCredit)
	adminGroup.Handle("/admin_stats", b.adminHandler.HandleAdminStats)
	adminGroup.Handle("/admin_session", b.adminHandler.HandleAdminSession)

	b.bot.Handle(tele.OnCallback, b.handleCallback)
}

// handleStart runs invite deep links and otherwise greets the user.
func (b *Bot) handleStart(c tele.Context) error {
	if cmd, ok := command.ParseStartPayload(strings.Join(c.Args(), " ")); ok {
		return b.wagerHandler.HandleInvite(c, cmd)
	}
	return b.accountHandler.HandleStart(c)
}

// handleCallback routes inline button presses.
func (b *Bot) handleCallback(c tele.Context) error {
	callback := c.Callback()
	if callback == nil {
		return nil
	}

	if command.IsCallback(callback.Data) {
		return b.wagerHandler.HandleCallback(c)
	}

	log.Debug().Str("data", callback.Data).Msg("Unrouted callback")
	return c.Respond()
}

// Start starts the bot polling. It blocks until Stop is called.
func (b *Bot) Start() {
	log.Info().Str("username", b.bot.Me.Username).Msg("Starting bot...")
	b.bot.Start()
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.bot.Stop()
}
