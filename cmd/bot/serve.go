package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"dice-wager-bot/internal/bot"
	"dice-wager-bot/internal/config"
	"dice-wager-bot/internal/httpapi"
	"dice-wager-bot/internal/pkg/db"
	"dice-wager-bot/internal/pkg/lock"
	"dice-wager-bot/internal/repository"
	"dice-wager-bot/internal/scheduler"
	"dice-wager-bot/internal/service"
	"dice-wager-bot/internal/wager"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot and the ops HTTP endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// engineConfig converts the configured wager section into engine settings.
func engineConfig(w config.WagerConfig) wager.Config {
	return wager.Config{
		CommissionRate:       decimal.NewFromFloat(w.CommissionRate),
		MinStake:             config.Money(w.MinStake),
		MaxStake:             config.Money(w.MaxStake),
		LobbyMinPlayers:      w.LobbyMinPlayers,
		LobbyMaxPlayers:      w.LobbyMaxPlayers,
		LobbyCountdown:       w.LobbyCountdown,
		StaleSessionTimeout:  w.StaleSessionTimeout,
		OpenChallengeTimeout: w.OpenChallengeTimeout,
		TombstoneRetention:   w.TombstoneRetention,
		SweepInterval:        w.SweepInterval,
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer dbPool.Close()

	if err := dbPool.Migrate(ctx); err != nil {
		return err
	}

	// Repositories
	userRepo := repository.NewUserRepository(dbPool.Pool)
	txRepo := repository.NewTransactionRepository(dbPool.Pool)
	sessionRepo := repository.NewSessionRepository(dbPool.Pool)

	// Services
	userLock := lock.NewUserLock()
	ledgerService := service.NewLedgerService(dbPool.Pool, userRepo, txRepo, userLock, cfg.Account.LockTimeout)
	accountService := service.NewAccountService(dbPool.Pool, userRepo, txRepo, sessionRepo, userLock, service.AccountOptions{
		InitialBalance: config.Money(cfg.Account.InitialBalance),
		DailyReward:    config.Money(cfg.Daily.Reward),
		DailyCooldown:  time.Duration(cfg.Daily.CooldownHours) * time.Hour,
		LockTimeout:    cfg.Account.LockTimeout,
	})
	archiveService := service.NewArchiveService(dbPool.Pool, sessionRepo, userRepo)

	refunded, total, err := ledgerService.ReleaseOrphanedStakes(ctx)
	if err != nil {
		return err
	}
	if refunded > 0 {
		log.Warn().Int("users", refunded).Str("total", total.StringFixed(wager.MoneyPlaces)).
			Msg("Released stakes left over from the previous run")
	}

	telegramBot, err := bot.New(cfg)
	if err != nil {
		return err
	}

	timers := scheduler.NewTimerScheduler()
	defer timers.Stop()

	engine := wager.NewEngine(engineConfig(cfg.Wager), ledgerService, timers,
		wager.WithNotifier(telegramBot.Notifier()),
		wager.WithArchive(archiveService),
	)

	telegramBot.Register(&bot.Dependencies{
		AccountService: accountService,
		Engine:         engine,
	})

	go engine.RunSweeper(ctx)

	srv := httpapi.NewServer(cfg.HTTP.Addr, httpapi.Router(dbPool, engine))
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("Ops HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Ops HTTP server failed")
		}
	}()

	go telegramBot.Start()

	<-ctx.Done()
	log.Info().Msg("Received shutdown signal")

	telegramBot.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if report, err := engine.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Int("failed", report.Failed).
			Msg("Some stakes could not be refunded; they are released on next start")
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Ops HTTP server shutdown")
	}

	log.Info().Msg("Bot stopped gracefully")
	return nil
}
