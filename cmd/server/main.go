// Package main is the entry point for the MLM platform server: HTTP API,
// batch scheduler and the optional Telegram member bot.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mlm-platform/internal/api"
	"mlm-platform/internal/bot"
	"mlm-platform/internal/config"
	"mlm-platform/internal/pkg/auth"
	"mlm-platform/internal/pkg/db"
	"mlm-platform/internal/pkg/events"
	"mlm-platform/internal/pkg/lock"
	"mlm-platform/internal/pkg/metrics"
	"mlm-platform/internal/repository"
	"mlm-platform/internal/scheduler"
	"mlm-platform/internal/service"
)

// notificationQueueSize bounds pending Telegram credit notifications.
const notificationQueueSize = 1024

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to load .env")
	}

	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogger(cfg.Log)
	log.Info().Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if cfg.Database.MigrateOnStart {
		if err := db.Migrate(dbPool.Pool); err != nil {
			log.Fatal().Err(err).Msg("Failed to run database migrations")
		}
	}

	m := metrics.New()
	m.Registry().MustRegister(dbPool.Collector())
	userLock := lock.NewKeyedLock()
	authManager := auth.NewManager(cfg.Auth)

	var publisher events.Publisher = events.New(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	var notifier *bot.Notifier
	if cfg.Bot.Enabled {
		notifier = bot.NewNotifier(publisher, notificationQueueSize)
		publisher = notifier
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close event publisher")
		}
	}()

	// Repositories
	tx := db.NewTxManager(dbPool.Pool)
	userRepo := repository.NewUserRepository(dbPool.Pool)
	walletRepo := repository.NewWalletRepository(dbPool.Pool)
	activationRepo := repository.NewActivationRepository(dbPool.Pool)
	distributionRepo := repository.NewDistributionRepository(dbPool.Pool)
	withdrawalRepo := repository.NewWithdrawalRepository(dbPool.Pool)
	transferRepo := repository.NewTransferRepository(dbPool.Pool)
	renewalRepo := repository.NewRenewalRepository(dbPool.Pool)
	settingsRepo := repository.NewSettingsRepository(dbPool.Pool)

	// Services
	batchSize := cfg.Scheduler.BatchSize
	settingsService := service.NewSettingsService(settingsRepo)
	referralService := service.NewReferralService(tx, settingsService, userRepo, walletRepo, activationRepo, distributionRepo, publisher, m, batchSize)
	accountService, err := service.NewAccountService(tx, settingsService, userRepo, walletRepo, batchSize)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create account service")
	}
	activationService := service.NewActivationService(tx, settingsService, userRepo, walletRepo, activationRepo, referralService, publisher, m)
	walletService := service.NewWalletService(tx, userRepo, walletRepo, publisher, m, batchSize)
	renewalService := service.NewRenewalService(tx, settingsService, userRepo, walletRepo, renewalRepo, publisher, m)
	withdrawalService := service.NewWithdrawalService(tx, settingsService, userRepo, walletRepo, withdrawalRepo, publisher, m)
	transferService := service.NewTransferService(tx, settingsService, userRepo, walletRepo, transferRepo, publisher, m)
	reportService := service.NewReportService(settingsService, userRepo, walletRepo, distributionRepo)

	// Scheduler
	var jobs *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		jobs = scheduler.New(cfg.Scheduler, referralService, walletService, accountService, m)
		if err := jobs.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start scheduler")
		}
	}

	// HTTP API
	server := api.New(api.Deps{
		Config:      cfg,
		Auth:        authManager,
		Metrics:     m,
		Lock:        userLock,
		DB:          dbPool,
		Settings:    settingsService,
		Accounts:    accountService,
		Activations: activationService,
		Referrals:   referralService,
		Wallets:     walletService,
		Renewals:    renewalService,
		Withdrawals: withdrawalService,
		Transfers:   transferService,
		Reports:     reportService,
	})
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(ctx)
	}()

	// Telegram member bot
	var telegramBot *bot.Bot
	if cfg.Bot.Enabled {
		telegramBot, err = bot.New(&bot.Dependencies{
			Config:    cfg,
			Links:     authManager,
			Accounts:  accountService,
			Reports:   reportService,
			Transfers: transferService,
			Referrals: referralService,
			Wallets:   walletService,
			Notifier:  notifier,
			UserLock:  userLock,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create bot")
		}
		go telegramBot.Start()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("Received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if telegramBot != nil {
		telegramBot.Stop()
	}
	if jobs != nil {
		jobs.Stop()
	}
	log.Info().Msg("Server stopped gracefully")
}

// setupLogger configures the global zerolog logger: console output for
// development, JSON otherwise.
func setupLogger(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}
