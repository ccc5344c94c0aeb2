// Package bot provides the Telegram member bot initialization and handler registration.
package bot

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"mlm-platform/internal/config"
	"mlm-platform/internal/handler"
	"mlm-platform/internal/pkg/lock"
	"mlm-platform/internal/service"
)

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot      *tele.Bot
	cfg      *config.Config
	accounts *service.AccountService
	notifier *Notifier

	accountHandler  *handler.AccountHandler
	transferHandler *handler.TransferHandler
	adminHandler    *handler.AdminHandler

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
}

// Dependencies holds all the dependencies needed by the bot handlers.
type Dependencies struct {
	Config    *config.Config
	Links     handler.LinkVerifier
	Accounts  *service.AccountService
	Reports   *service.ReportService
	Transfers *service.TransferService
	Referrals *service.ReferralService
	Wallets   *service.WalletService
	Notifier  *Notifier
	UserLock  *lock.KeyedLock
}

// New creates a new Bot instance with the given dependencies.
func New(deps *Dependencies) (*Bot, error) {
	if deps.Config.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	pref := tele.Settings{
		Token:  deps.Config.Bot.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c tele.Context) {
			logEvent := log.Error().Err(err)
			if c != nil && c.Sender() != nil {
				logEvent = logEvent.Int64("user_id", c.Sender().ID)
			}
			logEvent.Msg("Bot handler error")
		},
	}

	teleBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		bot:      teleBot,
		cfg:      deps.Config,
		accounts: deps.Accounts,
		notifier: deps.Notifier,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	b.accountHandler = handler.NewAccountHandler(deps.Accounts, deps.Reports, deps.Links)
	b.transferHandler = handler.NewTransferHandler(deps.Accounts, deps.Transfers, deps.UserLock)
	b.adminHandler = handler.NewAdminHandler(deps.Referrals, deps.Wallets)

	b.registerMiddleware()
	b.registerHandlers()

	return b, nil
}

// registerMiddleware registers all middleware.
func (b *Bot) registerMiddleware() {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(WhitelistMiddleware(b.cfg))
	b.bot.Use(LoggingMiddleware(b.cfg))
}

// registerHandlers registers all command handlers.
func (b *Bot) registerHandlers() {
	b.bot.Handle("/start", b.accountHandler.HandleStart)
	b.bot.Handle("/balance", b.accountHandler.HandleBalance)
	b.bot.Handle("/income", b.accountHandler.HandleIncome)
	b.bot.Handle("/cap", b.accountHandler.HandleCap)

	// Transfers move money, so they are private-chat only.
	b.bot.Handle("/transfer", b.transferHandler.HandleTransfer, PrivateOnlyMiddleware())

	adminGroup := b.bot.Group()
	adminGroup.Use(AdminMiddleware(b.cfg))
	adminGroup.Handle("/process_pending", b.adminHandler.HandleProcessPending)
	adminGroup.Handle("/sync_wallets", b.adminHandler.HandleSyncWallets)
}

// Start starts notification delivery and bot polling. It blocks until Stop.
func (b *Bot) Start() {
	log.Info().Msg("Starting bot...")

	b.started.Store(true)
	go func() {
		defer close(b.done)
		if b.notifier != nil {
			b.notifier.Deliver(b.ctx, b.accounts, b.bot)
		}
	}()

	b.bot.Start()
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.bot.Stop()
	b.cancel()
	if b.started.Load() {
		<-b.done
	}
}
