// Package api exposes the platform over HTTP: the callable operations used by
// the web client, the member read API, the admin console API and the payment
// webhook.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"mlm-platform/internal/config"
	"mlm-platform/internal/pkg/auth"
	"mlm-platform/internal/pkg/lock"
	"mlm-platform/internal/pkg/metrics"
	"mlm-platform/internal/service"
)

// memberLockTimeout bounds how long a member's request waits behind their
// previous one.
const memberLockTimeout = 5 * time.Second

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps holds everything the handlers call.
type Deps struct {
	Config      *config.Config
	Auth        *auth.Manager
	Metrics     *metrics.Metrics
	Lock        *lock.KeyedLock
	DB          Pinger
	Settings    *service.SettingsService
	Accounts    *service.AccountService
	Activations *service.ActivationService
	Referrals   *service.ReferralService
	Wallets     *service.WalletService
	Renewals    *service.RenewalService
	Withdrawals *service.WithdrawalService
	Transfers   *service.TransferService
	Reports     *service.ReportService
}

// Server is the HTTP front end.
type Server struct {
	deps    Deps
	engine  *gin.Engine
	limiter *RateLimiter
	http    *http.Server
}

// New builds the router and the underlying http.Server.
func New(deps Deps) *Server {
	if deps.Lock == nil {
		deps.Lock = lock.NewKeyedLock()
	}
	if deps.Config.Server.Mode != "" {
		gin.SetMode(deps.Config.Server.Mode)
	}

	s := &Server{
		deps:    deps,
		engine:  gin.New(),
		limiter: NewRateLimiter(deps.Config.RateLimit.RPS, deps.Config.RateLimit.Burst),
	}
	s.routes()
	s.http = &http.Server{
		Addr:         deps.Config.Server.Addr,
		Handler:      s.engine,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
	}
	return s
}

func (s *Server) routes() {
	r := s.engine
	r.Use(Recovery(), RequestLogger(s.deps.Metrics))

	r.GET("/healthz", s.healthz)
	r.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	r.POST("/webhooks/razorpay", s.razorpayWebhook)

	authed := Authenticate(s.deps.Auth)
	member := MemberLock(s.deps.Lock, memberLockTimeout)
	admin := RequireAdmin(s.deps.Config)

	limit := s.limiter.Middleware()

	callable := r.Group("/api/callable")
	callable.POST("/validateReferralCode", limit, s.validateReferralCode)
	callable.POST("/register", authed, limit, member, s.register)
	callable.POST("/createSponsorActivation", authed, limit, member, s.createSponsorActivation)
	callable.POST("/createUserTransfer", authed, limit, member, s.createUserTransfer)
	callable.POST("/createWithdrawalRequest", authed, limit, member, s.createWithdrawalRequest)
	callable.POST("/renewCap", authed, limit, member, s.renewCap)
	callable.POST("/processAllPendingReferralIncome", authed, admin, s.processAllPending)
	callable.POST("/syncWalletBalances", authed, admin, s.syncWalletBalances)

	me := r.Group("/api/me", authed, limit)
	me.GET("", s.me)
	me.GET("/ledger", s.myLedger)
	me.GET("/income", s.myIncome)
	me.GET("/activations", s.myActivations)
	me.GET("/withdrawals", s.myWithdrawals)
	me.GET("/transfers", s.myTransfers)
	me.POST("/telegram-link", s.telegramLink)

	adm := r.Group("/api/admin", authed, admin)
	adm.GET("/settings", s.getSettings)
	adm.GET("/settings/:key", s.getSettingsSection)
	adm.PUT("/settings/:key", s.putSettingsSection)

	adm.GET("/withdrawals", s.listWithdrawals)
	adm.POST("/withdrawals/:id/review", s.reviewWithdrawal)
	adm.POST("/withdrawals/:id/approve", s.approveWithdrawal)
	adm.POST("/withdrawals/:id/pay", s.payWithdrawal)
	adm.POST("/withdrawals/:id/reject", s.rejectWithdrawal)

	adm.POST("/users/:id/activate", s.adminActivate)
	adm.POST("/users/:id/renew", s.adminRenew)
	adm.POST("/users/:id/upline", s.changeUpline)
	adm.POST("/users/:id/status", s.setStatus)
	adm.POST("/users/:id/unblock", s.unblock)
	adm.POST("/users/:id/verify", s.setVerification)
	adm.POST("/users/:id/adjust", s.adjustBalance)
	adm.GET("/users/:id/ledger-check", s.verifyLedger)

	adm.POST("/activations/:id/reprocess", s.reprocessActivation)
	adm.GET("/activations/:id/preview", s.previewActivation)
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	go s.limiter.Cleanup(ctx, time.Minute, 3*time.Minute)

	log.Info().Str("addr", s.http.Addr).Msg("HTTP server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) healthz(c *gin.Context) {
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
