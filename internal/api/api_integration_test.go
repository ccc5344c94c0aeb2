package api

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlm-platform/internal/model"
	"mlm-platform/internal/pkg/auth"
	"mlm-platform/internal/pkg/db"
	"mlm-platform/internal/pkg/db/dbtest"
	"mlm-platform/internal/pkg/events"
	"mlm-platform/internal/pkg/metrics"
	"mlm-platform/internal/repository"
	"mlm-platform/internal/service"
	"mlm-platform/internal/settings"
)

func newIntegrationServer(t *testing.T) (*Server, *pgxpool.Pool) {
	t.Helper()
	pool := dbtest.Setup(t)
	cfg := testConfig()
	m := metrics.New()
	pub := events.NopPublisher{}

	tx := db.NewTxManager(pool)
	users := repository.NewUserRepository(pool)
	wallets := repository.NewWalletRepository(pool)
	activations := repository.NewActivationRepository(pool)
	distributions := repository.NewDistributionRepository(pool)

	settingsSvc := service.NewSettingsService(repository.NewSettingsRepository(pool))
	_, err := settingsSvc.Save(context.Background(), settings.KeyFeatures, []byte(`{"signupRequiresReferral": false}`), "test")
	require.NoError(t, err)

	referrals := service.NewReferralService(tx, settingsSvc, users, wallets, activations, distributions, pub, m, 0)
	accounts, err := service.NewAccountService(tx, settingsSvc, users, wallets, 0)
	require.NoError(t, err)

	srv := New(Deps{
		Config:      cfg,
		Auth:        auth.NewManager(cfg.Auth),
		Metrics:     m,
		DB:          pool,
		Settings:    settingsSvc,
		Accounts:    accounts,
		Activations: service.NewActivationService(tx, settingsSvc, users, wallets, activations, referrals, pub, m),
		Referrals:   referrals,
		Wallets:     service.NewWalletService(tx, users, wallets, pub, m, 0),
		Renewals:    service.NewRenewalService(tx, settingsSvc, users, wallets, repository.NewRenewalRepository(pool), pub, m),
		Withdrawals: service.NewWithdrawalService(tx, settingsSvc, users, wallets, repository.NewWithdrawalRepository(pool), pub, m),
		Transfers:   service.NewTransferService(tx, settingsSvc, users, wallets, repository.NewTransferRepository(pool), pub, m),
		Reports:     service.NewReportService(settingsSvc, users, wallets, distributions),
	})
	return srv, pool
}

func TestRegisterThenGatewayActivation(t *testing.T) {
	s, _ := newIntegrationServer(t)
	h := s.Handler()

	uid := uuid.NewString()
	token, err := s.deps.Auth.IssueAccess(uid, "member@example.com", false)
	require.NoError(t, err)
	authz := "Bearer " + token

	res := do(t, h, http.MethodPost, "/api/callable/register", authz, `{"name":"Member"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Raw)
	assert.Equal(t, true, res.Body["success"])
	assert.Len(t, res.Body["referralCode"], 8)

	res = do(t, h, http.MethodPost, "/api/callable/register", authz, `{"name":"Member"}`)
	assert.Equal(t, http.StatusBadRequest, res.Code, "second signup for the same account")

	res = do(t, h, http.MethodGet, "/api/me", authz, "")
	require.Equal(t, http.StatusOK, res.Code, res.Raw)
	user := res.Body["user"].(map[string]any)
	assert.Equal(t, "PENDING_ACTIVATION", user["status"])

	body := fmt.Sprintf(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_abc","amount":500000,"notes":{"user_id":%q,"plan_id":"starter","purpose":"activation"}}}}}`, uid)
	res = do(t, h, http.MethodPost, "/webhooks/razorpay", "", body, razorpaySignatureHeader, sign(body))
	require.Equal(t, http.StatusOK, res.Code, res.Raw)
	assert.Equal(t, true, res.Body["applied"])

	res = do(t, h, http.MethodPost, "/webhooks/razorpay", "", body, razorpaySignatureHeader, sign(body))
	require.Equal(t, http.StatusOK, res.Code, res.Raw)
	assert.Equal(t, false, res.Body["applied"], "replayed webhook")

	res = do(t, h, http.MethodGet, "/api/me", authz, "")
	user = res.Body["user"].(map[string]any)
	assert.Equal(t, "ACTIVE_INVESTOR", user["status"])
	assert.Equal(t, "10000", res.Body["cap"])

	res = do(t, h, http.MethodPost, "/api/callable/createWithdrawalRequest", authz,
		`{"amount":"500","method":"upi","payoutDetails":{"upiId":"m@upi"}}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, service.ReasonKYCRequired, res.Body["error"])
}

func TestGatewayRenewal_RequiresFullFee(t *testing.T) {
	s, pool := newIntegrationServer(t)
	h := s.Handler()
	ctx := context.Background()

	uid := uuid.NewString()
	token, err := s.deps.Auth.IssueAccess(uid, "renew@example.com", false)
	require.NoError(t, err)
	res := do(t, h, http.MethodPost, "/api/callable/register", "Bearer "+token, `{"name":"Member"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Raw)

	activate := fmt.Sprintf(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_act","amount":500000,"notes":{"user_id":%q,"plan_id":"starter","purpose":"activation"}}}}}`, uid)
	res = do(t, h, http.MethodPost, "/webhooks/razorpay", "", activate, razorpaySignatureHeader, sign(activate))
	require.Equal(t, http.StatusOK, res.Code, res.Raw)

	users := repository.NewUserRepository(pool)
	require.NoError(t, users.ApplyEarnings(ctx, uid, decimal.NewFromInt(10000), model.CapReached, true))

	renewal := func(id string, paise int64) string {
		return fmt.Sprintf(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":%q,"amount":%d,"notes":{"user_id":%q,"purpose":"renewal"}}}}}`, id, paise, uid)
	}

	// The fee is 100% of the 5000 starter package.
	body := renewal("pay_short", 1)
	res = do(t, h, http.MethodPost, "/webhooks/razorpay", "", body, razorpaySignatureHeader, sign(body))
	assert.Equal(t, http.StatusBadRequest, res.Code, res.Raw)
	assert.Equal(t, service.ReasonInvalidAmount, res.Body["error"])

	u, err := users.GetByID(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, model.CapReached, u.CapStatus)

	body = renewal("pay_full", 500000)
	res = do(t, h, http.MethodPost, "/webhooks/razorpay", "", body, razorpaySignatureHeader, sign(body))
	require.Equal(t, http.StatusOK, res.Code, res.Raw)
	assert.Equal(t, true, res.Body["applied"])

	u, err = users.GetByID(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, model.CapActive, u.CapStatus)
	assert.False(t, u.WithdrawalsBlocked)
}
