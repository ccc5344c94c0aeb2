package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlm-platform/internal/model"
	"mlm-platform/internal/pkg/db"
	"mlm-platform/internal/pkg/db/dbtest"
	"mlm-platform/internal/pkg/events"
	"mlm-platform/internal/pkg/metrics"
	"mlm-platform/internal/referral"
	"mlm-platform/internal/repository"
	"mlm-platform/internal/settings"
)

type harness struct {
	pool        *pgxpool.Pool
	users       *repository.UserRepository
	wallets     *repository.WalletRepository
	settings    *SettingsService
	wallet      *WalletService
	referrals   *ReferralService
	accounts    *AccountService
	activations *ActivationService
	renewals    *RenewalService
	withdrawals *WithdrawalService
	transfers   *TransferService
	reports     *ReportService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	pool := dbtest.Setup(t)

	tx := db.NewTxManager(pool)
	users := repository.NewUserRepository(pool)
	wallets := repository.NewWalletRepository(pool)
	activations := repository.NewActivationRepository(pool)
	distributions := repository.NewDistributionRepository(pool)
	pub := events.NopPublisher{}
	m := metrics.New()

	settingsSvc := NewSettingsService(repository.NewSettingsRepository(pool))
	referrals := NewReferralService(tx, settingsSvc, users, wallets, activations, distributions, pub, m, 2)
	accounts, err := NewAccountService(tx, settingsSvc, users, wallets, 2)
	require.NoError(t, err)

	h := &harness{
		pool:        pool,
		users:       users,
		wallets:     wallets,
		settings:    settingsSvc,
		wallet:      NewWalletService(tx, users, wallets, pub, m, 2),
		referrals:   referrals,
		accounts:    accounts,
		activations: NewActivationService(tx, settingsSvc, users, wallets, activations, referrals, pub, m),
		renewals:    NewRenewalService(tx, settingsSvc, users, wallets, repository.NewRenewalRepository(pool), pub, m),
		withdrawals: NewWithdrawalService(tx, settingsSvc, users, wallets, repository.NewWithdrawalRepository(pool), pub, m),
		transfers:   NewTransferService(tx, settingsSvc, users, wallets, repository.NewTransferRepository(pool), pub, m),
		reports:     NewReportService(settingsSvc, users, wallets, distributions),
	}

	h.save(t, settings.KeyFeatures, `{"signupRequiresReferral": false}`)
	return h
}

func (h *harness) save(t *testing.T, key, doc string) {
	t.Helper()
	_, err := h.settings.Save(context.Background(), key, []byte(doc), "test")
	require.NoError(t, err)
}

func (h *harness) register(t *testing.T, email string, referrer *model.User) *model.User {
	t.Helper()
	in := RegisterInput{Email: email, Name: "Member", EmailVerified: true}
	if referrer != nil {
		in.ReferralCode = referrer.ReferralCode
	}
	u, err := h.accounts.Register(context.Background(), in)
	require.NoError(t, err)
	return u
}

func (h *harness) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	w, err := h.wallets.Get(context.Background(), userID)
	require.NoError(t, err)
	return w.AvailableBalance
}

func (h *harness) fund(t *testing.T, userID, amount, ref string) {
	t.Helper()
	_, _, err := h.wallet.AdjustBalance(context.Background(), userID, dec(amount), ref, "admin", "seed")
	require.NoError(t, err)
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

// sponsorTree builds root -> child, with root active on a 10000 package and
// the child activated by root for 10000.
func sponsorTree(t *testing.T, h *harness) (root, child *model.User, activation *model.Activation) {
	t.Helper()
	ctx := context.Background()

	root = h.register(t, "root@example.com", nil)
	_, err := h.activations.AdminActivate(ctx, "admin", root.ID, "growth", dec("10000"))
	require.NoError(t, err)

	child = h.register(t, "child@example.com", root)
	h.fund(t, root.ID, "10000", "seed-root")

	activation, err = h.activations.CreateSponsorActivation(ctx, root.ID, child.ID, "growth", dec("10000"))
	require.NoError(t, err)
	return root, child, activation
}

func TestRegister_ReferralCodeRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	root := h.register(t, "root@example.com", nil)
	assert.Equal(t, model.StatusPendingActivation, root.Status)
	assert.Len(t, root.ReferralCode, referralCodeLength)
	assertDec(t, "0", h.balance(t, root.ID))

	check, err := h.referrals.ValidateReferralCode(ctx, root.ReferralCode)
	require.NoError(t, err)
	assert.False(t, check.Valid)
	assert.Equal(t, ReasonInactiveReferrer, check.Error)

	_, err = h.accounts.Register(ctx, RegisterInput{Email: "x@example.com", Name: "X", ReferralCode: root.ReferralCode})
	assert.Equal(t, ReasonInactiveReferrer, reasonOf(t, err))

	check, err = h.referrals.ValidateReferralCode(ctx, "NOPE1234")
	require.NoError(t, err)
	assert.Equal(t, ReasonInvalidReferralCode, check.Error)

	h.save(t, settings.KeyFeatures, `{"signupRequiresReferral": true}`)
	_, err = h.accounts.Register(ctx, RegisterInput{Email: "y@example.com", Name: "Y"})
	assert.Equal(t, ReasonReferralRequired, reasonOf(t, err))
}

func TestSponsorActivation_DistributesIncome(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root, child, activation := sponsorTree(t, h)

	// 10000 debited, then 5% direct (500) and 20% of the 10% pool (200).
	assertDec(t, "700", h.balance(t, root.ID))

	u, err := h.users.GetByID(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActiveInvestor, u.Status)

	r, err := h.users.GetByID(ctx, root.ID)
	require.NoError(t, err)
	assertDec(t, "700", r.CumulativeEligibleEarnings)

	report, err := h.referrals.ProcessActivation(ctx, activation.ID)
	require.NoError(t, err)
	assert.Equal(t, referral.ReasonAlreadyProcessed, report.Rejected)

	income, err := h.reports.Income(ctx, root.ID, 10)
	require.NoError(t, err)
	require.Len(t, income.Recent, 2)

	check, err := h.wallet.VerifyLedger(ctx, root.ID)
	require.NoError(t, err)
	assert.True(t, check.Consistent)
}

// deferredActivation activates child while referral income is switched off,
// leaving the activation FAILED, then switches income back on.
func deferredActivation(t *testing.T, h *harness) (root *model.User, activation *model.Activation) {
	t.Helper()
	ctx := context.Background()

	root = h.register(t, "root@example.com", nil)
	_, err := h.activations.AdminActivate(ctx, "admin", root.ID, "growth", dec("10000"))
	require.NoError(t, err)
	child := h.register(t, "child@example.com", root)
	h.fund(t, root.ID, "10000", "seed-root")

	h.save(t, settings.KeyFeatures, `{"referralIncomeEnabled": false}`)
	activation, err = h.activations.CreateSponsorActivation(ctx, root.ID, child.ID, "growth", dec("10000"))
	require.NoError(t, err)
	h.save(t, settings.KeyFeatures, `{"referralIncomeEnabled": true}`)

	a, err := repository.NewActivationRepository(h.pool).GetByID(ctx, activation.ID)
	require.NoError(t, err)
	require.Equal(t, model.ReferralFailed, a.ReferralStatus)
	assertDec(t, "0", h.balance(t, root.ID))
	return root, activation
}

func TestProcessAllPending_IsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root, _ := deferredActivation(t, h)

	first, err := h.referrals.ProcessAllPending(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Processed, "direct and level 1 income")
	assert.Equal(t, 0, first.Errors)
	assertDec(t, "700", h.balance(t, root.ID))

	second, err := h.referrals.ProcessAllPending(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, 0, second.Errors)

	forced, err := h.referrals.ProcessAllPending(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 0, forced.Processed)
	assert.Equal(t, 0, forced.Errors)
	assert.Equal(t, 2, forced.SkipReasons[referral.ReasonAlreadyProcessed])
	assert.Equal(t, 1, forced.SkipReasons[referral.ReasonNoUpline])

	assertDec(t, "700", h.balance(t, root.ID))
}

func TestProcessActivation_ConcurrentCallsCreditOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root, activation := deferredActivation(t, h)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = h.referrals.ProcessActivation(ctx, activation.ID)
			} else {
				_, err = h.referrals.ReprocessActivation(ctx, activation.ID, "admin")
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	dists, err := repository.NewDistributionRepository(h.pool).ListByActivation(ctx, activation.ID)
	require.NoError(t, err)
	assert.Len(t, dists, 2)

	assertDec(t, "700", h.balance(t, root.ID))
	sum, err := h.wallets.LedgerSum(ctx, root.ID)
	require.NoError(t, err)
	assertDec(t, "700", sum)

	u, err := h.users.GetByID(ctx, root.ID)
	require.NoError(t, err)
	assertDec(t, "700", u.CumulativeEligibleEarnings)
}

// capOvershoot activates a second direct of root while root sits at 19900
// of a 20000 cap, so both awards would overshoot it.
func capOvershoot(t *testing.T, h *harness) *model.User {
	t.Helper()
	ctx := context.Background()
	root, _, _ := sponsorTree(t, h)
	require.NoError(t, h.users.ApplyEarnings(ctx, root.ID, dec("19900"), model.CapActive, false))

	second := h.register(t, "second@example.com", root)
	a, err := h.activations.CreateSponsorActivation(ctx, root.ID, second.ID, "growth", dec("10000"))
	require.Error(t, err, "root only holds 700")
	assert.Nil(t, a)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	h.fund(t, root.ID, "10000", "seed-2")
	_, err = h.activations.CreateSponsorActivation(ctx, root.ID, second.ID, "growth", dec("10000"))
	require.NoError(t, err)

	assertDec(t, "700", h.balance(t, root.ID))
	r, err := h.users.GetByID(ctx, root.ID)
	require.NoError(t, err)
	assertDec(t, "19900", r.CumulativeEligibleEarnings)
	return r
}

func TestReferralIncome_CapStopsWholeCredit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	root := capOvershoot(t, h)
	assert.Equal(t, model.CapReached, root.CapStatus)
	assert.False(t, root.WithdrawalsBlocked, "STOP_EARNINGS leaves withdrawals open")

	_, applied, err := h.renewals.Renew(ctx, RenewInput{UserID: root.ID, Method: model.RenewalByAdmin, Reference: "after-cap"})
	require.NoError(t, err)
	assert.True(t, applied)

	u, err := h.users.GetByID(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CapActive, u.CapStatus)
	assertDec(t, "0", u.CumulativeEligibleEarnings)
}

func TestReferralIncome_StopBothBlocksWithdrawals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.save(t, settings.KeyPrograms, `{"capAction": "STOP_BOTH"}`)

	root := capOvershoot(t, h)
	assert.Equal(t, model.CapReached, root.CapStatus)
	assert.True(t, root.WithdrawalsBlocked)

	require.NoError(t, h.accounts.SetVerification(ctx, root.ID, model.KYCVerified, true))
	_, err := h.withdrawals.RequestWithdrawal(ctx, WithdrawalRequest{
		UserID: root.ID, Amount: dec("500"), Method: model.PayoutUPI,
		Details: model.PayoutDetails{UPIID: "root@upi"},
	})
	assert.ErrorIs(t, err, ErrCapReached)
}

func TestWithdrawal_RequestRejectRefund(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root, _, _ := sponsorTree(t, h)

	req := WithdrawalRequest{
		UserID:  root.ID,
		Amount:  dec("500"),
		Method:  model.PayoutBank,
		Details: model.PayoutDetails{AccountHolder: "Root", AccountNumber: "0012345678", IFSC: "HDFC0000001"},
	}

	_, err := h.withdrawals.RequestWithdrawal(ctx, req)
	assert.Equal(t, ReasonKYCRequired, reasonOf(t, err))

	require.NoError(t, h.accounts.SetVerification(ctx, root.ID, model.KYCVerified, true))
	w, err := h.withdrawals.RequestWithdrawal(ctx, req)
	require.NoError(t, err)
	assertDec(t, "50", w.FeeAmount)
	assertDec(t, "450", w.NetAmount)
	assertDec(t, "200", h.balance(t, root.ID))

	_, err = h.withdrawals.RequestWithdrawal(ctx, req)
	assert.Equal(t, ReasonCooldownActive, reasonOf(t, err))

	_, err = h.withdrawals.Review(ctx, w.ID, "admin")
	require.NoError(t, err)
	rejected, err := h.withdrawals.Reject(ctx, w.ID, "admin", "bank mismatch")
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalRejected, rejected.Status)
	assertDec(t, "700", h.balance(t, root.ID))

	_, err = h.withdrawals.Reject(ctx, w.ID, "admin", "again")
	assert.ErrorIs(t, err, repository.ErrInvalidTransition)
	_, err = h.withdrawals.MarkPaid(ctx, w.ID, "admin")
	assert.ErrorIs(t, err, repository.ErrInvalidTransition)
	assertDec(t, "700", h.balance(t, root.ID))
}

func TestWithdrawal_PaidKeepsDebit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root, _, _ := sponsorTree(t, h)
	require.NoError(t, h.accounts.SetVerification(ctx, root.ID, model.KYCVerified, true))

	w, err := h.withdrawals.RequestWithdrawal(ctx, WithdrawalRequest{
		UserID: root.ID, Amount: dec("600"), Method: model.PayoutUPI,
		Details: model.PayoutDetails{UPIID: "root@upi"},
	})
	require.NoError(t, err)
	_, err = h.withdrawals.Approve(ctx, w.ID, "admin")
	require.NoError(t, err)
	paid, err := h.withdrawals.MarkPaid(ctx, w.ID, "admin")
	require.NoError(t, err)
	assert.NotNil(t, paid.PaidAt)
	assertDec(t, "100", h.balance(t, root.ID))
}

func TestWithdrawal_CapBlockedBeforeBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root, _, _ := sponsorTree(t, h)
	require.NoError(t, h.accounts.SetVerification(ctx, root.ID, model.KYCVerified, true))
	require.NoError(t, h.users.ApplyEarnings(ctx, root.ID, dec("20000"), model.CapReached, true))

	_, err := h.withdrawals.RequestWithdrawal(ctx, WithdrawalRequest{
		UserID: root.ID, Amount: dec("5000"), Method: model.PayoutUPI,
		Details: model.PayoutDetails{UPIID: "root@upi"},
	})
	assert.ErrorIs(t, err, ErrCapReached)
}

func TestTransfer_ConservesMoney(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root, child, _ := sponsorTree(t, h)
	h.save(t, settings.KeyTransfers, `{"feeValue": 2}`)

	tr, err := h.transfers.CreateUserTransfer(ctx, root.ID, "CHILD@example.com", dec("500"), "welcome")
	require.NoError(t, err)
	assertDec(t, "10", tr.Fee)
	assertDec(t, "490", tr.NetAmount)
	assertDec(t, "200", h.balance(t, root.ID))
	assertDec(t, "490", h.balance(t, child.ID))

	_, err = h.transfers.CreateUserTransfer(ctx, child.ID, "root@example.com", dec("100000"), "")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assertDec(t, "490", h.balance(t, child.ID))

	_, err = h.transfers.CreateUserTransfer(ctx, child.ID, "root@example.com", dec("100"), "")
	require.NoError(t, err)
	_, err = h.transfers.CreateUserTransfer(ctx, root.ID, "child@example.com", dec("100"), "")
	assert.Equal(t, ReasonCooldownActive, reasonOf(t, err))

	_, err = h.transfers.CreateUserTransfer(ctx, root.ID, "root@example.com", dec("100"), "")
	assert.ErrorIs(t, err, ErrSelfTransfer)

	for _, id := range []string{root.ID, child.ID} {
		check, err := h.wallet.VerifyLedger(ctx, id)
		require.NoError(t, err)
		assert.True(t, check.Consistent)
	}
}

func TestRenew_IdempotentPerReference(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root, _, _ := sponsorTree(t, h)

	_, _, err := h.renewals.Renew(ctx, RenewInput{UserID: root.ID, Method: model.RenewalByAdmin, Reference: "r0"})
	assert.Equal(t, ReasonCapNotReached, reasonOf(t, err))

	require.NoError(t, h.users.ApplyEarnings(ctx, root.ID, dec("20000"), model.CapReached, true))

	rn, applied, err := h.renewals.Renew(ctx, RenewInput{UserID: root.ID, Method: model.RenewalByAdmin, Reference: "r1"})
	require.NoError(t, err)
	assert.True(t, applied)
	assertDec(t, "10000", rn.Amount)
	assertDec(t, "0", rn.NewBaseline)

	again, applied, err := h.renewals.Renew(ctx, RenewInput{UserID: root.ID, Method: model.RenewalByAdmin, Reference: "r1"})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, rn.ID, again.ID)

	u, err := h.users.GetByID(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CapActive, u.CapStatus)
	assert.False(t, u.WithdrawalsBlocked)
	assert.Equal(t, 1, u.RenewalCount)
	assertDec(t, "0", u.CumulativeEligibleEarnings)
	assertDec(t, "700", h.balance(t, root.ID))
}

func TestRenew_WalletChargesFee(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root, _, _ := sponsorTree(t, h)
	require.NoError(t, h.users.ApplyEarnings(ctx, root.ID, dec("20000"), model.CapReached, true))

	_, _, err := h.renewals.Renew(ctx, RenewInput{UserID: root.ID, Method: model.RenewalByWallet, Reference: "w1"})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	h.fund(t, root.ID, "9300", "top-up")
	_, applied, err := h.renewals.Renew(ctx, RenewInput{UserID: root.ID, Method: model.RenewalByWallet, Reference: "w1"})
	require.NoError(t, err)
	assert.True(t, applied)
	assertDec(t, "0", h.balance(t, root.ID))
}

func TestSyncWalletBalances_RepairsDrift(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root, child, _ := sponsorTree(t, h)
	extra := h.register(t, "extra@example.com", root)

	require.NoError(t, h.wallets.SetBalance(ctx, root.ID, dec("999")))
	_, err := h.pool.Exec(ctx, `DELETE FROM wallets WHERE user_id = $1`, extra.ID)
	require.NoError(t, err)

	report, err := h.wallet.SyncWalletBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Synced)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Skipped)
	assertDec(t, "700", h.balance(t, root.ID))
	assertDec(t, "0", h.balance(t, child.ID))

	again, err := h.wallet.SyncWalletBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Created+again.Updated)
}

func TestAutoBlockExpired_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stale := h.register(t, "stale@example.com", nil)
	fresh := h.register(t, "fresh@example.com", nil)
	_, err := h.pool.Exec(ctx, `UPDATE users SET created_at = $2 WHERE id = $1`, stale.ID, time.Now().Add(-200*time.Hour))
	require.NoError(t, err)

	n, err := h.accounts.AutoBlockExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = h.accounts.AutoBlockExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	u, err := h.users.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAutoBlocked, u.Status)
	u, err = h.users.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingActivation, u.Status)
}

func TestChangeUpline_RejectsCycles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root, child, _ := sponsorTree(t, h)

	err := h.accounts.ChangeUpline(ctx, root.ID, child.ID, "admin")
	assert.Equal(t, ReasonCircularUpline, reasonOf(t, err))
	err = h.accounts.ChangeUpline(ctx, root.ID, root.ID, "admin")
	assert.Equal(t, ReasonCircularUpline, reasonOf(t, err))

	other := h.register(t, "other@example.com", nil)
	require.NoError(t, h.accounts.ChangeUpline(ctx, child.ID, other.ID, "admin"))
	u, err := h.users.GetByID(ctx, child.ID)
	require.NoError(t, err)
	require.NotNil(t, u.ReferrerID)
	assert.Equal(t, other.ID, *u.ReferrerID)
}

func TestActivateFromGateway_PaymentRefOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, "gw@example.com", nil)

	a, created, err := h.activations.ActivateFromGateway(ctx, "pay_123", u.ID, "starter", dec("5000"))
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := h.activations.ActivateFromGateway(ctx, "pay_123", u.ID, "starter", dec("5000"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, a.ID, again.ID)

	_, err = h.activations.AdminActivate(ctx, "admin", u.ID, "starter", dec("5000"))
	assert.Equal(t, ReasonAlreadyActive, reasonOf(t, err))

	_, err = h.activations.AdminActivate(ctx, "admin", h.register(t, "p@example.com", nil).ID, "growth", dec("500"))
	assert.Equal(t, ReasonPlanAmountMismatch, reasonOf(t, err))
}
