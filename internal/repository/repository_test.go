package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlm-platform/internal/model"
	"mlm-platform/internal/pkg/db"
	"mlm-platform/internal/pkg/db/dbtest"
)

func createUser(t *testing.T, pool *pgxpool.Pool, referrerID *string) *model.User {
	t.Helper()
	ctx := context.Background()
	id := uuid.NewString()

	u, err := NewUserRepository(pool).Create(ctx, &model.User{
		ID:           id,
		Email:        id + "@example.com",
		Name:         "member",
		ReferralCode: id[:8],
		ReferrerID:   referrerID,
		Program:      model.ProgramInvestor,
	})
	require.NoError(t, err)

	_, err = NewWalletRepository(pool).Create(ctx, id)
	require.NoError(t, err)
	return u
}

func post(t *testing.T, pool *pgxpool.Pool, p Posting) (bool, error) {
	t.Helper()
	var applied bool
	err := db.NewTxManager(pool).WithTx(context.Background(), func(tx pgx.Tx) error {
		var err error
		_, applied, err = NewWalletRepository(pool).WithTx(tx).Post(context.Background(), p)
		return err
	})
	return applied, err
}

// ============================================================================
// UserRepository Tests
// ============================================================================

func TestUserRepository_CreateAndGet(t *testing.T) {
	pool := dbtest.Setup(t)
	repo := NewUserRepository(pool)
	ctx := context.Background()

	u := createUser(t, pool, nil)
	assert.Equal(t, model.StatusPendingActivation, u.Status)
	assert.Equal(t, model.CapActive, u.CapStatus)
	assert.True(t, u.CumulativeEligibleEarnings.IsZero())

	got, err := repo.GetByReferralCode(ctx, u.ReferralCode)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	got, err = repo.GetByEmail(ctx, u.Email)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = repo.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = repo.Create(ctx, &model.User{
		ID: uuid.NewString(), Email: u.Email, ReferralCode: "other", Program: model.ProgramInvestor,
	})
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = repo.Create(ctx, &model.User{
		ID: u.ID, Email: "second@example.com", ReferralCode: "another", Program: model.ProgramInvestor,
	})
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestUserRepository_ActivateOnlyFromPending(t *testing.T) {
	pool := dbtest.Setup(t)
	repo := NewUserRepository(pool)
	ctx := context.Background()

	u := createUser(t, pool, nil)

	activated, err := repo.Activate(ctx, u.ID, model.ProgramInvestor, decimal.NewFromInt(10000), time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.StatusActiveInvestor, activated.Status)
	assert.True(t, activated.ActivationAmount.Equal(decimal.NewFromInt(10000)))
	require.NotNil(t, activated.ActivatedAt)

	_, err = repo.Activate(ctx, u.ID, model.ProgramInvestor, decimal.NewFromInt(10000), time.Now())
	assert.ErrorIs(t, err, ErrStatusConflict)
}

func TestUserRepository_UplineWithDirectCounts(t *testing.T) {
	pool := dbtest.Setup(t)
	repo := NewUserRepository(pool)
	ctx := context.Background()

	root := createUser(t, pool, nil)
	mid := createUser(t, pool, &root.ID)
	leaf := createUser(t, pool, &mid.ID)
	_ = createUser(t, pool, &root.ID)

	_, err := repo.Activate(ctx, mid.ID, model.ProgramInvestor, decimal.NewFromInt(1000), time.Now())
	require.NoError(t, err)

	chain, err := repo.Upline(ctx, leaf.ID, 50)
	require.NoError(t, err)
	require.Len(t, chain, 2)

	assert.Equal(t, mid.ID, chain[0].ID)
	assert.Equal(t, 1, chain[0].Depth)
	assert.Equal(t, 1, chain[0].TotalDirects)
	assert.Equal(t, 0, chain[0].ActiveDirects)

	assert.Equal(t, root.ID, chain[1].ID)
	assert.Equal(t, 2, chain[1].TotalDirects)
	assert.Equal(t, 1, chain[1].ActiveDirects)

	in, err := repo.InUpline(ctx, leaf.ID, root.ID, 50)
	require.NoError(t, err)
	assert.True(t, in)

	chain, err = repo.Upline(ctx, leaf.ID, 1)
	require.NoError(t, err)
	assert.Len(t, chain, 1)
}

func TestUserRepository_UplineTerminatesOnCycle(t *testing.T) {
	pool := dbtest.Setup(t)
	repo := NewUserRepository(pool)
	ctx := context.Background()

	a := createUser(t, pool, nil)
	b := createUser(t, pool, &a.ID)
	require.NoError(t, repo.SetReferrer(ctx, a.ID, &b.ID))

	chain, err := repo.Upline(ctx, a.ID, 5)
	require.NoError(t, err)
	assert.Len(t, chain, 5)
}

func TestUserRepository_AutoBlockExpired(t *testing.T) {
	pool := dbtest.Setup(t)
	repo := NewUserRepository(pool)
	ctx := context.Background()

	stale := createUser(t, pool, nil)
	fresh := createUser(t, pool, nil)
	_, err := pool.Exec(ctx, `UPDATE users SET created_at = NOW() - INTERVAL '10 days' WHERE id = $1`, stale.ID)
	require.NoError(t, err)

	cutoff := time.Now().Add(-168 * time.Hour)
	ids, err := repo.AutoBlockExpired(ctx, cutoff, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{stale.ID}, ids)

	ids, err = repo.AutoBlockExpired(ctx, cutoff, 100)
	require.NoError(t, err)
	assert.Empty(t, ids)

	got, err := repo.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingActivation, got.Status)
}

// ============================================================================
// WalletRepository Tests
// ============================================================================

func TestWalletRepository_PostIsIdempotent(t *testing.T) {
	pool := dbtest.Setup(t)
	wallets := NewWalletRepository(pool)
	ctx := context.Background()

	u := createUser(t, pool, nil)
	p := Posting{
		UserID:     u.ID,
		Direction:  model.Credit,
		Amount:     decimal.NewFromInt(500),
		SourceType: model.SourceReferralDirect,
		SourceID:   "act-1:0",
	}

	applied, err := post(t, pool, p)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = post(t, pool, p)
	require.NoError(t, err)
	assert.False(t, applied)

	w, err := wallets.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, w.AvailableBalance.Equal(decimal.NewFromInt(500)))

	entries, err := wallets.ListEntries(ctx, u.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].BalanceAfter.Equal(decimal.NewFromInt(500)))
}

func TestWalletRepository_DebitRejectsOverdraft(t *testing.T) {
	pool := dbtest.Setup(t)
	ctx := context.Background()

	u := createUser(t, pool, nil)
	_, err := post(t, pool, Posting{UserID: u.ID, Direction: model.Credit, Amount: decimal.NewFromInt(100),
		SourceType: model.SourceAdminAdjustment, SourceID: "seed"})
	require.NoError(t, err)

	_, err = post(t, pool, Posting{UserID: u.ID, Direction: model.Debit, Amount: decimal.NewFromInt(101),
		SourceType: model.SourceWithdrawal, SourceID: "w-1"})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = post(t, pool, Posting{UserID: u.ID, Direction: model.Debit, Amount: decimal.Zero,
		SourceType: model.SourceWithdrawal, SourceID: "w-2"})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	sum, err := NewWalletRepository(pool).LedgerSum(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(100)))
}

// TestWalletRepository_ConcurrentPostsKeepLedgerInvariant fires concurrent
// credits and debits, some replayed, and checks balance == ledger sum >= 0.
func TestWalletRepository_ConcurrentPostsKeepLedgerInvariant(t *testing.T) {
	pool := dbtest.Setup(t)
	ctx := context.Background()

	u := createUser(t, pool, nil)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := Posting{UserID: u.ID, Amount: decimal.NewFromInt(10)}
			if i%2 == 0 {
				p.Direction = model.Credit
				p.SourceType = model.SourceReferralLevel
				p.SourceID = fmt.Sprintf("credit-%d", i%10)
			} else {
				p.Direction = model.Debit
				p.SourceType = model.SourceTransferOut
				p.SourceID = fmt.Sprintf("debit-%d", i)
			}
			_, _ = post(t, pool, p)
		}(i)
	}
	wg.Wait()

	w, err := NewWalletRepository(pool).Get(ctx, u.ID)
	require.NoError(t, err)
	sum, err := NewWalletRepository(pool).LedgerSum(ctx, u.ID)
	require.NoError(t, err)

	assert.True(t, w.AvailableBalance.Equal(sum), "balance %s ledger %s", w.AvailableBalance, sum)
	assert.False(t, w.AvailableBalance.IsNegative())
}

// ============================================================================
// Activation / Distribution Tests
// ============================================================================

func TestDistributionRepository_TripleIsUnique(t *testing.T) {
	pool := dbtest.Setup(t)
	ctx := context.Background()

	sponsor := createUser(t, pool, nil)
	member := createUser(t, pool, &sponsor.ID)

	act, err := NewActivationRepository(pool).Create(ctx, &model.Activation{
		ID: uuid.NewString(), UserID: member.ID, PlanID: "growth", Program: model.ProgramInvestor,
		Amount: decimal.NewFromInt(10000), FundedBy: model.FundedByAdmin, ReferralStatus: model.ReferralPending,
	})
	require.NoError(t, err)

	repo := NewDistributionRepository(pool)
	d := &model.Distribution{ActivationID: act.ID, BeneficiaryID: sponsor.ID, Level: 0,
		IncomeType: model.SourceReferralDirect, Percent: decimal.NewFromInt(5), Amount: decimal.NewFromInt(500)}

	inserted, err := repo.Insert(ctx, d)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := *d
	inserted, err = repo.Insert(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	level1 := *d
	level1.Level = 1
	level1.IncomeType = model.SourceReferralLevel
	inserted, err = repo.Insert(ctx, &level1)
	require.NoError(t, err)
	assert.True(t, inserted)

	list, err := repo.ListByActivation(ctx, act.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestActivationRepository_PaymentRefAndKeyset(t *testing.T) {
	pool := dbtest.Setup(t)
	repo := NewActivationRepository(pool)
	ctx := context.Background()

	u := createUser(t, pool, nil)
	ref := "pay_123"

	for i := 0; i < 5; i++ {
		a := &model.Activation{ID: uuid.NewString(), UserID: u.ID, PlanID: "starter", Program: model.ProgramInvestor,
			Amount: decimal.NewFromInt(1000), FundedBy: model.FundedByAdmin, ReferralStatus: model.ReferralPending}
		if i == 0 {
			a.PaymentRef = &ref
			a.FundedBy = model.FundedByGateway
		}
		_, err := repo.Create(ctx, a)
		require.NoError(t, err)
	}

	_, err := repo.Create(ctx, &model.Activation{ID: uuid.NewString(), UserID: u.ID, PlanID: "starter",
		Program: model.ProgramInvestor, Amount: decimal.NewFromInt(1000), FundedBy: model.FundedByGateway,
		PaymentRef: &ref, ReferralStatus: model.ReferralPending})
	assert.ErrorIs(t, err, ErrPaymentRefUsed)

	var seen int
	cursor := Cursor{}
	for {
		page, err := repo.ListForProcessing(ctx, []model.ReferralStatus{model.ReferralPending}, cursor, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		seen += len(page)
		last := page[len(page)-1]
		cursor = Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	assert.Equal(t, 5, seen)
}

// ============================================================================
// Withdrawal / Renewal / Settings Tests
// ============================================================================

func TestWithdrawalRepository_ConditionalTransitions(t *testing.T) {
	pool := dbtest.Setup(t)
	repo := NewWithdrawalRepository(pool)
	ctx := context.Background()

	u := createUser(t, pool, nil)
	w, err := repo.Create(ctx, &model.Withdrawal{
		ID: uuid.NewString(), UserID: u.ID,
		GrossAmount: decimal.NewFromInt(1000), FeeAmount: decimal.NewFromInt(100), NetAmount: decimal.NewFromInt(900),
		FeeType: model.FeePercent, Method: model.PayoutUPI, PayoutDetails: model.PayoutDetails{UPIID: "a@upi"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalRequested, w.Status)
	assert.Equal(t, "a@upi", w.PayoutDetails.UPIID)

	from := []model.WithdrawalStatus{model.WithdrawalRequested}
	w, err = repo.Transition(ctx, w.ID, from, model.WithdrawalUnderReview, "admin-1", nil)
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalUnderReview, w.Status)

	_, err = repo.Transition(ctx, w.ID, from, model.WithdrawalUnderReview, "admin-1", nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = repo.Transition(ctx, uuid.NewString(), from, model.WithdrawalUnderReview, "admin-1", nil)
	assert.ErrorIs(t, err, ErrWithdrawalNotFound)

	n, err := repo.CountSince(ctx, u.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRenewalRepository_ReferenceIsIdempotent(t *testing.T) {
	pool := dbtest.Setup(t)
	repo := NewRenewalRepository(pool)
	ctx := context.Background()

	u := createUser(t, pool, nil)
	rn := &model.Renewal{ID: uuid.NewString(), UserID: u.ID, Method: model.RenewalByAdmin, Reference: "r-1",
		PreviousEarnings: decimal.NewFromInt(2000), NewBaseline: decimal.Zero}

	inserted, err := repo.Create(ctx, rn)
	require.NoError(t, err)
	assert.True(t, inserted)

	again := *rn
	again.ID = uuid.NewString()
	inserted, err = repo.Create(ctx, &again)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestSettingsRepository_PutAndGet(t *testing.T) {
	pool := dbtest.Setup(t)
	repo := NewSettingsRepository(pool)
	ctx := context.Background()

	_, err := repo.Get(ctx, "features")
	assert.ErrorIs(t, err, ErrSettingNotFound)

	require.NoError(t, repo.Put(ctx, "features", []byte(`{"transfersEnabled": false}`), "admin"))
	require.NoError(t, repo.Put(ctx, "features", []byte(`{"transfersEnabled": true}`), "admin"))

	docs, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"transfersEnabled": true}`, string(docs["features"]))
}
