package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"mlm-platform/internal/model"
	"mlm-platform/internal/settings"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestWithdrawalFee_PercentOfGross(t *testing.T) {
	cfg := settings.Defaults().Withdrawals

	fee, net := WithdrawalFee(dec("1000"), cfg)
	assert.True(t, fee.Equal(dec("100")), "fee %s", fee)
	assert.True(t, net.Equal(dec("900")), "net %s", net)
}

func TestWithdrawalFee_FlatNeverExceedsGross(t *testing.T) {
	cfg := settings.Defaults().Withdrawals
	cfg.FeeType = model.FeeFlat
	cfg.FlatFee = dec("75")

	fee, net := WithdrawalFee(dec("50"), cfg)
	assert.True(t, fee.Equal(dec("50")))
	assert.True(t, net.IsZero())

	fee, net = WithdrawalFee(dec("500"), cfg)
	assert.True(t, fee.Equal(dec("75")))
	assert.True(t, net.Equal(dec("425")))
}

// TestFeeSplitConservesGrossProperty checks gross = net + fee, 0 <= fee <= gross
// and paise precision for any amount and percent.
func TestFeeSplitConservesGrossProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		paise := rapid.Int64Range(1, 100_000_000).Draw(t, "paise")
		pct := rapid.IntRange(0, 100).Draw(t, "percent")
		flat := rapid.Int64Range(0, 10_000).Draw(t, "flat")
		feeType := rapid.SampledFrom([]model.FeeType{model.FeePercent, model.FeeFlat}).Draw(t, "feeType")

		gross := decimal.New(paise, -2)
		fee, net := splitFee(gross, feeType, decimal.NewFromInt(int64(pct)), decimal.NewFromInt(flat))

		if !net.Add(fee).Equal(gross) {
			t.Fatalf("gross %s != net %s + fee %s", gross, net, fee)
		}
		if fee.IsNegative() || fee.GreaterThan(gross) {
			t.Fatalf("fee %s outside [0, %s]", fee, gross)
		}
		if !fee.Equal(fee.Round(2)) {
			t.Fatalf("fee %s has sub-paise precision", fee)
		}
	})
}

// TestTransferConservationProperty checks that the sender debit equals the
// recipient credit plus the platform fee.
func TestTransferConservationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := settings.Defaults().Transfers
		cfg.FeeValue = decimal.NewFromInt(int64(rapid.IntRange(0, 50).Draw(t, "fee")))
		amount := decimal.New(rapid.Int64Range(100, 10_000_000).Draw(t, "paise"), -2)

		fee, net := TransferFee(amount, cfg)
		if !amount.Equal(net.Add(fee)) {
			t.Fatalf("debit %s != credit %s + fee %s", amount, net, fee)
		}
	})
}

func TestPayoutDetailsComplete(t *testing.T) {
	bank := model.PayoutDetails{AccountHolder: "A Member", AccountNumber: "0012345678", IFSC: "HDFC0000001"}
	assert.True(t, PayoutDetailsComplete(model.PayoutBank, bank))
	assert.False(t, PayoutDetailsComplete(model.PayoutUPI, bank))

	bank.IFSC = "  "
	assert.False(t, PayoutDetailsComplete(model.PayoutBank, bank))
	assert.True(t, PayoutDetailsComplete(model.PayoutUPI, model.PayoutDetails{UPIID: "member@upi"}))
	assert.False(t, PayoutDetailsComplete("cheque", model.PayoutDetails{UPIID: "member@upi"}))
}

func reasonOf(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	reason, ok := ReasonOf(err)
	require.True(t, ok, "unexpected error %v", err)
	return reason
}

func TestCheckRequest_Order(t *testing.T) {
	snap := settings.Defaults()
	upi := model.PayoutDetails{UPIID: "member@upi"}

	tests := []struct {
		name   string
		mutate func(*settings.Snapshot)
		req    WithdrawalRequest
		want   string
	}{
		{"disabled beats everything", func(s *settings.Snapshot) { s.Features.WithdrawalsEnabled = false },
			WithdrawalRequest{Amount: dec("-1")}, ReasonFeatureDisabled},
		{"non-positive amount", nil, WithdrawalRequest{Amount: dec("0"), Method: model.PayoutUPI, Details: upi}, ReasonInvalidAmount},
		{"below minimum", nil, WithdrawalRequest{Amount: dec("499.99"), Method: "cheque"}, ReasonAmountBelowMinimum},
		{"above maximum", nil, WithdrawalRequest{Amount: dec("50000.01"), Method: model.PayoutUPI, Details: upi}, ReasonAmountAboveMaximum},
		{"method", nil, WithdrawalRequest{Amount: dec("500"), Method: "cheque"}, ReasonMethodNotAllowed},
		{"details", nil, WithdrawalRequest{Amount: dec("500"), Method: model.PayoutBank, Details: upi}, ReasonPayoutDetailsIncomplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := snap
			if tt.mutate != nil {
				tt.mutate(&s)
			}
			assert.Equal(t, tt.want, reasonOf(t, checkRequest(tt.req, &s)))
		})
	}

	s := snap
	assert.NoError(t, checkRequest(WithdrawalRequest{Amount: dec("500"), Method: model.PayoutUPI, Details: upi}, &s))
}

func TestCheckMember_Order(t *testing.T) {
	snap := settings.Defaults()
	now := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	member := func() *model.User {
		return &model.User{
			Status:       model.StatusActiveInvestor,
			KYCStatus:    model.KYCVerified,
			BankVerified: true,
		}
	}

	u := member()
	u.Status = model.StatusBlocked
	u.WithdrawalsBlocked = true
	assert.Equal(t, ReasonUserNotActive, reasonOf(t, checkMember(u, model.PayoutBank, &snap, now)))

	u = member()
	u.WithdrawalsBlocked = true
	u.KYCStatus = model.KYCNone
	err := checkMember(u, model.PayoutBank, &snap, now)
	assert.ErrorIs(t, err, ErrCapReached)
	assert.Equal(t, ReasonCapReached, reasonOf(t, err))

	u = member()
	u.KYCStatus = model.KYCPending
	assert.Equal(t, ReasonKYCRequired, reasonOf(t, checkMember(u, model.PayoutBank, &snap, now)))

	u = member()
	u.BankVerified = false
	assert.Equal(t, ReasonBankNotVerified, reasonOf(t, checkMember(u, model.PayoutBank, &snap, now)))
	assert.NoError(t, checkMember(u, model.PayoutUPI, &snap, now))

	closed := snap
	closed.Payouts.AllowedWeekdays = []string{"monday"}
	assert.Equal(t, ReasonOutsidePayoutWindow, reasonOf(t, checkMember(member(), model.PayoutBank, &closed, now)))
}

func TestReasonOf_DistinctKinds(t *testing.T) {
	funds, _ := ReasonOf(ErrInsufficientFunds)
	capped, _ := ReasonOf(ErrCapReached)
	assert.Equal(t, ReasonInsufficientFunds, funds)
	assert.Equal(t, ReasonCapReached, capped)
	assert.NotEqual(t, funds, capped)

	_, ok := ReasonOf(errors.New("boom"))
	assert.False(t, ok)
}

type memoryStore struct {
	docs map[string][]byte
}

func (m *memoryStore) GetAll(context.Context) (map[string][]byte, error) {
	out := make(map[string][]byte, len(m.docs))
	for k, v := range m.docs {
		out[k] = v
	}
	return out, nil
}

func (m *memoryStore) Put(_ context.Context, key string, value []byte, _ string) error {
	m.docs[key] = value
	return nil
}

func TestSettingsService_SaveMergesAndValidates(t *testing.T) {
	store := &memoryStore{docs: map[string][]byte{}}
	svc := NewSettingsService(store)
	ctx := context.Background()

	_, err := svc.Save(ctx, settings.KeyWithdrawals, []byte(`{"minWithdrawal": 1000}`), "admin")
	require.NoError(t, err)

	snap, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Withdrawals.MinWithdrawal.Equal(dec("1000")))
	assert.True(t, snap.Withdrawals.AdminChargesPercent.Equal(dec("10")), "untouched fields keep defaults")

	_, err = svc.Save(ctx, settings.KeyReferralIncome,
		[]byte(`{"levels":[{"levelFrom":1,"levelTo":23,"percent":5}]}`), "admin")
	assert.Equal(t, ReasonInvalidSettings, reasonOf(t, err))
	assert.NotContains(t, store.docs, settings.KeyReferralIncome)

	_, err = svc.Save(ctx, "siteSettings", []byte(`{}`), "admin")
	assert.Equal(t, ReasonInvalidInput, reasonOf(t, err))
}
