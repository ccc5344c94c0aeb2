package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"mlm-platform/internal/model"
	"mlm-platform/internal/pkg/db"
	"mlm-platform/internal/pkg/events"
	"mlm-platform/internal/pkg/metrics"
	"mlm-platform/internal/repository"
	"mlm-platform/internal/settings"
)

// WithdrawalRequest is a member's payout request.
type WithdrawalRequest struct {
	UserID  string
	Amount  decimal.Decimal
	Method  model.PayoutMethod
	Details model.PayoutDetails
}

// WithdrawalService validates payout requests and drives their review.
type WithdrawalService struct {
	tx          *db.TxManager
	settings    *SettingsService
	users       *repository.UserRepository
	wallets     *repository.WalletRepository
	withdrawals *repository.WithdrawalRepository
	publisher   events.Publisher
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewWithdrawalService creates a new WithdrawalService instance.
func NewWithdrawalService(
	tx *db.TxManager,
	settingsSvc *SettingsService,
	users *repository.UserRepository,
	wallets *repository.WalletRepository,
	withdrawals *repository.WithdrawalRepository,
	publisher events.Publisher,
	m *metrics.Metrics,
) *WithdrawalService {
	return &WithdrawalService{
		tx:          tx,
		settings:    settingsSvc,
		users:       users,
		wallets:     wallets,
		withdrawals: withdrawals,
		publisher:   publisher,
		metrics:     m,
		now:         time.Now,
	}
}

// checkRequest runs the checks that need no database access.
func checkRequest(req WithdrawalRequest, snap *settings.Snapshot) error {
	cfg := snap.Withdrawals
	if !snap.Features.WithdrawalsEnabled {
		return ErrFeatureDisabled
	}
	if !req.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if req.Amount.LessThan(cfg.MinWithdrawal) {
		return invalidf(ReasonAmountBelowMinimum, "minimum is "+cfg.MinWithdrawal.String())
	}
	if cfg.MaxWithdrawal.IsPositive() && req.Amount.GreaterThan(cfg.MaxWithdrawal) {
		return invalidf(ReasonAmountAboveMaximum, "maximum is "+cfg.MaxWithdrawal.String())
	}
	if !cfg.AllowsMethod(req.Method) {
		return invalid(ReasonMethodNotAllowed)
	}
	if !PayoutDetailsComplete(req.Method, req.Details) {
		return invalid(ReasonPayoutDetailsIncomplete)
	}
	return nil
}

// checkMember runs the checks on the (locked) member row.
func checkMember(u *model.User, method model.PayoutMethod, snap *settings.Snapshot, now time.Time) error {
	cfg := snap.Withdrawals
	if !u.Status.IsActive() {
		return invalid(ReasonUserNotActive)
	}
	if u.WithdrawalsBlocked {
		return ErrCapReached
	}
	if cfg.RequireKYC && u.KYCStatus != model.KYCVerified {
		return invalid(ReasonKYCRequired)
	}
	if cfg.RequireBankVerified && method == model.PayoutBank && !u.BankVerified {
		return invalid(ReasonBankNotVerified)
	}
	if !snap.Payouts.InWindow(now) {
		return invalid(ReasonOutsidePayoutWindow)
	}
	return nil
}

// checkFrequency enforces the cooldown and the rolling day/week/month limits.
func (s *WithdrawalService) checkFrequency(ctx context.Context, repo *repository.WithdrawalRepository, userID string, cfg settings.Withdrawals, now time.Time) error {
	if cfg.CooldownMinutes > 0 {
		last, err := repo.LastRequestedAt(ctx, userID)
		if err != nil {
			return err
		}
		if last != nil && now.Sub(*last) < time.Duration(cfg.CooldownMinutes)*time.Minute {
			return invalid(ReasonCooldownActive)
		}
	}

	limits := []struct {
		max    int
		window time.Duration
		reason string
	}{
		{cfg.MaxPerDay, 24 * time.Hour, ReasonDailyLimit},
		{cfg.MaxPerWeek, 7 * 24 * time.Hour, ReasonWeeklyLimit},
		{cfg.MaxPerMonth, 30 * 24 * time.Hour, ReasonMonthlyLimit},
	}
	for _, l := range limits {
		if l.max <= 0 {
			continue
		}
		n, err := repo.CountSince(ctx, userID, now.Add(-l.window))
		if err != nil {
			return err
		}
		if n >= l.max {
			return invalid(l.reason)
		}
	}
	return nil
}

// RequestWithdrawal validates a payout request and debits the gross amount.
// The fee is retained and the net amount is paid out once approved.
func (s *WithdrawalService) RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (*model.Withdrawal, error) {
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkRequest(req, snap); err != nil {
		return nil, err
	}

	now := s.now()
	fee, net := WithdrawalFee(req.Amount, snap.Withdrawals)

	var (
		out outbox
		w   *model.Withdrawal
	)
	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		out.events = nil
		repo := s.withdrawals.WithTx(tx)

		u, err := s.users.WithTx(tx).GetByIDForUpdate(ctx, req.UserID)
		if err != nil {
			return err
		}
		if err := checkMember(u, req.Method, snap, now); err != nil {
			return err
		}
		if err := s.checkFrequency(ctx, repo, u.ID, snap.Withdrawals, now); err != nil {
			return err
		}

		w, err = repo.Create(ctx, &model.Withdrawal{
			ID:            uuid.NewString(),
			UserID:        u.ID,
			GrossAmount:   req.Amount,
			FeeAmount:     fee,
			NetAmount:     net,
			FeeType:       snap.Withdrawals.FeeType,
			Method:        req.Method,
			PayoutDetails: req.Details,
		})
		if err != nil {
			return err
		}

		_, _, err = out.post(ctx, s.wallets.WithTx(tx), repository.Posting{
			UserID:      u.ID,
			Direction:   model.Debit,
			Amount:      w.GrossAmount,
			SourceType:  model.SourceWithdrawal,
			SourceID:    w.ID,
			Description: fmt.Sprintf("Withdrawal via %s (fee %s)", w.Method, w.FeeAmount),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	out.add(events.WithdrawalChanged(w.UserID, w.ID, string(w.Status), w.GrossAmount))
	out.flush(ctx, s.publisher, s.metrics)
	s.metrics.RecordWithdrawal(string(w.Status))

	log.Info().
		Str("withdrawal_id", w.ID).
		Str("user_id", w.UserID).
		Str("gross", w.GrossAmount.String()).
		Str("fee", w.FeeAmount.String()).
		Str("net", w.NetAmount.String()).
		Msg("Withdrawal requested")
	return w, nil
}

// Review moves a requested withdrawal to under_review.
func (s *WithdrawalService) Review(ctx context.Context, id, adminID string) (*model.Withdrawal, error) {
	return s.transition(ctx, id, []model.WithdrawalStatus{model.WithdrawalRequested}, model.WithdrawalUnderReview, adminID, nil)
}

// Approve accepts a withdrawal for payout.
func (s *WithdrawalService) Approve(ctx context.Context, id, adminID string) (*model.Withdrawal, error) {
	return s.transition(ctx, id,
		[]model.WithdrawalStatus{model.WithdrawalRequested, model.WithdrawalUnderReview},
		model.WithdrawalApproved, adminID, nil)
}

// MarkPaid records that the net amount was disbursed.
func (s *WithdrawalService) MarkPaid(ctx context.Context, id, adminID string) (*model.Withdrawal, error) {
	return s.transition(ctx, id, []model.WithdrawalStatus{model.WithdrawalApproved}, model.WithdrawalPaid, adminID, nil)
}

// Reject declines a withdrawal that has not been paid and refunds the gross
// amount in the same transaction.
func (s *WithdrawalService) Reject(ctx context.Context, id, adminID, reason string) (*model.Withdrawal, error) {
	var why *string
	if reason != "" {
		why = &reason
	}
	return s.transition(ctx, id,
		[]model.WithdrawalStatus{model.WithdrawalRequested, model.WithdrawalUnderReview, model.WithdrawalApproved},
		model.WithdrawalRejected, adminID, why)
}

func (s *WithdrawalService) transition(ctx context.Context, id string, from []model.WithdrawalStatus, to model.WithdrawalStatus, adminID string, reason *string) (*model.Withdrawal, error) {
	var (
		out outbox
		w   *model.Withdrawal
	)
	err := s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		out.events = nil
		var err error
		w, err = s.withdrawals.WithTx(tx).Transition(ctx, id, from, to, adminID, reason)
		if err != nil {
			return err
		}
		if to != model.WithdrawalRejected {
			return nil
		}
		desc := "Withdrawal rejected"
		if reason != nil {
			desc += ": " + *reason
		}
		_, _, err = out.post(ctx, s.wallets.WithTx(tx), repository.Posting{
			UserID:      w.UserID,
			Direction:   model.Credit,
			Amount:      w.GrossAmount,
			SourceType:  model.SourceWithdrawalRefund,
			SourceID:    w.ID,
			Description: desc,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	out.add(events.WithdrawalChanged(w.UserID, w.ID, string(w.Status), w.GrossAmount))
	out.flush(ctx, s.publisher, s.metrics)
	s.metrics.RecordWithdrawal(string(w.Status))

	log.Info().
		Str("withdrawal_id", w.ID).
		Str("status", string(w.Status)).
		Str("admin_id", adminID).
		Msg("Withdrawal status changed")
	return w, nil
}

// Get returns a withdrawal.
func (s *WithdrawalService) Get(ctx context.Context, id string) (*model.Withdrawal, error) {
	return s.withdrawals.GetByID(ctx, id)
}

// ListByUser returns a member's recent withdrawals.
func (s *WithdrawalService) ListByUser(ctx context.Context, userID string, limit int) ([]*model.Withdrawal, error) {
	return s.withdrawals.ListByUser(ctx, userID, clampLimit(limit))
}

// ListByStatus returns the review queue for a status.
func (s *WithdrawalService) ListByStatus(ctx context.Context, status model.WithdrawalStatus, limit int) ([]*model.Withdrawal, error) {
	return s.withdrawals.ListByStatus(ctx, status, clampLimit(limit))
}
