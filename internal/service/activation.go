package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
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

// activationRequest describes a package purchase for one member.
type activationRequest struct {
	UserID     string
	PlanID     string
	Amount     decimal.Decimal
	FundedBy   model.FundingSource
	PayerID    *string
	PaymentRef *string
}

// ActivationService turns pending members into active ones and records the
// funded package that drives referral income.
type ActivationService struct {
	tx          *db.TxManager
	settings    *SettingsService
	users       *repository.UserRepository
	wallets     *repository.WalletRepository
	activations *repository.ActivationRepository
	referrals   *ReferralService
	publisher   events.Publisher
	metrics     *metrics.Metrics
}

// NewActivationService creates a new ActivationService instance.
func NewActivationService(
	tx *db.TxManager,
	settingsSvc *SettingsService,
	users *repository.UserRepository,
	wallets *repository.WalletRepository,
	activations *repository.ActivationRepository,
	referrals *ReferralService,
	publisher events.Publisher,
	m *metrics.Metrics,
) *ActivationService {
	return &ActivationService{
		tx:          tx,
		settings:    settingsSvc,
		users:       users,
		wallets:     wallets,
		activations: activations,
		referrals:   referrals,
		publisher:   publisher,
		metrics:     m,
	}
}

// CreateSponsorActivation lets an active member pay for a pending member's
// package from their own wallet.
func (s *ActivationService) CreateSponsorActivation(ctx context.Context, sponsorID, targetID, planID string, amount decimal.Decimal) (*model.Activation, error) {
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if !snap.Features.SponsorActivationEnabled {
		return nil, ErrFeatureDisabled
	}
	if sponsorID == targetID {
		return nil, invalid(ReasonSelfSponsor)
	}

	sponsor, err := s.users.GetByID(ctx, sponsorID)
	if err != nil {
		return nil, err
	}
	if !sponsor.Status.IsActive() {
		return nil, invalid(ReasonSponsorNotActive)
	}
	if snap.Programs.SponsorMustBeUpline {
		hops := max(snap.ReferralIncome.CircularCheckHops, snap.ReferralIncome.MaxLevels)
		ok, err := s.users.InUpline(ctx, targetID, sponsorID, hops)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, invalid(ReasonSponsorNotUpline)
		}
	}

	return s.activate(ctx, snap, activationRequest{
		UserID:   targetID,
		PlanID:   planID,
		Amount:   amount,
		FundedBy: model.FundedBySponsor,
		PayerID:  &sponsorID,
	})
}

// ActivateFromWallet activates a member with funds from their own wallet.
func (s *ActivationService) ActivateFromWallet(ctx context.Context, userID, planID string, amount decimal.Decimal) (*model.Activation, error) {
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.activate(ctx, snap, activationRequest{
		UserID:   userID,
		PlanID:   planID,
		Amount:   amount,
		FundedBy: model.FundedByWallet,
		PayerID:  &userID,
	})
}

// ActivateFromGateway records a captured gateway payment. A payment
// reference is used at most once: replays return the original activation.
func (s *ActivationService) ActivateFromGateway(ctx context.Context, paymentRef, userID, planID string, amount decimal.Decimal) (*model.Activation, bool, error) {
	paymentRef = strings.TrimSpace(paymentRef)
	if paymentRef == "" {
		return nil, false, invalid(ReasonMissingReference)
	}
	if existing, err := s.activations.GetByPaymentRef(ctx, paymentRef); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, repository.ErrActivationNotFound) {
		return nil, false, err
	}

	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, false, err
	}
	a, err := s.activate(ctx, snap, activationRequest{
		UserID:     userID,
		PlanID:     planID,
		Amount:     amount,
		FundedBy:   model.FundedByGateway,
		PaymentRef: &paymentRef,
	})
	if errors.Is(err, repository.ErrPaymentRefUsed) {
		existing, getErr := s.activations.GetByPaymentRef(ctx, paymentRef)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return a, true, nil
}

// AdminActivate activates a member without charging anyone.
func (s *ActivationService) AdminActivate(ctx context.Context, adminID, userID, planID string, amount decimal.Decimal) (*model.Activation, error) {
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	a, err := s.activate(ctx, snap, activationRequest{
		UserID:   userID,
		PlanID:   planID,
		Amount:   amount,
		FundedBy: model.FundedByAdmin,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("activation_id", a.ID).Str("admin_id", adminID).Msg("Member activated by admin")
	return a, nil
}

// ListByUser returns a member's activations.
func (s *ActivationService) ListByUser(ctx context.Context, userID string) ([]*model.Activation, error) {
	return s.activations.ListByUser(ctx, userID)
}

func (s *ActivationService) activate(ctx context.Context, snap *settings.Snapshot, req activationRequest) (*model.Activation, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	plan, ok := snap.Programs.Plan(req.PlanID)
	if !ok {
		return nil, invalid(ReasonUnknownPlan)
	}
	if !plan.Accepts(req.Amount) {
		return nil, invalid(ReasonPlanAmountMismatch)
	}

	referralStatus := model.ReferralPending
	if plan.Program == model.ProgramLeader {
		referralStatus = model.ReferralNotApplicable
	}

	var (
		out        outbox
		activation *model.Activation
	)
	err := s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		out.events = nil
		users := s.users.WithTx(tx)

		target, err := users.GetByIDForUpdate(ctx, req.UserID)
		if err != nil {
			return err
		}
		switch {
		case target.Status.IsActive():
			return invalid(ReasonAlreadyActive)
		case target.Status != model.StatusPendingActivation:
			return invalid(ReasonUserNotActive)
		case target.Program != plan.Program:
			return invalidf(ReasonUnknownPlan, "plan belongs to another program")
		}

		id := uuid.NewString()
		if req.PayerID != nil {
			if _, _, err := out.post(ctx, s.wallets.WithTx(tx), repository.Posting{
				UserID:      *req.PayerID,
				Direction:   model.Debit,
				Amount:      req.Amount,
				SourceType:  model.SourceActivation,
				SourceID:    id,
				Description: fmt.Sprintf("Activation of %s (%s)", target.Email, plan.Name),
			}); err != nil {
				return err
			}
		}

		activation, err = s.activations.WithTx(tx).Create(ctx, &model.Activation{
			ID:             id,
			UserID:         target.ID,
			PlanID:         plan.ID,
			Program:        plan.Program,
			Amount:         req.Amount,
			FundedBy:       req.FundedBy,
			SponsorID:      req.PayerID,
			PaymentRef:     req.PaymentRef,
			ReferralStatus: referralStatus,
		})
		if err != nil {
			return err
		}

		_, err = users.Activate(ctx, target.ID, plan.Program, req.Amount, time.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	out.flush(ctx, s.publisher, s.metrics)

	log.Info().
		Str("activation_id", activation.ID).
		Str("user_id", activation.UserID).
		Str("plan", plan.ID).
		Str("amount", activation.Amount.String()).
		Str("funded_by", string(activation.FundedBy)).
		Msg("Member activated")

	if referralStatus == model.ReferralPending {
		if _, err := s.referrals.ProcessActivation(ctx, activation.ID); err != nil {
			log.Warn().Err(err).Str("activation_id", activation.ID).Msg("Referral income deferred to batch job")
		}
	}
	return activation, nil
}
