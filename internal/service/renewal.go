package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"mlm-platform/internal/captrack"
	"mlm-platform/internal/model"
	"mlm-platform/internal/pkg/db"
	"mlm-platform/internal/pkg/events"
	"mlm-platform/internal/pkg/metrics"
	"mlm-platform/internal/repository"
)

// RenewInput is a cap renewal request. Reference makes the request
// idempotent per member; PayerID is only used by sponsor renewals and Paid
// is the amount a gateway captured, which must cover the fee.
type RenewInput struct {
	UserID    string
	Method    model.RenewalMethod
	Reference string
	PayerID   string
	Paid      decimal.Decimal
}

// RenewalService reopens earnings for members that reached their cap.
type RenewalService struct {
	tx        *db.TxManager
	settings  *SettingsService
	users     *repository.UserRepository
	wallets   *repository.WalletRepository
	renewals  *repository.RenewalRepository
	publisher events.Publisher
	metrics   *metrics.Metrics
}

// NewRenewalService creates a new RenewalService instance.
func NewRenewalService(
	tx *db.TxManager,
	settingsSvc *SettingsService,
	users *repository.UserRepository,
	wallets *repository.WalletRepository,
	renewals *repository.RenewalRepository,
	publisher events.Publisher,
	m *metrics.Metrics,
) *RenewalService {
	return &RenewalService{
		tx:        tx,
		settings:  settingsSvc,
		users:     users,
		wallets:   wallets,
		renewals:  renewals,
		publisher: publisher,
		metrics:   m,
	}
}

// Renew moves a CAP_REACHED member back to ACTIVE, charging the renewal fee
// to the payer the method implies. Repeating a reference returns the
// original renewal with applied=false.
func (s *RenewalService) Renew(ctx context.Context, in RenewInput) (*model.Renewal, bool, error) {
	in.Reference = strings.TrimSpace(in.Reference)
	if in.Reference == "" {
		return nil, false, invalid(ReasonMissingReference)
	}

	if existing, err := s.renewals.GetByReference(ctx, in.UserID, in.Reference); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, repository.ErrRenewalNotFound) {
		return nil, false, err
	}

	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, false, err
	}
	if !snap.Features.RenewalsEnabled {
		return nil, false, ErrFeatureDisabled
	}
	if !snap.Renewals.Allows(in.Method) {
		return nil, false, invalid(ReasonRenewalMethod)
	}

	var payerID *string
	switch in.Method {
	case model.RenewalByWallet:
		payerID = &in.UserID
	case model.RenewalBySponsor:
		if in.PayerID == "" || in.PayerID == in.UserID {
			return nil, false, invalid(ReasonSelfSponsor)
		}
		sponsor, err := s.users.GetByID(ctx, in.PayerID)
		if err != nil {
			return nil, false, err
		}
		if !sponsor.Status.IsActive() {
			return nil, false, invalid(ReasonSponsorNotActive)
		}
		payerID = &in.PayerID
	}

	policy := captrack.PolicyFrom(snap.Programs)
	var (
		out     outbox
		renewal *model.Renewal
		applied bool
	)
	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		out.events = nil
		applied = false
		users := s.users.WithTx(tx)

		u, err := users.GetByIDForUpdate(ctx, in.UserID)
		if err != nil {
			return err
		}
		if u.CapStatus != model.CapReached {
			return invalid(ReasonCapNotReached)
		}

		calc := captrack.Renew(captrack.StateOf(u), policy, snap.Renewals)
		if in.Method == model.RenewalByGateway && in.Paid.LessThan(calc.Fee) {
			return invalidf(ReasonInvalidAmount, "renewal fee is "+calc.Fee.StringFixed(2))
		}
		renewal = &model.Renewal{
			ID:               uuid.NewString(),
			UserID:           u.ID,
			Method:           in.Method,
			Reference:        in.Reference,
			Amount:           calc.Fee,
			PayerID:          payerID,
			PreviousEarnings: u.CumulativeEligibleEarnings,
			NewBaseline:      calc.NewBaseline,
		}
		inserted, err := s.renewals.WithTx(tx).Create(ctx, renewal)
		if err != nil {
			return err
		}
		if !inserted {
			renewal, err = s.renewals.WithTx(tx).GetByReference(ctx, in.UserID, in.Reference)
			return err
		}

		if payerID != nil && calc.Fee.IsPositive() {
			if _, _, err := out.post(ctx, s.wallets.WithTx(tx), repository.Posting{
				UserID:      *payerID,
				Direction:   model.Debit,
				Amount:      calc.Fee,
				SourceType:  model.SourceRenewal,
				SourceID:    renewal.ID,
				Description: fmt.Sprintf("Cap renewal for %s", u.Email),
			}); err != nil {
				return err
			}
		}

		if _, err := users.ApplyRenewal(ctx, u.ID, calc.NewBaseline); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !applied {
		return renewal, false, nil
	}

	out.flush(ctx, s.publisher, s.metrics)
	s.metrics.RecordRenewal(string(in.Method))
	log.Info().
		Str("user_id", in.UserID).
		Str("method", string(in.Method)).
		Str("reference", in.Reference).
		Str("fee", renewal.Amount.String()).
		Str("baseline", renewal.NewBaseline.String()).
		Msg("Cap renewed")
	return renewal, true, nil
}
