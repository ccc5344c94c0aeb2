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
)

// TransferService handles member-to-member wallet transfers.
type TransferService struct {
	tx        *db.TxManager
	settings  *SettingsService
	users     *repository.UserRepository
	wallets   *repository.WalletRepository
	transfers *repository.TransferRepository
	publisher events.Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewTransferService creates a new TransferService instance.
func NewTransferService(
	tx *db.TxManager,
	settingsSvc *SettingsService,
	users *repository.UserRepository,
	wallets *repository.WalletRepository,
	transfers *repository.TransferRepository,
	publisher events.Publisher,
	m *metrics.Metrics,
) *TransferService {
	return &TransferService{
		tx:        tx,
		settings:  settingsSvc,
		users:     users,
		wallets:   wallets,
		transfers: transfers,
		publisher: publisher,
		metrics:   m,
		now:       time.Now,
	}
}

// CreateUserTransfer moves amount from the sender to the member registered
// under recipientEmail. The sender is debited amount, the recipient credited
// amount minus the platform fee.
func (s *TransferService) CreateUserTransfer(ctx context.Context, senderID, recipientEmail string, amount decimal.Decimal, note string) (*model.Transfer, error) {
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	cfg := snap.Transfers

	if !snap.Features.TransfersEnabled {
		return nil, ErrFeatureDisabled
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if amount.LessThan(cfg.MinAmount) {
		return nil, invalidf(ReasonAmountBelowMinimum, "minimum is "+cfg.MinAmount.String())
	}
	if cfg.MaxAmount.IsPositive() && amount.GreaterThan(cfg.MaxAmount) {
		return nil, invalidf(ReasonAmountAboveMaximum, "maximum is "+cfg.MaxAmount.String())
	}
	fee, net := TransferFee(amount, cfg)
	if !net.IsPositive() {
		return nil, invalidf(ReasonInvalidAmount, "fee consumes the whole amount")
	}

	recipient, err := s.users.GetByEmail(ctx, strings.TrimSpace(recipientEmail))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, invalid(ReasonRecipientNotFound)
		}
		return nil, err
	}
	if recipient.ID == senderID {
		return nil, ErrSelfTransfer
	}
	if cfg.RequireRecipientVerified && (!recipient.Status.IsActive() || !recipient.EmailVerified) {
		return nil, invalid(ReasonRecipientNotVerified)
	}

	var noteRef *string
	if note = strings.TrimSpace(note); note != "" {
		noteRef = &note
	}

	now := s.now()
	var (
		out      outbox
		transfer *model.Transfer
	)
	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		out.events = nil
		repo := s.transfers.WithTx(tx)
		wallets := s.wallets.WithTx(tx)

		sender, err := s.users.WithTx(tx).GetByIDForUpdate(ctx, senderID)
		if err != nil {
			return err
		}
		if !sender.Status.IsActive() {
			return invalid(ReasonUserNotActive)
		}
		if cfg.BlockWhenCapReached && (sender.CapStatus == model.CapReached || sender.WithdrawalsBlocked) {
			return ErrCapReached
		}

		if cfg.TransferCooldownMinutes > 0 {
			last, err := repo.LastSentAt(ctx, senderID)
			if err != nil {
				return err
			}
			if last != nil && now.Sub(*last) < time.Duration(cfg.TransferCooldownMinutes)*time.Minute {
				return invalid(ReasonCooldownActive)
			}
		}
		if cfg.MaxPerDay > 0 {
			n, err := repo.CountSince(ctx, senderID, now.Add(-24*time.Hour))
			if err != nil {
				return err
			}
			if n >= cfg.MaxPerDay {
				return invalid(ReasonDailyLimit)
			}
		}

		first, second := senderID, recipient.ID
		if second < first {
			first, second = second, first
		}
		for _, id := range []string{first, second} {
			if _, err := wallets.GetForUpdate(ctx, id); err != nil {
				return err
			}
		}

		id := uuid.NewString()
		if _, _, err := out.post(ctx, wallets, repository.Posting{
			UserID:      senderID,
			Direction:   model.Debit,
			Amount:      amount,
			SourceType:  model.SourceTransferOut,
			SourceID:    id,
			Description: fmt.Sprintf("Transfer to %s", recipient.Email),
		}); err != nil {
			return err
		}
		if _, _, err := out.post(ctx, wallets, repository.Posting{
			UserID:      recipient.ID,
			Direction:   model.Credit,
			Amount:      net,
			SourceType:  model.SourceTransferIn,
			SourceID:    id,
			Description: fmt.Sprintf("Transfer from %s", sender.Email),
		}); err != nil {
			return err
		}

		transfer, err = repo.Create(ctx, &model.Transfer{
			ID:          id,
			SenderID:    senderID,
			RecipientID: recipient.ID,
			Amount:      amount,
			Fee:         fee,
			NetAmount:   net,
			Note:        noteRef,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	out.flush(ctx, s.publisher, s.metrics)
	s.metrics.RecordTransfer()
	log.Info().
		Str("transfer_id", transfer.ID).
		Str("sender_id", senderID).
		Str("recipient_id", recipient.ID).
		Str("amount", amount.String()).
		Str("fee", fee.String()).
		Msg("Transfer completed")
	return transfer, nil
}

// ListByUser returns transfers a member sent or received.
func (s *TransferService) ListByUser(ctx context.Context, userID string, limit int) ([]*model.Transfer, error) {
	return s.transfers.ListByUser(ctx, userID, clampLimit(limit))
}
