package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	nanoid "github.com/jaevor/go-nanoid"
	"github.com/rs/zerolog/log"

	"mlm-platform/internal/model"
	"mlm-platform/internal/pkg/db"
	"mlm-platform/internal/repository"
)

// referralCodeAlphabet leaves out characters that are easy to misread.
const (
	referralCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	referralCodeLength   = 8
	referralCodeAttempts = 5
)

// RegisterInput is a signup request.
type RegisterInput struct {
	UserID        string
	Email         string
	Name          string
	ReferralCode  string
	Program       model.Program
	EmailVerified bool
}

// AccountService handles member accounts and their place in the referral tree.
type AccountService struct {
	tx        *db.TxManager
	settings  *SettingsService
	users     *repository.UserRepository
	wallets   *repository.WalletRepository
	newCode   func() string
	batchSize int
}

// NewAccountService creates a new AccountService instance.
func NewAccountService(
	tx *db.TxManager,
	settingsSvc *SettingsService,
	users *repository.UserRepository,
	wallets *repository.WalletRepository,
	batchSize int,
) (*AccountService, error) {
	gen, err := nanoid.CustomASCII(referralCodeAlphabet, referralCodeLength)
	if err != nil {
		return nil, fmt.Errorf("failed to create referral code generator: %w", err)
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &AccountService{
		tx:        tx,
		settings:  settingsSvc,
		users:     users,
		wallets:   wallets,
		newCode:   gen,
		batchSize: batchSize,
	}, nil
}

// Register creates a PENDING_ACTIVATION member and an empty wallet.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	in.Email = strings.TrimSpace(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return nil, invalidf(ReasonInvalidInput, "invalid email")
	}
	if in.Name == "" {
		return nil, invalidf(ReasonInvalidInput, "name is required")
	}
	if in.Program == "" {
		in.Program = model.ProgramInvestor
	}
	if !in.Program.Valid() {
		return nil, invalidf(ReasonInvalidInput, "unknown program")
	}
	if in.UserID == "" {
		in.UserID = uuid.NewString()
	} else if _, err := uuid.Parse(in.UserID); err != nil {
		return nil, invalidf(ReasonInvalidInput, "user id must be a UUID")
	}

	var referrerID *string
	code := strings.TrimSpace(in.ReferralCode)
	switch {
	case code != "":
		referrer, err := s.users.GetByReferralCode(ctx, code)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return nil, invalid(ReasonInvalidReferralCode)
			}
			return nil, err
		}
		if !referrer.Status.IsActive() {
			return nil, invalid(ReasonInactiveReferrer)
		}
		referrerID = &referrer.ID
	case snap.Features.SignupRequiresReferral:
		return nil, invalid(ReasonReferralRequired)
	}

	for attempt := 1; ; attempt++ {
		user, err := s.create(ctx, in, referrerID)
		if err == nil {
			log.Info().
				Str("user_id", user.ID).
				Str("referral_code", user.ReferralCode).
				Str("program", string(user.Program)).
				Msg("Member registered")
			return user, nil
		}
		if !errors.Is(err, repository.ErrReferralCodeTaken) || attempt == referralCodeAttempts {
			if errors.Is(err, repository.ErrEmailTaken) || errors.Is(err, repository.ErrUserExists) {
				return nil, invalidf(ReasonInvalidInput, err.Error())
			}
			return nil, err
		}
	}
}

func (s *AccountService) create(ctx context.Context, in RegisterInput, referrerID *string) (*model.User, error) {
	var user *model.User
	err := s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		user, err = s.users.WithTx(tx).Create(ctx, &model.User{
			ID:            in.UserID,
			Email:         in.Email,
			Name:          in.Name,
			ReferralCode:  s.newCode(),
			ReferrerID:    referrerID,
			Program:       in.Program,
			EmailVerified: in.EmailVerified,
		})
		if err != nil {
			return err
		}
		_, err = s.wallets.WithTx(tx).Create(ctx, user.ID)
		return err
	})
	return user, err
}

// Get returns a member by id.
func (s *AccountService) Get(ctx context.Context, userID string) (*model.User, error) {
	return s.users.GetByID(ctx, userID)
}

// GetByTelegramID returns the member linked to a Telegram account.
func (s *AccountService) GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	return s.users.GetByTelegramID(ctx, telegramID)
}

// LinkTelegram attaches a Telegram account to a member.
func (s *AccountService) LinkTelegram(ctx context.Context, userID string, telegramID int64) error {
	if err := s.users.LinkTelegram(ctx, userID, telegramID); err != nil {
		return err
	}
	log.Info().Str("user_id", userID).Int64("telegram_id", telegramID).Msg("Telegram account linked")
	return nil
}

// ChangeUpline moves a member under a new referrer. The move is rejected
// when it would put the member above itself in the tree.
func (s *AccountService) ChangeUpline(ctx context.Context, userID, newReferrerID, adminID string) error {
	if userID == newReferrerID {
		return invalid(ReasonCircularUpline)
	}
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return err
	}
	hops := max(snap.ReferralIncome.CircularCheckHops, snap.ReferralIncome.MaxLevels)

	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		users := s.users.WithTx(tx)
		if _, err := users.GetByIDForUpdate(ctx, userID); err != nil {
			return err
		}
		if _, err := users.GetByID(ctx, newReferrerID); err != nil {
			return err
		}
		below, err := users.InUpline(ctx, newReferrerID, userID, hops)
		if err != nil {
			return err
		}
		if below {
			return invalid(ReasonCircularUpline)
		}
		return users.SetReferrer(ctx, userID, &newReferrerID)
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("user_id", userID).
		Str("referrer_id", newReferrerID).
		Str("admin_id", adminID).
		Msg("Upline changed")
	return nil
}

// SetStatus changes a member's status. Active statuses require a completed
// activation and must match the member's program.
func (s *AccountService) SetStatus(ctx context.Context, userID string, status model.UserStatus, adminID string) error {
	if !status.Valid() {
		return invalidf(ReasonInvalidInput, "unknown status")
	}
	err := s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		users := s.users.WithTx(tx)
		u, err := users.GetByIDForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if status.IsActive() && (u.ActivatedAt == nil || status != model.ActiveStatusFor(u.Program)) {
			return invalidf(ReasonInvalidInput, "member has no matching activation")
		}
		if status == model.StatusPendingActivation && u.ActivatedAt != nil {
			return invalidf(ReasonInvalidInput, "member is already activated")
		}
		return users.UpdateStatus(ctx, userID, status)
	})
	if err != nil {
		return err
	}
	log.Info().Str("user_id", userID).Str("status", string(status)).Str("admin_id", adminID).Msg("Member status changed")
	return nil
}

// Unblock restores a blocked member to the status its activation implies.
func (s *AccountService) Unblock(ctx context.Context, userID, adminID string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	status := model.StatusPendingActivation
	if u.ActivatedAt != nil {
		status = model.ActiveStatusFor(u.Program)
	}
	return s.SetStatus(ctx, userID, status, adminID)
}

// SetVerification records KYC and bank verification results.
func (s *AccountService) SetVerification(ctx context.Context, userID string, kyc model.KYCStatus, bankVerified bool) error {
	switch kyc {
	case model.KYCNone, model.KYCPending, model.KYCVerified:
	default:
		return invalidf(ReasonInvalidInput, "unknown kyc status")
	}
	return s.users.SetVerification(ctx, userID, kyc, bankVerified)
}

// AutoBlockExpired blocks members that did not activate within the
// configured deadline. Safe to rerun: blocked members no longer match.
func (s *AccountService) AutoBlockExpired(ctx context.Context) (int, error) {
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	hours := snap.Programs.ActivationDeadlineHours
	if hours <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)

	total := 0
	for {
		ids, err := s.users.AutoBlockExpired(ctx, cutoff, s.batchSize)
		if err != nil {
			return total, err
		}
		total += len(ids)
		if len(ids) < s.batchSize {
			break
		}
	}
	if total > 0 {
		log.Info().Int("count", total).Time("cutoff", cutoff).Msg("Auto-blocked members past activation deadline")
	}
	return total, nil
}
