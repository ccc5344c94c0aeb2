package service

import (
	"context"

	"github.com/shopspring/decimal"

	"mlm-platform/internal/captrack"
	"mlm-platform/internal/model"
	"mlm-platform/internal/repository"
)

// MaxPageSize caps list endpoints.
const MaxPageSize = 100

// MemberSummary is a member's dashboard view.
type MemberSummary struct {
	User      *model.User     `json:"user"`
	Balance   decimal.Decimal `json:"balance"`
	Cap       decimal.Decimal `json:"cap"`
	Remaining decimal.Decimal `json:"remaining"`
}

// IncomeReport totals a member's income by source and lists recent awards.
type IncomeReport struct {
	Totals []model.IncomeSummary `json:"totals"`
	Recent []*model.Distribution `json:"recent"`
}

// ReportService answers read-only member queries.
type ReportService struct {
	settings      *SettingsService
	users         *repository.UserRepository
	wallets       *repository.WalletRepository
	distributions *repository.DistributionRepository
}

// NewReportService creates a new ReportService instance.
func NewReportService(
	settingsSvc *SettingsService,
	users *repository.UserRepository,
	wallets *repository.WalletRepository,
	distributions *repository.DistributionRepository,
) *ReportService {
	return &ReportService{
		settings:      settingsSvc,
		users:         users,
		wallets:       wallets,
		distributions: distributions,
	}
}

// Me returns the member's profile, balance and cap position.
func (s *ReportService) Me(ctx context.Context, userID string) (*MemberSummary, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	w, err := s.wallets.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	policy := captrack.PolicyFrom(snap.Programs)
	state := captrack.StateOf(u)
	return &MemberSummary{
		User:      u,
		Balance:   w.AvailableBalance,
		Cap:       policy.Cap(state),
		Remaining: captrack.Remaining(state, policy),
	}, nil
}

// Ledger returns a page of the member's ledger, newest first.
func (s *ReportService) Ledger(ctx context.Context, userID string, limit, offset int) ([]*model.LedgerEntry, error) {
	return s.wallets.ListEntries(ctx, userID, clampLimit(limit), max(offset, 0))
}

// Income returns the member's income totals and latest referral awards.
func (s *ReportService) Income(ctx context.Context, userID string, limit int) (*IncomeReport, error) {
	totals, err := s.wallets.IncomeSummary(ctx, userID)
	if err != nil {
		return nil, err
	}
	recent, err := s.distributions.ListByBeneficiary(ctx, userID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return &IncomeReport{Totals: totals, Recent: recent}, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
