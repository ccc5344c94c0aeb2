package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"mlm-platform/internal/captrack"
	"mlm-platform/internal/model"
	"mlm-platform/internal/pkg/db"
	"mlm-platform/internal/pkg/events"
	"mlm-platform/internal/pkg/metrics"
	"mlm-platform/internal/referral"
	"mlm-platform/internal/repository"
	"mlm-platform/internal/settings"
)

// ActivationReport is the outcome of processing one activation.
type ActivationReport struct {
	ActivationID string           `json:"activationId"`
	Rejected     string           `json:"rejected,omitempty"`
	Credited     []referral.Award `json:"credited"`
	Skips        []referral.Skip  `json:"skips"`
	Failed       int              `json:"failed"`
}

// Total is the sum credited for the activation.
func (r *ActivationReport) Total() decimal.Decimal {
	return referral.Result{Awards: r.Credited}.Total()
}

// BatchReport summarises a ProcessAllPending run.
type BatchReport struct {
	Processed   int            `json:"processed"`
	Skipped     int            `json:"skipped"`
	Errors      int            `json:"errors"`
	SkipReasons map[string]int `json:"skipReasons"`
}

func (b *BatchReport) add(r *ActivationReport) {
	b.Processed += len(r.Credited)
	b.Errors += r.Failed
	if r.Rejected != "" {
		b.Skipped++
		b.SkipReasons[r.Rejected]++
	}
	for _, s := range r.Skips {
		b.Skipped++
		b.SkipReasons[s.Reason]++
	}
}

// ReferralCodeCheck is the result of ValidateReferralCode.
type ReferralCodeCheck struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// PreviewAward is a planned award annotated with what crediting it now would do.
type PreviewAward struct {
	referral.Award
	CapOutcome  string `json:"capOutcome"`
	AlreadyPaid bool   `json:"alreadyPaid"`
}

// Preview is the dry-run result of an activation.
type Preview struct {
	ActivationID string          `json:"activationId"`
	Rejected     string          `json:"rejected,omitempty"`
	Awards       []PreviewAward  `json:"awards"`
	Skips        []referral.Skip `json:"skips"`
	Total        decimal.Decimal `json:"total"`
}

// retryable rejections leave the activation failed so the batch job picks
// it up again once the cause is fixed.
var retryableRejections = map[string]bool{
	referral.ReasonIncomeDisabled:     true,
	referral.ReasonInvalidLevelConfig: true,
}

// ReferralService distributes referral income for activations.
type ReferralService struct {
	tx            *db.TxManager
	settings      *SettingsService
	users         *repository.UserRepository
	wallets       *repository.WalletRepository
	activations   *repository.ActivationRepository
	distributions *repository.DistributionRepository
	publisher     events.Publisher
	metrics       *metrics.Metrics
	batchSize     int
}

// NewReferralService creates a new ReferralService instance.
func NewReferralService(
	tx *db.TxManager,
	settingsSvc *SettingsService,
	users *repository.UserRepository,
	wallets *repository.WalletRepository,
	activations *repository.ActivationRepository,
	distributions *repository.DistributionRepository,
	publisher events.Publisher,
	m *metrics.Metrics,
	batchSize int,
) *ReferralService {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &ReferralService{
		tx:            tx,
		settings:      settingsSvc,
		users:         users,
		wallets:       wallets,
		activations:   activations,
		distributions: distributions,
		publisher:     publisher,
		metrics:       m,
		batchSize:     batchSize,
	}
}

// ValidateReferralCode reports whether code belongs to an active member.
func (s *ReferralService) ValidateReferralCode(ctx context.Context, code string) (ReferralCodeCheck, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return ReferralCodeCheck{Error: ReasonReferralRequired}, nil
	}
	owner, err := s.users.GetByReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ReferralCodeCheck{Error: ReasonInvalidReferralCode}, nil
		}
		return ReferralCodeCheck{}, err
	}
	if !owner.Status.IsActive() {
		return ReferralCodeCheck{Error: ReasonInactiveReferrer}, nil
	}
	return ReferralCodeCheck{Valid: true}, nil
}

// ProcessActivation distributes income for an activation that has not been
// processed yet. Processed activations are reported as ALREADY_PROCESSED.
func (s *ReferralService) ProcessActivation(ctx context.Context, activationID string) (*ActivationReport, error) {
	a, err := s.activations.GetByID(ctx, activationID)
	if err != nil {
		return nil, err
	}
	if a.ReferralStatus == model.ReferralProcessed || a.ReferralStatus == model.ReferralNotApplicable {
		return &ActivationReport{ActivationID: a.ID, Rejected: referral.ReasonAlreadyProcessed}, nil
	}
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.process(ctx, snap, a)
}

// ReprocessActivation re-evaluates an activation regardless of its status.
// Triples that were already credited stay ALREADY_PROCESSED.
func (s *ReferralService) ReprocessActivation(ctx context.Context, activationID, adminID string) (*ActivationReport, error) {
	a, err := s.activations.GetByID(ctx, activationID)
	if err != nil {
		return nil, err
	}
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	log.Info().Str("activation_id", activationID).Str("admin_id", adminID).Msg("Reprocessing activation")
	return s.process(ctx, snap, a)
}

// ProcessAllPending processes activations whose income is pending or failed,
// in keyset-paginated chunks. With force every activation is re-evaluated.
func (s *ReferralService) ProcessAllPending(ctx context.Context, force bool) (*BatchReport, error) {
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	statuses := []model.ReferralStatus{model.ReferralPending, model.ReferralFailed}
	if force {
		statuses = nil
	}

	report := &BatchReport{SkipReasons: make(map[string]int)}
	var cursor repository.Cursor
	for {
		batch, err := s.activations.ListForProcessing(ctx, statuses, cursor, s.batchSize)
		if err != nil {
			return report, err
		}
		for _, a := range batch {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			r, err := s.process(ctx, snap, a)
			if err != nil {
				report.Errors++
				log.Error().Err(err).Str("activation_id", a.ID).Msg("Failed to process activation")
				continue
			}
			report.add(r)
		}
		if len(batch) < s.batchSize {
			break
		}
		last := batch[len(batch)-1]
		cursor = repository.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}

	log.Info().
		Bool("force", force).
		Int("processed", report.Processed).
		Int("skipped", report.Skipped).
		Int("errors", report.Errors).
		Msg("Pending referral income processed")
	return report, nil
}

// PreviewActivation plans an activation without writing anything.
func (s *ReferralService) PreviewActivation(ctx context.Context, activationID string) (*Preview, error) {
	a, err := s.activations.GetByID(ctx, activationID)
	if err != nil {
		return nil, err
	}
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	in, err := s.input(ctx, snap, a)
	if err != nil {
		return nil, err
	}
	preview := &Preview{ActivationID: a.ID, Total: decimal.Zero}
	plan, err := referral.Plan(in)
	if err != nil {
		reason, ok := referral.ReasonOf(err)
		if !ok {
			return nil, err
		}
		preview.Rejected = reason
		return preview, nil
	}

	policy := captrack.PolicyFrom(snap.Programs)
	preview.Skips = plan.Skips
	for _, award := range plan.Awards {
		pa := PreviewAward{Award: award}
		paid, err := s.distributions.Exists(ctx, a.ID, award.BeneficiaryID, award.Level)
		if err != nil {
			return nil, err
		}
		pa.AlreadyPaid = paid
		u, err := s.users.GetByID(ctx, award.BeneficiaryID)
		if err != nil {
			return nil, err
		}
		pa.CapOutcome = captrack.Evaluate(captrack.StateOf(u), award.Amount, policy).Outcome.String()
		preview.Awards = append(preview.Awards, pa)
		if !paid {
			preview.Total = preview.Total.Add(award.Amount)
		}
	}
	return preview, nil
}

// input gathers the activator, its upline and the referral settings.
func (s *ReferralService) input(ctx context.Context, snap *settings.Snapshot, a *model.Activation) (referral.Input, error) {
	activator, err := s.users.GetByID(ctx, a.UserID)
	if err != nil {
		return referral.Input{}, fmt.Errorf("failed to get activator: %w", err)
	}

	cfg := snap.ReferralIncome
	hops := max(cfg.MaxLevels, cfg.CircularCheckHops)
	upline, err := s.users.Upline(ctx, activator.ID, hops)
	if err != nil {
		return referral.Input{}, err
	}

	chain := make([]referral.Upline, len(upline))
	for i, m := range upline {
		chain[i] = referral.Upline{
			ID:            m.ID,
			Status:        m.Status,
			Program:       m.Program,
			ActiveDirects: m.ActiveDirects,
			TotalDirects:  m.TotalDirects,
		}
	}

	return referral.Input{
		ActivationID: a.ID,
		Amount:       a.Amount,
		Program:      a.Program,
		Activator: referral.Activator{
			ID:         activator.ID,
			Status:     activator.Status,
			Program:    activator.Program,
			ReferrerID: activator.ReferrerID,
		},
		Chain:   chain,
		Enabled: snap.Features.ReferralIncomeEnabled,
		Config:  cfg,
	}, nil
}

func (s *ReferralService) process(ctx context.Context, snap *settings.Snapshot, a *model.Activation) (*ActivationReport, error) {
	report := &ActivationReport{ActivationID: a.ID}

	in, err := s.input(ctx, snap, a)
	if err != nil {
		return nil, err
	}

	plan, err := referral.Plan(in)
	if err != nil {
		reason, ok := referral.ReasonOf(err)
		if !ok {
			return nil, err
		}
		report.Rejected = reason
		s.metrics.RecordSkip(reason)

		status := model.ReferralNotApplicable
		if retryableRejections[reason] {
			status = model.ReferralFailed
		}
		if err := s.activations.MarkReferralStatus(ctx, a.ID, status); err != nil {
			return nil, err
		}
		log.Info().Str("activation_id", a.ID).Str("reason", reason).Msg("Activation pays no referral income")
		return report, nil
	}

	report.Skips = append(report.Skips, plan.Skips...)
	policy := captrack.PolicyFrom(snap.Programs)

	for _, award := range plan.Awards {
		reason, err := s.credit(ctx, policy, a, award)
		switch {
		case err != nil:
			report.Failed++
			log.Error().Err(err).
				Str("activation_id", a.ID).
				Str("beneficiary_id", award.BeneficiaryID).
				Int("level", award.Level).
				Msg("Failed to credit referral income")
		case reason != "":
			report.Skips = append(report.Skips, referral.Skip{
				BeneficiaryID: award.BeneficiaryID,
				Level:         award.Level,
				Reason:        reason,
			})
		default:
			report.Credited = append(report.Credited, award)
			s.metrics.RecordAward(string(award.IncomeType), award.Amount)
		}
	}
	for _, sk := range plan.Skips {
		s.metrics.RecordSkip(sk.Reason)
	}

	status := model.ReferralProcessed
	if report.Failed > 0 {
		status = model.ReferralFailed
	}
	if err := s.activations.MarkReferralStatus(ctx, a.ID, status); err != nil {
		return nil, err
	}

	events.Emit(ctx, s.publisher, events.ReferralProcessed(a.UserID, a.ID, report.Total()))
	log.Info().
		Str("activation_id", a.ID).
		Int("credited", len(report.Credited)).
		Int("skipped", len(report.Skips)).
		Int("failed", report.Failed).
		Str("total", report.Total().String()).
		Msg("Referral income distributed")
	return report, nil
}

// credit applies one award in its own transaction. It returns a skip reason
// when the award is not paid; only that beneficiary is rolled back on error.
func (s *ReferralService) credit(ctx context.Context, policy captrack.Policy, a *model.Activation, award referral.Award) (string, error) {
	var (
		out    outbox
		reason string
	)
	err := s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		out.events = nil
		reason = ""
		users := s.users.WithTx(tx)
		dists := s.distributions.WithTx(tx)

		u, err := users.GetByIDForUpdate(ctx, award.BeneficiaryID)
		if err != nil {
			return err
		}
		if u.Status != model.StatusActiveInvestor {
			reason = referral.ReasonNotActiveInvestor
			return nil
		}

		paid, err := dists.Exists(ctx, a.ID, u.ID, award.Level)
		if err != nil {
			return err
		}
		if paid {
			reason = referral.ReasonAlreadyProcessed
			return nil
		}

		decision := captrack.Evaluate(captrack.StateOf(u), award.Amount, policy)
		if !decision.Credited() {
			reason = referral.ReasonCapReached
			blocked := u.WithdrawalsBlocked || decision.BlockWithdrawals
			if u.CapStatus == model.CapReached && blocked == u.WithdrawalsBlocked {
				return nil
			}
			// Nothing is paid, but the user is now at the cap and may renew.
			return users.ApplyEarnings(ctx, u.ID, u.CumulativeEligibleEarnings, model.CapReached, blocked)
		}

		inserted, err := dists.Insert(ctx, &model.Distribution{
			ActivationID:  a.ID,
			BeneficiaryID: u.ID,
			Level:         award.Level,
			IncomeType:    award.IncomeType,
			Percent:       award.Percent,
			Amount:        award.Amount,
		})
		if err != nil {
			return err
		}
		if !inserted {
			reason = referral.ReasonAlreadyProcessed
			return nil
		}

		if _, _, err := out.post(ctx, s.wallets.WithTx(tx), repository.Posting{
			UserID:      u.ID,
			Direction:   model.Credit,
			Amount:      award.Amount,
			SourceType:  award.IncomeType,
			SourceID:    DistributionSourceID(a.ID, award.Level),
			Description: describeAward(award, a),
		}); err != nil {
			return err
		}

		capStatus := u.CapStatus
		if decision.Reached() {
			capStatus = model.CapReached
		}
		return users.ApplyEarnings(ctx, u.ID, decision.NewCumulative, capStatus, u.WithdrawalsBlocked || decision.BlockWithdrawals)
	})
	if err != nil {
		return "", err
	}
	out.flush(ctx, s.publisher, s.metrics)
	return reason, nil
}

// DistributionSourceID is the ledger source id of a referral credit.
func DistributionSourceID(activationID string, level int) string {
	return fmt.Sprintf("%s:L%d", activationID, level)
}

func describeAward(award referral.Award, a *model.Activation) string {
	if award.Level == referral.DirectLevel {
		return fmt.Sprintf("Direct referral bonus %s%% on %s", award.Percent, a.Amount)
	}
	return fmt.Sprintf("Level %d income %s%% of pool on %s (%s)", award.Level, award.Percent, a.Amount, a.CreatedAt.Format(time.DateOnly))
}
