package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"mlm-platform/internal/model"
	"mlm-platform/internal/pkg/db"
	"mlm-platform/internal/pkg/events"
	"mlm-platform/internal/pkg/metrics"
	"mlm-platform/internal/repository"
)

// DefaultBatchSize bounds how many rows a batch job handles per chunk.
const DefaultBatchSize = 200

// outbox collects events produced inside a transaction so they are only
// published after it commits.
type outbox struct {
	events []events.Event
}

// post applies p through wallets and queues a wallet event when it changed
// the balance.
func (o *outbox) post(ctx context.Context, wallets *repository.WalletRepository, p repository.Posting) (*model.LedgerEntry, bool, error) {
	entry, applied, err := wallets.Post(ctx, p)
	if err != nil {
		return nil, false, err
	}
	if applied {
		o.events = append(o.events, events.WalletMoved(
			p.Direction == model.Credit, p.UserID, p.Amount, entry.BalanceAfter,
			string(p.SourceType), p.SourceID))
	}
	return entry, applied, nil
}

func (o *outbox) add(e events.Event) {
	o.events = append(o.events, e)
}

// flush records posting metrics and publishes the queued events.
func (o *outbox) flush(ctx context.Context, pub events.Publisher, m *metrics.Metrics) {
	for _, e := range o.events {
		switch e.Type {
		case events.TypeWalletCredited:
			m.RecordPosting(string(model.Credit), e.SourceType)
		case events.TypeWalletDebited:
			m.RecordPosting(string(model.Debit), e.SourceType)
		}
	}
	events.Emit(ctx, pub, o.events...)
	o.events = nil
}

// SyncReport summarises a wallet sync run.
type SyncReport struct {
	Synced  int `json:"synced"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// LedgerCheck compares a wallet balance with its ledger.
type LedgerCheck struct {
	UserID     string          `json:"userId"`
	Balance    decimal.Decimal `json:"balance"`
	LedgerSum  decimal.Decimal `json:"ledgerSum"`
	Consistent bool            `json:"consistent"`
}

// WalletService handles balance changes and wallet reconciliation.
type WalletService struct {
	tx        *db.TxManager
	users     *repository.UserRepository
	wallets   *repository.WalletRepository
	publisher events.Publisher
	metrics   *metrics.Metrics
	batchSize int
}

// NewWalletService creates a new WalletService instance.
func NewWalletService(
	tx *db.TxManager,
	users *repository.UserRepository,
	wallets *repository.WalletRepository,
	publisher events.Publisher,
	m *metrics.Metrics,
	batchSize int,
) *WalletService {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &WalletService{
		tx:        tx,
		users:     users,
		wallets:   wallets,
		publisher: publisher,
		metrics:   m,
		batchSize: batchSize,
	}
}

// Credit adds amount to a wallet. Replaying the same (source type, source
// id) returns the original entry with applied=false.
func (s *WalletService) Credit(ctx context.Context, userID string, amount decimal.Decimal, sourceType model.SourceType, sourceID, description string) (*model.LedgerEntry, bool, error) {
	return s.apply(ctx, repository.Posting{
		UserID:      userID,
		Direction:   model.Credit,
		Amount:      amount,
		SourceType:  sourceType,
		SourceID:    sourceID,
		Description: description,
	})
}

// Debit removes amount from a wallet. Returns ErrInsufficientFunds when the
// balance is too low.
func (s *WalletService) Debit(ctx context.Context, userID string, amount decimal.Decimal, sourceType model.SourceType, sourceID, description string) (*model.LedgerEntry, bool, error) {
	return s.apply(ctx, repository.Posting{
		UserID:      userID,
		Direction:   model.Debit,
		Amount:      amount,
		SourceType:  sourceType,
		SourceID:    sourceID,
		Description: description,
	})
}

func (s *WalletService) apply(ctx context.Context, p repository.Posting) (*model.LedgerEntry, bool, error) {
	var (
		out     outbox
		entry   *model.LedgerEntry
		applied bool
	)
	err := s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		out.events = nil
		var err error
		entry, applied, err = out.post(ctx, s.wallets.WithTx(tx), p)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	out.flush(ctx, s.publisher, s.metrics)
	return entry, applied, nil
}

// Balance returns a user's wallet.
func (s *WalletService) Balance(ctx context.Context, userID string) (*model.Wallet, error) {
	return s.wallets.Get(ctx, userID)
}

// VerifyLedger reports whether a wallet balance matches its ledger sum.
func (s *WalletService) VerifyLedger(ctx context.Context, userID string) (*LedgerCheck, error) {
	w, err := s.wallets.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	sum, err := s.wallets.LedgerSum(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &LedgerCheck{
		UserID:     userID,
		Balance:    w.AvailableBalance,
		LedgerSum:  sum,
		Consistent: w.AvailableBalance.Equal(sum),
	}, nil
}

// AdjustBalance posts an admin correction. A positive amount credits, a
// negative one debits. reference identifies the adjustment so it applies once.
func (s *WalletService) AdjustBalance(ctx context.Context, userID string, amount decimal.Decimal, reference, adminID, note string) (*model.LedgerEntry, bool, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, false, invalid(ReasonMissingReference)
	}
	if amount.IsZero() {
		return nil, false, ErrInvalidAmount
	}

	desc := fmt.Sprintf("Admin adjustment by %s", adminID)
	if note != "" {
		desc += ": " + note
	}

	entry, applied, err := s.apply(ctx, repository.Posting{
		UserID:      userID,
		Direction:   directionOf(amount),
		Amount:      amount.Abs(),
		SourceType:  model.SourceAdminAdjustment,
		SourceID:    reference,
		Description: desc,
	})
	if err != nil {
		return nil, false, err
	}
	if applied {
		log.Info().
			Str("user_id", userID).
			Str("admin_id", adminID).
			Str("amount", amount.String()).
			Str("reference", reference).
			Msg("Wallet adjusted")
	}
	return entry, applied, nil
}

func directionOf(amount decimal.Decimal) model.Direction {
	if amount.IsNegative() {
		return model.Debit
	}
	return model.Credit
}

// SyncWalletBalances walks every user in id order, creating missing wallets
// and repairing cached balances that drifted from the ledger. It is safe to
// run repeatedly and concurrently with normal postings.
func (s *WalletService) SyncWalletBalances(ctx context.Context) (SyncReport, error) {
	var (
		report SyncReport
		after  string
	)
	for {
		ids, err := s.users.ListIDsAfter(ctx, after, s.batchSize)
		if err != nil {
			return report, err
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			created, updated, err := s.syncOne(ctx, id)
			if err != nil {
				report.Errors++
				log.Error().Err(err).Str("user_id", id).Msg("Failed to sync wallet")
				continue
			}
			report.Synced++
			switch {
			case created:
				report.Created++
			case updated:
				report.Updated++
			default:
				report.Skipped++
			}
			if updated {
				s.metrics.RecordWalletRepaired()
			}
		}
		if len(ids) < s.batchSize {
			break
		}
		after = ids[len(ids)-1]
	}

	log.Info().
		Int("synced", report.Synced).
		Int("created", report.Created).
		Int("updated", report.Updated).
		Int("skipped", report.Skipped).
		Int("errors", report.Errors).
		Msg("Wallet sync finished")
	return report, nil
}

func (s *WalletService) syncOne(ctx context.Context, userID string) (created, updated bool, err error) {
	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		created, updated = false, false
		wallets := s.wallets.WithTx(tx)

		var err error
		created, err = wallets.Create(ctx, userID)
		if err != nil {
			return err
		}
		w, err := wallets.GetForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		sum, err := wallets.LedgerSum(ctx, userID)
		if err != nil {
			return err
		}
		if w.AvailableBalance.Equal(sum) {
			return nil
		}
		if sum.IsNegative() {
			return fmt.Errorf("ledger sum %s is negative", sum)
		}
		updated = true
		return wallets.SetBalance(ctx, userID, sum)
	})
	if errors.Is(err, repository.ErrWalletNotFound) {
		return false, false, fmt.Errorf("wallet vanished during sync: %w", err)
	}
	return created, updated, err
}
