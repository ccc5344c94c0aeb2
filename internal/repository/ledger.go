package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"mlm-platform/internal/model"
	"mlm-platform/internal/pkg/db"
)

// Posting is a balance movement to be recorded. (UserID, SourceType,
// SourceID, Direction) identifies it; posting the same key twice is a no-op.
type Posting struct {
	UserID      string
	Direction   model.Direction
	Amount      decimal.Decimal
	SourceType  model.SourceType
	SourceID    string
	Description string
}

// WalletRepository handles wallets and the ledger that backs them.
type WalletRepository struct {
	db db.DBTX
}

// NewWalletRepository creates a new WalletRepository instance.
func NewWalletRepository(conn db.DBTX) *WalletRepository {
	return &WalletRepository{db: conn}
}

// WithTx returns a repository bound to tx.
func (r *WalletRepository) WithTx(tx pgx.Tx) *WalletRepository {
	return &WalletRepository{db: tx}
}

// Create inserts an empty wallet. Returns false if it already exists.
func (r *WalletRepository) Create(ctx context.Context, userID string) (bool, error) {
	const query = `
		INSERT INTO wallets (user_id, available_balance, created_at, updated_at)
		VALUES ($1, 0, NOW(), NOW())
		ON CONFLICT (user_id) DO NOTHING
	`

	result, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return false, fmt.Errorf("failed to create wallet: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

func (r *WalletRepository) get(ctx context.Context, query, userID string) (*model.Wallet, error) {
	var w model.Wallet
	err := r.db.QueryRow(ctx, query, userID).Scan(&w.UserID, &w.AvailableBalance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &w, nil
}

// Get retrieves a user's wallet.
func (r *WalletRepository) Get(ctx context.Context, userID string) (*model.Wallet, error) {
	return r.get(ctx, `
		SELECT user_id, available_balance, created_at, updated_at
		FROM wallets WHERE user_id = $1`, userID)
}

// GetForUpdate retrieves and row-locks a user's wallet. Must run inside a transaction.
func (r *WalletRepository) GetForUpdate(ctx context.Context, userID string) (*model.Wallet, error) {
	return r.get(ctx, `
		SELECT user_id, available_balance, created_at, updated_at
		FROM wallets WHERE user_id = $1 FOR UPDATE`, userID)
}

const ledgerColumns = `id, user_id, direction, amount, source_type, source_id, balance_after, description, created_at`

func scanLedgerEntry(row pgx.Row) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.Direction,
		&e.Amount,
		&e.SourceType,
		&e.SourceID,
		&e.BalanceAfter,
		&e.Description,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// FindEntry looks up the ledger entry for a posting key.
func (r *WalletRepository) FindEntry(ctx context.Context, userID string, sourceType model.SourceType, sourceID string, dir model.Direction) (*model.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + `
		FROM ledger_entries
		WHERE user_id = $1 AND source_type = $2 AND source_id = $3 AND direction = $4`

	e, err := scanLedgerEntry(r.db.QueryRow(ctx, query, userID, sourceType, sourceID, dir))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find ledger entry: %w", err)
	}
	return e, nil
}

// Post applies a posting to the wallet and appends it to the ledger. It
// must run inside a transaction: the wallet row is locked first so the
// balance check and the write see the same balance. applied is false when
// the posting key already exists, in which case nothing changes.
func (r *WalletRepository) Post(ctx context.Context, p Posting) (entry *model.LedgerEntry, applied bool, err error) {
	if !p.Amount.IsPositive() {
		return nil, false, ErrInvalidAmount
	}

	wallet, err := r.GetForUpdate(ctx, p.UserID)
	if err != nil {
		return nil, false, err
	}

	existing, err := r.FindEntry(ctx, p.UserID, p.SourceType, p.SourceID, p.Direction)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	balance := wallet.AvailableBalance
	switch p.Direction {
	case model.Credit:
		balance = balance.Add(p.Amount)
	case model.Debit:
		if p.Amount.GreaterThan(balance) {
			return nil, false, ErrInsufficientFunds
		}
		balance = balance.Sub(p.Amount)
	default:
		return nil, false, fmt.Errorf("unknown ledger direction %q", p.Direction)
	}

	var desc *string
	if p.Description != "" {
		desc = &p.Description
	}

	query := `
		INSERT INTO ledger_entries (user_id, direction, amount, source_type, source_id, balance_after, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (user_id, source_type, source_id, direction) DO NOTHING
		RETURNING ` + ledgerColumns

	entry, err = scanLedgerEntry(r.db.QueryRow(ctx, query,
		p.UserID, p.Direction, p.Amount, p.SourceType, p.SourceID, balance, desc))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			existing, findErr := r.FindEntry(ctx, p.UserID, p.SourceType, p.SourceID, p.Direction)
			if findErr != nil {
				return nil, false, findErr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	if err := r.SetBalance(ctx, p.UserID, balance); err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

// SetBalance overwrites the cached wallet balance.
func (r *WalletRepository) SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	result, err := r.db.Exec(ctx,
		`UPDATE wallets SET available_balance = $2, updated_at = NOW() WHERE user_id = $1`,
		userID, balance)
	if err != nil {
		return fmt.Errorf("failed to update wallet balance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// LedgerSum returns credits minus debits for a user.
func (r *WalletRepository) LedgerSum(ctx context.Context, userID string) (decimal.Decimal, error) {
	const query = `
		SELECT COALESCE(SUM(CASE WHEN direction = 'credit' THEN amount ELSE -amount END), 0)
		FROM ledger_entries
		WHERE user_id = $1
	`

	var sum decimal.Decimal
	if err := r.db.QueryRow(ctx, query, userID).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum ledger: %w", err)
	}
	return sum, nil
}

// ListEntries returns a page of a user's ledger, newest first.
func (r *WalletRepository) ListEntries(ctx context.Context, userID string, limit, offset int) ([]*model.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + `
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}
	return entries, nil
}

// IncomeSummary totals a user's credits per source type.
func (r *WalletRepository) IncomeSummary(ctx context.Context, userID string) ([]model.IncomeSummary, error) {
	const query = `
		SELECT source_type, SUM(amount), COUNT(*)
		FROM ledger_entries
		WHERE user_id = $1 AND direction = 'credit'
		GROUP BY source_type
		ORDER BY source_type
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get income summary: %w", err)
	}
	defer rows.Close()

	var out []model.IncomeSummary
	for rows.Next() {
		var s model.IncomeSummary
		if err := rows.Scan(&s.SourceType, &s.Total, &s.Count); err != nil {
			return nil, fmt.Errorf("failed to scan income summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
