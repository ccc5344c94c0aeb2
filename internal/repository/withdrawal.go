package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"mlm-platform/internal/model"
	"mlm-platform/internal/pkg/db"
)

// ErrInvalidTransition is returned when a withdrawal is not in a state the
// requested transition can start from.
var ErrInvalidTransition = errors.New("invalid withdrawal status transition")

const withdrawalColumns = `
	id, user_id, gross_amount, fee_amount, net_amount, fee_type, method, payout_details,
	status, reviewed_by, reason, created_at, updated_at, paid_at`

func scanWithdrawal(row pgx.Row) (*model.Withdrawal, error) {
	var w model.Withdrawal
	err := row.Scan(
		&w.ID,
		&w.UserID,
		&w.GrossAmount,
		&w.FeeAmount,
		&w.NetAmount,
		&w.FeeType,
		&w.Method,
		&w.PayoutDetails,
		&w.Status,
		&w.ReviewedBy,
		&w.Reason,
		&w.CreatedAt,
		&w.UpdatedAt,
		&w.PaidAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// WithdrawalRepository handles payout requests.
type WithdrawalRepository struct {
	db db.DBTX
}

// NewWithdrawalRepository creates a new WithdrawalRepository instance.
func NewWithdrawalRepository(conn db.DBTX) *WithdrawalRepository {
	return &WithdrawalRepository{db: conn}
}

// WithTx returns a repository bound to tx.
func (r *WithdrawalRepository) WithTx(tx pgx.Tx) *WithdrawalRepository {
	return &WithdrawalRepository{db: tx}
}

// Create inserts a withdrawal in requested state.
func (r *WithdrawalRepository) Create(ctx context.Context, w *model.Withdrawal) (*model.Withdrawal, error) {
	query := `
		INSERT INTO withdrawals (id, user_id, gross_amount, fee_amount, net_amount, fee_type, method,
			payout_details, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'requested', NOW(), NOW())
		RETURNING ` + withdrawalColumns

	created, err := scanWithdrawal(r.db.QueryRow(ctx, query,
		w.ID, w.UserID, w.GrossAmount, w.FeeAmount, w.NetAmount, w.FeeType, w.Method, w.PayoutDetails,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create withdrawal: %w", err)
	}
	return created, nil
}

// GetByID retrieves a withdrawal by id.
func (r *WithdrawalRepository) GetByID(ctx context.Context, id string) (*model.Withdrawal, error) {
	w, err := scanWithdrawal(r.db.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}
	return w, nil
}

// Transition moves a withdrawal from one of from to to. The update is
// conditional on the current status, so concurrent or repeated transitions
// fail with ErrInvalidTransition instead of applying twice.
func (r *WithdrawalRepository) Transition(ctx context.Context, id string, from []model.WithdrawalStatus, to model.WithdrawalStatus, reviewedBy string, reason *string) (*model.Withdrawal, error) {
	query := `
		UPDATE withdrawals
		SET status = $3,
			reviewed_by = COALESCE(NULLIF($4, ''), reviewed_by),
			reason = COALESCE($5, reason),
			paid_at = CASE WHEN $3 = 'paid' THEN NOW() ELSE paid_at END,
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($2::text[])
		RETURNING ` + withdrawalColumns

	names := make([]string, len(from))
	for i, s := range from {
		names[i] = string(s)
	}

	w, err := scanWithdrawal(r.db.QueryRow(ctx, query, id, names, to, reviewedBy, reason))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("failed to transition withdrawal: %w", err)
	}
	return w, nil
}

// CountSince counts a user's non-rejected withdrawals created at or after since.
func (r *WithdrawalRepository) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	const query = `
		SELECT COUNT(*) FROM withdrawals
		WHERE user_id = $1 AND created_at >= $2 AND status <> 'rejected'
	`

	var n int
	if err := r.db.QueryRow(ctx, query, userID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count withdrawals: %w", err)
	}
	return n, nil
}

// LastRequestedAt returns when the user last requested a withdrawal.
func (r *WithdrawalRepository) LastRequestedAt(ctx context.Context, userID string) (*time.Time, error) {
	var last *time.Time
	err := r.db.QueryRow(ctx, `SELECT MAX(created_at) FROM withdrawals WHERE user_id = $1`, userID).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("failed to get last withdrawal: %w", err)
	}
	return last, nil
}

func (r *WithdrawalRepository) list(ctx context.Context, query string, args ...any) ([]*model.Withdrawal, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	defer rows.Close()

	var out []*model.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating withdrawals: %w", err)
	}
	return out, nil
}

// ListByUser returns a user's withdrawals, newest first.
func (r *WithdrawalRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*model.Withdrawal, error) {
	return r.list(ctx, `SELECT `+withdrawalColumns+`
		FROM withdrawals WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
}

// ListByStatus returns the oldest withdrawals in a status, for the review queue.
func (r *WithdrawalRepository) ListByStatus(ctx context.Context, status model.WithdrawalStatus, limit int) ([]*model.Withdrawal, error) {
	return r.list(ctx, `SELECT `+withdrawalColumns+`
		FROM withdrawals WHERE status = $1 ORDER BY created_at LIMIT $2`, status, limit)
}
