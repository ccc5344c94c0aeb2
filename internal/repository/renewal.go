package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"mlm-platform/internal/model"
	"mlm-platform/internal/pkg/db"
)

// RenewalRepository records cap renewals.
type RenewalRepository struct {
	db db.DBTX
}

// NewRenewalRepository creates a new RenewalRepository instance.
func NewRenewalRepository(conn db.DBTX) *RenewalRepository {
	return &RenewalRepository{db: conn}
}

// WithTx returns a repository bound to tx.
func (r *RenewalRepository) WithTx(tx pgx.Tx) *RenewalRepository {
	return &RenewalRepository{db: tx}
}

const renewalColumns = `id, user_id, method, reference, amount, payer_id, previous_earnings, new_baseline, created_at`

func scanRenewal(row pgx.Row) (*model.Renewal, error) {
	var rn model.Renewal
	err := row.Scan(&rn.ID, &rn.UserID, &rn.Method, &rn.Reference, &rn.Amount, &rn.PayerID,
		&rn.PreviousEarnings, &rn.NewBaseline, &rn.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rn, nil
}

// Create inserts a renewal. inserted is false if (user, reference) exists.
func (r *RenewalRepository) Create(ctx context.Context, rn *model.Renewal) (inserted bool, err error) {
	const query = `
		INSERT INTO renewals (id, user_id, method, reference, amount, payer_id, previous_earnings, new_baseline, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (user_id, reference) DO NOTHING
		RETURNING created_at
	`

	err = r.db.QueryRow(ctx, query,
		rn.ID, rn.UserID, rn.Method, rn.Reference, rn.Amount, rn.PayerID, rn.PreviousEarnings, rn.NewBaseline,
	).Scan(&rn.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create renewal: %w", err)
	}
	return true, nil
}

// GetByReference retrieves a renewal by its per-user reference.
func (r *RenewalRepository) GetByReference(ctx context.Context, userID, reference string) (*model.Renewal, error) {
	rn, err := scanRenewal(r.db.QueryRow(ctx,
		`SELECT `+renewalColumns+` FROM renewals WHERE user_id = $1 AND reference = $2`, userID, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRenewalNotFound
		}
		return nil, fmt.Errorf("failed to get renewal: %w", err)
	}
	return rn, nil
}
