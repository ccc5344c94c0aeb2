package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"mlm-platform/internal/model"
	"mlm-platform/internal/pkg/db"
)

// DistributionRepository records referral income awards.
type DistributionRepository struct {
	db db.DBTX
}

// NewDistributionRepository creates a new DistributionRepository instance.
func NewDistributionRepository(conn db.DBTX) *DistributionRepository {
	return &DistributionRepository{db: conn}
}

// WithTx returns a repository bound to tx.
func (r *DistributionRepository) WithTx(tx pgx.Tx) *DistributionRepository {
	return &DistributionRepository{db: tx}
}

// Insert records an award. inserted is false when the
// (activation, beneficiary, level) triple already exists.
func (r *DistributionRepository) Insert(ctx context.Context, d *model.Distribution) (inserted bool, err error) {
	const query = `
		INSERT INTO referral_distributions (activation_id, beneficiary_id, level, income_type, percent, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (activation_id, beneficiary_id, level) DO NOTHING
		RETURNING id, created_at
	`

	err = r.db.QueryRow(ctx, query,
		d.ActivationID, d.BeneficiaryID, d.Level, d.IncomeType, d.Percent, d.Amount,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert distribution: %w", err)
	}
	return true, nil
}

// Exists reports whether a triple has already been awarded.
func (r *DistributionRepository) Exists(ctx context.Context, activationID, beneficiaryID string, level int) (bool, error) {
	const query = `
		SELECT EXISTS(
			SELECT 1 FROM referral_distributions
			WHERE activation_id = $1 AND beneficiary_id = $2 AND level = $3
		)
	`

	var exists bool
	if err := r.db.QueryRow(ctx, query, activationID, beneficiaryID, level).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check distribution: %w", err)
	}
	return exists, nil
}

const distributionColumns = `id, activation_id, beneficiary_id, level, income_type, percent, amount, created_at`

func (r *DistributionRepository) list(ctx context.Context, query string, args ...any) ([]*model.Distribution, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list distributions: %w", err)
	}
	defer rows.Close()

	var out []*model.Distribution
	for rows.Next() {
		var d model.Distribution
		if err := rows.Scan(&d.ID, &d.ActivationID, &d.BeneficiaryID, &d.Level, &d.IncomeType, &d.Percent, &d.Amount, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan distribution: %w", err)
		}
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating distributions: %w", err)
	}
	return out, nil
}

// ListByActivation returns every award made for an activation.
func (r *DistributionRepository) ListByActivation(ctx context.Context, activationID string) ([]*model.Distribution, error) {
	return r.list(ctx, `SELECT `+distributionColumns+`
		FROM referral_distributions WHERE activation_id = $1 ORDER BY level, beneficiary_id`, activationID)
}

// ListByBeneficiary returns a member's most recent awards.
func (r *DistributionRepository) ListByBeneficiary(ctx context.Context, beneficiaryID string, limit int) ([]*model.Distribution, error) {
	return r.list(ctx, `SELECT `+distributionColumns+`
		FROM referral_distributions WHERE beneficiary_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		beneficiaryID, limit)
}
