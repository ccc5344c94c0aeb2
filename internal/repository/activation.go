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

const activationColumns = `
	id, user_id, plan_id, program, amount, funded_by, sponsor_id, payment_ref,
	referral_status, referral_processed_at, created_at`

func scanActivation(row pgx.Row) (*model.Activation, error) {
	var a model.Activation
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.PlanID,
		&a.Program,
		&a.Amount,
		&a.FundedBy,
		&a.SponsorID,
		&a.PaymentRef,
		&a.ReferralStatus,
		&a.ReferralProcessedAt,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ActivationRepository handles funded package records.
type ActivationRepository struct {
	db db.DBTX
}

// NewActivationRepository creates a new ActivationRepository instance.
func NewActivationRepository(conn db.DBTX) *ActivationRepository {
	return &ActivationRepository{db: conn}
}

// WithTx returns a repository bound to tx.
func (r *ActivationRepository) WithTx(tx pgx.Tx) *ActivationRepository {
	return &ActivationRepository{db: tx}
}

// Create inserts an activation. Returns ErrPaymentRefUsed when the payment
// reference was already recorded.
func (r *ActivationRepository) Create(ctx context.Context, a *model.Activation) (*model.Activation, error) {
	query := `
		INSERT INTO activations (id, user_id, plan_id, program, amount, funded_by, sponsor_id,
			payment_ref, referral_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING ` + activationColumns

	created, err := scanActivation(r.db.QueryRow(ctx, query,
		a.ID, a.UserID, a.PlanID, a.Program, a.Amount, a.FundedBy, a.SponsorID,
		a.PaymentRef, a.ReferralStatus,
	))
	if err != nil {
		if db.IsUniqueViolation(err, "activations_payment_ref_key") {
			return nil, ErrPaymentRefUsed
		}
		return nil, fmt.Errorf("failed to create activation: %w", err)
	}
	return created, nil
}

func (r *ActivationRepository) getOne(ctx context.Context, query string, arg any) (*model.Activation, error) {
	a, err := scanActivation(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrActivationNotFound
		}
		return nil, fmt.Errorf("failed to get activation: %w", err)
	}
	return a, nil
}

// GetByID retrieves an activation by id.
func (r *ActivationRepository) GetByID(ctx context.Context, id string) (*model.Activation, error) {
	return r.getOne(ctx, `SELECT `+activationColumns+` FROM activations WHERE id = $1`, id)
}

// GetByPaymentRef retrieves the activation funded by a gateway payment.
func (r *ActivationRepository) GetByPaymentRef(ctx context.Context, ref string) (*model.Activation, error) {
	return r.getOne(ctx, `SELECT `+activationColumns+` FROM activations WHERE payment_ref = $1`, ref)
}

// Cursor is a keyset position over (created_at, id).
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// ListForProcessing returns up to limit activations after cursor in
// (created_at, id) order. When statuses is empty every activation matches.
func (r *ActivationRepository) ListForProcessing(ctx context.Context, statuses []model.ReferralStatus, after Cursor, limit int) ([]*model.Activation, error) {
	query := `SELECT ` + activationColumns + `
		FROM activations
		WHERE (cardinality($1::text[]) = 0 OR referral_status = ANY($1::text[]))
		  AND (created_at, id::text) > ($2, $3)
		ORDER BY created_at, id::text
		LIMIT $4`

	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	rows, err := r.db.Query(ctx, query, names, after.CreatedAt, after.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activations: %w", err)
	}
	defer rows.Close()

	var out []*model.Activation
	for rows.Next() {
		a, err := scanActivation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activation: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activations: %w", err)
	}
	return out, nil
}

// MarkReferralStatus records the outcome of referral processing.
func (r *ActivationRepository) MarkReferralStatus(ctx context.Context, id string, status model.ReferralStatus) error {
	const query = `
		UPDATE activations
		SET referral_status = $2,
			referral_processed_at = CASE WHEN $2 IN ('processed', 'not_applicable') THEN NOW() ELSE referral_processed_at END
		WHERE id = $1
	`

	result, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to mark activation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrActivationNotFound
	}
	return nil
}

// ListByUser returns a user's activations, newest first.
func (r *ActivationRepository) ListByUser(ctx context.Context, userID string) ([]*model.Activation, error) {
	query := `SELECT ` + activationColumns + ` FROM activations WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list activations: %w", err)
	}
	defer rows.Close()

	var out []*model.Activation
	for rows.Next() {
		a, err := scanActivation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
