package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"mlm-platform/internal/model"
	"mlm-platform/internal/pkg/db"
)

// TransferRepository handles member-to-member transfers.
type TransferRepository struct {
	db db.DBTX
}

// NewTransferRepository creates a new TransferRepository instance.
func NewTransferRepository(conn db.DBTX) *TransferRepository {
	return &TransferRepository{db: conn}
}

// WithTx returns a repository bound to tx.
func (r *TransferRepository) WithTx(tx pgx.Tx) *TransferRepository {
	return &TransferRepository{db: tx}
}

const transferColumns = `id, sender_id, recipient_id, amount, fee, net_amount, note, created_at`

func scanTransfer(row pgx.Row) (*model.Transfer, error) {
	var t model.Transfer
	if err := row.Scan(&t.ID, &t.SenderID, &t.RecipientID, &t.Amount, &t.Fee, &t.NetAmount, &t.Note, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// Create records a completed transfer.
func (r *TransferRepository) Create(ctx context.Context, t *model.Transfer) (*model.Transfer, error) {
	query := `
		INSERT INTO transfers (id, sender_id, recipient_id, amount, fee, net_amount, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING ` + transferColumns

	created, err := scanTransfer(r.db.QueryRow(ctx, query,
		t.ID, t.SenderID, t.RecipientID, t.Amount, t.Fee, t.NetAmount, t.Note))
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer: %w", err)
	}
	return created, nil
}

// CountSince counts transfers sent by a user at or after since.
func (r *TransferRepository) CountSince(ctx context.Context, senderID string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM transfers WHERE sender_id = $1 AND created_at >= $2`,
		senderID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count transfers: %w", err)
	}
	return n, nil
}

// LastSentAt returns when the user last sent a transfer.
func (r *TransferRepository) LastSentAt(ctx context.Context, senderID string) (*time.Time, error) {
	var last *time.Time
	err := r.db.QueryRow(ctx, `SELECT MAX(created_at) FROM transfers WHERE sender_id = $1`, senderID).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("failed to get last transfer: %w", err)
	}
	return last, nil
}

// ListByUser returns transfers sent or received by a user, newest first.
func (r *TransferRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*model.Transfer, error) {
	query := `SELECT ` + transferColumns + `
		FROM transfers
		WHERE sender_id = $1 OR recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer rows.Close()

	var out []*model.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
