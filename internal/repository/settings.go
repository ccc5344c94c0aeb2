package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"mlm-platform/internal/pkg/db"
)

// SettingsRepository stores admin settings documents as JSONB by key.
type SettingsRepository struct {
	db db.DBTX
}

// NewSettingsRepository creates a new SettingsRepository instance.
func NewSettingsRepository(conn db.DBTX) *SettingsRepository {
	return &SettingsRepository{db: conn}
}

// GetAll returns every stored document keyed by name.
func (r *SettingsRepository) GetAll(ctx context.Context) (map[string][]byte, error) {
	rows, err := r.db.Query(ctx, `SELECT key, value::text FROM admin_settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	defer rows.Close()

	docs := make(map[string][]byte)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		docs[key] = []byte(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settings: %w", err)
	}
	return docs, nil
}

// Get returns one stored document.
func (r *SettingsRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := r.db.QueryRow(ctx, `SELECT value::text FROM admin_settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSettingNotFound
		}
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}
	return []byte(value), nil
}

// Put stores a document, replacing any previous version.
func (r *SettingsRepository) Put(ctx context.Context, key string, value []byte, updatedBy string) error {
	const query = `
		INSERT INTO admin_settings (key, value, updated_by, updated_at)
		VALUES ($1, $2::jsonb, $3, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_by = EXCLUDED.updated_by, updated_at = NOW()
	`

	if _, err := r.db.Exec(ctx, query, key, string(value), updatedBy); err != nil {
		return fmt.Errorf("failed to save setting: %w", err)
	}
	return nil
}
