package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
)

// SettingsRepository reads and writes sync_settings rows.
type SettingsRepository struct {
	db *sqlx.DB
}

// NewSettingsRepository creates a new settings repository.
func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns the setting for key or ErrNotFound.
func (r *SettingsRepository) Get(ctx context.Context, key string) (*domain.Setting, error) {
	query := `SELECT key, value, updated_at, updated_by FROM sync_settings WHERE key = $1`

	var setting domain.Setting
	if err := r.db.GetContext(ctx, &setting, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get setting %s: %w", key, err)
	}

	return &setting, nil
}

// Set writes value for key, recording who changed it.
func (r *SettingsRepository) Set(ctx context.Context, key, value, updatedBy string) (*domain.Setting, error) {
	query := `
		INSERT INTO sync_settings (key, value, updated_by, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()
		RETURNING key, value, updated_at, updated_by
	`

	var setting domain.Setting
	if err := r.db.GetContext(ctx, &setting, query, key, value, updatedBy); err != nil {
		return nil, fmt.Errorf("set setting %s: %w", key, err)
	}

	return &setting, nil
}
