package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatrelay/internal/logger"
	"github.com/jackc/pgx/v5"
)

// SettingsRepository — ключ-значение relay_settings (режим -dev без Redis).
type SettingsRepository struct {
	db DB
}

func NewSettingsRepository(db DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) Get(ctx context.Context, key string) (string, error) {
	defer logger.DeferLogDuration("settings.Get", time.Now())()
	var v string
	err := r.db.QueryRow(ctx, `SELECT value FROM relay_settings WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("settingsRepo.Get: %w", err)
	}
	return v, nil
}

func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	defer logger.DeferLogDuration("settings.Set", time.Now())()
	_, err := r.db.Exec(ctx,
		`INSERT INTO relay_settings (key, value, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("settingsRepo.Set: %w", err)
	}
	return nil
}
