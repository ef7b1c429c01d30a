package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"harkness_helper/internal/domain/settings"
)

type PostgresSettingsRepository struct {
	db *sql.DB
}

func NewPostgresSettingsRepository(db *sql.DB) *PostgresSettingsRepository {
	return &PostgresSettingsRepository{db: db}
}

func (r *PostgresSettingsRepository) LoadSettings(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("error loading settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("error scanning setting: %w", err)
		}
		out[k] = v
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settings: %w", err)
	}
	return out, nil
}

func (r *PostgresSettingsRepository) SaveSetting(ctx context.Context, key, value string) error {
	query := `INSERT INTO settings (key, value) VALUES ($1, $2)
              ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
	if _, err := r.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("error saving setting %s: %w", key, err)
	}
	return nil
}

func (r *PostgresSettingsRepository) GetPrompt(ctx context.Context, name string) (string, error) {
	var text string
	err := r.db.QueryRowContext(ctx, `SELECT text FROM prompts WHERE name = $1`, name).Scan(&text)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", settings.ErrPromptNotFound
		}
		return "", fmt.Errorf("error getting prompt %s: %w", name, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", settings.ErrPromptNotFound
	}
	return text, nil
}

// SeedSettings inserts every default key that is not stored yet.
func (r *PostgresSettingsRepository) SeedSettings(ctx context.Context) error {
	for _, d := range settings.Defaults {
		query := `INSERT INTO settings (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`
		if _, err := r.db.ExecContext(ctx, query, d[0], d[1]); err != nil {
			return fmt.Errorf("error seeding setting %s: %w", d[0], err)
		}
	}
	return nil
}

// SeedPrompts stores the built-in templates under names not present yet so
// they can be edited in place.
func (r *PostgresSettingsRepository) SeedPrompts(ctx context.Context, prompts map[string]string) error {
	for name, text := range prompts {
		query := `INSERT INTO prompts (name, text) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`
		if _, err := r.db.ExecContext(ctx, query, name, text); err != nil {
			return fmt.Errorf("error seeding prompt %s: %w", name, err)
		}
	}
	return nil
}

// Store bundles the Postgres repositories into one record store.
type Store struct {
	*PostgresDiscussionRepository
	*PostgresRosterRepository
	*PostgresSettingsRepository
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		PostgresDiscussionRepository: NewPostgresDiscussionRepository(db),
		PostgresRosterRepository:     NewPostgresRosterRepository(db),
		PostgresSettingsRepository:   NewPostgresSettingsRepository(db),
	}
}
