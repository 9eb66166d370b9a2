package connector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Store persists connectors registered through the API so they survive a
// restart.
type Store interface {
	// Save inserts or replaces the configuration with config.ID.
	Save(ctx context.Context, config Config) error
	List(ctx context.Context) ([]Config, error)
	// Delete removes the configuration. A missing id is not an error.
	Delete(ctx context.Context, id string) error
}

const storeSchemaSQL = `
CREATE TABLE IF NOT EXISTS connectors (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	type       TEXT NOT NULL,
	settings   JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

type store struct {
	db *sqlx.DB
}

// NewStore creates a new connector store.
func NewStore(db *sqlx.DB) Store {
	return &store{db: db}
}

// EnsureStoreSchema creates the connectors table when it does not exist.
func EnsureStoreSchema(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, storeSchemaSQL)
	return err
}

type configRow struct {
	ID       string `db:"id"`
	Name     string `db:"name"`
	Type     string `db:"type"`
	Settings []byte `db:"settings"`
}

func (s *store) Save(ctx context.Context, config Config) error {
	settings := config.Settings
	if settings == nil {
		settings = map[string]any{}
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings of %s: %w", config.ID, err)
	}
	// settings carry the connector credentials in clear text
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO connectors (id, name, type, settings)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, type = EXCLUDED.type, settings = EXCLUDED.settings, updated_at = NOW()`,
		config.ID, config.Name, config.Type, string(raw),
	)
	return err
}

func (s *store) List(ctx context.Context) ([]Config, error) {
	var rows []configRow
	err := s.db.SelectContext(ctx, &rows, `SELECT id, name, type, settings FROM connectors ORDER BY id`)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	configs := make([]Config, 0, len(rows))
	for _, r := range rows {
		c := Config{ID: r.ID, Name: r.Name, Type: r.Type, Settings: map[string]any{}}
		if err := json.Unmarshal(r.Settings, &c.Settings); err != nil {
			return nil, fmt.Errorf("decode settings of %s: %w", r.ID, err)
		}
		configs = append(configs, c)
	}
	return configs, nil
}

func (s *store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM connectors WHERE id = $1`, id)
	return err
}

// RestoreConnectors registers every stored connector with r. A stored
// connector that fails to open is logged and skipped.
func RestoreConnectors(ctx context.Context, r Registry, st Store, logger *zap.Logger) (int, error) {
	configs, err := st.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range configs {
		if _, err := r.Create(c); err != nil {
			logger.Error("Failed to restore connector", zap.String("id", c.ID), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}
