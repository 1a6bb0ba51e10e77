package repo

import (
	"context"
	"database/sql"
	"time"

	"rootra/internal/config"
)

const serviceConfigID = "rootra"

// GetServiceConfig loads and parses the stored service configuration.
func (r Repo) GetServiceConfig(ctx context.Context) (*config.Config, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT yaml FROM service_configs WHERE id=?`, serviceConfigID)
	var raw string
	err := row.Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return config.Parse([]byte(raw))
}

// UpsertServiceConfig stores the configuration YAML after validating it.
func (r Repo) UpsertServiceConfig(ctx context.Context, tx *sql.Tx, yamlText string) error {
	if _, err := config.Parse([]byte(yamlText)); err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.exec(ctx, tx, `INSERT INTO service_configs(id, yaml, updated_at) VALUES (?,?,?)
		ON CONFLICT(id) DO UPDATE SET yaml=excluded.yaml, updated_at=excluded.updated_at`,
		serviceConfigID, yamlText, now)
	return err
}
