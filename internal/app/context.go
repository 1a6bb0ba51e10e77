package app

import (
	"context"
	"errors"
	"fmt"

	"rootra/internal/config"
	"rootra/internal/repo"
)

// ResolveConfig loads the stored service configuration, seeding the default
// template on first run.
func ResolveConfig(ctx context.Context, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetServiceConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if err := r.UpsertServiceConfig(ctx, nil, config.DefaultYAML()); err != nil {
		return nil, fmt.Errorf("seed config: %w", err)
	}
	return config.Default(), nil
}
