package app

import (
	"context"
	"errors"
	"fmt"

	"stageflow/internal/config"
	"stageflow/internal/engine"
	"stageflow/internal/repo"
)

// ResolveSpace picks the active space: the override when given, otherwise
// the single space in the database. Seeds the space from workspace config
// (or defaults) when it does not exist yet, granting the actor ownership.
func ResolveSpace(ctx context.Context, eng engine.Engine, workspace, spaceOverride, actorID string) (string, error) {
	spaceID := spaceOverride
	if spaceID == "" {
		if cfg, err := config.LoadOptional(workspace); err == nil && cfg != nil {
			spaceID = cfg.Space.ID
		}
	}
	if spaceID == "" {
		s, err := eng.Repo.SingleSpace(ctx)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return "", fmt.Errorf("no space exists; run sf space init first")
			}
			return "", err
		}
		return s.ID, nil
	}
	if _, err := eng.Repo.GetSpace(ctx, spaceID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", err
		}
		cfg, err := config.LoadOptional(workspace)
		if err != nil {
			return "", err
		}
		if cfg == nil || cfg.Space.ID != spaceID {
			cfg = config.Default(spaceID)
		}
		if _, _, err := eng.InitSpace(ctx, cfg, actorID); err != nil {
			return "", fmt.Errorf("seed space %s: %w", spaceID, err)
		}
	}
	return spaceID, nil
}
