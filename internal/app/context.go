package app

import (
	"context"
	"errors"
	"log"

	"crewline/internal/config"
	"crewline/internal/engine"
	"crewline/internal/feature"
	"crewline/internal/predictor"
	"crewline/internal/repo"
)

// ResolveConfig loads crewline.yml from the workspace, falling back to the
// default template when the file does not exist. crew init writes the
// file; every other entry point works without one.
func ResolveConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default("crew")
	}
	return cfg, nil
}

// Prime brings a freshly constructed engine in line with the database: the
// workload ledger is seeded from the stored user counters and the
// persisted predictor snapshot is installed into the ranker. Call it once
// after engine.New, before the first assignment is served.
func Prime(ctx context.Context, e engine.Engine, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	users, err := e.Repo.ListUsers(ctx)
	if err != nil {
		return err
	}
	counts := make(map[string]int, len(users))
	for _, u := range users {
		counts[u.ID] = u.OpenTasks
	}
	e.Core.Ledger().Seed(counts)

	rec, err := e.Repo.GetModel(ctx, engine.ModelSlot)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	snap, err := predictor.DecodeSnapshot(rec.Artifact)
	if err != nil {
		logger.Printf("model restore: stored artifact unreadable, starting cold: %v", err)
		return nil
	}
	if snap.SchemaVersion != feature.SchemaVersion {
		logger.Printf("model restore: snapshot schema v%d does not match feature schema v%d, starting cold until retrain", snap.SchemaVersion, feature.SchemaVersion)
		return nil
	}
	e.Core.Install(snap)
	return nil
}
