package main

import (
	"context"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"manvsim.ai/internal/persistence/indexdb"
	"manvsim.ai/internal/sim/tuning"
)

// openStore opens the exercise index. It returns nil when indexing is
// disabled; the manager then resolves ids from exercise.json files.
func openStore(ctx context.Context, cfg tuning.Store, dataDir string, disable bool, log *zap.Logger) (*indexdb.Store, error) {
	if disable {
		return nil, nil
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "none", "off", "disabled":
		return nil, nil
	case "", "sqlite":
		dsn := strings.TrimSpace(cfg.DSN)
		if dsn == "" {
			dsn = filepath.Join(dataDir, "index", "exercises.sqlite")
		}
		return indexdb.OpenSQLite(dsn, log.Named("indexdb"))
	}
	return indexdb.Open(ctx, driver, cfg.DSN, log.Named("indexdb"))
}
