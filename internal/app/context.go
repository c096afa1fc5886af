package app

import (
	"context"
	"fmt"
	"log/slog"

	"pensa/internal/config"
	"pensa/internal/db"
	"pensa/internal/engine"
	"pensa/internal/migrate"
)

// Store is an opened workspace: the engine plus the resolved config.
type Store struct {
	Engine    engine.Engine
	Config    *config.Config
	Workspace string
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.Engine.DB == nil {
		return nil
	}
	return s.Engine.DB.Close()
}

// OpenStore prepares a workspace for serving: it loads .pensa/config.yml
// (defaults when absent), opens and migrates the database, and imports the
// JSONL snapshot when the store is empty and a snapshot is present.
// A nil cfg is loaded from the workspace.
func OpenStore(ctx context.Context, workspace string, cfg *config.Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		var err error
		if cfg, err = config.LoadOptional(workspace); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	dir, err := db.EnsureWorkspace(workspace)
	if err != nil {
		return nil, fmt.Errorf("prepare workspace: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace, BusyTimeout: cfg.BusyTimeout()})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	st := &Store{Engine: engine.New(conn, dir), Config: cfg, Workspace: workspace}

	imported, res, err := st.Engine.AutoImport(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("auto import: %w", err)
	}
	if imported {
		logger.Info("imported snapshot into empty store",
			"dir", dir, "issues", res.Issues, "deps", res.Deps, "comments", res.Comments)
	}
	logger.Debug("store ready", "path", db.Path(workspace))
	return st, nil
}
