package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/recstore/internal/backend"
	"github.com/roach88/recstore/internal/config"
	"github.com/roach88/recstore/internal/objstore"
)

// session is an accessor on the configured collection and the resources
// behind it.
type session struct {
	cfg     config.Config
	logger  *zap.Logger
	factory backend.Factory
	store   *objstore.Accessor[map[string]any]
}

// openSession loads config, builds the backend and opens the accessor.
// Failures are reported through f.
func openSession(ctx context.Context, opts *RootOptions, cmd *cobra.Command, f *OutputFormatter) (*session, error) {
	cfg, err := config.Load(cmd, opts.ConfigPath)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}

	logger, err := config.NewLogger(cfg.Log, opts.Verbose)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "failed to build logger", err)
	}

	factory, err := config.OpenFactory(ctx, cfg)
	if err != nil {
		_ = logger.Sync()
		return nil, f.Fail(ExitCommandError, ErrCodeDatabaseOpen, fmt.Sprintf("failed to open %s backend", cfg.Backend), err)
	}

	store, err := objstore.Open[map[string]any](ctx, factory, cfg.Accessor(), objstore.WithLogger(logger))
	if err == nil {
		err = store.Err()
	}
	if err != nil {
		_ = factory.Close()
		_ = logger.Sync()
		code, exit := classifyError(err)
		return nil, f.Fail(exit, code, fmt.Sprintf("failed to open %s/%s", cfg.Database, cfg.Collection), err)
	}

	logger.Debug("session opened",
		zap.String("backend", cfg.Backend),
		zap.String("database", cfg.Database),
		zap.String("collection", cfg.Collection),
	)
	return &session{cfg: cfg, logger: logger, factory: factory, store: store}, nil
}

func (s *session) Close() {
	_ = s.store.Close()
	if err := s.factory.Close(); err != nil {
		s.logger.Warn("close backend", zap.Error(err))
	}
	_ = s.logger.Sync()
}
