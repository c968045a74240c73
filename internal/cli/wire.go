package cli

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"bitespeed/internal/config"
	"bitespeed/internal/database"
	"bitespeed/internal/logger"
)

// env bundles what every subcommand needs: config, logger, open database.
type env struct {
	cfg    *config.Config
	logger *logrus.Logger
	db     *database.DB
}

func setup(ctx context.Context, cmd *cobra.Command) (*env, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if cfg.Environment == config.EnvTest {
		level = "warn"
	}
	log, err := logger.New(level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	log.WithField("environment", cfg.Environment).Info("configuration loaded")

	db, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: log, db: db}, nil
}

func (e *env) Close() {
	if err := e.db.Close(); err != nil {
		e.logger.WithError(err).Error("closing database")
	}
}
