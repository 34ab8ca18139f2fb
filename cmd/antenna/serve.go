package main

import (
	"net"

	"github.com/cockroachdb/errors"
	"github.com/crashstats/antenna/config"
	"github.com/crashstats/antenna/internal/bootstrap"
	"github.com/crashstats/antenna/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the collector HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return errors.Wrap(err, "load config")
			}

			log, err := logger.New(cfg.App.Environment, cfg.App.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if !cfg.EnvFileLoaded {
				log.Debug("no .env file found, using process environment")
			}

			ctx := cmd.Context()
			app, err := bootstrap.NewApp(ctx, cfg, log)
			if err != nil {
				log.Error("startup failed", zap.Error(err))
				return err
			}

			ln, err := net.Listen("tcp", ":"+cfg.Server.Port)
			if err != nil {
				return errors.Wrapf(err, "listen on :%s", cfg.Server.Port)
			}
			return app.Run(ctx, ln)
		},
	}
}
