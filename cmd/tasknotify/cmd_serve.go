package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/nhle/task-notifications/internal/alert"
	"github.com/nhle/task-notifications/internal/logging"
	"github.com/nhle/task-notifications/internal/model"
)

func runServe(cmd *cobra.Command, _ []string) error {
	logger, err := logging.New(os.Stderr, cfg.Log)
	if err != nil {
		return err
	}

	svc, err := openService(logger.Logger, alert.NewWriterNotifier(cmd.OutOrStdout()))
	if err != nil {
		return err
	}
	defer svc.Close()

	if _, err := os.Stat(configPath); err == nil {
		model.WatchConfig(configPath, func(c *model.AppConfig) {
			if err := logger.SetLevel(c.Log.Level); err != nil {
				logger.Warn("ignoring log level from reloaded config", "error", err)
				return
			}
			logger.Info("config reloaded", "log_level", c.Log.Level)
		}, func(err error) {
			logger.Warn("config reload failed", "error", err)
		})
	}

	ctx, stop := signalContext()
	defer stop()

	res := svc.Start(ctx)
	if res.Err == nil {
		logger.Info("device ready", "skipped", res.Skipped, "device_type", res.Registration.DeviceType)
	}

	logger.Info("serving", "listen_addr", cfg.Wake.ListenAddr, "live", cfg.Backend.LiveURL != "")
	return svc.Run(ctx, true)
}
