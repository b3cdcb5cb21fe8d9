package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nhle/task-notifications/internal/alert"
	"github.com/nhle/task-notifications/internal/credential"
	"github.com/nhle/task-notifications/internal/model"
	"github.com/nhle/task-notifications/internal/service"
)

// loadConfig runs before every command.
func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := model.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	cfg = c
	return nil
}

// openService wires the notification components with the keyring vault as
// the backend token source.
func openService(logger *slog.Logger, notifier alert.Notifier) (*service.Service, error) {
	vault, err := credential.Open(model.ConfigDir())
	if err != nil {
		return nil, err
	}
	return service.New(cfg, service.Deps{
		Tokens:   vault,
		Notifier: notifier,
		Logger:   logger,
	})
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
