package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nhle/task-notifications/internal/app"
	"github.com/nhle/task-notifications/internal/logging"
	"github.com/nhle/task-notifications/internal/model"
)

func runFeed(cmd *cobra.Command, _ []string) error {
	// The TUI owns the terminal, so logs go to a file.
	logger, err := logging.NewFile(model.ConfigDir(), "tasknotify.log", cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Close()

	alerts := app.NewAlertQueue(16)
	svc, err := openService(logger.Logger, alerts)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signalContext()
	defer stop()

	registered := make(chan struct{})
	go func() {
		defer close(registered)
		svc.Start(ctx)
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(ctx, listenWake) }()

	p := tea.NewProgram(app.New(app.Deps{
		Feed:      svc.Feed,
		Actions:   svc.Sync,
		Results:   svc.Sync,
		Refresher: svc.Poller,
		Alerts:    alerts,
	}), tea.WithAltScreen())

	_, uiErr := p.Run()
	stop()

	if err := <-runErr; err != nil {
		logger.Error("background components stopped with error", "error", err)
		if uiErr == nil {
			uiErr = err
		}
	}
	<-registered

	if uiErr != nil {
		return fmt.Errorf("running feed: %w", uiErr)
	}
	return nil
}
