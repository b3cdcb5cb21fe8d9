package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nhle/task-notifications/internal/device"
	"github.com/nhle/task-notifications/internal/logging"
)

func runRegister(cmd *cobra.Command, _ []string) error {
	logger, err := logging.New(os.Stderr, cfg.Log)
	if err != nil {
		return err
	}

	svc, err := openService(logger.Logger, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signalContext()
	defer stop()

	if rotateToken {
		tokens, ok := svc.Tokens.(*device.InstallationTokens)
		if !ok {
			return errors.New("device.token is set in config; remove it to use a generated installation token")
		}
		if _, err := tokens.Rotate(ctx); err != nil {
			return err
		}
	}

	res := svc.Start(ctx)
	if res.Err != nil {
		return res.Err
	}

	out := cmd.OutOrStdout()
	if res.Skipped {
		fmt.Fprintf(out, "Already registered as %s device %s\n", res.Registration.DeviceType, shortToken(res.Registration.Token))
		return nil
	}
	fmt.Fprintf(out, "Registered %s device %s\n", res.Registration.DeviceType, shortToken(res.Registration.Token))
	return nil
}

func shortToken(t string) string {
	if len(t) <= 12 {
		return t
	}
	return t[:12] + "..."
}
