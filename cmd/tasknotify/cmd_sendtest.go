package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nhle/task-notifications/internal/fcm"
	"github.com/nhle/task-notifications/internal/logging"
	"github.com/nhle/task-notifications/internal/model"
)

func runSendTest(cmd *cobra.Command, _ []string) error {
	push, err := buildTestPush(time.Now())
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	out := cmd.OutOrStdout()
	if sendWebhook != "" {
		if err := postWake(ctx, sendWebhook, push); err != nil {
			return err
		}
		fmt.Fprintf(out, "Delivered %s to %s\n", push.Notification.ID, sendWebhook)
		return nil
	}

	logger, err := logging.New(os.Stderr, cfg.Log)
	if err != nil {
		return err
	}

	token := sendDeviceToken
	if token == "" {
		svc, err := openService(logger.Logger, nil)
		if err != nil {
			return err
		}
		reg, err := svc.Registrar.Current(ctx)
		svc.Close()
		if err != nil {
			return err
		}
		if !reg.Registered {
			return errors.New("this device has no registered token; run register first or pass --device-token")
		}
		token = reg.Token
	}

	creds := sendCredentials
	if creds == "" {
		creds = cfg.Wake.CredentialsFile
	}
	client, err := fcm.NewClient(ctx, creds, logger.Logger)
	if err != nil {
		return err
	}
	id, err := client.Send(ctx, token, push)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Sent %s (message %s)\n", push.Notification.ID, id)
	return nil
}

func buildTestPush(now time.Time) (fcm.Push, error) {
	kind, err := model.ParseKind(sendKind)
	if err != nil {
		return fcm.Push{}, err
	}
	id := sendID
	if id == "" {
		id = "test-" + uuid.NewString()
	}

	push := fcm.Push{Notification: model.Notification{
		ID:        id,
		TaskRef:   sendTaskRef,
		Kind:      kind,
		Title:     sendTitle,
		Message:   sendMessage,
		CreatedAt: now.UTC(),
	}}
	if sendDueIn > 0 {
		due := now.Add(sendDueIn)
		push.DueAt = &due
	}
	return push, nil
}

func postWake(ctx context.Context, target string, push fcm.Push) error {
	body, err := push.JSON()
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting to %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("wake endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
