package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/task-notifications/internal/credential"
	"github.com/nhle/task-notifications/internal/model"
)

func runConfigure(cmd *cobra.Command, _ []string) error {
	c := *cfg
	var token string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Backend URL").
				Description("API root the /notifications paths hang off").
				Placeholder("https://tasks.example.com/api").
				Value(&c.Backend.BaseURL).
				Validate(validateURL),
			huh.NewInput().
				Title("Live channel URL").
				Description("Optional websocket endpoint for foreground delivery").
				Placeholder("wss://tasks.example.com/ws/notifications").
				Value(&c.Backend.LiveURL).
				Validate(validateOptionalURL),
			huh.NewInput().
				Title("Access token").
				Description("Stored in the system keyring. Leave empty to keep the current one").
				EchoMode(huh.EchoModePassword).
				Value(&token),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Device type").
				Options(
					huh.NewOption("Desktop", "desktop"),
					huh.NewOption("Android", "android"),
					huh.NewOption("iOS", "ios"),
				).
				Value(&c.Device.Type),
			huh.NewSelect[string]().
				Title("Preferences store").
				Options(
					huh.NewOption("SQLite (same file as notifications)", "sqlite"),
					huh.NewOption("Badger (separate directory)", "badger"),
				).
				Value(&c.Storage.Preferences),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil
		}
		return err
	}

	if err := c.Validate(); err != nil {
		return err
	}
	if err := model.SaveConfig(configPath, &c); err != nil {
		return err
	}

	if token = strings.TrimSpace(token); token != "" {
		vault, err := credential.Open(model.ConfigDir())
		if err != nil {
			return err
		}
		if err := vault.Set(credential.AccessTokenKey, token); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", configPath)
	return nil
}

func validateURL(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errors.New("URL is required")
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return errors.New("enter a full URL, e.g. https://tasks.example.com/api")
	}
	return nil
}

func validateOptionalURL(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return validateURL(s)
}
