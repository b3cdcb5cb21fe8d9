package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/task-notifications/internal/model"
)

var (
	cfg *model.AppConfig

	configPath string
	logLevel   string

	listenWake  bool
	rotateToken bool

	sendID          string
	sendKind        string
	sendTitle       string
	sendMessage     string
	sendTaskRef     string
	sendDueIn       time.Duration
	sendWebhook     string
	sendDeviceToken string
	sendCredentials string

	rootCmd = &cobra.Command{
		Use:   "tasknotify",
		Short: "Task notifications on this device",
		Long: `tasknotify receives task notifications pushed by the backend, shows
alerts and reminders, and keeps read and deleted status in sync.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}

	feedCmd = &cobra.Command{
		Use:   "feed",
		Short: "Open the notification feed",
		Args:  cobra.NoArgs,
		RunE:  runFeed,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Receive pushes headless and print alerts",
		Long: `serve runs every configured delivery path, the reminder scheduler
and periodic refresh without a UI. The wake webhook and /metrics are
served on wake.listen_addr.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	registerCmd = &cobra.Command{
		Use:   "register",
		Short: "Register this device's push token with the backend",
		Args:  cobra.NoArgs,
		RunE:  runRegister,
	}

	configureCmd = &cobra.Command{
		Use:   "configure",
		Short: "Set the backend endpoint and access token",
		Args:  cobra.NoArgs,
		RunE:  runConfigure,
	}

	sendTestCmd = &cobra.Command{
		Use:   "send-test",
		Short: "Send a test push to this device",
		Long: `send-test builds a push in the backend's format and delivers it through
Firebase Cloud Messaging, or straight to a wake webhook with --webhook.`,
		Args: cobra.NoArgs,
		RunE: runSendTest,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", model.DefaultConfigPath(), "Path to the config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(feedCmd)
	feedCmd.Flags().BoolVar(&listenWake, "listen", false, "Also serve the wake webhook while the feed is open")

	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(registerCmd)
	registerCmd.Flags().BoolVar(&rotateToken, "rotate", false, "Generate a new installation token before registering")

	rootCmd.AddCommand(configureCmd)

	rootCmd.AddCommand(sendTestCmd)
	sendTestCmd.Flags().StringVar(&sendID, "id", "", "Notification id (default: random)")
	sendTestCmd.Flags().StringVar(&sendKind, "kind", "info", "task, warning, success, info or due_date")
	sendTestCmd.Flags().StringVar(&sendTitle, "title", "Test notification", "Alert title")
	sendTestCmd.Flags().StringVar(&sendMessage, "message", "This is a test notification", "Alert text")
	sendTestCmd.Flags().StringVar(&sendTaskRef, "task", "", "Task reference")
	sendTestCmd.Flags().DurationVar(&sendDueIn, "due-in", 0, "Set due_at this far ahead so a reminder is scheduled")
	sendTestCmd.Flags().StringVar(&sendWebhook, "webhook", "", "POST the push to this wake URL instead of FCM")
	sendTestCmd.Flags().StringVar(&sendDeviceToken, "device-token", "", "Target token (default: this device's registered token)")
	sendTestCmd.Flags().StringVar(&sendCredentials, "credentials", "", "Firebase service account file (default: wake.credentials_file)")
}
