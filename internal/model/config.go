package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// envPrefix namespaces environment overrides, e.g. TASKNOTIFY_BACKEND_BASE_URL.
const envPrefix = "TASKNOTIFY"

// BackendConfig holds the REST and live-channel endpoints.
type BackendConfig struct {
	// BaseURL is the API root, e.g. https://api.example.com/api/v1.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// LiveURL is the websocket endpoint used while the app is foregrounded.
	LiveURL string `mapstructure:"live_url" yaml:"live_url"`

	TimeoutSec     int     `mapstructure:"timeout_sec" yaml:"timeout_sec"`
	RequestsPerSec float64 `mapstructure:"requests_per_sec" yaml:"requests_per_sec"`
}

// DeviceConfig identifies this installation to the backend.
type DeviceConfig struct {
	Type string `mapstructure:"type" yaml:"type"`

	// Token pins a platform-issued push token. When empty an installation
	// token is generated and persisted locally.
	Token string `mapstructure:"token" yaml:"token"`
}

// SyncConfig controls status sync retries and feed refresh.
type SyncConfig struct {
	MaxAttempts int     `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelayMs int     `mapstructure:"base_delay_ms" yaml:"base_delay_ms"`
	Multiplier  float64 `mapstructure:"multiplier" yaml:"multiplier"`

	// RefreshIntervalSec enables periodic feed refresh; 0 disables it.
	RefreshIntervalSec int `mapstructure:"refresh_interval_sec" yaml:"refresh_interval_sec"`
}

// FeedConfig controls feed windowing.
type FeedConfig struct {
	RecentWindowDays int `mapstructure:"recent_window_days" yaml:"recent_window_days"`
}

// StorageConfig locates local persistence.
type StorageConfig struct {
	DBPath string `mapstructure:"db_path" yaml:"db_path"`

	// Preferences selects the key/value backend: "sqlite" or "badger".
	Preferences string `mapstructure:"preferences" yaml:"preferences"`
	BadgerDir   string `mapstructure:"badger_dir" yaml:"badger_dir"`
}

// WakeConfig configures the background delivery paths.
type WakeConfig struct {
	ListenAddr         string `mapstructure:"listen_addr" yaml:"listen_addr"`
	PubSubProject      string `mapstructure:"pubsub_project" yaml:"pubsub_project"`
	PubSubSubscription string `mapstructure:"pubsub_subscription" yaml:"pubsub_subscription"`
	CredentialsFile    string `mapstructure:"credentials_file" yaml:"credentials_file"`
}

// LogConfig holds logging preferences.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`
	Device  DeviceConfig  `mapstructure:"device" yaml:"device"`
	Sync    SyncConfig    `mapstructure:"sync" yaml:"sync"`
	Feed    FeedConfig    `mapstructure:"feed" yaml:"feed"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Wake    WakeConfig    `mapstructure:"wake" yaml:"wake"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// RequestTimeout returns the per-request backend timeout.
func (c *AppConfig) RequestTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSec) * time.Second
}

// RecentWindow returns the cutoff distance for the recent feed view.
func (c *AppConfig) RecentWindow() time.Duration {
	return time.Duration(c.Feed.RecentWindowDays) * 24 * time.Hour
}

// BaseDelay returns the first retry delay for status sync.
func (c *AppConfig) BaseDelay() time.Duration {
	return time.Duration(c.Sync.BaseDelayMs) * time.Millisecond
}

// RefreshInterval returns the periodic refresh interval, zero when disabled.
func (c *AppConfig) RefreshInterval() time.Duration {
	return time.Duration(c.Sync.RefreshIntervalSec) * time.Second
}

// ConfigDir returns ~/.config/tasknotify, or "." when the home directory
// cannot be resolved.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "tasknotify")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/tasknotify/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	dir := ConfigDir()
	return &AppConfig{
		Backend: BackendConfig{
			BaseURL:        "http://localhost:8000/api",
			TimeoutSec:     30,
			RequestsPerSec: 5,
		},
		Device: DeviceConfig{Type: "desktop"},
		Sync: SyncConfig{
			MaxAttempts: 3,
			BaseDelayMs: 1000,
			Multiplier:  2,
		},
		Feed: FeedConfig{RecentWindowDays: 7},
		Storage: StorageConfig{
			DBPath:      filepath.Join(dir, "notifications.db"),
			Preferences: "sqlite",
			BadgerDir:   filepath.Join(dir, "prefs"),
		},
		Wake: WakeConfig{ListenAddr: "127.0.0.1:8787"},
		Log:  LogConfig{Level: "info", Format: "auto"},
	}
}

// setDefaults mirrors defaultAppConfig into v so that partially written
// files and env overrides resolve to the same values.
func setDefaults(v *viper.Viper) {
	d := defaultAppConfig()
	v.SetDefault("backend.base_url", d.Backend.BaseURL)
	v.SetDefault("backend.live_url", d.Backend.LiveURL)
	v.SetDefault("backend.timeout_sec", d.Backend.TimeoutSec)
	v.SetDefault("backend.requests_per_sec", d.Backend.RequestsPerSec)
	v.SetDefault("device.type", d.Device.Type)
	v.SetDefault("device.token", "")
	v.SetDefault("sync.max_attempts", d.Sync.MaxAttempts)
	v.SetDefault("sync.base_delay_ms", d.Sync.BaseDelayMs)
	v.SetDefault("sync.multiplier", d.Sync.Multiplier)
	v.SetDefault("sync.refresh_interval_sec", d.Sync.RefreshIntervalSec)
	v.SetDefault("feed.recent_window_days", d.Feed.RecentWindowDays)
	v.SetDefault("storage.db_path", d.Storage.DBPath)
	v.SetDefault("storage.preferences", d.Storage.Preferences)
	v.SetDefault("storage.badger_dir", d.Storage.BadgerDir)
	v.SetDefault("wake.listen_addr", d.Wake.ListenAddr)
	v.SetDefault("wake.pubsub_project", "")
	v.SetDefault("wake.pubsub_subscription", "")
	v.SetDefault("wake.credentials_file", "")
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// A .env file in the working directory is loaded first so that TASKNOTIFY_*
// overrides can live next to the binary. If the config file does not exist,
// defaults (plus env overrides) are returned.
func LoadConfig(path string) (*AppConfig, error) {
	_ = godotenv.Load()

	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); !ok {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	return decode(v, path)
}

func decode(v *viper.Viper, path string) (*AppConfig, error) {
	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the notification components cannot run with.
func (c *AppConfig) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("sync.max_attempts must be at least 1")
	}
	if c.Sync.BaseDelayMs <= 0 {
		return fmt.Errorf("sync.base_delay_ms must be positive")
	}
	if c.Sync.Multiplier < 1 {
		return fmt.Errorf("sync.multiplier must be at least 1")
	}
	if c.Feed.RecentWindowDays <= 0 {
		return fmt.Errorf("feed.recent_window_days must be positive")
	}
	switch c.Storage.Preferences {
	case "sqlite", "badger":
	default:
		return fmt.Errorf("storage.preferences must be sqlite or badger, got %q", c.Storage.Preferences)
	}
	return nil
}

// WatchConfig re-reads path whenever it changes on disk and hands the new
// configuration to onChange. Invalid edits are reported through onError and
// otherwise ignored.
func WatchConfig(
	path string,
	onChange func(*AppConfig),
	onError func(error),
) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		onError(fmt.Errorf("reading config %s: %w", path, err))
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v, path)
		if err != nil {
			onError(err)
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("backend", cfg.Backend)
	v.Set("device", cfg.Device)
	v.Set("sync", cfg.Sync)
	v.Set("feed", cfg.Feed)
	v.Set("storage", cfg.Storage)
	v.Set("wake", cfg.Wake)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
