// Package logging builds the process-wide slog logger from LogConfig.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/nhle/task-notifications/internal/model"
)

// Logger bundles the slog logger with the level it filters on, so a config
// reload can change verbosity without rebuilding handlers.
type Logger struct {
	*slog.Logger
	Level *slog.LevelVar
	file  *os.File
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New writes to w. Format "auto" picks text for a terminal and JSON otherwise.
func New(w io.Writer, cfg model.LogConfig) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	lv := new(slog.LevelVar)
	lv.Set(level)
	opts := &slog.HandlerOptions{Level: lv}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	case "", "auto":
		if isTerminal(w) {
			handler = slog.NewTextHandler(w, opts)
		} else {
			handler = slog.NewJSONHandler(w, opts)
		}
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	return &Logger{Logger: slog.New(handler), Level: lv}, nil
}

// NewFile appends JSON logs to dir/name. The TUI owns the terminal, so the
// feed command logs here instead of stderr.
func NewFile(dir, name string, cfg model.LogConfig) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	cfg.Format = "json"
	l, err := New(f, cfg)
	if err != nil {
		f.Close()
		return nil, err
	}
	l.file = f
	return l, nil
}

// SetLevel applies a level string from a reloaded config.
func (l *Logger) SetLevel(s string) error {
	level, err := ParseLevel(s)
	if err != nil {
		return err
	}
	l.Level.Set(level)
	return nil
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
