package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Config holds logger configuration
type Config struct {
	Level     string // DEBUG, INFO, WARN, ERROR
	Format    string // json, text, tint
	AddSource bool
	Output    io.Writer // defaults to stderr
}

// ParseLevel maps a level name to a slog.Level, defaulting to INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger from cfg without touching the global one.
func New(cfg Config) *slog.Logger {
	level := ParseLevel(cfg.Level)
	out := cfg.Output

	switch strings.ToLower(cfg.Format) {
	case "json":
		if out == nil {
			out = os.Stderr
		}
		return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}))
	case "text":
		if out == nil {
			out = os.Stderr
		}
		return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}))
	}

	// Human-readable, coloured when writing to a terminal.
	noColor := true
	if out == nil {
		out = colorable.NewColorable(os.Stderr)
		noColor = !isatty.IsTerminal(os.Stderr.Fd())
	}
	return slog.New(tint.NewHandler(out, &tint.Options{
		Level:      level,
		AddSource:  cfg.AddSource,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
	}))
}

// Init initializes the global logger
func Init(cfg Config) {
	once.Do(func() {
		logger = New(cfg)
		slog.SetDefault(logger)
	})
}

// Get returns the global logger
func Get() *slog.Logger {
	// Default fallback if not initialized; no-op after the first Init.
	Init(Config{Level: "INFO", Format: "tint"})
	return logger
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// Helper functions for quick logging
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}

func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}
