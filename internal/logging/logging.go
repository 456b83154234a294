// Package logging configures the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	slogmulti "github.com/samber/slog-multi"
)

// Setup configures the global slog logger writing to console.
// If logOutputDir is non-empty, logs are also written as JSON to a
// timestamped file in that directory. The returned function closes the
// log file.
func Setup(console io.Writer, levelStr, logOutputDir string) (func() error, error) {
	level := ParseLevel(levelStr)
	consoleHandler := tint.NewHandler(console, &tint.Options{Level: level, TimeFormat: time.TimeOnly})

	if logOutputDir == "" {
		slog.SetDefault(slog.New(consoleHandler))
		return func() error { return nil }, nil
	}

	logDir := os.ExpandEnv(logOutputDir)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log output directory: %w", err)
	}

	logFilePath := filepath.Join(logDir, fmt.Sprintf("layertools_%s.log", time.Now().Format("20060102_150405")))
	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	fileHandler := slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(slogmulti.Fanout(consoleHandler, fileHandler)))
	slog.Debug("logging to file", "path", logFilePath)
	return logFile.Close, nil
}

// ParseLevel converts a string log level to slog.Level.
func ParseLevel(levelStr string) slog.Level {
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error", "fatal":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
