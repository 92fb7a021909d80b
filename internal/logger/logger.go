// Package logger configures log/slog for the throttle service from its
// LoggingConfig: JSON or text handlers, a level that can be changed while
// running, and stdout, stderr or file output.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"throttle/internal/models"
	"throttle/internal/version"
)

// level is shared by every handler Setup creates so SetLevel takes effect
// without rebuilding the logger.
var level = new(slog.LevelVar)

// Setup creates a logger for cfg tagged with the build and instance
// identity. The returned io.Closer is non-nil only for file output and must
// be closed by the caller.
func Setup(cfg models.LoggingConfig, ver version.Info) (*slog.Logger, io.Closer, error) {
	if err := SetLevel(cfg.Level); err != nil {
		return nil, nil, err
	}

	writer, closer, err := openWriter(cfg.Output, cfg.FilePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log output: %w", err)
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	logger := slog.New(handler).With(
		slog.String("service", version.Name),
		slog.String("version", ver.Version),
		slog.String("git_commit", ver.GitCommit),
		slog.String("instance_id", ver.InstanceID),
	)

	return logger, closer, nil
}

// SetLevel changes the minimum level of every logger built by Setup.
func SetLevel(name string) error {
	l, err := parseLevel(name)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	level.Set(l)
	return nil
}

// Level reports the current minimum level.
func Level() slog.Level {
	return level.Level()
}

// parseLevel converts debug, info, warn or error (any case) to a slog.Level.
func parseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level: %s", name)
	}
}

func openWriter(output, filePath string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(output) {
	case "stderr":
		return os.Stderr, nil, nil
	case "file":
		if filePath == "" {
			return nil, nil, fmt.Errorf("file path is required when output is file")
		}
		f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", filePath, err)
		}
		return f, f, nil
	default:
		return os.Stdout, nil, nil
	}
}
