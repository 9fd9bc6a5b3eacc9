package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"ozzus/sensu-agent/internal/lib/logger/slogpretty"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

// setupLogger picks the handler for the deployment flavour. dev and prod log
// JSON; anything else gets the colored console handler at debug level.
func setupLogger(env string) *slog.Logger {
	return newLogger(os.Stdout, env)
}

func newLogger(out io.Writer, env string) *slog.Logger {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case envDev:
		return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug, AddSource: true}))
	case envProd:
		return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return newConsoleLogger(out, slog.LevelDebug)
	}
}

func newConsoleLogger(out io.Writer, level slog.Leveler) *slog.Logger {
	handler := slogpretty.PrettyHandlerOptions{SlogOpts: &slog.HandlerOptions{Level: level}}.NewPrettyHandler(out)
	return slog.New(handler)
}
