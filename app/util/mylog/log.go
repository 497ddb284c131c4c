// Package mylog installs the process-wide slog handlers: a console handler,
// and a Telegram handler for errors and records flagged with a telegram
// attribute.
package mylog

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"hearth/app/config"

	"github.com/phsym/console-slog"
	slogmulti "github.com/samber/slog-multi"
	slogtelegram "github.com/samber/slog-telegram/v2"
)

// TelegramKey marks a record that should also be sent to Telegram.
const TelegramKey = "telegram"

// Preinit logs to the console at debug level until the config is read.
func Preinit() {
	slog.SetDefault(slog.New(consoleHandler(slog.LevelDebug)))
}

func Init(cfg *config.Config) error {
	router := slogmulti.Router().Add(consoleHandler(ParseLevel(cfg.Log.Level)))

	if cfg.Log.Telegram.Token != "" {
		router = router.Add(
			slogtelegram.Option{
				Level:     slog.LevelDebug,
				Token:     cfg.Log.Telegram.Token,
				Username:  cfg.Log.Telegram.ChatID,
				AddSource: true,
			}.NewTelegramHandler(),
			toTelegram,
		)
	}

	slog.SetDefault(slog.New(router.Handler()))

	return nil
}

func consoleHandler(level slog.Level) slog.Handler {
	return console.NewHandler(os.Stderr, &console.HandlerOptions{
		AddSource: level == slog.LevelDebug,
		Level:     level,
		NoColor:   os.Getenv("NO_COLOR") != "",
	})
}

func toTelegram(_ context.Context, r slog.Record) bool {
	if r.Level >= slog.LevelError {
		return true
	}

	flagged := false
	r.Attrs(func(attr slog.Attr) bool {
		flagged = attr.Key == TelegramKey
		return !flagged
	})

	return flagged
}

// ParseLevel maps a config level name to a slog level, defaulting to debug.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}
