// Package logging configures the process-wide structured logger used by
// every watch-tower component.
package logging

import (
	"log"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps the --log-level flag / LOG_LEVEL env value onto a
// slog.Level, defaulting to INFO for anything unrecognised.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
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

// Setup configures the default slog logger to emit structured JSON and
// returns it along with the LevelVar backing it, so --log-level can be
// adjusted at runtime (e.g. bumped to DEBUG while diagnosing a stuck
// filter-policy reload) without restarting the process.
func Setup(service string, level slog.Level) (*slog.Logger, *slog.LevelVar) {
	levelVar := new(slog.LevelVar)
	levelVar.Set(level)

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: false,
		Level:     levelVar,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			default:
				if Redact(attr.Key) {
					return slog.String(attr.Key, RedactedValue)
				}
				return attr
			}
		},
	})

	base := slog.New(handler).With(slog.String("service", strings.TrimSpace(service)))
	slog.SetDefault(base)

	stdBridge := slog.NewLogLogger(handler, slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base, levelVar
}
