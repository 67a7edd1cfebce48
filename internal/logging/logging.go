// Package logging builds the log/slog logger shared by the DNS server
// and proxy binaries.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelTrace sits one step below slog's own LevelDebug, matching
// spec.md §6's `trace` level, which has no stdlib equivalent.
const LevelTrace = slog.Level(-8)

// levelOff disables logging entirely by sitting above any real
// record level, matching `log_level: "off"`.
const levelOff = slog.Level(1 << 20)

// Config controls logger construction. JSONLogPath, when non-nil,
// switches to JSON-formatted output written to that file instead of
// text to stderr, matching the `json_log: "<path>|null"` config field.
type Config struct {
	Level       string
	JSONLogPath *string
	IncludePID  bool
	ExtraFields map[string]string
}

// Configure builds a *slog.Logger from cfg and installs it as the
// package-level default.
func Configure(cfg Config) (*slog.Logger, error) {
	level := ParseLevel(cfg.Level)

	out := io.Writer(os.Stderr)
	var handler slog.Handler
	if cfg.JSONLogPath != nil {
		f, err := os.OpenFile(*cfg.JSONLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		out = f
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	}

	attrs := make([]slog.Attr, 0, len(cfg.ExtraFields)+1)
	for k, v := range cfg.ExtraFields {
		attrs = append(attrs, slog.String(k, v))
	}
	if cfg.IncludePID {
		attrs = append(attrs, slog.Int("pid", os.Getpid()))
	}
	if len(attrs) > 0 {
		handler = handler.WithAttrs(attrs)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

// ParseLevel maps spec.md §6's `off|error|warn|info|debug|trace`
// enumeration onto slog levels. Unrecognized values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off":
		return levelOff
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}
