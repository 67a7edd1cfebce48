package logging

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure(t *testing.T) {
	jsonPath := filepath.Join(t.TempDir(), "dns.log")

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "default config", cfg: Config{Level: "info"}},
		{name: "debug level", cfg: Config{Level: "debug"}},
		{name: "trace level", cfg: Config{Level: "trace"}},
		{name: "off level", cfg: Config{Level: "off"}},
		{name: "json log file", cfg: Config{Level: "info", JSONLogPath: &jsonPath}},
		{name: "with extra fields", cfg: Config{
			Level:       "info",
			ExtraFields: map[string]string{"service": "test", "env": "test"},
		}},
		{name: "with PID", cfg: Config{Level: "info", IncludePID: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := Configure(tt.cfg)
			require.NoError(t, err)
			require.NotNil(t, logger)
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"trace", LevelTrace},
		{"off", levelOff},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}
