package main

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseFlags_Defaults(t *testing.T) {
	cfg, err := parseFlags(newFlagSet(), nil)
	require.NoError(t, err)

	assert.Empty(t, cfg.ConfigPath)
	assert.Empty(t, cfg.LogLevel)
	assert.False(t, cfg.Demo)
	assert.Equal(t, 500*time.Millisecond, cfg.DemoInterval)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestParseFlags_EnvFallback(t *testing.T) {
	t.Setenv("DATAPORTS_LOG_FORMAT", "text")
	t.Setenv("DATAPORTS_DEMO", "true")
	t.Setenv("DATAPORTS_SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("DATAPORTS_DEMO_INTERVAL", "not-a-duration")

	cfg, err := parseFlags(newFlagSet(), []string{"--log-level=warn"})
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.True(t, cfg.Demo)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.DemoInterval, "unparsable env keeps the default")
}

func TestParseFlags_DebugOverridesLevel(t *testing.T) {
	cfg, err := parseFlags(newFlagSet(), []string{"--log-level=error", "--debug"})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidateFlags(t *testing.T) {
	existing := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(existing, []byte("version: 1.0.0\n"), 0o600))

	valid := func() *CLIConfig {
		return &CLIConfig{DemoInterval: time.Second, ShutdownTimeout: time.Second}
	}

	tests := []struct {
		name    string
		mutate  func(*CLIConfig)
		wantErr string
	}{
		{name: "defaults", mutate: func(*CLIConfig) {}},
		{name: "existing config", mutate: func(c *CLIConfig) { c.ConfigPath = existing }},
		{name: "missing config", mutate: func(c *CLIConfig) { c.ConfigPath = "/nonexistent/dataports.yaml" }, wantErr: "config file not found"},
		{name: "bad level", mutate: func(c *CLIConfig) { c.LogLevel = "trace" }, wantErr: "invalid log level"},
		{name: "bad format", mutate: func(c *CLIConfig) { c.LogFormat = "xml" }, wantErr: "invalid log format"},
		{name: "zero interval", mutate: func(c *CLIConfig) { c.DemoInterval = 0 }, wantErr: "invalid demo interval"},
		{name: "zero timeout", mutate: func(c *CLIConfig) { c.ShutdownTimeout = 0 }, wantErr: "invalid shutdown timeout"},
		{name: "version skips checks", mutate: func(c *CLIConfig) { c.ShowVersion = true; c.LogLevel = "trace" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := validateFlags(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
