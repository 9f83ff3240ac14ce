package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sqsd.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFileAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[queues]
prefixes = ["email"]
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	require.Equal(t, []string{"email"}, cfg.Queues.Prefixes)
	require.Equal(t, 1, cfg.Worker.Concurrency)
	require.Equal(t, 1, cfg.Worker.IntervalSeconds)
	require.Equal(t, 10, cfg.Worker.BatchSize)
	require.Equal(t, 30, cfg.Worker.DrainSeconds)
	require.False(t, cfg.Worker.DeleteMalformed)
	require.Equal(t, 8080, cfg.HTTP.Port)
}

func TestLoadFileFullConfig(t *testing.T) {
	path := writeConfig(t, `
[queues]
prefixes = ["email.*", "billing"]

[worker]
concurrency = 4
interval_seconds = 2
batchsize = 5
drain_seconds = 10
delete_malformed = true

[aws]
region = "us-west-2"
endpoint = "http://localhost:4566"

[http]
port = 9090
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	require.Equal(t, []string{"email.*", "billing"}, cfg.Queues.Prefixes)
	require.Equal(t, 4, cfg.Worker.Concurrency)
	require.Equal(t, 5, cfg.Worker.BatchSize)
	require.True(t, cfg.Worker.DeleteMalformed)
	require.Equal(t, "us-west-2", cfg.AWS.Region)
	require.Equal(t, "http://localhost:4566", cfg.AWS.Endpoint)
	require.Equal(t, 9090, cfg.HTTP.Port)

	require.Equal(t, 2*time.Second, cfg.Interval())
	require.Equal(t, 10*time.Second, cfg.DrainTimeout())
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[queues]
prefixes = ["email"]

[worker]
concurency = 4
`)

	_, err := LoadFile(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown config keys")
	require.Contains(t, err.Error(), "worker.concurency")
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[queues]
prefixes = ["email"]

[worker]
concurrency = 2
`)

	t.Setenv("SQSD_QUEUE_PREFIXES", "billing.*, payments")
	t.Setenv("SQSD_WORKER_CONCURRENCY", "8")
	t.Setenv("SQSD_BATCHSIZE", "3")
	t.Setenv("SQSD_DELETE_MALFORMED", "true")
	t.Setenv("SQSD_AWS_REGION", "eu-central-1")
	t.Setenv("SQSD_HTTP_PORT", "8181")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	require.Equal(t, []string{"billing.*", "payments"}, cfg.Queues.Prefixes)
	require.Equal(t, 8, cfg.Worker.Concurrency)
	require.Equal(t, 3, cfg.Worker.BatchSize)
	require.True(t, cfg.Worker.DeleteMalformed)
	require.Equal(t, "eu-central-1", cfg.AWS.Region)
	require.Equal(t, 8181, cfg.HTTP.Port)
}

func TestLoadWithoutFileUsesEnvironmentOnly(t *testing.T) {
	t.Setenv("SQSD_CONFIG", "")
	t.Setenv("SQSD_QUEUE_PREFIXES", "email")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"email"}, cfg.Queues.Prefixes)
}

func TestValidateBounds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no prefixes", func(c *Config) { c.Queues.Prefixes = nil }},
		{"zero concurrency", func(c *Config) { c.Worker.Concurrency = 0 }},
		{"zero interval", func(c *Config) { c.Worker.IntervalSeconds = 0 }},
		{"batchsize too small", func(c *Config) { c.Worker.BatchSize = 0 }},
		{"batchsize too large", func(c *Config) { c.Worker.BatchSize = 11 }},
		{"invalid port", func(c *Config) { c.HTTP.Port = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Queues.Prefixes = []string{"email"}
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFileMissingFileFails(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
