// Package config loads daemon configuration from a TOML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level daemon configuration
type Config struct {
	Queues QueuesConfig `toml:"queues"`
	Worker WorkerConfig `toml:"worker"`
	AWS    AWSConfig    `toml:"aws"`
	HTTP   HTTPConfig   `toml:"http"`
}

// QueuesConfig selects which remote queues to consume
type QueuesConfig struct {
	// Prefixes are queue names or wildcard patterns ("email.*")
	Prefixes []string `toml:"prefixes"`
}

// WorkerConfig controls the supervisor and its children
type WorkerConfig struct {
	Concurrency     int  `toml:"concurrency"`
	IntervalSeconds int  `toml:"interval_seconds"`
	BatchSize       int  `toml:"batchsize"`
	DrainSeconds    int  `toml:"drain_seconds"`
	DeleteMalformed bool `toml:"delete_malformed"`
}

// AWSConfig holds region and credential overrides; everything empty falls
// back to the ambient AWS environment
type AWSConfig struct {
	Region          string `toml:"region"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	Endpoint        string `toml:"endpoint"`
}

// HTTPConfig configures the operational HTTP surface (health, metrics)
type HTTPConfig struct {
	Port int `toml:"port"`
}

// Default returns the configuration defaults
func Default() *Config {
	return &Config{
		Worker: WorkerConfig{
			Concurrency:     1,
			IntervalSeconds: 1,
			BatchSize:       10,
			DrainSeconds:    30,
		},
		HTTP: HTTPConfig{Port: 8080},
	}
}

// Load reads configuration from the file named by SQSD_CONFIG (if set),
// then applies SQSD_* environment overrides, then validates.
func Load() (*Config, error) {
	return load(os.Getenv("SQSD_CONFIG"))
}

// LoadFile reads configuration from path, applies environment overrides, and
// validates.
func LoadFile(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SQSD_QUEUE_PREFIXES"); v != "" {
		cfg.Queues.Prefixes = splitAndTrim(v)
	}
	if v, ok := envInt("SQSD_WORKER_CONCURRENCY"); ok {
		cfg.Worker.Concurrency = v
	}
	if v, ok := envInt("SQSD_INTERVAL_SECONDS"); ok {
		cfg.Worker.IntervalSeconds = v
	}
	if v, ok := envInt("SQSD_BATCHSIZE"); ok {
		cfg.Worker.BatchSize = v
	}
	if v, ok := envInt("SQSD_DRAIN_SECONDS"); ok {
		cfg.Worker.DrainSeconds = v
	}
	if v := os.Getenv("SQSD_DELETE_MALFORMED"); v != "" {
		cfg.Worker.DeleteMalformed = v == "true" || v == "1"
	}
	if v := os.Getenv("SQSD_AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv("SQSD_AWS_ACCESS_KEY_ID"); v != "" {
		cfg.AWS.AccessKeyID = v
	}
	if v := os.Getenv("SQSD_AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.AWS.SecretAccessKey = v
	}
	if v := os.Getenv("SQSD_AWS_ENDPOINT"); v != "" {
		cfg.AWS.Endpoint = v
	}
	if v, ok := envInt("SQSD_HTTP_PORT"); ok {
		cfg.HTTP.Port = v
	}
}

// Validate checks configuration bounds
func (c *Config) Validate() error {
	if len(c.Queues.Prefixes) == 0 {
		return fmt.Errorf("queues.prefixes must name at least one queue")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be >= 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.IntervalSeconds < 1 {
		return fmt.Errorf("worker.interval_seconds must be >= 1, got %d", c.Worker.IntervalSeconds)
	}
	if c.Worker.BatchSize < 1 || c.Worker.BatchSize > 10 {
		// 10 is the remote service's receive ceiling
		return fmt.Errorf("worker.batchsize must be between 1 and 10, got %d", c.Worker.BatchSize)
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be a valid port, got %d", c.HTTP.Port)
	}
	return nil
}

// Interval returns the poll interval as a duration
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Worker.IntervalSeconds) * time.Second
}

// DrainTimeout returns the shutdown drain window as a duration
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.Worker.DrainSeconds) * time.Second
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
