// Package config loads the server's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level server configuration: node identity,
// file-transfer limits, session cleanup grace, ack timeout, pubsub
// backend selection, rate limiting. Time knobs are plain milliseconds on
// the wire (`*Ms` fields, e.g. `session_cleanup_delay_ms`/
// `ack_timeout_ms`) rather than time.Duration, since yaml.v3 has no
// built-in duration-string support; callers read the `*()` accessor for
// a time.Duration.
type Config struct {
	NodeID              string          `yaml:"node_id"`
	ListenAddr          string          `yaml:"listen_addr"`
	MetricsAddr         string          `yaml:"metrics_addr"`
	MaxFileSize         uint64          `yaml:"max_file_size"`
	DownloadTimeoutMs   int64           `yaml:"download_timeout_ms"`
	SessionCleanupDelayMs int64         `yaml:"session_cleanup_delay_ms"`
	AckTimeoutMs        int64           `yaml:"ack_timeout_ms"`
	PubSub              PubSubConfig    `yaml:"pubsub"`
	RateLimit           RateLimitConfig `yaml:"rate_limit"`
}

func (c Config) DownloadTimeout() time.Duration   { return time.Duration(c.DownloadTimeoutMs) * time.Millisecond }
func (c Config) SessionCleanupDelay() time.Duration { return time.Duration(c.SessionCleanupDelayMs) * time.Millisecond }
func (c Config) AckTimeout() time.Duration        { return time.Duration(c.AckTimeoutMs) * time.Millisecond }
func (c RateLimitConfig) WindowDuration() time.Duration { return time.Duration(c.WindowMs) * time.Millisecond }

// PubSubConfig selects and configures the cross-node fan-out backend
//.
type PubSubConfig struct {
	Backend string      `yaml:"backend"` // "memory" | "redis" | "nats"
	Redis   RedisConfig `yaml:"redis"`
	NATS    NATSConfig  `yaml:"nats"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

// RateLimitConfig controls the per-subject token bucket.
type RateLimitConfig struct {
	MaxMessages    int   `yaml:"max_messages"`
	WindowMs       int64 `yaml:"window_ms"`
	MaxMessageSize int   `yaml:"max_message_size"`
}

// defaults are applied for every field a config file omits.
var defaults = Config{
	ListenAddr:            ":8080",
	MetricsAddr:           ":9090",
	MaxFileSize:           1 << 30, // 1 GiB
	DownloadTimeoutMs:     60_000,
	SessionCleanupDelayMs: 60_000,
	AckTimeoutMs:          5_000,
	PubSub: PubSubConfig{
		Backend: "memory",
	},
	RateLimit: RateLimitConfig{
		MaxMessages:    100,
		WindowMs:       1_000,
		MaxMessageSize: 1 << 20, // 1 MiB
	},
}

// Load reads a YAML config file and fills in any field it doesn't set
// with defaults. Falls back to an all-defaults config (with a generated
// node id) if path doesn't exist, so a fresh checkout runs without any
// config file at all.
func Load(path string) (*Config, error) {
	cfg := defaults

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NodeID = generateNodeID()
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.NodeID == "" {
		cfg.NodeID = generateNodeID()
	}
	return &cfg, nil
}

func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
