// Package config loads the settings of the eviction service from an optional
// YAML file and GOJODB_EVICT_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sushant-115/gojodb-evict/core/evict"
	evictserver "github.com/sushant-115/gojodb-evict/core/write_engine/evict_server"
	flushmanager "github.com/sushant-115/gojodb-evict/core/write_engine/flush_manager"
	"github.com/sushant-115/gojodb-evict/pkg/logger"
	"github.com/sushant-115/gojodb-evict/pkg/telemetry"
)

// EnvPrefix prefixes every environment override, e.g. GOJODB_EVICT_SERVER_WORKERS.
const EnvPrefix = "GOJODB_EVICT"

// BlockStoreConfig selects where reconciled page images are written.
type BlockStoreConfig struct {
	// Kind is "memory" or "sqlite".
	Kind string `yaml:"kind" mapstructure:"kind"`
	// Path is the sqlite database file; unused for memory.
	Path string `yaml:"path" mapstructure:"path"`
	// Compression is "none" or "xz".
	Compression string `yaml:"compression" mapstructure:"compression"`
}

// Config is the full service configuration.
type Config struct {
	Logger     logger.Config      `yaml:"logger" mapstructure:"logger"`
	Telemetry  telemetry.Config   `yaml:"telemetry" mapstructure:"telemetry"`
	Evict      evict.GateConfig   `yaml:"evict" mapstructure:"evict"`
	Server     evictserver.Config `yaml:"server" mapstructure:"server"`
	BlockStore BlockStoreConfig   `yaml:"block_store" mapstructure:"block_store"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	gate := evict.DefaultGateConfig()
	server := evictserver.DefaultConfig()

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output_file", "stdout")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "gojodb-evict")
	v.SetDefault("telemetry.prometheus_port", 9464)
	v.SetDefault("telemetry.trace_sample_ratio", 1.0)
	v.SetDefault("evict.drain_retries", gate.DrainRetries)
	v.SetDefault("evict.drain_interval", gate.DrainInterval)
	v.SetDefault("server.workers", server.Workers)
	v.SetDefault("server.queue_size", server.QueueSize)
	v.SetDefault("block_store.kind", "memory")
	v.SetDefault("block_store.path", "data/blocks.db")
	v.SetDefault("block_store.compression", string(flushmanager.CompressionNone))
}

// Load reads path (if not empty) and applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	return FromViper(v, path)
}

// FromViper reads path into v (if not empty) and unmarshals the result.
// Flags bound to v before the call take precedence over the file.
func FromViper(v *viper.Viper, path string) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.BlockStore.Kind {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("invalid block_store.kind %q", c.BlockStore.Kind)
	}
	switch flushmanager.Compression(c.BlockStore.Compression) {
	case flushmanager.CompressionNone, flushmanager.CompressionXZ:
	default:
		return fmt.Errorf("invalid block_store.compression %q", c.BlockStore.Compression)
	}
	if c.Evict.DrainRetries < 0 {
		return fmt.Errorf("evict.drain_retries must not be negative")
	}
	if c.Evict.DrainInterval < 0 || c.Evict.DrainInterval > time.Minute {
		return fmt.Errorf("evict.drain_interval %s out of range", c.Evict.DrainInterval)
	}
	return nil
}

// Open creates the configured block store.
func (c BlockStoreConfig) Open() (flushmanager.BlockStore, error) {
	switch c.Kind {
	case "sqlite":
		return flushmanager.OpenSQLiteBlockStore(c.Path)
	default:
		return flushmanager.NewMemBlockStore(), nil
	}
}
