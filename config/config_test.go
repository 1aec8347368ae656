package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestLoad_Defaults checks the configuration used when nothing is provided.
func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "info", cfg.Logger.Level)
	require.Equal(t, "memory", cfg.BlockStore.Kind)
	require.Equal(t, 100, cfg.Evict.DrainRetries)
	require.Equal(t, 10*time.Millisecond, cfg.Evict.DrainInterval)
	require.Equal(t, 4, cfg.Server.Workers)
}

// TestLoad_FileAndEnv reads a YAML file and lets the environment override it.
func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evict.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logger:
  level: debug
  output_file: stderr
evict:
  drain_retries: 7
  drain_interval: 250ms
server:
  workers: 2
block_store:
  kind: sqlite
  path: /tmp/blocks.db
  compression: xz
`), 0o644))
	t.Setenv("GOJODB_EVICT_SERVER_WORKERS", "9")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logger.Level)
	require.Equal(t, "stderr", cfg.Logger.OutputFile)
	require.Equal(t, 7, cfg.Evict.DrainRetries)
	require.Equal(t, 250*time.Millisecond, cfg.Evict.DrainInterval)
	require.Equal(t, 9, cfg.Server.Workers)
	require.Equal(t, "sqlite", cfg.BlockStore.Kind)
	require.Equal(t, "xz", cfg.BlockStore.Compression)
}

// TestLoad_RejectsUnknownStore verifies validation runs on load.
func TestLoad_RejectsUnknownStore(t *testing.T) {
	t.Setenv("GOJODB_EVICT_BLOCK_STORE_KIND", "s3")
	_, err := Load("")
	require.Error(t, err)
}
