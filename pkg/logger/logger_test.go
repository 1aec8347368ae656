package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestNew_WritesJSONToFile checks level filtering and the static fields.
func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evict.log")
	log, err := New(Config{Level: "warn", Format: "json", OutputFile: path, Fields: map[string]string{"node": "n1"}})
	require.NoError(t, err)

	log.Info("dropped")
	log.Warn("kept")
	require.NoError(t, log.Sync())

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(out), "dropped")
	require.Contains(t, string(out), `"msg":"kept"`)
	require.Contains(t, string(out), `"service":"gojodb-evict"`)
	require.Contains(t, string(out), `"node":"n1"`)
}

// TestNew_BadLevelDefaultsToInfo verifies an unknown level falls back to info.
func TestNew_BadLevelDefaultsToInfo(t *testing.T) {
	log, err := New(Config{Level: "loud", OutputFile: "stderr"})
	require.NoError(t, err)
	require.True(t, log.Core().Enabled(0))
	require.False(t, log.Core().Enabled(-1))
}
