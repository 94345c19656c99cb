package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quicore.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
idle_timeout_ms = 5000
admin_addr = "0.0.0.0:9000"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.IdleTimeout)
	require.Equal(t, "0.0.0.0:9000", cfg.AdminAddr)
	require.Equal(t, Default().KeepAliveInterval, cfg.KeepAliveInterval)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}
