package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttagenda/internal/model"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "@every 30s", cfg.RefreshCron)
	assert.Equal(t, "sqlite", cfg.Store.Driver)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Listen, again.Listen)
	assert.Equal(t, cfg.Positions, again.Positions)
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9000"
store:
  driver: memory
activity_kinds:
  warmup:
    layout: team
    pre_session: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "Europe/Berlin", cfg.Timezone)
	assert.Equal(t, 3, cfg.Upcoming.Limit)
	assert.Len(t, cfg.Positions, 8)

	kinds, err := cfg.Kinds()
	require.NoError(t, err)
	b, ok := kinds.Behavior("warmup")
	require.True(t, ok)
	assert.True(t, b.PreSession)
	_, ok = kinds.Behavior(model.KindGroup)
	assert.True(t, ok)
}

func TestKindsRejectsUnknownLayout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ActivityKinds = map[string]KindConfig{"odd": {Layout: "circle"}}
	_, err := cfg.Kinds()
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("TTAGENDA_LISTEN", ":7000")
	t.Setenv("TTAGENDA_WS_TOKEN", "s3cret")
	t.Setenv("TTAGENDA_DB_PATH", "  ")

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	assert.Equal(t, ":7000", cfg.Listen)
	assert.Equal(t, "s3cret", cfg.WSToken)
	assert.Equal(t, DefaultConfig().Store.Path, cfg.Store.Path)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("TTAGENDA_TIMEZONE=UTC\n"), 0o600))
	t.Setenv("TTAGENDA_TIMEZONE", "")
	require.NoError(t, os.Unsetenv("TTAGENDA_TIMEZONE"))

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "UTC", os.Getenv("TTAGENDA_TIMEZONE"))

	assert.NoError(t, LoadEnvFile(filepath.Join(dir, "missing.env")))
	assert.NoError(t, LoadEnvFile(""))
}

func TestLocation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "UTC"
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())

	cfg.Timezone = "Mars/Olympus"
	_, err = cfg.Location()
	assert.Error(t, err)
}
