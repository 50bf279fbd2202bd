package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	v, err := New("")
	require.NoError(t, err)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, BackendFile, cfg.Storage.Backend)
	assert.Equal(t, "bindings.json", cfg.Storage.Path)
	assert.Equal(t, "nia", cfg.Storage.DBName)
	assert.Equal(t, 2*time.Second, cfg.Engine.Debounce)
	assert.Equal(t, 10*time.Second, cfg.Engine.RequestTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.HTTP.Listen)
}

func TestLoad_LegacyEnvNames(t *testing.T) {
	t.Setenv("NIA_DISCORD_BOT_TOKEN", "tok")
	t.Setenv("NIA_DISCORD_DEV_UID", "42")
	t.Setenv("NIA_DB_ADDR", "localhost:28015")
	t.Setenv("NIA_STORAGE_BACKEND", "rethinkdb")
	t.Setenv("NIA_ENGINE_DEBOUNCE", "500ms")

	v, err := New("")
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "tok", cfg.Discord.Token)
	assert.Equal(t, "42", cfg.Discord.DevUID)
	assert.Equal(t, "localhost:28015", cfg.Storage.DBAddr)
	assert.Equal(t, BackendRethinkDB, cfg.Storage.Backend)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.Debounce)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nia.yaml")
	content := "storage:\n  backend: sqlite\n  path: /tmp/nia.db\nhttp:\n  listen: \":8081\"\nlog:\n  format: json\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	v, err := New(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/nia.db", cfg.Storage.Path)
	assert.Equal(t, ":8081", cfg.HTTP.Listen)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Storage: StorageConfig{Backend: BackendFile, Path: "x.json"},
			Engine:  EngineConfig{Debounce: time.Second, RequestTimeout: time.Second},
			Log:     LogConfig{Level: "debug", Format: "text"},
		}
	}

	cfg := base()
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.Storage.Backend = "mongo"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Storage.Backend = BackendRethinkDB
	assert.Error(t, cfg.Validate(), "rethinkdb needs an address")

	cfg = base()
	cfg.Engine.Debounce = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Log.Level = "loud"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Log.Format = "xml"
	assert.Error(t, cfg.Validate())
}
