package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/roach88/recstore/internal/backend/memory"
	"github.com/roach88/recstore/internal/backend/sqlite"
	"github.com/roach88/recstore/internal/objstore"
)

// isolate points config search paths at an empty directory.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	for key := range Defaults() {
		t.Setenv("RECSTORE_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), "")
	}
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	c, err := Load(nil, "")
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, c.Backend)
	assert.NotEmpty(t, c.DataDir)
	assert.Equal(t, "recstore", c.Database)
	assert.Equal(t, "records", c.Collection)
	assert.Equal(t, "id", c.KeyPath)
	assert.Equal(t, 1, c.Version)
	assert.False(t, c.NormalizeKeys)
	assert.Equal(t, Redis{Addr: "localhost:6379", Prefix: "recstore"}, c.Redis)
	assert.Equal(t, Log{Level: "info", Format: "console"}, c.Log)
}

func TestLoadExplicitFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	writeFile(t, path, `
backend: memory
database: TodoApp
collection: todos
version: 3
normalize_keys: true
log:
  level: debug
`)

	c, err := Load(nil, path)
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, c.Backend)
	assert.Equal(t, objstore.Config{
		Database:      "TodoApp",
		Collection:    "todos",
		KeyPath:       "id",
		Version:       3,
		NormalizeKeys: true,
	}, c.Accessor())
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "console", c.Log.Format)
}

func TestLoadSearchesWorkingDirectory(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "recstore.yaml"), "collection: notes\n")

	c, err := Load(nil, "")
	require.NoError(t, err)
	assert.Equal(t, "notes", c.Collection)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	dir := isolate(t)
	_, err := Load(nil, filepath.Join(dir, "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "recstore.yaml"), "backend: [unclosed\n")

	_, err := Load(nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestEnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "recstore.yaml"), "backend: sqlite\nredis:\n  addr: file:6379\n")
	t.Setenv("RECSTORE_BACKEND", "memory")
	t.Setenv("RECSTORE_REDIS_ADDR", "env:6379")

	c, err := Load(nil, "")
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, c.Backend)
	assert.Equal(t, "env:6379", c.Redis.Addr)
}

func TestChangedFlagsOverrideEnv(t *testing.T) {
	isolate(t)
	t.Setenv("RECSTORE_COLLECTION", "from-env")
	t.Setenv("RECSTORE_DATABASE", "env-db")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("collection", "", "")
	cmd.Flags().String("database", "flag-default", "")
	cmd.Flags().Int("db-version", 0, "")
	require.NoError(t, cmd.Flags().Set("collection", "from-flag"))
	require.NoError(t, cmd.Flags().Set("db-version", "7"))

	c, err := Load(cmd, "")
	require.NoError(t, err)
	assert.Equal(t, "from-flag", c.Collection)
	assert.Equal(t, 7, c.Version)
	// Unchanged flags do not shadow the environment.
	assert.Equal(t, "env-db", c.Database)
}

func TestValidateRejects(t *testing.T) {
	isolate(t)
	base, err := Load(nil, "")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown backend", func(c *Config) { c.Backend = "mongo" }, "backend"},
		{"version zero", func(c *Config) { c.Version = 0 }, "version"},
		{"negative version", func(c *Config) { c.Version = -2 }, "version"},
		{"empty database", func(c *Config) { c.Database = "" }, "database"},
		{"empty collection", func(c *Config) { c.Collection = "" }, "collection"},
		{"bad key path", func(c *Config) { c.KeyPath = "a..b" }, "key_path"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "format"},
		{"sqlite without dir", func(c *Config) { c.DataDir = "" }, "data_dir"},
		{"redis without addr", func(c *Config) { c.Backend = BackendRedis; c.Redis.Addr = "" }, "addr"},
		{"negative redis db", func(c *Config) { c.Redis.DB = -1 }, "db"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			err := Validate(c)
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidateAcceptsNestedKeyPath(t *testing.T) {
	isolate(t)
	c, err := Load(nil, "")
	require.NoError(t, err)
	c.KeyPath = "meta.ref"
	assert.NoError(t, Validate(c))
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "recstore.yaml"), "version: 0\n")

	_, err := Load(nil, "")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestOpenFactory(t *testing.T) {
	ctx := context.Background()

	f, err := OpenFactory(ctx, Config{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &memory.Factory{}, f)
	require.NoError(t, f.Close())

	dir := filepath.Join(t.TempDir(), "data")
	f, err = OpenFactory(ctx, Config{Backend: BackendSQLite, DataDir: dir})
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Factory{}, f)
	require.NoError(t, f.Close())
	assert.DirExists(t, dir)

	_, err = OpenFactory(ctx, Config{Backend: "mongo"})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestOpenFactoryRedisUnreachable(t *testing.T) {
	_, err := OpenFactory(context.Background(), Config{
		Backend: BackendRedis,
		Redis:   Redis{Addr: "127.0.0.1:1", Prefix: "x"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect redis")
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		log     Log
		verbose bool
		want    zapcore.Level
	}{
		{"default", Log{}, false, zapcore.InfoLevel},
		{"warn json", Log{Level: "warn", Format: "json"}, false, zapcore.WarnLevel},
		{"verbose wins", Log{Level: "error"}, true, zapcore.DebugLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewLogger(tt.log, tt.verbose)
			require.NoError(t, err)
			assert.True(t, l.Core().Enabled(tt.want))
			if tt.want > zapcore.DebugLevel {
				assert.False(t, l.Core().Enabled(tt.want-1))
			}
		})
	}

	_, err := NewLogger(Log{Level: "loud"}, false)
	assert.Error(t, err)
}
