// Package config loads recstore configuration from defaults, a YAML file,
// RECSTORE_* environment variables and command flags, and validates it
// against an embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/recstore/internal/objstore"
)

// Backend names.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// ErrInvalid wraps schema violations.
var ErrInvalid = errors.New("invalid config")

//go:embed schema.cue
var schemaSource string

// Config is the full recstore configuration.
type Config struct {
	Backend       string `mapstructure:"backend" json:"backend"`
	DataDir       string `mapstructure:"data_dir" json:"data_dir"`
	Database      string `mapstructure:"database" json:"database"`
	Collection    string `mapstructure:"collection" json:"collection"`
	KeyPath       string `mapstructure:"key_path" json:"key_path"`
	Version       int    `mapstructure:"version" json:"version"`
	NormalizeKeys bool   `mapstructure:"normalize_keys" json:"normalize_keys"`
	Redis         Redis  `mapstructure:"redis" json:"redis"`
	Log           Log    `mapstructure:"log" json:"log"`
}

// Redis configures the redis backend.
type Redis struct {
	Addr     string `mapstructure:"addr" json:"addr"`
	Password string `mapstructure:"password" json:"password"`
	DB       int    `mapstructure:"db" json:"db"`
	Prefix   string `mapstructure:"prefix" json:"prefix"`
}

// Log configures the process logger.
type Log struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// Accessor returns the accessor settings of c.
func (c Config) Accessor() objstore.Config {
	return objstore.Config{
		Database:      c.Database,
		Collection:    c.Collection,
		KeyPath:       c.KeyPath,
		Version:       c.Version,
		NormalizeKeys: c.NormalizeKeys,
	}
}

// Defaults returns the built-in values of every key.
func Defaults() map[string]any {
	return map[string]any{
		"backend":        BackendSQLite,
		"data_dir":       defaultDataDir(),
		"database":       "recstore",
		"collection":     "records",
		"key_path":       "id",
		"version":        objstore.DefaultVersion,
		"normalize_keys": false,
		"redis.addr":     "localhost:6379",
		"redis.password": "",
		"redis.db":       0,
		"redis.prefix":   "recstore",
		"log.level":      "info",
		"log.format":     "console",
	}
}

// flagKeys maps command flag names to config keys.
var flagKeys = map[string]string{
	"backend":        "backend",
	"data-dir":       "data_dir",
	"database":       "database",
	"collection":     "collection",
	"key-path":       "key_path",
	"db-version":     "version",
	"normalize-keys": "normalize_keys",
	"redis-addr":     "redis.addr",
	"log-level":      "log.level",
	"log-format":     "log.format",
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".recstore"
	}
	return filepath.Join(dir, "recstore", "data")
}

// Load resolves the configuration. path names an explicit config file and
// may be empty; otherwise recstore.yaml is searched in the user config
// directory and the working directory. cmd may be nil; when set, flags
// listed in flagKeys that the user changed take precedence.
func Load(cmd *cobra.Command, path string) (Config, error) {
	var c Config
	v := viper.New()

	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	v.SetConfigName("recstore")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "recstore"))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return c, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("recstore")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		flags := cmd.Flags()
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return c, fmt.Errorf("bind flag %q: %w", name, err)
				}
			}
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(c); err != nil {
		return c, err
	}
	return c, nil
}

// Validate checks c against the embedded schema.
func Validate(c Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	value := ctx.Encode(c)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w:\n%s", ErrInvalid, strings.TrimSpace(cueerrors.Details(err, nil)))
	}
	return nil
}
