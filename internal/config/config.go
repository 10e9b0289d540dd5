// Package config loads kitgraph settings from a YAML file with
// KITGRAPH_* environment overrides, and builds the pieces they select.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	osfs "github.com/hack-pad/hackpadfs/os"
	"gopkg.in/yaml.v3"

	"github.com/kittclouds/kitgraph/internal/store"
	"github.com/kittclouds/kitgraph/internal/store/badgerstore"
	"github.com/kittclouds/kitgraph/internal/store/sqlitestore"
	"github.com/kittclouds/kitgraph/pkg/completeness"
	"github.com/kittclouds/kitgraph/pkg/pgraph"
)

// Backend names a durable store implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendFS     Backend = "fs"
	BackendSQLite Backend = "sqlite"
	BackendBadger Backend = "badger"
)

// Config is the full set of settings.
type Config struct {
	Backend Backend `yaml:"backend" validate:"required,oneof=memory fs sqlite badger"`
	// Path is a database file for sqlite and a directory for fs and badger.
	Path        string       `yaml:"path" validate:"required_unless=Backend memory"`
	AutoHydrate bool         `yaml:"auto_hydrate"`
	Policy      string       `yaml:"policy" validate:"oneof=strict lenient"`
	Log         LogConfig    `yaml:"log"`
	Badger      BadgerConfig `yaml:"badger"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

type BadgerConfig struct {
	SyncWrites     bool          `yaml:"sync_writes"`
	GCInterval     time.Duration `yaml:"gc_interval" validate:"gte=0"`
	GCDiscardRatio float64       `yaml:"gc_discard_ratio" validate:"gt=0,lt=1"`
}

// Default returns the settings used when nothing is configured: a
// SQLite database in the working directory.
func Default() Config {
	return Config{
		Backend: BackendSQLite,
		Path:    "kitgraph.db",
		Policy:  "strict",
		Log:     LogConfig{Level: "info", Format: "text"},
		Badger: BadgerConfig{
			SyncWrites:     true,
			GCInterval:     5 * time.Minute,
			GCDiscardRatio: 0.5,
		},
	}
}

var validate = validator.New()

// Load reads path (when non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("KITGRAPH_BACKEND"); ok {
		c.Backend = Backend(strings.ToLower(v))
	}
	if v, ok := lookup("KITGRAPH_PATH"); ok {
		c.Path = v
	}
	if v, ok := lookup("KITGRAPH_LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := lookup("KITGRAPH_AUTO_HYDRATE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("KITGRAPH_AUTO_HYDRATE: %w", err)
		}
		c.AutoHydrate = b
	}
	return nil
}

// Validate checks every field constraint.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Logger builds the process logger described by c.Log.
func (c Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch c.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// GraphOptions maps c onto orchestrator options.
func (c Config) GraphOptions(logger *slog.Logger) pgraph.Options {
	policy := completeness.PolicyStrict
	if c.Policy == "lenient" {
		policy = completeness.PolicyLenient
	}
	return pgraph.Options{
		Logger:      logger,
		AutoHydrate: c.AutoHydrate,
		Policy:      policy,
	}
}

// Opener returns a pgraph.Opener for the configured backend.
func (c Config) Opener(logger *slog.Logger) pgraph.Opener {
	return func(ctx context.Context) (store.Storer, error) {
		return c.OpenStore(ctx, logger)
	}
}

// OpenStore opens the configured backend, creating it when missing.
func (c Config) OpenStore(ctx context.Context, logger *slog.Logger) (store.Storer, error) {
	switch c.Backend {
	case BackendMemory:
		return store.NewMemStore(), nil
	case BackendFS:
		return openFS(ctx, c.Path)
	case BackendSQLite:
		st, err := sqlitestore.New(ctx, c.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	case BackendBadger:
		cfg := badgerstore.DefaultConfig(c.Path)
		cfg.SyncWrites = c.Badger.SyncWrites
		cfg.GCInterval = c.Badger.GCInterval
		cfg.GCDiscardRatio = c.Badger.GCDiscardRatio
		cfg.Logger = logger
		st, err := badgerstore.Open(cfg)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown backend %q", c.Backend)
}

// openFS roots an FSStore at dir on the host filesystem.
func openFS(ctx context.Context, dir string) (store.Storer, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, store.IOError("fs: resolve "+dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, store.IOError("fs: create "+dir, err)
	}
	host := osfs.NewFS()
	root, err := host.FromOSPath(abs)
	if err != nil {
		return nil, store.IOError("fs: resolve "+dir, err)
	}
	sub, err := host.Sub(root)
	if err != nil {
		return nil, store.IOError("fs: open "+dir, err)
	}
	st, err := store.OpenFS(ctx, sub)
	if err != nil {
		return nil, err
	}
	return st, nil
}
