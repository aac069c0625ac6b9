// Package config loads the botregistry TOML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/spf13/viper"

	"github.com/neuronlabs/botregistry/internal/audit"
	"github.com/neuronlabs/botregistry/internal/auditlog"
	"github.com/neuronlabs/botregistry/internal/bot"
	"github.com/neuronlabs/botregistry/internal/logger"
	"github.com/neuronlabs/botregistry/internal/scheduler"
	btls "github.com/neuronlabs/botregistry/internal/tls"
)

// Config is the top-level TOML structure.
//
//	[registry]
//	dir = "/srv/bots"
//	patterns = ["*-bot"]
//
//	[audit]
//	timeout = "30s"
//	env_files = ["bots.env"]
//
//	[log]
//	path = "/var/lib/botregistry/registry.log"
//
//	[store]
//	dsn = "sqlite:///var/lib/botregistry/integrity.db"
type Config struct {
	Registry RegistryConfig `toml:"registry" mapstructure:"registry"`
	Audit    AuditConfig    `toml:"audit" mapstructure:"audit"`
	Log      LogConfig      `toml:"log" mapstructure:"log"`
	Store    StoreConfig    `toml:"store" mapstructure:"store"`
	History  HistoryConfig  `toml:"history" mapstructure:"history"`
	Logging  logger.Config  `toml:"logging" mapstructure:"logging"`
	Server   ServerConfig   `toml:"server" mapstructure:"server"`
	Metrics  MetricsConfig  `toml:"metrics" mapstructure:"metrics"`
	Schedule ScheduleConfig `toml:"schedule" mapstructure:"schedule"`
}

type RegistryConfig struct {
	Dir         string   `toml:"dir" mapstructure:"dir" default:"bots"`
	Patterns    []string `toml:"patterns" mapstructure:"patterns"`
	Concurrency int      `toml:"concurrency" mapstructure:"concurrency" default:"1"`
}

// AuditConfig is audit.Options plus the environment sources merged into
// Options.Env at load time. Env entries ("KEY=VALUE") win over env file entries.
type AuditConfig struct {
	audit.Options `mapstructure:",squash"`
	Env           []string `toml:"env" mapstructure:"env"`
	EnvFiles      []string `toml:"env_files" mapstructure:"env_files"`
}

type LogConfig struct {
	Path   string `toml:"path" mapstructure:"path" default:"registry.log"`
	Format string `toml:"format" mapstructure:"format" default:"text"`
	Sync   bool   `toml:"sync" mapstructure:"sync"`
}

type StoreConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn" default:"sqlite://integrity.db"`
}

type HistoryConfig struct {
	DSNs       []string      `toml:"dsns" mapstructure:"dsns"`
	QueueSize  int           `toml:"queue_size" mapstructure:"queue_size" default:"256"`
	MaxElapsed time.Duration `toml:"max_elapsed" mapstructure:"max_elapsed" default:"10s"`
}

type ServerConfig struct {
	Listen   string      `toml:"listen" mapstructure:"listen" default:"127.0.0.1:8080"`
	BasePath string      `toml:"base_path" mapstructure:"base_path" default:"/api"`
	TLS      btls.Config `toml:"tls" mapstructure:"tls"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Path    string `toml:"path" mapstructure:"path" default:"/metrics"`
}

// ScheduleConfig drives periodic runs in serve mode. Every uses "@every <duration>";
// empty disables scheduling.
type ScheduleConfig struct {
	Every      string `toml:"every" mapstructure:"every"`
	RunOnStart bool   `toml:"run_on_start" mapstructure:"run_on_start"`
}

// Default returns a Config populated only from struct defaults.
func Default() Config {
	var c Config
	_ = defaults.Set(&c)
	return c
}

// Load reads a TOML file on top of the defaults. Relative paths inside the file
// (registry dir, log path, env files, archive dir, TLS files, file-backed
// DSNs) resolve against the file's
// directory so a config behaves the same from any working directory.
func Load(path string) (Config, error) {
	cfg := Default()
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	base := filepath.Dir(path)
	cfg.Registry.Dir = resolve(base, cfg.Registry.Dir)
	cfg.Log.Path = resolve(base, cfg.Log.Path)
	cfg.Audit.Archive.Dir = resolve(base, cfg.Audit.Archive.Dir)
	cfg.Server.TLS.Dir = resolve(base, cfg.Server.TLS.Dir)
	cfg.Server.TLS.CertFile = resolve(base, cfg.Server.TLS.CertFile)
	cfg.Server.TLS.KeyFile = resolve(base, cfg.Server.TLS.KeyFile)
	for i, f := range cfg.Audit.EnvFiles {
		cfg.Audit.EnvFiles[i] = resolve(base, f)
	}
	cfg.Store.DSN = resolveDSN(base, cfg.Store.DSN)
	for i, d := range cfg.History.DSNs {
		cfg.History.DSNs[i] = resolveDSN(base, d)
	}
	if err := cfg.mergeEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// resolveDSN resolves the path of a sqlite, file or bare-path DSN. Network
// DSNs, in-memory databases and "file:" URIs pass through untouched.
func resolveDSN(base, dsn string) string {
	d := strings.TrimSpace(dsn)
	scheme := ""
	if i := strings.Index(d, "://"); i >= 0 {
		scheme = strings.ToLower(d[:i])
		if scheme != "sqlite" && scheme != "file" {
			return dsn
		}
		scheme = d[:i+3]
		d = d[i+3:]
	}
	if d == "" || d == ":memory:" || strings.HasPrefix(d, "file:") {
		return dsn
	}
	return scheme + resolve(base, d)
}

func (c *Config) mergeEnv() error {
	if len(c.Audit.EnvFiles) == 0 && len(c.Audit.Env) == 0 {
		return nil
	}
	merged := make(map[string]string)
	for _, p := range c.Audit.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return fmt.Errorf("audit env file: %w", err)
		}
		for k, v := range pairs {
			merged[k] = v
		}
	}
	for _, kv := range c.Audit.Env {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			return fmt.Errorf("audit.env entry %q is not KEY=VALUE", kv)
		}
		merged[kv[:i]] = kv[i+1:]
	}
	c.Audit.Options.Env = merged
	return nil
}

// loadEnvFile parses KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			m[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, nil
}

// Validate checks the settings a run cannot start without.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Registry.Dir) == "" {
		errs = append(errs, errors.New("registry.dir is required"))
	}
	if err := bot.ValidatePatterns(c.Registry.Patterns); err != nil {
		errs = append(errs, fmt.Errorf("registry.patterns: %w", err))
	}
	if c.Registry.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("registry.concurrency must be at least 1, got %d", c.Registry.Concurrency))
	}
	if c.Audit.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("audit.timeout must be positive, got %s", c.Audit.Timeout))
	}
	if c.Audit.OutputLimit < 0 {
		errs = append(errs, fmt.Errorf("audit.output_limit must not be negative, got %d", c.Audit.OutputLimit))
	}
	if strings.TrimSpace(c.Log.Path) == "" {
		errs = append(errs, errors.New("log.path is required"))
	}
	if _, err := auditlog.ParseFormat(c.Log.Format); err != nil {
		errs = append(errs, fmt.Errorf("log.format: %w", err))
	}
	if strings.TrimSpace(c.Store.DSN) == "" {
		errs = append(errs, errors.New("store.dsn is required"))
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		errs = append(errs, fmt.Errorf("server.base_path must start with '/', got %q", c.Server.BasePath))
	}
	if err := c.Server.TLS.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server.tls: %w", err))
	}
	if c.Schedule.Every != "" {
		if _, err := scheduler.ParseEvery(c.Schedule.Every); err != nil {
			errs = append(errs, fmt.Errorf("schedule.every: %w", err))
		}
	}
	return errors.Join(errs...)
}
