package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestDefault(t *testing.T) {
	c := Default()
	if c.Registry.Dir != "bots" || c.Registry.Concurrency != 1 {
		t.Fatalf("registry defaults: %+v", c.Registry)
	}
	if c.Audit.Flag != "--audit" || c.Audit.Timeout != 30*time.Second || c.Audit.OutputLimit != 65536 {
		t.Fatalf("audit defaults: %+v", c.Audit.Options)
	}
	if c.Log.Path != "registry.log" || c.Log.Format != "text" || c.Log.Sync {
		t.Fatalf("log defaults: %+v", c.Log)
	}
	if c.Store.DSN != "sqlite://integrity.db" || c.History.QueueSize != 256 {
		t.Fatalf("store/history defaults: %+v %+v", c.Store, c.History)
	}
	if c.Logging.Slog.Level != "info" || !c.Logging.Slog.TimeStamps {
		t.Fatalf("logging defaults: %+v", c.Logging.Slog)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadFull(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bots.env", "FROM_FILE=1\n# comment\nSHARED=file\n")
	p := writeFile(t, dir, "botregistry.toml", `
[registry]
dir = "fleet"
patterns = ["*-bot", "watch-*"]
concurrency = 4

[audit]
timeout = "5s"
output_limit = 1024
inherit_env = true
max_rss_bytes = 268435456
env = ["SHARED=inline", "API_URL=http://localhost"]
env_files = ["bots.env"]

[audit.archive]
dir = "archive"
max_backups = 2

[log]
path = "/var/lib/botregistry/registry.log"
format = "json"
sync = true

[store]
dsn = "postgres://u:p@db/registry"

[history]
dsns = ["sqlite://history.db", "opensearch://search:9200/bots"]
max_elapsed = "30s"

[logging.slog]
level = "debug"
format = "json"

[server]
listen = ":9000"
base_path = "/registry"

[server.tls]
enabled = true
dir = "tls"
auto_generate = true

[metrics]
enabled = true

[schedule]
every = "@every 1h"
run_on_start = true
`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Registry.Dir != filepath.Join(dir, "fleet") || len(c.Registry.Patterns) != 2 || c.Registry.Concurrency != 4 {
		t.Fatalf("registry: %+v", c.Registry)
	}
	if c.Audit.Timeout != 5*time.Second || c.Audit.OutputLimit != 1024 || !c.Audit.InheritEnv || c.Audit.MaxRSSBytes != 256<<20 {
		t.Fatalf("audit: %+v", c.Audit.Options)
	}
	// untouched keys keep their defaults
	if c.Audit.Flag != "--audit" || c.Audit.SampleInterval != 250*time.Millisecond {
		t.Fatalf("audit defaults lost: %+v", c.Audit.Options)
	}
	env := c.Audit.Options.Env
	if env["FROM_FILE"] != "1" || env["SHARED"] != "inline" || env["API_URL"] != "http://localhost" {
		t.Fatalf("env merge: %v", env)
	}
	if c.Audit.Archive.Dir != filepath.Join(dir, "archive") || c.Audit.Archive.MaxBackups != 2 {
		t.Fatalf("archive: %+v", c.Audit.Archive)
	}
	if c.Log.Path != "/var/lib/botregistry/registry.log" || c.Log.Format != "json" || !c.Log.Sync {
		t.Fatalf("log: %+v", c.Log)
	}
	if c.Store.DSN != "postgres://u:p@db/registry" || len(c.History.DSNs) != 2 || c.History.MaxElapsed != 30*time.Second {
		t.Fatalf("store/history: %+v %+v", c.Store, c.History)
	}
	if c.History.DSNs[0] != "sqlite://"+filepath.Join(dir, "history.db") || c.History.DSNs[1] != "opensearch://search:9200/bots" {
		t.Fatalf("history dsns: %v", c.History.DSNs)
	}
	if c.Logging.Slog.Level != "debug" || c.Logging.Slog.Format != "json" {
		t.Fatalf("logging: %+v", c.Logging.Slog)
	}
	if c.Server.Listen != ":9000" || c.Server.BasePath != "/registry" || !c.Metrics.Enabled || c.Metrics.Path != "/metrics" {
		t.Fatalf("server/metrics: %+v %+v", c.Server, c.Metrics)
	}
	if !c.Server.TLS.Enabled || c.Server.TLS.Dir != filepath.Join(dir, "tls") || !c.Server.TLS.AutoGenerate || c.Server.TLS.MinVersion != "1.2" {
		t.Fatalf("server tls: %+v", c.Server.TLS)
	}
	if c.Schedule.Every != "@every 1h" || !c.Schedule.RunOnStart {
		t.Fatalf("schedule: %+v", c.Schedule)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadEnvKeysKeepCase(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "c.toml", "[audit]\nenv = [\"MixedCase=x\"]\n")
	c, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if c.Audit.Options.Env["MixedCase"] != "x" {
		t.Fatalf("env key case changed: %v", c.Audit.Options.Env)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "missing.toml")); err == nil {
		t.Fatalf("missing file accepted")
	}
	bad := writeFile(t, dir, "bad.toml", "[registry\ndir=")
	if _, err := Load(bad); err == nil {
		t.Fatalf("malformed toml accepted")
	}
	env := writeFile(t, dir, "env.toml", "[audit]\nenv = [\"NOEQUALS\"]\n")
	if _, err := Load(env); err == nil {
		t.Fatalf("bad env entry accepted")
	}
	files := writeFile(t, dir, "files.toml", "[audit]\nenv_files = [\"nope.env\"]\n")
	if _, err := Load(files); err == nil {
		t.Fatalf("missing env file accepted")
	}
}

func TestValidate(t *testing.T) {
	c := Default()
	c.Registry.Dir = ""
	c.Registry.Patterns = []string{"["}
	c.Registry.Concurrency = 0
	c.Audit.Timeout = 0
	c.Log.Format = "xml"
	c.Store.DSN = " "
	c.Server.BasePath = "api"
	c.Schedule.Every = "hourly"
	c.Server.TLS.Enabled = true
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"registry.dir", "registry.patterns", "registry.concurrency", "audit.timeout", "log.format", "store.dsn", "server.base_path", "server.tls", "schedule.every"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %v", want, err)
		}
	}
}

func TestLoadResolvesStoreDSN(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(t.TempDir(), "elsewhere.db")
	cases := []struct {
		dsn  string
		want string
	}{
		{"sqlite://integrity.db", "sqlite://" + filepath.Join(dir, "integrity.db")},
		{"file://state/integrity.json", "file://" + filepath.Join(dir, "state", "integrity.json")},
		{"integrity.db", filepath.Join(dir, "integrity.db")},
		{"sqlite://" + abs, "sqlite://" + abs},
		{"sqlite://:memory:", "sqlite://:memory:"},
		{"postgres://u:p@db/registry", "postgres://u:p@db/registry"},
	}
	for _, tc := range cases {
		p := writeFile(t, dir, "registry.toml", "[store]\ndsn = \""+tc.dsn+"\"\n")
		c, err := Load(p)
		if err != nil {
			t.Fatalf("load %q: %v", tc.dsn, err)
		}
		if c.Store.DSN != tc.want {
			t.Errorf("dsn %q resolved to %q, want %q", tc.dsn, c.Store.DSN, tc.want)
		}
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, ".env", "A=1\n#comment\n\nB = two\n=novalue\n")
	m, err := loadEnvFile(p)
	if err != nil {
		t.Fatalf("load env file: %v", err)
	}
	if len(m) != 2 || m["A"] != "1" || m["B"] != "two" {
		t.Fatalf("unexpected pairs: %+v", m)
	}
}
