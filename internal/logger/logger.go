package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings for files written through lumberjack.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Level is the textual slog level accepted in configuration.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format selects the slog handler.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config bundles the operational logger (Slog) and the rotated files used to
// archive full bot output (File). Neither is used for the registry log, which
// is append-only and never rotated.
type Config struct {
	Slog SlogConfig `toml:"slog" mapstructure:"slog"`
	File FileConfig `toml:"file" mapstructure:"file"`
}

// SlogConfig configures the structured logger of the registry process itself.
// When Path is set the output goes to a lumberjack-rotated file instead of stderr.
type SlogConfig struct {
	Level      Level  `toml:"level" mapstructure:"level" default:"info"`
	Format     Format `toml:"format" mapstructure:"format" default:"text"`
	Color      bool   `toml:"color" mapstructure:"color"`
	TimeStamps bool   `toml:"timestamps" mapstructure:"timestamps" default:"true"`
	Source     bool   `toml:"source" mapstructure:"source"`
	Path       string `toml:"path" mapstructure:"path"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// FileConfig describes per-bot output archives. If Dir is empty no archive is kept.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// Enabled reports whether output archiving is configured.
func (c FileConfig) Enabled() bool { return strings.TrimSpace(c.Dir) != "" }

// Path returns the archive file for the named bot: Dir/<name>.audit.log.
func (c FileConfig) Path(name string) string {
	return filepath.Join(c.Dir, fmt.Sprintf("%s.audit.log", name))
}

// Writer returns a rotating writer for the named bot's audit output.
// It returns nil when archiving is disabled.
func (c FileConfig) Writer(name string) (io.WriteCloser, error) {
	if !c.Enabled() {
		return nil, nil
	}
	if err := os.MkdirAll(c.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &lj.Logger{
		Filename:   c.Path(name),
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}, nil
}

// NewSlogger builds a *slog.Logger from the Slog section.
func (c Config) NewSlogger() *slog.Logger {
	l, _ := c.Slog.build(os.Stderr)
	return l
}

// NewSloggerTo is NewSlogger with an explicit fallback writer (used when Path is empty).
// The returned closer is non-nil only when a log file was opened.
func (c Config) NewSloggerTo(w io.Writer) (*slog.Logger, io.Closer) {
	return c.Slog.build(w)
}

func (s SlogConfig) build(fallback io.Writer) (*slog.Logger, io.Closer) {
	var (
		w      = fallback
		closer io.Closer
	)
	if strings.TrimSpace(s.Path) != "" {
		_ = os.MkdirAll(filepath.Dir(s.Path), 0o750)
		f := &lj.Logger{
			Filename:   s.Path,
			MaxSize:    valOr(s.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(s.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(s.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   s.Compress,
		}
		w = f
		closer = f
	}
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(s.Level),
		AddSource: s.Source,
	}
	if !s.TimeStamps {
		opts.ReplaceAttr = dropTime
	}
	var h slog.Handler
	switch {
	case s.Format == FormatJSON:
		h = slog.NewJSONHandler(w, opts)
	case s.Color && closer == nil:
		h = NewColorTextHandler(w, opts, s.TimeStamps)
	default:
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), closer
}

// ParseLevel maps a configured level to slog.Level; unknown values mean info.
func ParseLevel(l Level) slog.Level {
	switch Level(strings.ToLower(strings.TrimSpace(string(l)))) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn, "warning":
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
