package bot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"
)

// ErrDirectoryUnavailable is returned when the bot directory cannot be opened.
// It is fatal for a registry run: there is nothing to register.
var ErrDirectoryUnavailable = errors.New("bot directory unavailable")

// DiscoverOptions narrows and timestamps a discovery pass.
type DiscoverOptions struct {
	// Patterns restricts bots by name (path.Match syntax). Empty means all executables.
	Patterns []string
	// Now stamps every descriptor of the pass. Defaults to time.Now().UTC().
	Now time.Time
	// Logger receives warnings about unreadable executables. Defaults to slog.Default().
	Logger *slog.Logger
}

// Discover returns a descriptor for every executable regular file directly inside dir,
// ordered lexicographically by name. Non-executables, subdirectories and symlinks
// to non-regular targets are skipped silently.
func Discover(ctx context.Context, dir string, opts DiscoverOptions) ([]Descriptor, error) {
	if err := ValidatePatterns(opts.Patterns); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDirectoryUnavailable, dir, err)
	}
	// os.ReadDir sorts entries by filename.
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	out := make([]Descriptor, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() {
			continue
		}
		if ok, _ := MatchAny(name, opts.Patterns); !ok {
			continue
		}
		p := filepath.Join(abs, name)
		info, err := os.Stat(p) // follows symlinks
		if err != nil {
			// dangling symlink or removed since listing
			continue
		}
		if !info.Mode().IsRegular() || !IsExecutable(p, info) {
			continue
		}
		digest, err := Digest(p)
		if err != nil {
			log.Warn("Skipping unreadable bot", "bot", name, "path", p, "error", err)
			continue
		}
		out = append(out, Descriptor{
			Name:         name,
			Path:         p,
			Digest:       digest,
			DiscoveredAt: now,
		})
	}
	return out, nil
}

// MatchAny reports whether name matches one of patterns. An empty pattern list matches everything.
func MatchAny(name string, patterns []string) (bool, error) {
	if len(patterns) == 0 {
		return true, nil
	}
	for _, p := range patterns {
		ok, err := path.Match(p, name)
		if err != nil {
			return false, fmt.Errorf("invalid bot pattern %q: %w", p, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// ValidatePatterns rejects malformed glob patterns before any file is touched.
func ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if _, err := path.Match(p, ""); err != nil {
			return fmt.Errorf("invalid bot pattern %q: %w", p, err)
		}
	}
	return nil
}

// IsExecutable reports whether the file described by info may be executed.
func IsExecutable(p string, info fs.FileInfo) bool {
	return isExecutable(p, info)
}
