package bot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Descriptor is the immutable record of one executable found during a registry run.
// A later run produces a new Descriptor; values are never updated in place.
type Descriptor struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Digest       string    `json:"digest"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Dir returns the directory holding the bot executable.
func (d Descriptor) Dir() string { return filepath.Dir(d.Path) }

// ShortDigest returns the first 12 hex characters of the digest for console output.
func (d Descriptor) ShortDigest() string {
	if len(d.Digest) <= 12 {
		return d.Digest
	}
	return d.Digest[:12]
}

// Digest computes the lowercase hex SHA-256 of the file at path.
func Digest(path string) (string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
