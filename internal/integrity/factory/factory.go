package factory

import (
	"errors"
	"strings"

	"github.com/neuronlabs/botregistry/internal/integrity"
	fs "github.com/neuronlabs/botregistry/internal/integrity/file"
	pg "github.com/neuronlabs/botregistry/internal/integrity/postgres"
	sq "github.com/neuronlabs/botregistry/internal/integrity/sqlite"
)

// NewFromDSN selects an integrity store implementation based on DSN.
// Supported:
//   - sqlite:   "sqlite://<path>" or a bare filepath (treated as sqlite)
//   - postgres: DSN starting with "postgres://" or "postgresql://"
//   - file:     "file://<path>.json" (single JSON document)
func NewFromDSN(dsn string) (integrity.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return pg.New(d)
	}
	if strings.HasPrefix(ld, "sqlite://") {
		return sq.New(d[len("sqlite://"):])
	}
	if strings.HasPrefix(ld, "file://") {
		return fs.New(d[len("file://"):])
	}
	if strings.Contains(d, "://") {
		return nil, errors.New("unsupported integrity store DSN: " + d)
	}
	// default to sqlite path
	return sq.New(d)
}
