package integrity

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Delete when no record exists for the name.
var ErrNotFound = errors.New("integrity record not found")

// Record is the last trusted state of a bot: the digest observed at its most
// recent successful audit. Records are created and replaced only by Commit and
// removed only by an explicit operator Delete.
type Record struct {
	Name           string    `json:"name"`
	LastGoodDigest string    `json:"last_good_digest"`
	LastAuditAt    time.Time `json:"last_audit_at"`
}

// Drifted reports whether digest differs from the last trusted digest.
func (r Record) Drifted(digest string) bool { return r.LastGoodDigest != digest }

// Store is the durable mapping from bot name to its last known good digest.
// Commit must be atomic per name: a concurrent Lookup sees either the previous
// record or the new one, never a partial write.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Lookup(ctx context.Context, name string) (Record, bool, error)
	Commit(ctx context.Context, name, digest string, at time.Time) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]Record, error)
	Close() error
}
