package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/neuronlabs/botregistry/internal/integrity"
)

// DB implements integrity.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// one connection: serializes writers and keeps ":memory:" databases alive
	d.SetMaxOpenConns(1)
	// busy timeout helps when another registry process holds the file lock
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bot_integrity(
			name TEXT PRIMARY KEY,
			last_good_digest TEXT NOT NULL,
			last_audit_at TIMESTAMP NOT NULL
		);`)
	return err
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Lookup(ctx context.Context, name string) (integrity.Record, bool, error) {
	var r integrity.Record
	err := s.db.QueryRowContext(ctx, `
		SELECT name, last_good_digest, last_audit_at
		FROM bot_integrity
		WHERE name=?;`, name).Scan(&r.Name, &r.LastGoodDigest, &r.LastAuditAt)
	if errors.Is(err, sql.ErrNoRows) {
		return integrity.Record{}, false, nil
	}
	if err != nil {
		return integrity.Record{}, false, err
	}
	r.LastAuditAt = r.LastAuditAt.UTC()
	return r, true, nil
}

// Commit writes or replaces the record in a single UPSERT statement.
func (s *DB) Commit(ctx context.Context, name, digest string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bot_integrity(name, last_good_digest, last_audit_at)
		VALUES(?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			last_good_digest=excluded.last_good_digest,
			last_audit_at=excluded.last_audit_at;`,
		name, digest, at.UTC())
	return err
}

func (s *DB) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bot_integrity WHERE name=?;`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return integrity.ErrNotFound
	}
	return nil
}

func (s *DB) List(ctx context.Context) ([]integrity.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, last_good_digest, last_audit_at
		FROM bot_integrity
		ORDER BY name;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]integrity.Record, 0)
	for rows.Next() {
		var r integrity.Record
		if err := rows.Scan(&r.Name, &r.LastGoodDigest, &r.LastAuditAt); err != nil {
			return nil, err
		}
		r.LastAuditAt = r.LastAuditAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
