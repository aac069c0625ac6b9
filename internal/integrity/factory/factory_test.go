package factory

import (
	"path/filepath"
	"testing"

	fs "github.com/neuronlabs/botregistry/internal/integrity/file"
	pg "github.com/neuronlabs/botregistry/internal/integrity/postgres"
	sq "github.com/neuronlabs/botregistry/internal/integrity/sqlite"
)

func TestFactoryDSNSelection(t *testing.T) {
	// Empty DSN -> error
	if _, err := NewFromDSN(""); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
	// postgres scheme -> postgres driver object (sql.Open does not connect)
	p, err := NewFromDSN("postgres://user@localhost/db")
	if err != nil {
		t.Fatalf("postgres dsn: %v", err)
	}
	if _, ok := p.(*pg.DB); !ok {
		t.Fatalf("expected postgres store, got %T", p)
	}
	_ = p.Close()
	// sqlite scheme
	s1, err := NewFromDSN("sqlite://:memory:")
	if err != nil {
		t.Fatalf("sqlite scheme: %v", err)
	}
	if _, ok := s1.(*sq.DB); !ok {
		t.Fatalf("expected sqlite store, got %T", s1)
	}
	_ = s1.Close()
	// bare path defaults to sqlite
	s2, err := NewFromDSN(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("bare sqlite: %v", err)
	}
	if _, ok := s2.(*sq.DB); !ok {
		t.Fatalf("expected sqlite store, got %T", s2)
	}
	_ = s2.Close()
	// file scheme
	f, err := NewFromDSN("file://" + filepath.Join(t.TempDir(), "integrity.json"))
	if err != nil {
		t.Fatalf("file scheme: %v", err)
	}
	if _, ok := f.(*fs.Store); !ok {
		t.Fatalf("expected file store, got %T", f)
	}
	// unknown scheme
	if _, err := NewFromDSN("redis://localhost"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}
