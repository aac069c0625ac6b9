package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/neuronlabs/botregistry/internal/integrity/integritytest"
)

func TestFileStoreContract(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "integrity.json"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	integritytest.Run(t, s)
}

func TestFileStoreConcurrentCommits(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "integrity.json"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	integritytest.RunConcurrentCommits(t, s)
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(filepath.Join(dir, "state", "integrity.json"))
	ctx := context.Background()
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := s.Commit(ctx, "bot", "d", time.Now()); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}
	entries, err := os.ReadDir(filepath.Join(dir, "state"))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the document, got %d entries", len(entries))
	}
}

func TestFileStoreRejectsCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "integrity.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	s, _ := New(path)
	if err := s.EnsureSchema(context.Background()); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, _, err := s.Lookup(context.Background(), "x"); err == nil {
		t.Fatalf("expected decode error on lookup")
	}
}

func TestFileStoreHonorsCancelledContext(t *testing.T) {
	s, _ := New(filepath.Join(t.TempDir(), "integrity.json"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Commit(ctx, "bot", "d", time.Now()); err == nil {
		t.Fatalf("expected context error")
	}
}
