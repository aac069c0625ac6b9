// Package integritytest holds behavior checks shared by every integrity.Store backend.
package integritytest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/neuronlabs/botregistry/internal/integrity"
)

// Run exercises the Store contract against s. The store must be empty.
func Run(t *testing.T, s integrity.Store) {
	t.Helper()
	ctx := context.Background()
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	// idempotent
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema twice: %v", err)
	}

	if _, ok, err := s.Lookup(ctx, "bot-a"); err != nil || ok {
		t.Fatalf("lookup on empty store: ok=%v err=%v", ok, err)
	}

	t1 := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	if err := s.Commit(ctx, "bot-a", "digest-1", t1); err != nil {
		t.Fatalf("commit: %v", err)
	}
	got, ok, err := s.Lookup(ctx, "bot-a")
	if err != nil || !ok {
		t.Fatalf("lookup after commit: ok=%v err=%v", ok, err)
	}
	if got.Name != "bot-a" || got.LastGoodDigest != "digest-1" || !got.LastAuditAt.Equal(t1) {
		t.Fatalf("unexpected record: %+v", got)
	}
	if !got.Drifted("digest-2") || got.Drifted("digest-1") {
		t.Fatalf("drift check wrong for %+v", got)
	}

	// replace
	t2 := t1.Add(time.Hour)
	if err := s.Commit(ctx, "bot-a", "digest-2", t2); err != nil {
		t.Fatalf("commit replace: %v", err)
	}
	got, _, _ = s.Lookup(ctx, "bot-a")
	if got.LastGoodDigest != "digest-2" || !got.LastAuditAt.Equal(t2) {
		t.Fatalf("record not replaced: %+v", got)
	}

	if err := s.Commit(ctx, "bot-b", "digest-b", t1); err != nil {
		t.Fatalf("commit bot-b: %v", err)
	}
	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Name != "bot-a" || list[1].Name != "bot-b" {
		t.Fatalf("unexpected list: %+v", list)
	}

	if err := s.Delete(ctx, "bot-b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Lookup(ctx, "bot-b"); ok {
		t.Fatalf("bot-b should be gone")
	}
	if err := s.Delete(ctx, "bot-b"); !errors.Is(err, integrity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// RunConcurrentCommits checks that parallel commits for the same name leave one
// complete record behind.
func RunConcurrentCommits(t *testing.T, s integrity.Store) {
	t.Helper()
	ctx := context.Background()
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	base := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := fmt.Sprintf("digest-%02d", i)
			if err := s.Commit(ctx, "shared", d, base.Add(time.Duration(i)*time.Second)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent commit: %v", err)
	}
	got, ok, err := s.Lookup(ctx, "shared")
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	var idx int
	if _, err := fmt.Sscanf(got.LastGoodDigest, "digest-%02d", &idx); err != nil {
		t.Fatalf("torn digest %q", got.LastGoodDigest)
	}
	if !got.LastAuditAt.Equal(base.Add(time.Duration(idx) * time.Second)) {
		t.Fatalf("digest and timestamp from different commits: %+v", got)
	}
}
