package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/neuronlabs/botregistry/internal/integrity"
)

const documentVersion = 1

type document struct {
	Version int                         `json:"version"`
	Records map[string]integrity.Record `json:"records"`
}

// Store keeps integrity records in a single JSON document. Every Commit and
// Delete rewrites the whole document through a temp file and rename, so a
// reader sees either the old or the new content.
type Store struct {
	mu   sync.Mutex
	path string
}

// New returns a file store at path. The file is created on EnsureSchema.
func New(path string) (*Store, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty integrity file path")
	}
	return &Store{path: filepath.Clean(p)}, nil
}

func (s *Store) EnsureSchema(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.path); err == nil {
		_, err := s.load()
		return err
	} else if !os.IsNotExist(err) {
		return err
	}
	return s.save(document{Version: documentVersion, Records: map[string]integrity.Record{}})
}

func (s *Store) Close() error { return nil }

func (s *Store) Lookup(ctx context.Context, name string) (integrity.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return integrity.Record{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return integrity.Record{}, false, err
	}
	r, ok := doc.Records[name]
	return r, ok, nil
}

func (s *Store) Commit(ctx context.Context, name, digest string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.Records[name] = integrity.Record{Name: name, LastGoodDigest: digest, LastAuditAt: at.UTC()}
	return s.save(doc)
}

func (s *Store) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Records[name]; !ok {
		return integrity.ErrNotFound
	}
	delete(doc.Records, name)
	return s.save(doc)
}

func (s *Store) List(ctx context.Context) ([]integrity.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	doc, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]integrity.Record, 0, len(doc.Records))
	for _, r := range doc.Records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// load reads the document; a missing file is an empty document.
func (s *Store) load() (document, error) {
	doc := document{Version: documentVersion, Records: map[string]integrity.Record{}}
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return doc, err
	}
	if len(b) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return doc, fmt.Errorf("decode %s: %w", s.path, err)
	}
	if doc.Version != documentVersion {
		return doc, fmt.Errorf("unsupported integrity file version %d", doc.Version)
	}
	if doc.Records == nil {
		doc.Records = map[string]integrity.Record{}
	}
	return doc, nil
}

func (s *Store) save(doc document) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, append(b, '\n'))
}

func writeFileAtomic(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.tmp-%d", path, time.Now().UnixNano())
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(tmp)
	}()
	if _, err := f.Write(b); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	// make the rename itself durable
	if d, err := os.Open(filepath.Dir(path)); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
