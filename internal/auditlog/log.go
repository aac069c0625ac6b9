// Package auditlog implements the append-only registry log: one line per
// event, written either as logfmt or as JSON.
package auditlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-logfmt/logfmt"
)

// ErrWrite wraps every failure to persist an entry.
var ErrWrite = errors.New("registry log write failed")

// Format selects the line encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat maps configuration text to a Format. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatText, "logfmt":
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown registry log format %q", s)
}

// Publisher receives entries after they are durably written.
type Publisher interface {
	Publish(ctx context.Context, e Entry) error
}

type Options struct {
	Format Format
	// Sync calls fsync after every entry when the log is backed by a file.
	Sync      bool
	Publisher Publisher
	Logger    *slog.Logger
}

// Log is safe for concurrent use. Each entry is encoded into one buffer and
// handed to the underlying writer in a single Write under the log's mutex.
type Log struct {
	mu     sync.Mutex
	w      io.Writer
	f      *os.File
	opts   Options
	closed bool
}

// Open opens path for appending, creating it and its directory if needed.
func Open(path string, opts Options) (*Log, error) {
	if path == "" {
		return nil, errors.New("empty registry log path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrite, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrite, err)
	}
	l := New(f, opts)
	l.f = f
	return l, nil
}

// New writes entries to w. Close does not close w.
func New(w io.Writer, opts Options) *Log {
	if opts.Format == "" {
		opts.Format = FormatText
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Log{w: w, opts: opts}
}

func (l *Log) Format() Format { return l.opts.Format }

// Append writes e as one line. The publisher, if any, is notified afterwards;
// its errors are logged and never returned.
func (l *Log) Append(ctx context.Context, e Entry) error {
	line, err := encode(l.opts.Format, e)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrWrite, e.Kind, err)
	}
	if err := l.write(line); err != nil {
		return err
	}
	if p := l.opts.Publisher; p != nil {
		if err := p.Publish(ctx, e); err != nil {
			l.opts.Logger.Warn("History publish failed", "event", e.Kind, "bot", e.Bot, "error", err)
		}
	}
	return nil
}

func (l *Log) write(line []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("%w: log closed", ErrWrite)
	}
	n, err := l.w.Write(line)
	if err == nil && n != len(line) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if l.opts.Sync && l.f != nil {
		if err := l.f.Sync(); err != nil {
			return fmt.Errorf("%w: sync: %v", ErrWrite, err)
		}
	}
	return nil
}

// Close closes the file opened by Open. Further appends fail with ErrWrite.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.f != nil {
		return l.f.Close()
	}
	return nil
}

func encode(format Format, e Entry) ([]byte, error) {
	kv := e.keyvals()
	var buf bytes.Buffer
	switch format {
	case FormatJSON:
		buf.WriteByte('{')
		for i := 0; i < len(kv); i += 2 {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, _ := json.Marshal(kv[i])
			v, err := json.Marshal(kv[i+1])
			if err != nil {
				return nil, err
			}
			buf.Write(k)
			buf.WriteByte(':')
			buf.Write(v)
		}
		buf.WriteString("}\n")
	default:
		enc := logfmt.NewEncoder(&buf)
		if err := enc.EncodeKeyvals(kv...); err != nil {
			return nil, err
		}
		if err := enc.EndRecord(); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
