package audit

import (
	"strings"
	"sync"
	"testing"
)

func TestBoundedBufferKeepsPrefix(t *testing.T) {
	b := newBoundedBuffer(8)
	n, err := b.Write([]byte("hello "))
	if n != 6 || err != nil {
		t.Fatalf("write = %d, %v", n, err)
	}
	n, err = b.Write([]byte("world"))
	if n != 5 || err != nil {
		t.Fatalf("overflowing write must report full length, got %d, %v", n, err)
	}
	if b.String() != "hello wo" || b.Dropped() != 3 {
		t.Fatalf("got %q dropped=%d", b.String(), b.Dropped())
	}
}

func TestBoundedBufferZeroLimit(t *testing.T) {
	b := newBoundedBuffer(0)
	_, _ = b.Write([]byte("abc"))
	if b.String() != "" || b.Dropped() != 3 {
		t.Fatalf("got %q dropped=%d", b.String(), b.Dropped())
	}
}

func TestBoundedBufferConcurrentWriters(t *testing.T) {
	b := newBoundedBuffer(1 << 20)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = b.Write([]byte("0123456789\n"))
			}
		}()
	}
	wg.Wait()
	lines := strings.Split(strings.TrimSuffix(b.String(), "\n"), "\n")
	if len(lines) != 800 {
		t.Fatalf("lines = %d", len(lines))
	}
	for _, ln := range lines {
		if ln != "0123456789" {
			t.Fatalf("interleaved write: %q", ln)
		}
	}
}
