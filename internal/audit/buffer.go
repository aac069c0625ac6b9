package audit

import "sync"

// boundedBuffer keeps the first limit bytes written to it and counts the rest.
// Writes never fail so the child never sees EPIPE on its stdout.
type boundedBuffer struct {
	mu      sync.Mutex
	buf     []byte
	limit   int
	dropped int64
}

func newBoundedBuffer(limit int) *boundedBuffer {
	initial := limit
	if initial > 4096 {
		initial = 4096
	}
	return &boundedBuffer{buf: make([]byte, 0, initial), limit: limit}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	if room := b.limit - len(b.buf); room > 0 {
		n = len(p)
		if n > room {
			n = room
		}
		b.buf = append(b.buf, p[:n]...)
	}
	b.dropped += int64(len(p) - n)
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// Dropped is the number of bytes discarded past the limit.
func (b *boundedBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
