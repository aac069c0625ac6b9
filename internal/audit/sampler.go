package audit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// rssSampler polls the resident set size of a running bot.
type rssSampler struct {
	peak     atomic.Uint64
	exceeded atomic.Bool
}

// run samples pid every interval until ctx is done or the process is gone.
// When limit is non-zero and a sample exceeds it, kill is called once.
func (s *rssSampler) run(ctx context.Context, pid int, interval time.Duration, limit uint64, kill func()) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		mi, err := p.MemoryInfoWithContext(ctx)
		if err != nil {
			return
		}
		for {
			cur := s.peak.Load()
			if mi.RSS <= cur || s.peak.CompareAndSwap(cur, mi.RSS) {
				break
			}
		}
		if limit > 0 && mi.RSS > limit {
			s.exceeded.Store(true)
			kill()
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
