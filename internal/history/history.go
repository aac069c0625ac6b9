// Package history exports registry log events to analytics systems.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/neuronlabs/botregistry/internal/auditlog"
)

// Event is the flattened form of a registry log entry sent to sinks.
type Event struct {
	Kind       string    `json:"event"`
	OccurredAt time.Time `json:"occurred_at"`
	RunID      string    `json:"run_id"`
	Bot        string    `json:"bot,omitempty"`
	Digest     string    `json:"digest,omitempty"`
	Status     string    `json:"status,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// FromEntry flattens a registry log entry. Bot output is not exported.
func FromEntry(e auditlog.Entry) Event {
	ev := Event{
		Kind:       string(e.Kind),
		OccurredAt: e.Time.UTC(),
		RunID:      e.RunID,
		Bot:        e.Bot,
		Digest:     e.Digest,
		Status:     e.Status,
		DurationMs: e.DurationMs,
	}
	switch e.Kind {
	case auditlog.KindDigestDrift:
		ev.Detail = "previous_digest=" + e.PreviousDigest
	case auditlog.KindAuditResult:
		ev.Detail = e.Error
		if ev.Detail == "" && e.Status == "failed" {
			ev.Detail = fmt.Sprintf("exit_code=%d", e.ExitCode)
		}
	case auditlog.KindRunStarted:
		ev.Detail = e.Dir
	case auditlog.KindRunCompleted:
		if c := e.Counts; c != nil {
			ev.Detail = fmt.Sprintf("discovered=%d passed=%d failed=%d error_timeout=%d error_crash=%d skipped_not_executable=%d drifted=%d store_errors=%d cancelled=%t",
				c.Discovered, c.Passed, c.Failed, c.ErrorTimeout, c.ErrorCrash, c.SkippedNotExecutable, c.Drifted, c.StoreErrors, c.Cancelled)
		}
	}
	return ev
}
