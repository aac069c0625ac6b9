package auditlog

import (
	"fmt"
	"strconv"
	"time"
)

// EventKind names one line in the registry log.
type EventKind string

const (
	KindRunStarted   EventKind = "run-started"
	KindDiscovered   EventKind = "discovered"
	KindDigestDrift  EventKind = "digest-drift"
	KindAuditResult  EventKind = "audit-result"
	KindRunCompleted EventKind = "run-completed"
)

// Counts is the run summary carried by run-completed.
type Counts struct {
	Discovered           int
	Passed               int
	Failed               int
	ErrorTimeout         int
	ErrorCrash           int
	SkippedNotExecutable int
	Drifted              int
	StoreErrors          int
	Cancelled            bool
}

// Entry is one registry log record. Zero-valued fields are not written,
// except exit_code on audit-result lines.
type Entry struct {
	Time            time.Time
	Kind            EventKind
	RunID           string
	Dir             string
	Bot             string
	Path            string
	Digest          string
	PreviousDigest  string
	LastAuditAt     time.Time
	Status          string
	DurationMs      int64
	ExitCode        int
	OutputTruncated bool
	DroppedBytes    int64
	PeakRSSBytes    uint64
	Error           string
	Counts          *Counts
	Output          string
}

const timeLayout = time.RFC3339Nano

// keyvals lists the fields in their on-disk order.
func (e Entry) keyvals() []any {
	kv := make([]any, 0, 40)
	add := func(k string, v any) { kv = append(kv, k, v) }
	add("time", e.Time.UTC().Format(timeLayout))
	add("event", string(e.Kind))
	if e.RunID != "" {
		add("run", e.RunID)
	}
	if e.Dir != "" {
		add("dir", e.Dir)
	}
	if e.Bot != "" {
		add("bot", e.Bot)
	}
	if e.Path != "" {
		add("path", e.Path)
	}
	if e.Digest != "" {
		add("digest", e.Digest)
	}
	if e.PreviousDigest != "" {
		add("previous_digest", e.PreviousDigest)
	}
	if !e.LastAuditAt.IsZero() {
		add("last_audit_at", e.LastAuditAt.UTC().Format(timeLayout))
	}
	if e.Status != "" {
		add("status", e.Status)
	}
	if e.Kind == KindAuditResult {
		add("duration_ms", e.DurationMs)
		add("exit_code", e.ExitCode)
	}
	if e.OutputTruncated {
		add("output_truncated", true)
	}
	if e.DroppedBytes > 0 {
		add("dropped_bytes", e.DroppedBytes)
	}
	if e.PeakRSSBytes > 0 {
		add("peak_rss_bytes", e.PeakRSSBytes)
	}
	if e.Error != "" {
		add("error", e.Error)
	}
	if c := e.Counts; c != nil {
		add("discovered", c.Discovered)
		add("passed", c.Passed)
		add("failed", c.Failed)
		add("error_timeout", c.ErrorTimeout)
		add("error_crash", c.ErrorCrash)
		add("skipped_not_executable", c.SkippedNotExecutable)
		add("drifted", c.Drifted)
		add("store_errors", c.StoreErrors)
		add("cancelled", c.Cancelled)
	}
	if e.Output != "" {
		add("output", e.Output)
	}
	return kv
}

// entryFromFields rebuilds an Entry from decoded key/value text.
func entryFromFields(f map[string]string) (Entry, error) {
	var e Entry
	var err error
	if e.Time, err = time.Parse(timeLayout, f["time"]); err != nil {
		return e, fmt.Errorf("time: %w", err)
	}
	e.Kind = EventKind(f["event"])
	if e.Kind == "" {
		return e, fmt.Errorf("missing event")
	}
	e.RunID = f["run"]
	e.Dir = f["dir"]
	e.Bot = f["bot"]
	e.Path = f["path"]
	e.Digest = f["digest"]
	e.PreviousDigest = f["previous_digest"]
	if v, ok := f["last_audit_at"]; ok {
		if e.LastAuditAt, err = time.Parse(timeLayout, v); err != nil {
			return e, fmt.Errorf("last_audit_at: %w", err)
		}
	}
	e.Status = f["status"]
	e.Error = f["error"]
	e.Output = f["output"]

	p := fieldParser{f: f}
	e.DurationMs = p.int64("duration_ms")
	e.ExitCode = int(p.int64("exit_code"))
	e.OutputTruncated = p.bool("output_truncated")
	e.DroppedBytes = p.int64("dropped_bytes")
	e.PeakRSSBytes = uint64(p.int64("peak_rss_bytes"))
	if _, ok := f["passed"]; ok && e.Kind == KindRunCompleted {
		e.Counts = &Counts{
			Discovered:           int(p.int64("discovered")),
			Passed:               int(p.int64("passed")),
			Failed:               int(p.int64("failed")),
			ErrorTimeout:         int(p.int64("error_timeout")),
			ErrorCrash:           int(p.int64("error_crash")),
			SkippedNotExecutable: int(p.int64("skipped_not_executable")),
			Drifted:              int(p.int64("drifted")),
			StoreErrors:          int(p.int64("store_errors")),
			Cancelled:            p.bool("cancelled"),
		}
	}
	return e, p.err
}

type fieldParser struct {
	f   map[string]string
	err error
}

func (p *fieldParser) int64(k string) int64 {
	v, ok := p.f[k]
	if !ok || p.err != nil {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", k, err)
	}
	return n
}

func (p *fieldParser) bool(k string) bool {
	v, ok := p.f[k]
	if !ok || p.err != nil {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", k, err)
	}
	return b
}
