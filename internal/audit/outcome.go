package audit

import (
	"encoding/json"
	"time"
)

// Status is the result class of one audit attempt.
type Status string

const (
	StatusPassed               Status = "passed"
	StatusFailed               Status = "failed"
	StatusSkippedNotExecutable Status = "skipped-not-executable"
	StatusErrorTimeout         Status = "error-timeout"
	StatusErrorCrash           Status = "error-crash"
)

// Statuses lists every status in summary order.
var Statuses = []Status{
	StatusPassed,
	StatusFailed,
	StatusErrorTimeout,
	StatusErrorCrash,
	StatusSkippedNotExecutable,
}

// Unsuccessful reports whether s makes a registry run exit non-zero.
// A skipped bot does not.
func (s Status) Unsuccessful() bool {
	switch s {
	case StatusFailed, StatusErrorTimeout, StatusErrorCrash:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Outcome is the immutable result of auditing one bot.
type Outcome struct {
	Name            string
	Digest          string
	StartedAt       time.Time
	Duration        time.Duration
	Status          Status
	ExitCode        int // -1 when the process did not exit normally
	Output          string
	OutputTruncated bool
	DroppedBytes    int64
	PeakRSSBytes    uint64
	Error           string
}

type outcomeJSON struct {
	Name            string    `json:"name"`
	Digest          string    `json:"digest"`
	StartedAt       time.Time `json:"started_at"`
	DurationMs      int64     `json:"duration_ms"`
	Status          Status    `json:"status"`
	ExitCode        int       `json:"exit_code"`
	Output          string    `json:"output,omitempty"`
	OutputTruncated bool      `json:"output_truncated,omitempty"`
	DroppedBytes    int64     `json:"dropped_bytes,omitempty"`
	PeakRSSBytes    uint64    `json:"peak_rss_bytes,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// DurationMs is the audit wall-clock time in whole milliseconds.
func (o Outcome) DurationMs() int64 { return o.Duration.Milliseconds() }

func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(outcomeJSON{
		Name:            o.Name,
		Digest:          o.Digest,
		StartedAt:       o.StartedAt,
		DurationMs:      o.DurationMs(),
		Status:          o.Status,
		ExitCode:        o.ExitCode,
		Output:          o.Output,
		OutputTruncated: o.OutputTruncated,
		DroppedBytes:    o.DroppedBytes,
		PeakRSSBytes:    o.PeakRSSBytes,
		Error:           o.Error,
	})
}

func (o *Outcome) UnmarshalJSON(b []byte) error {
	var j outcomeJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	*o = Outcome{
		Name:            j.Name,
		Digest:          j.Digest,
		StartedAt:       j.StartedAt,
		Duration:        time.Duration(j.DurationMs) * time.Millisecond,
		Status:          j.Status,
		ExitCode:        j.ExitCode,
		Output:          j.Output,
		OutputTruncated: j.OutputTruncated,
		DroppedBytes:    j.DroppedBytes,
		PeakRSSBytes:    j.PeakRSSBytes,
		Error:           j.Error,
	}
	return nil
}
