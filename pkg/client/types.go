package client

import "time"

// Outcome is one bot's audit result as reported by the API.
type Outcome struct {
	Name            string    `json:"name"`
	Digest          string    `json:"digest"`
	StartedAt       time.Time `json:"started_at"`
	DurationMs      int64     `json:"duration_ms"`
	Status          string    `json:"status"`
	ExitCode        int       `json:"exit_code"`
	Output          string    `json:"output,omitempty"`
	OutputTruncated bool      `json:"output_truncated,omitempty"`
	DroppedBytes    int64     `json:"dropped_bytes,omitempty"`
	PeakRSSBytes    uint64    `json:"peak_rss_bytes,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// RunSummary is the result of one registry run.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Dir        string    `json:"dir"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Discovered           int  `json:"discovered"`
	Passed               int  `json:"passed"`
	Failed               int  `json:"failed"`
	ErrorTimeout         int  `json:"error_timeout"`
	ErrorCrash           int  `json:"error_crash"`
	SkippedNotExecutable int  `json:"skipped_not_executable"`
	Drifted              int  `json:"drifted"`
	StoreErrors          int  `json:"store_errors"`
	Cancelled            bool `json:"cancelled"`

	Error    string    `json:"error,omitempty"`
	ExitCode int       `json:"exit_code"`
	Outcomes []Outcome `json:"outcomes"`
}

// BotRecord is the integrity baseline stored for a bot.
type BotRecord struct {
	Name           string    `json:"name"`
	LastGoodDigest string    `json:"last_good_digest"`
	LastAuditAt    time.Time `json:"last_audit_at"`
}

// State is the controller state reported by GET /state.
type State struct {
	State   string `json:"state"`
	Index   int    `json:"index"`
	Running bool   `json:"running"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
