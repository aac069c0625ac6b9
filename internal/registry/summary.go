package registry

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/neuronlabs/botregistry/internal/audit"
	"github.com/neuronlabs/botregistry/internal/auditlog"
)

// Exit codes of a registry run.
const (
	ExitOK       = 0
	ExitFailures = 1 // a bot failed, crashed or timed out, a commit failed, or the run was cancelled
	ExitRunError = 2 // discovery or the registry log failed
)

// Summary aggregates one run. It is built after every audit has finished.
type Summary struct {
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

	// Err is the run-level error, if any.
	Err      error           `json:"-"`
	Outcomes []audit.Outcome `json:"outcomes"`
}

func (s *Summary) add(o audit.Outcome) {
	switch o.Status {
	case audit.StatusPassed:
		s.Passed++
	case audit.StatusFailed:
		s.Failed++
	case audit.StatusErrorTimeout:
		s.ErrorTimeout++
	case audit.StatusErrorCrash:
		s.ErrorCrash++
	case audit.StatusSkippedNotExecutable:
		s.SkippedNotExecutable++
	}
	s.Outcomes = append(s.Outcomes, o)
}

// ExitCode is 0 only when every audited bot passed or was skipped.
func (s Summary) ExitCode() int {
	switch {
	case s.Err != nil:
		return ExitRunError
	case s.Failed+s.ErrorTimeout+s.ErrorCrash > 0, s.StoreErrors > 0, s.Cancelled:
		return ExitFailures
	}
	return ExitOK
}

// Result classifies the run for metrics.
func (s Summary) Result() string {
	switch {
	case s.Err != nil:
		return "error"
	case s.Cancelled:
		return "cancelled"
	case s.ExitCode() != ExitOK:
		return "failure"
	}
	return "success"
}

func (s Summary) Counts() auditlog.Counts {
	return auditlog.Counts{
		Discovered:           s.Discovered,
		Passed:               s.Passed,
		Failed:               s.Failed,
		ErrorTimeout:         s.ErrorTimeout,
		ErrorCrash:           s.ErrorCrash,
		SkippedNotExecutable: s.SkippedNotExecutable,
		Drifted:              s.Drifted,
		StoreErrors:          s.StoreErrors,
		Cancelled:            s.Cancelled,
	}
}

// String is the one-line console summary.
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %d discovered, %d passed, %d failed, %d error-timeout, %d error-crash, %d skipped-not-executable, %d drifted",
		s.RunID, s.Discovered, s.Passed, s.Failed, s.ErrorTimeout, s.ErrorCrash, s.SkippedNotExecutable, s.Drifted)
	if s.StoreErrors > 0 {
		fmt.Fprintf(&b, ", %d store errors", s.StoreErrors)
	}
	if s.Cancelled {
		b.WriteString(", cancelled")
	}
	if s.Err != nil {
		fmt.Fprintf(&b, "; error: %v", s.Err)
	}
	return b.String()
}

func (s Summary) MarshalJSON() ([]byte, error) {
	type plain Summary
	out := struct {
		plain
		Error    string `json:"error,omitempty"`
		ExitCode int    `json:"exit_code"`
	}{plain: plain(s), ExitCode: s.ExitCode()}
	if s.Err != nil {
		out.Error = s.Err.Error()
	}
	if out.Outcomes == nil {
		out.Outcomes = []audit.Outcome{}
	}
	return json.Marshal(out)
}
