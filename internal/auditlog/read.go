package auditlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logfmt/logfmt"
)

// maxLine bounds one record; escaped 64 KiB of output fits comfortably.
const maxLine = 4 << 20

// ReadFile parses every entry in the log at path.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return ReadAll(f)
}

// ReadAll parses a registry log. Each line may be logfmt or JSON; blank lines
// are skipped.
func ReadAll(r io.Reader) ([]Entry, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	var out []Entry
	n := 0
	for sc.Scan() {
		n++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		e, err := ParseLine(line)
		if err != nil {
			return out, fmt.Errorf("line %d: %w", n, err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

// ParseLine decodes one record in either format.
func ParseLine(line []byte) (Entry, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Entry{}, errors.New("empty registry log line")
	}
	fields := map[string]string{}
	if line[0] == '{' {
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(line, &raw); err != nil {
			return Entry{}, err
		}
		for k, v := range raw {
			var s string
			if json.Unmarshal(v, &s) == nil {
				fields[k] = s
				continue
			}
			fields[k] = string(v)
		}
		return entryFromFields(fields)
	}
	// the default decoder stops at 64 KiB; size it to the whole line
	dec := logfmt.NewDecoderSize(bytes.NewReader(line), len(line)+1)
	for dec.ScanRecord() {
		for dec.ScanKeyval() {
			fields[string(dec.Key())] = string(dec.Value())
		}
	}
	if err := dec.Err(); err != nil {
		return Entry{}, err
	}
	return entryFromFields(fields)
}

// LastRunID returns the run of the last run-started entry.
func LastRunID(entries []Entry) string {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Kind == KindRunStarted {
			return entries[i].RunID
		}
	}
	return ""
}

// FilterRun keeps entries of one run. An empty or "last" id selects the last run.
func FilterRun(entries []Entry, id string) []Entry {
	if id == "" || strings.EqualFold(id, "last") {
		id = LastRunID(entries)
	}
	var out []Entry
	for _, e := range entries {
		if e.RunID == id {
			out = append(out, e)
		}
	}
	return out
}
