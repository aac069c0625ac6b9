//go:build !windows

package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/neuronlabs/botregistry/internal/bot"
	"github.com/neuronlabs/botregistry/internal/logger"
)

// writeBot creates an executable shell script in dir and returns its descriptor.
func writeBot(t *testing.T, dir, name, body string) bot.Descriptor {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write bot: %v", err)
	}
	d, err := bot.Digest(p)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	return bot.Descriptor{Name: name, Path: p, Digest: d, DiscoveredAt: time.Now()}
}

// newInvoker keeps PATH visible so scripts can reach sleep and touch without
// inheriting the whole test environment.
func newInvoker(t *testing.T, opts Options) *Invoker {
	t.Helper()
	if !opts.InheritEnv {
		vars := map[string]string{"PATH": os.Getenv("PATH")}
		for k, v := range opts.Env {
			vars[k] = v
		}
		opts.Env = vars
	}
	iv, err := New(opts)
	if err != nil {
		t.Fatalf("new invoker: %v", err)
	}
	return iv
}

func TestInvokePassed(t *testing.T) {
	d := writeBot(t, t.TempDir(), "bot-a", `[ "$1" = "--audit" ] || exit 9
echo ok`)
	o := newInvoker(t, Options{}).Invoke(context.Background(), d)
	if o.Status != StatusPassed {
		t.Fatalf("status = %s (%s), output %q", o.Status, o.Error, o.Output)
	}
	if o.ExitCode != 0 || o.Output != "ok\n" {
		t.Fatalf("unexpected outcome: %+v", o)
	}
	if o.Name != "bot-a" || o.Digest != d.Digest || o.StartedAt.IsZero() {
		t.Fatalf("identity not carried: %+v", o)
	}
}

func TestInvokeFailed(t *testing.T) {
	d := writeBot(t, t.TempDir(), "bot-b", `echo broken >&2; exit 3`)
	o := newInvoker(t, Options{}).Invoke(context.Background(), d)
	if o.Status != StatusFailed || o.ExitCode != 3 {
		t.Fatalf("want failed/3, got %s/%d", o.Status, o.ExitCode)
	}
	if !strings.Contains(o.Output, "broken") {
		t.Fatalf("stderr not captured: %q", o.Output)
	}
}

func TestInvokeCapturesBothStreams(t *testing.T) {
	d := writeBot(t, t.TempDir(), "chatty", `echo out; echo err >&2`)
	o := newInvoker(t, Options{}).Invoke(context.Background(), d)
	if !strings.Contains(o.Output, "out") || !strings.Contains(o.Output, "err") {
		t.Fatalf("missing stream in %q", o.Output)
	}
}

func TestInvokeTimeoutKillsGroup(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "survived")
	// the background child must die with the group
	d := writeBot(t, dir, "sleepy", `(sleep 2; touch `+marker+`) &
sleep 30`)
	iv := newInvoker(t, Options{Timeout: 300 * time.Millisecond, WaitDelay: 500 * time.Millisecond})
	start := time.Now()
	o := iv.Invoke(context.Background(), d)
	if o.Status != StatusErrorTimeout {
		t.Fatalf("status = %s (%s)", o.Status, o.Error)
	}
	if el := time.Since(start); el > 5*time.Second {
		t.Fatalf("timeout did not bound the audit: %s", el)
	}
	time.Sleep(2500 * time.Millisecond)
	if _, err := os.Stat(marker); err == nil {
		t.Fatalf("grandchild survived the group kill")
	}
}

func TestInvokeCrashBySignal(t *testing.T) {
	d := writeBot(t, t.TempDir(), "suicidal", `kill -9 $$`)
	o := newInvoker(t, Options{}).Invoke(context.Background(), d)
	if o.Status != StatusErrorCrash {
		t.Fatalf("status = %s, want error-crash", o.Status)
	}
	if o.ExitCode != -1 {
		t.Fatalf("exit code = %d, want -1", o.ExitCode)
	}
}

func TestInvokeStartFailureIsCrash(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "garbage")
	// executable bit but no interpreter and no valid binary format
	if err := os.WriteFile(p, []byte("\x00\x01\x02\x03"), 0o755); err != nil {
		t.Fatal(err)
	}
	o := newInvoker(t, Options{}).Invoke(context.Background(), bot.Descriptor{Name: "garbage", Path: p})
	if o.Status != StatusErrorCrash || o.Error == "" {
		t.Fatalf("want error-crash with message, got %s %q", o.Status, o.Error)
	}
}

func TestInvokeNotExecutableAtInvocation(t *testing.T) {
	dir := t.TempDir()
	d := writeBot(t, dir, "racy", `echo ok`)
	if err := os.Chmod(d.Path, 0o644); err != nil {
		t.Fatal(err)
	}
	o := newInvoker(t, Options{}).Invoke(context.Background(), d)
	if o.Status != StatusSkippedNotExecutable {
		t.Fatalf("status = %s", o.Status)
	}

	if err := os.Remove(d.Path); err != nil {
		t.Fatal(err)
	}
	o = newInvoker(t, Options{}).Invoke(context.Background(), d)
	if o.Status != StatusSkippedNotExecutable {
		t.Fatalf("removed bot status = %s", o.Status)
	}
}

func TestInvokeTruncatesOutput(t *testing.T) {
	d := writeBot(t, t.TempDir(), "loud", `i=0
while [ $i -lt 200 ]; do echo 0123456789; i=$((i+1)); done`)
	o := newInvoker(t, Options{OutputLimit: 100}).Invoke(context.Background(), d)
	if o.Status != StatusPassed {
		t.Fatalf("status = %s (%s)", o.Status, o.Error)
	}
	if len(o.Output) != 100 || !o.OutputTruncated {
		t.Fatalf("len=%d truncated=%v", len(o.Output), o.OutputTruncated)
	}
	if o.DroppedBytes != 200*11-100 {
		t.Fatalf("dropped = %d", o.DroppedBytes)
	}
}

func TestInvokeEnvironment(t *testing.T) {
	t.Setenv("BOTREGISTRY_LEAK", "visible")
	d := writeBot(t, t.TempDir(), "envy", `echo "$BOTREGISTRY_AUDIT|$BOTREGISTRY_BOT|$TOKEN|$BOTREGISTRY_LEAK"`)

	o := newInvoker(t, Options{Env: map[string]string{"BASE": "x", "TOKEN": "${BASE}-1"}}).Invoke(context.Background(), d)
	if got := strings.TrimSpace(o.Output); got != "1|envy|x-1|" {
		t.Fatalf("isolated env output = %q", got)
	}
	o = newInvoker(t, Options{InheritEnv: true}).Invoke(context.Background(), d)
	if got := strings.TrimSpace(o.Output); got != "1|envy||visible" {
		t.Fatalf("inherited env output = %q", got)
	}
}

func TestInvokeWorkingDirectoryIsBotDir(t *testing.T) {
	dir := t.TempDir()
	d := writeBot(t, dir, "where", `pwd -P`)
	o := newInvoker(t, Options{}).Invoke(context.Background(), d)
	want, _ := filepath.EvalSymlinks(dir)
	if got := strings.TrimSpace(o.Output); got != want {
		t.Fatalf("cwd = %q, want %q", got, want)
	}
}

func TestInvokeMemoryCeiling(t *testing.T) {
	d := writeBot(t, t.TempDir(), "hungry", `sleep 10`)
	iv := newInvoker(t, Options{MaxRSSBytes: 1, SampleInterval: 20 * time.Millisecond})
	o := iv.Invoke(context.Background(), d)
	if o.Status != StatusErrorCrash || o.Error != ErrMemoryLimit {
		t.Fatalf("want memory limit crash, got %s %q", o.Status, o.Error)
	}
	if o.PeakRSSBytes == 0 {
		t.Fatalf("peak RSS not recorded")
	}
}

func TestInvokeArchivesFullOutput(t *testing.T) {
	dir := t.TempDir()
	archive := logger.FileConfig{Dir: filepath.Join(dir, "archive")}
	d := writeBot(t, dir, "archived", `echo aaaaaaaaaaaaaaaaaaaa; echo tail-marker`)
	o := newInvoker(t, Options{OutputLimit: 5, Archive: archive}).Invoke(context.Background(), d)
	if !o.OutputTruncated {
		t.Fatalf("expected truncation")
	}
	b, err := os.ReadFile(archive.Path("archived"))
	if err != nil {
		t.Fatalf("archive missing: %v", err)
	}
	if !strings.Contains(string(b), "tail-marker") || !strings.Contains(string(b), d.Digest) {
		t.Fatalf("archive incomplete: %q", b)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	iv := newInvoker(t, Options{})
	o := iv.Options()
	if o.Flag != "--audit" || o.Timeout != 30*time.Second || o.OutputLimit != 64*1024 {
		t.Fatalf("defaults not applied: %+v", o)
	}
	if _, err := New(Options{Timeout: -time.Second}); err == nil {
		t.Fatalf("negative timeout accepted")
	}
}

func TestOutcomeJSONUsesMilliseconds(t *testing.T) {
	o := Outcome{Name: "x", Status: StatusPassed, Duration: 1500 * time.Millisecond}
	b, err := json.Marshal(o)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"duration_ms":1500`) {
		t.Fatalf("json = %s", b)
	}
	var back Outcome
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back.Duration != o.Duration || back.Status != o.Status {
		t.Fatalf("round trip mismatch: %+v", back)
	}
}

func TestStatusUnsuccessful(t *testing.T) {
	for s, want := range map[Status]bool{
		StatusPassed:               false,
		StatusSkippedNotExecutable: false,
		StatusFailed:               true,
		StatusErrorTimeout:         true,
		StatusErrorCrash:           true,
	} {
		if s.Unsuccessful() != want {
			t.Errorf("%s.Unsuccessful() = %v", s, !want)
		}
		if !s.Valid() {
			t.Errorf("%s not valid", s)
		}
	}
	if Status("bogus").Valid() {
		t.Errorf("bogus status valid")
	}
}
