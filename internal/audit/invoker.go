// Package audit runs a bot in self-check mode and turns whatever happens into
// an Outcome.
package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creasty/defaults"

	"github.com/neuronlabs/botregistry/internal/bot"
	"github.com/neuronlabs/botregistry/internal/env"
	"github.com/neuronlabs/botregistry/internal/logger"
)

const (
	// EnvAudit is set to "1" in every audited bot's environment.
	EnvAudit = "BOTREGISTRY_AUDIT"
	// EnvBot carries the bot name.
	EnvBot = "BOTREGISTRY_BOT"

	// ErrMemoryLimit is the Outcome.Error text for a bot killed by the RSS ceiling.
	ErrMemoryLimit = "memory limit exceeded"
)

// Options controls how bots are invoked.
type Options struct {
	Flag        string        `toml:"flag" mapstructure:"flag" default:"--audit"`
	Timeout     time.Duration `toml:"timeout" mapstructure:"timeout" default:"30s"`
	OutputLimit int           `toml:"output_limit" mapstructure:"output_limit" default:"65536"`

	// WaitDelay bounds how long Wait blocks on pipes held open by orphaned
	// grandchildren after the bot exits or is killed.
	WaitDelay time.Duration `toml:"wait_delay" mapstructure:"wait_delay" default:"2s"`

	// Env is set programmatically; config files supply a KEY=VALUE list instead
	// because viper folds map keys to lower case.
	Env            map[string]string `toml:"-" mapstructure:"-"`
	InheritEnv     bool              `toml:"inherit_env" mapstructure:"inherit_env"`
	MaxRSSBytes    uint64            `toml:"max_rss_bytes" mapstructure:"max_rss_bytes"`
	SampleInterval time.Duration     `toml:"sample_interval" mapstructure:"sample_interval" default:"250ms"`

	// Archive keeps the untruncated output of every audit in rotated files.
	Archive logger.FileConfig `toml:"archive" mapstructure:"archive"`

	Logger *slog.Logger     `toml:"-" mapstructure:"-"`
	Now    func() time.Time `toml:"-" mapstructure:"-"`
}

// Invoker audits bots. It is safe for concurrent use.
type Invoker struct {
	opts Options
	env  env.Env
	log  *slog.Logger
	now  func() time.Time
}

// New applies defaults to opts and returns an Invoker.
func New(opts Options) (*Invoker, error) {
	if err := defaults.Set(&opts); err != nil {
		return nil, fmt.Errorf("audit options: %w", err)
	}
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("audit timeout must be positive, got %s", opts.Timeout)
	}
	if opts.OutputLimit < 0 {
		return nil, fmt.Errorf("audit output limit must not be negative, got %d", opts.OutputLimit)
	}
	iv := &Invoker{
		opts: opts,
		env:  env.FromMap(opts.InheritEnv, opts.Env),
		log:  opts.Logger,
		now:  opts.Now,
	}
	if iv.log == nil {
		iv.log = slog.Default()
	}
	if iv.now == nil {
		iv.now = time.Now
	}
	return iv, nil
}

// Options returns the effective options after defaults.
func (iv *Invoker) Options() Options { return iv.opts }

// Invoke runs d with the audit flag and waits for it to exit, time out or be
// killed. Every failure is reported through the returned Outcome.
//
// ctx should not be the run's cancellation context: cancelling it kills the
// bot. The timeout is applied on top of ctx.
func (iv *Invoker) Invoke(ctx context.Context, d bot.Descriptor) Outcome {
	out := Outcome{Name: d.Name, Digest: d.Digest, StartedAt: iv.now().UTC(), ExitCode: -1}
	started := time.Now()
	finish := func(st Status, msg string) Outcome {
		out.Status = st
		out.Error = msg
		out.Duration = time.Since(started)
		return out
	}

	info, err := os.Stat(d.Path)
	switch {
	case err != nil:
		return finish(StatusSkippedNotExecutable, err.Error())
	case !info.Mode().IsRegular():
		return finish(StatusSkippedNotExecutable, "not a regular file")
	case !bot.IsExecutable(d.Path, info):
		return finish(StatusSkippedNotExecutable, "execute permission missing")
	}

	runCtx, cancel := context.WithTimeout(ctx, iv.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, d.Path, iv.opts.Flag)
	cmd.Dir = d.Dir()
	cmd.Env = iv.env.Merge([]string{EnvAudit + "=1", EnvBot + "=" + d.Name})
	configureSysProcAttr(cmd)
	var timedOut atomic.Bool
	cmd.Cancel = func() error {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			timedOut.Store(true)
		}
		return killGroup(cmd.Process)
	}
	cmd.WaitDelay = iv.opts.WaitDelay

	buf := newBoundedBuffer(iv.opts.OutputLimit)
	var sink io.Writer = buf
	if iv.opts.Archive.Enabled() {
		aw, err := iv.opts.Archive.Writer(d.Name)
		if err != nil {
			iv.log.Warn("Audit output archive unavailable", "bot", d.Name, "error", err)
		} else {
			defer func() { _ = aw.Close() }()
			fmt.Fprintf(aw, "=== %s %s digest=%s\n", out.StartedAt.Format(time.RFC3339), d.Name, d.Digest)
			sink = &archiveTee{buf: buf, archive: aw}
		}
	}
	// one writer for both streams: exec drains them through a single pipe
	cmd.Stdout = sink
	cmd.Stderr = sink

	if err := cmd.Start(); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return finish(StatusSkippedNotExecutable, err.Error())
		}
		return finish(StatusErrorCrash, err.Error())
	}
	iv.log.Debug("Audit started", "bot", d.Name, "pid", cmd.Process.Pid)

	var (
		sampler rssSampler
		wg      sync.WaitGroup
	)
	sampleCtx, stopSampling := context.WithCancel(runCtx)
	if iv.opts.SampleInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sampler.run(sampleCtx, cmd.Process.Pid, iv.opts.SampleInterval, iv.opts.MaxRSSBytes, func() {
				_ = killGroup(cmd.Process)
			})
		}()
	}

	waitErr := cmd.Wait()
	stopSampling()
	wg.Wait()

	out.Output = buf.String()
	out.DroppedBytes = buf.Dropped()
	out.OutputTruncated = out.DroppedBytes > 0
	out.PeakRSSBytes = sampler.peak.Load()
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	switch {
	case timedOut.Load():
		return finish(StatusErrorTimeout, fmt.Sprintf("timed out after %s", iv.opts.Timeout))
	case sampler.exceeded.Load():
		return finish(StatusErrorCrash, ErrMemoryLimit)
	case waitErr == nil:
		return finish(StatusPassed, "")
	case errors.As(waitErr, &exitErr):
		if exitErr.ExitCode() == -1 {
			// terminated by a signal
			return finish(StatusErrorCrash, exitErr.Error())
		}
		return finish(StatusFailed, "")
	case errors.Is(waitErr, exec.ErrWaitDelay) && out.ExitCode == 0:
		return finish(StatusPassed, "output pipe held open after exit")
	case runCtx.Err() != nil:
		return finish(StatusErrorCrash, runCtx.Err().Error())
	default:
		return finish(StatusErrorCrash, waitErr.Error())
	}
}

// archiveTee copies output into the bounded buffer and, best effort, into the
// archive. Archive write errors are swallowed so the bot keeps running.
type archiveTee struct {
	buf     *boundedBuffer
	archive io.Writer
	failed  bool
}

func (t *archiveTee) Write(p []byte) (int, error) {
	_, _ = t.buf.Write(p)
	if !t.failed {
		if _, err := t.archive.Write(p); err != nil {
			t.failed = true
		}
	}
	return len(p), nil
}
