// Package registry drives a registry run: discovery, drift check, audit and
// logging for every bot in the configured directory.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/neuronlabs/botregistry/internal/audit"
	"github.com/neuronlabs/botregistry/internal/auditlog"
	"github.com/neuronlabs/botregistry/internal/bot"
	"github.com/neuronlabs/botregistry/internal/integrity"
	"github.com/neuronlabs/botregistry/internal/metrics"
)

var (
	ErrDirectoryUnavailable = bot.ErrDirectoryUnavailable
	// ErrLogWrite aborts a run: without the log there is no record of what was verified.
	ErrLogWrite      = errors.New("registry log write failed")
	ErrRunInProgress = errors.New("registry run already in progress")
)

// Invoker audits one bot. *audit.Invoker implements it.
type Invoker interface {
	Invoke(ctx context.Context, d bot.Descriptor) audit.Outcome
}

// Appender persists log entries. *auditlog.Log implements it.
type Appender interface {
	Append(ctx context.Context, e auditlog.Entry) error
}

type Options struct {
	Dir      string
	Patterns []string
	// Concurrency above 1 audits bots in parallel; log order then follows
	// completion order within the run.
	Concurrency int
	Now         func() time.Time
	NewRunID    func() string
	Logger      *slog.Logger
}

// Controller owns the run state machine. One run executes at a time.
type Controller struct {
	opts  Options
	store integrity.Store
	inv   Invoker
	log   Appender
	slog  *slog.Logger

	running atomic.Bool

	mu      sync.RWMutex
	state   State
	index   int
	last    Summary
	hasLast bool
}

func New(opts Options, store integrity.Store, inv Invoker, log Appender) (*Controller, error) {
	if opts.Dir == "" {
		return nil, errors.New("bot directory not configured")
	}
	if store == nil || inv == nil || log == nil {
		return nil, errors.New("registry needs a store, an invoker and a log")
	}
	if err := bot.ValidatePatterns(opts.Patterns); err != nil {
		return nil, err
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewRunID == nil {
		opts.NewRunID = uuid.NewString
	}
	c := &Controller{opts: opts, store: store, inv: inv, log: log, slog: opts.Logger}
	if c.slog == nil {
		c.slog = slog.Default()
	}
	metrics.SetCurrentState(StateIdle.String())
	return c, nil
}

// State returns the current state and, while auditing, the bot index.
func (c *Controller) State() (State, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state, c.index
}

// LastSummary returns the summary of the most recent completed run.
func (c *Controller) LastSummary() (Summary, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last, c.hasLast
}

// Running reports whether a run is active.
func (c *Controller) Running() bool { return c.running.Load() }

func (c *Controller) transition(to State, index int) {
	c.mu.Lock()
	from := c.state
	c.state, c.index = to, index
	c.mu.Unlock()
	metrics.RecordStateTransition(from.String(), to.String())
	metrics.SetCurrentState(to.String())
}

// botResult is what one bot contributes to the summary.
type botResult struct {
	done     bool
	outcome  audit.Outcome
	drifted  bool
	storeErr bool
}

// Run performs one registry run. Cancelling ctx stops new audits from
// starting; an audit already running completes or times out, and its result
// is logged and committed.
//
// The returned error is the run-level error (ErrDirectoryUnavailable or
// ErrLogWrite); per-bot failures only show up in the Summary.
func (c *Controller) Run(ctx context.Context) (Summary, error) {
	if !c.running.CompareAndSwap(false, true) {
		return Summary{}, ErrRunInProgress
	}
	defer c.running.Store(false)
	return c.run(ctx)
}

// Start claims the controller and performs a run in the background. When a
// run is already active it returns ErrRunInProgress and starts nothing. The
// channel receives the summary after the controller is released.
func (c *Controller) Start(ctx context.Context) (<-chan Summary, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	done := make(chan Summary, 1)
	go func() {
		sum, _ := c.run(ctx)
		c.running.Store(false)
		done <- sum
	}()
	return done, nil
}

func (c *Controller) run(ctx context.Context) (Summary, error) {
	// work already started must not observe the operator's cancel
	work := context.WithoutCancel(ctx)
	sum := Summary{RunID: c.opts.NewRunID(), Dir: c.opts.Dir, StartedAt: c.opts.Now().UTC()}
	c.transition(StateDiscovering, 0)
	c.slog.Info("Registry run started", "run", sum.RunID, "dir", c.opts.Dir)

	if err := c.append(work, auditlog.Entry{Kind: auditlog.KindRunStarted, RunID: sum.RunID, Dir: c.opts.Dir}); err != nil {
		sum.Err = err
		return c.finish(work, sum)
	}

	descs, err := bot.Discover(ctx, c.opts.Dir, bot.DiscoverOptions{
		Patterns: c.opts.Patterns,
		Now:      sum.StartedAt,
		Logger:   c.slog,
	})
	if err != nil && ctx.Err() != nil {
		c.slog.Warn("Run cancelled during discovery", "run", sum.RunID)
		sum.Cancelled = true
		return c.finish(work, sum)
	}
	if err != nil {
		c.slog.Error("Discovery failed", "run", sum.RunID, "dir", c.opts.Dir, "error", err)
		sum.Err = err
		return c.finish(work, sum)
	}
	sum.Discovered = len(descs)

	results := make([]botResult, len(descs))
	if c.opts.Concurrency > 1 && len(descs) > 1 {
		sum.Cancelled, sum.Err = c.auditParallel(ctx, work, sum.RunID, descs, results)
	} else {
		sum.Cancelled, sum.Err = c.auditSequential(ctx, work, sum.RunID, descs, results)
	}
	for _, r := range results {
		if !r.done {
			continue
		}
		sum.add(r.outcome)
		if r.drifted {
			sum.Drifted++
		}
		if r.storeErr {
			sum.StoreErrors++
		}
	}
	return c.finish(work, sum)
}

func (c *Controller) auditSequential(ctx, work context.Context, runID string, descs []bot.Descriptor, results []botResult) (bool, error) {
	for i, d := range descs {
		if ctx.Err() != nil {
			c.slog.Warn("Run cancelled; remaining bots not audited", "run", runID, "remaining", len(descs)-i)
			return true, nil
		}
		c.transition(StateAuditing, i)
		r, err := c.auditOne(work, runID, d)
		results[i] = r
		if err != nil {
			return false, err
		}
	}
	return false, nil
}

func (c *Controller) auditParallel(ctx, work context.Context, runID string, descs []bot.Descriptor, results []botResult) (bool, error) {
	g, gctx := errgroup.WithContext(work)
	g.SetLimit(c.opts.Concurrency)
	cancelled := false
	for i, d := range descs {
		if ctx.Err() != nil {
			c.slog.Warn("Run cancelled; remaining bots not audited", "run", runID, "remaining", len(descs)-i)
			cancelled = true
			break
		}
		if gctx.Err() != nil {
			// a log write failed in another worker
			break
		}
		c.transition(StateAuditing, i)
		g.Go(func() error {
			r, err := c.auditOne(work, runID, d)
			results[i] = r
			return err
		})
	}
	return cancelled, g.Wait()
}

// auditOne runs the per-bot pipeline. Only log failures are returned.
func (c *Controller) auditOne(ctx context.Context, runID string, d bot.Descriptor) (botResult, error) {
	var r botResult
	if err := c.append(ctx, auditlog.Entry{
		Kind: auditlog.KindDiscovered, RunID: runID, Bot: d.Name, Path: d.Path, Digest: d.Digest,
	}); err != nil {
		return r, err
	}

	rec, found, err := c.store.Lookup(ctx, d.Name)
	if err != nil {
		c.slog.Warn("Integrity lookup failed; auditing without baseline", "run", runID, "bot", d.Name, "error", err)
		found = false
	}
	if found && rec.Drifted(d.Digest) {
		r.drifted = true
		metrics.IncDigestDrift(d.Name)
		c.slog.Warn("Digest drift", "run", runID, "bot", d.Name, "digest", d.ShortDigest(), "last_good", shortDigest(rec.LastGoodDigest))
		if err := c.append(ctx, auditlog.Entry{
			Kind: auditlog.KindDigestDrift, RunID: runID, Bot: d.Name, Digest: d.Digest,
			PreviousDigest: rec.LastGoodDigest, LastAuditAt: rec.LastAuditAt,
		}); err != nil {
			return r, err
		}
	}

	out := c.inv.Invoke(ctx, d)
	r.done = true
	r.outcome = out
	metrics.ObserveAudit(d.Name, string(out.Status), out.Duration, out.PeakRSSBytes)
	level := slog.LevelInfo
	if out.Status.Unsuccessful() {
		level = slog.LevelWarn
	}
	c.slog.Log(ctx, level, "Audit finished", "run", runID, "bot", d.Name, "status", out.Status, "duration", out.Duration, "exit_code", out.ExitCode)

	if err := c.append(ctx, auditlog.Entry{
		Kind:            auditlog.KindAuditResult,
		RunID:           runID,
		Bot:             d.Name,
		Digest:          d.Digest,
		Status:          string(out.Status),
		DurationMs:      out.DurationMs(),
		ExitCode:        out.ExitCode,
		OutputTruncated: out.OutputTruncated,
		DroppedBytes:    out.DroppedBytes,
		PeakRSSBytes:    out.PeakRSSBytes,
		Error:           out.Error,
		Output:          out.Output,
	}); err != nil {
		return r, err
	}

	if out.Status != audit.StatusPassed {
		return r, nil
	}
	if err := c.store.Commit(ctx, d.Name, d.Digest, c.opts.Now().UTC()); err != nil {
		r.storeErr = true
		c.slog.Error("Integrity commit failed", "run", runID, "bot", d.Name, "error", err)
	}
	return r, nil
}

func (c *Controller) finish(ctx context.Context, sum Summary) (Summary, error) {
	sum.FinishedAt = c.opts.Now().UTC()
	c.transition(StateCompleted, sum.Discovered)
	if !errors.Is(sum.Err, ErrLogWrite) {
		counts := sum.Counts()
		e := auditlog.Entry{Kind: auditlog.KindRunCompleted, RunID: sum.RunID, Counts: &counts}
		if sum.Err != nil {
			e.Error = sum.Err.Error()
		}
		if err := c.append(ctx, e); err != nil {
			sum.Err = err
		}
	}
	metrics.ObserveRun(sum.Result(), sum.Discovered, sum.FinishedAt)

	c.mu.Lock()
	c.last, c.hasLast = sum, true
	c.mu.Unlock()

	attrs := []any{"run", sum.RunID, "passed", sum.Passed, "failed", sum.Failed,
		"error_timeout", sum.ErrorTimeout, "error_crash", sum.ErrorCrash,
		"skipped", sum.SkippedNotExecutable, "drifted", sum.Drifted, "exit_code", sum.ExitCode()}
	if sum.Err != nil {
		c.slog.Error("Registry run failed", append(attrs, "error", sum.Err)...)
	} else {
		c.slog.Info("Registry run completed", attrs...)
	}
	return sum, sum.Err
}

func (c *Controller) append(ctx context.Context, e auditlog.Entry) error {
	if e.Time.IsZero() {
		e.Time = c.opts.Now().UTC()
	}
	if err := c.log.Append(ctx, e); err != nil {
		return fmt.Errorf("%w: %w", ErrLogWrite, err)
	}
	return nil
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
