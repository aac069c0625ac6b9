// Package botregistry discovers executable bots in a directory, keeps a SHA-256
// integrity baseline for each, runs every bot in audit mode and records what
// happened in an append-only registry log.
package botregistry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/neuronlabs/botregistry/internal/audit"
	"github.com/neuronlabs/botregistry/internal/auditlog"
	"github.com/neuronlabs/botregistry/internal/bot"
	cfg "github.com/neuronlabs/botregistry/internal/config"
	"github.com/neuronlabs/botregistry/internal/history"
	hfactory "github.com/neuronlabs/botregistry/internal/history/factory"
	"github.com/neuronlabs/botregistry/internal/integrity"
	ifactory "github.com/neuronlabs/botregistry/internal/integrity/factory"
	"github.com/neuronlabs/botregistry/internal/metrics"
	"github.com/neuronlabs/botregistry/internal/registry"
	iapi "github.com/neuronlabs/botregistry/internal/server"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type Summary = registry.Summary

type State = registry.State

type Outcome = audit.Outcome

type Status = audit.Status

type Descriptor = bot.Descriptor

type Record = integrity.Record

type Entry = auditlog.Entry

var (
	ErrDirectoryUnavailable = registry.ErrDirectoryUnavailable
	ErrLogWrite             = registry.ErrLogWrite
	ErrRunInProgress        = registry.ErrRunInProgress
	ErrNotFound             = integrity.ErrNotFound
)

const (
	ExitOK       = registry.ExitOK
	ExitFailures = registry.ExitFailures
	ExitRunError = registry.ExitRunError
)

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config { return cfg.Default() }

// LoadConfig reads a TOML file. An empty path yields the defaults.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return cfg.Default(), nil
	}
	return cfg.Load(path)
}

// Registry is a fully wired registry: store, log, history fan-out, invoker and
// controller. Close releases all of them.
type Registry struct {
	cfg        Config
	log        *slog.Logger
	logCloser  io.Closer
	store      integrity.Store
	regLog     *auditlog.Log
	fanout     *history.Fanout
	controller *registry.Controller
}

// Open validates c and wires every component it names. The operational
// logger writes to stderr unless c.Logging.Slog.Path is set.
func Open(ctx context.Context, c Config) (*Registry, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	r := &Registry{cfg: c}
	r.log, r.logCloser = c.Logging.NewSloggerTo(os.Stderr)
	ok := false
	defer func() {
		if !ok {
			_ = r.Close()
		}
	}()

	store, err := ifactory.NewFromDSN(c.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("integrity store: %w", err)
	}
	r.store = store
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("integrity store schema: %w", err)
	}

	logOpts := auditlog.Options{Sync: c.Log.Sync, Logger: r.log}
	if logOpts.Format, err = auditlog.ParseFormat(c.Log.Format); err != nil {
		return nil, err
	}
	if len(c.History.DSNs) > 0 {
		sinks := make([]history.Sink, 0, len(c.History.DSNs))
		for _, dsn := range c.History.DSNs {
			s, err := hfactory.NewSinkFromDSN(dsn)
			if err != nil {
				for _, opened := range sinks {
					if cl, ok := opened.(io.Closer); ok {
						_ = cl.Close()
					}
				}
				return nil, fmt.Errorf("history sink: %w", err)
			}
			sinks = append(sinks, s)
		}
		r.fanout = history.NewFanout(sinks, history.FanoutOptions{
			QueueSize:  c.History.QueueSize,
			MaxElapsed: c.History.MaxElapsed,
			Logger:     r.log,
		})
		logOpts.Publisher = r.fanout
		r.log.Info("History sinks enabled", "sinks", r.fanout.Len())
	}
	if r.regLog, err = auditlog.Open(c.Log.Path, logOpts); err != nil {
		return nil, err
	}

	auditOpts := c.Audit.Options
	auditOpts.Logger = r.log
	inv, err := audit.New(auditOpts)
	if err != nil {
		return nil, err
	}
	r.controller, err = registry.New(registry.Options{
		Dir:         c.Registry.Dir,
		Patterns:    c.Registry.Patterns,
		Concurrency: c.Registry.Concurrency,
		Logger:      r.log,
	}, store, inv, r.regLog)
	if err != nil {
		return nil, err
	}
	ok = true
	return r, nil
}

// Run performs one registry run. See registry.Controller.Run.
func (r *Registry) Run(ctx context.Context) (Summary, error) { return r.controller.Run(ctx) }

func (r *Registry) State() (State, int)              { return r.controller.State() }
func (r *Registry) LastSummary() (Summary, bool)     { return r.controller.LastSummary() }
func (r *Registry) Controller() *registry.Controller { return r.controller }
func (r *Registry) Store() integrity.Store           { return r.store }
func (r *Registry) Logger() *slog.Logger             { return r.log }
func (r *Registry) Config() Config                   { return r.cfg }

// Records lists the integrity baselines ordered by bot name.
func (r *Registry) Records(ctx context.Context) ([]Record, error) { return r.store.List(ctx) }

// Forget removes a bot's baseline. Its next audit then starts without drift detection.
func (r *Registry) Forget(ctx context.Context, name string) error {
	if err := r.store.Delete(ctx, name); err != nil {
		return err
	}
	r.log.Info("Integrity record removed by operator", "bot", name)
	return nil
}

// Handler returns the HTTP API mounted under basePath. Runs triggered over
// HTTP are cancelled by ctx.
func (r *Registry) Handler(ctx context.Context, basePath, metricsPath string) http.Handler {
	rt := iapi.NewRouter(ctx, r.controller, r.store, basePath, r.log)
	rt.MetricsPath = metricsPath
	return rt.Handler()
}

// Router returns the HTTP API for mounting into an existing gin engine.
func (r *Registry) Router(ctx context.Context, basePath string) *iapi.Router {
	return iapi.NewRouter(ctx, r.controller, r.store, basePath, r.log)
}

// Close flushes pending history events and releases every resource.
func (r *Registry) Close() error {
	var errs []error
	if r.regLog != nil {
		errs = append(errs, r.regLog.Close())
	}
	if r.fanout != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.History.MaxElapsed+time.Second)
		errs = append(errs, r.fanout.Close(ctx))
		cancel()
	}
	if r.store != nil {
		errs = append(errs, r.store.Close())
	}
	if r.logCloser != nil {
		errs = append(errs, r.logCloser.Close())
	}
	return errors.Join(errs...)
}

// Metrics helpers (public facade)

func RegisterMetrics(reg prometheus.Registerer) error { return metrics.Register(reg) }
func RegisterMetricsDefault() error                   { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
