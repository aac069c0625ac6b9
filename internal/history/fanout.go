package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/neuronlabs/botregistry/internal/auditlog"
)

// ErrQueueFull is returned by Publish when the delivery queue is saturated.
var ErrQueueFull = errors.New("history queue full")

type FanoutOptions struct {
	// QueueSize bounds events waiting for delivery. Zero means 256.
	QueueSize int
	// MaxElapsed bounds retries for one event across all sinks. Zero means 10s.
	MaxElapsed time.Duration
	// InitialInterval is the first retry delay. Zero means 100ms.
	InitialInterval time.Duration
	Logger          *slog.Logger
}

// Fanout delivers events to every sink. Publish is asynchronous and preserves
// order; Send is the synchronous form used by the delivery worker.
type Fanout struct {
	sinks []Sink
	opts  FanoutOptions
	log   *slog.Logger

	queue chan Event
	done  chan struct{}

	// delivery is cancelled when Close gives up draining
	delivery     context.Context
	stopDelivery context.CancelFunc

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewFanout starts the delivery worker.
func NewFanout(sinks []Sink, opts FanoutOptions) *Fanout {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = 10 * time.Second
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 100 * time.Millisecond
	}
	delivery, stop := context.WithCancel(context.Background())
	f := &Fanout{
		sinks:        sinks,
		opts:         opts,
		log:          opts.Logger,
		queue:        make(chan Event, opts.QueueSize),
		done:         make(chan struct{}),
		delivery:     delivery,
		stopDelivery: stop,
	}
	if f.log == nil {
		f.log = slog.Default()
	}
	go f.loop()
	return f
}

// Len is the number of sinks.
func (f *Fanout) Len() int { return len(f.sinks) }

// Publish enqueues the entry for delivery.
func (f *Fanout) Publish(_ context.Context, e auditlog.Entry) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return errors.New("history fanout closed")
	}
	select {
	case f.queue <- FromEntry(e):
		return nil
	default:
		return ErrQueueFull
	}
}

func (f *Fanout) loop() {
	defer close(f.done)
	for ev := range f.queue {
		if f.delivery.Err() != nil {
			// abandoned by Close; drop the rest
			continue
		}
		if err := f.Send(f.delivery, ev); err != nil {
			f.log.Warn("History delivery failed", "event", ev.Kind, "bot", ev.Bot, "error", err)
		}
	}
}

// Send delivers ev to each sink, retrying each with exponential backoff.
// Errors from all sinks are joined.
func (f *Fanout) Send(ctx context.Context, ev Event) error {
	var errs []error
	for i, s := range f.sinks {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = f.opts.InitialInterval
		b.MaxElapsedTime = f.opts.MaxElapsed
		err := backoff.Retry(func() error {
			if err := s.Send(ctx, ev); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return backoff.Permanent(err)
				}
				return err
			}
			return nil
		}, backoff.WithContext(b, ctx))
		if err != nil {
			errs = append(errs, fmt.Errorf("sink %d (%T): %w", i, s, err))
		}
	}
	return errors.Join(errs...)
}

// Close stops accepting events and waits for queued ones to be delivered or
// ctx to end. When ctx ends first, delivery is cancelled and Close waits for
// the worker to leave Send. Sinks that implement io.Closer are closed last.
// Only the first call does anything.
func (f *Fanout) Close(ctx context.Context) error {
	var err error
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		close(f.queue)
		f.mu.Unlock()

		var errs []error
		select {
		case <-f.done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("history drain: %w", ctx.Err()))
			f.stopDelivery()
			<-f.done
		}
		f.stopDelivery()
		for _, s := range f.sinks {
			if c, ok := s.(io.Closer); ok {
				if cerr := c.Close(); cerr != nil {
					errs = append(errs, cerr)
				}
			}
		}
		err = errors.Join(errs...)
	})
	return err
}
