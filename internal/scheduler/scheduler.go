// Package scheduler fires registry runs on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Job is a periodic task. Schedule supports only "@every <duration>" (e.g. "@every 10m").
// A Singleton job skips a tick while its previous run is still active.
// Name must be unique inside one Scheduler.
type Job struct {
	Name      string
	Schedule  string
	Singleton bool
	// RunOnStart fires the job once when the scheduler starts.
	RunOnStart bool
	Run        func(ctx context.Context) error

	running atomic.Bool
	skipped atomic.Int64
}

// Skipped reports how many ticks were dropped because the job was still running.
func (j *Job) Skipped() int64 { return j.skipped.Load() }

// ParseEvery parses schedules of the form "@every <duration>".
func ParseEvery(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "@every ") {
		return 0, fmt.Errorf("unsupported schedule: %s (only @every <duration> supported)", expr)
	}
	d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(expr, "@every ")))
	if err != nil {
		return 0, fmt.Errorf("invalid @every duration: %w", err)
	}
	if d <= 0 {
		return 0, errors.New("@every duration must be > 0")
	}
	return d, nil
}

func (j *Job) validate() error {
	if j.Name == "" {
		return errors.New("scheduled job requires a name")
	}
	if j.Schedule == "" {
		return fmt.Errorf("job %s requires a schedule", j.Name)
	}
	if j.Run == nil {
		return fmt.Errorf("job %s has no run function", j.Name)
	}
	_, err := ParseEvery(j.Schedule)
	return err
}

// Scheduler owns the job tickers. Start launches them; Stop cancels the
// context handed to running jobs and waits for them to return.
type Scheduler struct {
	log  *slog.Logger
	mu   sync.Mutex
	jobs []*Job

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{log: log}
}

func (s *Scheduler) Add(job *Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("scheduler already started")
	}
	for _, j := range s.jobs {
		if j.Name == job.Name {
			return fmt.Errorf("duplicate job name %q", job.Name)
		}
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Start launches all job loops under ctx. Call Stop to cancel.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("scheduler already started")
	}
	periods := make([]time.Duration, len(s.jobs))
	for i, j := range s.jobs {
		d, err := ParseEvery(j.Schedule)
		if err != nil {
			return fmt.Errorf("job %s: %w", j.Name, err)
		}
		periods[i] = d
	}
	ctx, s.cancel = context.WithCancel(ctx)
	for i, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j, periods[i])
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context, j *Job, period time.Duration) {
	defer s.wg.Done()
	if j.RunOnStart {
		s.fire(ctx, j)
	}
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.fire(ctx, j)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, j *Job) {
	if j.Singleton {
		if !j.running.CompareAndSwap(false, true) {
			j.skipped.Add(1)
			s.log.Warn("Skipping tick, previous run still active", "job", j.Name)
			return
		}
	} else {
		j.running.Store(true)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer j.running.Store(false)
		if err := j.Run(ctx); err != nil {
			s.log.Error("Scheduled job failed", "job", j.Name, "error", err)
		}
	}()
}

// Stop cancels all jobs and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}
