// Package scheduler runs sync cycles on a fixed interval in a single
// background worker. Exactly one cycle runs at a time; manual triggers and
// the interval timer feed the same loop.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultInterval    = 6 * time.Hour
	defaultStopTimeout = 300 * time.Second
)

// Config wires a Scheduler.
type Config struct {
	Interval time.Duration
	// SyncFunc is the cycle body. The context is cancelled only when a
	// stop deadline expires with the cycle still running.
	SyncFunc func(ctx context.Context) error
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
}

// Scheduler owns the worker goroutine. Start, Stop and TriggerNow are safe
// for concurrent use.
type Scheduler struct {
	interval time.Duration
	syncFunc func(ctx context.Context) error
	log      *slog.Logger

	trigger chan struct{}
	stop    chan struct{}
	done    chan struct{}

	cycleCtx context.Context
	cancel   context.CancelFunc

	mu      sync.Mutex
	nextRun time.Time
	running bool
	started bool
}

func New(cfg Config, log *slog.Logger) *Scheduler {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		interval: cfg.Interval,
		syncFunc: cfg.SyncFunc,
		log:      log.With("component", "scheduler"),
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		cycleCtx: ctx,
		cancel:   cancel,
	}
}

// Start launches the worker. Calling Start on a started scheduler is a
// no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.log.Warn("scheduler already running")
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.loop()
	s.log.Info("scheduler started", "interval", s.interval)
}

// Stop wakes the worker and waits for it to exit. Waits up to timeout
// (default 300s) for an in-flight cycle; past the deadline the cycle context
// is cancelled and Stop returns with a warning.
func (s *Scheduler) Stop(timeout time.Duration) {
	if timeout <= 0 {
		timeout = defaultStopTimeout
	}
	s.log.Info("stopping scheduler")
	close(s.stop)

	select {
	case <-s.done:
		s.log.Info("scheduler stopped")
	case <-time.After(timeout):
		s.cancel()
		s.log.Warn("scheduler did not stop within timeout", "timeout", timeout)
	}
}

// TriggerNow requests an immediate cycle. A trigger while one is already
// queued or running coalesces into a single extra run.
func (s *Scheduler) TriggerNow() {
	s.log.Info("manual sync trigger requested")
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// NextRun returns the next scheduled cycle time, zero before Start.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// IsRunning reports whether a cycle is executing right now.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop() {
	defer close(s.done)
	s.log.Info("scheduler loop started")

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		s.mu.Lock()
		s.nextRun = time.Now().Add(s.interval)
		s.mu.Unlock()

		timer.Reset(s.interval)
		triggered := false

		select {
		case <-s.stop:
			s.log.Info("scheduler loop exited")
			return
		case <-s.trigger:
			triggered = true
		case <-timer.C:
			// A trigger racing the timer must not double-fire.
			select {
			case <-s.trigger:
			default:
			}
		}

		select {
		case <-s.stop:
			s.log.Info("scheduler loop exited")
			return
		default:
		}

		if triggered {
			s.log.Info("running sync cycle", "cause", "manual")
		} else {
			s.log.Info("running sync cycle", "cause", "scheduled")
		}
		s.runCycle()
	}
}

// runCycle executes one cycle, converting panics into logged errors so a
// bad cycle never kills the worker.
func (s *Scheduler) runCycle() {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("sync cycle panicked", "panic", r)
		}
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if err := s.syncFunc(s.cycleCtx); err != nil {
		s.log.Error("sync cycle failed", "error", err)
	}
}
