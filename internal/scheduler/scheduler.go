package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// TickFunc is one unit of periodic work. A returned error is logged and the
// loop keeps going.
type TickFunc func(ctx context.Context) error

// Scheduler runs a TickFunc on a fixed interval, starting with an immediate
// tick. Ticks never overlap.
type Scheduler struct {
	name     string
	interval time.Duration
	tickFn   TickFunc
	log      *slog.Logger

	running  atomic.Bool
	ticks    atomic.Int64
	failures atomic.Int64
	lastTick atomic.Pointer[time.Time]

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Status struct {
	Name     string     `json:"name"`
	Running  bool       `json:"running"`
	Interval string     `json:"interval"`
	Ticks    int64      `json:"ticks"`
	Failures int64      `json:"failures"`
	LastTick *time.Time `json:"lastTick,omitempty"`
}

func New(name string, interval time.Duration, tickFn TickFunc, logger *slog.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		name:     name,
		interval: interval,
		tickFn:   tickFn,
		log:      logger.With("scheduler", name),
		done:     make(chan struct{}),
	}, nil
}

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.log.Info("scheduler started", "interval", s.interval.String())

		s.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				s.log.Info("scheduler stopping")
				return
			case <-ticker.C:
				s.safeTick(ctx)
			}
		}
	}()

	return true
}

// Stop cancels the loop and waits for an in-flight tick to return.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	s.log.Info("scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) Status() Status {
	return Status{
		Name:     s.name,
		Running:  s.running.Load(),
		Interval: s.interval.String(),
		Ticks:    s.ticks.Load(),
		Failures: s.failures.Load(),
		LastTick: s.lastTick.Load(),
	}
}

func (s *Scheduler) safeTick(ctx context.Context) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.failures.Add(1)
			s.log.Error("scheduler tick panic recovered", "panic", r)
		}
		s.ticks.Add(1)
		s.lastTick.Store(&start)
	}()

	if err := s.tickFn(ctx); err != nil {
		s.failures.Add(1)
		s.log.Error("scheduler tick failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	s.log.Debug("scheduler tick completed", "duration_ms", time.Since(start).Milliseconds())
}
