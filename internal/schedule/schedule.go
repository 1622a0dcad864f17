package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Supervisor runs background tasks. A panicking task is logged and
// does not take the process down. Tasks receive the supervisor's
// context, which is cancelled by Stop.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	clock  clock.Clock
	log    *slog.Logger

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

func NewSupervisor(ctx context.Context, clk clock.Clock, logger *slog.Logger) *Supervisor {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		clock:  clk,
		log:    logger,
	}
}

// Go runs fn in a new goroutine. It does nothing once the supervisor
// is stopped.
func (s *Supervisor) Go(name string, fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.stopped || s.ctx.Err() != nil {
		s.mu.Unlock()
		s.log.Debug("supervisor stopped, dropping task", "task", name)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("background task panicked", "task", name, "panic", r)
			}
		}()
		fn(s.ctx)
	}()
}

// RunAt runs fn at runAt, or immediately if that time has passed.
// The task is dropped if the supervisor stops first.
func (s *Supervisor) RunAt(name string, runAt time.Time, fn func(ctx context.Context)) {
	s.Go(name, func(ctx context.Context) {
		delay := runAt.Sub(s.clock.Now())
		if delay > 0 {
			timer := s.clock.Timer(delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		}
		fn(ctx)
	})
}

// Stop cancels running tasks and waits for them to return.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until every task has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
