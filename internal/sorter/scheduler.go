package sorter

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler runs a sort pass every interval, skipping ticks while a pass is
// still running.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	log      *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	passes sync.WaitGroup
}

func NewScheduler(engine *Engine, interval time.Duration, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{engine: engine, interval: interval, log: log}
}

// Start begins ticking. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.log.Debug("sort scheduler started", zap.Duration("interval", s.interval))
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if s.engine.Sorting() {
				continue
			}
			s.passes.Add(1)
			go func() {
				defer s.passes.Done()
				s.engine.SortInventory(ctx)
			}()
		}
	}
}

// Stop halts the ticker, cancels a running pass and waits for it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.passes.Wait()
	s.log.Debug("sort scheduler stopped")
}

// Running reports whether the scheduler is ticking.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}
