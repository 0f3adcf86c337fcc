package integration

import (
	"context"
	"sync"
	"time"

	"github.com/ajitpratap0/integrationd/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// HandlerSource is anything that supervises handlers: a service or a group
type HandlerSource interface {
	Handlers() []*ConnectorHandler
}

type scheduleEntry struct {
	lastDispatch time.Time
	inFlight     bool
}

// Scheduler refreshes polled connectors from a single ticking goroutine.
// Each due refresh runs on its own goroutine; a handler never has two
// refreshes in flight and the number running at once is bounded.
type Scheduler struct {
	tick   time.Duration
	sem    *semaphore.Weighted
	clock  func() time.Time
	logger *zap.Logger

	mu      sync.Mutex
	sources []HandlerSource
	entries map[*ConnectorHandler]*scheduleEntry

	cancel  context.CancelFunc
	loopWG  sync.WaitGroup
	running sync.WaitGroup
}

// NewScheduler creates a stopped scheduler
func NewScheduler(tick time.Duration, maxConcurrent int, l *zap.Logger) *Scheduler {
	if tick <= 0 {
		tick = time.Second
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 16
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &Scheduler{
		tick:    tick,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		clock:   time.Now,
		logger:  l.With(zap.String("component", "scheduler")),
		entries: make(map[*ConnectorHandler]*scheduleEntry),
	}
}

// AddSource adds handlers to be scheduled
func (s *Scheduler) AddSource(src HandlerSource) {
	s.mu.Lock()
	s.sources = append(s.sources, src)
	s.mu.Unlock()
}

// Start begins ticking until Stop is called
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.loopWG.Add(1)
	go func() {
		defer s.loopWG.Done()

		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()

		s.Tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop stops ticking and waits for running refreshes until ctx is done
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.loopWG.Wait()

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick dispatches every due refresh once. Connectors with a dedicated
// goroutine are not scheduled.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	live := make(map[*ConnectorHandler]struct{})
	for _, src := range s.sources {
		for _, h := range src.Handlers() {
			live[h] = struct{}{}
			s.dispatchLocked(ctx, h, now)
		}
	}

	for h, e := range s.entries {
		if _, ok := live[h]; !ok && !e.inFlight {
			delete(s.entries, h)
		}
	}
}

func (s *Scheduler) dispatchLocked(ctx context.Context, h *ConnectorHandler, now time.Time) {
	details := h.Details()
	if details.UsesBlockingCalls {
		return
	}

	e, seen := s.entries[h]
	if seen && now.Sub(e.lastDispatch) < h.RefreshInterval() {
		return
	}
	if seen && e.inFlight {
		metrics.SchedulerSkips.WithLabelValues("in_flight").Inc()
		return
	}
	if !s.sem.TryAcquire(1) {
		metrics.SchedulerSkips.WithLabelValues("saturated").Inc()
		return
	}

	if !seen {
		e = &scheduleEntry{}
		s.entries[h] = e
	}
	e.lastDispatch = now
	e.inFlight = true
	first := !seen

	s.running.Add(1)
	go func() {
		defer s.running.Done()
		defer s.sem.Release(1)

		if err := h.Refresh(ctx, first); err != nil {
			s.logger.Debug("refresh abandoned", zap.String("connector_id", h.ID()), zap.Error(err))
		}

		s.mu.Lock()
		e.inFlight = false
		s.mu.Unlock()
	}()
}

// Wait blocks until every dispatched refresh has returned
func (s *Scheduler) Wait() {
	s.running.Wait()
}
