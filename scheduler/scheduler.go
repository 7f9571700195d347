package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskFn is the function signature for scheduled tasks. The context is
// cancelled when the task is removed or the scheduler stops.
type TaskFn func(ctx context.Context) error

// TaskStats describes the recent runs of one task.
type TaskStats struct {
	Name         string        `json:"name"`
	Interval     time.Duration `json:"interval"`
	Runs         int64         `json:"runs"`
	Failures     int64         `json:"failures"`
	LastRun      time.Time     `json:"last_run"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
}

// Scheduler runs named periodic and delayed background tasks.
type Scheduler struct {
	mu      sync.Mutex
	tickers map[string]*tickerEntry
	timers  map[string]*time.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *zap.Logger
}

type tickerEntry struct {
	ticker *time.Ticker
	cancel context.CancelFunc
	run    chan struct{}

	mu    sync.Mutex
	stats TaskStats
}

// New creates a new Scheduler.
func New(logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tickers: make(map[string]*tickerEntry),
		timers:  make(map[string]*time.Timer),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
}

// AddTicker runs fn every interval under name, replacing any task already
// registered with that name.
func (s *Scheduler) AddTicker(name string, interval time.Duration, fn TaskFn) {
	ctx, cancel := context.WithCancel(s.ctx)
	entry := &tickerEntry{
		ticker: time.NewTicker(interval),
		cancel: cancel,
		run:    make(chan struct{}, 1),
		stats:  TaskStats{Name: name, Interval: interval},
	}

	s.mu.Lock()
	if old := s.tickers[name]; old != nil {
		old.cancel()
	}
	s.tickers[name] = entry
	s.wg.Add(1)
	s.mu.Unlock()

	go s.loop(ctx, entry, fn)
	s.logger.Info("scheduler task registered", zap.String("name", name), zap.Duration("interval", interval))
}

func (s *Scheduler) loop(ctx context.Context, entry *tickerEntry, fn TaskFn) {
	defer s.wg.Done()
	defer entry.ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-entry.ticker.C:
		case <-entry.run:
		}
		s.exec(ctx, entry, fn)
	}
}

func (s *Scheduler) exec(ctx context.Context, entry *tickerEntry, fn TaskFn) {
	start := time.Now()
	err := s.safeRun(ctx, entry.stats.Name, fn)

	entry.mu.Lock()
	entry.stats.Runs++
	entry.stats.LastRun = start
	entry.stats.LastDuration = time.Since(start)
	entry.stats.LastError = ""
	if err != nil {
		entry.stats.Failures++
		entry.stats.LastError = err.Error()
	}
	entry.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		s.logger.Warn("scheduler task failed", zap.String("task", entry.stats.Name), zap.Error(err))
	}
}

func (s *Scheduler) safeRun(ctx context.Context, name string, fn TaskFn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler task panicked",
				zap.String("task", name),
				zap.Any("recover", r))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// RunNow asks a ticker task to run once outside its schedule. It reports
// false for unknown tasks. A request made while one is already queued is
// merged into it.
func (s *Scheduler) RunNow(name string) bool {
	s.mu.Lock()
	entry, ok := s.tickers[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case entry.run <- struct{}{}:
	default:
	}
	return true
}

// AddDelay runs fn once after the given delay.
func (s *Scheduler) AddDelay(name string, delay time.Duration, fn TaskFn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[name]; ok {
		old.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		defer func() {
			s.mu.Lock()
			if s.timers[name] == t {
				delete(s.timers, name)
			}
			s.mu.Unlock()
		}()
		if err := s.safeRun(s.ctx, name, fn); err != nil {
			s.logger.Warn("delay task failed", zap.String("task", name), zap.Error(err))
		}
	})
	s.timers[name] = t
}

// Remove stops and removes a ticker or delay task by name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.tickers[name]; ok {
		entry.cancel()
		delete(s.tickers, name)
	}
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
	}
}

// Stop cancels every task and waits for running tickers to return.
func (s *Scheduler) Stop() {
	s.cancel()
	s.mu.Lock()
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// ListTickers returns the names of all registered ticker tasks, sorted.
func (s *Scheduler) ListTickers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tickers))
	for name := range s.tickers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns a snapshot of every ticker task, sorted by name.
func (s *Scheduler) Stats() []TaskStats {
	s.mu.Lock()
	entries := make([]*tickerEntry, 0, len(s.tickers))
	for _, e := range s.tickers {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]TaskStats, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.stats)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
