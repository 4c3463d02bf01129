// Package schedule runs merge batches on cron schedules.
package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hochfrequenz/mr-automerge/internal/logx"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// RunFunc runs the batch of one entry
type RunFunc func(ctx context.Context, e Entry) error

// Scheduler manages scheduled batch runs
type Scheduler struct {
	entries map[string]Entry
	lastRun map[string]time.Time
	running map[string]bool
	started time.Time
	tick    time.Duration
	now     func() time.Time
	logger  *logx.Logger
	mu      sync.RWMutex
	wg      sync.WaitGroup
}

// NewScheduler creates a new scheduler for the given entries
func NewScheduler(entries []Entry, logger *logx.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = logx.NewLogger("schedule")
	}
	s := &Scheduler{
		lastRun: make(map[string]time.Time),
		running: make(map[string]bool),
		tick:    time.Minute,
		now:     time.Now,
		logger:  logger,
	}
	s.started = s.now()
	if err := s.Replace(entries); err != nil {
		return nil, err
	}
	return s, nil
}

// ParseCron parses a five-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	return parser.Parse(expr)
}

// Replace swaps the set of entries. Batches already running finish
// undisturbed; entries keep their last run time across replacement.
func (s *Scheduler) Replace(entries []Entry) error {
	next := make(map[string]Entry, len(entries))
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return err
		}
		next[e.Name] = e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = next
	return nil
}

// NextRun returns the next scheduled run time for an entry
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[name]
	if !ok {
		return time.Time{}
	}

	sched, err := parser.Parse(e.Cron)
	if err != nil {
		return time.Time{}
	}

	return sched.Next(s.now())
}

// ShouldRun returns true if an entry is due and not already running
func (s *Scheduler) ShouldRun(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[name]
	if !ok || s.running[name] {
		return false
	}

	sched, err := parser.Parse(e.Cron)
	if err != nil {
		return false
	}

	lastRun := s.lastRun[name]
	if lastRun.IsZero() {
		lastRun = s.started
	}

	return !s.now().Before(sched.Next(lastRun))
}

// MarkRunning marks an entry as currently running
func (s *Scheduler) MarkRunning(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = true
}

// MarkComplete marks an entry as complete
func (s *Scheduler) MarkComplete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = false
	s.lastRun[name] = s.now()
}

// Entry returns the entry with the given name
func (s *Scheduler) Entry(name string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	return e, ok
}

// Names returns all entry names, sorted
func (s *Scheduler) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunDue starts every due entry in its own goroutine
func (s *Scheduler) RunDue(ctx context.Context, run RunFunc) {
	for _, name := range s.Names() {
		if !s.ShouldRun(name) {
			continue
		}
		e, _ := s.Entry(name)
		s.MarkRunning(name)
		s.wg.Add(1)
		go func(e Entry) {
			defer s.wg.Done()
			defer s.MarkComplete(e.Name)
			s.logger.Info("starting scheduled batch %s for %s", e.Name, e.Repository)
			if err := run(ctx, e); err != nil {
				s.logger.Error("scheduled batch %s failed: %v", e.Name, err)
			}
		}(e)
	}
}

// Start runs the scheduler loop until ctx is cancelled, then waits for
// running batches to finish.
func (s *Scheduler) Start(ctx context.Context, run RunFunc) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	defer s.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunDue(ctx, run)
		}
	}
}
