package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"ozzus/sensu-agent/internal/domain"
)

const defaultSchedulerTick = 500 * time.Millisecond

type Action func(ctx context.Context) error

// ScheduledItem is a keyed action with its next run time. An item runs either
// every Interval or on a cron schedule.
type ScheduledItem struct {
	Key      string
	Interval time.Duration
	NextRun  time.Time

	schedule cron.Schedule
	action   Action
}

func (i *ScheduledItem) arm(now time.Time) {
	if i.schedule != nil {
		i.NextRun = i.schedule.Next(now)
		return
	}
	i.NextRun = now.Add(i.Interval)
}

// StandaloneScheduler runs due items on every tick. An item is out of the
// ready set while its action runs and is re-armed once it returns, so one
// item never overlaps itself.
type StandaloneScheduler struct {
	log  *slog.Logger
	tick time.Duration
	now  func() time.Time

	mu    sync.Mutex
	ready map[string]*ScheduledItem
	keys  []string

	wg conc.WaitGroup
}

func NewStandaloneScheduler(log *slog.Logger, tick time.Duration) *StandaloneScheduler {
	if log == nil {
		log = slog.Default()
	}
	if tick <= 0 {
		tick = defaultSchedulerTick
	}
	return &StandaloneScheduler{
		log:   log.With(slog.String("component", "scheduler")),
		tick:  tick,
		now:   time.Now,
		ready: make(map[string]*ScheduledItem),
	}
}

// Add schedules action every interval, first run one interval from now.
func (s *StandaloneScheduler) Add(key string, interval time.Duration, action Action) error {
	if interval <= 0 {
		return fmt.Errorf("schedule %s: interval must be positive", key)
	}
	return s.insert(&ScheduledItem{Key: key, Interval: interval, action: action})
}

// AddCron schedules action on a standard five-field cron expression.
func (s *StandaloneScheduler) AddCron(key, spec string, action Action) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", key, err)
	}
	return s.insert(&ScheduledItem{Key: key, schedule: schedule, action: action})
}

func (s *StandaloneScheduler) insert(item *ScheduledItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.Contains(s.keys, item.Key) {
		return fmt.Errorf("schedule %s: already scheduled", item.Key)
	}
	item.arm(s.now())
	s.ready[item.Key] = item
	s.keys = append(s.keys, item.Key)
	return nil
}

// ScheduleChecks registers every standalone check. A check with a cron
// expression runs on it; otherwise it runs on its interval. Checks that fail
// to schedule are logged and skipped.
func (s *StandaloneScheduler) ScheduleChecks(checks []domain.Check, process func(ctx context.Context, check domain.Check)) int {
	scheduled := 0
	for _, check := range checks {
		name, ok := check.Name()
		if !ok {
			continue
		}
		action := func(ctx context.Context) error {
			process(ctx, check.Clone())
			return nil
		}

		var err error
		if spec := check.Cron(); spec != "" {
			err = s.AddCron(name, spec, action)
		} else if interval, ok := check.Interval(); ok {
			err = s.Add(name, interval, action)
		} else {
			continue
		}
		if err != nil {
			s.log.Error("failed to schedule standalone check", slog.String("check", name), slog.String("error", err.Error()))
			continue
		}
		s.log.Debug("scheduled standalone check", slog.String("check", name))
		scheduled++
	}
	return scheduled
}

// Run ticks until ctx is done, then waits for running actions.
func (s *StandaloneScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	defer s.wg.Wait()

	s.log.Info("standalone scheduler started", slog.Int("items", s.Len()))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("standalone scheduler stopped")
			return nil
		case <-ticker.C:
			s.dispatchDue(ctx)
		}
	}
}

func (s *StandaloneScheduler) dispatchDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*ScheduledItem
	for key, item := range s.ready {
		if !item.NextRun.After(now) {
			due = append(due, item)
			delete(s.ready, key)
		}
	}
	s.mu.Unlock()

	for _, item := range due {
		s.wg.Go(func() { s.runItem(ctx, item) })
	}
}

func (s *StandaloneScheduler) runItem(ctx context.Context, item *ScheduledItem) {
	defer s.rearm(item)

	var err error
	var catcher panics.Catcher
	catcher.Try(func() { err = item.action(ctx) })
	if recovered := catcher.Recovered(); recovered != nil {
		s.log.Error("scheduled item panicked", slog.String("key", item.Key), slog.Any("panic", recovered.Value))
		return
	}
	if err != nil {
		s.log.Error("scheduled item failed", slog.String("key", item.Key), slog.String("error", err.Error()))
	}
}

func (s *StandaloneScheduler) rearm(item *ScheduledItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item.arm(s.now())
	s.ready[item.Key] = item
}

// Len is the number of registered items, running or waiting.
func (s *StandaloneScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// Keys returns every registered key, sorted.
func (s *StandaloneScheduler) Keys() []string {
	s.mu.Lock()
	keys := append([]string(nil), s.keys...)
	s.mu.Unlock()

	sort.Strings(keys)
	return keys
}

// Items returns a snapshot of the waiting items ordered by key.
func (s *StandaloneScheduler) Items() []ScheduledItem {
	s.mu.Lock()
	out := make([]ScheduledItem, 0, len(s.ready))
	for _, item := range s.ready {
		out = append(out, ScheduledItem{Key: item.Key, Interval: item.Interval, NextRun: item.NextRun})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
