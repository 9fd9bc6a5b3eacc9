package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ozzus/sensu-agent/internal/domain"
	"ozzus/sensu-agent/internal/service"

	"github.com/stretchr/testify/require"
)

func runScheduler(t *testing.T, scheduler *service.StandaloneScheduler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = scheduler.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestSchedulerRearmsAfterFailure(t *testing.T) {
	t.Parallel()
	scheduler := service.NewStandaloneScheduler(nil, 5*time.Millisecond)

	var ok, failing, panicking atomic.Int32
	require.NoError(t, scheduler.Add("ok", 20*time.Millisecond, func(context.Context) error {
		ok.Add(1)
		return nil
	}))
	require.NoError(t, scheduler.Add("failing", 20*time.Millisecond, func(context.Context) error {
		failing.Add(1)
		return errors.New("nope")
	}))
	require.NoError(t, scheduler.Add("panicking", 20*time.Millisecond, func(context.Context) error {
		panicking.Add(1)
		panic("boom")
	}))
	runScheduler(t, scheduler)

	require.Eventually(t, func() bool {
		return ok.Load() >= 3 && failing.Load() >= 3 && panicking.Load() >= 3
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 3, scheduler.Len())
}

func TestSchedulerNeverOverlapsAnItem(t *testing.T) {
	t.Parallel()
	scheduler := service.NewStandaloneScheduler(nil, 5*time.Millisecond)

	var running, maxRunning, runs atomic.Int32
	require.NoError(t, scheduler.Add("slow", 5*time.Millisecond, func(context.Context) error {
		n := running.Add(1)
		defer running.Add(-1)
		if n > maxRunning.Load() {
			maxRunning.Store(n)
		}
		runs.Add(1)
		time.Sleep(30 * time.Millisecond)
		return nil
	}))
	runScheduler(t, scheduler)

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, int32(1), maxRunning.Load())
}

func TestSchedulerRegistration(t *testing.T) {
	t.Parallel()
	scheduler := service.NewStandaloneScheduler(nil, 0)
	noop := func(context.Context) error { return nil }

	require.NoError(t, scheduler.Add("a", time.Minute, noop))
	require.Error(t, scheduler.Add("a", time.Minute, noop), "duplicate key")
	require.Error(t, scheduler.Add("b", 0, noop), "non-positive interval")
	require.Error(t, scheduler.AddCron("c", "not a cron", noop))
	require.NoError(t, scheduler.AddCron("d", "*/5 * * * *", noop))

	items := scheduler.Items()
	require.Len(t, items, 2)
	require.Equal(t, "a", items[0].Key)
	require.Equal(t, time.Minute, items[0].Interval)
	require.True(t, items[0].NextRun.After(time.Now()))
	require.Equal(t, 0, items[1].NextRun.Minute()%5)
}

func TestScheduleChecks(t *testing.T) {
	t.Parallel()
	scheduler := service.NewStandaloneScheduler(nil, 5*time.Millisecond)

	var mu sync.Mutex
	var seen []domain.Check
	process := func(_ context.Context, check domain.Check) {
		mu.Lock()
		defer mu.Unlock()
		check["mutated"] = true
		seen = append(seen, check)
	}

	definitions := []domain.Check{
		{"name": "disk", "command": "check-disk", "standalone": true, "interval": int64(1)},
		{"name": "nightly", "command": "backup", "standalone": true, "cron": "0 3 * * *"},
		{"name": "broken", "command": "x", "standalone": true, "cron": "whenever"},
		{"name": "no-schedule", "command": "x", "standalone": true},
		{"command": "anonymous", "standalone": true, "interval": int64(1)},
	}
	require.Equal(t, 2, scheduler.ScheduleChecks(definitions, process))
	require.Equal(t, []string{"disk", "nightly"}, scheduler.Keys())

	runScheduler(t, scheduler)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 1
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	require.Equal(t, "disk", seen[0]["name"])
	mu.Unlock()
	require.NotContains(t, definitions[0], "mutated", "actions receive a copy")
}
