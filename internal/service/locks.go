package service

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"ozzus/sensu-agent/internal/domain"
)

// Execution is the handle of one running check.
type Execution struct {
	done chan struct{}
	once sync.Once
}

func NewExecution() *Execution {
	return &Execution{done: make(chan struct{})}
}

// Complete marks the execution as finished. Safe to call more than once.
func (e *Execution) Complete() {
	e.once.Do(func() { close(e.done) })
}

func (e *Execution) Done() <-chan struct{} {
	return e.done
}

func (e *Execution) Completed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

type lockEntry struct {
	started   time.Time
	execution *Execution
}

// LockTable allows at most one in-flight execution per check name.
type LockTable struct {
	log *slog.Logger
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*lockEntry
}

func NewLockTable(log *slog.Logger) *LockTable {
	if log == nil {
		log = slog.Default()
	}
	return &LockTable{
		log:     log.With(slog.String("component", "locks")),
		now:     time.Now,
		entries: make(map[string]*lockEntry),
	}
}

// Acquire takes the name. It fails while an entry exists, unless the entry's
// execution has already completed, in which case the stale entry is replaced.
func (t *LockTable) Acquire(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.entries[name]; ok {
		if entry.execution == nil || !entry.execution.Completed() {
			return false
		}
		t.log.Warn("recovering lock of completed check", slog.String("check", name), slog.Time("started", entry.started))
	}

	t.entries[name] = &lockEntry{started: t.now()}
	return true
}

// Attach records the execution for a held name. No-op if the name is not held.
func (t *LockTable) Attach(name string, execution *Execution) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.entries[name]; ok {
		entry.execution = execution
	}
}

// Release frees the name on behalf of execution, which is nil for an owner
// that gave up before attaching. The entry is removed only while it still
// belongs to that owner and its execution is not running, so a late release
// never frees a lock a newer run has taken over.
func (t *LockTable) Release(name string, execution *Execution) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[name]
	if !ok {
		return
	}
	if entry.execution != execution {
		t.log.Debug("lock held by another run", slog.String("check", name))
		return
	}
	if execution != nil && !execution.Completed() {
		t.log.Warn("refusing to release running check", slog.String("check", name))
		return
	}
	delete(t.entries, name)
}

func (t *LockTable) InFlight() []domain.InFlightCheck {
	t.mu.Lock()
	out := make([]domain.InFlightCheck, 0, len(t.entries))
	for name, entry := range t.entries {
		out = append(out, domain.InFlightCheck{
			Name:      name,
			StartedAt: entry.started,
			Attached:  entry.execution != nil,
			Completed: entry.execution != nil && entry.execution.Completed(),
		})
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
