package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"ozzus/sensu-agent/internal/domain"
)

var defaultPlugins = func() string {
	if runtime.GOOS == "windows" {
		return `C:\etc\sensu\plugins`
	}
	return "/etc/sensu/plugins"
}()

const reloadDebounce = 500 * time.Millisecond

// Snapshot is one immutable, fully merged view of the configuration.
type Snapshot struct {
	Settings Settings
	tree     map[string]interface{}
	checks   map[string]domain.Check
}

func newSnapshot(tree map[string]interface{}) (*Snapshot, error) {
	settings, err := decodeSettings(tree)
	if err != nil {
		return nil, err
	}

	checks := make(map[string]domain.Check)
	if defs, ok := tree["checks"].(map[string]interface{}); ok {
		for name, def := range defs {
			m, ok := def.(map[string]interface{})
			if !ok {
				continue
			}
			check := domain.Check(domain.CloneMap(m))
			check[domain.FieldName] = name
			checks[name] = check
		}
	}

	return &Snapshot{
		Settings: settings,
		tree:     tree,
		checks:   checks,
	}, nil
}

// ClientTree returns a copy of the raw client section, with the original
// key casing.
func (s *Snapshot) ClientTree() map[string]interface{} {
	client, _ := s.tree["client"].(map[string]interface{})
	if client == nil {
		return map[string]interface{}{}
	}
	return domain.CloneMap(client)
}

func (s *Snapshot) LocalCheck(name string) (domain.Check, bool) {
	check, ok := s.checks[name]
	if !ok {
		return nil, false
	}
	return check.Clone(), true
}

// MergeCheckWithLocalCheck overlays an incoming check on the local
// definition of the same name. Incoming fields win, arrays are unioned.
func (s *Snapshot) MergeCheckWithLocalCheck(check domain.Check) domain.Check {
	name, ok := check.Name()
	if !ok {
		return check.Clone()
	}
	local, ok := s.LocalCheck(name)
	if !ok {
		return check.Clone()
	}

	merged := map[string]interface{}(local)
	mergeTree(merged, domain.CloneMap(check))
	merged[domain.FieldName] = name
	return domain.Check(merged)
}

// StandaloneChecks returns local checks scheduled by the agent itself, sorted
// by name: standalone with a positive interval or a cron expression.
func (s *Snapshot) StandaloneChecks() []domain.Check {
	names := make([]string, 0, len(s.checks))
	for name, check := range s.checks {
		if !check.Standalone() {
			continue
		}
		if _, ok := check.Interval(); !ok && check.Cron() == "" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]domain.Check, 0, len(names))
	for _, name := range names {
		out = append(out, s.checks[name].Clone())
	}
	return out
}

// Store serves the current snapshot and swaps it when files change.
type Store struct {
	log     *slog.Logger
	file    string
	dir     string
	current atomic.Pointer[Snapshot]
}

func NewStore(log *slog.Logger, file, dir string) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{
		log:  log.With(slog.String("component", "config")),
		file: file,
		dir:  dir,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload rebuilds the snapshot. On error the previous one stays in place.
func (s *Store) Reload() error {
	tree, err := loadTree(s.file, s.dir)
	if err != nil {
		return err
	}
	snapshot, err := newSnapshot(tree)
	if err != nil {
		return err
	}
	s.current.Store(snapshot)
	return nil
}

func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

func (s *Store) Settings() Settings {
	return s.Current().Settings
}

func (s *Store) ClientName() string {
	return s.Current().Settings.Client.Name
}

func (s *Store) SafeMode() bool {
	return s.Current().Settings.Client.SafeMode
}

func (s *Store) Plugins() string {
	return s.Current().Settings.Client.Plugins
}

func (s *Store) SendMetricWithCheck() bool {
	return s.Current().Settings.Client.SendMetricWithCheck
}

func (s *Store) Subscriptions() []string {
	return append([]string(nil), s.Current().Settings.Client.Subscriptions...)
}

// RedactKeys is nil when the client does not configure a list.
func (s *Store) RedactKeys() []string {
	keys := s.Current().Settings.Client.Redact
	if keys == nil {
		return nil
	}
	return append([]string{}, keys...)
}

func (s *Store) ClientTree() map[string]interface{} {
	return s.Current().ClientTree()
}

func (s *Store) LocalCheck(name string) (domain.Check, bool) {
	return s.Current().LocalCheck(name)
}

func (s *Store) MergeCheckWithLocalCheck(check domain.Check) domain.Check {
	return s.Current().MergeCheckWithLocalCheck(check)
}

func (s *Store) StandaloneChecks() []domain.Check {
	return s.Current().StandaloneChecks()
}

// Watch reloads the snapshot whenever the config file or a fragment changes.
// It blocks until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range s.watchDirs() {
		if err := watcher.Add(dir); err != nil {
			s.log.Warn("cannot watch directory", slog.String("dir", dir), slog.String("error", err.Error()))
		}
	}

	var (
		timer   *time.Timer
		trigger <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !s.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			trigger = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Error("config watcher error", slog.String("error", err.Error()))
		case <-trigger:
			trigger = nil
			if err := s.Reload(); err != nil {
				s.log.Error("failed to reload config", slog.String("error", err.Error()))
				continue
			}
			s.log.Info("config reloaded", slog.Int("standalone_checks", len(s.StandaloneChecks())))
		}
	}
}

func (s *Store) watchDirs() []string {
	dirs := make([]string, 0, 2)
	if s.file != "" {
		dirs = append(dirs, filepath.Dir(s.file))
	}
	if s.dir != "" {
		dirs = append(dirs, s.dir)
	}
	return dirs
}

func (s *Store) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	if filepath.Clean(event.Name) == filepath.Clean(s.file) {
		return true
	}
	return s.dir != "" && filepath.Dir(filepath.Clean(event.Name)) == filepath.Clean(s.dir) && isJSONFile(event.Name)
}
