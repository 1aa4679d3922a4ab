package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Store owns the configuration file. It hands out immutable snapshots,
// persists toggles and reports changes to subscribers.
type Store struct {
	path string

	mu        sync.Mutex
	v         *viper.Viper
	current   Snapshot
	listeners []func(Change)

	log *zap.Logger
}

// Open locates and parses the config file, falling back to defaults when missing.
func Open(path string) (*Store, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	v, err := readViper(resolved)
	if err != nil {
		return nil, err
	}
	return &Store{
		path:    resolved,
		v:       v,
		current: snapshotFrom(v),
		log:     zap.NewNop(),
	}, nil
}

// SetLogger sets the logger used for watch diagnostics.
func (s *Store) SetLogger(log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	s.mu.Lock()
	s.log = log
	s.mu.Unlock()
}

// Path returns the resolved config file path.
func (s *Store) Path() string { return s.path }

// Snapshot returns the current configuration.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// OnChange registers fn to be called after every effective change.
func (s *Store) OnChange(fn func(Change)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// SetEnabled persists the enabled toggle of ns.
func (s *Store) SetEnabled(ns string, enabled bool) error {
	if !knownNamespace(ns) {
		return fmt.Errorf("unknown namespace %q", ns)
	}
	return s.set(EnabledKey(ns), enabled)
}

// ToggleEnabled flips and persists the enabled toggle of ns, returning the new value.
func (s *Store) ToggleEnabled(ns string) (bool, error) {
	if !knownNamespace(ns) {
		return false, fmt.Errorf("unknown namespace %q", ns)
	}
	s.mu.Lock()
	next := !s.current.Collections[ns].Enabled
	change, err := s.setLocked(EnabledKey(ns), next)
	listeners := s.copyListeners()
	s.mu.Unlock()
	if err != nil {
		return !next, err
	}
	s.emit(change, listeners)
	return next, nil
}

func (s *Store) set(key string, value any) error {
	s.mu.Lock()
	change, err := s.setLocked(key, value)
	listeners := s.copyListeners()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.emit(change, listeners)
	return nil
}

// setLocked writes key and installs the new snapshot. Caller holds s.mu.
func (s *Store) setLocked(key string, value any) (Change, error) {
	s.v.Set(key, value)
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return Change{}, fmt.Errorf("create config dir: %w", err)
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return Change{}, fmt.Errorf("write config: %w", err)
	}
	return s.apply(snapshotFrom(s.v)), nil
}

// Reload re-reads the config file and reports what changed.
func (s *Store) Reload() (Change, error) {
	v, err := readViper(s.path)
	if err != nil {
		return Change{}, err
	}
	s.mu.Lock()
	s.v = v
	change := s.apply(snapshotFrom(v))
	listeners := s.copyListeners()
	s.mu.Unlock()

	s.emit(change, listeners)
	return change, nil
}

// Watch reloads the config whenever the file is written, until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != s.path {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if _, err := s.Reload(); err != nil {
					s.logger().Warn("config reload failed", zap.String("path", s.path), zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger().Warn("config watch error", zap.Error(err))
			}
		}
	}()
	return nil
}

// apply installs next and returns the change. Caller holds s.mu.
func (s *Store) apply(next Snapshot) Change {
	change := Change{Keys: diff(s.current, next), Before: s.current, After: next}
	s.current = next
	return change
}

func (s *Store) copyListeners() []func(Change) {
	out := make([]func(Change), len(s.listeners))
	copy(out, s.listeners)
	return out
}

func (s *Store) emit(change Change, listeners []func(Change)) {
	if len(change.Keys) == 0 {
		return
	}
	s.logger().Info("config changed", zap.Strings("keys", change.Keys))
	for _, fn := range listeners {
		fn(change)
	}
}

func (s *Store) logger() *zap.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log
}
