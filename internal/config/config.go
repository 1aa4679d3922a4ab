package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Configuration namespaces, one per monitored collection.
const (
	NamespaceApps       = "c8y"
	NamespaceAlarms     = "c8y_alarms"
	NamespaceAlarmTypes = "c8y_alarm_types"
)

// Namespaces lists every collection namespace in display order.
var Namespaces = []string{NamespaceApps, NamespaceAlarms, NamespaceAlarmTypes}

const (
	defaultConfigPath = "~/.config/c8yview/config.toml"
	defaultLogPath    = "~/.local/state/c8yview/c8yview.log"
	defaultLogLevel   = "info"
)

// Collection is the settings block of one namespace. URL, User and Password
// fall back to the [c8y] block when empty.
type Collection struct {
	URL      string
	User     string
	Password string
	Enabled  bool
}

// Snapshot is an immutable view of the configuration, read once per refresh cycle.
type Snapshot struct {
	Collections     map[string]Collection
	Workspace       string
	PruneMirror     bool
	RefreshInterval time.Duration
	LogPath         string
	LogLevel        string
}

// Collection returns the effective settings of ns with credential fallback applied.
func (s Snapshot) Collection(ns string) Collection {
	c := s.Collections[ns]
	if ns == NamespaceApps {
		return c
	}
	shared := s.Collections[NamespaceApps]
	if strings.TrimSpace(c.URL) == "" {
		c.URL = shared.URL
	}
	if strings.TrimSpace(c.User) == "" {
		c.User = shared.User
	}
	if c.Password == "" {
		c.Password = shared.Password
	}
	return c
}

// EnabledKey returns the configuration key of the enabled toggle for ns.
func EnabledKey(ns string) string {
	return ns + ".enabled"
}

// Change describes a configuration update. Keys are the fully qualified keys
// whose values differ between Before and After.
type Change struct {
	Keys   []string
	Before Snapshot
	After  Snapshot
}

// Affects reports whether key is among the changed keys.
func (c Change) Affects(key string) bool {
	for _, k := range c.Keys {
		if k == key {
			return true
		}
	}
	return false
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	for _, ns := range Namespaces {
		v.SetDefault(ns+".url", "")
		v.SetDefault(ns+".user", "")
		v.SetDefault(ns+".password", "")
	}
	v.SetDefault(EnabledKey(NamespaceApps), true)
	v.SetDefault(EnabledKey(NamespaceAlarms), true)
	v.SetDefault(EnabledKey(NamespaceAlarmTypes), false)
	v.SetDefault("mirror.workspace", "")
	v.SetDefault("mirror.prune", false)
	v.SetDefault("ui.refresh_interval", "0s")
	v.SetDefault("log.path", defaultLogPath)
	v.SetDefault("log.level", defaultLogLevel)
	return v
}

// readViper loads path into a fresh viper instance. A missing file yields defaults.
func readViper(path string) (*viper.Viper, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.Is(err, fs.ErrNotExist) || errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return v, nil
}

func snapshotFrom(v *viper.Viper) Snapshot {
	snap := Snapshot{
		Collections:     make(map[string]Collection, len(Namespaces)),
		Workspace:       strings.TrimSpace(v.GetString("mirror.workspace")),
		PruneMirror:     v.GetBool("mirror.prune"),
		RefreshInterval: v.GetDuration("ui.refresh_interval"),
		LogPath:         mustExpand(v.GetString("log.path")),
		LogLevel:        strings.ToLower(strings.TrimSpace(v.GetString("log.level"))),
	}
	for _, ns := range Namespaces {
		snap.Collections[ns] = Collection{
			URL:      strings.TrimSpace(v.GetString(ns + ".url")),
			User:     strings.TrimSpace(v.GetString(ns + ".user")),
			Password: v.GetString(ns + ".password"),
			Enabled:  v.GetBool(EnabledKey(ns)),
		}
	}
	if snap.Workspace != "" {
		snap.Workspace = mustExpand(snap.Workspace)
	}
	if snap.LogPath == "" {
		snap.LogPath = mustExpand(defaultLogPath)
	}
	if snap.LogLevel == "" {
		snap.LogLevel = defaultLogLevel
	}
	if snap.RefreshInterval < 0 {
		snap.RefreshInterval = 0
	}
	return snap
}

// diff returns the sorted keys whose values differ between a and b.
func diff(a, b Snapshot) []string {
	var keys []string
	for _, ns := range Namespaces {
		ca, cb := a.Collections[ns], b.Collections[ns]
		if ca.URL != cb.URL {
			keys = append(keys, ns+".url")
		}
		if ca.User != cb.User {
			keys = append(keys, ns+".user")
		}
		if ca.Password != cb.Password {
			keys = append(keys, ns+".password")
		}
		if ca.Enabled != cb.Enabled {
			keys = append(keys, EnabledKey(ns))
		}
	}
	if a.Workspace != b.Workspace {
		keys = append(keys, "mirror.workspace")
	}
	if a.PruneMirror != b.PruneMirror {
		keys = append(keys, "mirror.prune")
	}
	if a.RefreshInterval != b.RefreshInterval {
		keys = append(keys, "ui.refresh_interval")
	}
	if a.LogPath != b.LogPath {
		keys = append(keys, "log.path")
	}
	if a.LogLevel != b.LogLevel {
		keys = append(keys, "log.level")
	}
	sort.Strings(keys)
	return keys
}

func knownNamespace(ns string) bool {
	for _, n := range Namespaces {
		if n == ns {
			return true
		}
	}
	return false
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
