package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/c360/dataports/errors"
)

// Update represents a configuration change notification
type Update struct {
	Path   string      // Changed path (e.g., "network", "ports.speed")
	Config *SafeConfig // Full latest configuration
}

// Manager owns the live configuration. Reload re-reads the loader's layers
// and notifies subscribers of every section that changed.
type Manager struct {
	config      *SafeConfig              // Current configuration
	loader      *Loader                  // Source of reloads, may be nil
	subscribers map[string][]chan Update // Pattern -> channels
	mu          sync.RWMutex             // Protects subscribers map
	applyMu     sync.Mutex               // Serializes Apply
	logger      *slog.Logger

	stopped atomic.Bool
}

// NewManager creates a configuration manager for cfg. Without a loader the
// configuration only changes through Apply.
func NewManager(cfg *Config, loader *Loader, logger *slog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Manager", "NewManager", "config cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		config:      NewSafeConfig(cfg),
		loader:      loader,
		subscribers: make(map[string][]chan Update),
		logger:      logger.With("component", "config-manager"),
	}, nil
}

// GetConfig returns the current configuration
func (cm *Manager) GetConfig() *SafeConfig {
	return cm.config
}

// OnChange subscribes to configuration changes matching the pattern.
// The current configuration is delivered immediately.
// Pattern examples:
//   - "network" - exact match
//   - "ports.*" - every port
//   - "ports.arm_*" - ports starting with arm_
func (cm *Manager) OnChange(pattern string) <-chan Update {
	ch := make(chan Update, 1)

	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.stopped.Load() {
		close(ch)
		return ch
	}
	cm.subscribers[pattern] = append(cm.subscribers[pattern], ch)

	ch <- Update{Path: pattern, Config: cm.config}
	return ch
}

// Reload loads the configuration layers again and applies the result
func (cm *Manager) Reload() error {
	if cm.loader == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Manager", "Reload", "no loader configured")
	}
	cfg, err := cm.loader.Load()
	if err != nil {
		cm.logger.Error("Failed to reload configuration", "error", err)
		return err
	}
	return cm.Apply(cfg)
}

// Apply validates next and makes it the current configuration. A version
// older than the current one is rejected.
func (cm *Manager) Apply(next *Config) error {
	if cm.stopped.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Manager", "Apply", "apply configuration")
	}
	if next == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Manager", "Apply", "config cannot be nil")
	}

	cm.applyMu.Lock()
	defer cm.applyMu.Unlock()

	current := cm.config.Get()
	if current.Version != "" && next.Version != "" {
		cmp, err := CompareVersions(next.Version, current.Version)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "Manager", "Apply", "compare versions")
		}
		if cmp < 0 {
			cm.logger.Warn("Configuration version is older than the running one, ignoring",
				"running_version", current.Version,
				"new_version", next.Version,
				"hint", "bump the file version to apply changes")
			return errors.WrapInvalid(
				fmt.Errorf("%w: version %s is older than %s", errors.ErrInvalidConfig, next.Version, current.Version),
				"Manager", "Apply", "check version")
		}
	}

	if err := cm.config.Update(next); err != nil {
		return err
	}

	changed := changedPaths(current, next)
	if len(changed) == 0 {
		cm.logger.Debug("Configuration unchanged")
		return nil
	}
	cm.logger.Info("Configuration updated", "version", next.Version, "changed", changed)

	for _, path := range changed {
		cm.notify(path)
	}
	return nil
}

// notify sends an update to every subscriber whose pattern matches path.
// Slow subscribers miss updates; the next Get returns the latest config anyway.
func (cm *Manager) notify(path string) {
	update := Update{Path: path, Config: cm.config}

	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for pattern, channels := range cm.subscribers {
		if !cm.matchesPattern(path, pattern) {
			continue
		}
		for _, ch := range channels {
			if cm.stopped.Load() {
				return
			}
			select {
			case ch <- update:
			default:
			}
		}
	}
}

// matchesPattern checks if a key matches a subscription pattern
func (cm *Manager) matchesPattern(key, pattern string) bool {
	if pattern == key || pattern == "*" {
		return true
	}

	// Wildcard suffix: "ports.*" matches "ports.speed"
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, ".*")
		return strings.HasPrefix(key, prefix+".")
	}

	// Prefix wildcard: "ports.arm_*" matches "ports.arm_speed"
	if prefix, _, ok := strings.Cut(pattern, "*"); ok {
		return strings.HasPrefix(key, prefix)
	}
	return false
}

// Stop closes every subscriber channel. Later Apply calls fail.
func (cm *Manager) Stop() {
	if !cm.stopped.CompareAndSwap(false, true) {
		return
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, channels := range cm.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	cm.subscribers = make(map[string][]chan Update)
}

// changedPaths lists the top level sections, and the individual ports, that
// differ between two configurations
func changedPaths(old, next *Config) []string {
	var changed []string

	sections := []struct {
		name     string
		old, new any
	}{
		{"version", old.Version, next.Version},
		{"runtime", old.Runtime, next.Runtime},
		{"nats", old.NATS, next.NATS},
		{"network", old.Network, next.Network},
		{"metrics", old.Metrics, next.Metrics},
		{"log", old.Log, next.Log},
	}
	for _, s := range sections {
		if !sameJSON(s.old, s.new) {
			changed = append(changed, s.name)
		}
	}

	oldPorts := make(map[string]PortConfig, len(old.Ports))
	for _, p := range old.Ports {
		oldPorts[p.Name] = p
	}
	var ports []string
	for _, p := range next.Ports {
		prev, ok := oldPorts[p.Name]
		if !ok || !reflect.DeepEqual(prev, p) {
			ports = append(ports, "ports."+p.Name)
		}
		delete(oldPorts, p.Name)
	}
	for name := range oldPorts {
		ports = append(ports, "ports."+name)
	}
	sort.Strings(ports)

	return append(changed, ports...)
}

func sameJSON(a, b any) bool {
	da, errA := json.Marshal(a)
	db, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(da) == string(db)
}
