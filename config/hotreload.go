// Config hot reload.
//
// Reloads the config file on change, diffs it against the running config and
// hands it to reload callbacks. A failing callback rolls the change back.
package config

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- Types ---

// ReloadCallback applies a new configuration. Returning an error rolls the
// reload back.
type ReloadCallback func(oldConfig, newConfig *Config) error

// ConfigChange describes one changed field.
type ConfigChange struct {
	Timestamp       time.Time `json:"timestamp"`
	Source          string    `json:"source"`
	Path            string    `json:"path"`
	OldValue        any       `json:"old_value,omitempty"`
	NewValue        any       `json:"new_value,omitempty"`
	RequiresRestart bool      `json:"requires_restart"`
}

// hotReloadablePrefixes lists the config paths that take effect without a
// restart. Streaming defaults apply to streams managed after the reload.
var hotReloadablePrefixes = []string{
	"Streaming.Strategy",
	"Streaming.InitialBufferSize",
	"Streaming.BufferSizeIncrement",
	"Streaming.MaxInMemorySize",
	"Streaming.BufferUnit",
	"Streaming.EagerRead",
	"Log.Level",
}

// IsHotReloadable reports whether a change to path applies without restart.
func IsHotReloadable(path string) bool {
	for _, p := range hotReloadablePrefixes {
		if path == p || strings.HasPrefix(path, p+".") {
			return true
		}
	}
	return false
}

// HotReloadManager owns the running configuration.
type HotReloadManager struct {
	mu sync.RWMutex

	config     *Config
	configPath string
	version    int

	watcher      *FileWatcher
	pollInterval time.Duration
	callbacks    []ReloadCallback
	changeLog    []ConfigChange
	maxChangeLog int

	logger *zap.Logger
}

// HotReloadOption configures a HotReloadManager.
type HotReloadOption func(*HotReloadManager)

// WithHotReloadLogger sets the logger.
func WithHotReloadLogger(logger *zap.Logger) HotReloadOption {
	return func(m *HotReloadManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithConfigPath sets the file reloaded on change.
func WithConfigPath(path string) HotReloadOption {
	return func(m *HotReloadManager) { m.configPath = path }
}

// WithReloadPollInterval sets how often the file is checked.
func WithReloadPollInterval(d time.Duration) HotReloadOption {
	return func(m *HotReloadManager) { m.pollInterval = d }
}

// NewHotReloadManager creates a manager around the initial configuration.
func NewHotReloadManager(cfg *Config, opts ...HotReloadOption) *HotReloadManager {
	m := &HotReloadManager{
		config:       cfg,
		version:      1,
		pollInterval: time.Second,
		maxChangeLog: 256,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "config_reload"))
	return m
}

// Start watches the config file, when one is set.
func (m *HotReloadManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.watcher != nil {
		return errors.New("hot reload manager already running")
	}
	if m.configPath == "" {
		return nil
	}

	watcher, err := NewFileWatcher([]string{m.configPath},
		WithWatcherLogger(m.logger),
		WithDebounceDelay(200*time.Millisecond),
		WithPollInterval(m.pollInterval),
	)
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	watcher.OnChange(m.handleFileChange)
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	m.watcher = watcher
	return nil
}

// Stop stops watching.
func (m *HotReloadManager) Stop() error {
	m.mu.Lock()
	w := m.watcher
	m.watcher = nil
	m.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Stop()
}

func (m *HotReloadManager) handleFileChange(event FileEvent) {
	if event.Op == FileOpRemove {
		m.logger.Warn("config file removed, keeping current config", zap.String("path", event.Path))
		return
	}
	if err := m.ReloadFromFile(); err != nil {
		m.logger.Error("failed to reload configuration", zap.Error(err))
	}
}

// ReloadFromFile reloads and applies the config file.
func (m *HotReloadManager) ReloadFromFile() error {
	if m.configPath == "" {
		return errors.New("no config path set")
	}
	newConfig, err := NewLoader().WithConfigPath(m.configPath).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return m.ApplyConfig(newConfig, "file")
}

// ApplyConfig installs newConfig and runs the reload callbacks outside the
// lock. If a callback fails or panics the previous configuration is
// restored and the callbacks run again with it.
func (m *HotReloadManager) ApplyConfig(newConfig *Config, source string) error {
	m.mu.Lock()
	oldConfig := m.config
	changes := detectChanges(oldConfig, newConfig, source)
	if len(changes) == 0 {
		m.mu.Unlock()
		m.logger.Debug("configuration unchanged", zap.String("source", source))
		return nil
	}
	m.config = newConfig
	m.version++
	m.changeLog = append(m.changeLog, changes...)
	if over := len(m.changeLog) - m.maxChangeLog; over > 0 {
		m.changeLog = m.changeLog[over:]
	}
	callbacks := append([]ReloadCallback(nil), m.callbacks...)
	m.mu.Unlock()

	requiresRestart := false
	for _, c := range changes {
		requiresRestart = requiresRestart || c.RequiresRestart
		m.logger.Info("configuration changed",
			zap.String("path", c.Path),
			zap.String("source", c.Source),
			zap.Any("old_value", c.OldValue),
			zap.Any("new_value", c.NewValue),
			zap.Bool("requires_restart", c.RequiresRestart))
	}

	if err := notify(callbacks, oldConfig, newConfig); err != nil {
		m.mu.Lock()
		if m.config == newConfig {
			m.config = oldConfig
			m.version++
		}
		m.mu.Unlock()
		m.logger.Error("reload callback failed, rolled back", zap.Error(err))
		if rerr := notify(callbacks, newConfig, oldConfig); rerr != nil {
			m.logger.Error("reload callback failed during rollback", zap.Error(rerr))
		}
		return fmt.Errorf("config rolled back: %w", err)
	}

	if requiresRestart {
		m.logger.Warn("some configuration changes require a restart to take effect")
	}
	m.logger.Info("configuration reloaded", zap.Int("changes", len(changes)))
	return nil
}

func notify(callbacks []ReloadCallback, oldConfig, newConfig *Config) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reload callback panicked: %v", r)
		}
	}()
	for _, cb := range callbacks {
		if err := cb(oldConfig, newConfig); err != nil {
			return err
		}
	}
	return nil
}

// detectChanges diffs two configurations field by field.
func detectChanges(oldConfig, newConfig *Config, source string) []ConfigChange {
	var changes []ConfigChange
	now := time.Now()
	compareStructs("", reflect.ValueOf(oldConfig).Elem(), reflect.ValueOf(newConfig).Elem(), func(path string, o, n any) {
		changes = append(changes, ConfigChange{
			Timestamp:       now,
			Source:          source,
			Path:            path,
			OldValue:        o,
			NewValue:        n,
			RequiresRestart: !IsHotReloadable(path),
		})
	})
	return changes
}

func compareStructs(prefix string, oldVal, newVal reflect.Value, report func(path string, o, n any)) {
	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		path := field.Name
		if prefix != "" {
			path = prefix + "." + field.Name
		}
		o, n := oldVal.Field(i), newVal.Field(i)
		if o.Kind() == reflect.Struct {
			compareStructs(path, o, n, report)
			continue
		}
		if !reflect.DeepEqual(o.Interface(), n.Interface()) {
			report(path, o.Interface(), n.Interface())
		}
	}
}

// OnReload registers a callback run after every applied reload.
func (m *HotReloadManager) OnReload(callback ReloadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// GetConfig returns the running configuration.
func (m *HotReloadManager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetCurrentVersion returns the configuration version, starting at 1.
func (m *HotReloadManager) GetCurrentVersion() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// GetChangeLog returns up to limit most recent changes; limit <= 0 returns all.
func (m *HotReloadManager) GetChangeLog(limit int) []ConfigChange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	log := m.changeLog
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	return append([]ConfigChange(nil), log...)
}
