package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Load loads the main configuration from file
// If the file doesn't exist, creates a default config file
func (m *Manager) Load() (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	config, err := m.readUnsafe()
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		config = DefaultConfig()
		if saveErr := m.saveUnsafe(config); saveErr != nil {
			return nil, fmt.Errorf("failed to create default config: %w", saveErr)
		}
		return config.Clone(), nil
	}

	m.config = config
	return config.Clone(), nil
}

// Reload re-reads the configuration file and notifies subscribers of every
// section that differs from the loaded configuration. It returns the changed
// section keys.
func (m *Manager) Reload() ([]string, error) {
	m.mu.Lock()
	config, err := m.readUnsafe()
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	previous := m.config
	m.config = config
	m.mu.Unlock()

	changed := diffSections(previous, config)
	m.notify(changed)
	return changed, nil
}

// readUnsafe reads, parses and validates the file (caller holds m.mu)
func (m *Manager) readUnsafe() (*Config, error) {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Start from defaults so sections missing in the file keep sane values
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// saveUnsafe saves config without locking (internal use)
func (m *Manager) saveUnsafe(config *Config) error {
	// Validate before saving
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Ensure directory exists
	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Marshal to YAML
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write config to temp file first (atomic write)
	tempPath := m.configPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tempPath, m.configPath); err != nil {
		os.Remove(tempPath) // Clean up temp file
		return fmt.Errorf("failed to rename config file: %w", err)
	}

	m.config = config.Clone()
	return nil
}

// Save saves the configuration to file and notifies subscribers of the
// sections that changed
func (m *Manager) Save(config *Config) error {
	m.mu.Lock()
	previous := m.config
	if err := m.saveUnsafe(config); err != nil {
		m.mu.Unlock()
		return err
	}
	current := m.config
	m.mu.Unlock()

	m.notify(diffSections(previous, current))
	return nil
}

// Update applies fn to a copy of the current configuration and saves the result
func (m *Manager) Update(fn func(*Config)) error {
	config := m.Get()
	fn(config)
	return m.Save(config)
}

// Get returns a copy of the currently loaded configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return DefaultConfig()
	}

	// Return a copy to prevent concurrent modification
	return m.config.Clone()
}

// GetNetwork returns a copy of the network section
func (m *Manager) GetNetwork() NetworkConfig {
	return m.Get().Network
}

// Subscribe registers handler for changes of the given section key. An empty
// key subscribes to every section. Handlers run synchronously on the goroutine
// that detected the change. The returned function removes the subscription.
func (m *Manager) Subscribe(key string, handler func(key string)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	if m.subscribers == nil {
		m.subscribers = make(map[uint64]subscriber)
	}
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = subscriber{key: key, handler: handler}

	return func() {
		m.subMu.Lock()
		delete(m.subscribers, id)
		m.subMu.Unlock()
	}
}

func (m *Manager) notify(changed []string) {
	if len(changed) == 0 {
		return
	}

	m.subMu.Lock()
	handlers := make([]subscriber, 0, len(m.subscribers))
	for _, s := range m.subscribers {
		handlers = append(handlers, s)
	}
	m.subMu.Unlock()

	for _, key := range changed {
		for _, s := range handlers {
			if s.key == "" || s.key == key {
				s.handler(key)
			}
		}
	}
}

// diffSections returns the keys of the sections that differ between a and b.
// A nil previous configuration counts as everything changed.
func diffSections(a, b *Config) []string {
	if b == nil {
		return nil
	}
	if a == nil {
		return []string{SectionServer, SectionNetwork, SectionLog, SectionStorage}
	}

	var changed []string
	if !reflect.DeepEqual(a.Server, b.Server) {
		changed = append(changed, SectionServer)
	}
	if !reflect.DeepEqual(a.Network, b.Network) {
		changed = append(changed, SectionNetwork)
	}
	if !reflect.DeepEqual(a.Log, b.Log) {
		changed = append(changed, SectionLog)
	}
	if !reflect.DeepEqual(a.Storage, b.Storage) {
		changed = append(changed, SectionStorage)
	}
	return changed
}

// Watch reloads the configuration whenever the file changes on disk until ctx
// is done. The directory is watched rather than the file so editors that
// replace the file are seen. Reload failures are passed to onError and the
// previous configuration stays in effect.
func (m *Manager) Watch(ctx context.Context, onError func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}

	dir := filepath.Dir(m.configPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}

	target := filepath.Clean(m.configPath)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if _, err := m.Reload(); err != nil && onError != nil {
					onError(err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(fmt.Errorf("config watcher: %w", err))
				}
			}
		}
	}()

	return nil
}
