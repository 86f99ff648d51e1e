// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config holds all jn configuration.
type Config struct {
	Version int `yaml:"version"`

	Home      string          `yaml:"home"` // jn home, default ~/.jn
	Plugins   PluginsConfig   `yaml:"plugins"`
	Runner    RunnerConfig    `yaml:"runner"`
	Cache     CacheConfig     `yaml:"cache"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// PluginsConfig controls plugin discovery roots.
type PluginsConfig struct {
	BuiltinDir string `yaml:"builtin_dir"` // shipped plugin tree
	UserDir    string `yaml:"user_dir"`    // overrides builtins by name
}

// RunnerConfig controls how plugin scripts are launched.
type RunnerConfig struct {
	Command []string `yaml:"command"` // e.g. [uv, run, --script]
}

// CacheConfig controls the discovery metadata cache.
type CacheConfig struct {
	Path     string `yaml:"path"`      // JSON cache file
	RedisURL string `yaml:"redis_url"` // optional shared cache
}

// LogConfig controls diagnostic output.
type LogConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// TelemetryConfig for optional tracing.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	jnDir := filepath.Join(homeDir, ".jn")

	return &Config{
		Version: 1,
		Home:    jnDir,
		Plugins: PluginsConfig{
			BuiltinDir: filepath.Join(jnDir, "plugins"),
			UserDir:    filepath.Join(jnDir, "plugins", "user"),
		},
		Runner: RunnerConfig{
			Command: []string{"uv", "run", "--script"},
		},
		Cache: CacheConfig{
			Path: filepath.Join(jnDir, "cache", "plugins.json"),
		},
		Log: LogConfig{
			Level: "warn",
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
		},
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Start with defaults
	m.config = Default()

	// Load from paths in order (later overrides earlier)
	paths := m.getConfigPaths()
	for _, path := range paths {
		if err := m.loadFile(path); err != nil {
			// Ignore missing files, but surface errors for existing files
			if !os.IsNotExist(err) {
				return fmt.Errorf("config %s: %w", path, err)
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	// Override with environment variables
	m.loadEnv()

	return nil
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	// System config
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/jn/config.yaml")
	}

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".jn", "config.yaml"))
	}

	// Project config (current directory)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".jn.yaml"))
	}

	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return err
	}

	// Merge non-zero values
	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config.
func (m *Manager) merge(src *Config) {
	if src.Home != "" {
		m.config.Home = src.Home
	}

	// Plugins
	if src.Plugins.BuiltinDir != "" {
		m.config.Plugins.BuiltinDir = src.Plugins.BuiltinDir
	}
	if src.Plugins.UserDir != "" {
		m.config.Plugins.UserDir = src.Plugins.UserDir
	}

	// Runner
	if len(src.Runner.Command) > 0 {
		m.config.Runner.Command = src.Runner.Command
	}

	// Cache
	if src.Cache.Path != "" {
		m.config.Cache.Path = src.Cache.Path
	}
	if src.Cache.RedisURL != "" {
		m.config.Cache.RedisURL = src.Cache.RedisURL
	}

	// Log
	if src.Log.Level != "" {
		m.config.Log.Level = src.Log.Level
	}

	// Telemetry
	if src.Telemetry.Enabled {
		m.config.Telemetry.Enabled = true
	}
	if src.Telemetry.Endpoint != "" {
		m.config.Telemetry.Endpoint = src.Telemetry.Endpoint
	}
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() {
	// JN_HOME
	if v := os.Getenv("JN_HOME"); v != "" {
		m.config.Home = v
		m.config.Plugins.BuiltinDir = filepath.Join(v, "plugins")
		m.config.Plugins.UserDir = filepath.Join(v, "plugins", "user")
		m.config.Cache.Path = filepath.Join(v, "cache", "plugins.json")
	}

	// JN_PLUGIN_DIR
	if v := os.Getenv("JN_PLUGIN_DIR"); v != "" {
		m.config.Plugins.UserDir = v
	}

	// JN_CACHE_REDIS
	if v := os.Getenv("JN_CACHE_REDIS"); v != "" {
		m.config.Cache.RedisURL = v
	}

	// JN_LOG_LEVEL
	if v := os.Getenv("JN_LOG_LEVEL"); v != "" {
		m.config.Log.Level = v
	}

	// JN_TELEMETRY_ENDPOINT
	if v := os.Getenv("JN_TELEMETRY_ENDPOINT"); v != "" {
		m.config.Telemetry.Enabled = true
		m.config.Telemetry.Endpoint = v
	}
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to the user config file.
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := os.MkdirAll(m.config.Home, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(m.config.Home, "config.yaml"), data, 0644)
}

// Global instance
var (
	globalManager *Manager
	globalOnce    sync.Once
)

// Global returns the global configuration manager.
func Global() *Manager {
	globalOnce.Do(func() {
		globalManager = NewManager()
		globalManager.Load()
	})
	return globalManager
}
