package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Version != 1 {
		t.Errorf("Version = %d", cfg.Version)
	}
	if len(cfg.Runner.Command) == 0 || cfg.Runner.Command[0] != "uv" {
		t.Errorf("Runner.Command = %v", cfg.Runner.Command)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.Telemetry.Enabled {
		t.Error("telemetry enabled by default")
	}
	if filepath.Base(cfg.Cache.Path) != "plugins.json" {
		t.Errorf("Cache.Path = %q", cfg.Cache.Path)
	}
}

func TestLoad_UserConfigMerges(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	jnDir := filepath.Join(home, ".jn")
	if err := os.MkdirAll(jnDir, 0755); err != nil {
		t.Fatal(err)
	}
	content := "log:\n  level: debug\nrunner:\n  command: [python3]\n"
	if err := os.WriteFile(filepath.Join(jnDir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewManager()
	if err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	cfg := m.Get()

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if len(cfg.Runner.Command) != 1 || cfg.Runner.Command[0] != "python3" {
		t.Errorf("Runner.Command = %v", cfg.Runner.Command)
	}
	// Untouched fields keep defaults
	if cfg.Version != 1 {
		t.Errorf("Version = %d", cfg.Version)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	jnDir := filepath.Join(home, ".jn")
	if err := os.MkdirAll(jnDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(jnDir, "config.yaml"), []byte("log:\n  level: info\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("JN_LOG_LEVEL", "debug")

	m := NewManager()
	if err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if m.Get().Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want env override", m.Get().Log.Level)
	}
}

func TestLoad_JNHomeRelocatesLayout(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	custom := t.TempDir()
	t.Setenv("JN_HOME", custom)

	m := NewManager()
	if err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	cfg := m.Get()

	if cfg.Home != custom {
		t.Errorf("Home = %q", cfg.Home)
	}
	if cfg.Plugins.BuiltinDir != filepath.Join(custom, "plugins") {
		t.Errorf("BuiltinDir = %q", cfg.Plugins.BuiltinDir)
	}
	if cfg.Cache.Path != filepath.Join(custom, "cache", "plugins.json") {
		t.Errorf("Cache.Path = %q", cfg.Cache.Path)
	}
}

func TestLoad_MalformedFileFails(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	jnDir := filepath.Join(home, ".jn")
	if err := os.MkdirAll(jnDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(jnDir, "config.yaml"), []byte(":\tnot yaml"), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewManager()
	if err := m.Load(); err == nil {
		t.Error("expected error for malformed config")
	}
}

func TestLoad_MissingFilesIgnored(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	m := NewManager()
	if err := m.Load(); err != nil {
		t.Errorf("Load with no config files: %v", err)
	}
}
