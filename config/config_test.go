package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tliron/commonlog"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}
	return path
}

// TestDefaultConfig tests that the defaults validate on their own
func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	if err := config.Validate(); err != nil {
		t.Fatalf("Default config validation failed: %v", err)
	}
	if config.Runtime.Workers <= 0 {
		t.Errorf("Expected positive worker count, got %d", config.Runtime.Workers)
	}
	if config.Gate.Enabled {
		t.Error("Gate should be disabled by default")
	}
}

// TestConfigValidation tests configuration validation
func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{"valid config", func(c *Config) {}, nil},
		{"invalid app name", func(c *Config) { c.App.Name = "" }, ErrInvalidAppName},
		{"invalid environment", func(c *Config) { c.App.Environment = "moon" }, ErrInvalidEnvironment},
		{"invalid log level", func(c *Config) { c.Log.Level = "loud" }, ErrInvalidLogLevel},
		{"zero workers", func(c *Config) { c.Runtime.Workers = 0 }, ErrInvalidWorkers},
		{"zero batch", func(c *Config) { c.Runtime.Batch = 0 }, ErrInvalidBatch},
		{"negative call timeout", func(c *Config) { c.Runtime.CallTimeout = -time.Second }, ErrInvalidTimeout},
		{"invalid gate port", func(c *Config) {
			c.Gate.Enabled = true
			c.Gate.Port = 70000
		}, ErrInvalidPort},
		{"disabled gate is not checked", func(c *Config) { c.Gate.Port = -1 }, nil},
		{"zero max frame", func(c *Config) {
			c.Gate.Enabled = true
			c.Gate.MaxFrame = 0
		}, ErrInvalidMaxFrame},
		{"service without module", func(c *Config) {
			c.Services = []ServiceConfig{{Name: "x"}}
		}, ErrInvalidService},
		{"duplicate service", func(c *Config) {
			c.Services = []ServiceConfig{{Module: "echo", Name: "a"}, {Module: "kv", Name: "a"}}
		}, ErrDuplicateService},
		{"anonymous services may repeat", func(c *Config) {
			c.Services = []ServiceConfig{{Module: "echo"}, {Module: "echo"}}
		}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr == nil && err != nil {
				t.Errorf("Config.Validate() unexpected error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Config.Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestLoader tests configuration loading
func TestLoader(t *testing.T) {
	yamlFile := writeConfig(t, "test-config.yaml", `
app:
  name: test-app
  version: "1.0.0"
  environment: development

log:
  level: debug

runtime:
  workers: 3
  call_timeout: 2s

gate:
  enabled: true
  address: "127.0.0.1"
  port: 9000

services:
  - module: echo
    name: echo
  - module: kv
    name: store
    args: ["echo"]
`)

	config, err := NewLoader().LoadFromFile(yamlFile)
	if err != nil {
		t.Fatalf("Failed to load YAML config: %v", err)
	}

	if config.App.Name != "test-app" {
		t.Errorf("Expected app name 'test-app', got '%s'", config.App.Name)
	}
	if config.Runtime.Workers != 3 {
		t.Errorf("Expected 3 workers, got %d", config.Runtime.Workers)
	}
	if config.Runtime.CallTimeout != 2*time.Second {
		t.Errorf("Expected call timeout 2s, got %v", config.Runtime.CallTimeout)
	}
	if config.Runtime.Batch != DefaultConfig().Runtime.Batch {
		t.Errorf("Expected default batch to survive, got %d", config.Runtime.Batch)
	}
	if config.Gate.ListenAddress() != "127.0.0.1:9000" {
		t.Errorf("Expected 127.0.0.1:9000, got %s", config.Gate.ListenAddress())
	}
	if config.Gate.MaxFrame != DefaultConfig().Gate.MaxFrame {
		t.Errorf("Expected default max frame, got %d", config.Gate.MaxFrame)
	}
	if len(config.Services) != 2 || config.Services[1].Name != "store" || config.Services[1].Args[0] != "echo" {
		t.Errorf("Unexpected services: %+v", config.Services)
	}
	if config.Log.Level.Level() != commonlog.Debug {
		t.Errorf("Expected debug level, got %v", config.Log.Level.Level())
	}
}

// TestLoaderJSON tests JSON configuration loading
func TestLoaderJSON(t *testing.T) {
	jsonFile := writeConfig(t, "test-config.json", `{
	"app": {
		"name": "json-test-app",
		"version": "2.0.0",
		"environment": "production"
	},
	"log": {
		"level": "warn"
	},
	"runtime": {
		"batch": 8
	}
}`)

	config, err := NewLoader().LoadFromFile(jsonFile)
	if err != nil {
		t.Fatalf("Failed to load JSON config: %v", err)
	}

	if config.App.Environment != EnvProduction {
		t.Errorf("Expected env production, got %v", config.App.Environment)
	}
	if config.Log.Level != LogLevelWarn {
		t.Errorf("Expected log level warn, got %v", config.Log.Level)
	}
	if config.Runtime.Batch != 8 {
		t.Errorf("Expected batch 8, got %d", config.Runtime.Batch)
	}
}

// TestLoaderErrors tests the error paths of the loader
func TestLoaderErrors(t *testing.T) {
	loader := NewLoader()

	if _, err := loader.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, ErrConfigFileNotFound) {
		t.Errorf("Expected ErrConfigFileNotFound, got %v", err)
	}
	if _, err := loader.LoadFromFile("config.toml"); err == nil {
		t.Error("Expected unsupported format error")
	}

	broken := writeConfig(t, "broken.yaml", "app: [unterminated")
	if _, err := loader.LoadFromFile(broken); !errors.Is(err, ErrConfigParseError) {
		t.Errorf("Expected ErrConfigParseError, got %v", err)
	}

	invalid := writeConfig(t, "invalid.yaml", "runtime:\n  workers: -1\n")
	_, err := loader.LoadFromFile(invalid)
	if !errors.Is(err, ErrConfigValidateError) || !errors.Is(err, ErrInvalidWorkers) {
		t.Errorf("Expected validation error for workers, got %v", err)
	}
}

// TestEnvironmentOverrides tests environment variable overrides
func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SNGO_APP_NAME", "env-test-app")
	t.Setenv("SNGO_GATE_PORT", "7777")
	t.Setenv("SNGO_LOG_LEVEL", "ERROR")
	t.Setenv("SNGO_RUNTIME_CALL_TIMEOUT", "750ms")

	yamlFile := writeConfig(t, "env-test-config.yaml", `
app:
  name: base-app
gate:
  port: 8080
`)

	config, err := NewLoader().LoadFromFile(yamlFile)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.App.Name != "env-test-app" {
		t.Errorf("Expected app name 'env-test-app', got '%s'", config.App.Name)
	}
	if config.Gate.Port != 7777 {
		t.Errorf("Expected port 7777, got %d", config.Gate.Port)
	}
	if config.Log.Level != LogLevelError {
		t.Errorf("Expected log level error, got %v", config.Log.Level)
	}
	if config.Runtime.CallTimeout != 750*time.Millisecond {
		t.Errorf("Expected 750ms, got %v", config.Runtime.CallTimeout)
	}

	t.Setenv("SNGO_RUNTIME_WORKERS", "many")
	if _, err := NewLoader().LoadFromFile(yamlFile); !errors.Is(err, ErrEnvironmentVarError) {
		t.Errorf("Expected ErrEnvironmentVarError, got %v", err)
	}
}

// TestAutoLoad tests automatic configuration discovery
func TestAutoLoad(t *testing.T) {
	dir := t.TempDir()
	content := "app:\n  name: auto-load-app\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create config file: %v", err)
	}

	config, err := NewLoader().SetSearchPaths([]string{dir}).AutoLoad()
	if err != nil {
		t.Fatalf("Failed to auto-load config: %v", err)
	}
	if config.App.Name != "auto-load-app" {
		t.Errorf("Expected app name 'auto-load-app', got '%s'", config.App.Name)
	}

	config, err = NewLoader().SetSearchPaths([]string{t.TempDir()}).AutoLoad()
	if err != nil {
		t.Fatalf("AutoLoad without a file should fall back to defaults: %v", err)
	}
	if config.App.Name != DefaultConfig().App.Name {
		t.Errorf("Expected default app name, got '%s'", config.App.Name)
	}
}

// TestWatcher tests configuration file watching
func TestWatcher(t *testing.T) {
	initialContent := `
app:
  name: watch-test-app
log:
  level: info
`
	configFile := writeConfig(t, "watch-test-config.yaml", initialContent)

	watcher, err := NewWatcher(configFile, NewLoader())
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}
	defer watcher.Stop()
	watcher.SetDebounce(20 * time.Millisecond)

	if watcher.GetConfig().Log.Level != LogLevelInfo {
		t.Errorf("Expected initial level info, got %s", watcher.GetConfig().Log.Level)
	}

	changeDetected := make(chan LogLevel, 1)
	watcher.OnConfigChange(func(oldConfig, newConfig *Config) {
		if oldConfig.Log.Level != newConfig.Log.Level {
			select {
			case changeDetected <- newConfig.Log.Level:
			default:
			}
		}
	})

	if err := watcher.Start(); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	updatedContent := strings.Replace(initialContent, "level: info", "level: debug", 1)
	if err := os.WriteFile(configFile, []byte(updatedContent), 0644); err != nil {
		t.Fatalf("Failed to update config file: %v", err)
	}

	select {
	case level := <-changeDetected:
		if level != LogLevelDebug {
			t.Errorf("Expected debug, got %s", level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Configuration change was not detected within timeout")
	}
	if watcher.GetConfig().Log.Level != LogLevelDebug {
		t.Errorf("Expected reloaded level debug, got %s", watcher.GetConfig().Log.Level)
	}

	// An invalid edit keeps the last good configuration.
	if err := os.WriteFile(configFile, []byte("runtime:\n  workers: 0\n"), 0644); err != nil {
		t.Fatalf("Failed to update config file: %v", err)
	}
	if err := watcher.Reload(); err == nil {
		t.Error("Reload of an invalid file should fail")
	}
	if watcher.GetConfig().Log.Level != LogLevelDebug {
		t.Errorf("Invalid reload replaced the configuration")
	}
}
