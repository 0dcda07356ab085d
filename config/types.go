// Package config provides configuration management for SNGO framework
package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/tliron/commonlog"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelNone  LogLevel = "none"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelNone:
		return true
	default:
		return false
	}
}

// Level maps l to the commonlog level it enables.
func (l LogLevel) Level() commonlog.Level {
	switch l {
	case LogLevelDebug:
		return commonlog.Debug
	case LogLevelWarn:
		return commonlog.Warning
	case LogLevelError:
		return commonlog.Error
	case LogLevelNone:
		return commonlog.None
	default:
		return commonlog.Info
	}
}

// Config represents the complete SNGO configuration
type Config struct {
	// Application configuration
	App AppConfig `yaml:"app" json:"app"`

	// Logging configuration
	Log LogConfig `yaml:"log" json:"log"`

	// Dispatch runtime configuration
	Runtime RuntimeConfig `yaml:"runtime" json:"runtime"`

	// TCP gate configuration
	Gate GateConfig `yaml:"gate" json:"gate"`

	// Services launched at boot, in order
	Services []ServiceConfig `yaml:"services,omitempty" json:"services,omitempty"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	// Application name
	Name string `yaml:"name" json:"name"`

	// Application version
	Version string `yaml:"version" json:"version"`

	// Deployment environment
	Environment Environment `yaml:"environment" json:"environment"`

	// Application description
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Log level
	Level LogLevel `yaml:"level" json:"level"`

	// Output file path; empty or "stderr" logs to standard error
	Output string `yaml:"output" json:"output"`
}

// RuntimeConfig sizes the worker pool and timers of the core system.
type RuntimeConfig struct {
	// Worker goroutines draining the run queue
	Workers int `yaml:"workers" json:"workers"`

	// Messages taken from one mailbox per pass
	Batch int `yaml:"batch" json:"batch"`

	// Default timeout for calls entering through the gate
	CallTimeout time.Duration `yaml:"call_timeout" json:"call_timeout"`

	// Shortest sleep of the timer goroutine
	TimerResolution time.Duration `yaml:"timer_resolution" json:"timer_resolution"`

	// Time allowed for a graceful shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// GateConfig contains the TCP gate settings
type GateConfig struct {
	// Enable the gate
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Listening address
	Address string `yaml:"address" json:"address"`

	// Listening port; 0 picks a free port
	Port int `yaml:"port" json:"port"`

	// Largest accepted frame in bytes
	MaxFrame int `yaml:"max_frame" json:"max_frame"`

	// Maximum concurrent connections; 0 means unlimited
	MaxConnections int `yaml:"max_connections" json:"max_connections"`

	// Read timeout; an idle connection is closed after it
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// Write timeout
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// ListenAddress returns the host:port the gate binds.
func (g GateConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", g.Address, g.Port)
}

// ServiceConfig names one module instance to launch at boot.
type ServiceConfig struct {
	// Registered module name
	Module string `yaml:"module" json:"module"`

	// Service name; empty registers an anonymous service
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Arguments passed to the module's Init
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "sngo-app",
			Version:     "1.0.0",
			Environment: EnvDevelopment,
			Description: "SNGO application",
		},
		Log: LogConfig{
			Level: LogLevelInfo,
		},
		Runtime: RuntimeConfig{
			Workers:         runtime.NumCPU(),
			Batch:           16,
			CallTimeout:     30 * time.Second,
			TimerResolution: time.Millisecond,
			ShutdownTimeout: 30 * time.Second,
		},
		Gate: GateConfig{
			Enabled:        false,
			Address:        "0.0.0.0",
			Port:           8888,
			MaxFrame:       1 << 20,
			MaxConnections: 1000,
			ReadTimeout:    5 * time.Minute,
			WriteTimeout:   30 * time.Second,
		},
	}
}

// Clone returns a copy that shares no slices with c.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Services != nil {
		clone.Services = make([]ServiceConfig, len(c.Services))
		for i, svc := range c.Services {
			svc.Args = append([]string(nil), svc.Args...)
			clone.Services[i] = svc
		}
	}
	return &clone
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate app config
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return ErrInvalidEnvironment
	}

	// Validate log config
	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel
	}

	// Validate runtime config
	if c.Runtime.Workers <= 0 {
		return ErrInvalidWorkers
	}
	if c.Runtime.Batch <= 0 {
		return ErrInvalidBatch
	}
	if c.Runtime.CallTimeout < 0 || c.Runtime.TimerResolution < 0 || c.Runtime.ShutdownTimeout < 0 {
		return ErrInvalidTimeout
	}

	// Validate gate config
	if c.Gate.Enabled {
		if c.Gate.Port < 0 || c.Gate.Port > 65535 {
			return ErrInvalidPort
		}
		if c.Gate.MaxConnections < 0 {
			return ErrInvalidMaxConnections
		}
		if c.Gate.MaxFrame <= 0 {
			return ErrInvalidMaxFrame
		}
		if c.Gate.ReadTimeout < 0 || c.Gate.WriteTimeout < 0 {
			return ErrInvalidTimeout
		}
	}

	// Validate boot services
	names := make(map[string]bool, len(c.Services))
	for i, svc := range c.Services {
		if svc.Module == "" {
			return fmt.Errorf("%w: entry %d has no module", ErrInvalidService, i)
		}
		if svc.Name == "" {
			continue
		}
		if names[svc.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateService, svc.Name)
		}
		names[svc.Name] = true
	}

	return nil
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}
