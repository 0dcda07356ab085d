// Package bootstrap wires configuration, the dispatch system and the gate
// into a runnable application with ordered startup and shutdown.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/najoast/sndispatch/config"
	"github.com/najoast/sndispatch/core"
)

// Service represents a component that can be managed by the lifecycle manager
type Service interface {
	// Start starts the service
	Start(ctx context.Context) error

	// Stop stops the service
	Stop(ctx context.Context) error

	// Health returns the health status of the service
	Health(ctx context.Context) (HealthStatus, error)

	// Name returns the service name
	Name() string
}

// HealthStatus represents the health status of a service
type HealthStatus struct {
	// State indicates whether the service is healthy
	State HealthState `json:"state"`

	// Message provides additional information about the health status
	Message string `json:"message,omitempty"`

	// LastCheck is the timestamp of the last health check
	LastCheck time.Time `json:"last_check,omitempty"`

	// Data contains additional health information
	Data map[string]interface{} `json:"data,omitempty"`
}

// HealthState represents the health state of a service
type HealthState string

const (
	// HealthUnknown indicates the health status is unknown
	HealthUnknown HealthState = "unknown"

	// HealthHealthy indicates the service is healthy and operational
	HealthHealthy HealthState = "healthy"

	// HealthUnhealthy indicates the service is unhealthy but may recover
	HealthUnhealthy HealthState = "unhealthy"

	// HealthStopped indicates the service has stopped
	HealthStopped HealthState = "stopped"
)

// LifecycleManager starts services in dependency order and stops them in
// reverse.
type LifecycleManager interface {
	// Register registers a service with optional dependencies
	Register(service Service, deps ...string) error

	// Start starts all services in dependency order
	Start(ctx context.Context) error

	// Stop stops all started services in reverse order
	Stop(ctx context.Context) error

	// Health returns the health status of all services
	Health(ctx context.Context) map[string]HealthStatus

	// Services returns all registered service names
	Services() []string

	// AddListener adds a lifecycle event listener
	AddListener(listener func(LifecycleEvent))
}

// Application is a configured runtime ready to run.
type Application interface {
	// Configure builds the system from cfg. It may be called once.
	Configure(cfg *config.Config) error

	// Run starts every service and blocks until ctx ends or a signal arrives
	Run(ctx context.Context) error

	// Shutdown stops every service
	Shutdown(ctx context.Context) error

	// System returns the dispatch system, nil before Configure
	System() *core.System

	// LifecycleManager returns the lifecycle manager
	LifecycleManager() LifecycleManager
}

// EventType names a lifecycle transition.
type EventType string

const (
	EventRegistered   EventType = "service.registered"
	EventStarting     EventType = "service.starting"
	EventStarted      EventType = "service.started"
	EventStartFailed  EventType = "service.start_failed"
	EventStopping     EventType = "service.stopping"
	EventStopped      EventType = "service.stopped"
	EventStopFailed   EventType = "service.stop_failed"
	EventConfigReload EventType = "config.reloaded"
)

// LifecycleEvent represents an event in the service lifecycle
type LifecycleEvent struct {
	Type      EventType `json:"type"`
	Service   string    `json:"service,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Error     error     `json:"error,omitempty"`
}

// ApplicationError represents an error that occurred during application lifecycle
type ApplicationError struct {
	Operation string
	Service   string
	Err       error
}

func (e *ApplicationError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s failed for service %s: %v", e.Operation, e.Service, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}
