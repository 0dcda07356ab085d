package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tliron/commonlog"

	"github.com/najoast/sndispatch/config"
	"github.com/najoast/sndispatch/core"
	"github.com/najoast/sndispatch/gate"
)

// DefaultApplication implements the Application interface
type DefaultApplication struct {
	mutex sync.RWMutex

	config           *config.Config
	modules          *core.ModuleRegistry
	system           *core.System
	gate             *gate.Server
	lifecycleManager *DefaultLifecycleManager

	running      bool
	shutdownChan chan os.Signal
}

var _ Application = (*DefaultApplication)(nil)

// NewApplication creates an application whose boot services are resolved
// in modules.
func NewApplication(modules *core.ModuleRegistry) *DefaultApplication {
	if modules == nil {
		modules = core.NewModuleRegistry()
	}
	return &DefaultApplication{
		modules:          modules,
		lifecycleManager: NewLifecycleManager(),
		shutdownChan:     make(chan os.Signal, 1),
	}
}

// Configure builds the system and, if enabled, the gate from cfg.
func (app *DefaultApplication) Configure(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}
	if err := cfg.Validate(); err != nil {
		return &ApplicationError{Operation: "configure", Err: err}
	}

	app.mutex.Lock()
	defer app.mutex.Unlock()

	if app.running {
		return fmt.Errorf("cannot configure application while running")
	}
	if app.system != nil {
		return fmt.Errorf("application is already configured")
	}

	ConfigureLogging(cfg.Log)

	app.config = cfg
	app.system = core.New(core.Options{
		Workers:         cfg.Runtime.Workers,
		Batch:           cfg.Runtime.Batch,
		TimerResolution: cfg.Runtime.TimerResolution,
		Modules:         app.modules,
	})
	app.lifecycleManager.SetTimeout(cfg.Runtime.ShutdownTimeout)

	if err := app.lifecycleManager.Register(&SystemService{system: app.system, boot: cfg.Services}); err != nil {
		return err
	}

	if cfg.Gate.Enabled {
		app.gate = gate.NewServer(app.system, gate.Options{
			Address:        cfg.Gate.ListenAddress(),
			MaxFrame:       cfg.Gate.MaxFrame,
			MaxConnections: cfg.Gate.MaxConnections,
			ReadTimeout:    cfg.Gate.ReadTimeout,
			WriteTimeout:   cfg.Gate.WriteTimeout,
			CallTimeout:    cfg.Runtime.CallTimeout,
		})
		if err := app.lifecycleManager.Register(&GateService{server: app.gate}, systemServiceName); err != nil {
			return err
		}
	}

	log.Infof("configured %s %s (%s)", cfg.App.Name, cfg.App.Version, cfg.App.Environment)
	return nil
}

// Watch reloads the log settings whenever the configuration file at path
// changes. Runtime and gate settings take effect on the next start only.
func (app *DefaultApplication) Watch(path string, loader *config.Loader) error {
	watcher, err := config.NewWatcher(path, loader)
	if err != nil {
		return err
	}
	watcher.OnConfigChange(func(oldConfig, newConfig *config.Config) {
		if oldConfig.Log != newConfig.Log {
			ConfigureLogging(newConfig.Log)
			log.Infof("log level set to %s", newConfig.Log.Level)
		}
		if oldConfig.Runtime != newConfig.Runtime || oldConfig.Gate != newConfig.Gate {
			log.Warning("runtime or gate settings changed; restart to apply")
		}
	})
	return app.lifecycleManager.Register(&WatcherService{watcher: watcher}, systemServiceName)
}

// Run starts every service and blocks until ctx is done or the process
// receives SIGINT or SIGTERM, then shuts down.
func (app *DefaultApplication) Run(ctx context.Context) error {
	app.mutex.Lock()
	if app.system == nil {
		app.mutex.Unlock()
		return fmt.Errorf("application is not configured")
	}
	if app.running {
		app.mutex.Unlock()
		return fmt.Errorf("application is already running")
	}
	app.running = true
	app.mutex.Unlock()

	signal.Notify(app.shutdownChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(app.shutdownChan)

	if err := app.lifecycleManager.Start(ctx); err != nil {
		app.mutex.Lock()
		app.running = false
		app.mutex.Unlock()
		return err
	}

	select {
	case sig := <-app.shutdownChan:
		log.Noticef("received %s, shutting down", sig)
	case <-ctx.Done():
		log.Notice("context cancelled, shutting down")
	}

	return app.Shutdown(context.Background())
}

// Shutdown stops every service within the configured shutdown timeout.
func (app *DefaultApplication) Shutdown(ctx context.Context) error {
	app.mutex.Lock()
	if !app.running {
		app.mutex.Unlock()
		return nil
	}
	app.running = false
	timeout := app.config.Runtime.ShutdownTimeout
	app.mutex.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return app.lifecycleManager.Stop(ctx)
}

// System returns the dispatch system, nil before Configure.
func (app *DefaultApplication) System() *core.System {
	app.mutex.RLock()
	defer app.mutex.RUnlock()
	return app.system
}

// Gate returns the gate server, nil when disabled.
func (app *DefaultApplication) Gate() *gate.Server {
	app.mutex.RLock()
	defer app.mutex.RUnlock()
	return app.gate
}

// LifecycleManager returns the lifecycle manager
func (app *DefaultApplication) LifecycleManager() LifecycleManager {
	return app.lifecycleManager
}

// ConfigureLogging applies cfg to the commonlog backend. An empty Output
// or "stderr" logs to standard error.
func ConfigureLogging(cfg config.LogConfig) {
	var path *string
	if cfg.Output != "" && cfg.Output != "stderr" {
		output := cfg.Output
		path = &output
	}
	commonlog.Configure(0, path)
	commonlog.SetMaxLevel(cfg.Level.Level())
}

const (
	systemServiceName = "system"
	gateServiceName   = "gate"
	watcherName       = "config-watcher"
)

// SystemService runs the dispatch system and launches the boot services.
type SystemService struct {
	system *core.System
	boot   []config.ServiceConfig
}

func (s *SystemService) Name() string {
	return systemServiceName
}

// Start starts the workers, then launches each boot service in order. A
// failed launch shuts the system down again. The system outlives ctx,
// which only bounds startup.
func (s *SystemService) Start(ctx context.Context) error {
	if err := s.system.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	for _, svc := range s.boot {
		if _, err := s.system.Launch(svc.Module, svc.Name, svc.Args); err != nil {
			s.system.Shutdown(ctx)
			return fmt.Errorf("launch %s: %w", svc.Module, err)
		}
	}
	return nil
}

func (s *SystemService) Stop(ctx context.Context) error {
	return s.system.Shutdown(ctx)
}

func (s *SystemService) Health(ctx context.Context) (HealthStatus, error) {
	if !s.system.Running() {
		return HealthStatus{State: HealthStopped, Message: "system not running"}, nil
	}

	var failures uint64
	for _, st := range s.system.Stats() {
		failures += st.Failures
	}
	return HealthStatus{
		State:   HealthHealthy,
		Message: "system running",
		Data: map[string]interface{}{
			"services":       len(s.system.Services()),
			"pending_timers": s.system.PendingTimers(),
			"failures":       failures,
		},
	}, nil
}

// GateService runs the TCP gate.
type GateService struct {
	server *gate.Server
}

func (s *GateService) Name() string {
	return gateServiceName
}

func (s *GateService) Start(ctx context.Context) error {
	return s.server.Start()
}

func (s *GateService) Stop(ctx context.Context) error {
	return s.server.Stop()
}

func (s *GateService) Health(ctx context.Context) (HealthStatus, error) {
	stats := s.server.Stats()
	if !stats.Running {
		return HealthStatus{State: HealthStopped, Message: "gate not running"}, nil
	}
	return HealthStatus{
		State:   HealthHealthy,
		Message: "gate listening on " + stats.Address,
		Data: map[string]interface{}{
			"connections": stats.CurrentConnections,
			"rejected":    stats.Rejected,
			"uptime":      stats.Uptime.Round(time.Second).String(),
		},
	}, nil
}

// WatcherService runs the configuration file watcher.
type WatcherService struct {
	watcher *config.Watcher
}

func (s *WatcherService) Name() string {
	return watcherName
}

func (s *WatcherService) Start(ctx context.Context) error {
	return s.watcher.Start()
}

func (s *WatcherService) Stop(ctx context.Context) error {
	return s.watcher.Stop()
}

func (s *WatcherService) Health(ctx context.Context) (HealthStatus, error) {
	cfg := s.watcher.GetConfig()
	return HealthStatus{
		State:   HealthHealthy,
		Message: "watching configuration",
		Data:    map[string]interface{}{"log_level": cfg.Log.Level.String()},
	}, nil
}
