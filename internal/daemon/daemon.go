package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/legatehq/legate/internal/config"
	"github.com/legatehq/legate/internal/logger"
	"github.com/legatehq/legate/internal/observability"
	"github.com/legatehq/legate/internal/tracing"
	"github.com/legatehq/legate/pkg/bridge"
	"github.com/legatehq/legate/pkg/gateway"
	"github.com/legatehq/legate/pkg/prompt"
)

// Version is the daemon version reported on the agent card and by the CLI.
const Version = "0.1.0"

// Daemon represents the Legate daemon service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	prompts       *prompt.Store
	promptWatcher *prompt.Watcher
	bridge        *bridge.Bridge

	// Services
	gatewayServer *gateway.Server
	heartbeat     *Heartbeat

	// Internal
	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()
	if err := tracing.InitOpenTelemetry("legate-daemon", cfg.Tracing.Backend); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	} else {
		log.Info().Msg("Tracing initialized successfully")
	}

	d := &Daemon{
		config:         cfg,
		logger:         log,
		ctx:            ctx,
		cancel:         cancel,
		tracingEnabled: true,
	}

	// Initialize core modules in dependency order
	if err := d.initializeCoreModules(); err != nil {
		cancel()
		if d.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
			d.tracingEnabled = false
		}
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	// Initialize services
	if err := d.initializeServices(); err != nil {
		cancel()
		if d.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
			d.tracingEnabled = false
		}
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// initializeCoreModules initializes all core modules
func (d *Daemon) initializeCoreModules() error {
	// Initialize audit logger
	auditPath := filepath.Join(d.config.DataDir, "audit.log")
	if err := observability.InitAuditLogger(auditPath); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
	} else {
		d.logger.Info().Str("path", auditPath).Msg("Audit logger initialized")
	}

	d.prompts = prompt.NewStore(d.config.Agent.PromptDir, d.logger.GetZerolog())
	d.logger.Info().
		Str("dir", d.config.Agent.PromptDir).
		Int("count", d.prompts.Count()).
		Msg("Prompt store initialized")

	promptWatcher, err := prompt.NewWatcher(prompt.WatcherConfig{
		Store:  d.prompts,
		Logger: d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create prompt watcher: %w", err)
	}
	d.promptWatcher = promptWatcher

	// The model override is read from the environment here, at the process
	// boundary. The bridge itself never touches environment variables.
	d.bridge = bridge.New(bridge.Config{
		Prompts:  d.prompts,
		Model:    d.config.Agent.Model,
		EnvModel: os.Getenv("LEGATE_MODEL"),
		Rich:     d.richBuilder(),
		Fallback: d.fallbackBuilder(),
		Logger:   d.logger.GetZerolog(),
	})
	d.logger.Info().
		Str("backend", d.bridge.Selection().String()).
		Str("model", d.bridge.Model()).
		Msg("Invocation bridge initialized")

	observability.RecordConfigAudit(d.ctx, "daemon.bootstrap", "daemon", map[string]interface{}{
		"data_dir": d.config.DataDir,
		"port":     d.config.Server.Port,
		"profiles": len(d.config.AI.Profiles),
		"backend":  d.bridge.Selection().String(),
		"model":    d.bridge.Model(),
	})

	return nil
}

// initializeServices initializes all services
func (d *Daemon) initializeServices() error {
	gatewayServer, err := gateway.NewServer(gateway.Config{
		Port:              d.config.Server.Port,
		SharedSecret:      d.config.Server.SharedSecret,
		Invoker:           d.bridge,
		Card:              d.buildAgentCard(),
		Backend:           d.bridge.Selection().String(),
		Model:             d.bridge.Model(),
		RequestsPerMinute: d.config.Server.RequestsPerMinute,
		MaxConcurrent:     d.config.Server.MaxConcurrent,
		Logger:            d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}
	d.gatewayServer = gatewayServer
	d.logger.Info().Int("port", d.config.Server.Port).Msg("Gateway server initialized")

	d.heartbeat = NewHeartbeat(HeartbeatConfig{
		Schedule: d.config.Server.HeartbeatSchedule,
		Sink:     d.gatewayServer,
		Bridge:   d.bridge,
		Logger:   d.logger.GetZerolog(),
	})
	d.logger.Info().Str("schedule", d.config.Server.HeartbeatSchedule).Msg("Heartbeat initialized")

	return nil
}

// buildAgentCard assembles the discovery card served by the gateway.
func (d *Daemon) buildAgentCard() gateway.AgentCard {
	return gateway.AgentCard{
		Name:        d.config.Agent.Name,
		Description: d.config.Agent.Description,
		URL:         fmt.Sprintf("http://%s:%d", d.config.Server.Host, d.config.Server.Port),
		Version:     Version,
		Capabilities: gateway.AgentCapabilities{
			Streaming: true,
		},
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
		Skills: []gateway.AgentSkill{
			{
				ID:          "general_conversation",
				Name:        "General conversation",
				Description: "Answers questions and carries general-purpose conversations",
				Tags:        []string{"chat"},
			},
		},
	}
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Starting Legate daemon")

	// Start lifecycle manager
	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	// Start prompt watcher; a missing prompt directory only disables
	// hot-reload, the store already loaded what it could.
	if err := d.promptWatcher.Start(); err != nil {
		logger.Warn().Err(err).Msg("Failed to start prompt watcher, prompt hot-reload disabled")
	} else {
		logger.Info().Msg("Prompt watcher started")
	}

	// Start gateway server
	if err := d.gatewayServer.Start(); err != nil {
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	logger.Info().Msg("Gateway server started")

	// Start heartbeat
	if err := d.heartbeat.Start(); err != nil {
		return fmt.Errorf("failed to start heartbeat: %w", err)
	}
	logger.Info().Msg("Heartbeat started")

	logger.Info().Msg("Daemon started successfully - all core modules active")

	return nil
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Stopping Legate daemon")

	// Stop heartbeat
	if d.heartbeat != nil {
		d.heartbeat.Stop()
	}

	// Stop gateway server
	if d.gatewayServer != nil {
		if err := d.gatewayServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop gateway server")
		}
	}

	// Stop prompt watcher
	if d.promptWatcher != nil {
		if err := d.promptWatcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop prompt watcher")
		}
	}

	// Cancel context
	d.cancel()

	// Stop lifecycle manager
	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	// Close audit logger
	if err := observability.GetAuditLogger().Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit logger")
	}

	logger.Info().Msg("Daemon stopped successfully")

	return nil
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
		Backend: d.bridge.Selection().String(),
		Model:   d.bridge.Model(),
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// Wait waits for the daemon to stop
func (d *Daemon) Wait() {
	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for signal
	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	// Stop daemon
	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// Status represents daemon status
type Status struct {
	Running   bool
	Backend   string
	Model     string
	Uptime    time.Duration
	StartTime time.Time
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetBridge returns the invocation bridge
func (d *Daemon) GetBridge() *bridge.Bridge {
	return d.bridge
}

// GetGatewayServer returns the gateway server
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gatewayServer
}

// GetPromptStore returns the prompt store
func (d *Daemon) GetPromptStore() *prompt.Store {
	return d.prompts
}
