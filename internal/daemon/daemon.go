package daemon

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hollis/chassis/internal/config"
	"github.com/hollis/chassis/internal/logger"
	"github.com/hollis/chassis/internal/metrics"
	"github.com/hollis/chassis/pkg/agent"
	"github.com/hollis/chassis/pkg/gateway"
	"github.com/hollis/chassis/pkg/mcp"
	"github.com/hollis/chassis/pkg/tools"
	"github.com/hollis/chassis/pkg/translator"
)

// Daemon wires the tool layers, the runner, and the gateway together and
// owns their lifecycles.
type Daemon struct {
	config  *config.Config
	logger  *logger.Logger
	metrics *metrics.Metrics

	registry   *tools.Registry
	manager    *mcp.Manager
	translator *translator.Translator
	runner     *agent.Runner
	gateway    *gateway.Server
}

// New creates a new daemon instance. Connections are not opened until
// Start.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	zl := log.GetZerolog()
	m := metrics.NewMetrics()

	registry := tools.NewRegistry(zl)
	if err := tools.RegisterBuiltins(registry); err != nil {
		return nil, fmt.Errorf("failed to register builtin tools: %w", err)
	}

	specs, invalid, err := mcp.LoadSpecs(cfg.MCP.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load server config: %w", err)
	}
	for name, specErr := range invalid {
		log.Warn().Str("server", name).Err(specErr).Msg("Skipping invalid server entry")
	}
	if specs == nil {
		log.Warn().Str("path", cfg.MCP.ConfigPath).Msg("No server config found, running with local tools only")
	}

	manager := mcp.NewManager(applyCallTimeout(specs, time.Duration(cfg.MCP.CallTimeout)*time.Second), zl)

	trans := translator.New(registry, manager, time.Duration(cfg.Agent.ToolTimeout)*time.Second, zl)

	provider, err := agent.NewProvider(cfg.Provider.Name, cfg.Provider.APIKey, cfg.Provider.BaseURL)
	if err != nil {
		return nil, err
	}

	runner, err := agent.NewRunner(agent.Config{
		Provider:             provider,
		Tools:                trans,
		Metrics:              m,
		Logger:               zl,
		DefaultModel:         cfg.Provider.Model,
		MaxRetries:           cfg.Agent.MaxRetries,
		DefaultMaxIterations: cfg.Agent.MaxIterations,
		DefaultTemperature:   cfg.Agent.Temperature,
		DefaultMaxTokens:     cfg.Agent.MaxTokens,
		DefaultSystemPrompt:  cfg.Agent.SystemPrompt,
	})
	if err != nil {
		return nil, err
	}

	gw, err := gateway.NewServer(gateway.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		APIKey:         cfg.Server.APIKey,
		Runner:         runner,
		Tools:          trans,
		MetricsHandler: m.Handler(),
		Logger:         zl,
	})
	if err != nil {
		return nil, err
	}

	return &Daemon{
		config:     cfg,
		logger:     log,
		metrics:    m,
		registry:   registry,
		manager:    manager,
		translator: trans,
		runner:     runner,
		gateway:    gw,
	}, nil
}

// applyCallTimeout fills in the configured per-call timeout on specs that
// do not set their own.
func applyCallTimeout(specs []mcp.ServerSpec, d time.Duration) []mcp.ServerSpec {
	if d <= 0 {
		return specs
	}
	out := make([]mcp.ServerSpec, len(specs))
	for i, spec := range specs {
		if spec.Timeout <= 0 {
			spec.Timeout = d
		}
		out[i] = spec
	}
	return out
}

// Start opens all protocol server connections and starts the gateway.
// Connection failures are logged, not fatal.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Info().Msg("Starting daemon")

	d.manager.OpenAll(ctx)
	for _, name := range d.manager.Names() {
		if conn, ok := d.manager.Connection(name); ok {
			d.metrics.RecordConnectionOpen(name, conn.State() == mcp.StateReady)
		}
	}
	ready := d.manager.ReadyCount()
	d.metrics.SetConnectionsReady(ready)
	d.logger.Info().Int("ready", ready).Msg("Protocol server connections opened")

	if err := d.gateway.Start(); err != nil {
		d.manager.CloseAll()
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	return nil
}

// Stop shuts the gateway down and closes every connection.
func (d *Daemon) Stop() error {
	d.logger.Info().Msg("Stopping daemon")

	err := d.gateway.Stop()
	d.manager.CloseAll()
	d.metrics.SetConnectionsReady(0)

	return err
}

// Run starts the daemon and blocks until the context is cancelled or a
// termination signal arrives.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return d.Stop()
	})

	d.logger.Info().Msg("Daemon running")
	return g.Wait()
}

// Runner exposes the agent runner for embedding callers.
func (d *Daemon) Runner() *agent.Runner {
	return d.runner
}

// Translator exposes the tool translator for embedding callers.
func (d *Daemon) Translator() *translator.Translator {
	return d.translator
}
