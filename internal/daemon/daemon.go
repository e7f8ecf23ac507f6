// Package daemon wires every core component (Message Store, Session
// Store, Cost & Token Ledger, LLM Client, Context Manager, Agent Turn
// Loop, tool registrations, memory manager, event bus) into one
// long-lived process, the way internal/daemon did for the gateway it
// was originally built around.
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

	"github.com/harun/ranya-core/internal/config"
	"github.com/harun/ranya-core/internal/eventbus"
	"github.com/harun/ranya-core/internal/kvstore"
	"github.com/harun/ranya-core/internal/logger"
	"github.com/harun/ranya-core/internal/observability"
	"github.com/harun/ranya-core/internal/secrets"
	"github.com/harun/ranya-core/internal/tracing"
	"github.com/harun/ranya-core/pkg/coretools"
	"github.com/harun/ranya-core/pkg/ledger"
	"github.com/harun/ranya-core/pkg/llm"
	"github.com/harun/ranya-core/pkg/memory"
	"github.com/harun/ranya-core/pkg/message"
	"github.com/harun/ranya-core/pkg/metadata"
	"github.com/harun/ranya-core/pkg/sessionstore"
	"github.com/harun/ranya-core/pkg/toolexecutor"
	"github.com/harun/ranya-core/pkg/turnloop"

	"github.com/rs/zerolog"
)

// rollupCronSpec sweeps ledger.DirtyWorkers() every five minutes,
// covering crash gaps between the synchronous rollups Converse already
// does on every call (pkg/ledger/scheduler.go).
const rollupCronSpec = "@every 5m"

// Daemon represents the ranyacore process.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	kv        kvstore.Store
	messages  *message.Store
	sessions  *sessionstore.Store
	metadata  *metadata.Store
	ledger    *ledger.Ledger
	scheduler *ledger.Scheduler

	bus           *eventbus.Broadcaster
	llmClient     *llm.Client
	titleGen      *llm.TitleGenerator
	memoryMgr     *memory.Manager
	toolExecutor  *toolexecutor.ToolExecutor
	mcpAdapters   []*toolexecutor.MCPServerAdapter
	loop          *turnloop.Loop
	workspaceRoot string

	httpServer *httpServer

	startTime time.Time
	running   bool
	mu        sync.RWMutex
}

// New constructs every core component and wires them together. It
// does not start any background goroutines or listeners; call Start
// for that.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	observability.EnsureRegistered()
	if err := tracing.InitOpenTelemetry("ranyacore"); err != nil {
		log.Warn().Err(err).Msg("failed to initialize tracing, continuing without distributed tracing")
	}

	zlog := log.GetZerolog()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := observability.InitAuditLogger(filepath.Join(cfg.DataDir, "audit.log")); err != nil {
		zlog.Warn().Err(err).Msg("failed to open audit log, continuing with stderr audit logging")
	}

	kv, err := kvstore.Open(filepath.Join(cfg.DataDir, cfg.TableName+".db"), zlog)
	if err != nil {
		return nil, fmt.Errorf("open kv store: %w", err)
	}

	messages := message.New(kv, zlog)
	sessions := sessionstore.New(kv, zlog)
	meta := metadata.New(kv, zlog)
	costLedger := ledger.New(kv, sessions, ledger.DefaultPriceTable(), zlog)
	scheduler, err := ledger.NewScheduler(costLedger, zlog, rollupCronSpec)
	if err != nil {
		return nil, fmt.Errorf("build ledger scheduler: %w", err)
	}

	bus := eventbus.NewBroadcaster(zlog)

	var secretReader secrets.Reader = secrets.EnvReader{}
	if cfg.Provider == config.ProviderBedrock {
		base, err := llm.LoadBaseConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("load base aws config: %w", err)
		}
		secretReader = secrets.NewCachingReader(secrets.NewSSMReader(base))
	}

	llmClient, err := llm.New(context.Background(), cfg, secretReader, costLedger, zlog)
	if err != nil {
		return nil, fmt.Errorf("build llm client: %w", err)
	}
	titleGen := llm.NewTitleGenerator(llmClient, cfg.OpenAITitleBaseURL, cfg.OpenAITitleAPIKey, cfg.OpenAITitleModel)

	workspaceRoot := filepath.Join(cfg.DataDir, "workspaces")
	if err := os.MkdirAll(workspaceRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}

	var embedder memory.Embedder
	if cfg.OpenAIEmbeddingAPIKey != "" {
		embedder = memory.NewOpenAIEmbedder(cfg.OpenAIEmbeddingAPIKey, cfg.OpenAIEmbeddingBaseURL, cfg.OpenAIEmbeddingModel)
	}
	memoryMgr, err := memory.NewManager(memory.Config{
		WorkspacePath: workspaceRoot,
		DBPath:        filepath.Join(cfg.DataDir, "memory.db"),
		Logger:        zlog,
		Embedder:      embedder,
	})
	if err != nil {
		return nil, fmt.Errorf("build memory manager: %w", err)
	}

	executor := toolexecutor.New()
	if err := coretools.RegisterWorkspaceTools(executor, coretools.Options{WorkspaceRoot: workspaceRoot}); err != nil {
		return nil, fmt.Errorf("register core tools: %w", err)
	}
	if err := coretools.RegisterRequiredTools(executor, coretools.RequiredToolsOptions{Metadata: meta}); err != nil {
		return nil, fmt.Errorf("register required tools: %w", err)
	}
	if err := coretools.RegisterRepositoryTools(executor, coretools.RepositoryToolsOptions{
		WorkspaceRoot: workspaceRoot,
		Metadata:      meta,
	}); err != nil {
		return nil, fmt.Errorf("register repository tools: %w", err)
	}
	if err := memory.RegisterMemoryTools(executor, memoryMgr, workspaceRoot); err != nil {
		return nil, fmt.Errorf("register memory tools: %w", err)
	}
	mcpAdapters, err := startMCPServers(context.Background(), executor, cfg.Preferences.CustomAgents, zlog)
	if err != nil {
		return nil, fmt.Errorf("start mcp servers: %w", err)
	}

	loop := turnloop.New(turnloop.Options{
		Messages:     messages,
		Sessions:     sessions,
		Metadata:     meta,
		Memory:       memoryMgr,
		LLMClient:    llmClient,
		ToolExecutor: executor,
		Bus:          bus,
		Config:       cfg,
		TitleGen:     titleGen,
		Logger:       zlog,
	})

	return &Daemon{
		config:        cfg,
		logger:        log,
		kv:            kv,
		messages:      messages,
		sessions:      sessions,
		metadata:      meta,
		ledger:        costLedger,
		scheduler:     scheduler,
		bus:           bus,
		llmClient:     llmClient,
		titleGen:      titleGen,
		memoryMgr:     memoryMgr,
		toolExecutor:  executor,
		mcpAdapters:   mcpAdapters,
		loop:          loop,
		workspaceRoot: workspaceRoot,
		httpServer:    newHTTPServer(bus, zlog),
	}, nil
}

// startMCPServers spawns one child process per distinct MCP server named
// across the custom agents' configs and registers its tools into executor.
// A server named by more than one agent is started once and shared. Servers
// with no Command are catalog-only entries — tool names still route to
// them without a daemon-managed process — and are skipped here.
func startMCPServers(ctx context.Context, executor *toolexecutor.ToolExecutor, agents []config.CustomAgentConfig, zlog zerolog.Logger) ([]*toolexecutor.MCPServerAdapter, error) {
	adapters := make([]*toolexecutor.MCPServerAdapter, 0)
	started := make(map[string]bool)

	for _, agent := range agents {
		for _, server := range agent.MCPServers {
			if server.Command == "" || started[server.Name] {
				continue
			}
			started[server.Name] = true

			adapter := toolexecutor.NewMCPServerAdapter(server.Name, server.Command, server.Args)
			if err := adapter.Start(ctx); err != nil {
				return adapters, fmt.Errorf("start mcp server %q: %w", server.Name, err)
			}

			registered, err := executor.RegisterMCPServer(ctx, server.Name, adapter)
			if err != nil {
				return adapters, fmt.Errorf("register mcp server %q: %w", server.Name, err)
			}
			zlog.Info().Str("mcp_server", server.Name).Strs("tools", registered).Msg("mcp server registered")

			adapters = append(adapters, adapter)
		}
	}

	return adapters, nil
}

// Start brings up the ledger rollup scheduler and the event-bus HTTP
// listener. onMessageReceived/resume are plain method calls on the
// returned Daemon's Loop — EVENT_HTTP_ENDPOINT is the outbound
// event-bus address only, not a trigger surface.
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
	logger.Info().Msg("starting ranyacore")

	d.scheduler.Start()
	logger.Info().Msg("ledger rollup scheduler started")

	if err := d.httpServer.Start(d.config.EventHTTPEndpoint); err != nil {
		return fmt.Errorf("start event http server: %w", err)
	}
	logger.Info().Str("addr", d.config.EventHTTPEndpoint).Msg("event http server started")

	return nil
}

// Stop shuts everything down, newest-started-first.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.GetZerolog()
	logger.Info().Msg("stopping ranyacore")

	if err := d.httpServer.Stop(context.Background()); err != nil {
		logger.Error().Err(err).Msg("failed to stop event http server")
	}
	d.scheduler.Stop()
	for _, adapter := range d.mcpAdapters {
		if err := adapter.Stop(); err != nil {
			logger.Error().Err(err).Msg("failed to stop mcp server")
		}
	}
	if err := d.kv.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close kv store")
	}

	logger.Info().Msg("ranyacore stopped")
	return nil
}

// Wait blocks until SIGINT/SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	zl := d.logger.GetZerolog()
	zl.Info().Str("signal", sig.String()).Msg("received signal")
	if err := d.Stop(); err != nil {
		zl.Error().Err(err).Msg("failed to stop daemon")
	}
}

// Status reports whether the daemon is running and for how long.
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
}

func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	status := Status{Running: d.running}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}
	return status
}

func (d *Daemon) GetConfig() *config.Config                   { return d.config }
func (d *Daemon) GetLogger() *logger.Logger                   { return d.logger }
func (d *Daemon) GetMessages() *message.Store                 { return d.messages }
func (d *Daemon) GetSessions() *sessionstore.Store            { return d.sessions }
func (d *Daemon) GetLedger() *ledger.Ledger                   { return d.ledger }
func (d *Daemon) GetBus() *eventbus.Broadcaster               { return d.bus }
func (d *Daemon) GetMemoryManager() *memory.Manager           { return d.memoryMgr }
func (d *Daemon) GetToolExecutor() *toolexecutor.ToolExecutor { return d.toolExecutor }
func (d *Daemon) GetLoop() *turnloop.Loop                     { return d.loop }
