// Command agentd runs the agent daemon: it wires the LLM providers, the
// tool catalog, the guardrail/approval chain, the memory store, and the
// task scheduler into one long-lived process.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/clawrt/agentd/internal/agent"
	"github.com/clawrt/agentd/internal/agent/providers"
	"github.com/clawrt/agentd/internal/budget"
	"github.com/clawrt/agentd/internal/channels"
	"github.com/clawrt/agentd/internal/config"
	"github.com/clawrt/agentd/internal/cron"
	"github.com/clawrt/agentd/internal/hooks"
	"github.com/clawrt/agentd/internal/jobs"
	"github.com/clawrt/agentd/internal/memory"
	"github.com/clawrt/agentd/internal/memory/store"
	"github.com/clawrt/agentd/internal/mesh"
	"github.com/clawrt/agentd/internal/multiagent"
	"github.com/clawrt/agentd/internal/observability"
	"github.com/clawrt/agentd/internal/planner"
	"github.com/clawrt/agentd/internal/plugins"
	"github.com/clawrt/agentd/internal/plugins/wasm"
	"github.com/clawrt/agentd/internal/sessions"
	"github.com/clawrt/agentd/internal/shell"
	"github.com/clawrt/agentd/internal/tools/factstore"
	"github.com/clawrt/agentd/internal/tools/memorysearch"
	"github.com/clawrt/agentd/internal/tools/schedule"
	"github.com/clawrt/agentd/pkg/models"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "agentd",
		Short: "Autonomous agent runtime daemon",
	}

	var configPath string
	start := &cobra.Command{
		Use:   "start",
		Short: "Start the agent daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(configPath)
		},
	}
	start.Flags().StringVar(&configPath, "config", "agentd.yaml", "path to the config file")

	root.AddCommand(start, &cobra.Command{
		Use:   "version",
		Short: "Print the daemon version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDaemon(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(ctx, cfg, configPath, logger)
	if err != nil {
		return err
	}
	defer d.close()

	logger.Info("agentd started", "version", version, "autonomy", d.guardrail.Autonomy().String())
	<-ctx.Done()
	logger.Info("agentd shutting down")
	return nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// daemon owns the wired subsystems for one agentd process.
type daemon struct {
	cfg          *config.Config
	logger       *slog.Logger
	store        *store.Store
	runtime      *agent.Runtime
	guardrail    *agent.GuardrailEngine
	gate         *agent.ApprovalGate
	shell        *shell.Tools
	subAgents    *multiagent.SubAgentManager
	vectorMemory *memory.Manager
	watcher      *fsnotify.Watcher
	metrics      *observability.Metrics
	stopTracing  func(context.Context) error
	cancelBg     context.CancelFunc
}

func newDaemon(ctx context.Context, cfg *config.Config, configPath string, logger *slog.Logger) (*daemon, error) {
	dbPath := cfg.Database.URL
	if dbPath == "" {
		dbPath = "agentd.db"
	}
	memStore, err := store.Open(dbPath, store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	autonomy, err := agent.AutonomyLevelFromU8(cfg.Guardrail.AutonomyLevel)
	if err != nil {
		memStore.Close()
		return nil, err
	}
	guardrail := agent.NewGuardrailEngine(autonomy, cfg.Guardrail.Allowlist, cfg.Guardrail.Denylist)
	gate := agent.NewApprovalGate([]byte(cfg.Auth.JWTSecret))

	tracker := budget.NewTracker(budget.Config{
		DailyLimitUSD:        cfg.Budget.DailyLimitUSD,
		ToolCallLimitPerLoop: cfg.Budget.ToolCallLimitPerLoop,
	})

	provider, fastModel, err := buildProvider(cfg.LLM)
	if err != nil {
		memStore.Close()
		return nil, err
	}

	jobStore, err := jobs.NewSQLStore(memStore.DB())
	if err != nil {
		memStore.Close()
		return nil, fmt.Errorf("open job store: %w", err)
	}

	runtime := agent.NewRuntimeWithOptions(provider, sessions.NewMemoryStore(), agent.RuntimeOptions{
		GuardrailEngine:        guardrail,
		ApprovalGate:           gate,
		ApprovalTimeoutSeconds: cfg.Guardrail.ApprovalTimeoutSeconds,
		BudgetTracker:          tracker,
		JobStore:               jobStore,
		LessonExtractor: &agent.LessonExtractor{
			Provider:  provider,
			FastModel: fastModel,
			Sink:      &lessonSink{store: memStore, publisher: mesh.NoopPublisher{}},
			Logger:    logger,
		},
		PostLoopHook: postLoopRecorder(memStore, logger),
		AuditLogger:  &storeAuditLogger{store: memStore},
		Logger:       logger,
	})

	bgCtx, cancelBg := context.WithCancel(context.Background())
	d := &daemon{
		cfg:       cfg,
		logger:    logger,
		store:     memStore,
		runtime:   runtime,
		guardrail: guardrail,
		gate:      gate,
		metrics:   observability.NewMetrics(),
		cancelBg:  cancelBg,
	}

	sampling := cfg.Observability.SamplingRate
	if sampling == 0 {
		sampling = 0.1
	}
	_, stopTracing := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "agentd",
		ServiceVersion: version,
		Endpoint:       cfg.Observability.OTLPEndpoint,
		SamplingRate:   sampling,
	})
	d.stopTracing = stopTracing

	if path := cfg.Observability.TraceFile; path != "" {
		if tp, err := agent.NewTracePluginFile(path, "daemon-"+uuid.NewString()); err == nil {
			runtime.Use(tp)
		} else {
			logger.Warn("failed to open trace file", "error", err, "path", path)
		}
	}

	// Tool catalog: terminal pool, goal ops, memory, scheduler, sub-agents,
	// WASM plugin tools.
	d.shell = shell.NewTools(logger, "")
	for _, tool := range d.shell.All() {
		runtime.RegisterTool(tool)
	}
	goals := planner.New()
	if restored, err := memStore.LoadGoals(context.Background()); err == nil {
		goals.Restore(restored)
	} else {
		logger.Warn("failed to restore goals", "error", err)
	}
	for _, tool := range planner.NewTools(goals).All() {
		runtime.RegisterTool(tool)
	}
	for _, tool := range factstore.NewTools(memStore).All() {
		runtime.RegisterTool(tool)
	}
	runtime.RegisterTool(schedule.NewTool(memStore))
	if ms := cfg.Tools.MemorySearch; ms.Enabled {
		runtime.RegisterTool(memorysearch.NewMemorySearchTool(&memorysearch.Config{
			Directory:     ms.Directory,
			MemoryFile:    ms.MemoryFile,
			MaxResults:    ms.MaxResults,
			MaxSnippetLen: ms.MaxSnippetLen,
			Mode:          ms.Mode,
		}))
	}
	if cfg.VectorMemory.Enabled {
		if mgr, err := memory.NewManager(&cfg.VectorMemory); err == nil {
			d.vectorMemory = mgr
		} else {
			logger.Warn("failed to start vector memory", "error", err)
		}
	}

	d.subAgents = multiagent.NewSubAgentManager(
		&runtimeSubAgentRunner{runtime: runtime},
		multiagent.WithPlanner(goals),
		multiagent.WithSubAgentLogger(logger),
	)
	runtime.RegisterTool(&multiagent.SpawnTool{Manager: d.subAgents})
	runtime.RegisterTool(&multiagent.WaitTool{Manager: d.subAgents})
	runtime.RegisterTool(&multiagent.StatusTool{Manager: d.subAgents})

	if dir := cfg.Plugins.WasmDir; dir != "" {
		tools, failures := wasm.LoadAll(bgCtx, dir, 0)
		for name, loadErr := range failures {
			logger.Warn("failed to load plugin", "plugin", name, "error", loadErr)
		}
		for _, tool := range tools {
			runtime.RegisterTool(tool)
		}
	}

	// In-process SDK plugins contribute tools, channels, and hooks.
	pluginRegistry := plugins.NewRuntimeRegistry()
	channelRegistry := channels.NewRegistry()
	hookRegistry := hooks.NewRegistry(logger)
	if err := pluginRegistry.LoadTools(cfg, runtime); err != nil {
		logger.Warn("failed to load plugin tools", "error", err)
	}
	if err := pluginRegistry.LoadChannels(cfg, channelRegistry); err != nil {
		logger.Warn("failed to load plugin channels", "error", err)
	}
	if err := pluginRegistry.LoadHooks(cfg, hookRegistry, logger); err != nil {
		logger.Warn("failed to load plugin hooks", "error", err)
	}

	// Scheduler: fired tasks become synthetic user messages.
	taskSched := cron.NewTaskScheduler(memStore, cron.WithTaskLogger(logger))
	go taskSched.Run(bgCtx)
	go d.consumeTaskEvents(bgCtx, taskSched.Events())

	// Approval requests flow to whatever channel surface is attached; with
	// none, they are logged so an operator can resolve them over the gate.
	if outbound, err := gate.TakeOutbound(); err == nil {
		go d.consumeApprovals(bgCtx, outbound)
	}

	if watcher, err := fsnotify.NewWatcher(); err == nil {
		if err := watcher.Add(configPath); err == nil {
			d.watcher = watcher
			go d.watchConfig(bgCtx, configPath)
		} else {
			watcher.Close()
		}
	}

	memStore.AppendAudit(ctx, store.AuditConfigChange, "daemon_start",
		fmt.Sprintf(`{"autonomy":%q,"config":%q}`, autonomy.String(), configPath))
	return d, nil
}

// buildProvider constructs the configured primary provider wrapped in the
// failover orchestrator, with the fallback chain attached in order.
func buildProvider(cfg config.LLMConfig) (agent.LLMProvider, string, error) {
	if len(cfg.Providers) == 0 {
		return nil, "", fmt.Errorf("no LLM providers configured")
	}
	primaryName := cfg.DefaultProvider
	if primaryName == "" {
		for name := range cfg.Providers {
			primaryName = name
			break
		}
	}
	primary, err := newProvider(primaryName, cfg.Providers[primaryName])
	if err != nil {
		return nil, "", err
	}

	orch := agent.NewFailoverOrchestrator(primary, agent.DefaultFailoverConfig())
	for _, name := range cfg.FallbackChain {
		pc, ok := cfg.Providers[name]
		if !ok {
			return nil, "", fmt.Errorf("fallback provider %q not configured", name)
		}
		p, err := newProvider(name, pc)
		if err != nil {
			return nil, "", err
		}
		orch.AddProvider(p)
	}

	fastModel := cfg.Providers[primaryName].DefaultModel
	return orch, fastModel, nil
}

func newProvider(name string, cfg config.LLMProviderConfig) (agent.LLMProvider, error) {
	switch strings.ToLower(name) {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL})
	case "openai":
		return providers.NewOpenAIProvider(cfg.APIKey), nil
	case "google", "gemini":
		return providers.NewGoogleProvider(providers.GoogleConfig{APIKey: cfg.APIKey})
	case "ollama":
		return providers.NewOllamaProvider(providers.OllamaConfig{BaseURL: cfg.BaseURL, DefaultModel: cfg.DefaultModel}), nil
	case "bedrock":
		return providers.NewBedrockProvider(providers.BedrockConfig{Region: cfg.BaseURL, DefaultModel: cfg.DefaultModel})
	case "azure":
		return providers.NewAzureOpenAIProvider(providers.AzureOpenAIConfig{Endpoint: cfg.BaseURL, APIKey: cfg.APIKey})
	case "openrouter":
		return providers.NewOpenRouterProvider(providers.OpenRouterConfig{APIKey: cfg.APIKey, DefaultModel: cfg.DefaultModel})
	case "copilot", "copilot-proxy":
		return providers.NewCopilotProxyProvider(providers.CopilotProxyConfig{BaseURL: cfg.BaseURL})
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", name)
	}
}

// consumeTaskEvents injects fired scheduler tasks as synthetic user
// messages into their sessions.
func (d *daemon) consumeTaskEvents(ctx context.Context, events <-chan cron.TaskEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			sessionID := ev.SessionID
			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			session := &models.Session{ID: sessionID}
			msg := &models.Message{
				ID:      uuid.NewString(),
				Role:    models.RoleUser,
				Content: fmt.Sprintf("[scheduled task %s] %s", ev.Label, ev.Description),
			}
			d.metrics.MessageReceived("scheduler", "inbound")
			chunks, err := d.runtime.Process(ctx, session, msg)
			if err != nil {
				d.metrics.RecordError("scheduler", "process_failed")
				d.logger.Warn("failed to run scheduled task", "task_id", ev.TaskID, "error", err)
				continue
			}
			go func(taskID string) {
				for chunk := range chunks {
					if chunk.Error != nil {
						d.logger.Warn("scheduled task run failed", "task_id", taskID, "error", chunk.Error)
					}
				}
			}(ev.TaskID)
		}
	}
}

func (d *daemon) consumeApprovals(ctx context.Context, outbound <-chan agent.GateRequest) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-outbound:
			if !ok {
				return
			}
			d.logger.Warn("approval required",
				"id", req.ID, "tool", req.ToolName, "risk", req.RiskLevel, "reason", req.Reason)
			d.store.AppendAudit(ctx, store.AuditApprovalRequest, req.ToolName,
				fmt.Sprintf(`{"id":%q,"reason":%q,"risk":%d}`, req.ID, req.Reason, req.RiskLevel))
		}
	}
}

// watchConfig hot-reloads the guardrail allow/deny lists on config writes.
func (d *daemon) watchConfig(ctx context.Context, configPath string) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				d.logger.Warn("config reload failed", "error", err)
				continue
			}
			d.guardrail.SetLists(cfg.Guardrail.Allowlist, cfg.Guardrail.Denylist)
			d.store.AppendAudit(ctx, store.AuditConfigChange, "guardrail_lists_reloaded", "")
			d.logger.Info("guardrail lists reloaded")
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (d *daemon) close() {
	d.cancelBg()
	if d.watcher != nil {
		d.watcher.Close()
	}
	if d.stopTracing != nil {
		if err := d.stopTracing(context.Background()); err != nil {
			d.logger.Warn("failed to stop tracer", "error", err)
		}
	}
	if d.subAgents != nil {
		d.subAgents.Shutdown()
	}
	if d.shell != nil {
		d.shell.Pool().Shutdown()
	}
	if d.vectorMemory != nil {
		if err := d.vectorMemory.Close(); err != nil {
			d.logger.Warn("failed to close vector memory", "error", err)
		}
	}
	if d.store != nil {
		d.store.AppendAudit(context.Background(), store.AuditConfigChange, "daemon_stop", "")
		d.store.Close()
	}
}

// storeAuditLogger adapts the memory store's audit log to the runtime.
type storeAuditLogger struct {
	store *store.Store
}

func (l *storeAuditLogger) Audit(ctx context.Context, eventType, action, details string) {
	l.store.AppendAudit(ctx, eventType, action, details)
}

// episodeTagKeywords drives the auto-tagging of emitted episodes.
var episodeTagKeywords = map[string]string{
	"deploy": "deploy", "test": "testing", "bug": "bugfix", "error": "error",
	"schedule": "scheduling", "install": "install", "refactor": "refactor",
}

// postLoopRecorder snapshots the session's working memory and emits an
// episode summarizing the finished turn.
func postLoopRecorder(memStore *store.Store, logger *slog.Logger) agent.PostLoopHook {
	return func(ctx context.Context, session *models.Session, transcript []agent.CompletionMessage) {
		snapshot := make([]*models.Message, 0, len(transcript))
		var userPreview, responsePreview string
		var toolNames []string
		for _, m := range transcript {
			msg := &models.Message{
				ID:        uuid.NewString(),
				SessionID: session.ID,
				Role:      models.Role(m.Role),
				Content:   m.Content,
				ToolCalls: m.ToolCalls,
				CreatedAt: time.Now(),
			}
			for _, tr := range m.ToolResults {
				msg.ToolResults = append(msg.ToolResults, tr)
			}
			snapshot = append(snapshot, msg)

			if m.Role == "user" && userPreview == "" {
				userPreview = preview(m.Content, 120)
			}
			if m.Role == "assistant" && m.Content != "" {
				responsePreview = preview(m.Content, 120)
			}
			for _, tc := range m.ToolCalls {
				toolNames = append(toolNames, tc.Name)
			}
		}

		if err := memStore.SaveSession(ctx, &store.SessionRecord{
			ID: session.ID, Active: true, MessageCount: len(snapshot),
		}); err != nil {
			logger.Warn("failed to persist session row", "error", err, "session_id", session.ID)
		}
		if err := memStore.SaveSessionMessages(ctx, session.ID, snapshot); err != nil {
			logger.Warn("failed to persist session snapshot", "error", err, "session_id", session.ID)
		}

		summary := fmt.Sprintf("user: %s", userPreview)
		if len(toolNames) > 0 {
			summary += fmt.Sprintf(" | tools: %s", strings.Join(toolNames, ", "))
		}
		if responsePreview != "" {
			summary += fmt.Sprintf(" | response: %s", responsePreview)
		}
		tags := make([]string, 0, 2)
		lower := strings.ToLower(summary)
		for keyword, tag := range episodeTagKeywords {
			if strings.Contains(lower, keyword) {
				tags = append(tags, tag)
			}
		}
		memStore.AddEpisode(ctx, &store.Episode{
			SessionID: session.ID,
			Summary:   summary,
			Tags:      tags,
		})
	}
}

func preview(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

// lessonSink stores extracted lessons as facts and broadcasts them.
type lessonSink struct {
	store     *store.Store
	publisher mesh.PeerPublisher
}

func (s *lessonSink) StoreLesson(ctx context.Context, key, lesson string) error {
	fact := s.store.UpsertFact(ctx, &store.Fact{
		Category:   "learned_lessons",
		Key:        key,
		Value:      lesson,
		Confidence: 0.9,
		Source:     "lesson_extraction",
	})
	return s.publisher.PublishFact(ctx, mesh.FactDelta{
		Category:   fact.Category,
		Key:        fact.Key,
		Value:      fact.Value,
		Confidence: fact.Confidence,
		Source:     fact.Source,
	})
}

// runtimeSubAgentRunner runs each sub-agent on a fresh session with its
// role prompt, collecting the streamed text into one result.
type runtimeSubAgentRunner struct {
	runtime *agent.Runtime
}

func (r *runtimeSubAgentRunner) RunSubAgent(ctx context.Context, role, systemPrompt, task string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()
	ctx = agent.WithSystemPrompt(ctx, systemPrompt)

	session := &models.Session{ID: "subagent-" + role + "-" + uuid.NewString()}
	msg := &models.Message{ID: uuid.NewString(), Role: models.RoleUser, Content: task}
	chunks, err := r.runtime.Process(ctx, session, msg)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return sb.String(), chunk.Error
		}
		sb.WriteString(chunk.Text)
	}
	return sb.String(), nil
}
