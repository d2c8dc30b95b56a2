// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gtdcoach/agent/pkg/agentcore"
	"github.com/gtdcoach/agent/pkg/checkpoint"
	"github.com/gtdcoach/agent/pkg/checkpoint/kv"
	gtdconfig "github.com/gtdcoach/agent/pkg/config"
	"github.com/gtdcoach/agent/pkg/interrupt"
	"github.com/gtdcoach/agent/pkg/llm"
	"github.com/gtdcoach/agent/pkg/logging"
	"github.com/gtdcoach/agent/pkg/memory"
	"github.com/gtdcoach/agent/pkg/memory/sink"
	"github.com/gtdcoach/agent/pkg/observability"
	"github.com/gtdcoach/agent/pkg/pattern"
	"github.com/gtdcoach/agent/pkg/phase"
	"github.com/gtdcoach/agent/pkg/session"
	"github.com/gtdcoach/agent/pkg/state"
	"github.com/gtdcoach/agent/pkg/tool"
	"github.com/gtdcoach/agent/pkg/tool/builtin"
	"github.com/gtdcoach/agent/pkg/tool/todotool"
	"github.com/gtdcoach/agent/pkg/utils"
)

// app bundles every long-lived collaborator a command needs, built once
// from the persisted/environment configuration (§6) and torn down in
// Close. One app is built per CLI invocation; AgentCore itself is
// stateless across runs and is constructed fresh per session inside
// newCore (it needs a workflow-scoped phase.Scheduler).
type app struct {
	cfg gtdconfig.Config
	log *slog.Logger

	db          *sql.DB
	checkpoints *checkpoint.Manager
	sessions    *session.SQLStore
	llmClient   *llm.Client
	memoryStore *memory.BatchingMemory
	patterns    *pattern.Store
	evolution   *pattern.EvolutionStore
	obs         *observability.Manager
	prompts     *observability.PromptRegistry
	awaiter     *interrupt.Awaiter
	tracker     *interrupt.Tracker
	tokens      *utils.TokenCounter
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := gtdconfig.Load()
	if err != nil {
		return nil, wrapConfigErr(err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, wrapConfigErr(fmt.Errorf("resolve home directory: %w", err))
	}

	logPath, err := logging.SessionLogPath(home, time.Now().Format("20060102_150405"))
	if err != nil {
		return nil, fmt.Errorf("resolve log path: %w", err)
	}
	logFile, _, err := logging.OpenLogFile(logPath)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logging.Init(slog.LevelInfo, logFile, "text")
	log := logging.GetLogger()

	if err := os.MkdirAll("data", 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("sqlite3", "./data/agent_state.db")
	if err != nil {
		return nil, fmt.Errorf("open agent_state.db: %w", err)
	}

	storage, err := newCheckpointStorage(cfg, db)
	if err != nil {
		return nil, fmt.Errorf("init checkpoint storage: %w", err)
	}
	checkpoints := checkpoint.NewManager(storage, log)

	sessions, err := session.NewSQLStore(db, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("init session store: %w", err)
	}

	llmClient := llm.New(llm.Config{BaseURL: cfg.LMURL, Model: cfg.LMModel})

	var memStore *memory.BatchingMemory
	if !cfg.DisableMemory {
		memStore, err = newMemoryStore(ctx, cfg)
		if err != nil {
			log.Warn("memory store unavailable, continuing without it", "error", err)
		}
	}

	patternDir := filepath.Join(home, ".gtd_coach", "patterns", "sessions")
	patterns, err := pattern.NewStore(patternDir)
	if err != nil {
		return nil, fmt.Errorf("init pattern store: %w", err)
	}
	evolutionDir := filepath.Join(home, ".gtd_coach", "evolution")
	evolution, err := pattern.NewEvolutionStore(evolutionDir)
	if err != nil {
		return nil, fmt.Errorf("init evolution store: %w", err)
	}

	obsCfg := &observability.Config{}
	obsCfg.SetDefaults()
	obsCfg.Metrics.Enabled = true
	if cfg.TracerHost != "" {
		obsCfg.Tracing.Enabled = true
		obsCfg.Tracing.Endpoint = cfg.TracerHost
	}
	obsMgr, err := observability.NewFromConfig(ctx, obsCfg)
	if err != nil {
		log.Warn("observability manager unavailable, continuing without tracing", "error", err)
		obsMgr = nil
	}
	if obsMgr != nil && memStore != nil {
		memStore.SetObservability(obsMgr.Metrics())
	}

	prompts := observability.NewPromptRegistry(nil, "", observability.DefaultPhasePrompts())

	if err := gtdconfig.Watch(ctx, func(reloaded gtdconfig.Config) {
		log.Info("config file changed on disk", "agent_mode", reloaded.AgentMode)
	}); err != nil {
		log.Debug("config file watch unavailable", "error", err)
	}

	tokens, err := utils.NewTokenCounter(cfg.LMModel)
	if err != nil {
		log.Warn("falling back to a generic token encoding", "model", cfg.LMModel, "error", err)
		tokens, _ = utils.NewTokenCounter("gpt-4")
	}

	return &app{
		cfg: cfg, log: log,
		db: db, checkpoints: checkpoints, sessions: sessions,
		llmClient: llmClient, memoryStore: memStore,
		patterns: patterns, evolution: evolution,
		obs: obsMgr, prompts: prompts,
		awaiter: interrupt.NewAwaiter(), tracker: interrupt.NewTracker(),
		tokens: tokens,
	}, nil
}

// newCheckpointStorage picks the checkpoint.Storage backend named by
// CHECKPOINT_BACKEND: "sqlite" (default) reuses db, "postgres"/"mysql" also
// reuse db under the matching dialect (the caller is expected to have opened
// db against that dialect's driver), and "etcd"/"consul"/"zookeeper" dial
// the networked backend named in CHECKPOINT_ENDPOINTS instead of touching db
// at all.
func newCheckpointStorage(cfg gtdconfig.Config, db *sql.DB) (checkpoint.Storage, error) {
	backend := cfg.CheckpointBackend
	if backend == "" {
		backend = "sqlite"
	}
	switch backend {
	case "sqlite", "postgres", "mysql":
		return checkpoint.NewSQLStorage(db, backend)
	case "etcd":
		return kv.NewEtcdStorage(splitEndpoints(cfg.CheckpointEndpoints), "")
	case "consul":
		return kv.NewConsulStorage(cfg.CheckpointEndpoints, "")
	case "zookeeper":
		return kv.NewZKStorage(splitEndpoints(cfg.CheckpointEndpoints), "")
	default:
		return nil, fmt.Errorf("checkpoint: unsupported backend %q", backend)
	}
}

func splitEndpoints(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// newMemoryStore picks the episode sink from MEMORY_URI's scheme, the way
// a database/sql DSN selects its driver: qdrant://host:port/collection and
// pinecone://host/index dial the matching networked vector store (api key
// from MEMORY_PASSWORD), any other scheme is treated as a plain HTTP
// graph-memory service (MEMORY_USER/MEMORY_PASSWORD as basic auth), and an
// empty MEMORY_URI falls back to the embedded chromem-go vector store.
func newMemoryStore(ctx context.Context, cfg gtdconfig.Config) (*memory.BatchingMemory, error) {
	var s sink.Sink
	switch {
	case cfg.MemoryURI == "":
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir := filepath.Join(home, "gtd-coach", "data", "memory_store")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		cs, err := sink.NewChromemSink(filepath.Join(dir, "chromem.db"))
		if err != nil {
			return nil, err
		}
		s = cs
	default:
		u, err := url.Parse(cfg.MemoryURI)
		if err != nil {
			return nil, fmt.Errorf("parse memory uri: %w", err)
		}
		switch u.Scheme {
		case "qdrant", "qdrants":
			port := 6334
			if p := u.Port(); p != "" {
				if n, err := strconv.Atoi(p); err == nil {
					port = n
				}
			}
			collection := strings.TrimPrefix(u.Path, "/")
			if collection == "" {
				collection = "gtd-coach-memory"
			}
			qs, err := sink.NewQdrantSink(ctx, u.Hostname(), port, cfg.MemoryPassword, u.Scheme == "qdrants", collection)
			if err != nil {
				return nil, err
			}
			s = qs
		case "pinecone":
			indexName := strings.TrimPrefix(u.Path, "/")
			ps, err := sink.NewPineconeSink(cfg.MemoryPassword, u.Host, indexName)
			if err != nil {
				return nil, err
			}
			s = ps
		default:
			s = sink.NewHTTPGraphSink(cfg.MemoryURI, cfg.MemoryUser, cfg.MemoryPassword)
		}
	}

	mcfg := memory.DefaultConfig()
	mcfg.DecayRate = cfg.DecayRate
	mcfg.BatchThresholdGeneral = cfg.BatchThreshold
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	mcfg.BackupDir = filepath.Join(home, "gtd-coach", "data", "memory_backup")
	if err := os.MkdirAll(mcfg.BackupDir, 0o755); err != nil {
		return nil, err
	}
	sessionID := state.NewSessionID(time.Now())
	return memory.New(mcfg, s, sessionID, sessionID), nil
}

func (a *app) Close() {
	if a.memoryStore != nil {
		_ = a.memoryStore.Close(context.Background())
	}
	if a.checkpoints != nil {
		_ = a.checkpoints.Close()
	}
	if a.obs != nil {
		_ = a.obs.Shutdown(context.Background())
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// newCore builds an AgentCore plus its tool registry for one workflow. A
// fresh Scheduler/SessionTracer pair is created per session because both
// are scoped to a single thread's clock and span tree.
func (a *app) newCore(ctx context.Context, workflow state.WorkflowType, sessionID, userID string) (*agentcore.AgentCore, *tool.Registry, *observability.SessionTracer, error) {
	scheduler := phase.New(workflow, time.Now)

	var sessTracer *observability.SessionTracer
	if a.obs != nil && a.obs.Tracer() != nil {
		_, sessTracer = observability.NewSessionTracer(ctx, a.obs.Tracer(), sessionID, userID, map[string]any{"workflow": string(workflow)})
	}

	// interrupt.Monitor takes its Tracer as a plain interface, so a nil
	// *SessionTracer must stay untyped-nil here rather than be boxed into
	// the interface (a boxed nil would make Monitor's own nil check lie).
	var monitorTracer interrupt.Tracer
	if sessTracer != nil {
		monitorTracer = sessTracer
	}
	monitor := interrupt.NewMonitor(monitorTracer, a.log)

	core, err := agentcore.New(ctx, agentcore.Config{
		Model:           a.cfg.LMModel,
		SystemPromptFor: a.systemPromptFor,
		GuidanceFor:     a.guidanceFor(ctx),
	}, agentcore.Deps{
		LLM: a.llmClient, Checkpoints: a.checkpoints, Memory: a.memoryStore,
		Patterns: a.patterns, Scheduler: scheduler, Awaiter: a.awaiter, Tracker: a.tracker,
		Tokens: a.tokens, Tracer: sessTracer, Metrics: a.obs.Metrics(), InterruptMonitor: monitor,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	registry := tool.NewRegistry()
	registerTools(registry, workflow, scheduler, a.log)
	core.SetTools(registry)
	return core, registry, sessTracer, nil
}

func (a *app) systemPromptFor(mode string) string {
	p := a.prompts.Get(context.Background(), "system."+mode)
	if p.Body != "" {
		return p.Body
	}
	switch mode {
	case string(state.AccountabilityFirm):
		return "You are a direct, no-nonsense GTD coach. Keep the user moving; don't let vague answers slide."
	case string(state.AccountabilityGentle):
		return "You are a warm, patient GTD coach. Encourage rather than push."
	default:
		return "You are an adaptive GTD coach. Match your tone to the user's energy and time pressure."
	}
}

func (a *app) guidanceFor(ctx context.Context) func(string) string {
	return func(phaseName string) string {
		p := a.prompts.Get(ctx, "phase."+phaseName)
		return p.Body
	}
}

func registerTools(r *tool.Registry, workflow state.WorkflowType, scheduler *phase.Scheduler, log *slog.Logger) {
	r.Register(&builtin.AskUserTool{})
	r.Register(&builtin.TransitionTool{Scheduler: scheduler})
	r.Register(&builtin.CheckTimeTool{})
	r.Register(&builtin.SendAlertTool{})
	r.Register(&builtin.SetReminderTool{Scheduler: scheduler})

	switch workflow {
	case state.WorkflowWeeklyReview:
		r.Register(&builtin.MindsweepCaptureTool{})
		r.Register(&builtin.ProjectReviewTool{})
		r.Register(&builtin.PrioritizeTool{})
		r.Register(&builtin.WrapUpTool{})
	case state.WorkflowDailyClarify:
		var taskSource todotool.TaskSource
		if src, err := todotool.NewLocalFileSource(""); err != nil {
			log.Warn("daily inbox task source unavailable, falling back to explicit items only", "error", err)
		} else {
			taskSource = src
		}
		r.Register(&builtin.LoadInboxTool{Source: taskSource})
		r.Register(&builtin.PreviewInboxTool{})
		r.Register(&builtin.ProcessTaskTool{})
		r.Register(&builtin.CheckDeepWorkTool{})
		r.Register(&builtin.AddToTodayTool{})
		r.Register(&builtin.OfferBreakTool{})
		r.Register(&builtin.SaveDailyTool{})
		r.Register(&builtin.DailySummaryTool{})
	}
}

func lastSessionPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".gtd-coach", "last_session.txt"), nil
}

func writeLastSession(sessionID string) error {
	path, err := lastSessionPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(sessionID+"\n"), 0o644)
}

func readLastSession() (string, error) {
	path, err := lastSessionPath()
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	id := string(data)
	for len(id) > 0 && (id[len(id)-1] == '\n' || id[len(id)-1] == '\r') {
		id = id[:len(id)-1]
	}
	return id, nil
}
