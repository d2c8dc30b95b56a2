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

// Package agentcore implements AgentCore: the ReAct loop that drives an
// LLM through a tool-using reasoning cycle while keeping the prompt
// within a fixed token budget (spec §4.2) and supporting the
// suspend/resume interrupt protocol (§4.3).
//
// Suspension is implemented as a live goroutine-per-run rendezvous rather
// than a checkpoint-replay-from-scratch: invoking a fresh run starts the
// ReAct loop in its own goroutine; when a tool calls StateManager.Interrupt
// it announces the prompt value over a per-run channel (observed by
// Invoke/Stream as a terminal chunk) and then blocks on
// interrupt.Awaiter.WaitForInput. Resuming delivers the reply via
// interrupt.Awaiter.ProvideInput, which unblocks the very same goroutine
// mid-tool-call, exactly matching §4.3's "all observations prior to the
// interrupt are read from the checkpoint, not re-executed" (there is
// nothing to re-execute: the call never unwound). Grounded on the
// teacher's task-awaiter channel-per-id rendezvous, generalized from one
// blocking RPC call to a whole suspended agent run.
package agentcore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gtdcoach/agent/pkg/checkpoint"
	"github.com/gtdcoach/agent/pkg/interrupt"
	"github.com/gtdcoach/agent/pkg/llm"
	"github.com/gtdcoach/agent/pkg/memory"
	"github.com/gtdcoach/agent/pkg/observability"
	"github.com/gtdcoach/agent/pkg/pattern"
	"github.com/gtdcoach/agent/pkg/phase"
	"github.com/gtdcoach/agent/pkg/state"
	"github.com/gtdcoach/agent/pkg/tool"
	"github.com/gtdcoach/agent/pkg/utils"
)

// Config tunes the ReAct loop. Zero values are replaced by the §4.2
// defaults in New.
type Config struct {
	Model             string
	Temperature       float64 // default 0.7
	MaxResponseTokens int     // default 2000
	MaxInputTokens    int     // default 6000
	SummaryTokens     int     // default 500
	RecursionLimit    int     // default 150

	SystemPromptFor func(accountabilityMode string) string
	GuidanceFor     func(phaseName string) string
}

func (c *Config) applyDefaults() {
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.MaxResponseTokens == 0 {
		c.MaxResponseTokens = 2000
	}
	if c.MaxInputTokens == 0 {
		c.MaxInputTokens = 6000
	}
	if c.SummaryTokens == 0 {
		c.SummaryTokens = 500
	}
	if c.RecursionLimit == 0 {
		c.RecursionLimit = 150
	}
}

// Deps are AgentCore's collaborators, each independently testable.
type Deps struct {
	LLM         *llm.Client
	Checkpoints *checkpoint.Manager
	Memory      *memory.BatchingMemory
	Patterns    *pattern.Store
	Scheduler   *phase.Scheduler
	Awaiter     *interrupt.Awaiter
	Tracker     *interrupt.Tracker
	Tokens      *utils.TokenCounter
	Tracer      *observability.SessionTracer // may be nil; every method is nil-safe
	Metrics     *observability.Metrics      // may be nil; every Record*/Inc*/Dec* method is nil-safe
	InterruptMonitor *interrupt.Monitor      // may be nil; diagnostics only, never gates the loop
}

// llmProvider labels LLM metrics; the endpoint itself is OpenAI-compatible
// (spec §4.2, §6) but always points at the local LM Studio-style server.
const llmProvider = "lmstudio"

// ErrRecursionLimit is returned when a run exceeds Config.RecursionLimit
// without reaching a terminal assistant message or interrupt.
var ErrRecursionLimit = fmt.Errorf("agentcore: recursion limit exceeded")

// ErrToolsNotSet is returned by Invoke/Stream when SetTools was never
// called, per §4.2's "MUST be called before any invocation".
var ErrToolsNotSet = fmt.Errorf("agentcore: set_tools must be called before invocation")

// ErrNoPendingInterrupt is returned by Invoke(Resume(...)) when the named
// thread has no run currently suspended.
var ErrNoPendingInterrupt = fmt.Errorf("agentcore: no pending interrupt for thread")

// InterruptInfo describes a suspended run's prompt, the terminal
// `__interrupt__` chunk content from §4.3.
type InterruptInfo struct {
	ThreadID string
	Value    any
}

// Outcome is the result of one Invoke call: either a completed/erroring
// run (State set, Interrupt nil) or a suspended one (Interrupt set).
type Outcome struct {
	State     *state.State
	Interrupt *InterruptInfo
}

// Command selects between starting a fresh run and resuming a suspended
// one with the user's reply.
type Command struct {
	resume bool
	reply  string
}

// Resume builds the command the runner issues after displaying an
// interrupt prompt and reading the user's reply (§4.3's normative loop).
func Resume(reply string) Command { return Command{resume: true, reply: reply} }

// StreamMode selects the granularity of Stream's chunks.
type StreamMode string

const (
	StreamValues  StreamMode = "values"
	StreamUpdates StreamMode = "updates"
	StreamDebug   StreamMode = "debug"
)

// StreamChunk is one incremental piece of a streamed run.
type StreamChunk struct {
	Mode      StreamMode
	Iteration int
	Delta     string // assistant text delta (updates/debug modes)
	State     *state.State
	Interrupt *InterruptInfo
	Done      bool
	Err       error
}

type pendingRun struct {
	announce chan any
	resultCh chan loopResult
}

type loopResult struct {
	state *state.State
	err   error
}

// AgentCore drives one or more concurrent, independently-threaded ReAct
// runs sharing one LLM client, checkpointer, memory and pattern store.
type AgentCore struct {
	cfg   Config
	deps  Deps
	tools *tool.Registry

	mu   sync.Mutex
	runs map[string]*pendingRun
}

// New constructs an AgentCore. A failing LLM health check is fatal per
// §4.2 ("Health-check failure at client creation → Unavailable").
func New(ctx context.Context, cfg Config, deps Deps) (*AgentCore, error) {
	cfg.applyDefaults()
	if deps.LLM == nil {
		return nil, fmt.Errorf("agentcore: nil LLM client")
	}
	if err := deps.LLM.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("agentcore: %w: %w", errUnavailable, err)
	}
	if deps.Tracker == nil {
		deps.Tracker = interrupt.NewTracker()
	}
	if deps.Awaiter == nil {
		deps.Awaiter = interrupt.NewAwaiter()
	}
	return &AgentCore{cfg: cfg, deps: deps, runs: make(map[string]*pendingRun)}, nil
}

var errUnavailable = fmt.Errorf("llm endpoint unavailable")

// SetTools binds the tool registry this run will dispatch through. MUST
// be called before Invoke or Stream.
func (a *AgentCore) SetTools(r *tool.Registry) { a.tools = r }

// Invoke runs cmd to completion or suspension and returns the resulting
// Outcome.
func (a *AgentCore) Invoke(ctx context.Context, st *state.State, cmd Command) (Outcome, error) {
	if a.tools == nil {
		return Outcome{}, ErrToolsNotSet
	}

	if cmd.resume {
		a.mu.Lock()
		pr, ok := a.runs[st.ThreadID]
		a.mu.Unlock()
		if !ok {
			return Outcome{}, ErrNoPendingInterrupt
		}
		if err := a.deps.Awaiter.ProvideInput(st.ThreadID, cmd.reply); err != nil {
			return Outcome{}, fmt.Errorf("agentcore: resume: %w", err)
		}
		return a.await(ctx, st, pr)
	}

	sm := &coreStateManager{st: st, core: a}
	pr := &pendingRun{announce: make(chan any, 1), resultCh: make(chan loopResult, 1)}
	a.mu.Lock()
	a.runs[st.ThreadID] = pr
	a.mu.Unlock()

	agentName := string(st.WorkflowType)
	a.deps.Metrics.IncAgentActiveRuns(agentName)
	runStart := time.Now()
	go func() {
		defer a.deps.Metrics.DecAgentActiveRuns(agentName)
		finalSt, err := a.runLoop(ctx, st, sm, pr)
		if err != nil {
			a.deps.Metrics.RecordAgentError(agentName, "react", fmt.Sprintf("%T", err))
		} else {
			a.deps.Metrics.RecordAgentCall(agentName, "react", time.Since(runStart))
		}
		pr.resultCh <- loopResult{state: finalSt, err: err}
	}()

	return a.await(ctx, st, pr)
}

func (a *AgentCore) await(ctx context.Context, st *state.State, pr *pendingRun) (Outcome, error) {
	select {
	case v := <-pr.announce:
		return Outcome{Interrupt: &InterruptInfo{ThreadID: st.ThreadID, Value: v}}, nil
	case res := <-pr.resultCh:
		a.mu.Lock()
		delete(a.runs, st.ThreadID)
		a.mu.Unlock()
		return Outcome{State: res.state}, res.err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Stream runs cmd through Invoke and sends a single terminal chunk
// carrying the error, the interrupt descriptor or the final state, then
// closes the returned channel. No chunks are sent for intermediate ReAct
// iterations. The normative runner loop (§4.3) uses stream only for the
// initial call; resumes MUST use Invoke to avoid nested streaming.
func (a *AgentCore) Stream(ctx context.Context, st *state.State, cmd Command, mode StreamMode) (<-chan StreamChunk, error) {
	if a.tools == nil {
		return nil, ErrToolsNotSet
	}
	out := make(chan StreamChunk, 8)
	go func() {
		defer close(out)
		outcome, err := a.Invoke(ctx, st, cmd)
		if err != nil {
			out <- StreamChunk{Mode: mode, Done: true, Err: err}
			return
		}
		if outcome.Interrupt != nil {
			out <- StreamChunk{Mode: mode, Interrupt: outcome.Interrupt, Done: true}
			return
		}
		out <- StreamChunk{Mode: mode, State: outcome.State, Done: true}
	}()
	return out, nil
}

func (a *AgentCore) runLoop(ctx context.Context, st *state.State, sm *coreStateManager, pr *pendingRun) (*state.State, error) {
	for iteration := 0; iteration < a.cfg.RecursionLimit; iteration++ {
		timeCheck := a.deps.Scheduler.CheckTime(st)

		messages := RunPreModelHook(st, a.deps.Tokens, PreModelInput{
			AccountabilityMode: string(st.AccountabilityMode),
			TimeCheck:          timeCheck,
			MaxInputTokens:     a.cfg.MaxInputTokens,
			SummaryTokens:      a.cfg.SummaryTokens,
			SystemPromptFor:    a.cfg.SystemPromptFor,
			GuidanceFor:        a.cfg.GuidanceFor,
		})

		req := llm.Request{
			Messages:    toLLMMessages(messages),
			Temperature: a.cfg.Temperature,
			MaxTokens:   a.cfg.MaxResponseTokens,
			Tools:       toLLMTools(a.tools.Definitions()),
		}

		tracer := a.tracer()
		llmCtx, llmSpan := tracer.StartLLMCall(ctx, a.cfg.Model, a.cfg.MaxResponseTokens, a.cfg.Temperature, 1.0)
		llmStart := time.Now()
		resp, err := a.deps.LLM.ChatCompletion(llmCtx, req)
		if err != nil {
			tracer.RecordError(llmSpan, err)
			a.deps.Metrics.RecordLLMError(a.cfg.Model, llmProvider, fmt.Sprintf("%T", err))
			a.checkpoint(ctx, st, "llm_error", iteration)
			return st, fmt.Errorf("agentcore: chat completion: %w", err)
		}
		a.deps.Metrics.RecordLLMCall(a.cfg.Model, llmProvider, time.Since(llmStart))
		a.deps.Metrics.RecordLLMTokens(a.cfg.Model, llmProvider, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		tracer.AddLLMUsage(llmSpan, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		tracer.AddLLMFinishReason(llmSpan, resp.FinishReason)

		if len(resp.ToolCalls) == 0 {
			st.Append(state.NewMessage(state.RoleAssistant, resp.Content))
			a.checkpoint(ctx, st, "turn_complete", iteration)
			return st, nil
		}

		if resp.Content != "" {
			st.Append(state.NewMessage(state.RoleAssistant, resp.Content))
		}

		for _, tc := range resp.ToolCalls {
			argsJSON, _ := json.Marshal(tc.Arguments)
			st.Append(state.Message{Role: state.RoleToolCall, ToolName: tc.Name, ToolCallID: tc.ID, Content: string(argsJSON), CreatedAt: time.Now()})

			tracer.StartToolExecution(ctx, tc.Name, st.SessionID, st.CurrentPhase)
			if a.deps.Tracer != nil {
				a.deps.Tracer.ToolStart(tc.Name)
			}
			start := time.Now()

			var dbg *interrupt.Debugger
			if a.deps.InterruptMonitor != nil {
				dbg = a.deps.InterruptMonitor.NewDebugger()
				dbg.LogEvent("dispatch", map[string]any{"tool": tc.Name})
			}

			result, sig, dispatchErr := a.tools.Dispatch(ctx, sm, tc.ID, tc.Name, tc.Arguments)
			if dispatchErr != nil {
				a.checkpoint(ctx, st, "tool_error", iteration)
				return st, fmt.Errorf("agentcore: dispatch %s: %w", tc.Name, dispatchErr)
			}

			if sig != nil {
				if dbg != nil {
					dbg.CheckResult(true)
				}
				reply, err := a.suspendOn(ctx, st, pr, sig.Value)
				if err != nil {
					return st, err
				}
				result = tool.Result{Content: map[string]any{"reply": reply}}
			} else if dbg != nil {
				dbg.CheckResult(false)
			}
			if a.deps.InterruptMonitor != nil && tc.Name == "ask_user" && sig == nil {
				fa := interrupt.AnalyzeFailure(true, false, tc.Name, result.Content != nil)
				a.deps.InterruptMonitor.TraceState(st.CurrentPhase, len(st.Messages), st.AwaitingInput, string(st.InteractionMode))
				slog.Default().Warn("ask_user completed without suspending", "tool", tc.Name, "causes", fa.PossibleCauses)
			}
			if dbg != nil {
				dbg.Close()
			}

			if a.deps.Tracer != nil {
				a.deps.Tracer.ToolEnd(tc.Name, time.Since(start))
				if result.Error != "" {
					a.deps.Tracer.ToolError(tc.Name, fmt.Errorf("%s", result.Error))
				}
			}
			a.deps.Metrics.RecordToolCall(tc.Name, time.Since(start))
			if result.Error != "" {
				a.deps.Metrics.RecordToolError(tc.Name, "error")
			}

			contentJSON, _ := json.Marshal(result.Content)
			st.Append(state.Message{
				Role: state.RoleToolResult, ToolName: tc.Name, ToolCallID: tc.ID,
				Content: string(contentJSON), Error: result.Error, CreatedAt: time.Now(),
			})
		}

		a.checkpoint(ctx, st, "iteration", iteration)
	}

	a.checkpoint(ctx, st, "recursion_limit", a.cfg.RecursionLimit)
	return st, ErrRecursionLimit
}

// suspendOn announces value over pr.announce (observed by Invoke/Stream
// as the terminal interrupt chunk) and blocks until the runner supplies a
// reply via Awaiter.ProvideInput. Used for the generic interrupt.Signal
// unwind path (tools other than the StateManager.Interrupt convenience
// already handle their own blocking).
func (a *AgentCore) suspendOn(ctx context.Context, st *state.State, pr *pendingRun, value any) (string, error) {
	if a.deps.Tracer != nil {
		a.deps.Tracer.InterruptAttempt(st.ThreadID)
	}
	select {
	case pr.announce <- value:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	reply, err := a.deps.Awaiter.WaitForInput(ctx, st.ThreadID)
	if err != nil {
		return "", fmt.Errorf("agentcore: suspend: %w", err)
	}
	if a.deps.Tracer != nil {
		a.deps.Tracer.InterruptResume(st.ThreadID, reply)
	}
	return reply, nil
}

func (a *AgentCore) checkpoint(ctx context.Context, st *state.State, source string, step int) {
	if a.deps.Checkpoints == nil {
		return
	}
	cp, err := a.deps.Checkpoints.Save(ctx, st.ThreadID, st, source, step)
	if err == nil && cp != nil {
		st.LastCheckpointID = cp.CheckpointID
	}
}

func (a *AgentCore) tracer() *observability.Tracer {
	if a.deps.Tracer == nil {
		return nil
	}
	return a.deps.Tracer.Tracer()
}

func toLLMMessages(msgs []state.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		role := llm.RoleUser
		switch m.Role {
		case state.RoleSystem:
			role = llm.RoleSystem
		case state.RoleAssistant, state.RoleToolCall:
			role = llm.RoleAssistant
		case state.RoleToolResult:
			role = llm.RoleTool
		}
		out = append(out, llm.Message{Role: role, Content: m.Content, ToolCallID: m.ToolCallID})
	}
	return out
}

func toLLMTools(defs []tool.Definition) []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(defs))
	for _, d := range defs {
		out = append(out, llm.ToolSchema{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
	}
	return out
}
