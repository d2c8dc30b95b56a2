package agentcore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtdcoach/agent/pkg/interrupt"
	"github.com/gtdcoach/agent/pkg/llm"
	"github.com/gtdcoach/agent/pkg/phase"
	"github.com/gtdcoach/agent/pkg/state"
	"github.com/gtdcoach/agent/pkg/tool"
)

// scriptedLLMServer replies with a canned sequence of chat-completions
// responses, one per call, so tests can drive the ReAct loop through a
// fixed number of tool-call/final-answer iterations.
type scriptedLLMServer struct {
	calls int32
	turns []llmTurn
}

type llmTurn struct {
	content   string
	toolCalls []toolCallStub
}

type toolCallStub struct {
	id   string
	name string
	args map[string]any
}

func newScriptedServer(t *testing.T, turns []llmTurn) *httptest.Server {
	t.Helper()
	s := &scriptedLLMServer{turns: turns}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/models" {
			w.WriteHeader(http.StatusOK)
			return
		}
		n := atomic.AddInt32(&s.calls, 1) - 1
		turn := s.turns[int(n)%len(s.turns)]

		toolCalls := make([]map[string]any, 0, len(turn.toolCalls))
		for _, tc := range turn.toolCalls {
			argsJSON, _ := json.Marshal(tc.args)
			toolCalls = append(toolCalls, map[string]any{
				"id": tc.id,
				"function": map[string]any{
					"name":      tc.name,
					"arguments": string(argsJSON),
				},
			})
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{
					"message": map[string]any{
						"content":    turn.content,
						"tool_calls": toolCalls,
					},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// echoTool is a trivial tool with no interrupt.
type echoTool struct{}

func (echoTool) Name() string               { return "echo" }
func (echoTool) Description() string        { return "echoes its input" }
func (echoTool) Schema() map[string]any     { return map[string]any{"type": "object"} }
func (echoTool) Call(ctx context.Context, sm tool.StateManager, args map[string]any) (tool.Result, error) {
	return tool.Result{Content: map[string]any{"echo": args["msg"]}}, nil
}

// askTool blocks on sm.Interrupt, mirroring builtin.AskUserTool's
// blocking-call usage rather than the generic interrupt.Signal unwind path.
type askTool struct{}

func (askTool) Name() string           { return "ask_user" }
func (askTool) Description() string    { return "asks the user a question" }
func (askTool) Schema() map[string]any { return map[string]any{"type": "object"} }
func (askTool) Call(ctx context.Context, sm tool.StateManager, args map[string]any) (tool.Result, error) {
	reply, err := sm.Interrupt(ctx, "ask-1", args["question"])
	if err != nil {
		return tool.Result{}, err
	}
	return tool.Result{Content: map[string]any{"reply": reply}}, nil
}

func newTestCore(t *testing.T, srv *httptest.Server, registry *tool.Registry) *AgentCore {
	t.Helper()
	client := llm.New(llm.Config{BaseURL: srv.URL, Model: "test-model"})
	scheduler := phase.New(state.WorkflowDailyClarify, time.Now)
	core, err := New(context.Background(), Config{Model: "test-model"}, Deps{
		LLM:       client,
		Scheduler: scheduler,
		Awaiter:   interrupt.NewAwaiter(),
		Tracker:   interrupt.NewTracker(),
	})
	require.NoError(t, err)
	core.SetTools(registry)
	return core
}

func TestInvokeReturnsFinalStateWithNoToolCalls(t *testing.T) {
	srv := newScriptedServer(t, []llmTurn{{content: "all done"}})
	registry := tool.NewRegistry()
	core := newTestCore(t, srv, registry)

	st := state.New("thread-1", state.WorkflowDailyClarify, "u1", state.AccountabilityFirm)
	st.CurrentPhase = phase.Load

	outcome, err := core.Invoke(context.Background(), st, Command{})
	require.NoError(t, err)
	assert.Nil(t, outcome.Interrupt)
	require.NotNil(t, outcome.State)
	last := outcome.State.Messages[len(outcome.State.Messages)-1]
	assert.Equal(t, state.RoleAssistant, last.Role)
	assert.Equal(t, "all done", last.Content)
}

func TestInvokeRunsToolCallThenCompletes(t *testing.T) {
	srv := newScriptedServer(t, []llmTurn{
		{toolCalls: []toolCallStub{{id: "c1", name: "echo", args: map[string]any{"msg": "hi"}}}},
		{content: "finished"},
	})
	registry := tool.NewRegistry()
	registry.Register(echoTool{})
	core := newTestCore(t, srv, registry)

	st := state.New("thread-2", state.WorkflowDailyClarify, "u1", state.AccountabilityFirm)
	st.CurrentPhase = phase.Load

	outcome, err := core.Invoke(context.Background(), st, Command{})
	require.NoError(t, err)
	require.NotNil(t, outcome.State)

	var sawToolResult bool
	for _, m := range outcome.State.Messages {
		if m.Role == state.RoleToolResult && m.ToolName == "echo" {
			sawToolResult = true
		}
	}
	assert.True(t, sawToolResult)
}

func TestInvokeSuspendsOnInterruptAndResumes(t *testing.T) {
	srv := newScriptedServer(t, []llmTurn{
		{toolCalls: []toolCallStub{{id: "c1", name: "ask_user", args: map[string]any{"question": "what's next"}}}},
		{content: "thanks, got it"},
	})
	registry := tool.NewRegistry()
	registry.Register(askTool{})
	core := newTestCore(t, srv, registry)

	st := state.New("thread-3", state.WorkflowDailyClarify, "u1", state.AccountabilityFirm)
	st.CurrentPhase = phase.Load

	outcome, err := core.Invoke(context.Background(), st, Command{})
	require.NoError(t, err)
	require.NotNil(t, outcome.Interrupt)
	assert.Equal(t, "what's next", outcome.Interrupt.Value)
	assert.True(t, st.AwaitingInput)

	final, err := core.Invoke(context.Background(), st, Resume("sure, this"))
	require.NoError(t, err)
	assert.Nil(t, final.Interrupt)
	require.NotNil(t, final.State)
	assert.False(t, final.State.AwaitingInput)

	last := final.State.Messages[len(final.State.Messages)-1]
	assert.Equal(t, "thanks, got it", last.Content)
}

func TestInvokeWithoutToolsReturnsErrToolsNotSet(t *testing.T) {
	srv := newScriptedServer(t, []llmTurn{{content: "unused"}})
	client := llm.New(llm.Config{BaseURL: srv.URL, Model: "test-model"})
	scheduler := phase.New(state.WorkflowDailyClarify, time.Now)
	core, err := New(context.Background(), Config{Model: "test-model"}, Deps{
		LLM: client, Scheduler: scheduler,
	})
	require.NoError(t, err)

	st := state.New("thread-4", state.WorkflowDailyClarify, "u1", state.AccountabilityFirm)
	_, err = core.Invoke(context.Background(), st, Command{})
	assert.ErrorIs(t, err, ErrToolsNotSet)
}

func TestResumeWithNoPendingInterruptErrors(t *testing.T) {
	srv := newScriptedServer(t, []llmTurn{{content: "unused"}})
	registry := tool.NewRegistry()
	core := newTestCore(t, srv, registry)

	st := state.New("thread-5", state.WorkflowDailyClarify, "u1", state.AccountabilityFirm)
	_, err := core.Invoke(context.Background(), st, Resume("reply"))
	assert.ErrorIs(t, err, ErrNoPendingInterrupt)
}
