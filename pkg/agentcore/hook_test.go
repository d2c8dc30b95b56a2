package agentcore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtdcoach/agent/pkg/phase"
	"github.com/gtdcoach/agent/pkg/state"
	"github.com/gtdcoach/agent/pkg/utils"
)

func TestSummarizePhaseJoinsUserAndAssistantOnly(t *testing.T) {
	msgs := []state.Message{
		state.NewMessage(state.RoleUser, "what should I capture"),
		state.NewMessage(state.RoleSystem, "ignored"),
		state.NewMessage(state.RoleAssistant, "anything on your mind"),
		state.NewMessage(state.RoleToolResult, "ignored too"),
	}
	summary := summarizePhase(phase.MindSweep, msgs, nil, 500)
	assert.True(t, strings.HasPrefix(summary, "[MIND_SWEEP] "))
	assert.Contains(t, summary, "what should I capture")
	assert.Contains(t, summary, "anything on your mind")
	assert.NotContains(t, summary, "ignored")
}

func TestSummarizePhaseTruncatesWithoutCounter(t *testing.T) {
	long := strings.Repeat("word ", 1000)
	msgs := []state.Message{state.NewMessage(state.RoleUser, long)}
	summary := summarizePhase(phase.MindSweep, msgs, nil, 10)
	assert.LessOrEqual(t, len([]rune(summary)), 10*4)
}

func TestLastFitTrimNoopWhenUnderBudget(t *testing.T) {
	tc, err := utils.NewTokenCounter("gpt-4")
	require.NoError(t, err)
	msgs := []state.Message{
		state.NewMessage(state.RoleUser, "hi"),
		state.NewMessage(state.RoleAssistant, "hello"),
	}
	out, trimmed := lastFitTrim(msgs, tc, 6000)
	assert.False(t, trimmed)
	assert.Equal(t, msgs, out)
}

func TestLastFitTrimDropsOldestAndAlignsOnUser(t *testing.T) {
	tc, err := utils.NewTokenCounter("gpt-4")
	require.NoError(t, err)

	var msgs []state.Message
	for i := 0; i < 50; i++ {
		msgs = append(msgs, state.NewMessage(state.RoleUser, strings.Repeat("filler text ", 40)))
		msgs = append(msgs, state.NewMessage(state.RoleAssistant, strings.Repeat("reply text ", 40)))
	}

	out, trimmed := lastFitTrim(msgs, tc, 200)
	require.True(t, trimmed)
	require.NotEmpty(t, out)
	assert.Equal(t, state.RoleUser, out[0].Role)
	last := out[len(out)-1].Role
	assert.True(t, last == state.RoleUser || last == state.RoleToolResult)
}

func TestLastFitTrimNilCounterIsNoop(t *testing.T) {
	msgs := []state.Message{state.NewMessage(state.RoleUser, "hi")}
	out, trimmed := lastFitTrim(msgs, nil, 10)
	assert.False(t, trimmed)
	assert.Equal(t, msgs, out)
}

func TestRunPreModelHookComposesSystemLines(t *testing.T) {
	st := state.New("s1", state.WorkflowDailyClarify, "u1", state.AccountabilityFirm)
	st.CurrentPhase = phase.MindSweep
	st.Append(state.NewMessage(state.RoleUser, "let's start"))

	in := PreModelInput{
		AccountabilityMode: "firm",
		TimeCheck:          phase.TimeCheck{Message: "12 minutes remaining"},
		SystemPromptFor:    func(mode string) string { return "system prompt for " + mode },
	}
	composed := RunPreModelHook(st, nil, in)

	require.GreaterOrEqual(t, len(composed), 3)
	assert.Equal(t, state.RoleSystem, composed[0].Role)
	assert.Equal(t, "system prompt for firm", composed[0].Content)
	assert.Equal(t, "12 minutes remaining", composed[1].Content)
	assert.Equal(t, phaseGuidance[phase.MindSweep], composed[2].Content)
	assert.Equal(t, "let's start", composed[len(composed)-1].Content)
}

func TestRunPreModelHookSummarizesOnPhaseChange(t *testing.T) {
	st := state.New("s2", state.WorkflowDailyClarify, "u1", state.AccountabilityFirm)
	st.CurrentPhase = phase.ProjectReview
	st.CompletedPhases = []string{phase.Startup, phase.MindSweep}
	st.PhaseChanged = true
	st.Append(state.NewMessage(state.RoleUser, "captured everything"))
	st.Append(state.NewMessage(state.RoleAssistant, "great, moving on"))

	in := PreModelInput{TimeCheck: phase.TimeCheck{Message: "time check"}}
	_ = RunPreModelHook(st, nil, in)

	assert.False(t, st.PhaseChanged)
	assert.Contains(t, st.PhaseSummary, "MIND_SWEEP")
	assert.Contains(t, st.PhaseSummary, "captured everything")
}

func TestRunPreModelHookDoesNotMutatePersistedMessagesOnTrim(t *testing.T) {
	st := state.New("s3", state.WorkflowDailyClarify, "u1", state.AccountabilityFirm)
	st.CurrentPhase = phase.MindSweep
	st.Append(state.NewMessage(state.RoleUser, "one"))
	st.Append(state.NewMessage(state.RoleAssistant, "two"))
	before := len(st.Messages)

	in := PreModelInput{TimeCheck: phase.TimeCheck{Message: "tc"}}
	RunPreModelHook(st, nil, in)

	assert.Equal(t, before, len(st.Messages))
}
