package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPopulatesRequiredCollections(t *testing.T) {
	st := New("sess-1", WorkflowDailyClarify, "user-1", AccountabilityGentle)
	assert.Equal(t, "sess-1", st.SessionID)
	assert.Equal(t, "sess-1", st.ThreadID)
	assert.Equal(t, WorkflowDailyClarify, st.WorkflowType)
	assert.Equal(t, AccountabilityGentle, st.AccountabilityMode)
	assert.NotNil(t, st.Messages)
	assert.NotNil(t, st.UserContext)
	assert.NotNil(t, st.ContextUsage)
	assert.Empty(t, st.CompletedPhases)
	assert.False(t, st.StartedAt.IsZero())
}

func TestEnsureDefaultsFillsZeroValues(t *testing.T) {
	st := &State{}
	st.EnsureDefaults()
	assert.Equal(t, "STARTUP", st.CurrentPhase)
	assert.Equal(t, AccountabilityFirm, st.AccountabilityMode)
	assert.NotNil(t, st.Messages)
	assert.NotNil(t, st.UserContext)
	assert.NotNil(t, st.ContextUsage)
	assert.NotNil(t, st.PhaseDurations)
	assert.NotNil(t, st.ToolLatencies)
	assert.NotNil(t, st.LLMTokenUsage)
	assert.False(t, st.PhaseStartTime.IsZero())
}

func TestEnsureDefaultsPreservesExistingValues(t *testing.T) {
	st := New("sess-2", WorkflowWeeklyReview, "user-2", AccountabilityAdaptive)
	st.CurrentPhase = "MINDSWEEP"
	before := st.PhaseStartTime
	st.EnsureDefaults()
	assert.Equal(t, "MINDSWEEP", st.CurrentPhase)
	assert.Equal(t, before, st.PhaseStartTime)
	assert.Equal(t, AccountabilityAdaptive, st.AccountabilityMode)
}

func TestAppendGrowsMessages(t *testing.T) {
	st := New("sess-3", WorkflowDailyClarify, "user-3", AccountabilityFirm)
	st.Append(NewMessage(RoleUser, "hello"))
	st.Append(NewMessage(RoleAssistant, "hi there"))
	require.Len(t, st.Messages, 2)
	assert.Equal(t, RoleUser, st.Messages[0].Role)
	assert.Equal(t, "hi there", st.Messages[1].Content)
}

func TestNewSessionIDIsUniquePerCall(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	a := NewSessionID(now)
	b := NewSessionID(now)
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "20260731_100000_")
}

func TestIsPrefixConsistent(t *testing.T) {
	order := []string{"STARTUP", "MINDSWEEP", "PROJECT_REVIEW", "PRIORITIZATION", "WRAP_UP"}

	assert.True(t, IsPrefixConsistent(order, nil, ""))
	assert.True(t, IsPrefixConsistent(order, []string{"STARTUP"}, "MINDSWEEP"))
	assert.True(t, IsPrefixConsistent(order, []string{"STARTUP", "MINDSWEEP"}, ""))
	assert.False(t, IsPrefixConsistent(order, []string{"MINDSWEEP"}, "STARTUP"))
	assert.False(t, IsPrefixConsistent(order, []string{"STARTUP"}, "PRIORITIZATION"))
	assert.False(t, IsPrefixConsistent(order, order, "WRAP_UP"))
}
