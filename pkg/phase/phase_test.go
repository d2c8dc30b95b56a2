package phase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtdcoach/agent/pkg/state"
)

func TestTransitionStrictOrder(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	s := New(state.WorkflowWeeklyReview, clock)
	st := state.New("sess1", state.WorkflowWeeklyReview, "u1", state.AccountabilityFirm)
	st.CurrentPhase = Startup
	st.PhaseStartTime = now

	require.NoError(t, s.Transition(st, MindSweep))
	assert.Equal(t, MindSweep, st.CurrentPhase)
	assert.Equal(t, []string{Startup}, st.CompletedPhases)
	assert.True(t, st.PhaseChanged)
	assert.Equal(t, WeeklyLimits[MindSweep], st.PhaseTimeLimitMin)

	assert.Error(t, s.Transition(st, WrapUp), "skipping a phase must be rejected")
	assert.Equal(t, MindSweep, st.CurrentPhase, "rejected skip must not mutate state")

	err := s.Transition(st, "NOT_A_PHASE")
	assert.Error(t, err)
	assert.Equal(t, MindSweep, st.CurrentPhase, "failed transition must not mutate state")
}

func TestCheckTimeThresholds(t *testing.T) {
	start := time.Now()
	cur := start
	clock := func() time.Time { return cur }
	s := New(state.WorkflowWeeklyReview, clock)
	st := state.New("sess1", state.WorkflowWeeklyReview, "u1", state.AccountabilityFirm)
	require.NoError(t, s.Transition(st, Startup)) // STARTUP has a 2 min limit

	cur = start.Add(2 * time.Minute)
	tc := s.CheckTime(st)
	assert.Equal(t, UrgencyTimeUp, tc.Urgency)

	cur = start.Add(1*time.Minute + 1*time.Second)
	tc = s.CheckTime(st)
	assert.Equal(t, UrgencyFinalMin, tc.Urgency)

	cur = start.Add(1 * time.Minute) // exactly one minute remaining
	tc = s.CheckTime(st)
	assert.Equal(t, UrgencyFinalMin, tc.Urgency, "exactly 1 minute remaining must still be FINAL MINUTE")
}

func TestIsPrefixConsistent(t *testing.T) {
	order := []string{"A", "B", "C"}
	assert.True(t, state.IsPrefixConsistent(order, []string{"A"}, "B"))
	assert.False(t, state.IsPrefixConsistent(order, []string{"B"}, "A"))
	assert.True(t, state.IsPrefixConsistent(order, []string{"A", "B", "C"}, ""))
}
