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

package builtin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtdcoach/agent/pkg/phase"
	"github.com/gtdcoach/agent/pkg/state"
)

// schedulerBackedStateManager extends fakeStateManager with a real
// phase.Scheduler driving CheckTime, so phase-tool tests exercise actual
// urgency-ladder logic rather than a stub.
type schedulerBackedStateManager struct {
	*fakeStateManager
	sched *phase.Scheduler
}

func newSchedulerBackedStateManager(now time.Time) *schedulerBackedStateManager {
	sm := newFakeStateManager()
	sm.st.WorkflowType = state.WorkflowWeeklyReview
	sm.st.CurrentPhase = phase.Startup
	sm.st.PhaseStartTime = now
	sm.st.PhaseTimeLimitMin = phase.WeeklyLimits[phase.Startup]
	clock := now
	sched := phase.New(state.WorkflowWeeklyReview, func() time.Time { return clock })
	return &schedulerBackedStateManager{fakeStateManager: sm, sched: sched}
}

func (s *schedulerBackedStateManager) CheckTime() phase.TimeCheck {
	return s.sched.CheckTime(s.st)
}

func TestTransitionToolAdvancesPhaseAndRecordsDuration(t *testing.T) {
	now := time.Now()
	sm := newSchedulerBackedStateManager(now)
	tt := &TransitionTool{Scheduler: sm.sched}

	res, err := tt.Call(context.Background(), sm, map[string]any{"next_phase": phase.MindSweep})
	require.NoError(t, err)
	assert.Equal(t, phase.MindSweep, res.Content["phase"])
	assert.Equal(t, phase.MindSweep, sm.State().CurrentPhase)
	assert.Contains(t, sm.State().CompletedPhases, phase.Startup)
	require.Len(t, sm.episodes, 1)
	assert.Equal(t, "phase_transition", sm.episodes[0].episodeType)
	assert.True(t, sm.episodes[0].critical)
}

func TestTransitionToolRejectsUnknownPhase(t *testing.T) {
	now := time.Now()
	sm := newSchedulerBackedStateManager(now)
	tt := &TransitionTool{Scheduler: sm.sched}

	before := sm.State().CurrentPhase
	res, err := tt.Call(context.Background(), sm, map[string]any{"next_phase": "NOT_A_PHASE"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, before, sm.State().CurrentPhase)
	assert.Empty(t, sm.episodes)
}

func TestCheckTimeToolReportsTimeUpAtLimit(t *testing.T) {
	now := time.Now()
	sm := newSchedulerBackedStateManager(now.Add(-2 * time.Minute))
	ct := &CheckTimeTool{}

	res, err := ct.Call(context.Background(), sm, nil)
	require.NoError(t, err)
	assert.Equal(t, string(phase.UrgencyTimeUp), res.Content["urgency"])
}

func TestSendAlertToolRejectsUnknownKind(t *testing.T) {
	sa := &SendAlertTool{}
	res, err := sa.Call(context.Background(), newFakeStateManager(), map[string]any{"kind": "bogus"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Error)
}

func TestSendAlertToolDefaultsMessageByKind(t *testing.T) {
	sa := &SendAlertTool{}
	res, err := sa.Call(context.Background(), newFakeStateManager(), map[string]any{"kind": "completion"})
	require.NoError(t, err)
	assert.Equal(t, "session complete", res.Content["message"])
}

func TestSetReminderToolSchedulesRelativeToClock(t *testing.T) {
	now := time.Now()
	sm := newSchedulerBackedStateManager(now)
	sr := &SetReminderTool{Scheduler: sm.sched}

	res, err := sr.Call(context.Background(), sm, map[string]any{"minutes_from_now": 5.0, "message": "check in"})
	require.NoError(t, err)
	fireAt := res.Content["fire_at"].(time.Time)
	assert.WithinDuration(t, now.Add(5*time.Minute), fireAt, time.Second)
	assert.Equal(t, "check in", res.Content["message"])
}
