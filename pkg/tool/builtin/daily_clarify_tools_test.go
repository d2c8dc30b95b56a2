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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtdcoach/agent/pkg/phase"
	"github.com/gtdcoach/agent/pkg/state"
)

// fakeStateManager is a minimal in-memory tool.StateManager used to unit
// test builtin tools without a live AgentCore, matching the base
// codebase's fakes-over-mocks convention for I/O boundaries.
type fakeStateManager struct {
	st           *state.State
	interrupts   []any
	interruptErr error
	episodes     []fakeEpisode
	patterns     []fakePattern
}

type fakeEpisode struct {
	episodeType, phase string
	data               map[string]any
	critical           bool
}

type fakePattern struct {
	kind, description string
	severity           int
}

func newFakeStateManager() *fakeStateManager {
	st := state.New("sess-1", state.WorkflowDailyClarify, "user-1", state.AccountabilityAdaptive)
	st.CurrentPhase = phase.ProcessTask
	return &fakeStateManager{st: st}
}

func (f *fakeStateManager) State() *state.State       { return f.st }
func (f *fakeStateManager) Append(m state.Message)     { f.st.Append(m) }
func (f *fakeStateManager) CheckTime() phase.TimeCheck { return phase.TimeCheck{} }

func (f *fakeStateManager) Interrupt(ctx context.Context, invocationID string, value any) (string, error) {
	f.interrupts = append(f.interrupts, value)
	return "", f.interruptErr
}

func (f *fakeStateManager) SearchMemory(ctx context.Context, query string, topK int) ([]string, error) {
	return nil, nil
}

func (f *fakeStateManager) RecordEpisode(ctx context.Context, episodeType, phaseName string, data map[string]any, critical bool) error {
	f.episodes = append(f.episodes, fakeEpisode{episodeType, phaseName, data, critical})
	return nil
}

func (f *fakeStateManager) TrackPattern(kind, description string, severity int) {
	f.patterns = append(f.patterns, fakePattern{kind, description, severity})
}

func (f *fakeStateManager) TrackIntervention(kind, context string) {}

type stubTaskSource struct {
	items []string
	err   error
}

func (s *stubTaskSource) FetchInbox(ctx context.Context) ([]string, error) {
	return s.items, s.err
}

func TestLoadInboxToolPrefersExplicitItemsOverSource(t *testing.T) {
	sm := newFakeStateManager()
	lt := &LoadInboxTool{Source: &stubTaskSource{items: []string{"from-source"}}}

	res, err := lt.Call(context.Background(), sm, map[string]any{
		"items": []any{"Taxes", "Car MOT"},
	})
	require.NoError(t, err)
	assert.Equal(t, "explicit", res.Content["source"])
	assert.Equal(t, []string{"Taxes", "Car MOT"}, sm.State().Captures)
}

func TestLoadInboxToolFallsBackToSourceWhenItemsOmitted(t *testing.T) {
	sm := newFakeStateManager()
	lt := &LoadInboxTool{Source: &stubTaskSource{items: []string{"Water the plants", "Call dentist"}}}

	res, err := lt.Call(context.Background(), sm, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "task_source", res.Content["source"])
	assert.Equal(t, []string{"Water the plants", "Call dentist"}, sm.State().Captures)
}

func TestLoadInboxToolWithNilSourceAndNoItemsLoadsNothing(t *testing.T) {
	sm := newFakeStateManager()
	lt := &LoadInboxTool{}

	res, err := lt.Call(context.Background(), sm, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Content["loaded"])
	assert.Empty(t, sm.State().Captures)
}

func TestLoadInboxToolSourceErrorSurfacesAsToolError(t *testing.T) {
	sm := newFakeStateManager()
	lt := &LoadInboxTool{Source: &stubTaskSource{err: assertErr("boom")}}

	res, err := lt.Call(context.Background(), sm, map[string]any{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Error)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestPreviewInboxToolReportsRemainingAfterProcessing(t *testing.T) {
	sm := newFakeStateManager()
	sm.State().Captures = []string{"a", "b", "c"}
	sm.State().ProcessedItems = []string{"a: do"}

	pt := &PreviewInboxTool{}
	res, err := pt.Call(context.Background(), sm, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Content["remaining_count"])
	assert.Equal(t, []string{"b", "c"}, res.Content["remaining"])
}

func TestProcessTaskToolRecordsDecisionAndEpisode(t *testing.T) {
	sm := newFakeStateManager()
	pt := &ProcessTaskTool{}

	res, err := pt.Call(context.Background(), sm, map[string]any{"item": "Taxes", "decision": "defer"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Content["processed_count"])
	require.Len(t, sm.episodes, 1)
	assert.Equal(t, "interaction", sm.episodes[0].episodeType)
	assert.False(t, sm.episodes[0].critical)
}

func TestCheckDeepWorkToolFlagsLongTasks(t *testing.T) {
	dw := &CheckDeepWorkTool{}

	res, err := dw.Call(context.Background(), newFakeStateManager(), map[string]any{"estimated_minutes": 30.0})
	require.NoError(t, err)
	assert.True(t, res.Content["needs_deep_work"].(bool))

	res, err = dw.Call(context.Background(), newFakeStateManager(), map[string]any{"estimated_minutes": 10.0})
	require.NoError(t, err)
	assert.False(t, res.Content["needs_deep_work"].(bool))
}

func TestOfferBreakToolFiresEveryFiveSwitchesThenResets(t *testing.T) {
	sm := newFakeStateManager()
	ob := &OfferBreakTool{}

	var last bool
	for i := 0; i < 5; i++ {
		res, err := ob.Call(context.Background(), sm, nil)
		require.NoError(t, err)
		last = res.Content["should_break"].(bool)
	}
	assert.True(t, last)
	assert.Equal(t, 0, *sm.State().ContextSwitches)
}

func TestSaveDailyToolRecordsCriticalSessionSummary(t *testing.T) {
	sm := newFakeStateManager()
	sm.State().ProcessedItems = []string{"a: do"}
	sd := &SaveDailyTool{}

	res, err := sd.Call(context.Background(), sm, nil)
	require.NoError(t, err)
	assert.True(t, res.Content["saved"].(bool))
	require.Len(t, sm.episodes, 1)
	assert.Equal(t, "session_summary", sm.episodes[0].episodeType)
	assert.True(t, sm.episodes[0].critical)
}
