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

	"github.com/gtdcoach/agent/pkg/interrupt"
)

func TestAskUserToolSuspendsAndPropagatesInterruptSignal(t *testing.T) {
	sm := newFakeStateManager()
	sm.interruptErr = &interrupt.Signal{Value: "ready?"}
	au := &AskUserTool{}

	_, err := au.Call(context.Background(), sm, map[string]any{"question": "ready?"})
	require.Error(t, err)
	_, isSignal := interrupt.AsSignal(err)
	assert.True(t, isSignal)
	require.Len(t, sm.interrupts, 1)
	assert.Equal(t, "ready?", sm.interrupts[0])
}

func TestAskUserToolAppendsReplyOnResume(t *testing.T) {
	sm := newFakeStateManager()
	sm.interruptErr = nil
	au := &AskUserTool{}

	before := len(sm.State().Messages)
	_, err := au.Call(context.Background(), sm, map[string]any{"question": "ready?"})
	require.NoError(t, err)
	assert.Len(t, sm.State().Messages, before+1)
}

func TestMindsweepCaptureToolAppendsAndRecordsNonCriticalEpisode(t *testing.T) {
	sm := newFakeStateManager()
	mc := &MindsweepCaptureTool{}

	res, err := mc.Call(context.Background(), sm, map[string]any{"item": "Renew passport"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Content["total_captures"])
	require.Len(t, sm.episodes, 1)
	assert.Equal(t, "mindsweep_capture", sm.episodes[0].episodeType)
	assert.False(t, sm.episodes[0].critical)
}

func TestPrioritizeToolClampsToThreeItems(t *testing.T) {
	sm := newFakeStateManager()
	pr := &PrioritizeTool{}

	res, err := pr.Call(context.Background(), sm, map[string]any{
		"priorities": []any{"Taxes", "MOT", "Card", "Extra"},
	})
	require.NoError(t, err)
	priorities := res.Content["priorities"].([]string)
	assert.Len(t, priorities, 3)
	assert.Equal(t, []string{"Taxes", "MOT", "Card"}, priorities)
	require.Len(t, sm.episodes, 1)
	assert.True(t, sm.episodes[0].critical)
}

func TestWrapUpToolRecordsCriticalSessionSummary(t *testing.T) {
	sm := newFakeStateManager()
	sm.State().Captures = []string{"a", "b"}
	sm.State().WeeklyPriorities = []string{"x"}
	wu := &WrapUpTool{}

	res, err := wu.Call(context.Background(), sm, map[string]any{"summary": "good week"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Content["captures"])
	require.Len(t, sm.episodes, 1)
	assert.Equal(t, "session_summary", sm.episodes[0].episodeType)
	assert.True(t, sm.episodes[0].critical)
}
