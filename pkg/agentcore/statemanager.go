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

package agentcore

import (
	"context"
	"fmt"
	"time"

	"github.com/gtdcoach/agent/pkg/pattern"
	"github.com/gtdcoach/agent/pkg/phase"
	"github.com/gtdcoach/agent/pkg/state"
)

// coreStateManager is AgentCore's implementation of tool.StateManager,
// scoped to one run. It is the only thing tools ever see; it never
// exposes the AgentCore or pendingRun types directly.
type coreStateManager struct {
	st   *state.State
	core *AgentCore
}

func (m *coreStateManager) State() *state.State { return m.st }

func (m *coreStateManager) Append(msg state.Message) { m.st.Append(msg) }

func (m *coreStateManager) CheckTime() phase.TimeCheck {
	return m.core.deps.Scheduler.CheckTime(m.st)
}

// Interrupt implements the suspend/resume handshake described in the
// package doc: it announces value to whichever goroutine is waiting in
// Invoke/Stream, then blocks on the shared Awaiter until the runner
// supplies a reply for this thread. The single-interrupt-per-invocation
// rule is enforced via Tracker keyed by invocationID (the tool's own
// per-call id, e.g. builtin.AskUserTool's uuid).
func (m *coreStateManager) Interrupt(ctx context.Context, invocationID string, value any) (string, error) {
	if err := m.core.deps.Tracker.Begin(invocationID); err != nil {
		return "", err
	}
	defer m.core.deps.Tracker.Reset(invocationID)

	m.core.mu.Lock()
	pr, ok := m.core.runs[m.st.ThreadID]
	m.core.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("agentcore: interrupt outside a tracked run")
	}

	m.st.AwaitingInput = true
	if m.core.deps.Tracer != nil {
		m.core.deps.Tracer.InterruptAttempt(m.st.ThreadID)
	}
	if m.core.deps.InterruptMonitor != nil {
		m.core.deps.InterruptMonitor.Attempt(invocationID, value)
		m.core.deps.InterruptMonitor.TraceState(m.st.CurrentPhase, len(m.st.Messages), true, string(m.st.InteractionMode))
	}

	select {
	case pr.announce <- value:
	case <-ctx.Done():
		m.st.AwaitingInput = false
		return "", ctx.Err()
	}
	if m.core.deps.Tracer != nil {
		m.core.deps.Tracer.InterruptCaptured(m.st.ThreadID, fmt.Sprint(value))
	}

	reply, err := m.core.deps.Awaiter.WaitForInput(ctx, m.st.ThreadID)
	if err != nil {
		return "", err
	}
	m.st.AwaitingInput = false
	if m.core.deps.Tracer != nil {
		m.core.deps.Tracer.InterruptResume(m.st.ThreadID, reply)
	}
	if m.core.deps.InterruptMonitor != nil {
		m.core.deps.InterruptMonitor.Resumed(invocationID, reply)
	}
	return reply, nil
}

func (m *coreStateManager) SearchMemory(ctx context.Context, query string, topK int) ([]string, error) {
	if m.core.deps.Memory == nil {
		return nil, nil
	}
	hits, err := m.core.deps.Memory.Search(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.Content)
	}
	return out, nil
}

func (m *coreStateManager) RecordEpisode(ctx context.Context, episodeType, phaseName string, data map[string]any, critical bool) error {
	if m.core.deps.Memory == nil {
		return nil
	}
	return m.core.deps.Memory.Record(ctx, episodeType, phaseName, data, critical)
}

// severityNames maps tool.StateManager's 0-4 int severity scale to the
// pattern package's string vocabulary, the inverse of pattern.severityRank.
var severityNames = [...]string{"none", "low", "medium", "high", "critical"}

func severityName(level int) string {
	if level < 0 {
		level = 0
	}
	if level >= len(severityNames) {
		level = len(severityNames) - 1
	}
	return severityNames[level]
}

func (m *coreStateManager) TrackPattern(kind, description string, severity int) {
	if m.core.deps.Patterns == nil {
		return
	}
	m.core.deps.Patterns.TrackPattern(pattern.Pattern{
		Type: kind, Description: description, Severity: severityName(severity), ObservedAt: time.Now(),
	})
}

func (m *coreStateManager) TrackIntervention(kind, context string) {
	if m.core.deps.Patterns == nil {
		return
	}
	m.core.deps.Patterns.TrackIntervention(pattern.Intervention{
		Type: kind, Context: context, AppliedAt: time.Now(),
	})
}
