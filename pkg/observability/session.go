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

// Session-scoped tracer binding per spec §4.7: a SessionTracer is created
// once per run with (session_id, user_id, metadata) and installed as a
// process-wide handle so components can record events without threading
// a tracer handle through every call. Grounded on the teacher's
// debug_exporter event-id-keyed span capture, extended with the
// prompt-linking and effectiveness-scoring contract the spec describes.
package observability

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SessionTracer binds a Tracer to one running session and exposes the
// minimum span/event taxonomy §4.7 requires. Every method degrades to a
// no-op when the underlying Tracer is nil or disabled, so tracing
// failures never block the agent loop.
type SessionTracer struct {
	tracer   *Tracer
	rootCtx  context.Context
	rootSpan trace.Span

	sessionID string
	userID    string
}

var globalSessionTracer atomic.Pointer[SessionTracer]

// NewSessionTracer opens the top-level span for one session run and
// returns a bound SessionTracer. metadata's workflow_type, agent_type,
// tools_count and model keys become span attributes.
func NewSessionTracer(ctx context.Context, t *Tracer, sessionID, userID string, metadata map[string]any) (context.Context, *SessionTracer) {
	workflowType, _ := metadata["workflow_type"].(string)
	agentType, _ := metadata["agent_type"].(string)
	model, _ := metadata["model"].(string)

	rootCtx, span := t.StartAgentRun(ctx, sessionID, userID, workflowType, agentType, model)
	if toolsCount, ok := metadata["tools_count"].(int); ok {
		span.SetAttributes(attribute.Int("agent.tools_count", toolsCount))
	}

	st := &SessionTracer{tracer: t, rootCtx: rootCtx, rootSpan: span, sessionID: sessionID, userID: userID}
	return rootCtx, st
}

// SetGlobal installs st as the process-wide active tracer handle.
func SetGlobal(st *SessionTracer) { globalSessionTracer.Store(st) }

// Global returns the active SessionTracer, or nil if none was installed
// (callers must tolerate nil: every method on a nil *SessionTracer is a
// a safe no-op).
func Global() *SessionTracer { return globalSessionTracer.Load() }

func (st *SessionTracer) event(name string, attrs ...attribute.KeyValue) {
	if st == nil || st.rootSpan == nil {
		return
	}
	st.rootSpan.AddEvent(name, trace.WithAttributes(attrs...))
}

// ToolStart/ToolEnd/ToolError record the tool.start/tool.end/tool.error
// events from the minimum taxonomy.
func (st *SessionTracer) ToolStart(name string) {
	st.event("tool.start", attribute.String(AttrToolName, name))
}

func (st *SessionTracer) ToolEnd(name string, duration time.Duration) {
	st.event("tool.end", attribute.String(AttrToolName, name), attribute.Int64("duration_ms", duration.Milliseconds()))
}

func (st *SessionTracer) ToolError(name string, err error) {
	if err == nil {
		return
	}
	st.event("tool.error", attribute.String(AttrToolName, name), attribute.String("error", err.Error()))
}

// Interrupt* record the suspend/resume protocol's event taxonomy.
func (st *SessionTracer) InterruptAttempt(threadID string) {
	st.event("interrupt.attempt", attribute.String("thread.id", threadID))
}

func (st *SessionTracer) InterruptCaptured(threadID, value string) {
	st.event("interrupt.captured", attribute.String("thread.id", threadID), attribute.String("value", value))
}

func (st *SessionTracer) InterruptResume(threadID, reply string) {
	st.event("interrupt.resume", attribute.String("thread.id", threadID), attribute.String("reply", reply))
}

func (st *SessionTracer) InterruptState(threadID string, awaiting bool) {
	st.event("interrupt.state", attribute.String("thread.id", threadID), attribute.Bool("awaiting_input", awaiting))
}

func (st *SessionTracer) InterruptAnalysis(threadID string, count int) {
	st.event("interrupt.analysis", attribute.String("thread.id", threadID), attribute.Int("interrupt_count", count))
}

// PhaseTransition records phase.transition{from,to,duration}.
func (st *SessionTracer) PhaseTransition(from, to string, duration time.Duration) {
	st.event("phase.transition",
		attribute.String("from", from),
		attribute.String("to", to),
		attribute.Int64("duration_ms", duration.Milliseconds()),
	)
}

// ConversationStart/ConversationComplete record conversation.*.start and
// conversation.*.complete for the named conversational unit (e.g. a
// phase name or tool invocation).
func (st *SessionTracer) ConversationStart(name string) {
	st.event("conversation." + name + ".start")
}

func (st *SessionTracer) ConversationComplete(name string) {
	st.event("conversation." + name + ".complete")
}

// EffectivenessInputs carries the scenario-specific weights §4.7 uses for
// session.effectiveness, distinct from §4.6's PatternStore formula.
type EffectivenessInputs struct {
	Completed       bool
	DurationMinutes float64
	TasksCaptured   int
	PrioritiesSet   int
	InterruptsHandled int
}

// SessionEffectiveness computes and records the session.effectiveness
// score: base 1.0 if completed else 0.0; +0.2 if any captures; +0.3 if
// any priorities; +0.2 if duration <= 30 minutes.
func (st *SessionTracer) SessionEffectiveness(in EffectivenessInputs) float64 {
	score := 0.0
	if in.Completed {
		score = 1.0
	}
	if in.TasksCaptured > 0 {
		score += 0.2
	}
	if in.PrioritiesSet > 0 {
		score += 0.3
	}
	if in.DurationMinutes <= 30 {
		score += 0.2
	}
	score = clampScore(score)

	st.event("session.effectiveness",
		attribute.Bool("completed", in.Completed),
		attribute.Float64("duration_minutes", in.DurationMinutes),
		attribute.Int("tasks_captured", in.TasksCaptured),
		attribute.Int("priorities_set", in.PrioritiesSet),
		attribute.Int("interrupts_handled", in.InterruptsHandled),
		attribute.Float64("score", score),
	)
	return score
}

// Event and Score satisfy pkg/interrupt.Tracer, letting interrupt.Monitor
// trace its diagnostics through this same session span rather than
// opening a second, disconnected tracer handle.
func (st *SessionTracer) Event(name string, attrs map[string]any) {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, attribute.String(k, fmt.Sprintf("%v", v)))
	}
	st.event(name, kvs...)
}

func (st *SessionTracer) Score(name string, value float64) {
	st.event("score."+name, attribute.Float64("value", value))
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// LinkPrompt records the logical prompt name/version driving the current
// LLM call on span, so the dashboard can group spans by prompt variant.
func (st *SessionTracer) LinkPrompt(span trace.Span, name, version string) {
	if st == nil || span == nil {
		return
	}
	span.SetAttributes(attribute.String("prompt.name", name), attribute.String("prompt.version", version))
}

// TagTone attaches the A/B accountability-tone variant tag.
func (st *SessionTracer) TagTone(span trace.Span, tone string) {
	if st == nil || span == nil {
		return
	}
	span.SetAttributes(attribute.String("tag.tone", tone))
}

// TagWorkflow attaches the week/phase workflow tags (e.g. "week:2026-W05",
// "phase:MIND_SWEEP").
func (st *SessionTracer) TagWorkflow(span trace.Span, week, phase string) {
	if st == nil || span == nil {
		return
	}
	span.SetAttributes(attribute.String("tag.week", week), attribute.String("tag.phase", phase))
}

// End closes the session's root span.
func (st *SessionTracer) End() {
	if st == nil || st.rootSpan == nil {
		return
	}
	st.rootSpan.End()
}

// Tracer exposes the underlying Tracer so callers needing a fresh span
// (e.g. one LLM call) can still reach StartLLMCall directly.
func (st *SessionTracer) Tracer() *Tracer {
	if st == nil {
		return nil
	}
	return st.tracer
}
