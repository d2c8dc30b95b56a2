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

// Package tool defines the interfaces coaching tools implement and the
// registry the ReAct loop dispatches through. Adapted from the teacher's
// layered Tool/CallableTool hierarchy (pkg/tool/tool.go), collapsed to a
// single synchronous Call contract since this system has no streaming or
// HITL-approval tool patterns; what the teacher modeled as approval
// pauses, this package models as interrupt.Signal (§4.3).
package tool

import (
	"context"
	"fmt"

	"github.com/gtdcoach/agent/pkg/interrupt"
	"github.com/gtdcoach/agent/pkg/phase"
	"github.com/gtdcoach/agent/pkg/state"
)

// StateManager is the narrow surface tools use to read and mutate session
// state and reach the agent's surrounding services (time budget, memory,
// interrupts). AgentCore implements this; tools depend only on the
// interface, never on pkg/agentcore, to avoid an import cycle.
type StateManager interface {
	State() *state.State
	Append(m state.Message)

	// CheckTime reports the current phase's elapsed/remaining budget.
	CheckTime() phase.TimeCheck

	// Interrupt suspends the current tool invocation, surfacing value to
	// the runner, and blocks until a reply arrives (or ctx ends). It
	// enforces the single-interrupt-per-invocation rule via invocationID.
	Interrupt(ctx context.Context, invocationID string, value any) (string, error)

	// SearchMemory issues a decayed similarity search against the
	// BatchingMemory sink, returning formatted "prior context" hits.
	SearchMemory(ctx context.Context, query string, topK int) ([]string, error)

	// RecordEpisode routes one memory episode through the BatchingMemory
	// router (§4.5); callers do not need to know its disposition.
	RecordEpisode(ctx context.Context, episodeType, phaseName string, data map[string]any, critical bool) error

	// TrackPattern and TrackIntervention buffer into the current
	// session's pattern record (§4.6); flushed to the PatternStore at
	// session end.
	TrackPattern(kind, description string, severity int)
	TrackIntervention(kind, context string)
}

// Result is the outcome of one tool invocation delivered back to the
// ReAct loop as a tool-result message.
type Result struct {
	// Content is serialized into the tool-result message shown to the
	// model.
	Content map[string]any
	// Error, when non-empty, marks this as a failed (but non-fatal)
	// invocation; the loop continues per §4.2 "mid-loop tool errors are
	// converted to tool-result messages with an error field".
	Error string
}

// Tool is one callable coaching capability.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON schema for the tool's parameters, used for
	// LLM function-calling descriptors. Arguments are not validated
	// against it before Call.
	Schema() map[string]any
	// Call executes the tool. A returned error that unwraps to
	// *interrupt.Signal (via interrupt.AsSignal) means the invocation
	// suspended, not failed; the ReAct loop must treat it as a distinct
	// control signal, never as a regular tool error.
	Call(ctx context.Context, sm StateManager, args map[string]any) (Result, error)
}

// Registry holds the tools available to one agent invocation.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t, overwriting any previous tool of the same name.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool in registration order.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Definition describes one tool for LLM function-calling.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Definitions returns the LLM-facing descriptor for every registered tool.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.order))
	for _, t := range r.List() {
		defs = append(defs, Definition{Name: t.Name(), Description: t.Description(), Parameters: t.Schema()})
	}
	return defs
}

// Dispatch runs the named tool and normalizes its outcome: a returned
// *interrupt.Signal is surfaced distinctly (sig != nil, err == nil) so
// the ReAct loop can unwind without treating it as a failure; any other
// error is folded into Result.Error so the loop can continue per §4.2.
func (r *Registry) Dispatch(ctx context.Context, sm StateManager, invocationID, name string, args map[string]any) (Result, *interrupt.Signal, error) {
	t, ok := r.Get(name)
	if !ok {
		return Result{Error: fmt.Sprintf("unknown tool %q", name)}, nil, nil
	}
	res, err := t.Call(ctx, sm, args)
	if err == nil {
		return res, nil, nil
	}
	if sig, isSignal := interrupt.AsSignal(err); isSignal {
		return Result{}, sig, nil
	}
	return Result{Error: err.Error()}, nil, nil
}
