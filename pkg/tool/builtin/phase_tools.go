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

// Package builtin implements the coaching tools the ReAct loop dispatches:
// phase control, conversation/ask-user, capture, review, prioritization,
// wrap-up and the daily-clarify set. Adapted from the teacher's
// pkg/tool/controltool (control-flow tool shape) and grounded on
// original_source/gtd_coach/agent/tools/*.py for per-tool semantics.
package builtin

import (
	"context"
	"fmt"

	"github.com/gtdcoach/agent/pkg/phase"
	"github.com/gtdcoach/agent/pkg/tool"
)

// TransitionTool moves the session to the next phase in its workflow's
// strict order. Grounded on original_source's transition_phase tool and
// the teacher's controltool state-transition pattern.
type TransitionTool struct {
	Scheduler *phase.Scheduler
}

func (t *TransitionTool) Name() string        { return "transition_phase" }
func (t *TransitionTool) Description() string {
	return "Move the session to the named next phase. Call this once the current phase's goals are met."
}
func (t *TransitionTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"next_phase": map[string]any{"type": "string", "description": "the phase to transition into"},
		},
		"required": []string{"next_phase"},
	}
}

func (t *TransitionTool) Call(ctx context.Context, sm tool.StateManager, args map[string]any) (tool.Result, error) {
	next, _ := args["next_phase"].(string)
	st := sm.State()
	if err := t.Scheduler.Transition(st, next); err != nil {
		return tool.Result{Error: err.Error()}, nil
	}
	sm.RecordEpisode(ctx, "phase_transition", next, map[string]any{
		"content": fmt.Sprintf("transitioned to %s", next),
		"phase":   next,
	}, true)
	return tool.Result{Content: map[string]any{"phase": next, "time_limit_min": st.PhaseTimeLimitMin}}, nil
}

// CheckTimeTool reports the current phase's time pressure.
type CheckTimeTool struct{}

func (t *CheckTimeTool) Name() string        { return "check_time" }
func (t *CheckTimeTool) Description() string { return "Check remaining time in the current phase." }
func (t *CheckTimeTool) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *CheckTimeTool) Call(ctx context.Context, sm tool.StateManager, args map[string]any) (tool.Result, error) {
	tc := sm.CheckTime()
	return tool.Result{Content: map[string]any{
		"urgency":       string(tc.Urgency),
		"message":       tc.Message,
		"remaining_min": tc.RemainingM,
		"elapsed_min":   tc.ElapsedM,
	}}, nil
}

// SendAlertTool surfaces a structured alert to the user/tracer.
type SendAlertTool struct{}

// sendAlertArgs is SendAlertTool's parameter shape, reflected into a JSON
// schema by tool.SchemaFor rather than hand-assembled.
type sendAlertArgs struct {
	Kind    string `json:"kind" jsonschema:"required,enum=warning,enum=urgent,enum=critical,enum=phase_change,enum=completion"`
	Message string `json:"message,omitempty" jsonschema:"description=Alert text shown to the user"`
}

func (t *SendAlertTool) Name() string        { return "send_alert" }
func (t *SendAlertTool) Description() string { return "Emit an urgency alert to the user." }
func (t *SendAlertTool) Schema() map[string]any {
	return tool.SchemaFor(&sendAlertArgs{})
}

func (t *SendAlertTool) Call(ctx context.Context, sm tool.StateManager, args map[string]any) (tool.Result, error) {
	kind, _ := args["kind"].(string)
	message, _ := args["message"].(string)
	alert, err := phase.SendAlert(phase.AlertKind(kind), message)
	if err != nil {
		return tool.Result{Error: err.Error()}, nil
	}
	return tool.Result{Content: map[string]any{"kind": string(alert.Kind), "message": alert.Message}}, nil
}

// SetReminderTool computes a future nudge's fire time and returns it as the
// tool result; the reminder is not stored in State and nothing fires it.
type SetReminderTool struct {
	Scheduler *phase.Scheduler
}

// setReminderArgs is SetReminderTool's parameter shape, reflected into a
// JSON schema by tool.SchemaFor rather than hand-assembled.
type setReminderArgs struct {
	MinutesFromNow float64 `json:"minutes_from_now" jsonschema:"required,description=Minutes from now to fire the reminder"`
	Message        string  `json:"message" jsonschema:"required,description=Reminder text"`
}

func (t *SetReminderTool) Name() string        { return "set_reminder" }
func (t *SetReminderTool) Description() string { return "Schedule a reminder to fire minutes from now." }
func (t *SetReminderTool) Schema() map[string]any {
	return tool.SchemaFor(&setReminderArgs{})
}

func (t *SetReminderTool) Call(ctx context.Context, sm tool.StateManager, args map[string]any) (tool.Result, error) {
	minutes, _ := args["minutes_from_now"].(float64)
	message, _ := args["message"].(string)
	r := t.Scheduler.SetReminder(minutes, message)
	return tool.Result{Content: map[string]any{"fire_at": r.FireAt, "message": r.Message}}, nil
}
