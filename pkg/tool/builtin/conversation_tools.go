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
	"fmt"

	"github.com/google/uuid"

	"github.com/gtdcoach/agent/pkg/state"
	"github.com/gtdcoach/agent/pkg/tool"
)

// AskUserTool suspends the agent loop to ask the user one question and
// resumes with their reply. It MUST issue at most one interrupt per
// invocation (§4.3's single-interrupt rule) — this is naturally satisfied
// here because Call returns immediately after its one Interrupt call, so
// a second interrupt within the same invocation can never be reached.
type AskUserTool struct{}

func (t *AskUserTool) Name() string        { return "ask_user" }
func (t *AskUserTool) Description() string { return "Ask the user a question and wait for their reply." }
func (t *AskUserTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question": map[string]any{"type": "string"},
		},
		"required": []string{"question"},
	}
}

func (t *AskUserTool) Call(ctx context.Context, sm tool.StateManager, args map[string]any) (tool.Result, error) {
	question, _ := args["question"].(string)
	invocationID := uuid.NewString()
	reply, err := sm.Interrupt(ctx, invocationID, question)
	if err != nil {
		return tool.Result{}, err
	}
	sm.Append(state.NewMessage(state.RoleUser, reply))
	return tool.Result{Content: map[string]any{"reply": reply}}, nil
}

// MindsweepCaptureTool records one raw capture during MIND_SWEEP. Per
// phase guidance, captures are taken verbatim with no filtering.
type MindsweepCaptureTool struct{}

func (t *MindsweepCaptureTool) Name() string { return "mindsweep_capture" }
func (t *MindsweepCaptureTool) Description() string {
	return "Record one mindsweep item exactly as stated, without filtering or judging it."
}
func (t *MindsweepCaptureTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"item": map[string]any{"type": "string"}},
		"required":   []string{"item"},
	}
}

func (t *MindsweepCaptureTool) Call(ctx context.Context, sm tool.StateManager, args map[string]any) (tool.Result, error) {
	item, _ := args["item"].(string)
	st := sm.State()
	st.Captures = append(st.Captures, item)
	sm.RecordEpisode(ctx, "mindsweep_capture", st.CurrentPhase, map[string]any{"content": item}, false)
	return tool.Result{Content: map[string]any{"captured": item, "total_captures": len(st.Captures)}}, nil
}

// ProjectReviewTool records one processed item/project during
// PROJECT_REVIEW, identifying its next action.
type ProjectReviewTool struct{}

func (t *ProjectReviewTool) Name() string { return "review_project" }
func (t *ProjectReviewTool) Description() string {
	return "Process one captured item into a project with an identified next action."
}
func (t *ProjectReviewTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"project":     map[string]any{"type": "string"},
			"next_action": map[string]any{"type": "string"},
		},
		"required": []string{"project", "next_action"},
	}
}

func (t *ProjectReviewTool) Call(ctx context.Context, sm tool.StateManager, args map[string]any) (tool.Result, error) {
	project, _ := args["project"].(string)
	nextAction, _ := args["next_action"].(string)
	st := sm.State()
	st.Projects = append(st.Projects, project)
	st.ProcessedItems = append(st.ProcessedItems, fmt.Sprintf("%s -> %s", project, nextAction))
	sm.RecordEpisode(ctx, "interaction", st.CurrentPhase, map[string]any{
		"content": fmt.Sprintf("reviewed %s: next action %s", project, nextAction),
	}, false)
	return tool.Result{Content: map[string]any{"project": project, "next_action": nextAction, "processed_count": len(st.ProcessedItems)}}, nil
}

// PrioritizeTool records the top-3 weekly priorities (ABC method).
type PrioritizeTool struct{}

func (t *PrioritizeTool) Name() string        { return "set_priorities" }
func (t *PrioritizeTool) Description() string { return "Record the top 3 priorities for the week using the ABC method." }
func (t *PrioritizeTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"priorities": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "maxItems": 3},
		},
		"required": []string{"priorities"},
	}
}

func (t *PrioritizeTool) Call(ctx context.Context, sm tool.StateManager, args map[string]any) (tool.Result, error) {
	raw, _ := args["priorities"].([]any)
	priorities := make([]string, 0, len(raw))
	for _, p := range raw {
		if s, ok := p.(string); ok {
			priorities = append(priorities, s)
		}
	}
	if len(priorities) > 3 {
		priorities = priorities[:3]
	}
	st := sm.State()
	st.WeeklyPriorities = priorities
	sm.RecordEpisode(ctx, "priorities", st.CurrentPhase, map[string]any{"content": fmt.Sprintf("%v", priorities)}, true)
	return tool.Result{Content: map[string]any{"priorities": priorities}}, nil
}

// WrapUpTool finalizes a session: stores the summary in State and records
// a session summary episode. It does not mark the session complete.
type WrapUpTool struct{}

func (t *WrapUpTool) Name() string        { return "wrap_up" }
func (t *WrapUpTool) Description() string { return "Save the session and produce a closing summary." }
func (t *WrapUpTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"summary": map[string]any{"type": "string"}},
		"required":   []string{"summary"},
	}
}

func (t *WrapUpTool) Call(ctx context.Context, sm tool.StateManager, args map[string]any) (tool.Result, error) {
	summary, _ := args["summary"].(string)
	st := sm.State()
	st.MessageSummary = summary
	sm.RecordEpisode(ctx, "session_summary", st.CurrentPhase, map[string]any{"content": summary}, true)
	return tool.Result{Content: map[string]any{"summary": summary, "captures": len(st.Captures), "priorities": st.WeeklyPriorities}}, nil
}
