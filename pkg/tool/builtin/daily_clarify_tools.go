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

// Tools implementing the daily_clarify workflow (LOAD, PREVIEW,
// PROCESS_TASK, CHECK_DEEP_WORK, ADD_TO_TODAY, OFFER_BREAK, SAVE,
// SUMMARY), grounded on original_source/gtd_coach/workflows/daily_clarify.py
// and agent/tools/time_manager_v2.py's deep-work detection.
package builtin

import (
	"context"
	"fmt"

	"github.com/gtdcoach/agent/pkg/tool"
	"github.com/gtdcoach/agent/pkg/tool/todotool"
)

// LoadInboxTool loads the day's raw task inbox into state as captures. The
// model may pass items explicitly (e.g. when the user dictates them in
// chat); when it omits them, LoadInboxTool falls back to Source, the
// out-of-scope external task-inbox collaborator (§1) behind the
// todotool.TaskSource interface. With a nil Source and no explicit items
// it loads nothing and reports source "explicit".
type LoadInboxTool struct {
	Source todotool.TaskSource
}

func (t *LoadInboxTool) Name() string        { return "load_inbox" }
func (t *LoadInboxTool) Description() string { return "Load today's task inbox for clarification." }
func (t *LoadInboxTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"items": map[string]any{"type": "array", "items": map[string]any{"type": "string"}}},
	}
}

func (t *LoadInboxTool) Call(ctx context.Context, sm tool.StateManager, args map[string]any) (tool.Result, error) {
	raw, hasExplicit := args["items"].([]any)
	st := sm.State()
	source := "explicit"
	if hasExplicit && len(raw) > 0 {
		for _, it := range raw {
			if s, ok := it.(string); ok {
				st.Captures = append(st.Captures, s)
			}
		}
	} else if t.Source != nil {
		items, err := t.Source.FetchInbox(ctx)
		if err != nil {
			return tool.Result{Error: fmt.Sprintf("load inbox: %v", err)}, nil
		}
		st.Captures = append(st.Captures, items...)
		source = "task_source"
	}
	return tool.Result{Content: map[string]any{"loaded": len(st.Captures), "source": source}}, nil
}

// PreviewInboxTool surfaces a quick count/preview before processing begins.
type PreviewInboxTool struct{}

func (t *PreviewInboxTool) Name() string        { return "preview_inbox" }
func (t *PreviewInboxTool) Description() string { return "Preview the loaded inbox before processing each item." }
func (t *PreviewInboxTool) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *PreviewInboxTool) Call(ctx context.Context, sm tool.StateManager, args map[string]any) (tool.Result, error) {
	st := sm.State()
	remaining := st.Captures[len(st.ProcessedItems):]
	return tool.Result{Content: map[string]any{"remaining_count": len(remaining), "remaining": remaining}}, nil
}

// ProcessTaskTool clarifies one inbox item into a decision: do it now,
// defer it, delegate it, or drop it.
type ProcessTaskTool struct{}

func (t *ProcessTaskTool) Name() string        { return "process_task" }
func (t *ProcessTaskTool) Description() string { return "Clarify one inbox item: do, defer, delegate, or drop." }
func (t *ProcessTaskTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"item":     map[string]any{"type": "string"},
			"decision": map[string]any{"type": "string", "enum": []string{"do", "defer", "delegate", "drop"}},
		},
		"required": []string{"item", "decision"},
	}
}

func (t *ProcessTaskTool) Call(ctx context.Context, sm tool.StateManager, args map[string]any) (tool.Result, error) {
	item, _ := args["item"].(string)
	decision, _ := args["decision"].(string)
	st := sm.State()
	st.ProcessedItems = append(st.ProcessedItems, fmt.Sprintf("%s: %s", item, decision))
	sm.RecordEpisode(ctx, "interaction", st.CurrentPhase, map[string]any{"content": fmt.Sprintf("%s -> %s", item, decision)}, false)
	return tool.Result{Content: map[string]any{"item": item, "decision": decision, "processed_count": len(st.ProcessedItems)}}, nil
}

// CheckDeepWorkTool flags whether the just-processed task needs a
// protected deep-work block, based on its estimated_minutes (25 or more).
type CheckDeepWorkTool struct{}

func (t *CheckDeepWorkTool) Name() string        { return "check_deep_work" }
func (t *CheckDeepWorkTool) Description() string { return "Assess whether the current task needs a deep-work block." }
func (t *CheckDeepWorkTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"estimated_minutes": map[string]any{"type": "number"}},
		"required":   []string{"estimated_minutes"},
	}
}

func (t *CheckDeepWorkTool) Call(ctx context.Context, sm tool.StateManager, args map[string]any) (tool.Result, error) {
	minutes, _ := args["estimated_minutes"].(float64)
	needsDeepWork := minutes >= 25
	if needsDeepWork {
		st := sm.State()
		if st.ContextSwitches == nil {
			zero := 0
			st.ContextSwitches = &zero
		}
	}
	return tool.Result{Content: map[string]any{"needs_deep_work": needsDeepWork, "estimated_minutes": minutes}}, nil
}

// AddToTodayTool commits a clarified item to today's actionable list.
type AddToTodayTool struct{}

func (t *AddToTodayTool) Name() string        { return "add_to_today" }
func (t *AddToTodayTool) Description() string { return "Add a clarified task to today's action list." }
func (t *AddToTodayTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"task": map[string]any{"type": "string"}},
		"required":   []string{"task"},
	}
}

func (t *AddToTodayTool) Call(ctx context.Context, sm tool.StateManager, args map[string]any) (tool.Result, error) {
	task, _ := args["task"].(string)
	st := sm.State()
	st.WeeklyPriorities = append(st.WeeklyPriorities, task)
	return tool.Result{Content: map[string]any{"added": task, "today_count": len(st.WeeklyPriorities)}}, nil
}

// OfferBreakTool suggests a short break after a run of context switches,
// incrementing the switch counter each time processing continues without
// one.
type OfferBreakTool struct{}

func (t *OfferBreakTool) Name() string        { return "offer_break" }
func (t *OfferBreakTool) Description() string { return "Offer the user a short break if context switches are piling up." }
func (t *OfferBreakTool) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *OfferBreakTool) Call(ctx context.Context, sm tool.StateManager, args map[string]any) (tool.Result, error) {
	st := sm.State()
	if st.ContextSwitches == nil {
		zero := 0
		st.ContextSwitches = &zero
	}
	*st.ContextSwitches++
	shouldBreak := *st.ContextSwitches >= 5
	if shouldBreak {
		*st.ContextSwitches = 0
	}
	return tool.Result{Content: map[string]any{"should_break": shouldBreak, "context_switches": *st.ContextSwitches}}, nil
}

// SaveDailyTool persists the clarified inbox at the end of a daily run.
type SaveDailyTool struct{}

func (t *SaveDailyTool) Name() string        { return "save_daily" }
func (t *SaveDailyTool) Description() string { return "Persist today's clarified inbox and priorities." }
func (t *SaveDailyTool) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *SaveDailyTool) Call(ctx context.Context, sm tool.StateManager, args map[string]any) (tool.Result, error) {
	st := sm.State()
	sm.RecordEpisode(ctx, "session_summary", st.CurrentPhase, map[string]any{
		"content": fmt.Sprintf("processed %d items, %d added to today", len(st.ProcessedItems), len(st.WeeklyPriorities)),
	}, true)
	return tool.Result{Content: map[string]any{"saved": true, "processed": len(st.ProcessedItems)}}, nil
}

// DailySummaryTool produces the closing summary for a daily-clarify run.
type DailySummaryTool struct{}

func (t *DailySummaryTool) Name() string        { return "daily_summary" }
func (t *DailySummaryTool) Description() string { return "Summarize today's clarify session." }
func (t *DailySummaryTool) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *DailySummaryTool) Call(ctx context.Context, sm tool.StateManager, args map[string]any) (tool.Result, error) {
	st := sm.State()
	summary := fmt.Sprintf("Processed %d items today; %d queued for action.", len(st.ProcessedItems), len(st.WeeklyPriorities))
	st.MessageSummary = summary
	return tool.Result{Content: map[string]any{"summary": summary}}, nil
}
