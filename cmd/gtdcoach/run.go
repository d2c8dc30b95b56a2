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

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/gtdcoach/agent/pkg/agentcore"
	"github.com/gtdcoach/agent/pkg/observability"
	"github.com/gtdcoach/agent/pkg/pattern"
	"github.com/gtdcoach/agent/pkg/phase"
	"github.com/gtdcoach/agent/pkg/session"
	"github.com/gtdcoach/agent/pkg/state"
)

// runSession drives core to completion per §4.3's normative loop: invoke,
// and whenever the outcome carries an interrupt, print the prompt, read a
// reply from stdin, and invoke again with Resume(reply) — repeating until
// a terminal state (or error) comes back. It is shared by weekly, daily
// and resume, which differ only in how st is constructed.
func (a *app) runSession(ctx context.Context, core *agentcore.AgentCore, st *state.State, tracer *observability.SessionTracer) (*state.State, error) {
	rec := session.Record{
		SessionID: st.SessionID, ThreadID: st.ThreadID, WorkflowType: string(st.WorkflowType),
		UserID: st.UserID, Phase: st.CurrentPhase,
	}
	if err := a.sessions.Upsert(ctx, rec); err != nil {
		a.log.Warn("session metadata upsert failed", "error", err)
	}
	metrics := a.obs.Metrics()
	metrics.RecordSessionCreated(string(st.WorkflowType))
	metrics.SetSessionsActive(string(st.WorkflowType), 1)
	defer metrics.SetSessionsActive(string(st.WorkflowType), 0)

	reader := bufio.NewReader(os.Stdin)
	cmd := agentcore.Command{}

	for {
		outcome, err := core.Invoke(ctx, st, cmd)
		if err != nil {
			_ = a.sessions.IncrementErrors(ctx, st.SessionID)
			return st, err
		}

		if outcome.Interrupt != nil {
			fmt.Printf("\n> %v\n", outcome.Interrupt.Value)
			fmt.Print("you: ")
			reply, _ := reader.ReadString('\n')
			reply = trimNewline(reply)
			cmd = agentcore.Resume(reply)
			rec.Phase = st.CurrentPhase
			rec.Completed = false
			_ = a.sessions.Upsert(ctx, rec)
			metrics.RecordSessionEvent(string(st.WorkflowType), "interrupt")
			continue
		}

		st = outcome.State
		rec.Phase = st.CurrentPhase
		rec.Completed = len(st.Errors) == 0
		if meta, err := json.Marshal(map[string]any{
			"captures_count":   len(st.Captures),
			"priorities_count": len(st.WeeklyPriorities),
			"tool_call_count":  len(st.ToolHistory),
		}); err == nil {
			rec.Metadata = meta
		}
		if err := a.sessions.Upsert(ctx, rec); err != nil {
			a.log.Warn("session metadata upsert failed", "error", err)
		}
		if rec.Completed {
			_ = a.sessions.MarkComplete(ctx, st.SessionID)
			metrics.RecordSessionEvent(string(st.WorkflowType), "completed")
		} else {
			metrics.RecordSessionEvent(string(st.WorkflowType), "ended_with_errors")
		}
		if err := writeLastSession(st.SessionID); err != nil {
			a.log.Warn("could not record last session", "error", err)
		}
		a.saveEffectiveness(st)
		if tracer != nil {
			tracer.End()
		}
		return st, nil
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// saveEffectiveness flushes the session's buffered patterns/interventions
// into a durable record, scored per §4.6's effectiveness formula. It does
// not record a pattern-evolution entry.
func (a *app) saveEffectiveness(st *state.State) {
	allDone := st.CurrentPhase == phase.WrapUp && len(st.Errors) == 0
	var focusScore float64
	if st.FocusScore != nil {
		focusScore = *st.FocusScore
	}
	var contextSwitches int
	if st.ContextSwitches != nil {
		contextSwitches = *st.ContextSwitches
	}
	in := pattern.EffectivenessInputs{
		AllPhasesCompleted: allDone,
		FocusScore:         focusScore,
		ContextSwitches:    contextSwitches,
	}
	if _, err := a.patterns.Save(st.UserID, in, allDone); err != nil {
		a.log.Warn("pattern save failed", "error", err)
	}
}
