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
	"fmt"
	"strings"

	"github.com/gtdcoach/agent/pkg/phase"
	"github.com/gtdcoach/agent/pkg/state"
	"github.com/gtdcoach/agent/pkg/utils"
)

// phaseGuidance gives each phase's one-line steering string, used as the
// fallback when no prompt registry is wired. The registry's BuiltIn tier
// is DefaultPhasePrompts in pkg/observability, which holds the same
// strings under "phase."-prefixed keys.
var phaseGuidance = map[string]string{
	phase.Startup:        "Check readiness, set a positive tone.",
	phase.MindSweep:      "Capture quickly, no filtering.",
	phase.ProjectReview:  "Identify next actions.",
	phase.Prioritization: "Top 3 for the week, ABC method.",
	phase.WrapUp:         "Save, celebrate, reinforce.",
}

// summarizePhase condenses the outgoing phase's messages into a short
// string bounded by SUMMARY_TOKENS. This is deliberately not an LLM call
// (the pre-model hook must stay deterministic per §4.2 step 2): it joins
// the user-visible content of the phase's messages and truncates.
func summarizePhase(phaseName string, msgs []state.Message, tc *utils.TokenCounter, summaryTokens int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] ", phaseName)
	for _, m := range msgs {
		if m.Role != state.RoleUser && m.Role != state.RoleAssistant {
			continue
		}
		b.WriteString(m.Content)
		b.WriteString(" ")
	}
	summary := strings.TrimSpace(b.String())
	if tc == nil {
		return truncateRunes(summary, summaryTokens*4)
	}
	for tc.Count(summary) > summaryTokens && len(summary) > 0 {
		cut := len(summary) - len(summary)/10 - 1
		if cut <= 0 {
			summary = ""
			break
		}
		summary = summary[:cut]
	}
	return summary
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// lastFitTrim keeps the most recent messages within maxTokens, dropping
// from the head, aligned so the kept window starts on a user message and
// ends on a user or tool message, never splitting a message. Returns the
// trimmed slice and whether any trimming occurred.
func lastFitTrim(msgs []state.Message, tc *utils.TokenCounter, maxTokens int) ([]state.Message, bool) {
	if tc == nil || len(msgs) == 0 {
		return msgs, false
	}
	toCounterMsgs := func(ms []state.Message) []utils.Message {
		out := make([]utils.Message, len(ms))
		for i, m := range ms {
			out[i] = utils.Message{Role: string(m.Role), Content: m.Content}
		}
		return out
	}
	if tc.CountMessages(toCounterMsgs(msgs)) <= maxTokens {
		return msgs, false
	}

	start := 0
	for start < len(msgs) {
		window := msgs[start:]
		if tc.CountMessages(toCounterMsgs(window)) <= maxTokens {
			break
		}
		start++
	}
	if start >= len(msgs) {
		return nil, true
	}

	// Align the window to start on a user message.
	for start < len(msgs) && msgs[start].Role != state.RoleUser {
		start++
	}
	if start >= len(msgs) {
		return nil, true
	}

	end := len(msgs)
	for end > start && msgs[end-1].Role != state.RoleUser && msgs[end-1].Role != state.RoleToolResult {
		end--
	}
	if end <= start {
		end = len(msgs)
	}
	return msgs[start:end], true
}

// PreModelInput carries everything the pre-model hook needs beyond the
// state it mutates.
type PreModelInput struct {
	AccountabilityMode string
	TimeCheck          phase.TimeCheck
	MaxInputTokens     int
	SummaryTokens      int
	SystemPromptFor    func(mode string) string
	GuidanceFor        func(phaseName string) string
}

// RunPreModelHook implements the five-step deterministic pre-model hook
// from §4.2: phase-change summarization, token-budget trimming, and
// system/time/guidance/summary prompt composition. It never mutates
// st.Messages (persisted history); it returns the composed list handed to
// the LLM for this call only.
func RunPreModelHook(st *state.State, tc *utils.TokenCounter, in PreModelInput) []state.Message {
	if in.MaxInputTokens <= 0 {
		in.MaxInputTokens = 6000
	}
	if in.SummaryTokens <= 0 {
		in.SummaryTokens = 500
	}
	guidanceFor := in.GuidanceFor
	if guidanceFor == nil {
		guidanceFor = func(p string) string { return phaseGuidance[p] }
	}

	working := st.Messages

	// Step 2: phase-change summarization.
	if st.PhaseChanged {
		outgoing := st.CurrentPhase
		if len(st.CompletedPhases) > 0 {
			outgoing = st.CompletedPhases[len(st.CompletedPhases)-1]
		}
		summary := summarizePhase(outgoing, working, tc, in.SummaryTokens)
		if st.PhaseSummary != "" {
			st.PhaseSummary = st.PhaseSummary + " " + summary
		} else {
			st.PhaseSummary = summary
		}
		if len(st.Messages) > 2 {
			st.Messages = st.Messages[len(st.Messages)-2:]
		}
		working = st.Messages
		st.PhaseChanged = false
	}

	// Step 3: token-budget trim (last-fit, never mutates persisted history).
	trimmed, didTrim := lastFitTrim(working, tc, in.MaxInputTokens)
	if didTrim {
		st.ContextOverflows++
	} else {
		trimmed = working
	}

	// Step 4: prepend system / time / guidance / phase-summary lines.
	composed := make([]state.Message, 0, len(trimmed)+4)
	if in.SystemPromptFor != nil {
		composed = append(composed, state.NewMessage(state.RoleSystem, in.SystemPromptFor(in.AccountabilityMode)))
	}
	composed = append(composed, state.NewMessage(state.RoleSystem, in.TimeCheck.Message))
	if g := guidanceFor(st.CurrentPhase); g != "" {
		composed = append(composed, state.NewMessage(state.RoleSystem, g))
	}
	if st.PhaseSummary != "" {
		s := st.PhaseSummary
		if len(s) > in.SummaryTokens {
			s = s[len(s)-in.SummaryTokens:]
		}
		composed = append(composed, state.NewMessage(state.RoleSystem, s))
	}
	composed = append(composed, trimmed...)

	// Step 5: return without mutating persisted history (st.Messages is
	// only touched above by the phase-change truncation step, which is
	// the spec's one sanctioned mutation).
	return composed
}
