// Package state defines the typed conversation/session state shared by the
// phase scheduler, the ReAct agent core, and every tool. A dynamic
// attribute-bag design (as used by the Python original this system is
// based on) is replaced here with a struct carrying every field the spec
// requires plus an opaque map for forward-compatible extensions.
package state

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowType selects which phase set a session runs.
type WorkflowType string

const (
	WorkflowWeeklyReview WorkflowType = "weekly_review"
	WorkflowDailyClarify WorkflowType = "daily_clarify"
)

// AccountabilityMode controls the tone of coaching prompts and guidance.
type AccountabilityMode string

const (
	AccountabilityFirm     AccountabilityMode = "firm"
	AccountabilityGentle   AccountabilityMode = "gentle"
	AccountabilityAdaptive AccountabilityMode = "adaptive"
)

// InteractionMode reflects whether the session is proceeding normally or
// under time pressure.
type InteractionMode string

const (
	InteractionConversational InteractionMode = "conversational"
	InteractionUrgent         InteractionMode = "urgent"
)

// Session is the durable, queryable record of a run. It is owned by the
// metadata store (pkg/session); State below is the live, in-memory working
// copy owned exclusively by the agent core while a session is active.
type Session struct {
	ID           string       `json:"id"`
	ThreadID     string       `json:"thread_id"`
	UserID       string       `json:"user_id"`
	WorkflowType WorkflowType `json:"workflow_type"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	CurrentPhase string       `json:"current_phase"`
	Completed    []string     `json:"completed_phases"`
	ErrorCount   int          `json:"error_count"`
	Done         bool         `json:"completed"`
}

// NewSessionID derives a timestamp-based session identifier, matching the
// original tool's "session id is timestamp derived" convention, disambiguated
// with a short random suffix so two sessions started within the same second
// never collide.
func NewSessionID(now time.Time) string {
	return now.Format("20060102_150405") + "_" + uuid.NewString()[:8]
}

// State is the live working memory of one agent run. AgentCore is the sole
// writer; tools and the pre-model hook mutate it only through the methods
// exposed by ToolStateManager (pkg/agentcore).
type State struct {
	Messages []Message `json:"messages"`

	SessionID    string       `json:"session_id"`
	ThreadID     string       `json:"thread_id"`
	WorkflowType WorkflowType `json:"workflow_type"`
	StartedAt    time.Time    `json:"started_at"`
	UserID       string       `json:"user_id"`

	UserContext            map[string]any `json:"user_context"`
	PreviousSessionSummary *string        `json:"previous_session_summary,omitempty"`
	RecurringPatterns      []string       `json:"recurring_patterns,omitempty"`
	ADHDPatterns           []string       `json:"adhd_patterns"`
	AccountabilityMode     AccountabilityMode `json:"accountability_mode"`

	Captures         []string `json:"captures"`
	ProcessedItems   []string `json:"processed_items"`
	Projects         []string `json:"projects"`
	WeeklyPriorities []string `json:"weekly_priorities"`

	TimingData         map[string]any `json:"timing_data,omitempty"`
	FocusScore         *float64       `json:"focus_score,omitempty"`
	ContextSwitches    *int           `json:"context_switches,omitempty"`
	GraphitiEpisodeIDs []string       `json:"graphiti_episode_ids"`
	MemoryBatch        []string       `json:"memory_batch"`

	CurrentPhase    string   `json:"current_phase"`
	CompletedPhases []string `json:"completed_phases"`
	AvailableTools  []string `json:"available_tools"`
	ToolHistory     []string `json:"tool_history"`

	PhaseStartTime    time.Time `json:"phase_start_time"`
	PhaseTimeLimitMin int       `json:"phase_time_limit_minutes"`
	TotalElapsedMin   float64   `json:"total_elapsed_minutes"`
	TimeWarnings      []string  `json:"time_warnings"`
	LastTimeCheck     time.Time `json:"last_time_check"`
	TimePressure      bool      `json:"time_pressure_mode"`

	InteractionMode InteractionMode `json:"interaction_mode"`
	AwaitingInput   bool            `json:"awaiting_input"`
	InputTimeout    *time.Duration  `json:"input_timeout,omitempty"`

	ContextUsage     map[string]int `json:"context_usage"`
	MessageSummary   string         `json:"message_summary"`
	PhaseSummary     string         `json:"phase_summary"`
	PhaseChanged     bool           `json:"phase_changed"`
	ContextOverflows int            `json:"context_overflow_count"`

	Errors           []string       `json:"errors"`
	RetryCount       int            `json:"retry_count"`
	LastCheckpointID string         `json:"last_checkpoint_id,omitempty"`
	PhaseDurations   map[string]float64 `json:"phase_durations"`
	ToolLatencies    map[string]float64 `json:"tool_latencies"`
	LLMTokenUsage    map[string]int     `json:"llm_token_usage"`

	SkipTiming  bool `json:"skip_timing"`
	VoiceEnabled bool `json:"voice_enabled"`
	Verbose     bool `json:"verbose"`
	TestMode    bool `json:"test_mode"`

	Extra map[string]any `json:"extra,omitempty"`
}

// New returns a State with every required field populated to its zero
// value / default, mirroring the original agent's _ensure_state_fields
// defaulting pass.
func New(sessionID string, workflow WorkflowType, userID string, mode AccountabilityMode) *State {
	now := time.Now()
	return &State{
		Messages:           []Message{},
		SessionID:          sessionID,
		ThreadID:           sessionID,
		WorkflowType:       workflow,
		StartedAt:          now,
		UserID:             userID,
		UserContext:        map[string]any{},
		ADHDPatterns:       []string{},
		AccountabilityMode: mode,
		Captures:           []string{},
		ProcessedItems:     []string{},
		Projects:           []string{},
		WeeklyPriorities:   []string{},
		GraphitiEpisodeIDs: []string{},
		MemoryBatch:        []string{},
		CompletedPhases:    []string{},
		AvailableTools:     []string{},
		ToolHistory:        []string{},
		PhaseStartTime:     now,
		LastTimeCheck:      now,
		InteractionMode:    InteractionConversational,
		ContextUsage:       map[string]int{},
		PhaseDurations:     map[string]float64{},
		ToolLatencies:      map[string]float64{},
		LLMTokenUsage:      map[string]int{},
	}
}

// EnsureDefaults fills any required field left at its zero value, used when
// rehydrating a State from a checkpoint that predates a field addition.
func (s *State) EnsureDefaults() {
	if s.Messages == nil {
		s.Messages = []Message{}
	}
	if s.CurrentPhase == "" {
		s.CurrentPhase = "STARTUP"
	}
	if s.PhaseStartTime.IsZero() {
		s.PhaseStartTime = time.Now()
	}
	if s.AccountabilityMode == "" {
		s.AccountabilityMode = AccountabilityFirm
	}
	if s.UserContext == nil {
		s.UserContext = map[string]any{}
	}
	if s.ContextUsage == nil {
		s.ContextUsage = map[string]int{}
	}
	if s.PhaseDurations == nil {
		s.PhaseDurations = map[string]float64{}
	}
	if s.ToolLatencies == nil {
		s.ToolLatencies = map[string]float64{}
	}
	if s.LLMTokenUsage == nil {
		s.LLMTokenUsage = map[string]int{}
	}
}

// Append adds a message to the transcript. Messages are immutable once
// appended; callers must construct a new Message rather than mutate one
// already in Messages.
func (s *State) Append(m Message) {
	s.Messages = append(s.Messages, m)
}

// IsPrefixConsistent reports whether CompletedPhases plus CurrentPhase form
// a strict prefix of order — the phase-monotonicity invariant from the
// spec's data model.
func IsPrefixConsistent(order []string, completed []string, current string) bool {
	if len(completed) > len(order) {
		return false
	}
	for i, p := range completed {
		if order[i] != p {
			return false
		}
	}
	if current == "" {
		return true
	}
	if len(completed) >= len(order) {
		return false
	}
	return order[len(completed)] == current
}
