// Package phase implements the PhaseScheduler: the ordered set of phases a
// workflow moves through, each with a hard time budget, plus time-pressure
// detection. Grounded on the original agent's PHASE_LIMITS table and
// _get_time_context threshold ladder (gtd_coach/agent/core.py), adapted
// into a standalone package so it can be driven by a tool rather than
// embedded in the agent core.
package phase

import (
	"fmt"
	"time"

	"github.com/gtdcoach/agent/pkg/state"
)

// Phase names for the weekly_review workflow, in strict traversal order.
const (
	Startup        = "STARTUP"
	MindSweep      = "MIND_SWEEP"
	ProjectReview  = "PROJECT_REVIEW"
	Prioritization = "PRIORITIZATION"
	WrapUp         = "WRAP_UP"
)

// Phase names for the daily_clarify workflow, in strict traversal order.
const (
	Load          = "LOAD"
	Preview       = "PREVIEW"
	ProcessTask   = "PROCESS_TASK"
	CheckDeepWork = "CHECK_DEEP_WORK"
	AddToToday    = "ADD_TO_TODAY"
	OfferBreak    = "OFFER_BREAK"
	Save          = "SAVE"
	Summary       = "SUMMARY"
)

// WeeklyOrder is the strict phase order for a weekly review.
var WeeklyOrder = []string{Startup, MindSweep, ProjectReview, Prioritization, WrapUp}

// WeeklyLimits gives each weekly phase's time budget in minutes.
var WeeklyLimits = map[string]int{
	Startup:        2,
	MindSweep:      10,
	ProjectReview:  12,
	Prioritization: 5,
	WrapUp:         3,
}

// DailyOrder is the strict phase order for daily-clarify. PROCESS_TASK,
// CHECK_DEEP_WORK, ADD_TO_TODAY and OFFER_BREAK work through inbox items,
// but the scheduler models them as a single linear pass; no tool moves the
// phase back to PROCESS_TASK.
var DailyOrder = []string{Load, Preview, ProcessTask, CheckDeepWork, AddToToday, OfferBreak, Save, Summary}

// DailyLimits has no hard per-phase budget in the original tool (daily
// clarify is item-paced, not clock-paced); zero means "no limit enforced".
var DailyLimits = map[string]int{
	Load: 0, Preview: 0, ProcessTask: 0, CheckDeepWork: 0,
	AddToToday: 0, OfferBreak: 0, Save: 0, Summary: 0,
}

// OrderFor returns the phase order and limit table for a workflow type.
func OrderFor(w state.WorkflowType) ([]string, map[string]int) {
	if w == state.WorkflowDailyClarify {
		return DailyOrder, DailyLimits
	}
	return WeeklyOrder, WeeklyLimits
}

// Urgency is the result of CheckTime.
type Urgency string

const (
	UrgencyGoodPace  Urgency = "good_pace"
	UrgencyWrapUp    Urgency = "wrap_up"
	UrgencyWrapUpNow Urgency = "wrap_up_now"
	UrgencyFinalMin  Urgency = "final_minute"
	UrgencyTimeUp    Urgency = "time_up"
)

// TimeCheck is the structured result of CheckTime.
type TimeCheck struct {
	Urgency    Urgency
	Message    string
	RemainingM float64
	ElapsedM   float64
}

// Scheduler drives phase transitions and time-pressure checks for one
// session. It never mutates State.Messages; callers (tools) are
// responsible for appending any resulting message to the transcript.
type Scheduler struct {
	order  []string
	limits map[string]int
	clock  func() time.Time
}

// New builds a Scheduler for the given workflow. clock defaults to
// time.Now but can be overridden in tests to make elapsed-time assertions
// deterministic.
func New(w state.WorkflowType, clock func() time.Time) *Scheduler {
	if clock == nil {
		clock = time.Now
	}
	order, limits := OrderFor(w)
	return &Scheduler{order: order, limits: limits, clock: clock}
}

// Order returns the phase traversal order this scheduler enforces.
func (s *Scheduler) Order() []string { return s.order }

func (s *Scheduler) indexOf(phase string) int {
	for i, p := range s.order {
		if p == phase {
			return i
		}
	}
	return -1
}

// Transition validates and applies a phase change. Only the phase right
// after the current one (the first phase when none is active) is accepted,
// so phases cannot be skipped or repeated. It never panics and never
// mutates st on failure; on success it records the outgoing phase's
// duration, appends it to CompletedPhases, resets the phase clock, and
// raises PhaseChanged for the pre-model hook to observe.
func (s *Scheduler) Transition(st *state.State, next string) error {
	idx := s.indexOf(next)
	if idx < 0 {
		return fmt.Errorf("phase: unrecognized phase %q", next)
	}
	if want := s.indexOf(st.CurrentPhase) + 1; idx != want {
		return fmt.Errorf("phase: cannot move from %q to %q; phases advance one step at a time in order", st.CurrentPhase, next)
	}
	cur := st.CurrentPhase
	now := s.clock()
	if cur != "" {
		elapsed := now.Sub(st.PhaseStartTime).Minutes()
		if st.PhaseDurations == nil {
			st.PhaseDurations = map[string]float64{}
		}
		st.PhaseDurations[cur] = elapsed
		st.CompletedPhases = append(st.CompletedPhases, cur)
	}
	st.CurrentPhase = next
	st.PhaseStartTime = now
	st.PhaseTimeLimitMin = s.limits[next]
	st.PhaseChanged = true
	st.TimeWarnings = nil
	st.TimePressure = false
	return nil
}

// CheckTime computes the current urgency level for the active phase. The
// five thresholds (time up, final minute, wrap up, 20%-remaining wrap up,
// good pace) match the original's _get_time_context ladder.
func (s *Scheduler) CheckTime(st *state.State) TimeCheck {
	now := s.clock()
	elapsed := now.Sub(st.PhaseStartTime).Minutes()
	limit := float64(st.PhaseTimeLimitMin)
	remaining := limit - elapsed
	st.LastTimeCheck = now

	tc := TimeCheck{RemainingM: remaining, ElapsedM: elapsed}
	switch {
	case limit <= 0:
		tc.Urgency = UrgencyGoodPace
		tc.Message = fmt.Sprintf("no time limit set for %s", st.CurrentPhase)
	case remaining <= 0:
		tc.Urgency = UrgencyTimeUp
		tc.Message = fmt.Sprintf("TIME UP for %s! Must transition NOW!", st.CurrentPhase)
		st.TimePressure = true
		st.InteractionMode = state.InteractionUrgent
	case remaining <= 1:
		tc.Urgency = UrgencyFinalMin
		tc.Message = fmt.Sprintf("FINAL MINUTE in %s - wrap up quickly!", st.CurrentPhase)
		st.InteractionMode = state.InteractionUrgent
	case remaining < 2:
		tc.Urgency = UrgencyWrapUpNow
		tc.Message = fmt.Sprintf("%.1f min left in %s - wrap up quickly!", remaining, st.CurrentPhase)
		st.TimePressure = true
	case remaining < limit*0.2:
		tc.Urgency = UrgencyWrapUp
		tc.Message = fmt.Sprintf("%.1f min remaining in %s - start wrapping up", remaining, st.CurrentPhase)
	default:
		tc.Urgency = UrgencyGoodPace
		tc.Message = fmt.Sprintf("%.0f min remaining in %s", remaining, st.CurrentPhase)
	}

	if tc.Urgency != UrgencyGoodPace {
		if len(st.TimeWarnings) == 0 || st.TimeWarnings[len(st.TimeWarnings)-1] != string(tc.Urgency) {
			st.TimeWarnings = append(st.TimeWarnings, string(tc.Urgency))
		}
	}
	return tc
}

// AlertKind enumerates send_alert's supported kinds.
type AlertKind string

const (
	AlertWarning    AlertKind = "warning"
	AlertUrgent     AlertKind = "urgent"
	AlertCritical   AlertKind = "critical"
	AlertPhaseChange AlertKind = "phase_change"
	AlertCompletion AlertKind = "completion"
)

// Alert is the structured result handed back to the tool layer for
// surfacing to the user / tracer.
type Alert struct {
	Kind    AlertKind
	Message string
}

// SendAlert builds an Alert for the given kind, falling back to a
// kind-specific default message when message is empty.
func SendAlert(kind AlertKind, message string) (Alert, error) {
	switch kind {
	case AlertWarning, AlertUrgent, AlertCritical, AlertPhaseChange, AlertCompletion:
	default:
		return Alert{}, fmt.Errorf("phase: unknown alert kind %q", kind)
	}
	if message == "" {
		switch kind {
		case AlertPhaseChange:
			message = "moving to the next phase"
		case AlertCompletion:
			message = "session complete"
		default:
			message = "time check"
		}
	}
	return Alert{Kind: kind, Message: message}, nil
}

// Reminder is a scheduled future nudge. The scheduler does not run timers
// itself (there is no background clock goroutine per §5's single-threaded
// cooperative model). SetReminder only computes when the reminder fires and
// returns it; the Reminder is not stored in State and nothing surfaces it
// later.
type Reminder struct {
	FireAt  time.Time
	Message string
}

// SetReminder schedules a reminder minutesFromNow relative to the
// scheduler's clock.
func (s *Scheduler) SetReminder(minutesFromNow float64, message string) Reminder {
	return Reminder{FireAt: s.clock().Add(time.Duration(minutesFromNow * float64(time.Minute))), Message: message}
}
