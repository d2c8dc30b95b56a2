package interrupt

import (
	"log/slog"
	"time"
)

// Tracer is the subset of pkg/observability.Tracer the monitor needs,
// declared locally to avoid an import cycle (observability does not
// depend on interrupt).
type Tracer interface {
	Event(name string, attrs map[string]any)
	Score(name string, value float64)
}

// Monitor records interrupt activity for diagnostics, grounded on the
// teacher source's interrupt_monitor.py: every suspend attempt, every
// resume, and the running state at a tool boundary are logged and traced
// so a stuck or duplicated interrupt is debuggable after the fact.
type Monitor struct {
	tracer Tracer
	log    *slog.Logger
}

// NewMonitor builds a Monitor. tracer may be nil, in which case tracing is
// skipped and only logging occurs.
func NewMonitor(tracer Tracer, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{tracer: tracer, log: log}
}

// Attempt records that a tool is about to call Interrupt.
func (m *Monitor) Attempt(toolName string, value any) {
	m.log.Debug("interrupt.attempt", "tool", toolName)
	if m.tracer != nil {
		m.tracer.Event("interrupt.attempt", map[string]any{"tool": toolName, "value": value})
	}
}

// Resumed records that a previously-suspended tool invocation has been
// replayed and received its cached reply. This is normal behavior on
// resume, not an error.
func (m *Monitor) Resumed(toolName string, reply string) {
	m.log.Debug("interrupt.resumed", "tool", toolName)
	if m.tracer != nil {
		m.tracer.Event("interrupt.resumed", map[string]any{"tool": toolName, "reply_len": len(reply)})
	}
}

// TraceState records the interrupt-relevant fields of the current state at
// a tool boundary: phase, message count, and whether the session is
// currently awaiting input.
func (m *Monitor) TraceState(phase string, messageCount int, awaitingInput bool, mode string) {
	if m.tracer == nil {
		return
	}
	m.tracer.Event("interrupt.state", map[string]any{
		"phase":          phase,
		"message_count":  messageCount,
		"awaiting_input": awaitingInput,
		"interrupt_mode": mode,
		"timestamp":      time.Now(),
	})
}

// Debugger accumulates events across a single interrupt-handling episode
// (suspend through resume) for post-hoc analysis.
type Debugger struct {
	monitor        *Monitor
	start          time.Time
	interruptCount int
	events         []string
}

// NewDebugger starts a debugging episode.
func (m *Monitor) NewDebugger() *Debugger {
	d := &Debugger{monitor: m, start: time.Now()}
	m.log.Debug("debug.interrupt.start")
	if m.tracer != nil {
		m.tracer.Event("debug.interrupt.start", nil)
	}
	return d
}

// LogEvent records a named event within the episode.
func (d *Debugger) LogEvent(event string, data map[string]any) {
	d.events = append(d.events, event)
	if d.monitor.tracer != nil {
		d.monitor.tracer.Event("debug."+event, data)
	}
}

// CheckResult inspects a stream result for an interrupt marker and bumps
// the episode's interrupt counter when found.
func (d *Debugger) CheckResult(hasInterrupt bool) {
	if hasInterrupt {
		d.interruptCount++
		d.LogEvent("interrupt_detected", map[string]any{"count": d.interruptCount})
	}
}

// Close ends the episode and emits a summary event with the last few
// events recorded.
func (d *Debugger) Close() {
	duration := time.Since(d.start)
	tail := d.events
	if len(tail) > 5 {
		tail = tail[len(tail)-5:]
	}
	if d.monitor.tracer != nil {
		d.monitor.tracer.Event("debug.interrupt.end", map[string]any{
			"duration_ms":     duration.Milliseconds(),
			"interrupt_count": d.interruptCount,
			"recent_events":   tail,
		})
	}
}

// FailureAnalysis is the result of AnalyzeFailure.
type FailureAnalysis struct {
	ExpectedInterrupt bool
	GotInterrupt      bool
	ToolName          string
	PossibleCauses    []string
	Score             float64
}

// AnalyzeFailure compares an expected interrupt outcome against what a
// tool invocation actually produced, surfacing likely root causes the way
// the teacher source's analyze_interrupt_failure does.
func AnalyzeFailure(expectedInterrupt, gotInterrupt bool, toolName string, hasMessages bool) FailureAnalysis {
	fa := FailureAnalysis{ExpectedInterrupt: expectedInterrupt, GotInterrupt: gotInterrupt, ToolName: toolName}
	if expectedInterrupt == gotInterrupt {
		fa.Score = 1.0
		return fa
	}
	fa.Score = 0.0
	if expectedInterrupt && !gotInterrupt {
		if hasMessages {
			fa.PossibleCauses = append(fa.PossibleCauses, "got messages instead of interrupt - tool might have completed")
		}
		fa.PossibleCauses = append(fa.PossibleCauses, "tool might not be properly wrapped for interrupt propagation")
	}
	if !expectedInterrupt && gotInterrupt {
		fa.PossibleCauses = append(fa.PossibleCauses, "tool issued an unexpected interrupt - check single-interrupt-rule bookkeeping")
	}
	return fa
}
