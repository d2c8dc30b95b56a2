package interrupt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTracer struct {
	events []string
	scores map[string]float64
}

func newFakeTracer() *fakeTracer {
	return &fakeTracer{scores: make(map[string]float64)}
}

func (f *fakeTracer) Event(name string, attrs map[string]any) {
	f.events = append(f.events, name)
}

func (f *fakeTracer) Score(name string, value float64) {
	f.scores[name] = value
}

func TestMonitorAttemptAndResumedRecordEvents(t *testing.T) {
	tr := newFakeTracer()
	m := NewMonitor(tr, nil)

	m.Attempt("ask_user", "ready?")
	m.Resumed("ask_user", "yes")

	require.Len(t, tr.events, 2)
	assert.Equal(t, "interrupt.attempt", tr.events[0])
	assert.Equal(t, "interrupt.resumed", tr.events[1])
}

func TestMonitorWithNilTracerDoesNotPanic(t *testing.T) {
	m := NewMonitor(nil, nil)
	m.Attempt("ask_user", "ready?")
	m.Resumed("ask_user", "yes")
	m.TraceState("MIND_SWEEP", 3, true, "conversational")
}

func TestMonitorTraceStateSkipsWithNilTracer(t *testing.T) {
	m := NewMonitor(nil, nil)
	m.TraceState("MIND_SWEEP", 3, true, "conversational")
}

func TestMonitorTraceStateRecordsWithTracer(t *testing.T) {
	tr := newFakeTracer()
	m := NewMonitor(tr, nil)
	m.TraceState("MIND_SWEEP", 3, true, "conversational")
	require.Len(t, tr.events, 1)
	assert.Equal(t, "interrupt.state", tr.events[0])
}

func TestDebuggerAccumulatesEventsAcrossEpisode(t *testing.T) {
	tr := newFakeTracer()
	m := NewMonitor(tr, nil)

	dbg := m.NewDebugger()
	dbg.LogEvent("dispatch", map[string]any{"tool": "ask_user"})
	dbg.CheckResult(true)
	dbg.Close()

	assert.Contains(t, tr.events, "debug.interrupt.start")
	assert.Contains(t, tr.events, "debug.dispatch")
	assert.Contains(t, tr.events, "debug.interrupt_detected")
	assert.Contains(t, tr.events, "debug.interrupt.end")
}

func TestDebuggerCheckResultOnlyCountsDetectedInterrupts(t *testing.T) {
	tr := newFakeTracer()
	m := NewMonitor(tr, nil)

	dbg := m.NewDebugger()
	dbg.CheckResult(false)
	dbg.CheckResult(true)
	dbg.CheckResult(true)

	assert.Equal(t, 2, dbg.interruptCount)
}

func TestAnalyzeFailureMatchingExpectationScoresOne(t *testing.T) {
	fa := AnalyzeFailure(true, true, "ask_user", false)
	assert.Equal(t, 1.0, fa.Score)
	assert.Empty(t, fa.PossibleCauses)

	fa = AnalyzeFailure(false, false, "ask_user", false)
	assert.Equal(t, 1.0, fa.Score)
}

func TestAnalyzeFailureMissingInterruptSuggestsCauses(t *testing.T) {
	fa := AnalyzeFailure(true, false, "ask_user", true)
	assert.Equal(t, 0.0, fa.Score)
	assert.Contains(t, fa.PossibleCauses, "got messages instead of interrupt - tool might have completed")
	assert.Contains(t, fa.PossibleCauses, "tool might not be properly wrapped for interrupt propagation")
}

func TestAnalyzeFailureUnexpectedInterruptFlagsBookkeeping(t *testing.T) {
	fa := AnalyzeFailure(false, true, "ask_user", false)
	assert.Equal(t, 0.0, fa.Score)
	assert.Contains(t, fa.PossibleCauses, "tool issued an unexpected interrupt - check single-interrupt-rule bookkeeping")
}
