package pattern

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectivenessBaseline(t *testing.T) {
	assert.Equal(t, 0.5, Effectiveness(EffectivenessInputs{}))
}

func TestEffectivenessBonusesAndPenalties(t *testing.T) {
	score := Effectiveness(EffectivenessInputs{
		AllPhasesCompleted: true,
		FocusScore:         75,
		Coherence:          0.8,
	})
	assert.InDelta(t, 0.9, score, 0.001)

	penalized := Effectiveness(EffectivenessInputs{
		HighSeverityCount: 3,
		ContextSwitches:   12,
	})
	assert.InDelta(t, 0.3, penalized, 0.001)
}

func TestEffectivenessClampedToUnitRange(t *testing.T) {
	high := Effectiveness(EffectivenessInputs{AllPhasesCompleted: true, FocusScore: 100, Coherence: 1})
	assert.LessOrEqual(t, high, 1.0)

	low := Effectiveness(EffectivenessInputs{HighSeverityCount: 10, ContextSwitches: 50})
	assert.GreaterOrEqual(t, low, 0.0)
}

func TestTrackAndSaveFlushesBuffer(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	store.TrackPattern(Pattern{Type: "procrastination", Description: "avoided project review", Severity: "medium"})
	store.TrackIntervention(Intervention{Type: "reframe", Context: "mindsweep stalled"})

	sessionID, err := store.Save("user-1", EffectivenessInputs{AllPhasesCompleted: true}, true)
	require.NoError(t, err)
	assert.NotEmpty(t, sessionID)

	records, err := store.loadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "user-1", records[0].UserID)
	require.Len(t, records[0].Patterns, 1)
	assert.Equal(t, "avoided project review", records[0].Patterns[0].Description)
	require.Len(t, records[0].Interventions, 1)
	assert.True(t, records[0].Completed)
}

func TestSaveClearsBufferBetweenCalls(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	store.TrackPattern(Pattern{Type: "overcommit", Description: "too many priorities"})
	_, err = store.Save("user-2", EffectivenessInputs{}, false)
	require.NoError(t, err)

	sessionID, err := store.Save("user-2", EffectivenessInputs{}, false)
	require.NoError(t, err)

	records, err := store.loadAll()
	require.NoError(t, err)
	for _, rec := range records {
		if rec.SessionID == sessionID {
			assert.Empty(t, rec.Patterns)
		}
	}
}

func TestLoadRecurringUsesAdaptiveThreshold(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		store.TrackPattern(Pattern{Type: "procrastination", Description: "delays weekly review"})
		_, err := store.Save("user-3", EffectivenessInputs{}, false)
		require.NoError(t, err)
	}

	recurring, err := store.LoadRecurring(4)
	require.NoError(t, err)
	require.Len(t, recurring, 1)
	assert.Equal(t, "delays weekly review", recurring[0].Description)
	assert.Equal(t, 2, recurring[0].Count)
}

func TestInterventionHistoryAveragesEffectiveness(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	store.TrackIntervention(Intervention{Type: "timeboxing", Context: "project review ran long"})
	_, err = store.Save("user-4", EffectivenessInputs{AllPhasesCompleted: true}, true)
	require.NoError(t, err)

	hist, err := store.InterventionHistory("timeboxing")
	require.NoError(t, err)
	assert.Equal(t, 1, hist.Count)
	assert.Greater(t, hist.AvgEffectiveness, 0.0)
}

func TestNewStoreCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "patterns")
	_, err := NewStore(dir)
	require.NoError(t, err)
}
