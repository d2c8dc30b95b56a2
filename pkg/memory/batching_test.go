package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtdcoach/agent/pkg/memory/sink"
)

// fakeSink is an in-process sink.Sink recording every Send call and
// serving canned Search hits, with optional forced failures.
type fakeSink struct {
	mu        sync.Mutex
	sent      [][]sink.Episode
	hits      []sink.SearchHit
	failN     int // fail the next N Send calls with a retryable error
	terminal  bool
	closed    bool
}

func (f *fakeSink) Send(ctx context.Context, episodes []sink.Episode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		if f.terminal {
			return &sink.TerminalError{Err: assert.AnError}
		}
		return assert.AnError
	}
	f.sent = append(f.sent, episodes)
	return nil
}

func (f *fakeSink) Search(ctx context.Context, groupID, query string, topK int) ([]sink.SearchHit, error) {
	return f.hits, nil
}

func (f *fakeSink) Close() error {
	f.closed = true
	return nil
}

func TestRecordSendsImmediateTypesWithoutBatching(t *testing.T) {
	fs := &fakeSink{}
	mem := New(DefaultConfig(), fs, "sess-1", "group-1")

	err := mem.Record(context.Background(), TypeSessionSummary, "WRAP_UP", map[string]any{"content": "summary text"}, false)
	require.NoError(t, err)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Len(t, fs.sent, 1)
	assert.Equal(t, TypeSessionSummary, fs.sent[0][0].Type)
}

func TestRecordSkipsTrivialContent(t *testing.T) {
	fs := &fakeSink{}
	mem := New(DefaultConfig(), fs, "sess-2", "group-1")

	err := mem.Record(context.Background(), TypeInteraction, "MIND_SWEEP", map[string]any{"content": "ok"}, false)
	require.NoError(t, err)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.Empty(t, fs.sent)
	assert.Equal(t, 1, mem.Metrics().SkippedTrivial)
}

func TestRecordBatchesUntilThreshold(t *testing.T) {
	fs := &fakeSink{}
	cfg := DefaultConfig()
	cfg.BatchThresholdSmall = 2
	mem := New(cfg, fs, "sess-3", "group-1")

	require.NoError(t, mem.Record(context.Background(), TypeMindsweepCapture, "MIND_SWEEP", map[string]any{"content": "buy groceries"}, false))
	fs.mu.Lock()
	assert.Empty(t, fs.sent)
	fs.mu.Unlock()

	require.NoError(t, mem.Record(context.Background(), TypeMindsweepCapture, "MIND_SWEEP", map[string]any{"content": "call dentist"}, false))
	fs.mu.Lock()
	require.Len(t, fs.sent, 1)
	assert.Len(t, fs.sent[0], 2)
	fs.mu.Unlock()
}

func TestCriticalEpisodeBypassesBatching(t *testing.T) {
	fs := &fakeSink{}
	mem := New(DefaultConfig(), fs, "sess-4", "group-1")

	require.NoError(t, mem.Record(context.Background(), TypeInteraction, "MIND_SWEEP", map[string]any{"content": "something important happened"}, true))

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Len(t, fs.sent, 1)
}

func TestFlushDrainsPendingBatches(t *testing.T) {
	fs := &fakeSink{}
	mem := New(DefaultConfig(), fs, "sess-5", "group-1")

	require.NoError(t, mem.Record(context.Background(), TypeInteraction, "MIND_SWEEP", map[string]any{"content": "partial batch content here"}, false))
	fs.mu.Lock()
	assert.Empty(t, fs.sent)
	fs.mu.Unlock()

	require.NoError(t, mem.Flush(context.Background()))
	fs.mu.Lock()
	require.Len(t, fs.sent, 1)
	fs.mu.Unlock()
}

func TestSendWithFallbackBacksUpOnTerminalError(t *testing.T) {
	fs := &fakeSink{terminal: true, failN: 1}
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.BackupDir = dir
	mem := New(cfg, fs, "sess-6", "group-1")

	err := mem.Record(context.Background(), TypeSessionSummary, "WRAP_UP", map[string]any{"content": "final summary"}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Metrics().BackedUp)
}

func TestRecordBacksUpWhenSinkNil(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.BackupDir = dir
	mem := New(cfg, nil, "sess-7", "group-1")

	err := mem.Record(context.Background(), TypeSessionSummary, "WRAP_UP", map[string]any{"content": "no sink available"}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Metrics().BackedUp)
}

func TestSearchAppliesTemporalDecay(t *testing.T) {
	fs := &fakeSink{hits: []sink.SearchHit{
		{Content: "old hit", RawScore: 1.0, Timestamp: time.Now().AddDate(0, 0, -30)},
		{Content: "fresh hit", RawScore: 0.9, Timestamp: time.Now()},
	}}
	mem := New(DefaultConfig(), fs, "sess-8", "group-1")

	hits, err := mem.Search(context.Background(), "groceries", 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "fresh hit", hits[0].Content)
	assert.Less(t, hits[1].DecayedScore, hits[1].RawScore)
}

func TestSearchWithNilSinkReturnsEmpty(t *testing.T) {
	mem := New(DefaultConfig(), nil, "sess-9", "group-1")
	hits, err := mem.Search(context.Background(), "query", 5)
	require.NoError(t, err)
	assert.Nil(t, hits)
}

func TestAugmentRequiresThreshold(t *testing.T) {
	fs := &fakeSink{hits: []sink.SearchHit{{Content: "prior capture", RawScore: 0.5, Timestamp: time.Now()}}}
	mem := New(DefaultConfig(), fs, "sess-10", "group-1")

	assert.Nil(t, mem.Augment(context.Background(), 1, "query"))

	out := mem.Augment(context.Background(), 10, "query")
	require.Len(t, out, 1)
	assert.Equal(t, "prior capture", out[0])
}

func TestCloseFlushesAndClosesSink(t *testing.T) {
	fs := &fakeSink{}
	mem := New(DefaultConfig(), fs, "sess-11", "group-1")
	require.NoError(t, mem.Record(context.Background(), TypeInteraction, "MIND_SWEEP", map[string]any{"content": "pending content to flush"}, false))

	require.NoError(t, mem.Close(context.Background()))
	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.True(t, fs.closed)
	require.Len(t, fs.sent, 1)
}
