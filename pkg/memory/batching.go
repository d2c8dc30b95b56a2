// Package memory implements BatchingMemory (spec §4.5): episode routing
// (send/skip/batch), sub-batched flush, retry with exponential backoff,
// temporal decay on retrieval, a local JSON backup that always survives,
// and tool-context augmentation from prior captures.
//
// Grounded on the teacher's pkg/memory/summarizer.go and
// working_strategy.go for the threshold-driven background-worker shape,
// generalized from chat-history summarization onto episode batching; the
// sink backends themselves live in pkg/memory/sink (adapted from
// pkg/databases).
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/gtdcoach/agent/pkg/memory/sink"
	"github.com/gtdcoach/agent/pkg/observability"
)

// EpisodeType enumerates the episode kinds spec §3 names.
const (
	TypeInteraction      = "interaction"
	TypeMindsweepCapture = "mindsweep_capture"
	TypeTimingAnalysis   = "timing_analysis"
	TypeBehaviorPattern  = "behavior_pattern"
	TypeSessionSummary   = "session_summary"
	TypePhaseTransition  = "phase_transition"
	TypePriorities       = "priorities"
)

// immediateTypes are sent to the sink without batching, per §4.5.
var immediateTypes = map[string]bool{
	TypeSessionSummary:  true,
	TypePhaseTransition: true,
	TypePriorities:      true,
}

// excludedEntitiesByType mirrors the teacher domain's cost/false-positive
// reduction table: entity kinds the sink must not attempt to extract for
// a given episode type (§4.5).
var excludedEntitiesByType = map[string][]string{
	TypeInteraction:      {"TimingInsight", "WeeklyReview"},
	TypeMindsweepCapture: {"TimingInsight", "ADHDPattern"},
	TypeTimingAnalysis:   {"ADHDPattern"},
	TypePhaseTransition:  {},
}

var trivialContent = map[string]bool{"ok": true, "thanks": true, "yes": true, "no": true, "sure": true}

// Config tunes BatchingMemory's thresholds. The CLI sets
// BatchThresholdGeneral from BATCH_THRESHOLD and DecayRate from DECAY_RATE
// (§6); the other fields keep their defaults.
type Config struct {
	BatchThresholdSmall int           // default 3
	BatchThresholdGeneral int         // default 5
	SubBatchMax         int           // default 10
	DormancyTimeout      time.Duration // default 60s
	DecayRate            float64       // default 0.05
	SkipTrivial          bool
	AugmentThreshold     int // default 5 prior captures
	AugmentTopK          int // default 5
	BackupDir            string
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		BatchThresholdSmall:   3,
		BatchThresholdGeneral: 5,
		SubBatchMax:           10,
		DormancyTimeout:       60 * time.Second,
		DecayRate:             0.05,
		SkipTrivial:           true,
		AugmentThreshold:      5,
		AugmentTopK:           5,
	}
}

// smallTypes get the lower batch threshold.
var smallTypes = map[string]bool{TypeMindsweepCapture: true, TypeBehaviorPattern: true}

// Metrics tracks counters the runner/tracer can surface.
type Metrics struct {
	mu               sync.Mutex
	SkippedTrivial   int
	Sent             int
	BackedUp         int
	ExtractionCounts map[string]int
}

func newMetrics() *Metrics { return &Metrics{ExtractionCounts: map[string]int{}} }

func (m *Metrics) incSent(n int)      { m.mu.Lock(); m.Sent += n; m.mu.Unlock() }
func (m *Metrics) incSkipped()        { m.mu.Lock(); m.SkippedTrivial++; m.mu.Unlock() }
func (m *Metrics) incBackedUp()       { m.mu.Lock(); m.BackedUp++; m.mu.Unlock() }
func (m *Metrics) incExtraction(t string) {
	m.mu.Lock()
	m.ExtractionCounts[t]++
	m.mu.Unlock()
}

// Snapshot returns a copy safe to read without holding the lock.
func (m *Metrics) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int, len(m.ExtractionCounts))
	for k, v := range m.ExtractionCounts {
		counts[k] = v
	}
	return Metrics{SkippedTrivial: m.SkippedTrivial, Sent: m.Sent, BackedUp: m.BackedUp, ExtractionCounts: counts}
}

// BatchingMemory is the sole entry point tools and the runner use to
// persist and retrieve episodes; it owns the pending queue, the
// dormancy timer, and the local backup file.
type BatchingMemory struct {
	cfg       Config
	sink      sink.Sink
	metrics   *Metrics
	obsMetrics *observability.Metrics

	mu      sync.Mutex
	pending map[string][]sink.Episode // keyed by episode type
	timer   *time.Timer

	sessionID string
	groupID   string
	backupMu  sync.Mutex
}

// New wires a BatchingMemory over sink for the given session/group. sink
// may be nil, in which case every episode is routed straight to the local
// backup (the sink-unavailable degraded mode §4.5 requires).
func New(cfg Config, s sink.Sink, sessionID, groupID string) *BatchingMemory {
	if cfg.BatchThresholdSmall <= 0 {
		cfg.BatchThresholdSmall = 3
	}
	if cfg.BatchThresholdGeneral <= 0 {
		cfg.BatchThresholdGeneral = 5
	}
	if cfg.SubBatchMax <= 0 {
		cfg.SubBatchMax = 10
	}
	if cfg.DormancyTimeout <= 0 {
		cfg.DormancyTimeout = 60 * time.Second
	}
	if cfg.DecayRate <= 0 {
		cfg.DecayRate = 0.05
	}
	if cfg.AugmentThreshold <= 0 {
		cfg.AugmentThreshold = 5
	}
	if cfg.AugmentTopK <= 0 {
		cfg.AugmentTopK = 5
	}
	return &BatchingMemory{
		cfg: cfg, sink: s, metrics: newMetrics(),
		pending: make(map[string][]sink.Episode),
		sessionID: sessionID, groupID: groupID,
	}
}

func (b *BatchingMemory) Metrics() Metrics { return b.metrics.Snapshot() }

// SetObservability wires the Prometheus Recorder so memory search/index
// activity surfaces alongside the agent/LLM/tool metrics (§4.7, §11); a
// nil m leaves every RecordMemory* call a no-op.
func (b *BatchingMemory) SetObservability(m *observability.Metrics) { b.obsMetrics = m }

// disposition classifies an incoming episode per §4.5's routing table.
type disposition int

const (
	dispositionSend disposition = iota
	dispositionSkip
	dispositionBatch
)

func isTrivial(data map[string]any) bool {
	content, _ := data["content"].(string)
	trimmed := strings.TrimSpace(strings.ToLower(content))
	return trivialContent[trimmed] || len(trimmed) < 3
}

func (b *BatchingMemory) classify(epType string, data map[string]any, critical bool) disposition {
	if immediateTypes[epType] || critical {
		return dispositionSend
	}
	if b.cfg.SkipTrivial && isTrivial(data) {
		return dispositionSkip
	}
	return dispositionBatch
}

// Record routes one episode according to §4.5's send/skip/batch decision.
func (b *BatchingMemory) Record(ctx context.Context, epType, phase string, data map[string]any, critical bool) error {
	ep := sink.Episode{
		Type: epType, Phase: phase, Data: data, Timestamp: time.Now(),
		SessionID: b.sessionID, GroupID: b.groupID,
		ExcludedEntities: excludedEntitiesByType[epType],
	}

	switch b.classify(epType, data, critical) {
	case dispositionSkip:
		b.metrics.incSkipped()
		return nil
	case dispositionSend:
		return b.sendWithFallback(ctx, []sink.Episode{ep})
	default:
		return b.enqueue(ctx, ep)
	}
}

func (b *BatchingMemory) threshold(epType string) int {
	if smallTypes[epType] {
		return b.cfg.BatchThresholdSmall
	}
	return b.cfg.BatchThresholdGeneral
}

func (b *BatchingMemory) enqueue(ctx context.Context, ep sink.Episode) error {
	b.mu.Lock()
	b.pending[ep.Type] = append(b.pending[ep.Type], ep)
	count := len(b.pending[ep.Type])
	threshold := b.threshold(ep.Type)
	if b.timer == nil {
		b.timer = time.AfterFunc(b.cfg.DormancyTimeout, func() { _ = b.Flush(context.Background()) })
	}
	b.mu.Unlock()

	if count >= threshold {
		return b.flushType(ctx, ep.Type)
	}
	return nil
}

// Flush drains every pending type, e.g. at session end (manual flush, §4.5 (b)).
func (b *BatchingMemory) Flush(ctx context.Context) error {
	b.mu.Lock()
	types := make([]string, 0, len(b.pending))
	for t := range b.pending {
		types = append(types, t)
	}
	sort.Strings(types)
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	var firstErr error
	for _, t := range types {
		if err := b.flushType(ctx, t); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *BatchingMemory) flushType(ctx context.Context, epType string) error {
	b.mu.Lock()
	batch := b.pending[epType]
	delete(b.pending, epType)
	b.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	for t := range excludedEntitiesByType {
		if t == epType {
			b.metrics.incExtraction(epType)
		}
	}
	var firstErr error
	for i := 0; i < len(batch); i += b.cfg.SubBatchMax {
		end := i + b.cfg.SubBatchMax
		if end > len(batch) {
			end = len(batch)
		}
		if err := b.sendWithFallback(ctx, batch[i:end]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// sendWithFallback retries the sink 3 times with 1s/2s/4s exponential
// backoff, classifying 4xx as terminal (no retry). On exhaustion the
// episodes are appended to the local backup with a failure reason; the
// agent loop never sees this as a fatal error (§4.5, §7).
func (b *BatchingMemory) sendWithFallback(ctx context.Context, episodes []sink.Episode) error {
	if b.sink == nil {
		b.backup(episodes, "sink not configured")
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 4 * time.Second
	bo.RandomizationFactor = 0

	op := func() (struct{}, error) {
		err := b.sink.Send(ctx, episodes)
		if err != nil && sink.IsTerminal(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	_, err := backoff.Retry(ctx, op, backoff.WithBackOff(bo), backoff.WithMaxTries(4))
	if err != nil {
		b.backup(episodes, err.Error())
		return nil
	}
	b.metrics.incSent(len(episodes))
	b.obsMetrics.RecordMemoryIndexed("episode", len(episodes))
	return nil
}

// backupEntry is one line of the local JSON backup file.
type backupEntry struct {
	Episode sink.Episode `json:"episode"`
	Reason  string       `json:"failure_reason"`
	SavedAt time.Time    `json:"saved_at"`
}

// backup appends episodes to the per-session backup file, one JSON object
// per line, guaranteeing survivability even when the sink is entirely
// unavailable (§4.5, §6 path: memory_backup/<session_id>.json).
func (b *BatchingMemory) backup(episodes []sink.Episode, reason string) {
	if b.cfg.BackupDir == "" {
		return
	}
	b.backupMu.Lock()
	defer b.backupMu.Unlock()

	if err := os.MkdirAll(b.cfg.BackupDir, 0o755); err != nil {
		return
	}
	path := filepath.Join(b.cfg.BackupDir, b.sessionID+".json")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	for _, ep := range episodes {
		line, err := json.Marshal(backupEntry{Episode: ep, Reason: reason, SavedAt: time.Now()})
		if err != nil {
			continue
		}
		f.Write(line)
		f.Write([]byte("\n"))
		b.metrics.incBackedUp()
	}
}

// DecayedHit is a search result after temporal decay is applied.
type DecayedHit struct {
	sink.SearchHit
	DecayedScore float64
}

// decay applies score × exp(-decay_rate × age_days) per §4.5.
func (b *BatchingMemory) decay(hit sink.SearchHit) float64 {
	ageDays := time.Since(hit.Timestamp).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return hit.RawScore * math.Exp(-b.cfg.DecayRate*ageDays)
}

// Search queries the sink and returns hits re-sorted by decayed score,
// exposing both raw and decayed scores to callers per §4.5.
func (b *BatchingMemory) Search(ctx context.Context, query string, topK int) ([]DecayedHit, error) {
	if b.sink == nil {
		return nil, nil
	}
	start := time.Now()
	raw, err := b.sink.Search(ctx, b.groupID, query, topK)
	b.obsMetrics.RecordMemorySearch("episode", time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("memory: search failed: %w", err)
	}
	hits := make([]DecayedHit, 0, len(raw))
	for _, h := range raw {
		hits = append(hits, DecayedHit{SearchHit: h, DecayedScore: b.decay(h)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].DecayedScore > hits[j].DecayedScore })
	return hits, nil
}

// Augment returns "prior context" strings for a tool, per §4.5's
// augmentation rule: only searches once at least AugmentThreshold prior
// captures exist, to avoid a pointless network call on a cold session.
func (b *BatchingMemory) Augment(ctx context.Context, priorCaptureCount int, query string) []string {
	if priorCaptureCount < b.cfg.AugmentThreshold {
		return nil
	}
	hits, err := b.Search(ctx, query, b.cfg.AugmentTopK)
	if err != nil || len(hits) == 0 {
		return nil
	}
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.Content)
	}
	return out
}

// Close flushes any pending batch and releases the sink.
func (b *BatchingMemory) Close(ctx context.Context) error {
	flushErr := b.Flush(ctx)
	var sinkErr error
	if b.sink != nil {
		sinkErr = b.sink.Close()
	}
	if flushErr != nil {
		return flushErr
	}
	return sinkErr
}
