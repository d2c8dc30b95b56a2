// Package session implements the MetadataStore: a queryable index over
// sessions, distinct from the Checkpointer's durable state blobs. Grounded
// on pkg/memory/session_service_sql.go's multi-dialect schema/constructor
// convention, retargeted from a chat-session/message store onto the
// session_metadata schema in spec.md §4.4.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Record is one row of the MetadataStore.
type Record struct {
	SessionID    string    `json:"session_id"`
	ThreadID     string    `json:"thread_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	WorkflowType string    `json:"workflow_type"`
	UserID       string    `json:"user_id"`
	Phase        string    `json:"phase"`
	Completed    bool      `json:"completed"`
	ErrorCount   int       `json:"error_count"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// Annotations is the typed shape of Record.Metadata's opaque JSON blob:
// counters the runner attaches at upsert time that don't warrant their own
// session_metadata columns. DecodeAnnotations recovers it via mapstructure
// since Metadata round-trips as a generic map, not this struct directly.
type Annotations struct {
	CapturesCount   int `mapstructure:"captures_count"`
	PrioritiesCount int `mapstructure:"priorities_count"`
	ToolCallCount   int `mapstructure:"tool_call_count"`
}

// DecodeAnnotations unmarshals rec.Metadata into a generic map and then
// mapstructure-decodes it into Annotations, tolerating older records whose
// metadata blob predates a given field (it simply stays zero).
func DecodeAnnotations(rec Record) (Annotations, error) {
	var out Annotations
	if len(rec.Metadata) == 0 {
		return out, nil
	}
	var raw map[string]any
	if err := json.Unmarshal(rec.Metadata, &raw); err != nil {
		return out, err
	}
	if err := mapstructure.Decode(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

// Statistics summarizes the MetadataStore's contents for the `status`
// CLI command.
type Statistics struct {
	TotalSessions     int
	CompletedSessions int
	TotalErrors       int
	ByWorkflowType    map[string]int
}

// Store is the MetadataStore contract. Implementations must index by both
// thread_id and updated_at DESC (§4.4).
type Store interface {
	Upsert(ctx context.Context, rec Record) error
	Get(ctx context.Context, sessionID string) (*Record, error)
	ListRecent(ctx context.Context, userID string, limit int) ([]Record, error)
	GetResumable(ctx context.Context, userID string, within time.Duration) (*Record, error)
	MarkComplete(ctx context.Context, sessionID string) error
	IncrementErrors(ctx context.Context, sessionID string) error
	CleanupOlderThan(ctx context.Context, days int) (int, error)
	GetStatistics(ctx context.Context, userID string) (Statistics, error)
	Close() error
}
