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

package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Manager wraps a Storage backend with the storage-error policy §4.4
// requires: a failed marshal or Put is logged, counted in ErrorCount and
// returned to the caller, which decides whether to continue. Step numbers
// are supplied by the caller; Manager does not assign them.
type Manager struct {
	storage    Storage
	log        *slog.Logger
	errorCount atomic.Int64
}

// NewManager wraps storage. storage must not be nil; pass
// NewInMemoryStorage() for tests or when durability is not required.
func NewManager(storage Storage, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{storage: storage, log: log}
}

// Save serializes channelValues into a new checkpoint chained off the
// thread's current latest checkpoint (if any) and writes it. Marshal and
// Put failures are logged, counted and returned; callers that must not
// abort the agent loop on a storage failure ignore the returned error
// (Manager.ErrorCount() still reflects it), per §4.4's "storage errors ...
// MUST NOT abort the agent loop".
func (m *Manager) Save(ctx context.Context, threadID string, channelValues any, source string, step int) (*Checkpoint, error) {
	payload, err := json.Marshal(channelValues)
	if err != nil {
		m.errorCount.Add(1)
		m.log.Error("checkpoint: marshal channel values failed", "thread_id", threadID, "error", err)
		return nil, err
	}

	cfg := Config{ThreadID: threadID}
	parent, err := m.storage.Get(ctx, cfg)
	if err != nil {
		m.log.Warn("checkpoint: could not read prior checkpoint", "thread_id", threadID, "error", err)
	}
	parentID := ""
	if parent != nil {
		parentID = parent.CheckpointID
	}

	cp := &Checkpoint{
		ThreadID:      threadID,
		CheckpointID:  uuid.NewString(),
		ParentID:      parentID,
		Timestamp:     time.Now(),
		ChannelValues: payload,
		Metadata:      Metadata{Source: source, Step: step},
	}
	if parentID != "" {
		cp.Metadata.Parents = []string{parentID}
	}

	if err := m.storage.Put(ctx, cfg, cp); err != nil {
		m.errorCount.Add(1)
		m.log.Error("checkpoint: put failed, continuing without durability", "thread_id", threadID, "error", err)
		return cp, err
	}
	return cp, nil
}

// Latest returns the most recent checkpoint for threadID, or nil if none
// exists (not an error).
func (m *Manager) Latest(ctx context.Context, threadID string) (*Checkpoint, error) {
	return m.storage.Get(ctx, Config{ThreadID: threadID})
}

// History returns every checkpoint for threadID, most recent first.
func (m *Manager) History(ctx context.Context, threadID string) ([]*Checkpoint, error) {
	return m.storage.List(ctx, Config{ThreadID: threadID})
}

// ErrorCount returns the number of storage failures absorbed so far.
func (m *Manager) ErrorCount() int64 {
	return m.errorCount.Load()
}

// Close releases the underlying storage backend's resources.
func (m *Manager) Close() error {
	return m.storage.Close()
}

// Decode unmarshals a checkpoint's ChannelValues into dst.
func Decode(cp *Checkpoint, dst any) error {
	if cp == nil {
		return fmt.Errorf("checkpoint: nil checkpoint")
	}
	return json.Unmarshal(cp.ChannelValues, dst)
}
