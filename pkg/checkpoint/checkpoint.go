// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package checkpoint provides durable capture and recovery of agent run
// state, keyed by (thread_id, checkpoint_id). Backends are pluggable:
// in-memory, embedded SQL (sqlite/postgres/mysql), and networked KV
// (etcd/consul/zookeeper) all implement the same Storage interface, so the
// configured backend is a deployment choice, not a code-path choice.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"
)

// Metadata carries checkpoint provenance, mirroring LangGraph-style
// checkpoint metadata so existing tracing conventions line up with it.
type Metadata struct {
	Source string   `json:"source"`
	Step   int      `json:"step"`
	Writes []string `json:"writes,omitempty"`
	Parents []string `json:"parents,omitempty"`
}

// Checkpoint is one durable snapshot of a thread's state.
type Checkpoint struct {
	ThreadID       string         `json:"thread_id"`
	CheckpointID   string         `json:"checkpoint_id"`
	ParentID       string         `json:"parent_id,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	ChannelValues  json.RawMessage `json:"channel_values"`
	ChannelVersions map[string]int `json:"channel_versions"`
	VersionsSeen    map[string]map[string]int `json:"versions_seen,omitempty"`
	Metadata        Metadata       `json:"metadata"`
}

// Serialize round-trips a Checkpoint to JSON; checkpoints at or above
// 100KB must still round-trip losslessly, which plain JSON marshaling
// guarantees as long as ChannelValues is itself valid JSON.
func (c *Checkpoint) Serialize() ([]byte, error) {
	return json.Marshal(c)
}

// Deserialize parses a Checkpoint previously produced by Serialize.
func Deserialize(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("checkpoint: deserialize: %w", err)
	}
	return &c, nil
}

// Config addresses a single thread's checkpoint stream.
type Config struct {
	ThreadID string
}

// Validate reports ErrInvalidConfig when ThreadID is missing, matching the
// spec's requirement that a malformed config (missing thread_id) is an
// invalid-argument condition, not a silent no-op.
func (c Config) Validate() error {
	if c.ThreadID == "" {
		return ErrInvalidConfig
	}
	return nil
}

// ErrInvalidConfig is returned when a Config is missing required fields.
var ErrInvalidConfig = fmt.Errorf("checkpoint: thread_id is required")
