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

package checkpoint

import (
	"context"
	"sort"
	"sync"
)

// Storage is the pluggable checkpoint backend contract. Every method must
// isolate threads from one another: Get/List for thread A must never
// observe writes made under thread B.
type Storage interface {
	// Put writes a checkpoint. Writing the same (thread_id, checkpoint_id)
	// twice is idempotent: the second write has no additional effect
	// beyond the first.
	Put(ctx context.Context, cfg Config, cp *Checkpoint) error
	// Get returns the latest checkpoint for cfg.ThreadID, or nil if the
	// thread has never been checkpointed (not an error).
	Get(ctx context.Context, cfg Config) (*Checkpoint, error)
	// List returns every checkpoint for cfg.ThreadID, most recent first.
	List(ctx context.Context, cfg Config) ([]*Checkpoint, error)
	// Close releases any resources held by the backend.
	Close() error
}

// InMemoryStorage is a process-local Storage backed by a map, suitable for
// tests and single-process deployments that accept losing history on
// restart.
type InMemoryStorage struct {
	mu      sync.RWMutex
	threads map[string][]*Checkpoint // newest last
}

// NewInMemoryStorage returns a ready-to-use InMemoryStorage.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{threads: make(map[string][]*Checkpoint)}
}

func (s *InMemoryStorage) Put(ctx context.Context, cfg Config, cp *Checkpoint) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.threads[cfg.ThreadID]
	for _, existing := range list {
		if existing.CheckpointID == cp.CheckpointID {
			return nil // idempotent: identical id already recorded
		}
	}
	s.threads[cfg.ThreadID] = append(list, cp)
	return nil
}

func (s *InMemoryStorage) Get(ctx context.Context, cfg Config) (*Checkpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.threads[cfg.ThreadID]
	if len(list) == 0 {
		return nil, nil
	}
	return list[len(list)-1], nil
}

func (s *InMemoryStorage) List(ctx context.Context, cfg Config) ([]*Checkpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := append([]*Checkpoint(nil), s.threads[cfg.ThreadID]...)
	sort.Slice(list, func(i, j int) bool { return list[i].Metadata.Step > list[j].Metadata.Step })
	return list, nil
}

func (s *InMemoryStorage) Close() error { return nil }
