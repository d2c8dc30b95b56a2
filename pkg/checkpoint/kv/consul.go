package kv

import (
	"context"
	"fmt"
	"sort"
	"strings"

	consulapi "github.com/hashicorp/consul/api"

	"github.com/gtdcoach/agent/pkg/checkpoint"
)

// ConsulStorage stores checkpoints in Consul's KV store under a fixed
// prefix, one key per (thread_id, checkpoint_id).
type ConsulStorage struct {
	kv     *consulapi.KV
	prefix string
}

// NewConsulStorage connects to addr (e.g. "127.0.0.1:8500") and returns a
// ready-to-use ConsulStorage.
func NewConsulStorage(addr, prefix string) (*ConsulStorage, error) {
	if addr == "" {
		return nil, fmt.Errorf("checkpoint/kv: consul address is required")
	}
	cfg := consulapi.DefaultConfig()
	cfg.Address = addr
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("checkpoint/kv: connect to consul: %w", err)
	}
	if prefix == "" {
		prefix = "gtdcoach/checkpoints"
	}
	return &ConsulStorage{kv: client.KV(), prefix: prefix}, nil
}

func (s *ConsulStorage) key(threadID, checkpointID string) string {
	return fmt.Sprintf("%s/%s/%s", s.prefix, threadID, checkpointID)
}

func (s *ConsulStorage) threadPrefix(threadID string) string {
	return fmt.Sprintf("%s/%s/", s.prefix, threadID)
}

func (s *ConsulStorage) Put(ctx context.Context, cfg checkpoint.Config, cp *checkpoint.Checkpoint) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	key := s.key(cfg.ThreadID, cp.CheckpointID)
	existing, _, err := s.kv.Get(key, nil)
	if err != nil {
		return fmt.Errorf("checkpoint/kv: consul get: %w", err)
	}
	if existing != nil {
		return nil // idempotent: already written
	}
	payload, err := cp.Serialize()
	if err != nil {
		return err
	}
	_, err = s.kv.Put(&consulapi.KVPair{Key: key, Value: payload}, nil)
	return err
}

func (s *ConsulStorage) Get(ctx context.Context, cfg checkpoint.Config) (*checkpoint.Checkpoint, error) {
	list, err := s.List(ctx, cfg)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

func (s *ConsulStorage) List(ctx context.Context, cfg checkpoint.Config) ([]*checkpoint.Checkpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pairs, _, err := s.kv.List(s.threadPrefix(cfg.ThreadID), nil)
	if err != nil {
		return nil, fmt.Errorf("checkpoint/kv: consul list: %w", err)
	}
	out := make([]*checkpoint.Checkpoint, 0, len(pairs))
	for _, pair := range pairs {
		if !strings.HasPrefix(pair.Key, s.threadPrefix(cfg.ThreadID)) {
			continue
		}
		cp, err := checkpoint.Deserialize(pair.Value)
		if err != nil {
			continue
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metadata.Step > out[j].Metadata.Step })
	return out, nil
}

func (s *ConsulStorage) Close() error { return nil }
