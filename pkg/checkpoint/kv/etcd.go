// Package kv implements networked-KV checkpoint backends — etcd, Consul,
// and ZooKeeper — all satisfying checkpoint.Storage so a deployment can
// swap its durability tier without touching agent code. Adapted from the
// config package's single-source ZookeeperProvider, generalized here into
// a full read/write/list contract instead of a read-only config watcher.
package kv

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/gtdcoach/agent/pkg/checkpoint"
)

// EtcdStorage stores checkpoints as etcd keys under a fixed prefix, one key
// per (thread_id, checkpoint_id).
type EtcdStorage struct {
	client *clientv3.Client
	prefix string
}

// NewEtcdStorage dials endpoints and returns a ready-to-use EtcdStorage.
func NewEtcdStorage(endpoints []string, prefix string) (*EtcdStorage, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("checkpoint/kv: etcd endpoints are required")
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint/kv: connect to etcd: %w", err)
	}
	if prefix == "" {
		prefix = "/gtdcoach/checkpoints"
	}
	return &EtcdStorage{client: cli, prefix: prefix}, nil
}

func (s *EtcdStorage) key(threadID, checkpointID string) string {
	return fmt.Sprintf("%s/%s/%s", s.prefix, threadID, checkpointID)
}

func (s *EtcdStorage) threadPrefix(threadID string) string {
	return fmt.Sprintf("%s/%s/", s.prefix, threadID)
}

func (s *EtcdStorage) Put(ctx context.Context, cfg checkpoint.Config, cp *checkpoint.Checkpoint) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := cp.Serialize()
	if err != nil {
		return err
	}
	key := s.key(cfg.ThreadID, cp.CheckpointID)
	// Idempotent: only write if the key does not already exist.
	txn := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(payload)))
	_, err = txn.Commit()
	return err
}

func (s *EtcdStorage) Get(ctx context.Context, cfg checkpoint.Config) (*checkpoint.Checkpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	list, err := s.List(ctx, cfg)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

func (s *EtcdStorage) List(ctx context.Context, cfg checkpoint.Config) ([]*checkpoint.Checkpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	resp, err := s.client.Get(ctx, s.threadPrefix(cfg.ThreadID), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("checkpoint/kv: etcd list: %w", err)
	}
	out := make([]*checkpoint.Checkpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		if !strings.HasPrefix(string(kv.Key), s.threadPrefix(cfg.ThreadID)) {
			continue
		}
		cp, err := checkpoint.Deserialize(kv.Value)
		if err != nil {
			continue
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metadata.Step > out[j].Metadata.Step })
	return out, nil
}

func (s *EtcdStorage) Close() error {
	return s.client.Close()
}
