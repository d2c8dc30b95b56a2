package kv

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"

	"github.com/gtdcoach/agent/pkg/checkpoint"
)

// ZKStorage stores checkpoints as ZooKeeper znodes under a fixed path,
// one node per (thread_id, checkpoint_id). Grounded on pkg/config's
// ZookeeperProvider connection pattern, extended from read-only config
// watching into a full read/write/list store.
type ZKStorage struct {
	conn *zk.Conn
	root string
}

// NewZKStorage connects to endpoints and returns a ready-to-use ZKStorage.
func NewZKStorage(endpoints []string, root string) (*ZKStorage, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("checkpoint/kv: zookeeper endpoints are required")
	}
	conn, _, err := zk.Connect(endpoints, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("checkpoint/kv: connect to zookeeper: %w", err)
	}
	if root == "" {
		root = "/gtdcoach/checkpoints"
	}
	s := &ZKStorage{conn: conn, root: root}
	if err := s.ensurePath(root); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *ZKStorage) ensurePath(path string) error {
	exists, _, err := s.conn.Exists(path)
	if err != nil {
		return fmt.Errorf("checkpoint/kv: zookeeper exists(%s): %w", path, err)
	}
	if exists {
		return nil
	}
	var built string
	for _, part := range strings.Split(strings.TrimPrefix(path, "/"), "/") {
		built += "/" + part
		exists, _, err := s.conn.Exists(built)
		if err != nil {
			return err
		}
		if !exists {
			if _, err := s.conn.Create(built, []byte{}, 0, zk.WorldACL(zk.PermAll)); err != nil && err != zk.ErrNodeExists {
				return fmt.Errorf("checkpoint/kv: zookeeper create(%s): %w", built, err)
			}
		}
	}
	return nil
}

func (s *ZKStorage) threadPath(threadID string) string {
	return s.root + "/" + threadID
}

func (s *ZKStorage) nodePath(threadID, checkpointID string) string {
	return s.threadPath(threadID) + "/" + checkpointID
}

func (s *ZKStorage) Put(ctx context.Context, cfg checkpoint.Config, cp *checkpoint.Checkpoint) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := s.ensurePath(s.threadPath(cfg.ThreadID)); err != nil {
		return err
	}
	payload, err := cp.Serialize()
	if err != nil {
		return err
	}
	path := s.nodePath(cfg.ThreadID, cp.CheckpointID)
	_, err = s.conn.Create(path, payload, 0, zk.WorldACL(zk.PermAll))
	if err == zk.ErrNodeExists {
		return nil // idempotent
	}
	return err
}

func (s *ZKStorage) Get(ctx context.Context, cfg checkpoint.Config) (*checkpoint.Checkpoint, error) {
	list, err := s.List(ctx, cfg)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

func (s *ZKStorage) List(ctx context.Context, cfg checkpoint.Config) ([]*checkpoint.Checkpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	children, _, err := s.conn.Children(s.threadPath(cfg.ThreadID))
	if err != nil {
		if err == zk.ErrNoNode {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint/kv: zookeeper children: %w", err)
	}
	out := make([]*checkpoint.Checkpoint, 0, len(children))
	for _, child := range children {
		data, _, err := s.conn.Get(s.threadPath(cfg.ThreadID) + "/" + child)
		if err != nil {
			continue
		}
		cp, err := checkpoint.Deserialize(data)
		if err != nil {
			continue
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metadata.Step > out[j].Metadata.Step })
	return out, nil
}

func (s *ZKStorage) Close() error {
	s.conn.Close()
	return nil
}
