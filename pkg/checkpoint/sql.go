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
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStorage is an embedded-SQL-backed Storage. A single file (SQLite) or a
// networked database (Postgres/MySQL) can all serve it, selected by
// dialect. One connection pool is shared by all goroutines; each operation
// runs as a short, single-statement transaction.
type SQLStorage struct {
	db      *sql.DB
	dialect string
}

const createCheckpointsTableSQL = `
CREATE TABLE IF NOT EXISTS checkpoints (
    thread_id VARCHAR(255) NOT NULL,
    checkpoint_id VARCHAR(255) NOT NULL,
    parent_id VARCHAR(255),
    step INTEGER NOT NULL,
    ts TIMESTAMP NOT NULL,
    payload TEXT NOT NULL,
    PRIMARY KEY (thread_id, checkpoint_id)
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_thread_step ON checkpoints(thread_id, step);
`

const createSessionMetadataTableSQL = `
CREATE TABLE IF NOT EXISTS session_metadata (
    session_id VARCHAR(255) PRIMARY KEY,
    thread_id VARCHAR(255) NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    workflow_type VARCHAR(64) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    phase VARCHAR(64),
    completed INTEGER NOT NULL DEFAULT 0,
    error_count INTEGER NOT NULL DEFAULT 0,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_session_metadata_thread ON session_metadata(thread_id);
CREATE INDEX IF NOT EXISTS idx_session_metadata_updated ON session_metadata(updated_at);
`

// NewSQLStorage opens (or reuses) db under the given dialect and ensures
// its schema exists. dialect must be one of "sqlite", "postgres", "mysql" —
// unlike the base codebase's checkpointer, which would silently fall back
// to an in-memory saver when its configured SQL backend could not be
// constructed, this constructor fails fast so a misconfigured backend is
// never silently downgraded.
func NewSQLStorage(db *sql.DB, dialect string) (*SQLStorage, error) {
	if db == nil {
		return nil, fmt.Errorf("checkpoint: db connection is required")
	}
	switch dialect {
	case "sqlite", "postgres", "mysql":
	default:
		return nil, fmt.Errorf("checkpoint: unsupported dialect %q (supported: sqlite, postgres, mysql)", dialect)
	}
	s := &SQLStorage{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("checkpoint: init schema: %w", err)
	}
	return s, nil
}

func (s *SQLStorage) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, createCheckpointsTableSQL); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, createSessionMetadataTableSQL); err != nil {
		return err
	}
	return nil
}

// placeholder returns the positional-parameter placeholder for argument
// index n (1-based), since postgres uses $1, $2... while sqlite/mysql use
// a bare "?".
func (s *SQLStorage) placeholder(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStorage) Put(ctx context.Context, cfg Config, cp *Checkpoint) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := cp.Serialize()
	if err != nil {
		return err
	}
	// Idempotent per (thread_id, checkpoint_id): an INSERT-or-ignore on
	// the primary key.
	var query string
	switch s.dialect {
	case "postgres":
		query = fmt.Sprintf(`INSERT INTO checkpoints (thread_id, checkpoint_id, parent_id, step, ts, payload)
			VALUES (%s,%s,%s,%s,%s,%s) ON CONFLICT (thread_id, checkpoint_id) DO NOTHING`,
			s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5), s.placeholder(6))
	case "mysql":
		query = `INSERT IGNORE INTO checkpoints (thread_id, checkpoint_id, parent_id, step, ts, payload) VALUES (?,?,?,?,?,?)`
	default: // sqlite
		query = `INSERT OR IGNORE INTO checkpoints (thread_id, checkpoint_id, parent_id, step, ts, payload) VALUES (?,?,?,?,?,?)`
	}
	_, err = s.db.ExecContext(ctx, query, cfg.ThreadID, cp.CheckpointID, cp.ParentID, cp.Metadata.Step, cp.Timestamp, string(payload))
	return err
}

func (s *SQLStorage) Get(ctx context.Context, cfg Config) (*Checkpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT payload FROM checkpoints WHERE thread_id=%s ORDER BY step DESC LIMIT 1`, s.placeholder(1))
	var payload string
	err := s.db.QueryRowContext(ctx, query, cfg.ThreadID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return Deserialize([]byte(payload))
}

func (s *SQLStorage) List(ctx context.Context, cfg Config) ([]*Checkpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT payload FROM checkpoints WHERE thread_id=%s ORDER BY step DESC`, s.placeholder(1))
	rows, err := s.db.QueryContext(ctx, query, cfg.ThreadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		cp, err := Deserialize([]byte(payload))
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (s *SQLStorage) Close() error {
	return s.db.Close()
}
