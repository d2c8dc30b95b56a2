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

package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore is the MetadataStore backed by the same session_metadata table
// pkg/checkpoint's SQLStorage creates (§4.4: "table keyed by session_id,
// indexed by thread_id and updated_at DESC"). It can share a *sql.DB with
// a checkpoint.SQLStorage or run against its own file; initSchema is
// idempotent either way.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

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

// NewSQLStore opens a MetadataStore against db under dialect ("sqlite",
// "postgres" or "mysql"), failing fast on an unsupported dialect rather
// than silently degrading to an in-memory store.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("session: db connection is required")
	}
	switch dialect {
	case "sqlite", "postgres", "mysql":
	default:
		return nil, fmt.Errorf("session: unsupported dialect %q (supported: sqlite, postgres, mysql)", dialect)
	}
	s := &SQLStore{db: db, dialect: dialect}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, createSessionMetadataTableSQL); err != nil {
		return nil, fmt.Errorf("session: init schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) placeholder(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Upsert inserts rec or, if session_id already exists, replaces every
// field but created_at.
func (s *SQLStore) Upsert(ctx context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.UpdatedAt = time.Now()
	meta := string(rec.Metadata)
	if meta == "" {
		meta = "{}"
	}

	var query string
	switch s.dialect {
	case "postgres":
		query = fmt.Sprintf(`INSERT INTO session_metadata
			(session_id, thread_id, created_at, updated_at, workflow_type, user_id, phase, completed, error_count, metadata)
			VALUES (%s,%s,%s,%s,%s,%s,%s,%s,%s,%s)
			ON CONFLICT (session_id) DO UPDATE SET
				thread_id=EXCLUDED.thread_id, updated_at=EXCLUDED.updated_at, workflow_type=EXCLUDED.workflow_type,
				user_id=EXCLUDED.user_id, phase=EXCLUDED.phase, completed=EXCLUDED.completed,
				error_count=EXCLUDED.error_count, metadata=EXCLUDED.metadata`,
			s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5),
			s.placeholder(6), s.placeholder(7), s.placeholder(8), s.placeholder(9), s.placeholder(10))
	case "mysql":
		query = `INSERT INTO session_metadata
			(session_id, thread_id, created_at, updated_at, workflow_type, user_id, phase, completed, error_count, metadata)
			VALUES (?,?,?,?,?,?,?,?,?,?)
			ON DUPLICATE KEY UPDATE thread_id=VALUES(thread_id), updated_at=VALUES(updated_at),
				workflow_type=VALUES(workflow_type), user_id=VALUES(user_id), phase=VALUES(phase),
				completed=VALUES(completed), error_count=VALUES(error_count), metadata=VALUES(metadata)`
	default: // sqlite
		query = `INSERT INTO session_metadata
			(session_id, thread_id, created_at, updated_at, workflow_type, user_id, phase, completed, error_count, metadata)
			VALUES (?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT (session_id) DO UPDATE SET
				thread_id=excluded.thread_id, updated_at=excluded.updated_at, workflow_type=excluded.workflow_type,
				user_id=excluded.user_id, phase=excluded.phase, completed=excluded.completed,
				error_count=excluded.error_count, metadata=excluded.metadata`
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.SessionID, rec.ThreadID, rec.CreatedAt, rec.UpdatedAt, rec.WorkflowType,
		rec.UserID, rec.Phase, boolToInt(rec.Completed), rec.ErrorCount, meta)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var rec Record
	var completed int
	var meta string
	err := row.Scan(&rec.SessionID, &rec.ThreadID, &rec.CreatedAt, &rec.UpdatedAt, &rec.WorkflowType,
		&rec.UserID, &rec.Phase, &completed, &rec.ErrorCount, &meta)
	rec.Completed = completed != 0
	rec.Metadata = []byte(meta)
	return rec, err
}

const recordColumns = `session_id, thread_id, created_at, updated_at, workflow_type, user_id, phase, completed, error_count, metadata`

func (s *SQLStore) Get(ctx context.Context, sessionID string) (*Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM session_metadata WHERE session_id=%s`, recordColumns, s.placeholder(1))
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLStore) ListRecent(ctx context.Context, userID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT %s FROM session_metadata WHERE user_id=%s ORDER BY updated_at DESC LIMIT %s`,
		recordColumns, s.placeholder(1), s.placeholder(2))
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetResumable returns the most recent incomplete session for userID
// updated within the last `within` duration, or nil if none qualifies.
func (s *SQLStore) GetResumable(ctx context.Context, userID string, within time.Duration) (*Record, error) {
	cutoff := time.Now().Add(-within)
	query := fmt.Sprintf(`SELECT %s FROM session_metadata
		WHERE user_id=%s AND completed=0 AND updated_at >= %s
		ORDER BY updated_at DESC LIMIT 1`, recordColumns, s.placeholder(1), s.placeholder(2))
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, userID, cutoff))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLStore) MarkComplete(ctx context.Context, sessionID string) error {
	query := fmt.Sprintf(`UPDATE session_metadata SET completed=1, updated_at=%s WHERE session_id=%s`,
		s.placeholder(1), s.placeholder(2))
	_, err := s.db.ExecContext(ctx, query, time.Now(), sessionID)
	return err
}

func (s *SQLStore) IncrementErrors(ctx context.Context, sessionID string) error {
	query := fmt.Sprintf(`UPDATE session_metadata SET error_count=error_count+1, updated_at=%s WHERE session_id=%s`,
		s.placeholder(1), s.placeholder(2))
	_, err := s.db.ExecContext(ctx, query, time.Now(), sessionID)
	return err
}

func (s *SQLStore) CleanupOlderThan(ctx context.Context, days int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	query := fmt.Sprintf(`DELETE FROM session_metadata WHERE updated_at < %s`, s.placeholder(1))
	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLStore) GetStatistics(ctx context.Context, userID string) (Statistics, error) {
	stats := Statistics{ByWorkflowType: map[string]int{}}

	query := fmt.Sprintf(`SELECT workflow_type, completed, error_count FROM session_metadata WHERE user_id=%s`, s.placeholder(1))
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var workflowType string
		var completed, errCount int
		if err := rows.Scan(&workflowType, &completed, &errCount); err != nil {
			return stats, err
		}
		stats.TotalSessions++
		if completed != 0 {
			stats.CompletedSessions++
		}
		stats.TotalErrors += errCount
		stats.ByWorkflowType[workflowType]++
	}
	return stats, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
