package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
    kind TEXT NOT NULL,
    session_id TEXT NOT NULL DEFAULT '',
    question_id TEXT NOT NULL DEFAULT '',
    value TEXT NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (kind, session_id, question_id)
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints (session_id);
`

// SQLiteStore keeps checkpoints in an embedded SQLite file, so a single machine
// survives a client restart without external infrastructure.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures the schema exists.
// Use ":memory:" for an ephemeral database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?mode=rwc&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; also keeps ":memory:" on a single shared connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create checkpoint schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key Key) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM checkpoints WHERE kind = ? AND session_id = ? AND question_id = ?`,
		string(key.Kind), key.SessionID, key.QuestionID,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get checkpoint %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key Key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (kind, session_id, question_id, value, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (kind, session_id, question_id) DO UPDATE
		 SET value = excluded.value, updated_at = excluded.updated_at`,
		string(key.Kind), key.SessionID, key.QuestionID, value, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("set checkpoint %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, keys ...Key) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, k := range keys {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM checkpoints WHERE kind = ? AND session_id = ? AND question_id = ?`,
			string(k.Kind), k.SessionID, k.QuestionID,
		); err != nil {
			return fmt.Errorf("delete checkpoint %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session checkpoints: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
