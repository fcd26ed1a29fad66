package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps checkpoints in the exam_client_checkpoints table
// (see migrations/). Useful for managed lab machines that share one database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an already connected pool. The pool is owned by the caller.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM exam_client_checkpoints
		 WHERE kind = $1 AND session_id = $2 AND question_id = $3`,
		string(key.Kind), key.SessionID, key.QuestionID,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get checkpoint %s: %w", key, err)
	}
	return value, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, key Key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO exam_client_checkpoints (kind, session_id, question_id, value)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (kind, session_id, question_id) DO UPDATE
		 SET value = EXCLUDED.value, updated_at = NOW()`,
		string(key.Kind), key.SessionID, key.QuestionID, value,
	)
	if err != nil {
		return fmt.Errorf("set checkpoint %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, keys ...Key) error {
	if len(keys) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, k := range keys {
		batch.Queue(
			`DELETE FROM exam_client_checkpoints
			 WHERE kind = $1 AND session_id = $2 AND question_id = $3`,
			string(k.Kind), k.SessionID, k.QuestionID,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("delete checkpoints: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM exam_client_checkpoints WHERE session_id = $1`, sessionID,
	); err != nil {
		return fmt.Errorf("delete session checkpoints: %w", err)
	}
	return nil
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresStore) Close() error { return nil }
