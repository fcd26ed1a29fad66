//go:build integration
// +build integration

package checkpoint

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// These run against real services:
//
//	REDIS_URL=redis://localhost:6379/15 DATABASE_URL=postgres://... go test -tags integration ./internal/checkpoint
//
// The Postgres database must have the migrations applied (cmd/migrate up).

func TestRedisStore(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unreachable: %v", err)
	}
	rdb.FlushDB(ctx)

	runStoreContract(t, NewRedisStore(rdb, time.Minute))

	ttl, err := rdb.TTL(ctx, LastAnswerKey("s2", "q1").String()).Result()
	if err != nil || ttl <= 0 {
		t.Errorf("ttl = %v, %v; want a positive expiry", ttl, err)
	}
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		t.Skipf("postgres unreachable: %v", err)
	}
	if _, err := pool.Exec(ctx, `DELETE FROM exam_client_checkpoints`); err != nil {
		t.Fatalf("clean table (migrations applied?): %v", err)
	}

	runStoreContract(t, NewPostgresStore(pool))
}
