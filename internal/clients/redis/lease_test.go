package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/lexicon-backend/internal/platform/logger"
)

func testLease(t *testing.T) *Lease {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewLeaseWithClient(log, rdb, "lexicon:test:"+uuid.NewString()+":")
}

func TestLeaseExcludesSecondHolder(t *testing.T) {
	l := testLease(t)
	ctx := context.Background()

	release, ok, err := l.Acquire(ctx, "poll", 10*time.Second)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	_, ok, err = l.Acquire(ctx, "poll", 10*time.Second)
	if err != nil || ok {
		t.Fatalf("second acquire should fail while held: ok=%v err=%v", ok, err)
	}
	release()
	again, ok, err := l.Acquire(ctx, "poll", 10*time.Second)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
	again()
}

func TestLeaseReleaseKeepsForeignToken(t *testing.T) {
	l := testLease(t)
	ctx := context.Background()

	release, ok, err := l.Acquire(ctx, "poll", 50*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	time.Sleep(100 * time.Millisecond)
	next, ok, err := l.Acquire(ctx, "poll", 10*time.Second)
	if err != nil || !ok {
		t.Fatalf("expired lease should be free: ok=%v err=%v", ok, err)
	}
	defer next()

	// the stale holder must not drop the new holder's key
	release()
	if _, ok, _ := l.Acquire(ctx, "poll", 10*time.Second); ok {
		t.Fatalf("stale release removed a lease it no longer owned")
	}
}
