package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/lexicon-backend/internal/platform/envutil"
	"github.com/yungbote/lexicon-backend/internal/platform/logger"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease is a best-effort mutual exclusion between poller replicas. Losing the lease to
// expiry is harmless: every write the poller makes is a compare-and-set.
type Lease struct {
	log    *logger.Logger
	rdb    goredis.UniversalClient
	prefix string
}

// NewLease connects using REDIS_ADDR. It returns nil, nil when REDIS_ADDR is unset.
func NewLease(log *logger.Logger) (*Lease, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(envutil.String("REDIS_ADDR", ""))
	if addr == "" {
		return nil, nil
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    envutil.String("REDIS_PASSWORD", ""),
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewLeaseWithClient(log, rdb, envutil.String("REDIS_LEASE_PREFIX", "lexicon:lease:")), nil
}

func NewLeaseWithClient(log *logger.Logger, rdb goredis.UniversalClient, prefix string) *Lease {
	return &Lease{
		log:    log.With("service", "RedisLease"),
		rdb:    rdb,
		prefix: prefix,
	}
}

// Acquire tries to take key for ttl. When ok is false another holder has it and release is a no-op.
func (l *Lease) Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error) {
	full := l.prefix + key
	token := uuid.NewString()
	ok, err = l.rdb.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return func() {}, false, fmt.Errorf("redis setnx %s: %w", full, err)
	}
	if !ok {
		return func() {}, false, nil
	}
	release = func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.rdb, []string{full}, token).Err(); err != nil {
			l.log.Warn("lease release failed", "key", full, "error", err)
		}
	}
	return release, true, nil
}

func (l *Lease) Close() error {
	if l == nil || l.rdb == nil {
		return nil
	}
	return l.rdb.Close()
}
