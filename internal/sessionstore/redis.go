package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"

	"voice-intake/internal/domain"
)

const (
	defaultPrefix = "intake:session:"
	defaultTTL    = 2 * time.Hour
	// index score for entries without expiry (2100-01-01)
	farFuture = 4102444800
)

// Redis stores JSON session snapshots so consecutive turns of a call may be
// served by different processes. A sorted set indexes live call ids by
// expiry.
type Redis struct {
	client backend.UniversalClient
	prefix string
	ttl    time.Duration
}

type RedisOption func(*Redis)

// WithTTL sets how long an idle session survives. Zero disables expiry.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl >= 0 {
			r.ttl = ttl
		}
	}
}

func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

func NewRedis(client backend.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: defaultPrefix,
		ttl:    defaultTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sessions, the index and locks live in separate namespaces under the
// prefix, so no call id can address the index or another call's lock.
func (r *Redis) key(callID string) string {
	return r.prefix + "s:" + callID
}

func (r *Redis) indexKey() string {
	return r.prefix + "idx"
}

func (r *Redis) Save(ctx context.Context, callID string, s *domain.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("sessionstore: marshal session: %w", err)
	}

	score := float64(time.Now().Add(r.ttl).Unix())
	if r.ttl == 0 {
		score = farFuture
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.key(callID), data, r.ttl)
	pipe.ZAdd(ctx, r.indexKey(), backend.Z{Score: score, Member: callID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("sessionstore: redis save: %w", err)
	}
	return nil
}

func (r *Redis) Load(ctx context.Context, callID string) (*domain.Session, error) {
	val, err := r.client.Get(ctx, r.key(callID)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sessionstore: redis get: %w", err)
	}

	var s domain.Session
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, fmt.Errorf("sessionstore: unmarshal session: %w", err)
	}
	if s.Values == nil {
		s.Values = make(map[domain.FieldKey]string)
	}
	return &s, nil
}

func (r *Redis) Delete(ctx context.Context, callID string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, r.key(callID))
	pipe.ZRem(ctx, r.indexKey(), callID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("sessionstore: redis delete: %w", err)
	}
	return nil
}

// List prunes expired index entries and returns the remaining call ids.
func (r *Redis) List(ctx context.Context) ([]string, error) {
	now := fmt.Sprintf("%d", time.Now().Unix())
	if err := r.client.ZRemRangeByScore(ctx, r.indexKey(), "-inf", now).Err(); err != nil {
		return nil, fmt.Errorf("sessionstore: prune index: %w", err)
	}
	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("sessionstore: list index: %w", err)
	}
	return ids, nil
}

// RedisLocker implements Locker with SET NX PX and a compare-and-delete
// release.
type RedisLocker struct {
	client backend.UniversalClient
	prefix string
	poll   time.Duration
}

var unlockScript = backend.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func NewRedisLocker(client backend.UniversalClient, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisLocker{client: client, prefix: prefix, poll: 100 * time.Millisecond}
}

// Lock blocks until the lock is held or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error) {
	lockKey := l.prefix + "lock:" + key
	token := uuid.NewString()

	try := func() (bool, error) {
		ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return false, fmt.Errorf("sessionstore: redis lock: %w", err)
		}
		return ok, nil
	}

	ok, err := try()
	if err != nil {
		return nil, err
	}
	if !ok {
		ticker := time.NewTicker(l.poll)
		defer ticker.Stop()
		for !ok {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
				if ok, err = try(); err != nil {
					return nil, err
				}
			}
		}
	}

	return func(ctx context.Context) error {
		return unlockScript.Run(ctx, l.client, []string{lockKey}, token).Err()
	}, nil
}
