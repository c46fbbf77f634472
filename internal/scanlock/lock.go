package scanlock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 5 * time.Minute

// Lock is a Redis-backed single-holder lock used to serialize detection
// cycles across service instances. The TTL bounds how long a crashed holder
// can block other instances.
type Lock struct {
	client goredis.UniversalClient
	key    string
	token  string
	ttl    time.Duration
}

func New(client goredis.UniversalClient, key string, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Lock{
		client: client,
		key:    key,
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

// TryAcquire attempts to take the lock without blocking. Returns false when
// another instance holds it.
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire scan lock: %w", err)
	}
	return ok, nil
}

// Release frees the lock if this instance still holds it. A lock that
// expired and was taken by another instance is left alone.
func (l *Lock) Release(ctx context.Context) error {
	current, err := l.client.Get(ctx, l.key).Result()
	if err == goredis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("release scan lock: %w", err)
	}
	if current != l.token {
		return nil
	}
	if err := l.client.Del(ctx, l.key).Err(); err != nil {
		return fmt.Errorf("release scan lock: %w", err)
	}
	return nil
}
