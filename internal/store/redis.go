package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps the redis client plus the session counter keys the worker
// maintains.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

func sessionCountKey(sessionID string) string {
	return "rollcall:session:" + sessionID + ":count"
}

// IncrSessionCount bumps the cached attendance count for a session.
func (r *Redis) IncrSessionCount(ctx context.Context, sessionID string) error {
	return r.Client.Incr(ctx, sessionCountKey(sessionID)).Err()
}

// SessionCount returns the cached attendance count, 0 when unset.
func (r *Redis) SessionCount(ctx context.Context, sessionID string) (int64, error) {
	n, err := r.Client.Get(ctx, sessionCountKey(sessionID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}
