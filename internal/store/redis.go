package store

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// callTimeout bounds every store round trip so one slow backend call can
// never stall a producer for long.
const callTimeout = 3 * time.Second

// RedisStore implements Store against any Redis-compatible server.
type RedisStore struct {
	client *redis.Client
}

// NewRedis connects to the given address and verifies the connection.
func NewRedis(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  callTimeout,
		ReadTimeout:  callTimeout,
		WriteTimeout: callTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

// NewRedisFromClient wraps an existing client (used by tests).
func NewRedisFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Close releases the underlying connection pool.
func (r *RedisStore) Close() error { return r.client.Close() }

func (r *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

func (r *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		// First increment created the key; give it its expiry.
		if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (r *RedisStore) ZAdd(ctx context.Context, key string, member ZMember) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return r.client.ZAdd(ctx, key, redis.Z{Member: member.Member, Score: member.Score}).Err()
}

func (r *RedisStore) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]ZMember, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	zs, err := r.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]ZMember, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, ZMember{Member: member, Score: z.Score})
	}
	return out, nil
}

func (r *RedisStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return r.client.ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max)).Err()
}

func (r *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return r.client.SMembers(ctx, key).Result()
}

func (r *RedisStore) StreamAppend(ctx context.Context, key string, values map[string]string, maxLen int64) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	args := &redis.XAddArgs{
		Stream: key,
		MaxLen: maxLen,
		Approx: true,
		Values: toAnyMap(values),
	}
	return r.client.XAdd(ctx, args).Err()
}

func (r *RedisStore) StreamRange(ctx context.Context, key, start, end string) ([]StreamEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	msgs, err := r.client.XRange(ctx, key, start, end).Result()
	if err != nil {
		return nil, err
	}
	return fromMessages(msgs), nil
}

func (r *RedisStore) StreamRevRange(ctx context.Context, key string, count int64) ([]StreamEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	msgs, err := r.client.XRevRangeN(ctx, key, "+", "-", count).Result()
	if err != nil {
		return nil, err
	}
	return fromMessages(msgs), nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

func formatScore(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "+inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func toAnyMap(values map[string]string) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

func fromMessages(msgs []redis.XMessage) []StreamEntry {
	out := make([]StreamEntry, 0, len(msgs))
	for _, m := range msgs {
		values := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			if s, ok := v.(string); ok {
				values[k] = s
			}
		}
		out = append(out, StreamEntry{ID: m.ID, Values: values})
	}
	return out
}
