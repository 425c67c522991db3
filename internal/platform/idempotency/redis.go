package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "idempotency:"
	redisTxAttempts    = 3
)

type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces keys, e.g. per environment sharing one Redis.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// RedisStore keeps records as JSON strings with a Redis TTL matching ExpiresAt. Reserve and
// SaveResponse use WATCH/MULTI so two instances cannot both claim a key.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	s := &RedisStore{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	var out Reservation
	err := s.atomically(ctx, key, func(tx *redis.Tx, rkey string) error {
		current, found, err := s.load(ctx, tx, rkey)
		if err != nil {
			return err
		}
		if found {
			res, held, err := current.answer(fingerprint, now)
			if held || err != nil {
				out = res
				return err
			}
		}
		rec := newRecord(key, fingerprint, now, ttl)
		out = Reservation{State: Acquired, Record: rec}
		return s.put(ctx, tx, rkey, rec, now)
	})
	if err != nil {
		return Reservation{}, err
	}
	return out, nil
}

func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	return s.atomically(ctx, key, func(tx *redis.Tx, rkey string) error {
		rec, found, err := s.load(ctx, tx, rkey)
		switch {
		case err != nil:
			return err
		case !found:
			rec = Record{Key: key, Fingerprint: fingerprint}
		case rec.Fingerprint != fingerprint:
			return ErrFingerprintMismatch
		}
		return s.put(ctx, tx, rkey, rec.complete(resp, now, ttl), now)
	})
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("idempotency: redis release: %w", err)
	}
	return nil
}

// CleanupExpired is a no-op: Redis evicts records when their TTL lapses.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + hashKey(key)
}

// atomically runs fn under WATCH on the key, retrying when another client wrote it first.
func (s *RedisStore) atomically(ctx context.Context, key string, fn func(tx *redis.Tx, rkey string) error) error {
	rkey := s.redisKey(key)
	var err error
	for attempt := 0; attempt < redisTxAttempts; attempt++ {
		err = s.client.Watch(ctx, func(tx *redis.Tx) error { return fn(tx, rkey) }, rkey)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	switch {
	case err == nil, errors.Is(err, ErrFingerprintMismatch):
		return err
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("idempotency: key %s contended: %w", rkey, err)
	}
	return fmt.Errorf("idempotency: redis: %w", err)
}

func (s *RedisStore) load(ctx context.Context, tx *redis.Tx, rkey string) (Record, bool, error) {
	raw, err := tx.Get(ctx, rkey).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode %s: %w", rkey, err)
	}
	return rec, true, nil
}

func (s *RedisStore) put(ctx context.Context, tx *redis.Tx, rkey string, rec Record, now time.Time) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, rkey, raw, rec.ExpiresAt.Sub(now))
		return nil
	})
	return err
}
