package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "idem"

// RedisStore implements Store on Redis strings. Expiry is delegated to key TTLs.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// RedisOption customises the RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix namespaces the keys written by the store.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			s.prefix = trimmed
		}
	}
}

// NewRedisStore constructs a Redis-backed idempotency store.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	store := &RedisStore{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

var _ Store = (*RedisStore)(nil)

// Reserve claims the key with SETNX so only one request runs the checkout.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	ttl = normalizeTTL(ttl)
	now = now.UTC()
	redisKey := s.key(key)

	pending := newPendingRecord(key, fingerprint, now, ttl)
	payload, err := json.Marshal(pending)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: encode record: %w", err)
	}

	created, err := s.client.SetNX(ctx, redisKey, payload, ttl).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: reserve key: %w", err)
	}
	if created {
		return Reservation{State: ReservationStateNew, Record: pending}, nil
	}

	existing, found, err := s.load(ctx, redisKey)
	if err != nil {
		return Reservation{}, err
	}
	if !found {
		// Expired between SETNX and GET.
		return s.Reserve(ctx, key, fingerprint, now, ttl)
	}
	return existing.reservation(fingerprint)
}

// SaveResponse implements the Store interface.
func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ttl = normalizeTTL(ttl)
	now = now.UTC()
	redisKey := s.key(key)

	record, found, err := s.load(ctx, redisKey)
	if err != nil {
		return err
	}
	if !found {
		record = Record{Key: key, Fingerprint: fingerprint}
	} else if record.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	record.complete(resp, now, ttl)

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("idempotency: encode record: %w", err)
	}
	if err := s.client.Set(ctx, redisKey, payload, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: save response: %w", err)
	}
	return nil
}

// Release implements the Store interface.
func (s *RedisStore) Release(ctx context.Context, key, fingerprint string) error {
	redisKey := s.key(key)
	record, found, err := s.load(ctx, redisKey)
	if err != nil || !found {
		return err
	}
	if record.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	if err := s.client.Del(ctx, redisKey).Err(); err != nil {
		return fmt.Errorf("idempotency: release key: %w", err)
	}
	return nil
}

// CleanupExpired is a no-op: Redis evicts expired records on its own.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (s *RedisStore) load(ctx context.Context, redisKey string) (Record, bool, error) {
	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("idempotency: load key: %w", err)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, false, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return record, true, nil
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + recordID(key)
}
