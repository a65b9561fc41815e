package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/ngoyal88/mimasaka/pkg/cache"
)

const (
	recordKeyPrefix = "reqmsg:"
	indexKey        = "reqmsg:index"
)

// RedisStore implements Store using Redis. Records are JSON documents keyed
// by id, and a sorted set scored by write time tracks live ids for Count.
type RedisStore struct {
	rdb     *cache.Client
	ttl     time.Duration // 0 keeps records until deleted
	breaker *gobreaker.CircuitBreaker
}

// NewRedisStore creates a new Redis-backed storage
func NewRedisStore(rdb *cache.Client, recordTTL time.Duration) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		ttl: recordTTL,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "redis-store",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				var pe passError
				return err == nil || errors.Is(err, ErrNotFound) || errors.As(err, &pe)
			},
		}),
	}
}

func recordKey(id string) string {
	return recordKeyPrefix + id
}

// passError carries failures that say nothing about Redis health: the
// caller's context ending and undecodable records. The breaker counts them as
// successes and execute returns them without ErrUnavailable.
type passError struct {
	err error
}

func (e passError) Error() string { return e.err.Error() }
func (e passError) Unwrap() error { return e.err }

// execute runs fn through the circuit breaker, reporting an open breaker and
// Redis failures as ErrUnavailable.
func (s *RedisStore) execute(ctx context.Context, fn func() error) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		err := fn()
		if err != nil && ctx.Err() != nil {
			return nil, passError{err}
		}
		return nil, err
	})

	var pe passError
	switch {
	case err == nil, errors.Is(err, ErrNotFound):
		return err
	case errors.As(err, &pe):
		return pe.err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: circuit %s", ErrUnavailable, s.breaker.State())
	default:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}

func (s *RedisStore) Get(ctx context.Context, id string) (*RequestMessage, error) {
	var msg RequestMessage
	err := s.execute(ctx, func() error {
		data, err := s.rdb.Get(ctx, recordKey(id))
		if errors.Is(err, cache.ErrMiss) {
			return ErrNotFound
		} else if err != nil {
			return err
		}

		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&msg); err != nil {
			return passError{fmt.Errorf("decoding record %s: %w", id, err)}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *RedisStore) Put(ctx context.Context, msg *RequestMessage) error {
	if msg == nil || msg.ID == "" {
		return fmt.Errorf("put: record id is required")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", msg.ID, err)
	}

	return s.execute(ctx, func() error {
		_, err := s.rdb.Redis().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, recordKey(msg.ID), data, s.ttl)
			pipe.ZAdd(ctx, indexKey, redis.Z{
				Score:  float64(time.Now().Unix()),
				Member: msg.ID,
			})
			return nil
		})
		return err
	})
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.execute(ctx, func() error {
		_, err := s.rdb.Redis().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, recordKey(id))
			pipe.ZRem(ctx, indexKey, id)
			return nil
		})
		return err
	})
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	var n int64
	err := s.execute(ctx, func() error {
		if s.ttl > 0 {
			cutoff := fmt.Sprintf("%d", time.Now().Add(-s.ttl).Unix())
			if err := s.rdb.Redis().ZRemRangeByScore(ctx, indexKey, "-inf", "("+cutoff).Err(); err != nil {
				return err
			}
		}
		var err error
		n, err = s.rdb.Redis().ZCard(ctx, indexKey).Result()
		return err
	})
	return int(n), err
}

// Ping checks Redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.execute(ctx, func() error {
		return s.rdb.Ping(ctx)
	})
}

// Close is a no-op. The Redis client is shared with the rate limiter and
// closed by its owner.
func (s *RedisStore) Close() error {
	return nil
}
