package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

const jobKeyPrefix = "recordcheck:job:"

// RedisStore keeps snapshots in Redis, one JSON value per job key. A single
// SET replaces the whole snapshot, which gives the same atomic full-replace
// semantics as MemoryStore across processes.
//
// ttl, when positive, is applied on every Put so abandoned jobs expire even
// without the retention sweeper.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore creates a store backed by rdb.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// NewRedisStoreFromURL parses a redis:// URL and verifies connectivity.
func NewRedisStoreFromURL(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return NewRedisStore(rdb, ttl), nil
}

func (s *RedisStore) Put(ctx context.Context, id string, snap Snapshot) error {
	if id == "" {
		return errors.New("store: id is required")
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}
	if err := s.rdb.Set(ctx, jobKey(id), payload, s.ttl).Err(); err != nil {
		return errors.Wrapf(err, "redis set %s", id)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Snapshot, error) {
	data, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, errors.Wrapf(ErrJobNotFound, "upload %q", id)
		}
		return Snapshot{}, errors.Wrapf(err, "redis get %s", id)
	}
	return decodeSnapshot(data)
}

func (s *RedisStore) ListStaleTerminal(ctx context.Context, olderThan time.Time) ([]string, error) {
	var ids []string
	iter := s.rdb.Scan(ctx, 0, jobKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return nil, errors.Wrapf(err, "redis get %s", key)
		}
		snap, err := decodeSnapshot(data)
		if err != nil {
			slog.Warn("skipping undecodable job snapshot", "key", key, "error", err)
			continue
		}
		if isStale(snap, olderThan) {
			ids = append(ids, key[len(jobKeyPrefix):])
		}
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "redis scan")
	}
	return ids, nil
}

func (s *RedisStore) Evict(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, jobKey(id)).Err(); err != nil {
		return errors.Wrapf(err, "redis del %s", id)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func decodeSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, errors.Wrap(err, "decode snapshot")
	}
	if snap.FailedRecords == nil {
		snap.FailedRecords = []FailedRecord{}
	}
	return snap, nil
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}
