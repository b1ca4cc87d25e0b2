// Package redis stores records as hashes {value, version} so a room already
// running against a single Redis keeps working with compare-and-swap writes.
package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lodomo/EscapeWright/internal/store"
)

const (
	fieldValue   = "value"
	fieldVersion = "version"
)

type Store struct {
	client *goredis.Client
}

// New connects to addr and pings the server.
func New(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Get(ctx context.Context, key string) (store.Record, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return store.Record{}, err
	}
	if len(vals) == 0 {
		return store.Record{}, store.ErrNotFound
	}
	rec := store.Record{Key: key, Value: vals[fieldValue]}
	if _, err := fmt.Sscan(vals[fieldVersion], &rec.Version); err != nil {
		return store.Record{}, fmt.Errorf("redis %s: bad version %q", key, vals[fieldVersion])
	}
	return rec, nil
}

func (s *Store) Put(ctx context.Context, key, value string, version int64) (int64, error) {
	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		current, err := tx.HGet(ctx, key, fieldVersion).Int64()
		if errors.Is(err, goredis.Nil) {
			current = 0
		} else if err != nil {
			return err
		}
		if current != version {
			return store.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.HSet(ctx, key, fieldValue, value, fieldVersion, version+1)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, goredis.TxFailedErr) {
		return 0, store.ErrConflict
	}
	if err != nil {
		return 0, err
	}
	return version + 1, nil
}

func (s *Store) Set(ctx context.Context, key, value string) (int64, error) {
	var incr *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, key, fieldValue, value)
		incr = p.HIncrBy(ctx, key, fieldVersion, 1)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
