// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/jeranaias/glossa/internal/model"
)

const (
	// Key layout in Redis
	redisDocPrefix = "glossa:doc:"
	redisIndexKey  = "glossa:docs"
)

// RedisStore keeps each document as a Redis string and tracks keys in a set.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(ctx context.Context, addr string) (*RedisStore, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, wrapErr("open", "", fmt.Errorf("failed to connect to redis at %s: %w", addr, err))
	}
	return &RedisStore{client: client}, nil
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, key string) ([]model.Session, error) {
	data, err := s.client.Get(ctx, redisDocPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("load", key, err)
	}

	rec, err := decodeRecord(data)
	if err != nil {
		return nil, wrapErr("load", key, err)
	}
	if len(rec.Sessions) == 0 {
		return nil, ErrNotFound
	}
	return rec.Sessions, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, key string, sessions []model.Session) error {
	if len(sessions) == 0 {
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, redisDocPrefix+key)
			pipe.SRem(ctx, redisIndexKey, key)
			return nil
		})
		return wrapErr("clear", key, err)
	}

	data, err := encodeRecord(key, sessions)
	if err != nil {
		return wrapErr("save", key, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisDocPrefix+key, data, 0)
		pipe.SAdd(ctx, redisIndexKey, key)
		return nil
	})
	return wrapErr("save", key, err)
}

// Keys implements Lister.
func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, wrapErr("list", "", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
