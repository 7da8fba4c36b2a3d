// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisPrefix namespaces keys when no prefix is configured.
const DefaultRedisPrefix = "chatlink:"

// RedisKV stores values as plain Redis strings without expiry.
type RedisKV struct {
	client *redis.Client
	prefix string
}

// NewRedisKV connects to addr and verifies the connection.
func NewRedisKV(ctx context.Context, addr string, db int, prefix string) (*RedisKV, error) {
	if addr == "" {
		return nil, errors.New("storage: redis backend needs an address")
	}
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	kv, err := NewRedisKVFromClient(ctx, client, prefix)
	if err != nil {
		client.Close()
		return nil, err
	}
	return kv, nil
}

// NewRedisKVFromClient wraps an existing client.
func NewRedisKVFromClient(ctx context.Context, client *redis.Client, prefix string) (*RedisKV, error) {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisKV{client: client, prefix: prefix}, nil
}

func (r *RedisKV) key(k string) string { return r.prefix + k }

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

func (r *RedisKV) Close() error {
	return r.client.Close()
}
