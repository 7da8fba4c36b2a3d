// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrNotFound is returned by KV.Get for a missing key.
var ErrNotFound = errors.New("storage: key not found")

// KV is a small byte-value store. Implementations are safe for concurrent
// use.
type KV interface {
	// Get returns the value stored under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set replaces the value stored under key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}

// Backend names a KV implementation.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendSQLite Backend = "sqlite"
	BackendRedis  Backend = "redis"
	BackendMemory Backend = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend Backend

	// Dir is the FileKV directory.
	Dir string

	// SQLitePath is the SQLiteKV database file.
	SQLitePath string

	RedisAddr   string
	RedisDB     int
	RedisPrefix string
}

// Open creates the KV selected by opts. On error the returned KV is nil.
func Open(ctx context.Context, opts Options) (KV, error) {
	var (
		kv  KV
		err error
	)
	switch opts.Backend {
	case BackendFile, "":
		var f *FileKV
		if f, err = NewFileKV(opts.Dir); err == nil {
			kv = f
		}
	case BackendSQLite:
		var s *SQLiteKV
		if s, err = NewSQLiteKV(ctx, opts.SQLitePath); err == nil {
			kv = s
		}
	case BackendRedis:
		var r *RedisKV
		if r, err = NewRedisKV(ctx, opts.RedisAddr, opts.RedisDB, opts.RedisPrefix); err == nil {
			kv = r
		}
	case BackendMemory:
		kv = NewMemoryKV()
	default:
		err = fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	return kv, nil
}

var validKey = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// checkKey rejects keys that cannot be used as file names.
func checkKey(key string) error {
	if !validKey.MatchString(key) || key == "." || key == ".." {
		return fmt.Errorf("storage: invalid key %q", key)
	}
	return nil
}
