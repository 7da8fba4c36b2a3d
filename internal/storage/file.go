// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jeranaias/chatlink/internal/util"
)

// FileKV stores each key as <dir>/<key>.json.
type FileKV struct {
	dir string
	mu  sync.Mutex
}

// NewFileKV creates a FileKV rooted at dir, creating it if needed.
func NewFileKV(dir string) (*FileKV, error) {
	if dir == "" {
		return nil, errors.New("storage: file backend needs a directory")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileKV{dir: dir}, nil
}

// Dir returns the root directory.
func (f *FileKV) Dir() string { return f.dir }

func (f *FileKV) path(key string) string {
	return filepath.Join(f.dir, key+".json")
}

func (f *FileKV) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Set writes atomically so a crash never leaves a torn value.
func (f *FileKV) Set(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return util.AtomicWriteFile(f.path(key), value, 0600)
}

func (f *FileKV) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (f *FileKV) Close() error { return nil }
