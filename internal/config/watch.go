// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 200 * time.Millisecond

// =============================================================================
// FSNOTIFY WATCHER
// =============================================================================

// Watcher reloads a config file when it changes on disk.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func(*Config)
	log      *slog.Logger

	mu      sync.Mutex
	pending time.Time
	ctx     context.Context
	cancel  context.CancelFunc
	done    sync.WaitGroup
}

// Watch starts watching path. onChange receives every successfully loaded
// and validated configuration; invalid edits are logged and skipped.
// The parent directory is watched so atomic replace-by-rename saves are seen.
func Watch(path string, debounce time.Duration, logger *slog.Logger, onChange func(*Config)) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:     filepath.Clean(path),
		watcher:  fsw,
		debounce: debounce,
		onChange: onChange,
		log:      logger.With("component", "config"),
		ctx:      ctx,
		cancel:   cancel,
	}

	w.done.Add(2)
	go w.processEvents()
	go w.processPending()
	return w, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	w.done.Wait()
	return err
}

func (w *Watcher) processEvents() {
	defer w.done.Done()
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.mu.Lock()
				w.pending = time.Now()
				w.mu.Unlock()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("CONFIG_WATCH_ERROR", "error", err)
		}
	}
}

func (w *Watcher) processPending() {
	defer w.done.Done()
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case now := <-ticker.C:
			w.mu.Lock()
			due := !w.pending.IsZero() && now.Sub(w.pending) >= w.debounce
			if due {
				w.pending = time.Time{}
			}
			w.mu.Unlock()

			if due {
				w.reload()
			}
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadFromPath(w.path)
	if err != nil {
		w.log.Warn("CONFIG_RELOAD_FAILED", "path", w.path, "error", err)
		return
	}
	w.log.Info("CONFIG_RELOADED", "path", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
