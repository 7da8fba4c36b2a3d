// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeranaias/chatlink/internal/config"
)

// Stderr is the LogConfig.File value that selects standard error.
const Stderr = "-"

// Logging owns the configured logger and its output.
type Logging struct {
	*slog.Logger

	level *slog.LevelVar
	out   io.Writer
	file  *os.File
}

// New builds a logger from cfg. An empty File writes to standard error.
func New(cfg config.LogConfig) (*Logging, error) {
	level := new(slog.LevelVar)
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	level.Set(lvl)

	l := &Logging{level: level, out: os.Stderr}
	if cfg.File != "" && cfg.File != Stderr {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = f
		l.out = f
	}

	l.Logger = slog.New(newHandler(l.out, cfg.Format, level))
	return l, nil
}

// NewWriter builds a logger that writes to w. Used by tests and by the
// headless commands.
func NewWriter(w io.Writer, format, levelName string) (*Logging, error) {
	lvl, err := ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	level := new(slog.LevelVar)
	level.Set(lvl)
	return &Logging{
		Logger: slog.New(newHandler(w, format, level)),
		level:  level,
		out:    w,
	}, nil
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHandler(w io.Writer, format string, level *slog.LevelVar) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Level returns the current level.
func (l *Logging) Level() slog.Level {
	return l.level.Level()
}

// SetLevel changes the level of every logger derived from l.
func (l *Logging) SetLevel(name string) error {
	lvl, err := ParseLevel(name)
	if err != nil {
		return err
	}
	if lvl != l.level.Level() {
		l.Logger.Info("LOG_LEVEL_CHANGED", "from", l.level.Level().String(), "to", lvl.String())
		l.level.Set(lvl)
	}
	return nil
}

// Close closes the log file, if any.
func (l *Logging) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// ParseLevel maps a config level name to a slog.Level. Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}
