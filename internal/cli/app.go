// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// app.go - Component wiring shared by the terminal UI and the subcommands.

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jeranaias/chatlink/internal/config"
	"github.com/jeranaias/chatlink/internal/logging"
	"github.com/jeranaias/chatlink/internal/model"
	"github.com/jeranaias/chatlink/internal/session"
	"github.com/jeranaias/chatlink/internal/stomp"
	"github.com/jeranaias/chatlink/internal/storage"
	"github.com/jeranaias/chatlink/internal/stream"
)

// App holds the components opened from the configuration.
type App struct {
	Config *config.Config

	// ConfigPath is the file Config was read from; empty when defaults
	// were used.
	ConfigPath string

	Log     *logging.Logging
	Store   *storage.SessionStore
	Archive *storage.Archive

	pinnedLevel bool
	watcher     *config.Watcher
}

// OpenApp loads configuration and opens logging and storage.
func OpenApp(ctx context.Context, args Args) (*App, error) {
	cfg, path, err := loadConfig(args.ConfigPath)
	if err != nil {
		return nil, err
	}
	app := &App{Config: cfg, ConfigPath: path}

	if args.Verbose {
		cfg.Log.Level = "debug"
		cfg.Log.File = logging.Stderr
		app.pinnedLevel = true
	}
	if args.NoColor {
		cfg.UI.NoColor = true
	}
	if cfg.UI.NoColor {
		ForceColorsEnabled(false)
	}

	app.Log, err = logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	kv, err := storage.Open(ctx, storage.Options{
		Backend:     storage.Backend(cfg.Store.Backend),
		Dir:         cfg.Store.Dir,
		SQLitePath:  cfg.Store.SQLitePath,
		RedisAddr:   cfg.Store.RedisAddr,
		RedisDB:     cfg.Store.RedisDB,
		RedisPrefix: cfg.Store.RedisPrefix,
	})
	if err != nil {
		app.Log.Close()
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}
	app.Store = storage.NewSessionStore(kv)

	app.Archive, err = storage.NewArchive(cfg.Store.ArchiveDir)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	app.Archive.MaxSessions = cfg.Store.MaxArchived

	app.Log.Debug("APP_OPENED",
		"config", path,
		"store", cfg.Store.Backend,
		"relay", cfg.Stream.Relay)
	return app, nil
}

// loadConfig reads path, or the default TOML/JSON file when path is empty.
// The returned path is the file actually read.
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.LoadFromPath(path)
		return cfg, path, err
	}
	for _, locate := range []func() (string, error){config.ConfigPathTOML, config.ConfigPathJSON} {
		p, err := locate()
		if err != nil {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			cfg, err := config.LoadFromPath(p)
			return cfg, p, err
		}
	}
	cfg, err := config.Load()
	return cfg, "", err
}

// =============================================================================
// TRANSPORTS
// =============================================================================

// NewPage builds the rendering context selected by stream.relay.
func (a *App) NewPage() stream.Page {
	sc := a.Config.Stream
	if sc.Relay == "http" {
		return stream.NewHTTPPage(stream.HTTPPageOptions{
			Origin:    sc.Origin,
			UserAgent: sc.UserAgent,
		})
	}
	return stream.NewBrowserPage(stream.BrowserPageOptions{
		Origin:    sc.Origin,
		UserAgent: sc.UserAgent,
		Headless:  sc.Headless,
		ExecPath:  sc.BrowserPath,
		Logger:    a.Log.Logger,
	})
}

// NewBridge starts a stream bridge over a new page.
func (a *App) NewBridge() *stream.Bridge {
	return stream.NewBridge(a.NewPage(), stream.Options{
		IdleTimeout: a.Config.Stream.IdleTimeout.Duration,
		LoadTimeout: a.Config.Stream.LoadTimeout.Duration,
		Logger:      a.Log.Logger,
	})
}

// Channels returns the operator channel factory for [operator].
func (a *App) Channels() session.ChannelFactory {
	oc := a.Config.Operator
	heartbeat := time.Duration(oc.HeartbeatMs) * time.Millisecond
	if oc.HeartbeatMs == 0 {
		heartbeat = -1
	}
	dialer := stomp.WebSocketDialer{
		HandshakeTimeout: oc.DialTimeout.Duration,
		Header:           http.Header{"User-Agent": []string{a.Config.Stream.UserAgent}},
	}
	return session.STOMPChannels(oc.URL, dialer, stomp.ClientOptions{
		Heartbeat: heartbeat,
		Logger:    a.Log.Logger,
	})
}

// StartSession builds the orchestrator with its own bridge. The returned
// stop function closes both.
func (a *App) StartSession(ctx context.Context) (*session.Orchestrator, func(), error) {
	lang, err := model.ParseLang(a.Config.Session.DefaultLang)
	if err != nil {
		return nil, nil, err
	}
	var check func(context.Context) error
	if sc := a.Config.Stream; sc.Origin != "" {
		check = stream.ConnectionCheck(nil, sc.Origin, sc.UserAgent)
	}
	bridge := a.NewBridge()
	orch, err := session.New(ctx, session.Options{
		Streamer:        session.FromBridge(bridge),
		Channels:        a.Channels(),
		Store:           a.Store,
		Archive:         a.Archive,
		StreamURL:       a.Config.Stream.URL,
		TopicPrefix:     a.Config.Operator.TopicPrefix,
		Destination:     a.Config.Operator.Destination,
		RequireLanguage: a.Config.Session.RequireLanguage,
		DefaultLang:     lang,
		CheckConnection: check,
		ConnectTimeout:  a.Config.Operator.DialTimeout.Duration,
		Logger:          a.Log.Logger,
	})
	if err != nil {
		bridge.Close()
		return nil, nil, err
	}
	stop := func() {
		orch.Close()
		bridge.Close()
	}
	return orch, stop, nil
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// WatchConfig follows the config file and applies log level edits live.
// It does nothing when defaults are in use or --verbose pinned the level.
func (a *App) WatchConfig() error {
	if a.ConfigPath == "" || a.pinnedLevel || a.watcher != nil {
		return nil
	}
	w, err := config.Watch(a.ConfigPath, config.DefaultDebounce, a.Log.Logger, func(cfg *config.Config) {
		if err := a.Log.SetLevel(cfg.Log.Level); err != nil {
			a.Log.Warn("LOG_LEVEL_REJECTED", "level", cfg.Log.Level, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", a.ConfigPath, err)
	}
	a.watcher = w
	return nil
}

// Close releases everything OpenApp opened.
func (a *App) Close() error {
	var errs []error
	if a.watcher != nil {
		errs = append(errs, a.watcher.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.Log != nil {
		errs = append(errs, a.Log.Close())
	}
	return errors.Join(errs...)
}
