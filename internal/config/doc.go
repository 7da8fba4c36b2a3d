// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for chatlink.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, validation and live reload.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - StreamConfig: Assistant stream endpoint and relay settings
//   - OperatorConfig: Human operator channel settings
//   - StoreConfig: Session persistence backend
//   - Watcher: fsnotify-based reload of the config file
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (CHATLINK_*)
//   - ~/.chatlink/config.toml
//   - ~/.chatlink/config.json
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Access settings:
//
//	endpoint := cfg.Stream.URL
//	idle := cfg.Stream.IdleTimeout.Duration
package config
