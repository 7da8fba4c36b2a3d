// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the process-wide slog logger from the [log]
// configuration section.
//
// The terminal UI owns stdout, so logs go to a file by default. The level is
// held in a slog.LevelVar and can be changed while running, which is how a
// config file reload applies a new level.
//
// # Usage
//
//	lg, err := logging.New(cfg.Log)
//	if err != nil {
//	    return err
//	}
//	defer lg.Close()
//	slog.SetDefault(lg.Logger)
//	lg.SetLevel("debug")
package logging
