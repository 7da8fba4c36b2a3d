// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the chatlink command line: argument parsing, the
// component wiring shared with the terminal UI, and the headless commands.
//
// # Key Types
//
//   - Command, Args: the parsed command line
//   - ArgParser: flag and positional access for subcommands
//   - App: configuration, logging and storage opened from the config file,
//     plus constructors for the stream bridge and operator channels
//   - JSONResponse: the single document written in --json mode
//
// # Usage
//
//	cmd, args := cli.Parse()
//	app, err := cli.OpenApp(ctx, args)
//	if err != nil {
//	    os.Exit(cli.Report(os.Stderr, cmd.String(), err, args.JSON))
//	}
//	defer app.Close()
//	err = cli.HandleAsk(ctx, app, args)
//
// # Commands
//
//   - ask: stream one answer to stdout
//   - chat: line-mode chat with input history
//   - session: show, clear, history, search, view, export
//   - config: show, get, keys, path, init
//   - version, help
//
// The terminal UI itself lives in internal/ui/chat; main starts it with
// the orchestrator returned by App.StartSession.
package cli
