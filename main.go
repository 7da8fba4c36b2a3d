// chatlink - A terminal client for the assistant chat service.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeranaias/chatlink/internal/cli"
	"github.com/jeranaias/chatlink/internal/ui/chat"
)

func main() {
	cmd, args := cli.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, cmd, args)
	stop()

	os.Exit(cli.Report(os.Stderr, cmd.String(), err, args.JSON))
}

// run dispatches one command. Commands that need no configuration run
// before anything is opened.
func run(ctx context.Context, cmd cli.Command, args cli.Args) error {
	switch cmd {
	case cli.CmdHelp:
		return cli.HandleHelp(args)
	case cli.CmdVersion:
		return cli.HandleVersion(args)
	case cli.CmdUnknown:
		return cli.ErrUnknownCommand(args.Name)
	case cli.CmdConfig:
		if args.Subcommand == "init" {
			return cli.HandleConfig(nil, args)
		}
	}

	app, err := cli.OpenApp(ctx, args)
	if err != nil {
		return err
	}
	defer app.Close()

	switch cmd {
	case cli.CmdAsk:
		return cli.HandleAsk(ctx, app, args)
	case cli.CmdChat:
		return cli.HandleChat(ctx, app, args)
	case cli.CmdSession:
		return cli.HandleSession(ctx, app, args)
	case cli.CmdConfig:
		return cli.HandleConfig(app, args)
	}
	return runTUI(ctx, app, args)
}

func runTUI(ctx context.Context, app *cli.App, args cli.Args) error {
	if args.JSON {
		return &cli.UsageError{Message: "--json is not supported by the terminal UI", Usage: "chatlink ask --json <prompt>"}
	}
	if !cli.IsStdoutTTY() {
		return &cli.UsageError{Message: "the terminal UI needs a terminal", Usage: "chatlink chat"}
	}

	orch, stop, err := app.StartSession(ctx)
	if err != nil {
		return err
	}
	defer stop()

	if err := app.WatchConfig(); err != nil {
		app.Log.Warn("CONFIG_WATCH_FAILED", "error", err)
	}

	details, err := app.Store.LoadDetails(ctx)
	if err != nil {
		app.Log.Warn("DETAILS_LOAD_FAILED", "error", err)
		details = nil
	}

	app.Log.Info("TUI_STARTED", "session", orch.Snapshot().SessionID)
	err = chat.Run(ctx, chat.Options{
		Conversation: orch,
		Details:      details,
		NoColor:      app.Config.UI.NoColor,
		Markdown:     app.Config.UI.Markdown,
		Logger:       app.Log.Logger,
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
