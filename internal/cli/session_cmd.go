// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// session_cmd.go - The "session" command.
//
// Subcommands:
//   - show: print the active session
//   - clear [--confirm]: archive the active session and delete it
//   - history [--limit N]: list archived sessions, newest first
//   - search <text>: archived sessions containing text
//   - view <id>: print an archived session
//   - export <id|current> [--format md|json] [--out dir]: write a session to a file

package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/chatlink/internal/export"
	"github.com/jeranaias/chatlink/internal/model"
	"github.com/jeranaias/chatlink/internal/storage"
)

var sessionSubcommands = []string{"show", "clear", "history", "search", "view", "export"}

// previewWidth bounds the preview column in cells.
const previewWidth = 48

// HandleSession dispatches the session subcommands.
func HandleSession(ctx context.Context, app *App, args Args) error {
	p := NewArgParser(args.Raw, "confirm")
	switch sub := p.Subcommand(); sub {
	case "", "show":
		return sessionShow(ctx, app, args)
	case "clear":
		return sessionClear(ctx, app, args, p.BoolFlag("confirm"))
	case "history", "list":
		limit, err := p.FlagInt("limit", 0)
		if err != nil {
			return err
		}
		return sessionHistory(app, args, limit)
	case "search":
		query := p.JoinFrom(1)
		if query == "" {
			return ErrMissingArgument("text", "chatlink session search <text>")
		}
		return sessionSearch(app, args, query)
	case "view":
		id := p.Positional(1)
		if id == "" {
			return ErrMissingArgument("id", "chatlink session view <id>")
		}
		return sessionView(app, args, id)
	case "export":
		id := p.Positional(1)
		if id == "" {
			return ErrMissingArgument("id", "chatlink session export <id|current> [--format md|json] [--out dir]")
		}
		return sessionExport(ctx, app, args, id, p.FlagOrDefault("format", "md"), p.FlagOrDefault("out", "."))
	default:
		return ErrUnknownSubcommand("session", sub, sessionSubcommands)
	}
}

func sessionShow(ctx context.Context, app *App, args Args) error {
	sess, err := app.Store.Load(ctx)
	if err != nil {
		return err
	}
	if args.JSON {
		return NewJSONResponse("session show", sess).Write(args.Stdout)
	}
	if sess == nil {
		fmt.Fprintln(args.Stdout, "No active session.")
		return nil
	}
	printSession(args.Stdout, sess, args.Quiet)
	return nil
}

func sessionClear(ctx context.Context, app *App, args Args, confirmed bool) error {
	sess, err := app.Store.Load(ctx)
	if err != nil {
		return err
	}
	if sess == nil {
		if args.JSON {
			return NewJSONResponse("session clear", map[string]any{"cleared": false}).Write(args.Stdout)
		}
		fmt.Fprintln(args.Stdout, "No active session.")
		return nil
	}

	if !confirmed {
		if args.JSON || !IsTTY() {
			return &UsageError{Message: "refusing to clear without --confirm", Usage: "chatlink session clear --confirm"}
		}
		if !promptYesNo(os.Stdin, args.Stderr, fmt.Sprintf("Clear session %s (%d messages)?", sess.ID, len(sess.Messages))) {
			fmt.Fprintln(args.Stdout, "Cancelled.")
			return nil
		}
	}

	archived := false
	if storage.Worth(sess) {
		if err := app.Archive.Put(sess); err != nil {
			return fmt.Errorf("failed to archive session: %w", err)
		}
		archived = true
	}
	if err := app.Store.Clear(ctx); err != nil {
		return err
	}
	app.Log.Info("SESSION_CLEARED", "session", sess.ID, "archived", archived)

	if args.JSON {
		return NewJSONResponse("session clear", map[string]any{
			"cleared":  true,
			"id":       sess.ID,
			"archived": archived,
		}).Write(args.Stdout)
	}
	fmt.Fprintln(args.Stdout, SuccessStyle.Render("Session cleared."))
	if archived && !args.Quiet {
		fmt.Fprintln(args.Stdout, DimStyle.Render("Archived as "+sess.ID))
	}
	return nil
}

func sessionHistory(app *App, args Args, limit int) error {
	metas, err := app.Archive.List()
	if err != nil {
		return err
	}
	if limit > 0 && len(metas) > limit {
		metas = metas[:limit]
	}
	return printMetas(args, "session history", metas, "No archived sessions.")
}

func sessionSearch(app *App, args Args, query string) error {
	metas, err := app.Archive.Search(query)
	if err != nil {
		return err
	}
	return printMetas(args, "session search", metas, fmt.Sprintf("No archived session mentions %q.", query))
}

func sessionView(app *App, args Args, id string) error {
	sess, err := app.Archive.Get(id)
	if err != nil {
		return err
	}
	if args.JSON {
		return NewJSONResponse("session view", sess).Write(args.Stdout)
	}
	printSession(args.Stdout, sess, args.Quiet)
	return nil
}

// sessionExport writes the active session ("current") or an archived one to
// a file in dir.
func sessionExport(ctx context.Context, app *App, args Args, id, format, dir string) error {
	opts := export.DefaultOptions()
	opts.OutputDir = dir
	exporter, err := export.ForFormat(format, opts)
	if err != nil {
		return &UsageError{Message: err.Error(), Usage: "chatlink session export <id|current> --format md|json"}
	}

	var sess *model.Session
	if id == "current" {
		sess, err = app.Store.Load(ctx)
		if err == nil && sess == nil {
			err = usageErrorf("no active session to export")
		}
	} else {
		sess, err = app.Archive.Get(id)
	}
	if err != nil {
		return err
	}

	path, err := export.ExportToFile(sess, exporter, opts)
	if err != nil {
		return err
	}
	app.Log.Info("SESSION_EXPORTED", "session", sess.ID, "format", exporter.MimeType(), "path", path)

	if args.JSON {
		return NewJSONResponse("session export", map[string]any{
			"id":     sess.ID,
			"path":   path,
			"format": exporter.MimeType(),
		}).Write(args.Stdout)
	}
	fmt.Fprintln(args.Stdout, SuccessStyle.Render("Exported to "+path))
	return nil
}

// =============================================================================
// RENDERING
// =============================================================================

func printMetas(args Args, command string, metas []storage.SessionMeta, empty string) error {
	if args.JSON {
		if metas == nil {
			metas = []storage.SessionMeta{}
		}
		return NewJSONResponse(command, metas).Write(args.Stdout)
	}
	if len(metas) == 0 {
		fmt.Fprintln(args.Stdout, empty)
		return nil
	}
	for _, m := range metas {
		lang := string(m.Lang)
		if lang == "" {
			lang = "--"
		}
		fmt.Fprintf(args.Stdout, "%s  %s  %s  %3d  %s\n",
			m.ID,
			DimStyle.Render(formatMillis(m.UpdatedAt)),
			lang,
			m.MessageCount,
			runewidth.Truncate(m.Preview, previewWidth, "..."))
	}
	return nil
}

func printSession(w io.Writer, sess *model.Session, quiet bool) {
	if !quiet {
		lang := "not selected"
		if sess.HasLang() {
			lang = string(*sess.Lang)
		}
		fmt.Fprintln(w, TitleStyle.Render("Session "+sess.ID))
		fmt.Fprintf(w, "%s%s\n", RenderLabel("Language"), ValueStyle.Render(lang))
		fmt.Fprintf(w, "%s%s\n", RenderLabel("Mode"), ValueStyle.Render(string(sess.Mode)))
		fmt.Fprintf(w, "%s%s\n", RenderLabel("Updated"), ValueStyle.Render(formatMillis(sess.UpdatedAt)))
		fmt.Fprintf(w, "%s%d\n", RenderLabel("Messages"), len(sess.Messages))
		fmt.Fprintln(w, RenderSeparator())
	}
	for _, m := range sess.Messages {
		fmt.Fprintf(w, "%s %s\n", RenderRole(m), DimStyle.Render(m.Time().Format("15:04")))
		fmt.Fprintln(w, m.Content)
		fmt.Fprintln(w)
	}
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}

// promptYesNo asks question on w and reads the answer from r.
func promptYesNo(r io.Reader, w io.Writer, question string) bool {
	fmt.Fprintf(w, "%s [y/N] ", question)
	line, _ := bufio.NewReader(r).ReadString('\n')
	ok, err := ParseBoolString(strings.TrimSpace(line))
	return err == nil && ok
}
