// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - Headless single-answer streaming.
//
// Usage:
//
//	chatlink ask "What should I read today?"
//	chatlink ask --lang ro --json "Salut"
//
// The prompt is streamed through the same bridge the terminal UI uses. The
// stored session is read for its id and language but never modified.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/jeranaias/chatlink/internal/model"
	"github.com/jeranaias/chatlink/internal/session"
	"github.com/jeranaias/chatlink/internal/stream"
)

// errStreamEnded is returned when a relay stops without Done or Error.
var errStreamEnded = errors.New("stream ended without completing")

// AskData is the JSON form of an answer.
type AskData struct {
	SessionID string     `json:"sessionId"`
	Lang      model.Lang `json:"lang"`
	Content   string     `json:"content"`
	HistoryID *int64     `json:"historyId,omitempty"`
}

// HandleAsk streams one answer for args.Query to stdout.
func HandleAsk(ctx context.Context, app *App, args Args) error {
	if args.Query == "" {
		return ErrMissingArgument("prompt", `chatlink ask [--lang ro|en|hu] "question"`)
	}

	data, err := resolveAskTarget(ctx, app, args)
	if err != nil {
		return err
	}
	url, err := stream.BuildURL(app.Config.Stream.URL, args.Query, data.SessionID, string(data.Lang))
	if err != nil {
		return err
	}

	bridge := app.NewBridge()
	defer bridge.Close()

	log := app.Log.With("component", "ask")
	log.Debug("ASK_STARTED", "session", data.SessionID, "lang", data.Lang)

	sub := bridge.Open(url)
	defer sub.Cancel()

	var live io.Writer
	if !args.JSON {
		live = args.Stdout
	}
	data.Content, data.HistoryID, err = collectAnswer(ctx, sub, live)
	if err != nil {
		log.Debug("ASK_FAILED", "error", err)
		if live != nil && data.Content != "" {
			fmt.Fprintln(live)
		}
		return fmt.Errorf("ask failed: %w", err)
	}
	log.Debug("ASK_COMPLETED", "chars", len(data.Content))

	if args.JSON {
		return NewJSONResponse("ask", data).Write(args.Stdout)
	}
	if !strings.HasSuffix(data.Content, "\n") {
		fmt.Fprintln(args.Stdout)
	}
	return nil
}

// resolveAskTarget picks the session id and language: flags first, then
// the stored session, then a new id and the configured default language.
func resolveAskTarget(ctx context.Context, app *App, args Args) (AskData, error) {
	var data AskData

	stored, err := app.Store.Load(ctx)
	if err != nil {
		app.Log.Warn("SESSION_LOAD_FAILED", "error", err)
		stored = nil
	}

	switch {
	case args.SessionID != "":
		data.SessionID = args.SessionID
	case stored != nil:
		data.SessionID = stored.ID
	default:
		data.SessionID = uuid.NewString()
	}

	langName := args.Lang
	if langName == "" && stored != nil && stored.HasLang() {
		langName = string(*stored.Lang)
	}
	if langName == "" {
		langName = app.Config.Session.DefaultLang
	}
	lang, err := model.ParseLang(langName)
	if err != nil {
		return data, &UsageError{Message: err.Error()}
	}
	data.Lang = lang
	return data, nil
}

// collectAnswer drains r, copying tokens to live when it is not nil.
func collectAnswer(ctx context.Context, r session.Relay, live io.Writer) (string, *int64, error) {
	var b strings.Builder
	for {
		ev, ok := r.Next(ctx)
		if !ok {
			if err := ctx.Err(); err != nil {
				return b.String(), nil, err
			}
			return b.String(), nil, errStreamEnded
		}
		switch ev.Kind {
		case stream.EventToken:
			b.WriteString(ev.Token)
			if live != nil {
				io.WriteString(live, ev.Token)
			}
		case stream.EventDone:
			return b.String(), ev.HistoryID, nil
		case stream.EventError:
			if ev.Err == nil {
				return b.String(), nil, errStreamEnded
			}
			return b.String(), nil, ev.Err
		}
	}
}
