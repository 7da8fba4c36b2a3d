// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Line-mode chat for terminals where the full UI is unwanted.
//
// Input is read with liner, so arrow keys walk the history kept in
// ~/.chatlink/chat_history. Answers are printed as they stream; the prompt
// returns once the assistant is done. Operator messages that arrive while
// the prompt is waiting are printed after the next Enter.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/chatlink/internal/config"
	"github.com/jeranaias/chatlink/internal/handover"
	"github.com/jeranaias/chatlink/internal/i18n"
	"github.com/jeranaias/chatlink/internal/model"
	"github.com/jeranaias/chatlink/internal/session"
)

const chatPrompt = "chatlink> "

const chatHelp = `Commands:
  /lang <ro|en|hu>              choose the conversation language
  /quick [n]                    list quick actions, or send action n
  /operator [--county C] [name] [contact]
                                talk to a human mentor
  /end                          end the mentor conversation
  /reset                        start a new conversation
  /quit                         leave (Ctrl+D works too)
Press Enter on an empty line to show new mentor messages.`

// HandleChat runs the line-mode chat until /quit, Ctrl+C or Ctrl+D.
func HandleChat(ctx context.Context, app *App, args Args) error {
	orch, stop, err := app.StartSession(ctx)
	if err != nil {
		return err
	}
	defer stop()

	if err := app.WatchConfig(); err != nil {
		app.Log.Warn("CONFIG_WATCH_FAILED", "error", err)
	}

	repl := newChatREPL(ctx, app, orch, args.Stdout)
	defer repl.close()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	historyFile := chatHistoryPath()
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer saveChatHistory(line, historyFile)

	repl.flush()
	if orch.Snapshot().State == session.StateIdle {
		fmt.Fprintln(args.Stdout, DimStyle.Render("Choose a language first: /lang ro | /lang en | /lang hu"))
	}
	if !args.Quiet {
		fmt.Fprintln(args.Stdout, DimStyle.Render("Type /help for commands."))
	}

	for {
		input, err := line.Prompt(chatPrompt)
		if err != nil {
			// liner.ErrPromptAborted (Ctrl+C) and io.EOF (Ctrl+D) both end
			// the chat.
			fmt.Fprintln(args.Stdout)
			return nil
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}
		quit, err := repl.exec(input)
		if err != nil {
			fmt.Fprintln(args.Stderr, ErrorStyle.Render("[Error]"), chatErrorText(err))
		}
		if quit || ctx.Err() != nil {
			return nil
		}
	}
}

func chatHistoryPath() string {
	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "chat_history")
}

func saveChatHistory(line *liner.State, path string) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	line.WriteHistory(f)
}

// chatErrorText adds a hint to the orchestrator errors a user can fix.
func chatErrorText(err error) string {
	switch {
	case errors.Is(err, session.ErrNoLanguage):
		return "choose a language first: /lang ro|en|hu"
	case errors.Is(err, session.ErrBusy):
		return "still answering, please wait"
	case errors.Is(err, session.ErrOperatorActive):
		return "a mentor is handling this conversation; /end returns to the assistant"
	case errors.Is(err, session.ErrNotOperator):
		return "no mentor conversation is open"
	}
	return err.Error()
}

// =============================================================================
// REPL
// =============================================================================

// chatREPL executes chat lines against an orchestrator and prints what
// changed.
type chatREPL struct {
	ctx   context.Context
	app   *App
	orch  *session.Orchestrator
	out   io.Writer
	snaps <-chan session.Snapshot
	close func()
	tr    transcript
}

func newChatREPL(ctx context.Context, app *App, orch *session.Orchestrator, out io.Writer) *chatREPL {
	snaps, cancel := orch.Subscribe()
	return &chatREPL{
		ctx:   ctx,
		app:   app,
		orch:  orch,
		out:   out,
		snaps: snaps,
		close: cancel,
		tr:    transcript{w: out},
	}
}

// exec runs one input line. quit is true when the chat should end.
func (c *chatREPL) exec(input string) (quit bool, err error) {
	input = strings.TrimSpace(input)
	if input == "" {
		c.flush()
		return false, nil
	}
	if !strings.HasPrefix(input, "/") {
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			return true, nil
		}
		return false, c.say(input)
	}

	fields := strings.Fields(input)
	cmd, rest := strings.ToLower(fields[0]), fields[1:]
	switch cmd {
	case "/quit", "/exit", "/q":
		return true, nil
	case "/help", "/?":
		fmt.Fprintln(c.out, chatHelp)
	case "/lang":
		if len(rest) == 0 {
			return false, ErrMissingArgument("language", "/lang ro|en|hu")
		}
		if err := c.orch.SelectLanguage(rest[0]); err != nil {
			return false, err
		}
		c.flush()
	case "/quick":
		return false, c.quick(rest)
	case "/operator", "/mentor":
		return false, c.operator(rest)
	case "/end":
		if err := c.orch.EndOperator(); err != nil {
			return false, err
		}
		c.flush()
	case "/reset":
		if err := c.orch.ResetSession(); err != nil {
			return false, err
		}
		c.flush()
	default:
		return false, usageErrorf("unknown command %s (try /help)", cmd)
	}
	return false, nil
}

func (c *chatREPL) say(text string) error {
	c.tr.lastSent = text
	if c.orch.Snapshot().Operator {
		if err := c.orch.SendMentorMessage(text); err != nil {
			return err
		}
		c.flush()
		return nil
	}
	if err := c.orch.SendMessage(text); err != nil {
		c.tr.lastSent = ""
		return err
	}
	c.settle(func(s session.Snapshot) bool { return !s.Busy }, 0)
	return nil
}

func (c *chatREPL) quick(rest []string) error {
	snap := c.orch.Snapshot()
	if snap.Lang == "" {
		return session.ErrNoLanguage
	}
	actions := i18n.For(snap.Lang).QuickActions
	if len(rest) == 0 {
		for i, qa := range actions {
			fmt.Fprintf(c.out, "  %d. %s\n", i+1, qa.Label)
		}
		return nil
	}
	n, err := strconv.Atoi(rest[0])
	if err != nil || n < 1 || n > len(actions) {
		return usageErrorf("quick action must be 1-%d", len(actions))
	}
	if err := c.orch.SendQuickAction(actions[n-1].Prompt); err != nil {
		return err
	}
	c.settle(func(s session.Snapshot) bool { return !s.Busy }, 0)
	return nil
}

// operator requests a mentor. Details not given default to the ones saved
// by the previous request.
func (c *chatREPL) operator(rest []string) error {
	const usage = "/operator [--county <county>] <name> <phone or email>"
	var d handover.Details
	if saved, err := c.app.Store.LoadDetails(c.ctx); err == nil && saved != nil {
		d = *saved
	}
	var args []string
	for i := 0; i < len(rest); i++ {
		switch a := rest[i]; {
		case a == "--county" || a == "-c":
			if i+1 == len(rest) {
				return &UsageError{Message: "--county needs a value", Usage: usage}
			}
			i++
			d.Department = rest[i]
		case strings.HasPrefix(a, "--county="):
			d.Department = strings.TrimPrefix(a, "--county=")
		default:
			args = append(args, a)
		}
	}
	if len(args) > 0 {
		d.Username = args[0]
	}
	if len(args) > 1 {
		d.Contact = strings.Join(args[1:], " ")
	}
	if err := d.Validate(); err != nil {
		msg := "name, contact and county are required"
		if errors.Is(err, handover.ErrUnknownCounty) {
			msg = fmt.Sprintf("unknown county %q; use a code like CJ or a name like Cluj", d.Department)
		}
		return &UsageError{Message: msg, Usage: usage}
	}

	if err := c.orch.RequestOperator(d); err != nil {
		return err
	}
	wait := c.app.Config.Operator.DialTimeout.Duration + time.Second
	c.settle(func(s session.Snapshot) bool { return s.OperatorConnected || !s.Operator }, wait)
	if snap := c.orch.Snapshot(); !snap.Operator {
		fmt.Fprintln(c.out, WarningStyle.Render("No mentor is reachable right now; you are back with the assistant."))
	}
	return nil
}

// flush prints the latest snapshot, if a new one is pending.
func (c *chatREPL) flush() {
	select {
	case s, ok := <-c.snaps:
		if ok {
			c.tr.render(s)
		}
	default:
	}
}

// settle prints snapshots until done reports true. A positive timeout
// bounds the wait.
func (c *chatREPL) settle(done func(session.Snapshot) bool, timeout time.Duration) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	for {
		select {
		case s, ok := <-c.snaps:
			if !ok {
				return
			}
			c.tr.render(s)
			if done(s) {
				return
			}
		case <-expired:
			return
		case <-c.ctx.Done():
			return
		}
	}
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// transcript prints the part of a conversation not yet on screen.
type transcript struct {
	w io.Writer

	sessionID string
	shown     int    // committed messages already printed
	streamed  string // text of the in-progress answer already printed

	// lastSent is the user's own line, already visible at the prompt.
	lastSent string
}

func (t *transcript) render(s session.Snapshot) {
	if s.SessionID != t.sessionID {
		if t.sessionID != "" {
			fmt.Fprintln(t.w, RenderSeparator())
		}
		t.sessionID, t.shown, t.streamed = s.SessionID, 0, ""
	}

	committed := s.Messages
	live, streaming := s.Streaming()
	if streaming {
		committed = committed[:len(committed)-1]
	}

	for ; t.shown < len(committed); t.shown++ {
		m := committed[t.shown]
		if t.streamed != "" {
			prefix := t.streamed
			t.streamed = ""
			if !m.IsError && strings.HasPrefix(m.Content, prefix) {
				fmt.Fprintln(t.w, m.Content[len(prefix):])
				continue
			}
			fmt.Fprintln(t.w)
		}
		if m.Role == model.RoleUser && m.Content == t.lastSent {
			t.lastSent = ""
			continue
		}
		fmt.Fprintf(t.w, "%s %s\n", RenderRole(m), m.Content)
	}

	if !streaming || live.Content == i18n.For(s.Lang).StreamingPlaceholder {
		return
	}
	if t.streamed == "" {
		fmt.Fprint(t.w, RenderRole(live)+" ")
	}
	fmt.Fprint(t.w, strings.TrimPrefix(live.Content, t.streamed))
	t.streamed = live.Content
}
