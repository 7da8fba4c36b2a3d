// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatlink/internal/config"
	"github.com/jeranaias/chatlink/internal/i18n"
	"github.com/jeranaias/chatlink/internal/logging"
	"github.com/jeranaias/chatlink/internal/model"
	"github.com/jeranaias/chatlink/internal/session"
	"github.com/jeranaias/chatlink/internal/storage"
	"github.com/jeranaias/chatlink/internal/stream"
)

func init() {
	ForceColorsEnabled(false)
}

// streamServer answers every prompt with payloads and records the query.
type streamServer struct {
	*httptest.Server

	mu      sync.Mutex
	queries []map[string]string
}

func newStreamServer(t *testing.T, payloads ...string) *streamServer {
	t.Helper()
	s := &streamServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		s.mu.Lock()
		s.queries = append(s.queries, map[string]string{
			"prompt":    q.Get("prompt"),
			"sessionId": q.Get("sessionId"),
			"lang":      q.Get("lang"),
		})
		s.mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, p := range payloads {
			fmt.Fprintf(w, "data: %s\n\n", p)
			flusher.Flush()
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *streamServer) lastQuery(t *testing.T) map[string]string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.queries, "no stream requested")
	return s.queries[len(s.queries)-1]
}

// newTestApp wires an App over memory storage, the HTTP relay and an
// operator endpoint nothing listens on.
func newTestApp(t *testing.T, streamURL string) *App {
	t.Helper()
	cfg := config.Default()
	cfg.Stream.URL = streamURL
	cfg.Stream.Origin = ""
	cfg.Stream.Relay = "http"
	cfg.Stream.IdleTimeout = config.Duration{Duration: 5 * time.Second}
	cfg.Operator.URL = "ws://127.0.0.1:1/ws"
	cfg.Operator.DialTimeout = config.Duration{Duration: 500 * time.Millisecond}
	cfg.Store.Backend = "memory"

	lg, err := logging.NewWriter(io.Discard, "text", "error")
	require.NoError(t, err)
	archive, err := storage.NewArchive(t.TempDir())
	require.NoError(t, err)

	app := &App{
		Config:  cfg,
		Log:     lg,
		Store:   storage.NewSessionStore(storage.NewMemoryKV()),
		Archive: archive,
	}
	t.Cleanup(func() { app.Close() })
	return app
}

func testArgs(out *bytes.Buffer) Args {
	return Args{Stdout: out, Stderr: io.Discard}
}

func storedSession(t *testing.T, app *App, lang model.Lang, texts ...string) *model.Session {
	t.Helper()
	sess := model.NewSession()
	sess.SetLang(lang)
	sess.Append(model.NewAssistantMessage(i18n.For(lang).Welcome, nil))
	for _, text := range texts {
		sess.Append(model.NewUserMessage(text))
	}
	require.NoError(t, app.Store.Save(context.Background(), sess))
	return sess
}

// =============================================================================
// ASK
// =============================================================================

func TestHandleAsk_StreamsToStdout(t *testing.T) {
	srv := newStreamServer(t, `{"tokenText":"Hello "}`, `{"tokenText":"world","conversationHistoryId":3}`)
	app := newTestApp(t, srv.URL+"/stream")

	var out bytes.Buffer
	args := testArgs(&out)
	args.Query = "hi there"

	require.NoError(t, HandleAsk(context.Background(), app, args))
	assert.Equal(t, "Hello world\n", out.String())

	q := srv.lastQuery(t)
	assert.Equal(t, "hi there", q["prompt"])
	assert.Equal(t, "en", q["lang"])
	assert.NotEmpty(t, q["sessionId"])

	sess, err := app.Store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess, "ask must not create a session")
}

func TestHandleAsk_JSONUsesStoredSession(t *testing.T) {
	srv := newStreamServer(t, `{"tokenText":"Salut","conversationHistoryId":9}`)
	app := newTestApp(t, srv.URL)
	stored := storedSession(t, app, model.LangHU)

	var out bytes.Buffer
	args := testArgs(&out)
	args.Query = "buna"
	args.Lang = "ro"
	args.JSON = true

	require.NoError(t, HandleAsk(context.Background(), app, args))

	var resp struct {
		Success bool    `json:"success"`
		Data    AskData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "Salut", resp.Data.Content)
	assert.Equal(t, stored.ID, resp.Data.SessionID)
	assert.Equal(t, model.LangRO, resp.Data.Lang, "--lang beats the stored language")
	require.NotNil(t, resp.Data.HistoryID)
	assert.Equal(t, int64(9), *resp.Data.HistoryID)
}

func TestHandleAsk_StoredLanguage(t *testing.T) {
	srv := newStreamServer(t, `{"tokenText":"Szia"}`)
	app := newTestApp(t, srv.URL)
	storedSession(t, app, model.LangHU)

	var out bytes.Buffer
	args := testArgs(&out)
	args.Query = "hello"
	args.SessionID = "explicit-id"

	require.NoError(t, HandleAsk(context.Background(), app, args))
	q := srv.lastQuery(t)
	assert.Equal(t, "hu", q["lang"])
	assert.Equal(t, "explicit-id", q["sessionId"])
}

func TestHandleAsk_Errors(t *testing.T) {
	srv := newStreamServer(t, `{"conversationHistoryId":1}`)
	app := newTestApp(t, srv.URL)

	var out bytes.Buffer
	args := testArgs(&out)

	err := HandleAsk(context.Background(), app, args)
	assert.Equal(t, ExitUsageError, ExitCode(err), "missing prompt")

	args.Query = "hello"
	args.Lang = "xx"
	err = HandleAsk(context.Background(), app, args)
	assert.Equal(t, ExitUsageError, ExitCode(err), "bad language")

	args.Lang = ""
	err = HandleAsk(context.Background(), app, args)
	require.Error(t, err)
	assert.ErrorIs(t, err, stream.ErrNoData)
	assert.Equal(t, ExitGeneralError, ExitCode(err))
}

type scriptedRelay struct{ events []stream.Event }

func (r *scriptedRelay) Next(ctx context.Context) (stream.Event, bool) {
	if len(r.events) == 0 {
		return stream.Event{}, false
	}
	ev := r.events[0]
	r.events = r.events[1:]
	return ev, true
}

func (r *scriptedRelay) Cancel() {}

func TestCollectAnswer(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		events  []stream.Event
		want    string
		wantErr error
	}{
		{
			name: "done",
			events: []stream.Event{
				{Kind: stream.EventToken, Token: "a"},
				{Kind: stream.EventToken, Token: "b"},
				{Kind: stream.EventDone},
			},
			want: "ab",
		},
		{
			name:    "error keeps partial text",
			events:  []stream.Event{{Kind: stream.EventToken, Token: "a"}, {Kind: stream.EventError, Err: boom}},
			want:    "a",
			wantErr: boom,
		},
		{
			name:    "ended without terminal event",
			events:  []stream.Event{{Kind: stream.EventToken, Token: "a"}},
			want:    "a",
			wantErr: errStreamEnded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var live bytes.Buffer
			got, _, err := collectAnswer(context.Background(), &scriptedRelay{events: tt.events}, &live)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, live.String())
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

// =============================================================================
// SESSION
// =============================================================================

func TestHandleSession_Lifecycle(t *testing.T) {
	app := newTestApp(t, "http://127.0.0.1:1/stream")
	ctx := context.Background()
	run := func(raw ...string) (string, error) {
		var out bytes.Buffer
		args := testArgs(&out)
		args.Raw = raw
		err := HandleSession(ctx, app, args)
		return out.String(), err
	}

	out, err := run("show")
	require.NoError(t, err)
	assert.Contains(t, out, "No active session")

	sess := storedSession(t, app, model.LangEN, "How do I forgive?")

	out, err = run()
	require.NoError(t, err)
	assert.Contains(t, out, sess.ID)
	assert.Contains(t, out, "How do I forgive?")

	out, err = run("history")
	require.NoError(t, err)
	assert.Contains(t, out, "No archived sessions")

	_, err = run("clear", "--confirm")
	require.NoError(t, err)
	stored, err := app.Store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, stored)

	out, err = run("history", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, sess.ID)
	assert.Contains(t, out, "How do I forgive?")

	out, err = run("search", "FORGIVE")
	require.NoError(t, err)
	assert.Contains(t, out, sess.ID)

	out, err = run("search", "nothing", "here")
	require.NoError(t, err)
	assert.Contains(t, out, `"nothing here"`)

	out, err = run("view", sess.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "How do I forgive?")

	_, err = run("view", "missing")
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestHandleSession_ClearSkipsWelcomeOnlySessions(t *testing.T) {
	app := newTestApp(t, "http://127.0.0.1:1/stream")
	storedSession(t, app, model.LangEN)

	var out bytes.Buffer
	args := testArgs(&out)
	args.JSON = true
	args.Raw = []string{"clear", "--confirm"}
	require.NoError(t, HandleSession(context.Background(), app, args))

	var resp struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, true, resp.Data["cleared"])
	assert.Equal(t, false, resp.Data["archived"])

	metas, err := app.Archive.List()
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestHandleSession_Export(t *testing.T) {
	app := newTestApp(t, "http://127.0.0.1:1/stream")
	dir := t.TempDir()
	sess := storedSession(t, app, model.LangEN, "How do I forgive?")

	var out bytes.Buffer
	args := testArgs(&out)
	args.Raw = []string{"export", "current", "--out", dir}
	require.NoError(t, HandleSession(context.Background(), app, args))
	assert.Contains(t, out.String(), "Exported to ")

	files, err := filepath.Glob(filepath.Join(dir, "chatlink_*.md"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "session: "+sess.ID)
	assert.Contains(t, string(data), "How do I forgive?")

	require.NoError(t, app.Archive.Put(sess))
	out.Reset()
	args.JSON = true
	args.Raw = []string{"export", sess.ID, "--format", "json", "--out", dir}
	require.NoError(t, HandleSession(context.Background(), app, args))

	var resp struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, sess.ID, resp.Data["id"])
	path, _ := resp.Data["path"].(string)
	assert.Equal(t, ".json", filepath.Ext(path))
	assert.FileExists(t, path)
}

func TestHandleSession_ExportWithoutSession(t *testing.T) {
	app := newTestApp(t, "http://127.0.0.1:1/stream")
	var out bytes.Buffer
	args := testArgs(&out)
	args.Raw = []string{"export", "current", "--out", t.TempDir()}
	err := HandleSession(context.Background(), app, args)
	assert.Equal(t, ExitUsageError, ExitCode(err))
}

func TestHandleSession_Usage(t *testing.T) {
	app := newTestApp(t, "http://127.0.0.1:1/stream")
	storedSession(t, app, model.LangEN, "x")

	for _, raw := range [][]string{{"view"}, {"search"}, {"histroy"}, {"clear", "--json"}, {"export"}, {"export", "current", "--format", "html"}} {
		var out bytes.Buffer
		args := testArgs(&out)
		args.Raw = raw
		args.JSON = raw[0] == "clear"
		err := HandleSession(context.Background(), app, args)
		assert.Equal(t, ExitUsageError, ExitCode(err), "%v", raw)
	}
}

// =============================================================================
// CONFIG
// =============================================================================

func TestHandleConfig(t *testing.T) {
	app := newTestApp(t, "http://127.0.0.1:1/stream")
	run := func(jsonMode bool, raw ...string) (string, error) {
		var out bytes.Buffer
		args := testArgs(&out)
		args.JSON = jsonMode
		args.Raw = raw
		err := HandleConfig(app, args)
		return out.String(), err
	}

	out, err := run(false, "get", "stream.relay")
	require.NoError(t, err)
	assert.Equal(t, "http\n", out)

	out, err = run(true, "get", "operator.dial_timeout")
	require.NoError(t, err)
	var resp struct {
		Data struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "500ms", resp.Data.Value)

	_, err = run(false, "get", "stream.nope")
	assert.Equal(t, ExitUsageError, ExitCode(err))

	out, err = run(false, "keys")
	require.NoError(t, err)
	assert.Contains(t, out, "stream.url\n")

	out, err = run(false, "show")
	require.NoError(t, err)
	assert.Contains(t, out, "# source: defaults")
	assert.Contains(t, out, `relay = "http"`)

	_, err = run(false, "frob")
	assert.Equal(t, ExitUsageError, ExitCode(err))
}

func TestHandleConfig_Init(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	run := func(raw ...string) error {
		var out bytes.Buffer
		args := testArgs(&out)
		args.Raw = raw
		return HandleConfig(nil, args)
	}

	require.NoError(t, run("init", "--path", path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	err = run("init", "--path", path)
	assert.Equal(t, ExitUsageError, ExitCode(err), "existing file is kept")
	require.NoError(t, run("init", "--path", path, "--force"))

	cfg, err := config.LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultStreamURL, cfg.Stream.URL)
}

// =============================================================================
// CHAT
// =============================================================================

func newTestREPL(t *testing.T, app *App) (*chatREPL, *bytes.Buffer) {
	t.Helper()
	orch, stop, err := app.StartSession(context.Background())
	require.NoError(t, err)
	t.Cleanup(stop)

	var out bytes.Buffer
	repl := newChatREPL(context.Background(), app, orch, &out)
	t.Cleanup(repl.close)
	return repl, &out
}

func TestChatREPL_Conversation(t *testing.T) {
	srv := newStreamServer(t, `{"tokenText":"Grace "}`, `{"tokenText":"and peace","conversationHistoryId":4}`)
	app := newTestApp(t, srv.URL)
	repl, out := newTestREPL(t, app)
	en := i18n.For(model.LangEN)

	_, err := repl.exec("hello")
	assert.ErrorIs(t, err, session.ErrNoLanguage)
	assert.Equal(t, "choose a language first: /lang ro|en|hu", chatErrorText(err))

	quit, err := repl.exec("/lang en")
	require.NoError(t, err)
	assert.False(t, quit)
	assert.Contains(t, out.String(), en.Welcome)

	out.Reset()
	_, err = repl.exec("/quick")
	require.NoError(t, err)
	for _, qa := range en.QuickActions {
		assert.Contains(t, out.String(), qa.Label)
	}

	out.Reset()
	_, err = repl.exec("what is grace?")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Grace and peace")
	assert.NotContains(t, out.String(), "what is grace?", "the user's own line is not echoed")
	assert.Equal(t, "what is grace?", srv.lastQuery(t)["prompt"])

	out.Reset()
	_, err = repl.exec("/quick 2")
	require.NoError(t, err)
	assert.Contains(t, out.String(), en.QuickActions[1].Label)
	assert.Equal(t, i18n.PromptTellMeSomething, srv.lastQuery(t)["prompt"])

	_, err = repl.exec("/quick 9")
	assert.Equal(t, ExitUsageError, ExitCode(err))
	_, err = repl.exec("/bogus")
	assert.Equal(t, ExitUsageError, ExitCode(err))

	quit, err = repl.exec("/quit")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestChatREPL_OperatorUnreachable(t *testing.T) {
	app := newTestApp(t, "http://127.0.0.1:1/stream")
	repl, out := newTestREPL(t, app)

	_, err := repl.exec("/lang en")
	require.NoError(t, err)

	_, err = repl.exec("/operator")
	assert.Equal(t, ExitUsageError, ExitCode(err), "details are required the first time")

	_, err = repl.exec("/operator Ana +40 700 000 000")
	assert.Equal(t, ExitUsageError, ExitCode(err), "a county is required")
	_, err = repl.exec("/operator --county Atlantis Ana +40 700 000 000")
	assert.Equal(t, ExitUsageError, ExitCode(err), "the county must be known")

	_, err = repl.exec("/operator --county cluj Ana +40 700 000 000")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "No mentor is reachable")

	d, err := app.Store.LoadDetails(context.Background())
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "Ana", d.Username)
	assert.Equal(t, "+40 700 000 000", d.Contact)
	assert.Equal(t, "CJ", d.Department, "the county is saved as its code")

	_, err = repl.exec("/end")
	assert.ErrorIs(t, err, session.ErrNotOperator)
}

func TestChatREPL_Reset(t *testing.T) {
	app := newTestApp(t, "http://127.0.0.1:1/stream")
	repl, out := newTestREPL(t, app)

	_, err := repl.exec("/lang ro")
	require.NoError(t, err)
	first := repl.orch.Snapshot().SessionID

	out.Reset()
	_, err = repl.exec("/reset")
	require.NoError(t, err)
	snap := repl.orch.Snapshot()
	assert.NotEqual(t, first, snap.SessionID)
	assert.Equal(t, session.StateIdle, snap.State, "a fresh session waits for a language")
	assert.NotContains(t, out.String(), i18n.For(model.LangRO).Welcome)
}

func TestChatREPL_ResetKeepsLanguage(t *testing.T) {
	app := newTestApp(t, "http://127.0.0.1:1/stream")
	app.Config.Session.RequireLanguage = false
	repl, out := newTestREPL(t, app)

	_, err := repl.exec("/lang ro")
	require.NoError(t, err)
	first := repl.orch.Snapshot().SessionID

	out.Reset()
	_, err = repl.exec("/reset")
	require.NoError(t, err)
	snap := repl.orch.Snapshot()
	assert.NotEqual(t, first, snap.SessionID)
	assert.Equal(t, model.LangRO, snap.Lang)
	assert.Contains(t, out.String(), i18n.For(model.LangRO).Welcome)
}

func TestTranscript_Render(t *testing.T) {
	var out bytes.Buffer
	tr := transcript{w: &out}
	en := i18n.For(model.LangEN)

	welcome := model.NewAssistantMessage(en.Welcome, nil)
	user := model.NewUserMessage("hi")
	snap := session.Snapshot{SessionID: "s1", Lang: model.LangEN, Messages: []model.Message{welcome}}
	tr.render(snap)
	assert.Contains(t, out.String(), en.Welcome)

	// The placeholder is not printed.
	out.Reset()
	tr.lastSent = "hi"
	placeholder := model.Message{ID: model.StreamingID, Role: model.RoleAssistant, Content: en.StreamingPlaceholder}
	snap.Messages = []model.Message{welcome, user, placeholder}
	tr.render(snap)
	assert.Empty(t, out.String())

	// Partial text is printed as it grows.
	placeholder.Content = "Hel"
	snap.Messages = []model.Message{welcome, user, placeholder}
	tr.render(snap)
	placeholder.Content = "Hello"
	snap.Messages = []model.Message{welcome, user, placeholder}
	tr.render(snap)
	assert.True(t, strings.HasSuffix(out.String(), "Hello"), out.String())

	// The committed answer only adds the missing suffix.
	snap.Messages = []model.Message{welcome, user, model.NewAssistantMessage("Hello there", nil)}
	tr.render(snap)
	assert.True(t, strings.HasSuffix(out.String(), "Hello there\n"), out.String())
	assert.Equal(t, 1, strings.Count(out.String(), "Hello"))

	// A new session starts over below a separator.
	out.Reset()
	tr.render(session.Snapshot{SessionID: "s2", Lang: model.LangEN, Messages: []model.Message{welcome}})
	assert.Contains(t, out.String(), "----")
	assert.Contains(t, out.String(), en.Welcome)
}

func TestTranscript_ErrorAfterPartialText(t *testing.T) {
	var out bytes.Buffer
	tr := transcript{w: &out}
	en := i18n.For(model.LangEN)

	live := model.Message{ID: model.StreamingID, Role: model.RoleAssistant, Content: "partial"}
	tr.render(session.Snapshot{SessionID: "s", Lang: model.LangEN, Messages: []model.Message{live}})
	tr.render(session.Snapshot{SessionID: "s", Lang: model.LangEN, Messages: []model.Message{model.NewErrorMessage(en.Error)}})

	assert.Contains(t, out.String(), "partial\n")
	assert.Contains(t, out.String(), en.Error)
}
