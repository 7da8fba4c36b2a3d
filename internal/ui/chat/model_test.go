// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/chatlink/internal/handover"
	"github.com/jeranaias/chatlink/internal/i18n"
	"github.com/jeranaias/chatlink/internal/model"
	"github.com/jeranaias/chatlink/internal/session"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// fakeConversation records calls and returns err from every action.
type fakeConversation struct {
	mu      sync.Mutex
	snap    session.Snapshot
	ch      chan session.Snapshot
	calls   []string
	details []handover.Details
	err     error
}

func newFakeConversation(snap session.Snapshot) *fakeConversation {
	return &fakeConversation{snap: snap, ch: make(chan session.Snapshot, 1)}
}

func (f *fakeConversation) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeConversation) Snapshot() session.Snapshot { return f.snap }
func (f *fakeConversation) Subscribe() (<-chan session.Snapshot, func()) {
	return f.ch, func() {}
}
func (f *fakeConversation) SendMessage(text string) error { return f.record("send:" + text) }
func (f *fakeConversation) SendQuickAction(prompt string) error {
	return f.record("quick:" + prompt)
}
func (f *fakeConversation) SendMentorMessage(text string) error {
	return f.record("mentor:" + text)
}
func (f *fakeConversation) RequestOperator(d handover.Details) error {
	f.mu.Lock()
	f.details = append(f.details, d)
	f.mu.Unlock()
	return f.record("operator")
}
func (f *fakeConversation) EndOperator() error              { return f.record("end") }
func (f *fakeConversation) ResetSession() error             { return f.record("reset") }
func (f *fakeConversation) SelectLanguage(tag string) error { return f.record("lang:" + tag) }

func (f *fakeConversation) lastCall(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("no calls recorded")
	}
	return f.calls[len(f.calls)-1]
}

func idleSnapshot() session.Snapshot {
	return session.Snapshot{SessionID: "sess-1", State: session.StateIdle}
}

func activeSnapshot(lang model.Lang, msgs ...model.Message) session.Snapshot {
	if len(msgs) == 0 {
		msgs = []model.Message{model.NewAssistantMessage(i18n.For(lang).Welcome, nil)}
	}
	return session.Snapshot{
		SessionID:           "sess-1",
		Lang:                lang,
		Messages:            msgs,
		State:               session.StateAIActive,
		QuickActionsVisible: len(msgs) <= 2,
	}
}

func newTestModel(t *testing.T, conv *fakeConversation, details *handover.Details) Model {
	t.Helper()
	m := New(Options{Conversation: conv, Details: details, NoColor: true})
	return update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

// press sends msg and runs the resulting action, if any.
func press(t *testing.T, m Model, msg tea.KeyMsg) (Model, *ActionResultMsg) {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(Model)
	if m.mode == modeDetails || cmd == nil {
		return m, nil
	}
	if res, ok := cmd().(ActionResultMsg); ok {
		return update(t, m, res), &res
	}
	return m, nil
}

func typeText(t *testing.T, m Model, text string) Model {
	t.Helper()
	return update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
}

var (
	keyEnter = tea.KeyMsg{Type: tea.KeyEnter}
	keyTab   = tea.KeyMsg{Type: tea.KeyTab}
	keyEsc   = tea.KeyMsg{Type: tea.KeyEsc}
)

// =============================================================================
// LANGUAGE PICKER
// =============================================================================

func TestNew_OpensPickerWithoutLanguage(t *testing.T) {
	m := newTestModel(t, newFakeConversation(idleSnapshot()), nil)

	if m.mode != modeLanguage {
		t.Fatalf("mode = %v, want language picker", m.mode)
	}
	view := m.View()
	for _, want := range []string{"Choose a language", "Română", "English", "Magyar"} {
		if !strings.Contains(view, want) {
			t.Errorf("picker view missing %q", want)
		}
	}

	// Esc cannot dismiss the picker before a language is chosen.
	m = update(t, m, keyEsc)
	if m.mode != modeLanguage {
		t.Error("Esc closed the picker without a language")
	}
}

func TestLanguagePicker_Select(t *testing.T) {
	tests := []struct {
		name string
		keys []tea.KeyMsg
		want string
	}{
		{"digit", []tea.KeyMsg{{Type: tea.KeyRunes, Runes: []rune("3")}}, "lang:hu"},
		{"arrows and enter", []tea.KeyMsg{{Type: tea.KeyDown}, keyEnter}, "lang:en"},
		{"wraps upwards", []tea.KeyMsg{{Type: tea.KeyUp}, keyEnter}, "lang:hu"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := newFakeConversation(idleSnapshot())
			m := newTestModel(t, conv, nil)
			for _, k := range tt.keys {
				m, _ = press(t, m, k)
			}
			if got := conv.lastCall(t); got != tt.want {
				t.Errorf("call = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLanguagePicker_ClosesOnSnapshot(t *testing.T) {
	m := newTestModel(t, newFakeConversation(idleSnapshot()), nil)
	m = update(t, m, SnapshotMsg{Snapshot: activeSnapshot(model.LangEN)})

	if m.mode != modeChat {
		t.Fatalf("mode = %v, want chat", m.mode)
	}
	if !strings.Contains(m.View(), i18n.For(model.LangEN).Welcome[:20]) {
		t.Error("welcome message not rendered")
	}
}

func TestLanguagePicker_ExplicitStaysOpen(t *testing.T) {
	conv := newFakeConversation(activeSnapshot(model.LangRO))
	m := newTestModel(t, conv, nil)

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlL})
	if m.mode != modeLanguage || m.langCursor != 0 {
		t.Fatalf("mode = %v cursor = %d, want picker on ro", m.mode, m.langCursor)
	}

	// A streaming update must not close a picker the user opened.
	m = update(t, m, SnapshotMsg{Snapshot: activeSnapshot(model.LangRO)})
	if m.mode != modeLanguage {
		t.Fatal("snapshot closed the picker")
	}

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("2")})
	if m.mode != modeChat {
		t.Errorf("mode = %v after selecting, want chat", m.mode)
	}
	if got := conv.lastCall(t); got != "lang:en" {
		t.Errorf("call = %q", got)
	}
}

// =============================================================================
// SENDING
// =============================================================================

func TestSubmit_SendsAndClearsInput(t *testing.T) {
	conv := newFakeConversation(activeSnapshot(model.LangEN))
	m := newTestModel(t, conv, nil)

	m = typeText(t, m, "  hello there ")
	m, res := press(t, m, keyEnter)

	if res == nil || res.Err != nil {
		t.Fatalf("result = %+v", res)
	}
	if got := conv.lastCall(t); got != "send:hello there" {
		t.Errorf("call = %q", got)
	}
	if m.input.Value() != "" {
		t.Errorf("input = %q, want empty", m.input.Value())
	}

	// Blank input sends nothing.
	_, res = press(t, m, keyEnter)
	if res != nil {
		t.Errorf("blank submit produced %+v", res)
	}
}

func TestSubmit_OperatorModeGoesToMentor(t *testing.T) {
	snap := activeSnapshot(model.LangEN)
	snap.Operator, snap.OperatorConnected = true, true
	snap.State = session.StateOperatorConnected
	conv := newFakeConversation(snap)
	m := newTestModel(t, conv, nil)

	m = typeText(t, m, "hi mentor")
	press(t, m, keyEnter)
	if got := conv.lastCall(t); got != "mentor:hi mentor" {
		t.Errorf("call = %q", got)
	}
	if !strings.Contains(m.View(), "[M] mentor") {
		t.Error("mentor badge not shown")
	}
}

func TestQuickAction_AltDigit(t *testing.T) {
	conv := newFakeConversation(activeSnapshot(model.LangEN))
	m := newTestModel(t, conv, nil)

	if !strings.Contains(m.View(), "Daily meditation") {
		t.Fatal("quick actions not rendered")
	}
	press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("3"), Alt: true})
	if got := conv.lastCall(t); got != "quick:"+i18n.PromptDailyMeditation {
		t.Errorf("call = %q", got)
	}
}

func TestQuickAction_HiddenDoesNothing(t *testing.T) {
	snap := activeSnapshot(model.LangEN)
	snap.QuickActionsVisible = false
	conv := newFakeConversation(snap)
	m := newTestModel(t, conv, nil)

	_, res := press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("1"), Alt: true})
	if res != nil || len(conv.calls) != 0 {
		t.Errorf("hidden quick action ran: %v", conv.calls)
	}
}

func TestActionError_ShownInStatusBar(t *testing.T) {
	conv := newFakeConversation(activeSnapshot(model.LangEN))
	conv.err = session.ErrBusy
	m := newTestModel(t, conv, nil)

	m = typeText(t, m, "again")
	m, _ = press(t, m, keyEnter)
	if !strings.Contains(m.View(), "Still answering") {
		t.Error("busy hint missing from status bar")
	}

	// The next successful action clears it.
	conv.err = nil
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlN})
	if m.status != "" {
		t.Errorf("status = %q after success", m.status)
	}
	if got := conv.lastCall(t); got != "reset" {
		t.Errorf("call = %q", got)
	}
}

// =============================================================================
// MENTOR FORM
// =============================================================================

func TestDetailsForm_Submit(t *testing.T) {
	conv := newFakeConversation(activeSnapshot(model.LangEN))
	m := newTestModel(t, conv, nil)

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlO})
	if m.mode != modeDetails {
		t.Fatalf("mode = %v, want details", m.mode)
	}
	m = typeText(t, m, "Ana")
	m, _ = press(t, m, keyTab)
	m = typeText(t, m, "ana@example.com")
	m, _ = press(t, m, keyEnter)
	if m.mode != modeDetails || m.form.focus != fieldCounty {
		t.Fatalf("Enter with an empty county: mode = %v focus = %d", m.mode, m.form.focus)
	}
	m = typeText(t, m, "cluj")

	m, res := press(t, m, keyEnter)
	if m.mode != modeChat || res == nil {
		t.Fatalf("mode = %v result = %v, want the request sent", m.mode, res)
	}
	if len(conv.details) == 0 {
		t.Fatal("RequestOperator not called")
	}
	d := conv.details[0]
	if d.Username != "Ana" || d.Contact != "ana@example.com" || d.Department != "CJ" {
		t.Errorf("details = %+v", d)
	}
}

func TestDetailsForm_Prefilled(t *testing.T) {
	conv := newFakeConversation(activeSnapshot(model.LangEN))
	m := newTestModel(t, conv, &handover.Details{Username: "Ana", Contact: "+40 700", Department: "BV"})

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlO})
	if got := m.form.value(fieldCounty); got != "Brașov" {
		t.Errorf("county = %q, want the saved county's name", got)
	}
	m, _ = press(t, m, keyEnter)
	if m.mode != modeChat {
		t.Fatalf("mode = %v, want chat after submit", m.mode)
	}
	if got := conv.lastCall(t); got != "operator" {
		t.Errorf("call = %q", got)
	}
	if d := conv.details[0]; d.Department != "BV" {
		t.Errorf("department = %q", d.Department)
	}
}

func TestDetailsForm_RequiresCounty(t *testing.T) {
	conv := newFakeConversation(activeSnapshot(model.LangEN))
	m := newTestModel(t, conv, &handover.Details{Username: "Ana", Contact: "+40 700"})

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlO})
	if m.form.focus != fieldCounty {
		t.Fatalf("focus = %d, want the empty county field", m.form.focus)
	}
	m, _ = press(t, m, keyEnter)
	if m.mode != modeDetails {
		t.Fatal("form closed without a county")
	}
	if !strings.Contains(m.View(), "Please choose your county.") {
		t.Error("county validation message missing")
	}

	m = typeText(t, m, "Atlantis")
	m, _ = press(t, m, keyEnter)
	if m.mode != modeDetails || !strings.Contains(m.View(), "Unknown county") {
		t.Errorf("mode = %v, want the form kept open for an unknown county", m.mode)
	}
	if len(conv.calls) != 0 {
		t.Errorf("calls = %v, want none", conv.calls)
	}
}

func TestDetailsForm_RequiresName(t *testing.T) {
	conv := newFakeConversation(activeSnapshot(model.LangEN))
	m := newTestModel(t, conv, &handover.Details{Contact: "+40 700", Department: "CJ"})

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlO})
	m, _ = press(t, m, keyEnter)
	if m.mode != modeDetails {
		t.Fatal("form closed with an empty name")
	}
	if !strings.Contains(m.View(), "Please enter your name.") {
		t.Error("validation message missing")
	}

	m, _ = press(t, m, keyEsc)
	if m.mode != modeChat || len(conv.calls) != 0 {
		t.Errorf("Esc: mode = %v calls = %v", m.mode, conv.calls)
	}
}

func TestOperatorKey_RejectedWhileMentorActive(t *testing.T) {
	snap := activeSnapshot(model.LangEN)
	snap.Operator = true
	snap.State = session.StateOperatorConnected
	m := newTestModel(t, newFakeConversation(snap), nil)

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlO})
	if m.mode != modeChat || !m.statusError {
		t.Errorf("mode = %v statusError = %v", m.mode, m.statusError)
	}
	if !strings.Contains(m.View(), "connecting to a mentor") {
		t.Error("connecting badge missing")
	}
}

// =============================================================================
// RENDERING
// =============================================================================

func TestView_Messages(t *testing.T) {
	en := i18n.For(model.LangEN)
	snap := activeSnapshot(model.LangEN,
		model.NewAssistantMessage(en.Welcome, nil),
		model.NewUserMessage("what is hope?"),
		model.NewErrorMessage(en.Error),
	)
	m := newTestModel(t, newFakeConversation(snap), nil)
	view := m.View()

	for _, want := range []string{"what is hope?", "[X]", "chatlink", "English", "sess-1"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestView_Streaming(t *testing.T) {
	en := i18n.For(model.LangEN)
	snap := activeSnapshot(model.LangEN,
		model.NewAssistantMessage(en.Welcome, nil),
		model.NewUserMessage("hi"),
		model.Message{ID: model.StreamingID, Role: model.RoleAssistant, Content: en.StreamingPlaceholder},
	)
	snap.State, snap.Busy = session.StateStreaming, true
	snap.QuickActionsVisible = false
	conv := newFakeConversation(snap)
	m := newTestModel(t, conv, nil)

	if !strings.Contains(m.View(), "answering") {
		t.Error("busy badge missing")
	}
	if !strings.Contains(m.viewport.View(), en.StreamingPlaceholder[:10]) {
		t.Error("placeholder missing")
	}

	snap.Messages[2].Content = "Partial answer"
	m = update(t, m, SnapshotMsg{Snapshot: snap})
	if !strings.Contains(m.viewport.View(), "Partial answer_") {
		t.Error("partial answer with cursor missing")
	}
}

func TestView_Markdown(t *testing.T) {
	snap := activeSnapshot(model.LangEN, model.NewAssistantMessage("# Psalm 23\n\nThe Lord is my shepherd.", nil))
	m := New(Options{Conversation: newFakeConversation(snap), NoColor: true, Markdown: true})
	m = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 30})

	if m.renderer == nil {
		t.Fatal("markdown renderer not created")
	}
	view := m.viewport.View()
	if !strings.Contains(view, "Psalm 23") || !strings.Contains(view, "shepherd") {
		t.Errorf("markdown output missing text:\n%s", view)
	}
	if len(m.rendered) != 1 {
		t.Errorf("rendered cache size = %d, want 1", len(m.rendered))
	}
}

func TestSnapshotsClosed_Quits(t *testing.T) {
	m := newTestModel(t, newFakeConversation(activeSnapshot(model.LangEN)), nil)
	_, cmd := m.Update(snapshotsClosedMsg{})
	if cmd == nil {
		t.Fatal("no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("closed subscription does not quit")
	}
}

func TestErrorText(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{session.ErrNoLanguage, "Choose a language"},
		{session.ErrOperatorActive, "mentor is handling"},
		{session.ErrNotOperator, "No mentor conversation"},
		{&session.ConnectionError{Message: i18n.For(model.LangEN).NoConnection}, "No internet connection"},
		{errors.New("boom"), "boom"},
	}
	for _, tt := range tests {
		if got := errorText(tt.err); !strings.Contains(got, tt.want) {
			t.Errorf("errorText(%v) = %q, want it to contain %q", tt.err, got, tt.want)
		}
	}
}

// =============================================================================
// TEXT UTILITIES
// =============================================================================

func TestWrapText(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		want  string
	}{
		{"fits", "short line", 20, "short line"},
		{"breaks at space", "the quick brown fox", 10, "the quick\nbrown fox"},
		{"keeps newlines", "a\nb", 10, "a\nb"},
		{"hard break", "abcdefghij", 4, "abcd\nefgh\nij"},
		{"wide runes", "日本語です", 4, "日本\n語で\nす"},
		{"no width", "unchanged", 0, "unchanged"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := wrapText(tt.text, tt.width); got != tt.want {
				t.Errorf("wrapText(%q, %d) = %q, want %q", tt.text, tt.width, got, tt.want)
			}
		})
	}
}

func TestQuickActionIndex(t *testing.T) {
	if i, ok := quickActionIndex("alt+2"); !ok || i != 1 {
		t.Errorf("alt+2 = %d, %v", i, ok)
	}
	for _, k := range []string{"2", "alt+0", "ctrl+2", "alt+10"} {
		if _, ok := quickActionIndex(k); ok {
			t.Errorf("%q accepted", k)
		}
	}
}
