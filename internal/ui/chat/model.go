// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"io"
	"log/slog"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/chatlink/internal/handover"
	"github.com/jeranaias/chatlink/internal/session"
	"github.com/jeranaias/chatlink/internal/ui/styles"
)

// Conversation is the part of session.Orchestrator the screen drives.
type Conversation interface {
	Snapshot() session.Snapshot
	Subscribe() (<-chan session.Snapshot, func())
	SendMessage(text string) error
	SendQuickAction(prompt string) error
	SendMentorMessage(text string) error
	RequestOperator(details handover.Details) error
	EndOperator() error
	ResetSession() error
	SelectLanguage(tag string) error
}

// Options configure the chat screen.
type Options struct {
	Conversation Conversation

	// Details prefill the mentor request form.
	Details *handover.Details

	// NoColor forces the ASCII color profile.
	NoColor bool

	// Markdown renders finished assistant messages with glamour.
	Markdown bool

	Logger *slog.Logger
}

// =============================================================================
// CHAT MODEL
// =============================================================================

// mode is the dialog currently on screen.
type mode int

const (
	modeChat     mode = iota
	modeLanguage      // language picker
	modeDetails       // mentor request form
	modeHelp
)

// Model is the Bubble Tea model of the chat screen.
type Model struct {
	conv        Conversation
	snaps       <-chan session.Snapshot
	unsubscribe func()
	log         *slog.Logger

	theme *styles.Theme
	keys  KeyMap

	// Dimensions
	width  int
	height int

	snap session.Snapshot
	mode mode

	// UI Components
	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	form     detailsForm

	langCursor int
	autoPicker bool // picker opened because no language is set

	// Markdown rendering of committed assistant messages, keyed by ID.
	markdown bool
	renderer *glamour.TermRenderer
	rendered map[string]string

	// Status line; cleared by the next successful action.
	status      string
	statusError bool
}

// New creates the chat screen and subscribes to the conversation.
func New(opts Options) Model {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	input := textinput.New()
	input.Prompt = "> "
	input.CharLimit = 2000
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	snaps, unsubscribe := opts.Conversation.Subscribe()
	m := Model{
		conv:        opts.Conversation,
		snaps:       snaps,
		unsubscribe: unsubscribe,
		log:         log.With("component", "tui"),
		theme:       styles.NewTheme(opts.NoColor),
		keys:        DefaultKeyMap(),
		snap:        opts.Conversation.Snapshot(),
		viewport:    viewport.New(80, 20),
		input:       input,
		spinner:     sp,
		form:        newDetailsForm(opts.Details),
		markdown:    opts.Markdown,
		rendered:    make(map[string]string),
	}
	m.input.PromptStyle = m.theme.InputPrompt
	m.syncMode()
	return m
}

// Init starts the snapshot subscription, the spinner and the cursor blink.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForSnapshot(m.snaps), m.spinner.Tick, textinput.Blink)
}

// Run shows the chat screen until the user quits or ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	m := New(opts)
	defer m.unsubscribe()

	p := tea.NewProgram(m,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// syncMode opens the language picker while no language is chosen and
// closes it once one is.
func (m *Model) syncMode() {
	idle := m.snap.State == session.StateIdle
	switch {
	case idle && m.mode == modeChat:
		m.mode = modeLanguage
		m.autoPicker = true
	case !idle && m.mode == modeLanguage && m.autoPicker:
		m.mode = modeChat
		m.autoPicker = false
	}
}
