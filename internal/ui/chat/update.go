// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/chatlink/internal/model"
	"github.com/jeranaias/chatlink/internal/session"
)

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case SnapshotMsg:
		atBottom := m.viewport.AtBottom() || len(msg.Snapshot.Messages) != len(m.snap.Messages)
		m.snap = msg.Snapshot
		m.syncMode()
		m.refresh(atBottom)
		return m, waitForSnapshot(m.snaps)

	case snapshotsClosedMsg:
		return m, tea.Quit

	case ActionResultMsg:
		m.onActionResult(msg)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if _, streaming := m.snap.Streaming(); streaming {
			m.refresh(m.viewport.AtBottom())
		}
		return m, cmd

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			m.unsubscribe()
			return m, tea.Quit
		}
		switch m.mode {
		case modeLanguage:
			return m.updateLanguage(msg)
		case modeDetails:
			return m.updateDetails(msg)
		case modeHelp:
			if key.Matches(msg, m.keys.Cancel, m.keys.Help, m.keys.Submit) {
				m.mode = modeChat
			}
			return m, nil
		}
		return m.updateChat(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// =============================================================================
// CHAT MODE
// =============================================================================

func (m Model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Submit):
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		if m.snap.Operator {
			return m, runAction("mentor message", func() error { return m.conv.SendMentorMessage(text) })
		}
		return m, runAction("send", func() error { return m.conv.SendMessage(text) })

	case key.Matches(msg, m.keys.QuickAction):
		idx, ok := quickActionIndex(msg.String())
		actions := m.snap.QuickActions()
		if !ok || idx >= len(actions) {
			return m, nil
		}
		prompt := actions[idx].Prompt
		return m, runAction("quick action", func() error { return m.conv.SendQuickAction(prompt) })

	case key.Matches(msg, m.keys.Language):
		m.mode = modeLanguage
		m.autoPicker = false
		m.langCursor = langIndex(m.snap.Lang)
		return m, nil

	case key.Matches(msg, m.keys.Operator):
		if m.snap.Operator {
			m.setStatus(session.ErrOperatorActive)
			return m, nil
		}
		m.mode = modeDetails
		return m, m.form.open()

	case key.Matches(msg, m.keys.EndOperator):
		return m, runAction("end mentor", m.conv.EndOperator)

	case key.Matches(msg, m.keys.Reset):
		return m, runAction("reset", m.conv.ResetSession)

	case key.Matches(msg, m.keys.Help):
		m.mode = modeHelp
		return m, nil

	case key.Matches(msg, m.keys.Up, m.keys.Down, m.keys.PageUp, m.keys.PageDown):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// =============================================================================
// DIALOGS
// =============================================================================

func (m Model) updateLanguage(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	n := len(model.SupportedLangs)
	switch {
	case key.Matches(msg, m.keys.Up):
		m.langCursor = (m.langCursor + n - 1) % n
	case key.Matches(msg, m.keys.Down):
		m.langCursor = (m.langCursor + 1) % n
	case key.Matches(msg, m.keys.Submit):
		return m, m.selectLanguage(m.langCursor)
	case key.Matches(msg, m.keys.Cancel):
		if m.snap.State != session.StateIdle {
			m.mode = modeChat
		}
	default:
		if s := msg.String(); len(s) == 1 && s[0] >= '1' && int(s[0]-'1') < n {
			m.langCursor = int(s[0] - '1')
			return m, m.selectLanguage(m.langCursor)
		}
	}
	return m, nil
}

func (m Model) selectLanguage(i int) tea.Cmd {
	tag := string(model.SupportedLangs[i])
	return runAction("language", func() error { return m.conv.SelectLanguage(tag) })
}

func (m Model) updateDetails(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Cancel):
		m.mode = modeChat
		return m, nil
	case key.Matches(msg, m.keys.Submit):
		if next := m.form.focus + 1; next < fieldCount && m.form.value(next) == "" {
			return m, m.form.move(1)
		}
		d, ok := m.form.details()
		if !ok {
			return m, nil
		}
		m.mode = modeChat
		return m, runAction("mentor request", func() error { return m.conv.RequestOperator(d) })
	case key.Matches(msg, m.keys.NextField):
		return m, m.form.move(1)
	case key.Matches(msg, m.keys.PrevField):
		return m, m.form.move(-1)
	}
	return m, m.form.update(msg)
}

// =============================================================================
// RESULTS AND LAYOUT
// =============================================================================

func (m *Model) onActionResult(msg ActionResultMsg) {
	if msg.Err != nil {
		m.log.Debug("TUI_ACTION_FAILED", "action", msg.Action, "error", msg.Err)
		m.setStatus(msg.Err)
		return
	}
	m.status, m.statusError = "", false
	if msg.Action == "language" && m.mode == modeLanguage {
		m.mode = modeChat
		m.autoPicker = false
	}
}

func (m *Model) setStatus(err error) {
	m.status = errorText(err)
	m.statusError = true
}

// errorText turns the errors a user can act on into hints.
func errorText(err error) string {
	switch {
	case errors.Is(err, session.ErrNoLanguage):
		return "Choose a language first (C-l)."
	case errors.Is(err, session.ErrBusy):
		return "Still answering, please wait."
	case errors.Is(err, session.ErrOperatorActive):
		return "A mentor is handling this conversation. C-e returns to the assistant."
	case errors.Is(err, session.ErrNotOperator):
		return "No mentor conversation is open."
	case errors.Is(err, session.ErrClosed):
		return "The conversation has closed."
	}
	return err.Error()
}

// resize lays out the screen: header, conversation, quick actions, input
// and status bar.
func (m *Model) resize(width, height int) {
	widthChanged := width != m.width
	m.width, m.height = width, height
	m.input.Width = max(width-6, 10)

	if widthChanged {
		m.rendered = make(map[string]string)
		m.renderer = nil
		if m.markdown {
			r, err := glamour.NewTermRenderer(
				glamour.WithStandardStyle(m.theme.GlamourStyle()),
				glamour.WithWordWrap(m.contentWidth()),
			)
			if err != nil {
				m.log.Warn("MARKDOWN_DISABLED", "error", err)
			} else {
				m.renderer = r
			}
		}
	}
	m.refresh(true)
}

func (m *Model) layoutViewport() {
	reserved := headerHeight + inputHeight + statusHeight
	if len(m.snap.QuickActions()) > 0 {
		reserved += quickHeight
	}
	m.viewport.Width = max(m.width, 1)
	m.viewport.Height = max(m.height-reserved, 1)
}

// refresh re-renders the conversation into the viewport.
func (m *Model) refresh(gotoBottom bool) {
	m.layoutViewport()
	m.viewport.SetContent(m.renderMessages())
	if gotoBottom {
		m.viewport.GotoBottom()
	}
}
