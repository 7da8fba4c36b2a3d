// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/chatlink/internal/i18n"
	"github.com/jeranaias/chatlink/internal/model"
	"github.com/jeranaias/chatlink/internal/session"
	"github.com/jeranaias/chatlink/internal/ui/styles"
	"github.com/jeranaias/chatlink/internal/util"
)

// Fixed row counts of the screen regions around the viewport.
const (
	headerHeight = 1
	quickHeight  = 1
	inputHeight  = 2 // top border + input line
	statusHeight = 1
)

// langNames are shown in the picker, in the language itself.
var langNames = map[model.Lang]string{
	model.LangRO: "Română",
	model.LangEN: "English",
	model.LangHU: "Magyar",
}

func langIndex(lang model.Lang) int {
	for i, l := range model.SupportedLangs {
		if l == lang {
			return i
		}
	}
	return 0
}

// View renders the screen.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var body string
	switch m.mode {
	case modeLanguage:
		body = m.place(m.renderLanguagePicker())
	case modeDetails:
		body = m.place(m.renderDetailsForm())
	case modeHelp:
		body = m.place(m.renderHelp())
	default:
		body = m.viewport.View()
	}

	parts := []string{m.renderHeader(), body}
	if quick := m.renderQuickActions(); quick != "" {
		parts = append(parts, quick)
	}
	parts = append(parts, m.renderInput(), m.renderStatusBar())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// place centers a dialog in the viewport area.
func (m Model) place(dialog string) string {
	return lipgloss.Place(m.viewport.Width, m.viewport.Height, lipgloss.Center, lipgloss.Center, dialog)
}

// =============================================================================
// HEADER
// =============================================================================

func (m Model) renderHeader() string {
	t := m.theme
	title := t.HeaderBrand.Render("chatlink")

	info := ""
	if m.snap.Lang != "" {
		info = " | " + langNames[m.snap.Lang]
	}
	if m.snap.SessionID != "" {
		info += " | " + util.TruncateRunes(m.snap.SessionID, 8)
	}

	return t.Header.
		Width(m.width).
		MaxWidth(m.width).
		Render(title + t.HeaderInfo.Render(info) + " " + m.renderState())
}

func (m Model) renderState() string {
	t, s := m.theme, m.snap
	switch {
	case s.State == session.StateIdle:
		return t.BadgeConnecting.Render(styles.StatusIndicators.Connecting + " choose a language")
	case s.Busy:
		return t.BadgeBusy.Render(m.spinner.View() + " answering")
	case s.Operator && !s.OperatorConnected:
		return t.BadgeConnecting.Render(styles.StatusIndicators.Connecting + " connecting to a mentor")
	case s.Operator:
		return t.BadgeMentor.Render(styles.StatusIndicators.Mentor + " mentor")
	default:
		return t.BadgeReady.Render(styles.StatusIndicators.Ready + " assistant")
	}
}

// =============================================================================
// MESSAGES
// =============================================================================

func (m *Model) renderMessages() string {
	var parts []string
	for _, msg := range m.snap.Messages {
		if out := m.renderMessage(msg); out != "" {
			parts = append(parts, out)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (m *Model) renderMessage(msg model.Message) string {
	t := m.theme
	width := m.contentWidth()

	switch {
	case msg.Role == model.RoleUser:
		bubble := t.UserBubble.Render(wrapText(msg.Content, width-6))
		margin := max(m.width-lipgloss.Width(bubble)-2, 0)
		return lipgloss.NewStyle().MarginLeft(margin).Render(bubble)

	case msg.IsError:
		return t.ErrorText.Render(styles.StatusIndicators.Error + " " + wrapText(msg.Content, width-4))

	case msg.IsStreaming():
		if msg.Content == i18n.For(m.snap.Lang).StreamingPlaceholder {
			return t.Placeholder.Render(m.spinner.View() + " " + msg.Content)
		}
		return t.AssistantText.Render(wrapText(msg.Content, width) + t.StreamingLabel.Render("_"))
	}
	return m.renderAssistant(msg, width)
}

// renderAssistant renders a committed assistant message, as markdown when
// a renderer is available.
func (m *Model) renderAssistant(msg model.Message, width int) string {
	if m.renderer == nil {
		return m.theme.AssistantText.Render(wrapText(msg.Content, width))
	}
	if out, ok := m.rendered[msg.ID]; ok {
		return out
	}
	out, err := m.renderer.Render(msg.Content)
	if err != nil {
		m.log.Debug("MARKDOWN_RENDER_FAILED", "message", msg.ID, "error", err)
		return m.theme.AssistantText.Render(wrapText(msg.Content, width))
	}
	out = strings.Trim(out, "\n")
	m.rendered[msg.ID] = out
	return out
}

// contentWidth is the wrap width of message text.
func (m Model) contentWidth() int {
	return max(m.width-4, 10)
}

// =============================================================================
// QUICK ACTIONS, INPUT, STATUS
// =============================================================================

func (m Model) renderQuickActions() string {
	actions := m.snap.QuickActions()
	if len(actions) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(" ")
	for i, qa := range actions {
		b.WriteString(m.theme.QuickKey.Render(fmt.Sprintf("A-%d", i+1)))
		b.WriteString(" ")
		b.WriteString(m.theme.QuickAction.Render(qa.Label))
	}
	return lipgloss.NewStyle().MaxWidth(m.width).Render(b.String())
}

func (m Model) renderInput() string {
	return m.theme.InputContainer.Width(max(m.width-2, 1)).Render(m.input.View())
}

func (m Model) renderStatusBar() string {
	t := m.theme
	var content string
	if m.status != "" {
		style := t.ShortcutDesc
		if m.statusError {
			style = t.StatusError
		}
		content = style.Render(util.TruncateWidth(m.status, max(m.width-2, 1)))
	} else {
		var hints []string
		for _, b := range m.keys.ShortHelp() {
			h := b.Help()
			hints = append(hints, t.ShortcutKey.Render(h.Key)+" "+t.ShortcutDesc.Render(h.Desc))
		}
		content = strings.Join(hints, "  ")
	}
	return t.StatusBar.Width(m.width).MaxWidth(m.width).Render(content)
}

// =============================================================================
// DIALOGS
// =============================================================================

func (m Model) renderLanguagePicker() string {
	t := m.theme
	lines := []string{t.DialogTitle.Render("Choose a language / Alege limba / Válassz nyelvet")}
	for i, lang := range model.SupportedLangs {
		line := fmt.Sprintf("%d. %s", i+1, langNames[lang])
		if i == m.langCursor {
			lines = append(lines, t.DialogSelected.Render("> "+line))
		} else {
			lines = append(lines, t.DialogItem.Render("  "+line))
		}
	}
	return t.Dialog.Render(strings.Join(lines, "\n"))
}

func (m Model) renderDetailsForm() string {
	t := m.theme
	lines := []string{
		t.DialogTitle.Render("Talk to a mentor"),
		m.form.fields[fieldName].View(),
		m.form.fields[fieldContact].View(),
		m.form.fields[fieldCounty].View(),
	}
	if m.form.err != "" {
		lines = append(lines, "", t.StatusError.Render(m.form.err))
	}
	lines = append(lines, "", t.ShortcutDesc.Render("Enter send  Tab next field  Esc cancel"))
	return t.Dialog.Render(strings.Join(lines, "\n"))
}

func (m Model) renderHelp() string {
	t := m.theme
	lines := []string{t.DialogTitle.Render("Keys")}
	for _, group := range m.keys.FullHelp() {
		for _, b := range group {
			h := b.Help()
			lines = append(lines, t.ShortcutKey.Render(fmt.Sprintf("%-10s", h.Key))+" "+t.ShortcutDesc.Render(h.Desc))
		}
		lines = append(lines, "")
	}
	return t.Dialog.Render(strings.TrimRight(strings.Join(lines, "\n"), "\n"))
}

// =============================================================================
// TEXT UTILITIES
// =============================================================================

// wrapText wraps text to maxWidth terminal cells, breaking at spaces where
// possible and keeping existing line breaks. Wide runes count as two cells.
func wrapText(text string, maxWidth int) string {
	if maxWidth <= 0 {
		return text
	}

	var result strings.Builder
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			result.WriteString("\n")
		}
		for runewidth.StringWidth(line) > maxWidth {
			cut := cutAt(line, maxWidth)
			result.WriteString(strings.TrimRight(line[:cut], " "))
			result.WriteString("\n")
			line = strings.TrimLeft(line[cut:], " ")
		}
		result.WriteString(line)
	}
	return result.String()
}

// cutAt returns the byte offset at which to break line so the head fits in
// maxWidth cells: after the last space that fits, else at the width limit.
func cutAt(line string, maxWidth int) int {
	width, limit, lastSpace := 0, 0, -1
	for i := 0; i < len(line); {
		r, size := utf8.DecodeRuneInString(line[i:])
		w := runewidth.RuneWidth(r)
		if width+w > maxWidth {
			break
		}
		width += w
		if r == ' ' {
			lastSpace = i
		}
		i += size
		limit = i
	}
	switch {
	case limit == 0:
		// A single rune wider than maxWidth.
		_, size := utf8.DecodeRuneInString(line)
		return size
	case lastSpace > 0:
		return lastSpace + 1
	}
	return limit
}
