// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds the styles of the chat screen.
// It detects the terminal's color capability and adjusts accordingly.
type Theme struct {
	// Terminal capabilities
	IsDark       bool
	ColorProfile termenv.Profile

	// ==========================================================================
	// HEADER
	// ==========================================================================

	Header      lipgloss.Style
	HeaderBrand lipgloss.Style
	HeaderInfo  lipgloss.Style

	// State badges
	BadgeReady      lipgloss.Style
	BadgeBusy       lipgloss.Style
	BadgeMentor     lipgloss.Style
	BadgeConnecting lipgloss.Style

	// ==========================================================================
	// MESSAGES
	// ==========================================================================

	UserBubble     lipgloss.Style
	AssistantText  lipgloss.Style
	ErrorText      lipgloss.Style
	Placeholder    lipgloss.Style
	StreamingLabel lipgloss.Style
	Timestamp      lipgloss.Style

	// ==========================================================================
	// INPUT, QUICK ACTIONS, OVERLAYS
	// ==========================================================================

	InputContainer lipgloss.Style
	InputPrompt    lipgloss.Style
	QuickAction    lipgloss.Style
	QuickKey       lipgloss.Style
	Dialog         lipgloss.Style
	DialogTitle    lipgloss.Style
	DialogItem     lipgloss.Style
	DialogSelected lipgloss.Style

	// ==========================================================================
	// STATUS BAR
	// ==========================================================================

	StatusBar    lipgloss.Style
	ShortcutKey  lipgloss.Style
	ShortcutDesc lipgloss.Style
	StatusError  lipgloss.Style
}

// NewTheme creates a theme for the current terminal. With noColor set the
// lipgloss profile is forced to ASCII before any style is built.
func NewTheme(noColor bool) *Theme {
	profile := termenv.ColorProfile()
	if noColor {
		profile = termenv.Ascii
	}
	lipgloss.SetColorProfile(profile)

	t := &Theme{
		IsDark:       termenv.HasDarkBackground(),
		ColorProfile: profile,
	}
	t.initStyles()
	return t
}

// GlamourStyle names the glamour style matching the terminal.
func (t *Theme) GlamourStyle() string {
	switch {
	case t.ColorProfile == termenv.Ascii:
		return "notty"
	case t.IsDark:
		return "dark"
	default:
		return "light"
	}
}

func (t *Theme) initStyles() {
	// Header
	t.Header = lipgloss.NewStyle().
		Background(SurfaceDim).
		Padding(0, 1)

	t.HeaderBrand = lipgloss.NewStyle().
		Bold(true).
		Foreground(Purple)

	t.HeaderInfo = lipgloss.NewStyle().
		Foreground(TextMuted)

	t.BadgeReady = lipgloss.NewStyle().Foreground(Cyan)
	t.BadgeBusy = lipgloss.NewStyle().Foreground(Purple)
	t.BadgeMentor = lipgloss.NewStyle().Foreground(Emerald).Bold(true)
	t.BadgeConnecting = lipgloss.NewStyle().Foreground(Amber)

	// Messages
	t.UserBubble = lipgloss.NewStyle().
		Foreground(UserBubbleFg).
		Background(UserBubbleBg).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(UserBubbleBorder).
		Padding(0, 2)

	t.AssistantText = lipgloss.NewStyle().
		Foreground(AssistantFg).
		MarginLeft(2)

	t.ErrorText = lipgloss.NewStyle().
		Foreground(Rose).
		Bold(true).
		MarginLeft(2)

	t.Placeholder = lipgloss.NewStyle().
		Foreground(TextMuted).
		Italic(true).
		MarginLeft(2)

	t.StreamingLabel = lipgloss.NewStyle().
		Foreground(Purple)

	t.Timestamp = lipgloss.NewStyle().
		Foreground(TextMuted)

	// Input
	t.InputContainer = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderTop(true).
		BorderForeground(Overlay).
		Padding(0, 1)

	t.InputPrompt = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)

	t.QuickAction = lipgloss.NewStyle().
		Foreground(TextSecondary).
		MarginRight(2)

	t.QuickKey = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)

	// Dialogs
	t.Dialog = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Purple).
		Padding(1, 3)

	t.DialogTitle = lipgloss.NewStyle().
		Bold(true).
		Foreground(Purple).
		MarginBottom(1)

	t.DialogItem = lipgloss.NewStyle().
		Foreground(TextPrimary).
		PaddingLeft(2)

	t.DialogSelected = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true).
		PaddingLeft(2)

	// Status bar
	t.StatusBar = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Background(SurfaceDim).
		Padding(0, 1)

	t.ShortcutKey = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)

	t.ShortcutDesc = lipgloss.NewStyle().
		Foreground(TextMuted)

	t.StatusError = lipgloss.NewStyle().
		Foreground(Rose)
}
