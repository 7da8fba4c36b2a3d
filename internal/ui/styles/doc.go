// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the visual styling of the chatlink terminal UI.

# Color System (colors.go)

All colors are Lip Gloss AdaptiveColor values, resolved against the
terminal background:

  - Purple - assistant text, dialogs
  - Cyan - brand, user highlights, key hints
  - Emerald - mentor conversation
  - Amber - connecting states
  - Rose - errors

StatusIndicators pair every colored state with an ASCII shape.

# Theme (theme.go)

	theme := styles.NewTheme(cfg.UI.NoColor)
	bubble := theme.UserBubble.Render(text)

NewTheme sets the global lipgloss color profile from termenv, forcing
termenv.Ascii when colors are disabled. GlamourStyle returns the matching
markdown style for glamour ("notty" without color).
*/
package styles
