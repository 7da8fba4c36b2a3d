// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package chat provides the Bubble Tea chat screen of chatlink.

The screen is a view over a Conversation (in practice a
*session.Orchestrator): it renders every published snapshot and turns key
presses into orchestrator calls, run as tea.Cmds so the UI never blocks on
the orchestrator loop.

# Layout

	header        brand, language, session id, state badge
	conversation  bubbles.viewport; user messages right-aligned, finished
	              assistant messages rendered by glamour when enabled
	quick actions shown while the snapshot offers them (Alt+1..3)
	input         bubbles.textinput
	status bar    key hints, or the last action error

While no language is chosen a picker replaces the conversation. Ctrl+O
opens the mentor form (name and contact, prefilled from the saved details).

# Usage

	err := chat.Run(ctx, chat.Options{
	    Conversation: orch,
	    Details:      saved,
	    Markdown:     cfg.UI.Markdown,
	    NoColor:      cfg.UI.NoColor,
	    Logger:       logger,
	})
*/
package chat
