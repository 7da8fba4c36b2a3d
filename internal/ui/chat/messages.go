// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/chatlink/internal/session"
)

// =============================================================================
// MESSAGES
// =============================================================================

// SnapshotMsg carries a new view of the conversation.
type SnapshotMsg struct {
	Snapshot session.Snapshot
}

// snapshotsClosedMsg is sent when the conversation stops publishing.
type snapshotsClosedMsg struct{}

// ActionResultMsg reports the outcome of a user action.
type ActionResultMsg struct {
	Action string
	Err    error
}

// =============================================================================
// COMMAND CREATORS
// =============================================================================

// waitForSnapshot blocks on the subscription for the next snapshot.
func waitForSnapshot(ch <-chan session.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return snapshotsClosedMsg{}
		}
		return SnapshotMsg{Snapshot: snap}
	}
}

// runAction performs fn off the UI goroutine.
func runAction(action string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return ActionResultMsg{Action: action, Err: fn()}
	}
}
