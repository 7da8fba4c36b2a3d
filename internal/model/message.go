// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// StreamingID is the ID of the synthetic trailing message shown while an
// answer is still being streamed. It is never committed to a session.
const StreamingID = "_streaming"

// Message is one committed entry of a conversation. Messages are immutable
// once appended to a Session.
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds

	// HistoryID is assigned by the server when a streamed answer completes.
	HistoryID *int64 `json:"conversationHistoryId,omitempty"`
	IsError   bool   `json:"isError,omitempty"`
}

// NewMessage creates a message with a fresh ID stamped with the current time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: NowMillis(),
	}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a committed assistant message. historyID may be nil.
func NewAssistantMessage(content string, historyID *int64) Message {
	msg := NewMessage(RoleAssistant, content)
	msg.HistoryID = historyID
	return msg
}

// NewErrorMessage creates an assistant message flagged as an error.
func NewErrorMessage(content string) Message {
	msg := NewMessage(RoleAssistant, content)
	msg.IsError = true
	return msg
}

// Time returns the message timestamp as a time.Time.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// IsStreaming reports whether m is the synthetic streaming placeholder.
func (m Message) IsStreaming() bool {
	return m.ID == StreamingID
}

// NowMillis returns the current time in epoch milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
