// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"github.com/google/uuid"
)

// =============================================================================
// MODE TYPE
// =============================================================================

// Mode tells which transport is the source of assistant content.
type Mode string

const (
	ModeAI       Mode = "AI"
	ModeOperator Mode = "OPERATOR"
)

// =============================================================================
// SESSION TYPE
// =============================================================================

// Session is one conversation as persisted by the storage collaborator.
// Only the orchestrator mutates it; storage replaces it wholesale.
type Session struct {
	ID        string    `json:"id"`
	Lang      *Lang     `json:"lang"`
	Messages  []Message `json:"messages"`
	CreatedAt int64     `json:"createdAt"`
	UpdatedAt int64     `json:"updatedAt"`
	Mode      Mode      `json:"mode"`
}

// NewSession creates an empty AI-mode session with a fresh ID and no language.
func NewSession() *Session {
	return NewSessionWithID(uuid.NewString())
}

// NewSessionWithID creates an empty session with the given ID.
func NewSessionWithID(id string) *Session {
	now := NowMillis()
	return &Session{
		ID:        id,
		Messages:  make([]Message, 0),
		CreatedAt: now,
		UpdatedAt: now,
		Mode:      ModeAI,
	}
}

// Append adds a message at the end of the log and bumps UpdatedAt.
func (s *Session) Append(msg Message) {
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = NowMillis()
}

// SetLang sets the conversation language.
func (s *Session) SetLang(lang Lang) {
	l := lang
	s.Lang = &l
	s.UpdatedAt = NowMillis()
}

// HasLang reports whether a language has been chosen.
func (s *Session) HasLang() bool {
	return s.Lang != nil && *s.Lang != ""
}

// LangOr returns the session language, or def when none is set.
func (s *Session) LangOr(def Lang) Lang {
	if !s.HasLang() {
		return def
	}
	return *s.Lang
}

// LastMessage returns the most recent message and whether one exists.
func (s *Session) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Lang != nil {
		l := *s.Lang
		c.Lang = &l
	}
	c.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		if m.HistoryID != nil {
			h := *m.HistoryID
			m.HistoryID = &h
		}
		c.Messages[i] = m
	}
	return &c
}

// Normalize repairs fields a stored session may lack: a nil message slice,
// an unknown mode. Channels never survive a restart, so a session saved in
// operator mode comes back in AI mode.
func (s *Session) Normalize() {
	if s.Messages == nil {
		s.Messages = make([]Message, 0)
	}
	if s.Mode != ModeAI {
		s.Mode = ModeAI
	}
}
