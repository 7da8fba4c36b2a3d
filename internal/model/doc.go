// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for sessions and messages.
//
// The JSON shape of Session is the persisted format: timestamps are epoch
// milliseconds and optional fields are omitted when unset, so that loading
// and re-saving a session reproduces the same bytes.
//
// # Key Types
//
//   - Session: one conversation (id, language, ordered messages, mode)
//   - Message: a committed, immutable chat entry
//   - Lang: supported conversation language (ro, en, hu)
//   - Mode: AI or OPERATOR as the source of assistant content
//
// # Usage
//
//	sess := model.NewSession()
//	sess.SetLang(model.LangEN)
//	sess.Append(model.NewUserMessage("Hello"))
package model
