// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across chatlink.
//
// # Key Functions
//
//   - AtomicWriteFile: crash-safe file replacement with fsync
//   - TruncateRunes, TruncateWidth: UTF-8 and display-width safe truncation
//   - SingleLine: newline folding for previews
//
// # Usage
//
//	err := util.AtomicWriteFile(path, data, 0600)
//	header := util.TruncateWidth(title, width)
package util
