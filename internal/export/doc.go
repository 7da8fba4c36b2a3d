// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes saved chat sessions to files.
//
// # Key Types
//
//   - Exporter: converts a session to bytes in one format
//   - MarkdownExporter: readable transcript with YAML front matter
//   - JSONExporter: the stored session shape, indented
//   - Options: output directory and what to include
//
// # Usage
//
//	exp, err := export.ForFormat("md", opts)
//	path, err := export.ExportToFile(sess, exp, opts)
package export
