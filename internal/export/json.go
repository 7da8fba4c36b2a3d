// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"errors"

	"github.com/jeranaias/chatlink/internal/model"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter exports sessions in their stored JSON shape, so an export can
// be read back with the same decoder the storage layer uses. Options are
// accepted for symmetry; JSON exports always carry the complete session.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

// Export converts a session to indented JSON.
func (e *JSONExporter) Export(sess *model.Session) ([]byte, error) {
	if sess == nil {
		return nil, errors.New("session is nil")
	}
	return json.MarshalIndent(sess, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}
