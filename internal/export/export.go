// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// export.go - Exporter interface and file output for saved sessions.
package export

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jeranaias/chatlink/internal/model"
	"github.com/jeranaias/chatlink/internal/util"
)

// ErrEmptySession is returned when a session has no messages to export.
var ErrEmptySession = errors.New("session has no messages")

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter defines the interface for session exporters.
type Exporter interface {
	// Export converts a session to the target format and returns the content.
	Export(sess *model.Session) ([]byte, error)

	// FileExtension returns the file extension, including the dot.
	FileExtension() string

	// MimeType returns the MIME type for the exported format.
	MimeType() string
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// OutputDir is the directory where files will be saved.
	// Default: current working directory
	OutputDir string

	// IncludeMetadata includes the front matter and session summary.
	IncludeMetadata bool

	// IncludeTimestamps includes per-message timestamps.
	IncludeTimestamps bool
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:         ".",
		IncludeMetadata:   true,
		IncludeTimestamps: true,
	}
}

// ForFormat returns the exporter for a format name: "md", "markdown" or
// "json".
func ForFormat(format string, opts *Options) (Exporter, error) {
	switch format {
	case "", "md", "markdown":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	}
	return nil, fmt.Errorf("unknown export format %q (want md or json)", format)
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ExportToFile exports a session to a new file in opts.OutputDir and returns
// its path. The file is readable only by the owner.
func ExportToFile(sess *model.Session, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	content, err := exporter.Export(sess)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	dir := opts.OutputDir
	if dir == "" {
		dir = "."
	}
	filename := fmt.Sprintf("chatlink_%s_%s%s",
		sanitizeFilename(shortID(sess.ID)),
		time.Now().Format("20060102_150405"),
		exporter.FileExtension(),
	)

	outputPath := filepath.Join(dir, filename)
	if err := util.AtomicWriteFile(outputPath, content, 0o600); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return outputPath, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sanitizeFilename replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	runes := []rune(s)
	if len(runes) > 50 {
		runes = runes[:50]
	}

	replacer := map[rune]rune{
		'/':  '-',
		'\\': '-',
		':':  '-',
		'*':  '-',
		'?':  '-',
		'"':  '-',
		'<':  '-',
		'>':  '-',
		'|':  '-',
		' ':  '_',
		'\t': '_',
		'\n': '_',
		'\r': '_',
	}

	result := make([]rune, 0, len(runes))
	for _, r := range runes {
		if replacement, found := replacer[r]; found {
			result = append(result, replacement)
		} else if r < 32 || r == 127 {
			result = append(result, '-')
		} else {
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return "session"
	}
	return string(result)
}

// shortID is the first eight characters of a session ID.
func shortID(id string) string {
	if r := []rune(id); len(r) > 8 {
		return string(r[:8])
	}
	return id
}

// millisTime converts epoch milliseconds to local time.
func millisTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// formatTimestamp formats a timestamp for display.
func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// formatShortTimestamp formats a timestamp for inline display.
func formatShortTimestamp(t time.Time) string {
	return t.Format("15:04:05")
}
