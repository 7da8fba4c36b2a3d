// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/chatlink/internal/model"
	"github.com/jeranaias/chatlink/internal/util"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports sessions to Markdown with optional YAML front
// matter.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a session to Markdown.
func (e *MarkdownExporter) Export(sess *model.Session) ([]byte, error) {
	if sess == nil {
		return nil, errors.New("session is nil")
	}
	if len(sess.Messages) == 0 {
		return nil, ErrEmptySession
	}

	title := sessionTitle(sess)
	lang := "-"
	if sess.HasLang() {
		lang = string(*sess.Lang)
	}

	var sb strings.Builder

	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "title: %s\n", escapeYAML(title))
		fmt.Fprintf(&sb, "session: %s\n", sess.ID)
		fmt.Fprintf(&sb, "lang: %s\n", lang)
		fmt.Fprintf(&sb, "mode: %s\n", sess.Mode)
		fmt.Fprintf(&sb, "date: %s\n", millisTime(sess.CreatedAt).Format(time.RFC3339))
		fmt.Fprintf(&sb, "updated: %s\n", millisTime(sess.UpdatedAt).Format(time.RFC3339))
		fmt.Fprintf(&sb, "messages: %d\n", len(sess.Messages))
		sb.WriteString("generator: chatlink\n")
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(title))

	if e.options.IncludeMetadata {
		sb.WriteString("## Session Information\n\n")
		fmt.Fprintf(&sb, "- **Language**: %s\n", lang)
		fmt.Fprintf(&sb, "- **Created**: %s\n", formatTimestamp(millisTime(sess.CreatedAt)))
		fmt.Fprintf(&sb, "- **Last Updated**: %s\n", formatTimestamp(millisTime(sess.UpdatedAt)))
		fmt.Fprintf(&sb, "- **Messages**: %d\n", len(sess.Messages))
		sb.WriteString("\n---\n\n")
	}

	sb.WriteString("## Conversation\n\n")

	for i, msg := range sess.Messages {
		label := formatRoleLabel(msg)
		if e.options.IncludeTimestamps {
			fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", label, formatShortTimestamp(millisTime(msg.Timestamp)))
		} else {
			fmt.Fprintf(&sb, "### %s\n\n", label)
		}

		sb.WriteString(strings.TrimSpace(msg.Content))
		sb.WriteString("\n\n")

		if i < len(sess.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	sb.WriteString("\n---\n\n")
	fmt.Fprintf(&sb, "*Exported from chatlink on %s*\n", time.Now().Format("January 2, 2006 at 3:04 PM"))

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

// sessionTitle is the first user message on one line, or a generic title
// for sessions the user never wrote in.
func sessionTitle(sess *model.Session) string {
	for _, msg := range sess.Messages {
		if msg.Role == model.RoleUser {
			if t := util.TruncateRunes(strings.TrimSpace(util.SingleLine(msg.Content)), 60); t != "" {
				return t
			}
		}
	}
	return "Conversation " + shortID(sess.ID)
}

func formatRoleLabel(msg model.Message) string {
	if msg.IsError {
		return "[Error]"
	}
	if msg.Role == "" {
		return "[Unknown]"
	}
	return "[" + msg.Role.DisplayName() + "]"
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes characters that would break formatting in headings.
func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}

// escapeYAML quotes a scalar when it contains YAML syntax.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return fmt.Sprintf("\"%s\"", s)
	}
	return s
}
