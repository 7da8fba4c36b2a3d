// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// =============================================================================
// EVENTS
// =============================================================================

// EventKind discriminates relay events.
type EventKind int

const (
	EventToken EventKind = iota
	EventDone
	EventError
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventToken:
		return "token"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one item of a relay's output.
type Event struct {
	Kind      EventKind
	Token     string // EventToken only
	HistoryID *int64 // EventDone only, may be nil
	Err       error  // EventError only, may be nil
}

// IsTerminal reports whether no further events follow this one.
func (e Event) IsTerminal() bool {
	return e.Kind == EventDone || e.Kind == EventError
}

// Errors reported on EventError.
var (
	ErrNoData        = errors.New("stream ended before any token arrived")
	ErrIdleTimeout   = errors.New("stream idle timeout")
	ErrBridgeClosed  = errors.New("stream bridge closed")
	ErrPageLoad      = errors.New("rendering context failed to load")
	ErrStreamRefused = errors.New("rendering context refused stream")
)

// =============================================================================
// PAYLOAD
// =============================================================================

// Payload is the JSON object carried by each server-push event.
type Payload struct {
	TokenText string `json:"tokenText,omitempty"`
	HistoryID *int64 `json:"conversationHistoryId,omitempty"`
}

// ParsePayload decodes one event payload. Malformed payloads report false
// and are meant to be skipped, not treated as stream failures.
func ParsePayload(raw string) (Payload, bool) {
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Payload{}, false
	}
	return p, true
}

// BuildURL returns the stream endpoint URL for one prompt.
func BuildURL(base, prompt, sessionID, lang string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid stream endpoint %q: %w", base, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid stream endpoint %q: missing scheme or host", base)
	}

	q := u.Query()
	q.Set("prompt", prompt)
	q.Set("sessionId", sessionID)
	q.Set("lang", lang)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
