// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import "context"

// Page message types delivered by a rendering context.
const (
	MessageData  = "data"
	MessageDone  = "done"
	MessageError = "error"
)

// PageMessage is one raw message posted from a rendering context for an
// open event stream.
type PageMessage struct {
	Type    string
	Payload string
}

// IsTerminal reports whether the stream is over after this message.
func (m PageMessage) IsTerminal() bool {
	return m.Type == MessageDone || m.Type == MessageError
}

// Page is a rendering context able to open event streams with a browser
// fingerprint.
type Page interface {
	// Load prepares the context. It may be called again after a failure.
	Load(ctx context.Context) error

	// Stream opens an event stream at url. The returned channel carries data
	// messages followed by at most one terminal message and is closed after
	// it, or when ctx is cancelled.
	Stream(ctx context.Context, url string) (<-chan PageMessage, error)

	// Close releases the context.
	Close() error
}
