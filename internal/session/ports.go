// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"

	"github.com/jeranaias/chatlink/internal/handover"
	"github.com/jeranaias/chatlink/internal/model"
	"github.com/jeranaias/chatlink/internal/stomp"
	"github.com/jeranaias/chatlink/internal/stream"
)

// =============================================================================
// STREAM
// =============================================================================

// Relay is one open assistant stream.
type Relay interface {
	// Next blocks for the next event and reports false once the relay is
	// over or cancelled.
	Next(ctx context.Context) (stream.Event, bool)
	Cancel()
}

// Streamer opens relays. Opening a relay cancels the previous one.
type Streamer interface {
	Open(url string) Relay
}

type bridgeStreamer struct {
	b *stream.Bridge
}

// FromBridge adapts a stream.Bridge.
func FromBridge(b *stream.Bridge) Streamer {
	return bridgeStreamer{b: b}
}

func (s bridgeStreamer) Open(url string) Relay {
	return s.b.Open(url)
}

// =============================================================================
// OPERATOR CHANNEL
// =============================================================================

// Channel is a STOMP-style operator connection. *stomp.Client implements it.
type Channel interface {
	Connect(ctx context.Context, onConnect func(), onDisconnect func(error)) error
	Subscribe(dest string, handler stomp.Handler) string
	Send(dest string, body []byte, kv ...string) error
	Disconnect() error
	IsConnected() bool
}

// ChannelFactory creates a fresh, unconnected channel per handover.
type ChannelFactory func() Channel

// STOMPChannels returns a factory of stomp clients for url.
func STOMPChannels(url string, dialer stomp.Dialer, opts stomp.ClientOptions) ChannelFactory {
	return func() Channel {
		return stomp.NewClient(url, dialer, opts)
	}
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// Store persists the active session by full replacement.
// *storage.SessionStore implements it.
type Store interface {
	// Load returns nil, nil when nothing is stored.
	Load(ctx context.Context) (*model.Session, error)
	Save(ctx context.Context, sess *model.Session) error
	Clear(ctx context.Context) error
}

// DetailsSaver is implemented by stores that also keep the operator contact
// details between handovers.
type DetailsSaver interface {
	SaveDetails(ctx context.Context, d handover.Details) error
}

// Archiver keeps sessions that are replaced by ResetSession.
// *storage.Archive implements it.
type Archiver interface {
	Put(sess *model.Session) error
}
