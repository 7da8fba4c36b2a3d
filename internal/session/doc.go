// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session reconciles the assistant stream and the operator channel
// into one ordered, persisted conversation.
//
// The Orchestrator is the single source of truth for what the user sees. It
// owns the current model.Session and runs one goroutine that processes every
// state change: commands from the UI, relay events from the stream bridge
// and callbacks from the operator channel. Public methods post a command to
// that goroutine and wait for its result.
//
// # States
//
//	IDLE                no language chosen yet
//	AI_ACTIVE           ready to send a prompt
//	STREAMING           one relay is open
//	OPERATOR_CONNECTED  a human operator replaces the stream
//
// At most one relay and at most one operator channel exist at any time.
// Each relay carries an epoch and each channel a generation; events that
// arrive for an older epoch or generation are dropped.
//
// # Key Types
//
//   - Orchestrator: the state machine and its loop
//   - Snapshot: immutable view published to the UI
//   - Streamer, Relay: the stream bridge as seen by the orchestrator
//   - Channel, ChannelFactory: the operator channel
//   - Store: session persistence
//
// # Usage
//
//	orch, err := session.New(ctx, session.Options{
//	    Streamer:  session.FromBridge(bridge),
//	    Channels:  session.STOMPChannels(cfg.Operator.URL, dialer, stompOpts),
//	    Store:     storage.NewSessionStore(kv),
//	    StreamURL: cfg.Stream.URL,
//	})
//	defer orch.Close()
//
//	updates, cancel := orch.Subscribe()
//	defer cancel()
//	orch.SendMessage("Hello")
//	for snap := range updates {
//	    render(snap)
//	}
package session
