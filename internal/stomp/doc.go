// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stomp implements the small subset of STOMP 1.2 needed for the
// operator handover channel: CONNECT, SUBSCRIBE, SEND and DISCONNECT from the
// client, CONNECTED, MESSAGE and ERROR from the broker.
//
// Framing (Encode, Decode) is pure and independent of I/O. The Client runs
// over any message-oriented Conn; WebSocketDialer provides one backed by
// gorilla/websocket with the v12.stomp subprotocol.
//
// The client is best effort: it never retries, never buffers sends while
// disconnected, and never resubscribes after a reconnect.
package stomp
