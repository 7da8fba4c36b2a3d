// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists the chat session and related client state.
//
// Everything is stored as JSON values under fixed keys in a KV backend. The
// active session lives under SessionKey and is replaced wholesale on every
// save; the last operator contact details live under DetailsKey.
//
// # Key Types
//
//   - KV: byte-value store with FileKV, SQLiteKV, RedisKV and MemoryKV
//     implementations
//   - SessionStore: typed Load/Save/Clear over a KV
//   - Archive: ended sessions kept as JSON files for listing and search
//
// # Usage
//
//	kv, err := storage.Open(ctx, storage.Options{Backend: storage.BackendFile, Dir: dir})
//	store := storage.NewSessionStore(kv)
//	sess, err := store.Load(ctx) // nil, nil when nothing is stored
//
// # Storage Location
//
// The file backend writes ~/.chatlink/store/<key>.json; the archive lives in
// ~/.chatlink/archive/.
package storage
