// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jeranaias/chatlink/internal/handover"
	"github.com/jeranaias/chatlink/internal/model"
)

// Fixed keys.
const (
	SessionKey = "chat_session"
	DetailsKey = "operator_details"
)

// SessionStore persists the single active session and the last operator
// contact details.
type SessionStore struct {
	kv KV
}

// NewSessionStore creates a store over kv.
func NewSessionStore(kv KV) *SessionStore {
	return &SessionStore{kv: kv}
}

// Load returns the stored session, or nil with no error when none exists.
// The session is normalized before it is returned.
func (s *SessionStore) Load(ctx context.Context) (*model.Session, error) {
	data, err := s.kv.Get(ctx, SessionKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var sess model.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	sess.Normalize()
	return &sess, nil
}

// Save replaces the stored session.
func (s *SessionStore) Save(ctx context.Context, sess *model.Session) error {
	if sess == nil {
		return errors.New("storage: nil session")
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return s.kv.Set(ctx, SessionKey, data)
}

// Clear removes the stored session.
func (s *SessionStore) Clear(ctx context.Context) error {
	return s.kv.Delete(ctx, SessionKey)
}

// LoadDetails returns the last operator contact details, or nil when none
// were saved.
func (s *SessionStore) LoadDetails(ctx context.Context) (*handover.Details, error) {
	data, err := s.kv.Get(ctx, DetailsKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read operator details: %w", err)
	}
	var d handover.Details
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to decode operator details: %w", err)
	}
	return &d, nil
}

// SaveDetails stores operator contact details for reuse.
func (s *SessionStore) SaveDetails(ctx context.Context, d handover.Details) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode operator details: %w", err)
	}
	return s.kv.Set(ctx, DetailsKey, data)
}

// Close closes the underlying KV.
func (s *SessionStore) Close() error {
	return s.kv.Close()
}
