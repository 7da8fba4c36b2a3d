// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package handover defines the JSON envelopes exchanged with the human
// operator service over the STOMP channel.
package handover

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Destination is where the client publishes envelopes.
const Destination = "/app/chat.userMessage"

// TopicPrefix is prefixed to the session id to form the inbound topic.
const TopicPrefix = "/topic/chat/"

// SenderUser marks envelopes written by the end user. The broker echoes them
// back on the session topic.
const SenderUser = "user"

// Kind is the envelope type.
type Kind string

const (
	KindSendMessage       Kind = "SEND_MESSAGE"
	KindOperatorAssigned  Kind = "OPERATOR_ASSIGNED"
	KindCloseConversation Kind = "CLOSE_CONVERSATION"
	KindRequestHandover   Kind = "REQUEST_HANDOVER"
)

// Envelope is one message on the operator channel.
type Envelope struct {
	ID        string          `json:"id"`
	Type      Kind            `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp"`
	Sender    string          `json:"sender,omitempty"`
	SessionID string          `json:"sessionId"`
}

// Details are the contact details sent with a handover request.
type Details struct {
	Username   string `json:"username"`
	Contact    string `json:"contact"`
	Department string `json:"department"`
	Language   string `json:"language"`
}

// TextPayload carries a chat line.
type TextPayload struct {
	Message string `json:"message"`
}

// Topic returns the inbound topic for a session.
func Topic(sessionID string) string {
	return TopicPrefix + sessionID
}

// New builds an outbound envelope from the user. A nil payload is omitted.
func New(kind Kind, sessionID string, payload any) ([]byte, error) {
	env := Envelope{
		ID:        uuid.NewString(),
		Type:      kind,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Sender:    SenderUser,
		SessionID: sessionID,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", kind, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// SendMessage builds a SEND_MESSAGE envelope.
func SendMessage(sessionID, text string) ([]byte, error) {
	return New(KindSendMessage, sessionID, TextPayload{Message: text})
}

// RequestHandover builds a REQUEST_HANDOVER envelope.
func RequestHandover(sessionID string, d Details) ([]byte, error) {
	return New(KindRequestHandover, sessionID, d)
}

// CloseConversation builds a CLOSE_CONVERSATION envelope.
func CloseConversation(sessionID string) ([]byte, error) {
	return New(KindCloseConversation, sessionID, nil)
}

// =============================================================================
// INBOUND
// =============================================================================

// Inbound is the decoded meaning of a broker message.
type Inbound struct {
	Kind    Kind
	Message string
	Echo    bool
}

// Parse decodes an inbound envelope.
func Parse(body []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Inbound{}, fmt.Errorf("invalid envelope: %w", err)
	}
	in := Inbound{Kind: env.Type, Echo: env.Sender == SenderUser}

	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		var p TextPayload
		// Payloads other than text (handover details) are not an error.
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			in.Message = p.Message
		}
	}
	return in, nil
}

// Displayable reports whether the envelope carries operator text to show.
func (in Inbound) Displayable() bool {
	if in.Echo || in.Message == "" {
		return false
	}
	return in.Kind == KindSendMessage || in.Kind == KindOperatorAssigned
}

// Closes reports whether the operator ended the conversation.
func (in Inbound) Closes() bool {
	return !in.Echo && in.Kind == KindCloseConversation
}
