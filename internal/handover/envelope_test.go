// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package handover

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopic(t *testing.T) {
	assert.Equal(t, "/topic/chat/abc", Topic("abc"))
}

func TestRequestHandover(t *testing.T) {
	raw, err := RequestHandover("s1", Details{
		Username:   "Ana",
		Contact:    "ana@example.com",
		Department: "CJ",
		Language:   "ro",
	})
	require.NoError(t, err)

	var env map[string]any
	require.NoError(t, json.Unmarshal(raw, &env))

	assert.Equal(t, "REQUEST_HANDOVER", env["type"])
	assert.Equal(t, "user", env["sender"])
	assert.Equal(t, "s1", env["sessionId"])

	_, err = uuid.Parse(env["id"].(string))
	assert.NoError(t, err, "id should be a UUID")
	_, err = time.Parse(time.RFC3339, env["timestamp"].(string))
	assert.NoError(t, err, "timestamp should be RFC 3339")

	payload := env["payload"].(map[string]any)
	assert.Equal(t, "Ana", payload["username"])
	assert.Equal(t, "ana@example.com", payload["contact"])
	assert.Equal(t, "CJ", payload["department"])
	assert.Equal(t, "ro", payload["language"])
}

func TestCloseConversationHasNoPayload(t *testing.T) {
	raw, err := CloseConversation("s1")
	require.NoError(t, err)

	var env map[string]any
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, "CLOSE_CONVERSATION", env["type"])
	assert.NotContains(t, env, "payload")
}

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		displayable bool
		closes      bool
		message     string
	}{
		{"operator text", `{"type":"SEND_MESSAGE","payload":{"message":"Bună!"},"sender":"operator"}`, true, false, "Bună!"},
		{"assigned", `{"type":"OPERATOR_ASSIGNED","payload":{"message":"Maria joined"}}`, true, false, "Maria joined"},
		{"user echo", `{"type":"SEND_MESSAGE","payload":{"message":"hi"},"sender":"user"}`, false, false, "hi"},
		{"empty message", `{"type":"SEND_MESSAGE","payload":{"message":""}}`, false, false, ""},
		{"no payload", `{"type":"SEND_MESSAGE"}`, false, false, ""},
		{"close", `{"type":"CLOSE_CONVERSATION"}`, false, true, ""},
		{"close echo", `{"type":"CLOSE_CONVERSATION","sender":"user"}`, false, false, ""},
		{"handover echo", `{"type":"REQUEST_HANDOVER","payload":{"username":"x"},"sender":"user"}`, false, false, ""},
		{"unknown type", `{"type":"TYPING","payload":{"message":"..."}}`, false, false, "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := Parse([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.displayable, in.Displayable())
			assert.Equal(t, tt.closes, in.Closes())
			assert.Equal(t, tt.message, in.Message)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("not json"))
	assert.Error(t, err)
}

func TestSendMessage_RoundTrip(t *testing.T) {
	raw, err := SendMessage("s9", "hello")
	require.NoError(t, err)

	in, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, KindSendMessage, in.Kind)
	assert.Equal(t, "hello", in.Message)
	assert.True(t, in.Echo)
	assert.False(t, in.Displayable())
}
