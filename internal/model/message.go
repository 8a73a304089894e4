package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ThreadMessage is one entry of a thread transcript.
type ThreadMessage struct {
	ID       string         `json:"id"`
	Role     Role           `json:"role"`
	Text     string         `json:"text"`
	Model    string         `json:"model,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// Complete is false for an assistant reply that is still streaming or
	// whose exchange failed or was cancelled.
	Complete bool `json:"complete"`

	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a copy that shares no mutable state with m.
func (m ThreadMessage) Clone() ThreadMessage {
	if m.Metadata != nil {
		md := make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			md[k] = v
		}
		m.Metadata = md
	}
	return m
}

// SendMessageRequest is the body of the send-message call.
type SendMessageRequest struct {
	Role     Role           `json:"role"`
	Text     string         `json:"text"`
	Model    string         `json:"model,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// StreamDelta is the payload of one event line in a send-message response.
// Text is a fragment to append, not the cumulative reply.
type StreamDelta struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Model string `json:"model"`
}

// StreamError is the payload of an in-band error frame.
type StreamError struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes an error reported inside the stream.
type ErrorBody struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
