// Package model defines data structures shared by the chat client and the
// development backend.
package model

import (
	"time"
)

// Thread is a conversation thread. A thread created locally for a first
// message carries a client-generated ID and stays IsNew until the backend
// acknowledges creation.
type Thread struct {
	ID           string            `json:"id"`
	TenantID     string            `json:"tenant_id,omitempty"`
	UserID       string            `json:"user_id,omitempty"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Instructions string            `json:"instructions,omitempty"`
	Model        string            `json:"model,omitempty"`
	Title        string            `json:"title,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	MessageCount int               `json:"message_count,omitempty"`
	IsNew        bool              `json:"-"`
}

// CreateThreadRequest is the request to create a thread under a
// client-chosen identifier.
type CreateThreadRequest struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Instructions string            `json:"instructions,omitempty"`
	Model        string            `json:"model,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// TitleResponse is returned by the title generation endpoint.
type TitleResponse struct {
	Title string `json:"title"`
}
