package model

import (
	"time"
)

// ExchangeStatus is the lifecycle state of one send-through-reply cycle.
type ExchangeStatus string

const (
	StatusIdle      ExchangeStatus = "idle"
	StatusAwaiting  ExchangeStatus = "awaiting"
	StatusStreaming ExchangeStatus = "streaming"
	StatusComplete  ExchangeStatus = "complete"
	StatusFailed    ExchangeStatus = "failed"
	StatusCancelled ExchangeStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s ExchangeStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusCancelled
}

// Active reports whether the exchange holds the thread.
func (s ExchangeStatus) Active() bool {
	return s == StatusAwaiting || s == StatusStreaming
}

// ExchangeEvent records a terminal exchange transition for downstream
// consumers.
type ExchangeEvent struct {
	ID          string         `json:"id"`
	ThreadID    string         `json:"thread_id"`
	TenantID    string         `json:"tenant_id,omitempty"`
	Status      ExchangeStatus `json:"status"`
	Reason      string         `json:"reason,omitempty"`
	Model       string         `json:"model,omitempty"`
	Records     int            `json:"records"`
	ReplyLength int            `json:"reply_length"`
	DurationMs  int64          `json:"duration_ms"`
	CreatedAt   time.Time      `json:"created_at"`
}
