package models

import (
	"time"
)

type ProcessedEventStatus string

const (
	ProcessedEventStatusInProgress ProcessedEventStatus = "IN_PROGRESS"
	ProcessedEventStatusCompleted  ProcessedEventStatus = "COMPLETED"
	ProcessedEventStatusFailed     ProcessedEventStatus = "FAILED"
)

// ProcessedEvent records that a delivery was admitted for processing and
// what became of it. One row exists per platform+event key; its presence
// is what makes redeliveries detectable.
type ProcessedEvent struct {
	ID        string               `json:"id" db:"id"`
	Platform  Platform             `json:"platform" db:"platform"`
	EventKey  string               `json:"event_key" db:"event_key"`
	ChannelID string               `json:"channel_id" db:"channel_id"`
	ThreadID  string               `json:"thread_id" db:"thread_id"`
	Status    ProcessedEventStatus `json:"status" db:"status"`
	Outcome   string               `json:"outcome" db:"outcome"`
	CreatedAt time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt time.Time            `json:"updated_at" db:"updated_at"`
}
