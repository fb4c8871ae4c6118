package models

import "time"

// BridgeStats holds lifetime counters since process start.
type BridgeStats struct {
	EventsReceived  int64     `json:"events_received"`
	EventsAdmitted  int64     `json:"events_admitted"`
	EventsDuplicate int64     `json:"events_duplicate"`
	EventsCompleted int64     `json:"events_completed"`
	EventsFailed    int64     `json:"events_failed"`
	InFlight        int64     `json:"in_flight"`
	StartedAt       time.Time `json:"started_at"`
}
