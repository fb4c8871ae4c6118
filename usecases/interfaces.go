package usecases

import (
	"context"

	"gptbridge/models"
)

// BridgeUseCaseInterface defines the interface for bridge use case operations
type BridgeUseCaseInterface interface {
	// ProcessMessageEvent admits a platform event and, when admitted,
	// launches completion and dispatch in the background. It returns
	// once the admission decision is durable so the caller can
	// acknowledge the platform within its delivery budget.
	ProcessMessageEvent(ctx context.Context, event *models.MessageEvent) error

	// SweepExpiredEvents removes dedup records older than the
	// retention window.
	SweepExpiredEvents(ctx context.Context) error

	// Drain stops accepting new events and waits for in-flight
	// background processing to finish or the context to expire.
	Drain(ctx context.Context) error

	// Stats reports lifetime counters for the status endpoint.
	Stats() models.BridgeStats
}
