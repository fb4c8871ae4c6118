package services

import (
	"context"

	"github.com/samber/mo"

	"gptbridge/models"
)

// AdmitDecision is the outcome of a dedup admission check
type AdmitDecision string

const (
	AdmitDecisionAdmitted  AdmitDecision = "ADMITTED"
	AdmitDecisionDuplicate AdmitDecision = "DUPLICATE"
)

// DedupService defines the interface for delivery deduplication operations
type DedupService interface {
	// Admit atomically records the event unless a live record for the
	// same delivery already exists. Exactly one of any set of concurrent
	// calls for the same event is admitted.
	Admit(ctx context.Context, event *models.MessageEvent) (AdmitDecision, error)

	// MarkOutcome records the terminal status of an admitted event
	MarkOutcome(
		ctx context.Context,
		platform models.Platform,
		eventKey string,
		status models.ProcessedEventStatus,
		outcome string,
	) error

	// GetProcessedEvent fetches the dedup record for a delivery, if any
	GetProcessedEvent(
		ctx context.Context,
		platform models.Platform,
		eventKey string,
	) (mo.Option[*models.ProcessedEvent], error)

	// SweepExpired evicts records older than the retention window and
	// returns how many were removed
	SweepExpired(ctx context.Context) (int64, error)
}

// CompletionsService defines the interface for completion orchestration.
// Complete never returns an error alongside a nil result: backend
// failures are folded into a FAILURE result so callers always have
// something to dispatch.
type CompletionsService interface {
	Complete(ctx context.Context, req models.CompletionRequest) *models.CompletionResult
}

// DispatchService defines the interface for delivering completion results
// back to the originating chat platform
type DispatchService interface {
	Dispatch(ctx context.Context, ref *models.ReplyRef, result *models.CompletionResult) error
}

// UsageService defines the interface for token usage accounting
type UsageService interface {
	RecordUsage(ctx context.Context, model string, usage *models.CompletionUsage) error
	GetUsageTotals(ctx context.Context) (*models.UsageTotals, error)
}
