package dedup

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/samber/mo"

	"gptbridge/core"
	"gptbridge/models"
	"gptbridge/services"
)

// ProcessedEventsStore abstracts the dedup record storage so the service
// runs against the in-memory store or the Postgres repository unchanged
type ProcessedEventsStore interface {
	InsertIfAbsent(ctx context.Context, event *models.ProcessedEvent, expiredBefore time.Time) (bool, error)
	UpdateStatus(
		ctx context.Context,
		platform models.Platform,
		eventKey string,
		status models.ProcessedEventStatus,
		outcome string,
	) error
	GetByKey(ctx context.Context, platform models.Platform, eventKey string) (mo.Option[*models.ProcessedEvent], error)
	DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error)
}

// DedupService decides, per platform delivery, whether an event is seen
// for the first time. The decision rides on a single atomic insert in the
// store, so concurrent redeliveries of the same event admit exactly one.
type DedupService struct {
	store     ProcessedEventsStore
	retention time.Duration
}

func NewDedupService(store ProcessedEventsStore, retention time.Duration) *DedupService {
	return &DedupService{store: store, retention: retention}
}

func (s *DedupService) Admit(ctx context.Context, event *models.MessageEvent) (services.AdmitDecision, error) {
	log.Printf("📋 Starting to admit event: %s", event.DedupKey())
	if event.Platform == "" {
		return "", fmt.Errorf("platform cannot be empty")
	}
	if event.EventKey == "" {
		return "", fmt.Errorf("event key cannot be empty")
	}
	if event.ChannelID == "" {
		return "", fmt.Errorf("channel ID cannot be empty")
	}

	record := &models.ProcessedEvent{
		ID:        core.NewID("pe"),
		Platform:  event.Platform,
		EventKey:  event.EventKey,
		ChannelID: event.ChannelID,
		ThreadID:  event.ThreadID,
		Status:    models.ProcessedEventStatusInProgress,
	}

	expiredBefore := time.Now().Add(-s.retention)
	admitted, err := s.store.InsertIfAbsent(ctx, record, expiredBefore)
	if err != nil {
		return "", fmt.Errorf("failed to admit event: %w", err)
	}

	if !admitted {
		log.Printf("📋 Completed successfully - event %s is a duplicate delivery", event.DedupKey())
		return services.AdmitDecisionDuplicate, nil
	}

	log.Printf("📋 Completed successfully - admitted event %s as %s", event.DedupKey(), record.ID)
	return services.AdmitDecisionAdmitted, nil
}

func (s *DedupService) MarkOutcome(
	ctx context.Context,
	platform models.Platform,
	eventKey string,
	status models.ProcessedEventStatus,
	outcome string,
) error {
	log.Printf("📋 Starting to mark outcome for event %s/%s: %s", platform, eventKey, status)
	if eventKey == "" {
		return fmt.Errorf("event key cannot be empty")
	}
	if status != models.ProcessedEventStatusCompleted && status != models.ProcessedEventStatusFailed {
		return fmt.Errorf("status must be terminal, got: %s", status)
	}

	if err := s.store.UpdateStatus(ctx, platform, eventKey, status, outcome); err != nil {
		return fmt.Errorf("failed to mark event outcome: %w", err)
	}

	log.Printf("📋 Completed successfully - marked event %s/%s as %s", platform, eventKey, status)
	return nil
}

func (s *DedupService) GetProcessedEvent(
	ctx context.Context,
	platform models.Platform,
	eventKey string,
) (mo.Option[*models.ProcessedEvent], error) {
	if eventKey == "" {
		return mo.None[*models.ProcessedEvent](), fmt.Errorf("event key cannot be empty")
	}

	maybeEvent, err := s.store.GetByKey(ctx, platform, eventKey)
	if err != nil {
		return mo.None[*models.ProcessedEvent](), fmt.Errorf("failed to get processed event: %w", err)
	}

	return maybeEvent, nil
}

func (s *DedupService) SweepExpired(ctx context.Context) (int64, error) {
	log.Printf("📋 Starting to sweep expired dedup records")

	olderThan := time.Now().Add(-s.retention)
	removed, err := s.store.DeleteExpired(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired records: %w", err)
	}

	log.Printf("📋 Completed successfully - swept %d expired dedup records", removed)
	return removed, nil
}
