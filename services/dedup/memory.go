package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/mo"

	"gptbridge/models"
)

// MemoryProcessedEventsStore keeps dedup records in process memory. It is
// the default store when no database is configured; records do not survive
// a restart, which the retention window already allows for.
type MemoryProcessedEventsStore struct {
	mu     sync.Mutex
	events map[string]*models.ProcessedEvent
}

func NewMemoryProcessedEventsStore() *MemoryProcessedEventsStore {
	return &MemoryProcessedEventsStore{
		events: make(map[string]*models.ProcessedEvent),
	}
}

func storeKey(platform models.Platform, eventKey string) string {
	return string(platform) + ":" + eventKey
}

// InsertIfAbsent records the event unless a live record for the same
// platform+event_key already exists. An expired record is replaced in
// place. The check and the insert happen under one lock, so concurrent
// calls for the same key admit exactly one.
func (s *MemoryProcessedEventsStore) InsertIfAbsent(
	ctx context.Context,
	event *models.ProcessedEvent,
	expiredBefore time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey(event.Platform, event.EventKey)
	if existing, ok := s.events[key]; ok && !existing.CreatedAt.Before(expiredBefore) {
		return false, nil
	}

	stored := *event
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	s.events[key] = &stored

	return true, nil
}

func (s *MemoryProcessedEventsStore) UpdateStatus(
	ctx context.Context,
	platform models.Platform,
	eventKey string,
	status models.ProcessedEventStatus,
	outcome string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey(platform, eventKey)
	existing, ok := s.events[key]
	if !ok {
		return fmt.Errorf("processed event %s not found", key)
	}

	existing.Status = status
	existing.Outcome = outcome
	existing.UpdatedAt = time.Now()

	return nil
}

func (s *MemoryProcessedEventsStore) GetByKey(
	ctx context.Context,
	platform models.Platform,
	eventKey string,
) (mo.Option[*models.ProcessedEvent], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.events[storeKey(platform, eventKey)]
	if !ok {
		return mo.None[*models.ProcessedEvent](), nil
	}

	copied := *existing
	return mo.Some(&copied), nil
}

func (s *MemoryProcessedEventsStore) DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, event := range s.events {
		if event.CreatedAt.Before(olderThan) {
			delete(s.events, key)
			removed++
		}
	}

	return removed, nil
}

// TESTS_SetCreatedAt backdates a record's created_at for testing purposes
func (s *MemoryProcessedEventsStore) TESTS_SetCreatedAt(
	platform models.Platform,
	eventKey string,
	createdAt time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.events[storeKey(platform, eventKey)]
	if !ok {
		return fmt.Errorf("processed event %s not found", storeKey(platform, eventKey))
	}

	existing.CreatedAt = createdAt
	return nil
}
