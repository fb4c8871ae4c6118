package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/mo"

	"gptbridge/models"
)

type PostgresProcessedEventsRepository struct {
	db     *sqlx.DB
	schema string
}

func NewPostgresProcessedEventsRepository(db *sqlx.DB, schema string) *PostgresProcessedEventsRepository {
	return &PostgresProcessedEventsRepository{db: db, schema: schema}
}

// EnsureSchema creates the processed_events table when it does not exist
// yet, so a fresh database works without a separate migration step. The
// UNIQUE(platform, event_key) constraint is what makes InsertIfAbsent an
// atomic admission check.
func (r *PostgresProcessedEventsRepository) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.processed_events (
			id TEXT PRIMARY KEY,
			platform TEXT NOT NULL,
			event_key TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			thread_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			outcome TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (platform, event_key)
		)`, r.schema)

	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure processed_events schema: %w", err)
	}

	return nil
}

// InsertIfAbsent records the event unless a live row for the same
// platform+event_key already exists. A row older than expiredBefore is
// recycled in place, which is what re-admits a replay after the retention
// window. Returns true when the event was admitted. The whole decision is
// one upsert, so concurrent calls for the same key admit exactly one.
func (r *PostgresProcessedEventsRepository) InsertIfAbsent(
	ctx context.Context,
	event *models.ProcessedEvent,
	expiredBefore time.Time,
) (bool, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s.processed_events (id, platform, event_key, channel_id, thread_id, status, outcome, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, '', NOW(), NOW())
		ON CONFLICT (platform, event_key) DO UPDATE
		SET id = EXCLUDED.id,
		    channel_id = EXCLUDED.channel_id,
		    thread_id = EXCLUDED.thread_id,
		    status = EXCLUDED.status,
		    outcome = '',
		    created_at = NOW(),
		    updated_at = NOW()
		WHERE processed_events.created_at < $7`, r.schema)

	result, err := r.db.ExecContext(ctx, query,
		event.ID, event.Platform, event.EventKey, event.ChannelID, event.ThreadID, event.Status, expiredBefore)
	if err != nil {
		return false, fmt.Errorf("failed to insert processed event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

// UpdateStatus sets the terminal status and outcome for an admitted event
func (r *PostgresProcessedEventsRepository) UpdateStatus(
	ctx context.Context,
	platform models.Platform,
	eventKey string,
	status models.ProcessedEventStatus,
	outcome string,
) error {
	query := fmt.Sprintf(`
		UPDATE %s.processed_events
		SET status = $3, outcome = $4, updated_at = NOW()
		WHERE platform = $1 AND event_key = $2`, r.schema)

	result, err := r.db.ExecContext(ctx, query, platform, eventKey, status, outcome)
	if err != nil {
		return fmt.Errorf("failed to update processed event status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("processed event %s/%s not found", platform, eventKey)
	}

	return nil
}

// GetByKey fetches the record for a platform+event_key, if one exists
func (r *PostgresProcessedEventsRepository) GetByKey(
	ctx context.Context,
	platform models.Platform,
	eventKey string,
) (mo.Option[*models.ProcessedEvent], error) {
	query := fmt.Sprintf(`
		SELECT id, platform, event_key, channel_id, thread_id, status, outcome, created_at, updated_at
		FROM %s.processed_events
		WHERE platform = $1 AND event_key = $2`, r.schema)

	event := &models.ProcessedEvent{}
	err := r.db.GetContext(ctx, event, query, platform, eventKey)
	if err != nil {
		if err == sql.ErrNoRows {
			return mo.None[*models.ProcessedEvent](), nil
		}
		return mo.None[*models.ProcessedEvent](), fmt.Errorf("failed to get processed event: %w", err)
	}

	return mo.Some(event), nil
}

// DeleteExpired removes rows older than the cutoff and returns how many
// were removed
func (r *PostgresProcessedEventsRepository) DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s.processed_events
		WHERE created_at < $1`, r.schema)

	result, err := r.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired processed events: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// TESTS_UpdateProcessedEventCreatedAt backdates a row's created_at for testing purposes
func (r *PostgresProcessedEventsRepository) TESTS_UpdateProcessedEventCreatedAt(
	ctx context.Context,
	platform models.Platform,
	eventKey string,
	createdAt time.Time,
) error {
	query := fmt.Sprintf(`
		UPDATE %s.processed_events
		SET created_at = $3
		WHERE platform = $1 AND event_key = $2`, r.schema)

	_, err := r.db.ExecContext(ctx, query, platform, eventKey, createdAt)
	if err != nil {
		return fmt.Errorf("failed to update processed event created_at: %w", err)
	}

	return nil
}
