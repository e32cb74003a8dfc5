package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/carebridge/carebridge/internal/db"
	"github.com/carebridge/carebridge/internal/domain"
)

const uniqueViolation = "23505"

// eventRepository implements EventRepository over Postgres. The unique
// constraint on (stream_id, stream_type, stream_version) serializes
// concurrent appends to the same stream; the losing writer gets
// domain.ErrConcurrencyConflict and recomputes.
type eventRepository struct {
	dbtx db.DBTX
}

// NewEventRepository creates the Postgres event store.
func NewEventRepository(dbtx db.DBTX) EventRepository {
	return &eventRepository{dbtx: dbtx}
}

const eventColumns = "id, stream_id, stream_type, stream_version, event_type, event_data, event_metadata, created_at, processed_at, processing_error"

// Append inserts the event with stream_version = max(existing) + 1, computed
// and inserted in a single statement so the version race is converted into a
// detectable unique violation.
func (r *eventRepository) Append(ctx context.Context, event domain.Event) (domain.Event, error) {
	if err := event.Validate(); err != nil {
		return domain.Event{}, err
	}

	dataJSON, err := json.Marshal(event.EventData)
	if err != nil {
		return domain.Event{}, fmt.Errorf("failed to marshal event data: %w", err)
	}
	metaJSON, err := json.Marshal(event.EventMetadata)
	if err != nil {
		return domain.Event{}, fmt.Errorf("failed to marshal event metadata: %w", err)
	}

	row := r.dbtx.QueryRow(ctx, `
		INSERT INTO events (id, stream_id, stream_type, stream_version, event_type, event_data, event_metadata, created_at)
		VALUES ($1, $2, $3,
			(SELECT COALESCE(MAX(stream_version), 0) + 1 FROM events WHERE stream_id = $2 AND stream_type = $3),
			$4, $5, $6, $7)
		RETURNING stream_version`,
		event.ID, event.StreamID, event.StreamType, event.EventType, dataJSON, metaJSON, event.CreatedAt,
	)
	if err := row.Scan(&event.StreamVersion); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.Event{}, fmt.Errorf("append event %s/%s: %w", event.StreamType, event.StreamID, domain.ErrConcurrencyConflict)
		}
		return domain.Event{}, fmt.Errorf("failed to append event: %w", err)
	}

	return event, nil
}

// GetByID retrieves a single event.
func (r *eventRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Event, error) {
	row := r.dbtx.QueryRow(ctx,
		"SELECT "+eventColumns+" FROM events WHERE id = $1", id)
	return scanEvent(row)
}

// ListByStream returns a stream's events ordered by version ascending.
func (r *eventRepository) ListByStream(ctx context.Context, streamID uuid.UUID, streamType string) ([]domain.Event, error) {
	rows, err := r.dbtx.Query(ctx,
		"SELECT "+eventColumns+" FROM events WHERE stream_id = $1 AND stream_type = $2 ORDER BY stream_version ASC",
		streamID, streamType)
	if err != nil {
		return nil, fmt.Errorf("failed to list events by stream: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListByCorrelation returns the full cross-aggregate lifecycle of one
// business transaction, ordered by creation time.
func (r *eventRepository) ListByCorrelation(ctx context.Context, correlationID string) ([]domain.Event, error) {
	rows, err := r.dbtx.Query(ctx,
		"SELECT "+eventColumns+" FROM events WHERE event_metadata->>'correlation_id' = $1 ORDER BY created_at ASC, stream_version ASC",
		correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events by correlation: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListFailed returns events whose projection failed. Monitoring this set is
// an operational requirement: projection failures never surface to the
// original emit caller.
func (r *eventRepository) ListFailed(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.dbtx.Query(ctx,
		"SELECT "+eventColumns+" FROM events WHERE processing_error IS NOT NULL ORDER BY created_at ASC LIMIT $1",
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// MarkProcessed records a successful dispatch.
func (r *eventRepository) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.dbtx.Exec(ctx,
		"UPDATE events SET processed_at = $2, processing_error = NULL WHERE id = $1", id, at)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkFailed captures a projection failure on the event row without
// touching the appended fact itself.
func (r *eventRepository) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	tag, err := r.dbtx.Exec(ctx,
		"UPDATE events SET processing_error = $2 WHERE id = $1", id, message)
	if err != nil {
		return fmt.Errorf("failed to mark event failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ClearProcessing resets the bookkeeping fields ahead of an administrative
// retry.
func (r *eventRepository) ClearProcessing(ctx context.Context, id uuid.UUID) error {
	tag, err := r.dbtx.Exec(ctx,
		"UPDATE events SET processed_at = NULL, processing_error = NULL WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to clear event processing state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanEvent(row pgx.Row) (domain.Event, error) {
	var (
		evt      domain.Event
		dataJSON []byte
		metaJSON []byte
	)
	err := row.Scan(
		&evt.ID, &evt.StreamID, &evt.StreamType, &evt.StreamVersion, &evt.EventType,
		&dataJSON, &metaJSON, &evt.CreatedAt, &evt.ProcessedAt, &evt.ProcessingError,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Event{}, domain.ErrNotFound
		}
		return domain.Event{}, fmt.Errorf("failed to scan event: %w", err)
	}
	if err := json.Unmarshal(dataJSON, &evt.EventData); err != nil {
		return domain.Event{}, fmt.Errorf("failed to decode event data for %s: %w", evt.ID, err)
	}
	if err := json.Unmarshal(metaJSON, &evt.EventMetadata); err != nil {
		return domain.Event{}, fmt.Errorf("failed to decode event metadata for %s: %w", evt.ID, err)
	}
	return evt, nil
}

func scanEvents(rows pgx.Rows) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}
