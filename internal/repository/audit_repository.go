package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carebridge/carebridge/internal/db"
	"github.com/carebridge/carebridge/internal/domain"
)

// auditRepository implements AuditRepository over Postgres. Audit rows are
// insert-only and carry no tenant path of their own; they inherit the
// authorization decision of the handler that wrote them.
type auditRepository struct {
	dbtx db.DBTX
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(dbtx db.DBTX) AuditRepository {
	return &auditRepository{dbtx: dbtx}
}

const auditColumns = "id, event_id, aggregate_type, aggregate_id, action, actor_id, correlation_id, detail, created_at"

// Record appends one audit entry.
func (r *auditRepository) Record(ctx context.Context, entry domain.AuditEntry) error {
	detailJSON, err := marshalMetadata(entry.Detail)
	if err != nil {
		return err
	}
	_, err = r.dbtx.Exec(ctx, `
		INSERT INTO audit_log (id, event_id, aggregate_type, aggregate_id, action, actor_id, correlation_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT DO NOTHING`,
		entry.ID, entry.EventID, entry.AggregateType, entry.AggregateID, entry.Action,
		entry.ActorID, entry.CorrelationID, detailJSON, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// ListByCorrelation returns the audit trail of one business transaction.
func (r *auditRepository) ListByCorrelation(ctx context.Context, correlationID string) ([]domain.AuditEntry, error) {
	rows, err := r.dbtx.Query(ctx,
		"SELECT "+auditColumns+" FROM audit_log WHERE correlation_id = $1 ORDER BY created_at ASC",
		correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries by correlation: %w", err)
	}
	defer rows.Close()
	return scanAuditEntries(rows)
}

// ListByAggregate returns the audit trail of one aggregate.
func (r *auditRepository) ListByAggregate(ctx context.Context, aggregateID uuid.UUID) ([]domain.AuditEntry, error) {
	rows, err := r.dbtx.Query(ctx,
		"SELECT "+auditColumns+" FROM audit_log WHERE aggregate_id = $1 ORDER BY created_at ASC",
		aggregateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries by aggregate: %w", err)
	}
	defer rows.Close()
	return scanAuditEntries(rows)
}

func scanAuditEntries(rows pgx.Rows) ([]domain.AuditEntry, error) {
	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			entry      domain.AuditEntry
			detailJSON []byte
		)
		err := rows.Scan(
			&entry.ID, &entry.EventID, &entry.AggregateType, &entry.AggregateID, &entry.Action,
			&entry.ActorID, &entry.CorrelationID, &detailJSON, &entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if err := unmarshalMetadata(detailJSON, &entry.Detail); err != nil {
			return nil, fmt.Errorf("failed to decode audit detail for %s: %w", entry.ID, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}
