package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/carebridge/carebridge/internal/auth"
	"github.com/carebridge/carebridge/internal/db"
	"github.com/carebridge/carebridge/internal/domain"
	"github.com/carebridge/carebridge/internal/repository"
)

// TxRunner executes a function inside one transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(db.DBTX) error) error
}

// Service builds spreadsheet reports from the event ledger and the audit
// trail: compliance reviews want the full lifecycle of one business
// transaction, operations wants the failed-projection backlog.
type Service struct {
	runner  TxRunner
	factory repository.Factory
}

// NewService creates the export service.
func NewService(runner TxRunner, factory repository.Factory) *Service {
	return &Service{runner: runner, factory: factory}
}

// CorrelationWorkbook renders every event and audit entry of one business
// transaction into a two-sheet workbook.
func (s *Service) CorrelationWorkbook(ctx context.Context, correlationID string) (*excelize.File, error) {
	// Correlations can span tenants, so the report is super-admin only.
	if err := auth.RequireSuperAdmin(ctx); err != nil {
		return nil, err
	}
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return nil, &domain.ValidationError{Field: "correlation_id", Message: "correlation id is required"}
	}

	var (
		events  []domain.Event
		entries []domain.AuditEntry
	)
	err := s.runner.RunInTx(ctx, func(tx db.DBTX) error {
		repos := s.factory(tx)
		var err error
		events, err = repos.Events.ListByCorrelation(ctx, correlationID)
		if err != nil {
			return err
		}
		entries, err = repos.Audit.ListByCorrelation(ctx, correlationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("correlation %s: %w", correlationID, domain.ErrNotFound)
	}

	f := excelize.NewFile()
	const eventsSheet = "Events"
	f.SetSheetName(f.GetSheetName(0), eventsSheet)

	headers := []string{"Created At", "Stream Type", "Stream ID", "Version", "Event Type", "Actor", "Trace ID", "Processed At", "Processing Error"}
	if err := writeRow(f, eventsSheet, 1, headers); err != nil {
		return nil, err
	}
	for i, evt := range events {
		row := []any{
			evt.CreatedAt.UTC().Format(time.RFC3339),
			evt.StreamType,
			evt.StreamID.String(),
			evt.StreamVersion,
			evt.EventType,
			evt.EventMetadata.UserID,
			evt.EventMetadata.TraceID,
			formatTimePtr(evt.ProcessedAt),
			stringOrEmpty(evt.ProcessingError),
		}
		if err := writeRowValues(f, eventsSheet, i+2, row); err != nil {
			return nil, err
		}
	}

	const auditSheet = "Audit Trail"
	if _, err := f.NewSheet(auditSheet); err != nil {
		return nil, fmt.Errorf("create audit sheet: %w", err)
	}
	auditHeaders := []string{"Created At", "Aggregate Type", "Aggregate ID", "Action", "Actor", "Event ID"}
	if err := writeRow(f, auditSheet, 1, auditHeaders); err != nil {
		return nil, err
	}
	for i, entry := range entries {
		row := []any{
			entry.CreatedAt.UTC().Format(time.RFC3339),
			entry.AggregateType,
			entry.AggregateID.String(),
			entry.Action,
			entry.ActorID,
			entry.EventID.String(),
		}
		if err := writeRowValues(f, auditSheet, i+2, row); err != nil {
			return nil, err
		}
	}

	return f, nil
}

// FailedEventsWorkbook renders the projection backlog: every event whose
// handler failed, oldest first.
func (s *Service) FailedEventsWorkbook(ctx context.Context, limit int) (*excelize.File, error) {
	// The backlog is cross-tenant by construction.
	if err := auth.RequireSuperAdmin(ctx); err != nil {
		return nil, err
	}
	var events []domain.Event
	err := s.runner.RunInTx(ctx, func(tx db.DBTX) error {
		var err error
		events, err = s.factory(tx).Events.ListFailed(ctx, limit)
		return err
	})
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	const sheet = "Failed Events"
	f.SetSheetName(f.GetSheetName(0), sheet)

	headers := []string{"Created At", "Event ID", "Stream Type", "Stream ID", "Version", "Event Type", "Correlation ID", "Processing Error"}
	if err := writeRow(f, sheet, 1, headers); err != nil {
		return nil, err
	}
	for i, evt := range events {
		row := []any{
			evt.CreatedAt.UTC().Format(time.RFC3339),
			evt.ID.String(),
			evt.StreamType,
			evt.StreamID.String(),
			evt.StreamVersion,
			evt.EventType,
			evt.EventMetadata.CorrelationID,
			stringOrEmpty(evt.ProcessingError),
		}
		if err := writeRowValues(f, sheet, i+2, row); err != nil {
			return nil, err
		}
	}

	return f, nil
}

func writeRow(f *excelize.File, sheet string, row int, values []string) error {
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return writeRowValues(f, sheet, row, cells)
}

func writeRowValues(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("resolve cell for row %d: %w", row, err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write row %d on %s: %w", row, sheet, err)
	}
	return nil
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
