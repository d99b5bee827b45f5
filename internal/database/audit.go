package database

import (
	"context"
	"database/sql"
	"encoding/json"

	"ton-escrow-ledger-go/internal/models"
	"ton-escrow-ledger-go/internal/store"

	"go.uber.org/zap"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// RecordAudit appends an audit entry outside any other transaction
func (s *Service) RecordAudit(ctx context.Context, event models.AuditEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	return insertAudit(ctx, s.db, event)
}

func insertAudit(ctx context.Context, e execer, event models.AuditEvent) error {
	_, err := e.ExecContext(ctx, queryInsertAudit,
		event.EventType, nullString(event.UserId), event.EntityType, event.EntityId,
		event.OldValues, event.NewValues, event.CorrelationId, event.CreatedAt)
	if err != nil {
		return store.NewStorageError("insert audit", err)
	}
	return nil
}

// GetAuditLog returns the audit trail of one entity, oldest first
func (s *Service) GetAuditLog(ctx context.Context, entityId string) ([]models.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, queryGetAuditLog, entityId)
	if err != nil {
		return nil, store.NewStorageError("get audit log", err)
	}
	defer closeRows(rows)

	var events []models.AuditEvent
	for rows.Next() {
		var ev models.AuditEvent
		if err := rows.Scan(&ev.Id, &ev.EventType, &ev.UserId, &ev.EntityType, &ev.EntityId,
			&ev.OldValues, &ev.NewValues, &ev.CorrelationId, &ev.CreatedAt); err != nil {
			return nil, store.NewStorageError("scan audit", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStorageError("iterate audit", err)
	}
	return events, nil
}

func jsonValues(v map[string]any) string {
	b, err := json.Marshal(v)
	if err != nil {
		zap.L().Warn("Failed to encode audit values", zap.Error(err))
		return ""
	}
	return string(b)
}
