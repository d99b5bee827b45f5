package database

import (
	"context"
	"database/sql"

	"ton-escrow-ledger-go/internal/models"
	"ton-escrow-ledger-go/internal/store"
)

// GetCheckpoint returns the highest logical time durably processed
func (s *Service) GetCheckpoint(ctx context.Context) (uint64, error) {
	var lt int64
	if err := s.db.QueryRowContext(ctx, queryGetCheckpoint).Scan(&lt); err != nil {
		return 0, store.NewStorageError("get checkpoint", err)
	}
	return uint64(lt), nil
}

// AdvanceCheckpoint moves the checkpoint forward; lower values are ignored
func (s *Service) AdvanceCheckpoint(ctx context.Context, lt uint64) error {
	if _, err := s.db.ExecContext(ctx, queryAdvanceCheckpoint, int64(lt), s.now()); err != nil {
		return store.NewStorageError("advance checkpoint", err)
	}
	return nil
}

func (s *Service) GetSystemStatus(ctx context.Context) (*models.SystemStatus, error) {
	var st models.SystemStatus
	var lt int64
	var lastCheck, lastSuccess sql.NullTime
	var updatedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, queryGetSystemStatus).Scan(&lt, &lastCheck, &lastSuccess,
		&st.MonitorStatus, &st.ApiStatus, &st.DbStatus, &st.ErrorCount, &st.ConsecutiveErrors, &st.LastError, &updatedAt)
	if err != nil {
		return nil, store.NewStorageError("get system status", err)
	}
	st.LastLogicalTime = uint64(lt)
	st.LastCheckAt = timePtr(lastCheck)
	st.LastSuccessAt = timePtr(lastSuccess)
	if updatedAt.Valid {
		st.UpdatedAt = updatedAt.Time
	}
	return &st, nil
}

// UpdatePollStatus records the outcome of one poll cycle
func (s *Service) UpdatePollStatus(ctx context.Context, params store.PollStatusParams) error {
	checkedAt := params.CheckedAt
	if checkedAt.IsZero() {
		checkedAt = s.now()
	}

	var err error
	if params.Success {
		_, err = s.db.ExecContext(ctx, queryUpdatePollSuccess, checkedAt, params.MonitorStatus, params.ApiStatus)
	} else {
		_, err = s.db.ExecContext(ctx, queryUpdatePollFailure, checkedAt, params.MonitorStatus, params.ApiStatus,
			params.ConsecutiveErrors, params.LastError)
	}
	if err != nil {
		return store.NewStorageError("update poll status", err)
	}
	return nil
}

// UpdateMonitorStatus sets monitor_status alone, leaving the poll counters
// and timestamps as the last cycle wrote them.
func (s *Service) UpdateMonitorStatus(ctx context.Context, status string) error {
	if _, err := s.db.ExecContext(ctx, queryUpdateMonitorStatus, status, s.now()); err != nil {
		return store.NewStorageError("update monitor status", err)
	}
	return nil
}
