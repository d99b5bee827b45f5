/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"context"
	"time"

	"ton-escrow-ledger-go/internal/escrow"
	"ton-escrow-ledger-go/internal/events"
	"ton-escrow-ledger-go/internal/reconciler"
	"ton-escrow-ledger-go/internal/store"

	"go.uber.org/zap"
)

// Indexer reports the health of the chain data source
type Indexer interface {
	Healthy(ctx context.Context) error
}

// LedgerService is the function surface used by bots and operator tools
type LedgerService struct {
	store      store.LedgerStore
	escrow     *escrow.Engine
	reconciler *reconciler.Reconciler
	emitter    events.Emitter
	indexer    Indexer
}

// ServiceConfig contains the dependencies of LedgerService. Indexer may be
// nil for tools that never talk to the chain.
type ServiceConfig struct {
	Store      store.LedgerStore
	Escrow     *escrow.Engine
	Reconciler *reconciler.Reconciler
	Emitter    events.Emitter
	Indexer    Indexer
}

func NewLedgerService(cfg ServiceConfig) *LedgerService {
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = events.NewLogEmitter()
	}
	return &LedgerService{
		store:      cfg.Store,
		escrow:     cfg.Escrow,
		reconciler: cfg.Reconciler,
		emitter:    emitter,
		indexer:    cfg.Indexer,
	}
}

// StatusResponse reports monitor progress and health
type StatusResponse struct {
	Checkpoint        uint64     `json:"checkpoint"`
	LastCheckAt       *time.Time `json:"last_check_at,omitempty"`
	LastSuccessAt     *time.Time `json:"last_success_at,omitempty"`
	ConsecutiveErrors int64      `json:"consecutive_errors"`
	ErrorCount        int64      `json:"error_count"`
	MonitorStatus     string     `json:"monitor_status"`
	ApiStatus         string     `json:"api_status"`
	DbStatus          string     `json:"db_status"`
	LastError         string     `json:"last_error,omitempty"`
}

func (s *LedgerService) Status(ctx context.Context) (*StatusResponse, error) {
	status, err := s.store.GetSystemStatus(ctx)
	if err != nil {
		zap.L().Error("Failed to get system status", zap.Error(err))
		return nil, toError("read system status", err)
	}

	return &StatusResponse{
		Checkpoint:        status.LastLogicalTime,
		LastCheckAt:       status.LastCheckAt,
		LastSuccessAt:     status.LastSuccessAt,
		ConsecutiveErrors: status.ConsecutiveErrors,
		ErrorCount:        status.ErrorCount,
		MonitorStatus:     status.MonitorStatus,
		ApiStatus:         status.ApiStatus,
		DbStatus:          status.DbStatus,
		LastError:         status.LastError,
	}, nil
}

func (s *LedgerService) HealthCheck(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		zap.L().Warn("Database health check failed", zap.Error(err))
		return &Error{Kind: KindSystem, Code: CodeUnavailable, Message: "database health check failed", Err: err}
	}

	if s.indexer != nil {
		if err := s.indexer.Healthy(ctx); err != nil {
			zap.L().Warn("Indexer health check failed", zap.Error(err))
			return &Error{Kind: KindSystem, Code: CodeUnavailable, Message: "indexer health check failed", Err: err}
		}
	}
	return nil
}
