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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ton-escrow-ledger-go/internal/models"
	"ton-escrow-ledger-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RecordDeposit stores an inbound transfer at most once and, when the sender
// is a known user, credits the balance. Transaction row, balance, journal,
// audit entry and checkpoint land in one SQL transaction.
func (s *Service) RecordDeposit(ctx context.Context, params store.RecordDepositParams) (*store.DepositResult, error) {
	if params.Hash == "" {
		return nil, fmt.Errorf("deposit hash is required")
	}
	if params.AmountNano <= 0 {
		return nil, fmt.Errorf("deposit amount must be positive, got %d", params.AmountNano)
	}

	zap.L().Debug("Recording deposit",
		zap.String("hash", params.Hash),
		zap.String("user_id", params.UserId),
		zap.Int64("amount_nano", params.AmountNano),
		zap.Uint64("lt", params.LogicalTime))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, store.NewStorageError("begin record deposit", err)
	}
	defer rollback(tx)

	now := s.now()
	status := models.TxStatusUnassigned
	if params.UserId != "" {
		status = models.TxStatusConfirmed
	}

	txId := uuid.New().String()
	result, err := tx.ExecContext(ctx, queryInsertTransactionIgnore,
		txId, params.Hash, nullString(params.UserId), models.TxTypeDeposit, params.Sender, params.Recipient,
		params.AmountNano, params.FeeNano, int64(params.LogicalTime), params.Utime, status, params.Comment, now, now)
	if err != nil {
		return nil, store.NewStorageError("insert deposit", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, store.NewStorageError("insert deposit", err)
	}

	if rowsAffected == 0 {
		existing, err := s.getTransactionByHash(ctx, tx, params.Hash)
		if err != nil {
			return nil, err
		}
		zap.L().Debug("Deposit already stored, skipping", zap.String("hash", params.Hash))
		return &store.DepositResult{Inserted: false, Transaction: existing}, nil
	}

	var balance *models.Balance
	eventType := "transaction_unassigned"
	if params.UserId != "" {
		eventType = "transaction_processed"
		err := s.subledger.credit(ctx, tx, balanceMovement{
			UserId:       params.UserId,
			AmountNano:   params.AmountNano,
			EntryType:    models.EntryDeposit,
			Reference:    params.Hash,
			CountDeposit: true,
			At:           now,
		})
		if err != nil {
			return nil, store.NewStorageError("credit deposit", err)
		}
		balance, err = s.subledger.GetBalance(ctx, tx, params.UserId)
		if err != nil {
			return nil, store.NewStorageError("read balance", err)
		}
	}

	if err := insertAudit(ctx, tx, models.AuditEvent{
		EventType:     eventType,
		UserId:        params.UserId,
		EntityType:    "transaction",
		EntityId:      params.Hash,
		NewValues:     jsonValues(map[string]any{"amount": params.AmountNano, "from": params.Sender, "lt": params.LogicalTime}),
		CorrelationId: txId,
		CreatedAt:     now,
	}); err != nil {
		return nil, err
	}

	if params.LogicalTime > 0 {
		if _, err := tx.ExecContext(ctx, queryAdvanceCheckpoint, int64(params.LogicalTime), now); err != nil {
			return nil, store.NewStorageError("advance checkpoint", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, store.NewStorageError("commit record deposit", err)
	}

	stored := &models.Transaction{
		Id:              txId,
		Hash:            params.Hash,
		UserId:          params.UserId,
		TransactionType: models.TxTypeDeposit,
		Sender:          params.Sender,
		Recipient:       params.Recipient,
		AmountNano:      params.AmountNano,
		FeeNano:         params.FeeNano,
		LogicalTime:     params.LogicalTime,
		Utime:           params.Utime,
		Status:          status,
		Comment:         params.Comment,
		CreatedAt:       now,
	}

	zap.L().Info("Deposit recorded",
		zap.String("hash", params.Hash),
		zap.String("user_id", params.UserId),
		zap.String("status", status),
		zap.String("amount", stored.Amount().String()))

	return &store.DepositResult{Inserted: true, Transaction: stored, Balance: balance}, nil
}

// AssignTransaction attaches an unassigned deposit to a user and credits it.
// A deposit can be assigned once; later calls return ErrDuplicateTransaction.
func (s *Service) AssignTransaction(ctx context.Context, hash, userId string) (*models.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, store.NewStorageError("begin assign transaction", err)
	}
	defer rollback(tx)

	current, err := s.getTransactionByHash(ctx, tx, hash)
	if err != nil {
		return nil, err
	}

	now := s.now()
	result, err := tx.ExecContext(ctx, queryAssignTransaction, userId, now, hash)
	if err != nil {
		return nil, store.NewStorageError("assign transaction", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, store.NewStorageError("assign transaction", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s is already assigned", store.ErrDuplicateTransaction, hash)
	}

	err = s.subledger.credit(ctx, tx, balanceMovement{
		UserId:       userId,
		AmountNano:   current.AmountNano,
		EntryType:    models.EntryDeposit,
		Reference:    hash,
		CountDeposit: true,
		At:           now,
	})
	if err != nil {
		return nil, store.NewStorageError("credit assigned deposit", err)
	}

	if err := insertAudit(ctx, tx, models.AuditEvent{
		EventType:  "transaction_assigned",
		UserId:     userId,
		EntityType: "transaction",
		EntityId:   hash,
		OldValues:  jsonValues(map[string]any{"status": current.Status}),
		NewValues:  jsonValues(map[string]any{"status": models.TxStatusConfirmed, "user_id": userId}),
		CreatedAt:  now,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, store.NewStorageError("commit assign transaction", err)
	}

	current.UserId = userId
	current.Status = models.TxStatusConfirmed
	zap.L().Info("Unassigned deposit credited",
		zap.String("hash", hash),
		zap.String("user_id", userId),
		zap.String("amount", current.Amount().String()))
	return current, nil
}

// RecordWithdrawal stores a confirmed withdrawal and debits the balance.
func (s *Service) RecordWithdrawal(ctx context.Context, params store.RecordWithdrawalParams) (*models.Transaction, error) {
	if params.Hash == "" {
		return nil, fmt.Errorf("withdrawal hash is required")
	}
	if params.AmountNano <= 0 {
		return nil, fmt.Errorf("withdrawal amount must be positive, got %d", params.AmountNano)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, store.NewStorageError("begin record withdrawal", err)
	}
	defer rollback(tx)

	now := s.now()
	txId := uuid.New().String()
	result, err := tx.ExecContext(ctx, queryInsertTransactionIgnore,
		txId, params.Hash, params.UserId, models.TxTypeWithdrawal, "", params.Destination,
		params.AmountNano, params.FeeNano, 0, now.Unix(), models.TxStatusConfirmed, "", now, now)
	if err != nil {
		return nil, store.NewStorageError("insert withdrawal", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, store.NewStorageError("insert withdrawal", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("%w: withdrawal %s already recorded", store.ErrDuplicateTransaction, params.Hash)
	}

	err = s.subledger.debit(ctx, tx, balanceMovement{
		UserId:     params.UserId,
		AmountNano: params.AmountNano,
		EntryType:  models.EntryWithdrawal,
		Reference:  params.Hash,
		At:         now,
	})
	if err != nil {
		return nil, store.NewStorageError("debit withdrawal", err)
	}

	if err := insertAudit(ctx, tx, models.AuditEvent{
		EventType:  "withdrawal_recorded",
		UserId:     params.UserId,
		EntityType: "transaction",
		EntityId:   params.Hash,
		NewValues:  jsonValues(map[string]any{"amount": params.AmountNano, "to": params.Destination}),
		CreatedAt:  now,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, store.NewStorageError("commit record withdrawal", err)
	}

	zap.L().Info("Withdrawal recorded",
		zap.String("hash", params.Hash),
		zap.String("user_id", params.UserId),
		zap.String("amount", models.NanoToTon(params.AmountNano).String()))

	return &models.Transaction{
		Id:              txId,
		Hash:            params.Hash,
		UserId:          params.UserId,
		TransactionType: models.TxTypeWithdrawal,
		Recipient:       params.Destination,
		AmountNano:      params.AmountNano,
		FeeNano:         params.FeeNano,
		Utime:           now.Unix(),
		Status:          models.TxStatusConfirmed,
		CreatedAt:       now,
	}, nil
}

func (s *Service) GetTransactionByHash(ctx context.Context, hash string) (*models.Transaction, error) {
	return s.getTransactionByHash(ctx, s.db, hash)
}

func (s *Service) getTransactionByHash(ctx context.Context, q queryer, hash string) (*models.Transaction, error) {
	t, err := scanTransaction(q.QueryRowContext(ctx, queryGetTransactionByHash, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrTransactionNotFound, hash)
	}
	if err != nil {
		return nil, store.NewStorageError("get transaction", err)
	}
	return t, nil
}

// GetTransactionHistory returns paginated transaction history for a user
func (s *Service) GetTransactionHistory(ctx context.Context, userId string, limit, offset int) ([]models.Transaction, error) {
	zap.L().Debug("Getting transaction history",
		zap.String("user_id", userId),
		zap.Int("limit", limit),
		zap.Int("offset", offset))

	rows, err := s.db.QueryContext(ctx, queryGetTransactionHistory, userId, limit, offset)
	if err != nil {
		return nil, store.NewStorageError("get transaction history", err)
	}
	return collectTransactions(rows)
}

// GetUnassignedTransactions lists deposits awaiting manual reconciliation
func (s *Service) GetUnassignedTransactions(ctx context.Context, limit int) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, queryGetUnassignedTransactions, limit)
	if err != nil {
		return nil, store.NewStorageError("get unassigned transactions", err)
	}
	return collectTransactions(rows)
}

func collectTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	defer closeRows(rows)

	var transactions []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, store.NewStorageError("scan transaction", err)
		}
		transactions = append(transactions, *t)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during transaction row iteration", zap.Error(err))
		return nil, store.NewStorageError("iterate transactions", err)
	}
	return transactions, nil
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var t models.Transaction
	var userId sql.NullString
	var lt int64
	err := row.Scan(&t.Id, &t.Hash, &userId, &t.TransactionType, &t.Sender, &t.Recipient,
		&t.AmountNano, &t.FeeNano, &lt, &t.Utime, &t.Status, &t.Comment, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.UserId = userId.String
	t.LogicalTime = uint64(lt)
	return &t, nil
}
