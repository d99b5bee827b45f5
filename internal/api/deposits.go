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

	"go.uber.org/zap"
)

// ListUnassignedDeposits returns deposits whose sender matched no user
func (s *LedgerService) ListUnassignedDeposits(ctx context.Context, limit int) ([]TransactionRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	transactions, err := s.store.GetUnassignedTransactions(ctx, limit)
	if err != nil {
		zap.L().Error("Failed to list unassigned deposits", zap.Error(err))
		return nil, toError("list unassigned deposits", err)
	}

	result := make([]TransactionRecord, len(transactions))
	for i, tx := range transactions {
		result[i] = TransactionRecord{
			Hash:        tx.Hash,
			Type:        tx.TransactionType,
			Amount:      tx.Amount(),
			Fee:         tx.Fee(),
			Counterpart: tx.Sender,
			Status:      tx.Status,
			CreatedAt:   tx.CreatedAt,
		}
	}
	return result, nil
}

// AssignDeposit credits an unassigned deposit to a user, as an operator
// would after matching it by hand.
func (s *LedgerService) AssignDeposit(ctx context.Context, hash, userId string) (*BalanceResponse, error) {
	if hash == "" || userId == "" {
		return nil, invalidArgument("hash and user_id are required")
	}

	tx, err := s.reconciler.AssignTransaction(ctx, hash, userId)
	if err != nil {
		zap.L().Warn("Failed to assign deposit",
			zap.String("hash", hash),
			zap.String("user_id", userId),
			zap.Error(err))
		return nil, toError("assign deposit", err)
	}

	zap.L().Info("Deposit assigned",
		zap.String("hash", tx.Hash),
		zap.String("user_id", userId),
		zap.String("amount", tx.Amount().String()))

	return s.GetBalance(ctx, userId)
}
