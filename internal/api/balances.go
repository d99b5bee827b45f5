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

	"ton-escrow-ledger-go/internal/addressbook"
	"ton-escrow-ledger-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BalanceResponse is a user's balance in TON
type BalanceResponse struct {
	UserId         string          `json:"user_id"`
	Balance        decimal.Decimal `json:"balance"`
	TotalDeposited decimal.Decimal `json:"total_deposited"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
	DepositCount   int64           `json:"deposit_count"`
}

// TransactionRecord is one entry of a user's history
type TransactionRecord struct {
	Hash        string          `json:"hash"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Fee         decimal.Decimal `json:"fee"`
	Counterpart string          `json:"counterpart"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

// GetBalance returns the current balance for a user
func (s *LedgerService) GetBalance(ctx context.Context, userId string) (*BalanceResponse, error) {
	if userId == "" {
		return nil, invalidArgument("user_id is required")
	}

	balance, err := s.store.GetBalance(ctx, userId)
	if err != nil {
		zap.L().Error("Failed to get user balance", zap.String("user_id", userId), zap.Error(err))
		return nil, toError("retrieve balance", err)
	}

	return toBalanceResponse(balance), nil
}

// GetBalanceByAddress resolves any encoding of a registered wallet to its
// owner's balance.
func (s *LedgerService) GetBalanceByAddress(ctx context.Context, address string) (*BalanceResponse, error) {
	keys, err := addressbook.LookupKeys(address)
	if err != nil {
		return nil, toError("resolve address", err)
	}

	user, err := s.store.FindUserByAnyAddress(ctx, keys...)
	if err != nil {
		zap.L().Error("Failed to resolve address", zap.String("address", address), zap.Error(err))
		return nil, toError("resolve address", err)
	}
	if user == nil {
		return nil, &Error{Kind: KindClient, Code: CodeNotFound, Message: "no user registered for address " + address}
	}

	return s.GetBalance(ctx, user.Id)
}

// GetTransactionHistory returns paginated transaction history for a user
func (s *LedgerService) GetTransactionHistory(ctx context.Context, userId string, limit, offset int) ([]TransactionRecord, error) {
	if userId == "" {
		return nil, invalidArgument("user_id is required")
	}

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	transactions, err := s.store.GetTransactionHistory(ctx, userId, limit, offset)
	if err != nil {
		zap.L().Error("Failed to get transaction history", zap.String("user_id", userId), zap.Error(err))
		return nil, toError("retrieve transaction history", err)
	}

	result := make([]TransactionRecord, len(transactions))
	for i, tx := range transactions {
		counterpart := tx.Sender
		if tx.TransactionType == models.TxTypeWithdrawal {
			counterpart = tx.Recipient
		}
		result[i] = TransactionRecord{
			Hash:        tx.Hash,
			Type:        tx.TransactionType,
			Amount:      tx.Amount(),
			Fee:         tx.Fee(),
			Counterpart: counterpart,
			Status:      tx.Status,
			CreatedAt:   tx.CreatedAt,
		}
	}

	return result, nil
}

func toBalanceResponse(b *models.Balance) *BalanceResponse {
	return &BalanceResponse{
		UserId:         b.UserId,
		Balance:        b.Current(),
		TotalDeposited: b.Deposited(),
		TotalWithdrawn: b.Withdrawn(),
		DepositCount:   b.DepositCount,
	}
}
