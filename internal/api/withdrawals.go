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

	"ton-escrow-ledger-go/internal/addressbook"
	"ton-escrow-ledger-go/internal/events"
	"ton-escrow-ledger-go/internal/models"
	"ton-escrow-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RecordWithdrawal debits a confirmed outbound transfer from a user's balance
func (s *LedgerService) RecordWithdrawal(ctx context.Context, userId, destination string, amount decimal.Decimal, hash string) (*BalanceResponse, error) {
	if userId == "" || hash == "" || amount.LessThanOrEqual(decimal.Zero) {
		zap.L().Error("Invalid withdrawal parameters",
			zap.String("user_id", userId),
			zap.String("amount", amount.String()),
			zap.String("hash", hash))
		return nil, invalidArgument("user_id, hash and a positive amount are required")
	}
	if _, err := addressbook.Parse(destination); err != nil {
		return nil, toError("record withdrawal", err)
	}

	amountNano, err := models.TonToNano(amount)
	if err != nil {
		return nil, invalidArgument("%v", err)
	}

	zap.L().Info("Recording withdrawal",
		zap.String("user_id", userId),
		zap.String("destination", destination),
		zap.String("amount", amount.String()),
		zap.String("hash", hash))

	tx, err := s.store.RecordWithdrawal(ctx, store.RecordWithdrawalParams{
		UserId:      userId,
		Hash:        hash,
		Destination: destination,
		AmountNano:  amountNano,
	})
	if err != nil {
		zap.L().Error("Withdrawal processing failed",
			zap.String("user_id", userId),
			zap.String("amount", amount.String()),
			zap.Error(err))
		return nil, toError("record withdrawal", err)
	}

	if err := s.emitter.Emit(ctx, events.NewDepositEvent(events.WithdrawalRecorded, *tx)); err != nil {
		zap.L().Warn("Failed to publish withdrawal event", zap.String("hash", hash), zap.Error(err))
	}

	return s.GetBalance(ctx, userId)
}
