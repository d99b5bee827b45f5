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

package reconciler

import (
	"context"
	"fmt"

	"ton-escrow-ledger-go/internal/addressbook"
	"ton-escrow-ledger-go/internal/events"
	"ton-escrow-ledger-go/internal/metrics"
	"ton-escrow-ledger-go/internal/models"
	"ton-escrow-ledger-go/internal/store"

	"go.uber.org/zap"
)

// Skip reasons
const (
	SkipNoSender  = "no_sender"
	SkipZeroValue = "non_positive_value"
)

// Outcome describes what Process did with one chain transaction
type Outcome struct {
	Stored        bool
	Duplicate     bool
	MatchedUserId string
	Skipped       string
	Transaction   *models.Transaction
	Balance       *models.Balance
}

// Reconciler turns inbound chain transfers into ledger credits
type Reconciler struct {
	store   store.LedgerStore
	emitter events.Emitter
}

func New(ledger store.LedgerStore, emitter events.Emitter) *Reconciler {
	if emitter == nil {
		emitter = events.NewLogEmitter()
	}
	return &Reconciler{
		store:   ledger,
		emitter: emitter,
	}
}

// TransactionHash returns the indexer hash or, when it is missing, an id
// derived from the transaction's position on chain.
func TransactionHash(tx models.ChainTransaction) string {
	if tx.Hash != "" {
		return tx.Hash
	}
	return fmt.Sprintf("derived:%d:%d", tx.Lt, tx.Utime)
}

// Process records one inbound transfer at most once. A sender matching a
// registered wallet in any encoding is credited; an unknown sender is stored
// unassigned. Transfers without a sender or value are skipped.
func (r *Reconciler) Process(ctx context.Context, tx models.ChainTransaction) (Outcome, error) {
	if addressbook.IsNone(tx.Sender) {
		metrics.Deposits.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return Outcome{Skipped: SkipNoSender}, nil
	}
	if tx.ValueNano <= 0 {
		metrics.Deposits.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return Outcome{Skipped: SkipZeroValue}, nil
	}

	hash := TransactionHash(tx)

	keys, err := addressbook.LookupKeys(tx.Sender)
	if err != nil {
		zap.L().Warn("Sender address is malformed, matching literally",
			zap.String("hash", hash),
			zap.String("sender", tx.Sender),
			zap.Error(err))
	}

	user, err := r.store.FindUserByAnyAddress(ctx, keys...)
	if err != nil {
		metrics.Deposits.WithLabelValues(metrics.OutcomeFailed).Inc()
		return Outcome{}, fmt.Errorf("failed to resolve sender %s: %w", tx.Sender, err)
	}

	params := store.RecordDepositParams{
		Hash:        hash,
		Sender:      tx.Sender,
		Recipient:   tx.Recipient,
		AmountNano:  tx.ValueNano,
		FeeNano:     tx.FeeNano,
		LogicalTime: tx.Lt,
		Utime:       tx.Utime,
		Comment:     tx.Comment,
	}
	if user != nil {
		params.UserId = user.Id
	}

	result, err := r.store.RecordDeposit(ctx, params)
	if err != nil {
		metrics.Deposits.WithLabelValues(metrics.OutcomeFailed).Inc()
		return Outcome{}, fmt.Errorf("failed to record deposit %s: %w", hash, err)
	}

	if !result.Inserted {
		metrics.Deposits.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		zap.L().Debug("Transaction already processed", zap.String("hash", hash))
		return Outcome{
			Duplicate:     true,
			MatchedUserId: result.Transaction.UserId,
			Transaction:   result.Transaction,
		}, nil
	}

	outcome := Outcome{
		Stored:      true,
		Transaction: result.Transaction,
		Balance:     result.Balance,
	}

	if user == nil {
		metrics.Deposits.WithLabelValues(metrics.OutcomeUnassigned).Inc()
		zap.L().Warn("Deposit from unknown sender stored for reconciliation",
			zap.String("hash", hash),
			zap.String("sender", tx.Sender),
			zap.String("amount", models.NanoToTon(tx.ValueNano).String()))
		r.emit(ctx, events.NewDepositEvent(events.DepositUnassigned, *result.Transaction))
		return outcome, nil
	}

	outcome.MatchedUserId = user.Id
	metrics.Deposits.WithLabelValues(metrics.OutcomeCredited).Inc()
	metrics.DepositedNano.Add(float64(tx.ValueNano))

	zap.L().Info("Deposit credited",
		zap.String("hash", hash),
		zap.String("user_id", user.Id),
		zap.String("external_id", user.ExternalId),
		zap.String("amount", models.NanoToTon(tx.ValueNano).String()),
		zap.String("fee", models.NanoToTon(tx.FeeNano).String()),
		zap.String("balance", result.Balance.Current().String()))

	r.emit(ctx, events.NewDepositEvent(events.DepositCredited, *result.Transaction))
	return outcome, nil
}

// AssignTransaction credits a previously unassigned deposit to a user
func (r *Reconciler) AssignTransaction(ctx context.Context, hash, userId string) (*models.Transaction, error) {
	if _, err := r.store.GetUserById(ctx, userId); err != nil {
		return nil, err
	}

	tx, err := r.store.AssignTransaction(ctx, hash, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to assign %s to %s: %w", hash, userId, err)
	}

	metrics.Deposits.WithLabelValues(metrics.OutcomeCredited).Inc()
	metrics.DepositedNano.Add(float64(tx.AmountNano))
	r.emit(ctx, events.NewDepositEvent(events.DepositAssigned, *tx))
	return tx, nil
}

func (r *Reconciler) emit(ctx context.Context, event events.Event) {
	if err := r.emitter.Emit(ctx, event); err != nil {
		zap.L().Warn("Failed to publish event",
			zap.String("type", event.Type),
			zap.String("key", event.Key),
			zap.Error(err))
	}
}
