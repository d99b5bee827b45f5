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

package escrow

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"ton-escrow-ledger-go/internal/addressbook"
	"ton-escrow-ledger-go/internal/events"
	"ton-escrow-ledger-go/internal/metrics"
	"ton-escrow-ledger-go/internal/models"
	"ton-escrow-ledger-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultTimeoutWindow = 72 * time.Hour
	maxAttempts          = 3
	reapBatchSize        = 100
)

// Engine drives escrow transactions through their lifecycle. Every
// transition is one read-modify-write in the store.
type Engine struct {
	store         store.LedgerStore
	emitter       events.Emitter
	timeoutWindow time.Duration
	reapBatch     int
	now           func() time.Time
}

func NewEngine(ledger store.LedgerStore, emitter events.Emitter, cfg models.EscrowConfig) *Engine {
	window := cfg.TimeoutWindow
	if window <= 0 {
		window = DefaultTimeoutWindow
	}
	if emitter == nil {
		emitter = events.NewLogEmitter()
	}
	return &Engine{
		store:         ledger,
		emitter:       emitter,
		timeoutWindow: window,
		reapBatch:     reapBatchSize,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Create opens an escrow for an active listing. The amount is the listing
// price and the deadline is now plus the timeout window.
func (e *Engine) Create(ctx context.Context, listingId, buyerId, buyerWallet string) (*models.Escrow, error) {
	if _, err := addressbook.Parse(buyerWallet); err != nil {
		return nil, fmt.Errorf("invalid buyer wallet: %w", err)
	}

	listing, err := e.store.GetListing(ctx, listingId)
	if err != nil {
		return nil, err
	}
	if listing.Status != models.ListingActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrListingNotActive, listingId, listing.Status)
	}

	if _, err := e.store.GetUserById(ctx, buyerId); err != nil {
		return nil, err
	}
	if buyerId == listing.SellerId {
		return nil, fmt.Errorf("%w: %s sells %s", ErrSelfPurchase, buyerId, listingId)
	}

	now := e.now()
	transactionId := uuid.New().String()
	created, err := e.store.CreateEscrow(ctx, models.Escrow{
		TransactionId: transactionId,
		ListingId:     listing.Id,
		BuyerId:       buyerId,
		SellerId:      listing.SellerId,
		AmountNano:    listing.PriceNano,
		BuyerWallet:   buyerWallet,
		EscrowAddress: escrowAddress(transactionId, buyerId),
		Status:        models.EscrowPendingPayment,
		TimeoutAt:     now.Add(e.timeoutWindow),
		CreatedAt:     now,
	})
	if err != nil {
		return nil, err
	}

	metrics.EscrowTransitions.WithLabelValues(string(created.Status)).Inc()
	e.emit(ctx, *created)
	return created, nil
}

// escrowAddress builds the public escrow identifier from the transaction id
// and a digest of the buyer id.
func escrowAddress(transactionId, buyerId string) string {
	sum := md5.Sum([]byte(buyerId))
	return fmt.Sprintf("ESCROW_%s_%s", transactionId[:8], hex.EncodeToString(sum[:])[:8])
}

func (e *Engine) Get(ctx context.Context, transactionId string) (*models.Escrow, error) {
	return e.store.GetEscrow(ctx, transactionId)
}

// ConfirmPayment records the buyer's on-chain payment
func (e *Engine) ConfirmPayment(ctx context.Context, transactionId, paymentHash string) (*models.Escrow, error) {
	return e.transition(ctx, transactionId, Event{Kind: EventConfirmPayment, PaymentHash: paymentHash})
}

// ConfirmTransfer sets one party's confirmation flag. The second flag
// completes the escrow: the listing is sold and the seller credited in the
// same store transaction.
func (e *Engine) ConfirmTransfer(ctx context.Context, transactionId, confirmerId string, role Role) (*models.Escrow, error) {
	return e.transition(ctx, transactionId, Event{Kind: EventConfirmTransfer, ConfirmerId: confirmerId, Role: role})
}

// TimeoutReap refunds an escrow whose deadline has passed
func (e *Engine) TimeoutReap(ctx context.Context, transactionId string) (*models.Escrow, error) {
	return e.transition(ctx, transactionId, Event{Kind: EventTimeout})
}

// ReapExpired refunds every expired escrow and returns how many were
// refunded. The scan pages past escrows whose refund fails, so a stuck
// escrow never hides later ones; those failures are joined into the error.
func (e *Engine) ReapExpired(ctx context.Context) (int, error) {
	now := e.now()
	cursor := store.EscrowCursor{}
	refunded, failed := 0, 0
	var errs []error

	for {
		expired, err := e.store.ListExpiredEscrows(ctx, now, cursor, e.reapBatch)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to list expired escrows: %w", err))
			break
		}

		for _, escrow := range expired {
			if _, err := e.TimeoutReap(ctx, escrow.TransactionId); err != nil {
				if errors.Is(err, ErrNotEligibleForRefund) {
					continue
				}
				failed++
				zap.L().Warn("Failed to refund expired escrow",
					zap.String("transaction_id", escrow.TransactionId),
					zap.Error(err))
				errs = append(errs, err)
				continue
			}
			refunded++
		}

		if len(expired) < e.reapBatch || ctx.Err() != nil {
			break
		}
		last := expired[len(expired)-1]
		cursor = store.EscrowCursor{TimeoutAt: last.TimeoutAt, TransactionId: last.TransactionId}
	}

	if refunded > 0 || failed > 0 {
		zap.L().Info("Expired escrows reaped",
			zap.Int("refunded", refunded),
			zap.Int("failed", failed))
	}
	return refunded, errors.Join(errs...)
}

func (e *Engine) transition(ctx context.Context, transactionId string, ev Event) (*models.Escrow, error) {
	for attempt := 1; ; attempt++ {
		var decision Decision
		updated, err := e.store.MutateEscrow(ctx, transactionId, func(current models.Escrow) (*store.EscrowMutation, error) {
			d, err := Apply(current, ev, e.now())
			if err != nil {
				return nil, err
			}
			decision = d
			if !d.Changed {
				return nil, nil
			}
			return &store.EscrowMutation{
				Escrow:          d.Escrow,
				MarkListingSold: d.MarkListingSold,
				Credit:          d.Credit,
				AuditEvent:      d.AuditEvent,
			}, nil
		})

		if errors.Is(err, store.ErrConcurrentModification) && attempt < maxAttempts {
			metrics.EscrowConflicts.Inc()
			zap.L().Debug("Escrow changed concurrently, retrying",
				zap.String("transaction_id", transactionId),
				zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			zap.L().Warn("Escrow transition rejected",
				zap.String("transaction_id", transactionId),
				zap.String("event", string(ev.Kind)),
				zap.String("role", string(ev.Role)),
				zap.Error(err))
			return nil, err
		}

		if decision.Transitioned {
			metrics.EscrowTransitions.WithLabelValues(string(updated.Status)).Inc()
			zap.L().Info("Escrow transitioned",
				zap.String("transaction_id", transactionId),
				zap.String("status", string(updated.Status)),
				zap.String("amount", updated.Amount().String()))
			e.emit(ctx, *updated)
		}
		return updated, nil
	}
}

func (e *Engine) emit(ctx context.Context, escrow models.Escrow) {
	event := events.NewEscrowEvent(escrow)
	if err := e.emitter.Emit(ctx, event); err != nil {
		zap.L().Warn("Failed to publish escrow event",
			zap.String("type", event.Type),
			zap.String("transaction_id", escrow.TransactionId),
			zap.Error(err))
	}
}
