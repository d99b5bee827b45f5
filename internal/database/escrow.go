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
	"time"

	"ton-escrow-ledger-go/internal/models"
	"ton-escrow-ledger-go/internal/store"

	"go.uber.org/zap"
)

// CreateEscrow inserts a new escrow row after re-checking, inside the same
// transaction, that the listing is still active.
func (s *Service) CreateEscrow(ctx context.Context, escrow models.Escrow) (*models.Escrow, error) {
	if escrow.TransactionId == "" || escrow.ListingId == "" {
		return nil, fmt.Errorf("transaction id and listing id are required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, store.NewStorageError("begin create escrow", err)
	}
	defer rollback(tx)

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM listings WHERE listing_id = ?`, escrow.ListingId).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrListingNotFound, escrow.ListingId)
	}
	if err != nil {
		return nil, store.NewStorageError("check listing", err)
	}
	if status != models.ListingActive {
		return nil, fmt.Errorf("%w: %s is %s", store.ErrListingNotActive, escrow.ListingId, status)
	}

	escrow.TimeoutAt = dbTime(escrow.TimeoutAt)
	escrow.Version = 1
	_, err = tx.ExecContext(ctx, queryInsertEscrow,
		escrow.TransactionId, escrow.ListingId, escrow.BuyerId, escrow.SellerId, escrow.AmountNano,
		escrow.BuyerWallet, escrow.EscrowAddress, escrow.PaymentHash, string(escrow.Status),
		escrow.TimeoutAt, escrow.CreatedAt)
	if err != nil {
		return nil, store.NewStorageError("insert escrow", err)
	}

	if err := insertAudit(ctx, tx, models.AuditEvent{
		EventType:  "escrow_created",
		UserId:     escrow.BuyerId,
		EntityType: "escrow",
		EntityId:   escrow.TransactionId,
		NewValues:  jsonValues(map[string]any{"status": escrow.Status, "listing_id": escrow.ListingId, "amount": escrow.AmountNano}),
		CreatedAt:  escrow.CreatedAt,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, store.NewStorageError("commit create escrow", err)
	}

	zap.L().Info("Escrow created",
		zap.String("transaction_id", escrow.TransactionId),
		zap.String("listing_id", escrow.ListingId),
		zap.String("buyer_id", escrow.BuyerId),
		zap.String("seller_id", escrow.SellerId),
		zap.Time("timeout_at", escrow.TimeoutAt))

	return &escrow, nil
}

func (s *Service) GetEscrow(ctx context.Context, transactionId string) (*models.Escrow, error) {
	return s.getEscrow(ctx, s.db, transactionId)
}

func (s *Service) getEscrow(ctx context.Context, q queryer, transactionId string) (*models.Escrow, error) {
	e, err := scanEscrow(q.QueryRowContext(ctx, queryGetEscrow, transactionId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrEscrowNotFound, transactionId)
	}
	if err != nil {
		return nil, store.NewStorageError("get escrow", err)
	}
	return e, nil
}

// MutateEscrow runs fn against the current row and applies its mutation in
// one transaction: the escrow update (compare-and-swap on version), the
// listing sale and the balance credit either all land or none do.
func (s *Service) MutateEscrow(ctx context.Context, transactionId string, fn store.EscrowMutator) (*models.Escrow, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, store.NewStorageError("begin mutate escrow", err)
	}
	defer rollback(tx)

	current, err := s.getEscrow(ctx, tx, transactionId)
	if err != nil {
		return nil, err
	}

	mutation, err := fn(*current)
	if err != nil {
		return nil, err
	}
	if mutation == nil {
		return current, nil
	}

	next := mutation.Escrow
	result, err := tx.ExecContext(ctx, queryUpdateEscrow,
		next.PaymentHash, string(next.Status), next.BuyerConfirmed, next.SellerConfirmed,
		nullTime(next.PaymentConfirmedAt), nullTime(next.BuyerConfirmedAt), nullTime(next.SellerConfirmedAt),
		nullTime(next.CompletedAt), nullTime(next.RefundedAt),
		transactionId, current.Version)
	if err != nil {
		return nil, store.NewStorageError("update escrow", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, store.NewStorageError("update escrow", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("escrow %s update failed - %w", transactionId, store.ErrConcurrentModification)
	}
	next.Version = current.Version + 1

	now := s.now()
	if mutation.MarkListingSold {
		if err := markListingSold(ctx, tx, next.ListingId, now); err != nil {
			return nil, err
		}
	}

	if c := mutation.Credit; c != nil {
		if err := s.subledger.credit(ctx, tx, balanceMovement{
			UserId:     c.UserId,
			AmountNano: c.AmountNano,
			EntryType:  c.EntryType,
			Reference:  transactionId,
			At:         now,
		}); err != nil {
			return nil, store.NewStorageError("credit escrow funds", err)
		}
	}

	if mutation.AuditEvent != "" {
		if err := insertAudit(ctx, tx, models.AuditEvent{
			EventType:  mutation.AuditEvent,
			UserId:     next.BuyerId,
			EntityType: "escrow",
			EntityId:   transactionId,
			OldValues:  escrowAuditValues(current),
			NewValues:  escrowAuditValues(&next),
			CreatedAt:  now,
		}); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, store.NewStorageError("commit mutate escrow", err)
	}

	zap.L().Debug("Escrow mutated",
		zap.String("transaction_id", transactionId),
		zap.String("from", string(current.Status)),
		zap.String("to", string(next.Status)),
		zap.Int64("version", next.Version))

	return &next, nil
}

func markListingSold(ctx context.Context, tx *sql.Tx, listingId string, at time.Time) error {
	result, err := tx.ExecContext(ctx, queryMarkListingSold, at, listingId)
	if err != nil {
		return store.NewStorageError("mark listing sold", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return store.NewStorageError("mark listing sold", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s can no longer be sold", store.ErrListingNotActive, listingId)
	}
	return nil
}

// ListExpiredEscrows returns non-terminal escrows whose deadline is before
// now, ordered by (timeout_at, transaction_id) and starting after the cursor.
func (s *Service) ListExpiredEscrows(ctx context.Context, now time.Time, after store.EscrowCursor, limit int) ([]models.Escrow, error) {
	rows, err := s.db.QueryContext(ctx, queryListExpiredEscrows, dbTime(now), dbTime(after.TimeoutAt), after.TransactionId, limit)
	if err != nil {
		return nil, store.NewStorageError("list expired escrows", err)
	}
	defer closeRows(rows)

	var escrows []models.Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, store.NewStorageError("scan escrow", err)
		}
		escrows = append(escrows, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStorageError("iterate escrows", err)
	}
	return escrows, nil
}

func escrowAuditValues(e *models.Escrow) string {
	return jsonValues(map[string]any{
		"status":           e.Status,
		"buyer_confirmed":  e.BuyerConfirmed,
		"seller_confirmed": e.SellerConfirmed,
		"payment_hash":     e.PaymentHash,
	})
}

func scanEscrow(row rowScanner) (*models.Escrow, error) {
	var e models.Escrow
	var status string
	var paymentConfirmed, buyerConfirmed, sellerConfirmed, completed, refunded sql.NullTime
	err := row.Scan(&e.TransactionId, &e.ListingId, &e.BuyerId, &e.SellerId, &e.AmountNano, &e.BuyerWallet,
		&e.EscrowAddress, &e.PaymentHash, &status, &e.BuyerConfirmed, &e.SellerConfirmed, &e.TimeoutAt, &e.CreatedAt,
		&paymentConfirmed, &buyerConfirmed, &sellerConfirmed, &completed, &refunded, &e.Version)
	if err != nil {
		return nil, err
	}
	e.Status = models.EscrowStatus(status)
	e.PaymentConfirmedAt = timePtr(paymentConfirmed)
	e.BuyerConfirmedAt = timePtr(buyerConfirmed)
	e.SellerConfirmedAt = timePtr(sellerConfirmed)
	e.CompletedAt = timePtr(completed)
	e.RefundedAt = timePtr(refunded)
	return &e, nil
}
