package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ton-escrow-ledger-go/internal/models"
	"ton-escrow-ledger-go/internal/store"

	"go.uber.org/zap"
)

const queryHasDepositCredit = `
	SELECT 1 FROM journal_entries
	WHERE reference = ? AND entry_type = 'deposit' AND account_type = 'user_balance' AND account_id = ?
	LIMIT 1`

func (s *Service) GetBalance(ctx context.Context, userId string) (*models.Balance, error) {
	balance, err := s.subledger.GetBalance(ctx, s.db, userId)
	if err != nil {
		return nil, store.NewStorageError("get balance", err)
	}
	return balance, nil
}

// ApplyDepositToBalance credits a deposit outside RecordDeposit. The credit is
// keyed by txRef; applying the same reference twice returns
// ErrDuplicateTransaction.
func (s *Service) ApplyDepositToBalance(ctx context.Context, userId string, amountNano int64, txRef string) (*models.Balance, error) {
	if txRef == "" {
		return nil, fmt.Errorf("transaction reference is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, store.NewStorageError("begin apply deposit", err)
	}
	defer rollback(tx)

	var seen int
	err = tx.QueryRowContext(ctx, queryHasDepositCredit, txRef, userId).Scan(&seen)
	if err == nil {
		zap.L().Warn("Deposit already credited, skipping",
			zap.String("user_id", userId),
			zap.String("tx_ref", txRef))
		return nil, fmt.Errorf("%w: %s already credited", store.ErrDuplicateTransaction, txRef)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, store.NewStorageError("check deposit credit", err)
	}

	now := s.now()
	if err := s.subledger.credit(ctx, tx, balanceMovement{
		UserId:       userId,
		AmountNano:   amountNano,
		EntryType:    models.EntryDeposit,
		Reference:    txRef,
		CountDeposit: true,
		At:           now,
	}); err != nil {
		return nil, store.NewStorageError("apply deposit", err)
	}

	balance, err := s.subledger.GetBalance(ctx, tx, userId)
	if err != nil {
		return nil, store.NewStorageError("read balance", err)
	}

	if err := insertAudit(ctx, tx, models.AuditEvent{
		EventType:  "balance_credited",
		UserId:     userId,
		EntityType: "balance",
		EntityId:   userId,
		NewValues:  jsonValues(map[string]any{"amount": amountNano, "reference": txRef}),
		CreatedAt:  now,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, store.NewStorageError("commit apply deposit", err)
	}
	return balance, nil
}

func (s *Service) ReconcileUserBalance(ctx context.Context, userId string) error {
	return s.subledger.ReconcileBalance(ctx, userId)
}
