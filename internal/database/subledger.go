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

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	accountUserBalance     = "user_balance"
	accountSystemLiability = "system_liability"
)

// SubledgerService handles balance rows and their journal
type SubledgerService struct {
	db *sql.DB
}

func NewSubledgerService(db *sql.DB) *SubledgerService {
	return &SubledgerService{
		db: db,
	}
}

func (s *SubledgerService) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSubledger)
	return err
}

// balanceMovement is one credit or debit applied inside a caller's transaction
type balanceMovement struct {
	UserId       string
	AmountNano   int64
	EntryType    string
	Reference    string
	CountDeposit bool
	At           time.Time
}

func (s *SubledgerService) ensureBalance(ctx context.Context, tx *sql.Tx, userId string, at time.Time) error {
	if _, err := tx.ExecContext(ctx, queryInsertBalance, userId, at); err != nil {
		return fmt.Errorf("failed to create balance row: %w", err)
	}
	return nil
}

// credit increments the balance with a single SQL-side update so concurrent
// credits for one user never lose an update.
func (s *SubledgerService) credit(ctx context.Context, tx *sql.Tx, m balanceMovement) error {
	if m.AmountNano <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", m.AmountNano)
	}

	depositInc := 0
	var depositAt sql.NullTime
	if m.CountDeposit {
		depositInc = 1
		depositAt = sql.NullTime{Time: m.At, Valid: true}
	}

	result, err := tx.ExecContext(ctx, queryCreditBalance, m.AmountNano, depositInc, depositAt, m.At, m.UserId)
	if err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: no balance row for %s", store.ErrUserNotFound, m.UserId)
	}

	// User balance increases (debit), system owes the user (credit)
	return s.addJournalEntries(ctx, tx, m, m.AmountNano, 0)
}

// debit decrements the balance, refusing to go negative.
func (s *SubledgerService) debit(ctx context.Context, tx *sql.Tx, m balanceMovement) error {
	if m.AmountNano <= 0 {
		return fmt.Errorf("debit amount must be positive, got %d", m.AmountNano)
	}

	result, err := tx.ExecContext(ctx, queryDebitBalance, m.AmountNano, m.At, m.UserId)
	if err != nil {
		return fmt.Errorf("failed to debit balance: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM user_balances WHERE user_id = ?`, m.UserId).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: no balance row for %s", store.ErrUserNotFound, m.UserId)
		}
		return fmt.Errorf("%w: cannot debit %d from %s", store.ErrInsufficientBalance, m.AmountNano, m.UserId)
	}

	return s.addJournalEntries(ctx, tx, m, 0, m.AmountNano)
}

// addJournalEntries creates the two sides of a balance movement
func (s *SubledgerService) addJournalEntries(ctx context.Context, tx *sql.Tx, m balanceMovement, userDebit, userCredit int64) error {
	entries := []struct {
		accountType string
		accountId   string
		debit       int64
		credit      int64
	}{
		{accountUserBalance, m.UserId, userDebit, userCredit},
		{accountSystemLiability, "ton_" + m.EntryType, userCredit, userDebit},
	}

	for _, entry := range entries {
		_, err := tx.ExecContext(ctx, queryInsertJournalEntry,
			uuid.New().String(), m.Reference, m.EntryType, entry.accountType, entry.accountId, entry.debit, entry.credit, m.At)
		if err != nil {
			return fmt.Errorf("failed to add journal entry: %w", err)
		}
	}
	return nil
}

// GetBalance returns the balance row for a user (O(1) lookup)
func (s *SubledgerService) GetBalance(ctx context.Context, q queryer, userId string) (*models.Balance, error) {
	zap.L().Debug("Getting balance", zap.String("user_id", userId))

	balance, err := scanBalance(q.QueryRowContext(ctx, queryGetBalance, userId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrUserNotFound, userId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// ReconcileBalance verifies the balance row against itself and the journal
func (s *SubledgerService) ReconcileBalance(ctx context.Context, userId string) error {
	zap.L().Info("Reconciling balance", zap.String("user_id", userId))

	balance, err := s.GetBalance(ctx, s.db, userId)
	if err != nil {
		return err
	}

	if !balance.Consistent() {
		return fmt.Errorf("balance invariant violated for %s: current %d != deposited %d - withdrawn %d - locked %d",
			userId, balance.CurrentBalance, balance.TotalDeposited, balance.TotalWithdrawn, balance.LockedInEscrow)
	}

	var debits, credits int64
	if err := s.db.QueryRowContext(ctx, queryJournalTotals, userId).Scan(&debits, &credits); err != nil {
		return fmt.Errorf("failed to sum journal entries: %w", err)
	}

	if debits != balance.TotalDeposited || credits != balance.TotalWithdrawn {
		zap.L().Error("Balance reconciliation failed",
			zap.String("user_id", userId),
			zap.Int64("total_deposited", balance.TotalDeposited),
			zap.Int64("journal_debits", debits),
			zap.Int64("total_withdrawn", balance.TotalWithdrawn),
			zap.Int64("journal_credits", credits))
		return fmt.Errorf("balance mismatch for %s: deposited %d vs journal %d, withdrawn %d vs journal %d",
			userId, balance.TotalDeposited, debits, balance.TotalWithdrawn, credits)
	}

	var deposits int64
	if err := s.db.QueryRowContext(ctx, queryCountCreditedDeposits, userId).Scan(&deposits); err != nil {
		return fmt.Errorf("failed to count deposits: %w", err)
	}
	if deposits != balance.DepositCount {
		return fmt.Errorf("deposit count mismatch for %s: counter %d vs stored %d", userId, balance.DepositCount, deposits)
	}

	zap.L().Info("Balance reconciliation successful",
		zap.String("user_id", userId),
		zap.String("balance", balance.Current().String()))
	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBalance(row rowScanner) (*models.Balance, error) {
	var b models.Balance
	var lastDeposit, lastWithdrawal sql.NullTime
	err := row.Scan(&b.UserId, &b.CurrentBalance, &b.TotalDeposited, &b.TotalWithdrawn, &b.LockedInEscrow,
		&b.DepositCount, &b.WithdrawalCount, &lastDeposit, &lastWithdrawal, &b.Version, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.LastDepositAt = timePtr(lastDeposit)
	b.LastWithdrawalAt = timePtr(lastWithdrawal)
	return &b, nil
}
