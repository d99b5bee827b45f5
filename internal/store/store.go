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

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ton-escrow-ledger-go/internal/models"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrDuplicateTransaction   = errors.New("duplicate transaction")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrUserNotFound           = errors.New("user not found")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrListingNotFound        = errors.New("listing not found")
	ErrListingNotActive       = errors.New("listing is not active")
	ErrEscrowNotFound         = errors.New("escrow transaction not found")
	ErrInsufficientBalance    = errors.New("insufficient balance")
)

// StorageError wraps an I/O failure of the underlying store. Callers must not
// assume any part of the failed operation was applied.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err unless it is nil or already a domain sentinel.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) || isSentinel(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err is (or wraps) a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func isSentinel(err error) bool {
	for _, s := range []error{
		ErrDuplicateTransaction, ErrConcurrentModification, ErrUserNotFound,
		ErrTransactionNotFound, ErrListingNotFound, ErrListingNotActive,
		ErrEscrowNotFound, ErrInsufficientBalance,
	} {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

// CreateUserParams contains the parameters for registering a wallet owner.
type CreateUserParams struct {
	ExternalId       string
	WalletAddress    string
	CanonicalAddress string
	Variants         []string
}

// RecordDepositParams describes an inbound transfer to store. UserId is empty
// for deposits whose sender is not a known user.
type RecordDepositParams struct {
	Hash        string
	UserId      string
	Sender      string
	Recipient   string
	AmountNano  int64
	FeeNano     int64
	LogicalTime uint64
	Utime       int64
	Comment     string
}

// DepositResult reports the outcome of RecordDeposit.
type DepositResult struct {
	Inserted    bool
	Transaction *models.Transaction
	Balance     *models.Balance
}

// RecordWithdrawalParams describes a confirmed outbound withdrawal.
type RecordWithdrawalParams struct {
	UserId      string
	Hash        string
	Destination string
	AmountNano  int64
	FeeNano     int64
}

// PollStatusParams is written by the poller after each cycle.
type PollStatusParams struct {
	CheckedAt         time.Time
	Success           bool
	ConsecutiveErrors int
	MonitorStatus     string
	ApiStatus         string
	LastError         string
}

// EscrowCursor marks the last escrow seen by a paged expiry scan. The zero
// value starts from the beginning.
type EscrowCursor struct {
	TimeoutAt     time.Time
	TransactionId string
}

// CreateListingParams contains the parameters for offering a listing.
type CreateListingParams struct {
	ListingId string
	SellerId  string
	ChannelId string
	Title     string
	PriceNano int64
}

// BalanceCredit is a balance increase applied inside an escrow mutation.
type BalanceCredit struct {
	UserId     string
	AmountNano int64
	EntryType  string
}

// EscrowMutation is the effect of one escrow transition. Escrow is written
// with a compare-and-swap on the version read by the mutator.
type EscrowMutation struct {
	Escrow          models.Escrow
	MarkListingSold bool
	Credit          *BalanceCredit
	AuditEvent      string
}

// EscrowMutator decides the mutation for the current row. Returning a nil
// mutation and nil error leaves the row untouched.
type EscrowMutator func(current models.Escrow) (*EscrowMutation, error)

// LedgerStore defines the contract the ledger backend must satisfy.
type LedgerStore interface {
	// --- Users ---
	GetUsers(ctx context.Context) ([]models.User, error)
	GetUserById(ctx context.Context, userId string) (*models.User, error)
	GetUserByExternalId(ctx context.Context, externalId string) (*models.User, error)
	FindUserByAnyAddress(ctx context.Context, addresses ...string) (*models.User, error)
	CreateUser(ctx context.Context, params CreateUserParams) (*models.User, bool, error)

	// --- Balances ---
	GetBalance(ctx context.Context, userId string) (*models.Balance, error)
	ApplyDepositToBalance(ctx context.Context, userId string, amountNano int64, txRef string) (*models.Balance, error)
	ReconcileUserBalance(ctx context.Context, userId string) error

	// --- Transactions ---
	RecordDeposit(ctx context.Context, params RecordDepositParams) (*DepositResult, error)
	AssignTransaction(ctx context.Context, hash, userId string) (*models.Transaction, error)
	RecordWithdrawal(ctx context.Context, params RecordWithdrawalParams) (*models.Transaction, error)
	GetTransactionByHash(ctx context.Context, hash string) (*models.Transaction, error)
	GetTransactionHistory(ctx context.Context, userId string, limit, offset int) ([]models.Transaction, error)
	GetUnassignedTransactions(ctx context.Context, limit int) ([]models.Transaction, error)

	// --- Checkpoint / status ---
	GetCheckpoint(ctx context.Context) (uint64, error)
	AdvanceCheckpoint(ctx context.Context, lt uint64) error
	GetSystemStatus(ctx context.Context) (*models.SystemStatus, error)
	UpdatePollStatus(ctx context.Context, params PollStatusParams) error
	UpdateMonitorStatus(ctx context.Context, status string) error

	// --- Audit ---
	RecordAudit(ctx context.Context, event models.AuditEvent) error
	GetAuditLog(ctx context.Context, entityId string) ([]models.AuditEvent, error)

	// --- Listings ---
	CreateListing(ctx context.Context, params CreateListingParams) (*models.Listing, error)
	GetListing(ctx context.Context, listingId string) (*models.Listing, error)
	ListListings(ctx context.Context, status string) ([]models.Listing, error)

	// --- Escrow ---
	CreateEscrow(ctx context.Context, escrow models.Escrow) (*models.Escrow, error)
	GetEscrow(ctx context.Context, transactionId string) (*models.Escrow, error)
	MutateEscrow(ctx context.Context, transactionId string, fn EscrowMutator) (*models.Escrow, error)
	ListExpiredEscrows(ctx context.Context, now time.Time, after EscrowCursor, limit int) ([]models.Escrow, error)

	// --- Lifecycle ---
	Ping(ctx context.Context) error
	Close()
}
