package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction statuses
const (
	TxStatusConfirmed  = "confirmed"
	TxStatusUnassigned = "unassigned"
	TxStatusReversed   = "reversed"
)

// Transaction types
const (
	TxTypeDeposit    = "deposit"
	TxTypeWithdrawal = "withdrawal"
)

// Balance credit/debit kinds recorded in the journal
const (
	EntryDeposit       = "deposit"
	EntryEscrowRelease = "escrow_release"
	EntryEscrowRefund  = "escrow_refund"
	EntryWithdrawal    = "withdrawal"
)

// User represents a registered wallet owner
type User struct {
	Id               string    `db:"id"`
	ExternalId       string    `db:"external_id"`
	WalletAddress    string    `db:"wallet_address"`
	CanonicalAddress string    `db:"canonical_address"`
	Variants         []string  `db:"-"`
	Active           bool      `db:"active"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// Balance is the per-user balance row. Amounts are in nanotons.
type Balance struct {
	UserId           string     `db:"user_id"`
	CurrentBalance   int64      `db:"current_balance"`
	TotalDeposited   int64      `db:"total_deposited"`
	TotalWithdrawn   int64      `db:"total_withdrawn"`
	LockedInEscrow   int64      `db:"locked_in_escrow"`
	DepositCount     int64      `db:"deposit_count"`
	WithdrawalCount  int64      `db:"withdrawal_count"`
	LastDepositAt    *time.Time `db:"last_deposit_at"`
	LastWithdrawalAt *time.Time `db:"last_withdrawal_at"`
	Version          int64      `db:"version"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

// Current returns the current balance in TON.
func (b Balance) Current() decimal.Decimal { return NanoToTon(b.CurrentBalance) }

// Deposited returns the cumulative credited amount in TON.
func (b Balance) Deposited() decimal.Decimal { return NanoToTon(b.TotalDeposited) }

// Withdrawn returns the cumulative withdrawn amount in TON.
func (b Balance) Withdrawn() decimal.Decimal { return NanoToTon(b.TotalWithdrawn) }

// Consistent reports whether the balance row satisfies
// current = deposited - withdrawn - locked.
func (b Balance) Consistent() bool {
	return b.CurrentBalance == b.TotalDeposited-b.TotalWithdrawn-b.LockedInEscrow
}

// Transaction is an immutable record of an on-chain transfer
type Transaction struct {
	Id              string    `db:"id"`
	Hash            string    `db:"hash"`
	UserId          string    `db:"user_id"`
	TransactionType string    `db:"transaction_type"`
	Sender          string    `db:"from_address"`
	Recipient       string    `db:"to_address"`
	AmountNano      int64     `db:"amount"`
	FeeNano         int64     `db:"fee"`
	LogicalTime     uint64    `db:"logical_time"`
	Utime           int64     `db:"utime"`
	Status          string    `db:"status"`
	Comment         string    `db:"comment"`
	CreatedAt       time.Time `db:"created_at"`
}

// Amount returns the transferred amount in TON.
func (t Transaction) Amount() decimal.Decimal { return NanoToTon(t.AmountNano) }

// Fee returns the network fee in TON.
func (t Transaction) Fee() decimal.Decimal { return NanoToTon(t.FeeNano) }

// Assigned reports whether the transaction belongs to a user.
func (t Transaction) Assigned() bool { return t.UserId != "" }

// SystemStatus is the single checkpoint/health row
type SystemStatus struct {
	LastLogicalTime   uint64     `db:"last_logical_time"`
	LastCheckAt       *time.Time `db:"last_check_at"`
	LastSuccessAt     *time.Time `db:"last_success_at"`
	MonitorStatus     string     `db:"monitor_status"`
	ApiStatus         string     `db:"api_status"`
	DbStatus          string     `db:"db_status"`
	ErrorCount        int64      `db:"error_count"`
	ConsecutiveErrors int64      `db:"consecutive_errors"`
	LastError         string     `db:"last_error"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

// AuditEvent is an append-only audit log entry
type AuditEvent struct {
	Id            int64     `db:"id"`
	EventType     string    `db:"event_type"`
	UserId        string    `db:"user_id"`
	EntityType    string    `db:"entity_type"`
	EntityId      string    `db:"entity_id"`
	OldValues     string    `db:"old_values"`
	NewValues     string    `db:"new_values"`
	CorrelationId string    `db:"correlation_id"`
	CreatedAt     time.Time `db:"created_at"`
}

// JournalEntry is one side of a double-entry balance movement
type JournalEntry struct {
	Id           string    `db:"id"`
	Reference    string    `db:"reference"`
	EntryType    string    `db:"entry_type"`
	AccountType  string    `db:"account_type"`
	AccountId    string    `db:"account_id"`
	DebitAmount  int64     `db:"debit_amount"`
	CreditAmount int64     `db:"credit_amount"`
	CreatedAt    time.Time `db:"created_at"`
}
