package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Listing statuses
const (
	ListingActive = "active"
	ListingSold   = "sold"
)

// Listing is an asset offered for sale
type Listing struct {
	Id        string     `db:"listing_id" yaml:"listing_id"`
	SellerId  string     `db:"seller_id" yaml:"seller_id"`
	ChannelId string     `db:"channel_id" yaml:"channel_id"`
	Title     string     `db:"title" yaml:"title"`
	PriceNano int64      `db:"price" yaml:"-"`
	Status    string     `db:"status" yaml:"-"`
	CreatedAt time.Time  `db:"created_at" yaml:"-"`
	SoldAt    *time.Time `db:"sold_at" yaml:"-"`
}

// Price returns the listing price in TON.
func (l Listing) Price() decimal.Decimal { return NanoToTon(l.PriceNano) }

// EscrowStatus is the lifecycle state of an escrow transaction
type EscrowStatus string

const (
	EscrowPendingPayment   EscrowStatus = "pending_payment"
	EscrowPaymentConfirmed EscrowStatus = "payment_confirmed"
	EscrowCompleted        EscrowStatus = "completed"
	EscrowRefunded         EscrowStatus = "refunded"
)

// IsTerminal returns true if no further transition is possible.
func (s EscrowStatus) IsTerminal() bool {
	return s == EscrowCompleted || s == EscrowRefunded
}

// Valid reports whether s is a known status.
func (s EscrowStatus) Valid() bool {
	switch s {
	case EscrowPendingPayment, EscrowPaymentConfirmed, EscrowCompleted, EscrowRefunded:
		return true
	}
	return false
}

// Escrow is a buyer/seller transaction guarded by dual confirmation
type Escrow struct {
	TransactionId      string       `db:"transaction_id"`
	ListingId          string       `db:"listing_id"`
	BuyerId            string       `db:"buyer_id"`
	SellerId           string       `db:"seller_id"`
	AmountNano         int64        `db:"amount"`
	BuyerWallet        string       `db:"buyer_wallet"`
	EscrowAddress      string       `db:"escrow_address"`
	PaymentHash        string       `db:"payment_hash"`
	Status             EscrowStatus `db:"status"`
	BuyerConfirmed     bool         `db:"buyer_confirmed"`
	SellerConfirmed    bool         `db:"seller_confirmed"`
	TimeoutAt          time.Time    `db:"timeout_at"`
	CreatedAt          time.Time    `db:"created_at"`
	PaymentConfirmedAt *time.Time   `db:"payment_confirmed_at"`
	BuyerConfirmedAt   *time.Time   `db:"buyer_confirmed_at"`
	SellerConfirmedAt  *time.Time   `db:"seller_confirmed_at"`
	CompletedAt        *time.Time   `db:"completed_at"`
	RefundedAt         *time.Time   `db:"refunded_at"`
	Version            int64        `db:"version"`
}

// Amount returns the escrowed amount in TON.
func (e Escrow) Amount() decimal.Decimal { return NanoToTon(e.AmountNano) }
