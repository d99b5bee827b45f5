package escrow

import (
	"errors"
	"fmt"
	"time"

	"ton-escrow-ledger-go/internal/models"
	"ton-escrow-ledger-go/internal/store"
)

var (
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrRoleMismatch           = errors.New("confirmer does not hold the claimed role")
	ErrNotEligibleForRefund   = errors.New("escrow not eligible for refund")
	ErrSelfPurchase           = errors.New("buyer cannot purchase own listing")
	ErrMissingPaymentHash     = errors.New("payment hash is required")

	// ErrListingNotActive is shared with the store, which re-checks it
	// inside the completing transaction.
	ErrListingNotActive = store.ErrListingNotActive
)

// Role is the party confirming a transfer
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// EventKind identifies an escrow input
type EventKind string

const (
	EventConfirmPayment  EventKind = "confirm_payment"
	EventConfirmTransfer EventKind = "confirm_transfer"
	EventTimeout         EventKind = "timeout"
)

// Event is an input to the state machine
type Event struct {
	Kind        EventKind
	PaymentHash string
	ConfirmerId string
	Role        Role
}

// Decision is the outcome of applying an event. Changed is false for
// accepted no-ops such as a repeated confirmation.
type Decision struct {
	Escrow          models.Escrow
	Changed         bool
	Transitioned    bool
	MarkListingSold bool
	Credit          *store.BalanceCredit
	AuditEvent      string
}

// Apply computes the next escrow state. It is total: every (state, event)
// pair yields either a decision or a typed rejection, and it never touches
// storage.
func Apply(e models.Escrow, ev Event, now time.Time) (Decision, error) {
	if !e.Status.Valid() {
		return Decision{}, fmt.Errorf("%w: unknown status %q", ErrInvalidStateTransition, e.Status)
	}

	switch ev.Kind {
	case EventConfirmPayment:
		return confirmPayment(e, ev, now)
	case EventConfirmTransfer:
		return confirmTransfer(e, ev, now)
	case EventTimeout:
		return timeout(e, now)
	default:
		return Decision{}, fmt.Errorf("%w: unknown event %q", ErrInvalidStateTransition, ev.Kind)
	}
}

func confirmPayment(e models.Escrow, ev Event, now time.Time) (Decision, error) {
	if e.Status != models.EscrowPendingPayment {
		return Decision{}, fmt.Errorf("%w: confirm_payment requires %s, escrow %s is %s",
			ErrInvalidStateTransition, models.EscrowPendingPayment, e.TransactionId, e.Status)
	}
	if ev.PaymentHash == "" {
		return Decision{}, ErrMissingPaymentHash
	}

	next := e
	next.Status = models.EscrowPaymentConfirmed
	next.PaymentHash = ev.PaymentHash
	next.PaymentConfirmedAt = &now

	return Decision{
		Escrow:       next,
		Changed:      true,
		Transitioned: true,
		AuditEvent:   "payment_confirmed",
	}, nil
}

func confirmTransfer(e models.Escrow, ev Event, now time.Time) (Decision, error) {
	if e.Status != models.EscrowPaymentConfirmed {
		return Decision{}, fmt.Errorf("%w: confirm_transfer requires %s, escrow %s is %s",
			ErrInvalidStateTransition, models.EscrowPaymentConfirmed, e.TransactionId, e.Status)
	}

	next := e
	audit := ""
	switch ev.Role {
	case RoleBuyer:
		if ev.ConfirmerId != e.BuyerId {
			return Decision{}, fmt.Errorf("%w: %s is not the buyer of %s", ErrRoleMismatch, ev.ConfirmerId, e.TransactionId)
		}
		if e.BuyerConfirmed {
			return Decision{Escrow: e}, nil
		}
		next.BuyerConfirmed = true
		next.BuyerConfirmedAt = &now
		audit = "buyer_confirmed"
	case RoleSeller:
		if ev.ConfirmerId != e.SellerId {
			return Decision{}, fmt.Errorf("%w: %s is not the seller of %s", ErrRoleMismatch, ev.ConfirmerId, e.TransactionId)
		}
		if e.SellerConfirmed {
			return Decision{Escrow: e}, nil
		}
		next.SellerConfirmed = true
		next.SellerConfirmedAt = &now
		audit = "seller_confirmed"
	default:
		return Decision{}, fmt.Errorf("%w: unknown role %q", ErrRoleMismatch, ev.Role)
	}

	if !next.BuyerConfirmed || !next.SellerConfirmed {
		return Decision{Escrow: next, Changed: true, AuditEvent: audit}, nil
	}

	next.Status = models.EscrowCompleted
	next.CompletedAt = &now
	return Decision{
		Escrow:          next,
		Changed:         true,
		Transitioned:    true,
		MarkListingSold: true,
		Credit: &store.BalanceCredit{
			UserId:     e.SellerId,
			AmountNano: e.AmountNano,
			EntryType:  models.EntryEscrowRelease,
		},
		AuditEvent: "escrow_completed",
	}, nil
}

func timeout(e models.Escrow, now time.Time) (Decision, error) {
	if e.Status.IsTerminal() {
		return Decision{}, fmt.Errorf("%w: escrow %s is already %s", ErrNotEligibleForRefund, e.TransactionId, e.Status)
	}
	if !now.After(e.TimeoutAt) {
		return Decision{}, fmt.Errorf("%w: escrow %s deadline %s has not passed",
			ErrNotEligibleForRefund, e.TransactionId, e.TimeoutAt.Format(time.RFC3339))
	}

	next := e
	next.Status = models.EscrowRefunded
	next.RefundedAt = &now

	decision := Decision{
		Escrow:       next,
		Changed:      true,
		Transitioned: true,
		AuditEvent:   "escrow_refunded",
	}
	// Only a confirmed payment has funds to give back
	if e.Status == models.EscrowPaymentConfirmed {
		decision.Credit = &store.BalanceCredit{
			UserId:     e.BuyerId,
			AmountNano: e.AmountNano,
			EntryType:  models.EntryEscrowRefund,
		}
	}
	return decision, nil
}
