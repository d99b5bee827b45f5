package api

import (
	"errors"
	"fmt"
	"net/http"

	"ton-escrow-ledger-go/internal/addressbook"
	"ton-escrow-ledger-go/internal/escrow"
	"ton-escrow-ledger-go/internal/store"
)

// ErrorKind separates caller mistakes from failures of the system itself
type ErrorKind string

const (
	KindClient ErrorKind = "client"
	KindSystem ErrorKind = "system"
)

// Error codes
const (
	CodeInvalidArgument = "invalid_argument"
	CodeNotFound        = "not_found"
	CodeConflict        = "conflict"
	CodeInternal        = "internal"
	CodeUnavailable     = "unavailable"
)

// Error is returned by every LedgerService operation
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the error code to a response status
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func invalidArgument(format string, args ...any) *Error {
	return &Error{Kind: KindClient, Code: CodeInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// toError classifies err. Client errors carry the failed precondition in
// Message; system errors only name the operation.
func toError(op string, err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, addressbook.ErrMalformedAddress),
		errors.Is(err, escrow.ErrRoleMismatch),
		errors.Is(err, escrow.ErrSelfPurchase),
		errors.Is(err, escrow.ErrMissingPaymentHash):
		return &Error{Kind: KindClient, Code: CodeInvalidArgument, Message: err.Error(), Err: err}

	case errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, store.ErrListingNotFound),
		errors.Is(err, store.ErrEscrowNotFound),
		errors.Is(err, store.ErrTransactionNotFound):
		return &Error{Kind: KindClient, Code: CodeNotFound, Message: err.Error(), Err: err}

	case errors.Is(err, escrow.ErrInvalidStateTransition),
		errors.Is(err, escrow.ErrNotEligibleForRefund),
		errors.Is(err, escrow.ErrListingNotActive),
		errors.Is(err, store.ErrDuplicateTransaction),
		errors.Is(err, store.ErrInsufficientBalance),
		errors.Is(err, store.ErrConcurrentModification):
		return &Error{Kind: KindClient, Code: CodeConflict, Message: err.Error(), Err: err}

	case store.IsStorageError(err):
		return &Error{Kind: KindSystem, Code: CodeUnavailable, Message: fmt.Sprintf("failed to %s", op), Err: err}

	default:
		return &Error{Kind: KindSystem, Code: CodeInternal, Message: fmt.Sprintf("failed to %s", op), Err: err}
	}
}
