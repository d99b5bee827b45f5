package toncenter

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstreamUnavailable matches every transient indexer failure
	ErrUpstreamUnavailable = errors.New("indexer unavailable")

	// ErrRequestRejected is returned for 4xx responses; retrying will not help
	ErrRequestRejected = errors.New("indexer rejected request")

	// ErrBacklogTooDeep is returned when the checkpoint is further behind than
	// the page budget reaches. The same walk fails again on every retry.
	ErrBacklogTooDeep = errors.New("backlog exceeds page budget")
)

// UpstreamError describes a failed indexer call
type UpstreamError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: indexer returned HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}

// Retryable reports whether err is worth retrying
func Retryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}
