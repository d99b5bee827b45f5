package store

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
)

func TestNewStorageError_WrapsIOErrors(t *testing.T) {
	err := NewStorageError("record deposit", sql.ErrConnDone)
	if !IsStorageError(err) {
		t.Fatalf("expected StorageError, got %T", err)
	}
	if !errors.Is(err, sql.ErrConnDone) {
		t.Errorf("StorageError should unwrap to the cause")
	}
}

func TestNewStorageError_KeepsSentinels(t *testing.T) {
	wrapped := fmt.Errorf("%w: hash abc", ErrDuplicateTransaction)
	err := NewStorageError("record deposit", wrapped)
	if IsStorageError(err) {
		t.Errorf("sentinel errors must not be reported as storage failures")
	}
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Errorf("expected ErrDuplicateTransaction to survive, got %v", err)
	}
}

func TestNewStorageError_Nil(t *testing.T) {
	if err := NewStorageError("noop", nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestNewStorageError_NoDoubleWrap(t *testing.T) {
	first := NewStorageError("inner", sql.ErrTxDone)
	second := NewStorageError("outer", fmt.Errorf("context: %w", first))
	var se *StorageError
	if !errors.As(second, &se) || se.Op != "inner" {
		t.Errorf("expected original op to be preserved, got %v", second)
	}
}
