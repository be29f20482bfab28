package services

import (
	"errors"
	"fmt"

	"finboard/internal/storage"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = storage.ErrNotFound

	// ErrAlreadyDeleted is returned by a TransactionDeleter when the id was
	// removed before. Merger counts it as a successful removal. It also
	// matches ErrNotFound; an id that never existed matches only ErrNotFound.
	ErrAlreadyDeleted = storage.ErrDeleted

	// ErrMergeNotConfirmed is returned when a merge is requested without
	// explicit user confirmation. Nothing is deleted.
	ErrMergeNotConfirmed = errors.New("merge requires confirmation")

	// ErrNotAPair is returned when the two transactions are not a same-day
	// expense and income of equal amount.
	ErrNotAPair = errors.New("transactions are not a merge pair")

	// ErrMergeFailed is matched when both deletes failed and nothing changed.
	ErrMergeFailed = errors.New("merge failed")

	// ErrPartialMerge is matched when exactly one side of a pair was removed.
	ErrPartialMerge = errors.New("merge partially applied")
)

// MergeFailedError carries the causes of both failed deletes.
type MergeFailedError struct {
	ExpenseErr error
	IncomeErr  error
}

func (e *MergeFailedError) Error() string {
	return fmt.Sprintf("merge failed: expense: %v; income: %v", e.ExpenseErr, e.IncomeErr)
}

func (e *MergeFailedError) Is(target error) bool {
	return target == ErrMergeFailed
}

func (e *MergeFailedError) Unwrap() []error {
	return []error{e.ExpenseErr, e.IncomeErr}
}

// PartialMergeError reports a merge that removed only one transaction. The
// remaining transaction is still live and should stay visible.
type PartialMergeError struct {
	Removed   int64
	Remaining int64
	Err       error
}

func (e *PartialMergeError) Error() string {
	return fmt.Sprintf("merge partially applied: removed %d, transaction %d remains: %v", e.Removed, e.Remaining, e.Err)
}

func (e *PartialMergeError) Is(target error) bool {
	return target == ErrPartialMerge
}

func (e *PartialMergeError) Unwrap() error {
	return e.Err
}
