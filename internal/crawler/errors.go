package crawler

import (
	"errors"
	"fmt"
)

// ErrExtractionMiss is returned by a phase when an OK page carries no usable
// data. The item is dropped without retry.
var ErrExtractionMiss = errors.New("extraction miss")

// ErrMissingBusinessID is returned for enrichment items without a record id.
var ErrMissingBusinessID = errors.New("work item has no business id")

// FatalError aborts the phase that returned it.
type FatalError struct {
	// Op names the operation that failed.
	Op string

	// Err is the cause.
	Err error
}

// Error implements error.
func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s: %v", e.Op, e.Err)
}

// Unwrap returns the cause.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps err into a FatalError for op.
func Fatal(op string, err error) error {
	return &FatalError{Op: op, Err: err}
}

// IsFatal reports whether err is or wraps a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
