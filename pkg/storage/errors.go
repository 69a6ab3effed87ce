package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned when no store connection could be acquired.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrClosed is returned for operations on a closed store.
	ErrClosed = fmt.Errorf("%w: store closed", ErrUnavailable)
)

// TxnError reports a transaction that was rolled back.
type TxnError struct {
	Family string
	Op     string
	Err    error
}

func (e *TxnError) Error() string {
	return fmt.Sprintf("%s %s: transaction rolled back: %v", e.Op, e.Family, e.Err)
}

func (e *TxnError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err means the store could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
