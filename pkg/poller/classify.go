package poller

import (
	"context"
	"errors"

	"github.com/nicktill/tubestatus/pkg/status"
	"github.com/nicktill/tubestatus/pkg/storage"
	"github.com/nicktill/tubestatus/pkg/tfl"
)

// Class groups poll failures by where they came from.
type Class int

const (
	ClassUnknown Class = iota
	ClassFetch
	ClassParse
	ClassConnection
	ClassTransaction
	ClassCancelled
)

func (c Class) String() string {
	switch c {
	case ClassFetch:
		return "fetch"
	case ClassParse:
		return "parse"
	case ClassConnection:
		return "connection"
	case ClassTransaction:
		return "transaction"
	case ClassCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Classify maps err to its Class. Connection failures win over the
// transaction wrapper that may carry them.
func Classify(err error) Class {
	var (
		fetchErr *tfl.FetchError
		parseErr *status.ParseError
		txnErr   *storage.TxnError
	)

	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassCancelled
	case errors.As(err, &fetchErr):
		return ClassFetch
	case errors.As(err, &parseErr):
		return ClassParse
	case storage.IsUnavailable(err):
		return ClassConnection
	case errors.As(err, &txnErr):
		return ClassTransaction
	default:
		return ClassUnknown
	}
}
