package domain

import "errors"

// Single-order faults. Callers at the stack-handler pass boundary catch
// these, log, and skip; the next pass retries.
var (
	// ErrMissingOrder is returned when an order id that should exist is not
	// on the stack. Plain lookups signal absence with a boolean instead.
	ErrMissingOrder = errors.New("order not found on stack")

	// ErrLockedOrder is returned when mutation is attempted on a locked order.
	ErrLockedOrder = errors.New("order is locked")

	// ErrInactiveOrder is returned when mutation is attempted on a
	// deactivated order.
	ErrInactiveOrder = errors.New("order is inactive")

	// ErrZeroOrder is returned when a computed net trade is zero and zero
	// trades are not allowed.
	ErrZeroOrder = errors.New("zero order not allowed")

	// ErrOverFilled is returned when a reported fill exceeds the desired
	// trade per leg or flips its sign. The stored order is left unchanged.
	ErrOverFilled = errors.New("fill exceeds desired trade")

	// ErrOrderIDSet is returned on an attempt to reassign an order id.
	ErrOrderIDSet = errors.New("order id already set")

	// ErrMarketClosed is returned by tick sources when no trading session
	// is open for a contract.
	ErrMarketClosed = errors.New("market is closed")

	// ErrCannotModify is returned when the broker rejects a limit price
	// modification.
	ErrCannotModify = errors.New("order cannot be modified")
)

// ErrRollbackFailure means a multi-stack transaction failed and could not be
// fully unwound. It is escalated, never swallowed: the affected order family
// must not be mutated further until an operator intervenes.
var ErrRollbackFailure = errors.New("transaction rollback failed")

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// BrokerError represents a broker gateway fault that may be retriable
type BrokerError struct {
	Op        string // Operation that failed (e.g., "submit", "cancel", "match")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *BrokerError) Error() string {
	return "broker " + e.Op + ": " + e.Err.Error()
}

func (e *BrokerError) IsRetriable() bool {
	return e.Retriable
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewBrokerError creates a new retriable broker error
func NewBrokerError(op string, err error) *BrokerError {
	return &BrokerError{Op: op, Err: err, Retriable: true}
}

// NewFatalBrokerError creates a non-retriable broker error
func NewFatalBrokerError(op string, err error) *BrokerError {
	return &BrokerError{Op: op, Err: err, Retriable: false}
}
