// Package stockerr defines the error taxonomy of the allocation core. Every
// failure is local and recoverable except ConsistencyViolation, which signals
// a detected mismatch between instance ownership and tag membership and is
// never auto-corrected.
package stockerr

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is matching.
var (
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInvalidSelection       = errors.New("invalid selection")
	ErrInsufficientAllocation = errors.New("insufficient allocation")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrConsistencyViolation   = errors.New("consistency violation")
)

// Error carries the failure kind plus the affected SKU and the
// requested/available quantities, so callers can present an actionable
// message.
type Error struct {
	kind      error
	SKU       string
	Requested int
	Available int
	Detail    string
}

func (e *Error) Error() string {
	msg := e.kind.Error()
	if e.SKU != "" {
		msg = fmt.Sprintf("%s: sku=%s", msg, e.SKU)
	}
	if e.Requested > 0 || e.Available > 0 {
		msg = fmt.Sprintf("%s requested=%d available=%d", msg, e.Requested, e.Available)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Detail)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.kind
}

// InsufficientStock reports fewer available instances than requested.
func InsufficientStock(sku string, requested, available int) *Error {
	return &Error{kind: ErrInsufficientStock, SKU: sku, Requested: requested, Available: available}
}

// InvalidSelection reports a manual selection referencing instances of the
// wrong SKU, already owned, or otherwise unusable.
func InvalidSelection(sku, detail string) *Error {
	return &Error{kind: ErrInvalidSelection, SKU: sku, Detail: detail}
}

// InsufficientAllocation reports a partial fulfillment asking for more than
// the line currently holds.
func InsufficientAllocation(sku string, requested, available int) *Error {
	return &Error{kind: ErrInsufficientAllocation, SKU: sku, Requested: requested, Available: available}
}

// InvalidTransition reports a mutating call against a terminal tag.
func InvalidTransition(detail string) *Error {
	return &Error{kind: ErrInvalidTransition, Detail: detail}
}

// ConsistencyViolation reports a detected ownership/membership mismatch.
// Fatal: the caller must not retry.
func ConsistencyViolation(sku, detail string) *Error {
	return &Error{kind: ErrConsistencyViolation, SKU: sku, Detail: detail}
}
