// Package fault holds the error classes shared by the services, the ledger
// client and the HTTP layer.
//
// Every error that crosses a package boundary is a *Error carrying a Kind so
// callers can branch on the class without matching message strings.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the class of a failure.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindForbidden        Kind = "forbidden"
	KindLedgerSubmission Kind = "ledger_submission"
	KindLedgerTimeout    Kind = "ledger_timeout"
	KindLedgerRead       Kind = "ledger_read"
	KindStore            Kind = "store"
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string

	// TxRef is set on ledger errors when a transaction reference is known.
	// A timed out submission may still confirm later.
	TxRef string

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func ValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFoundError(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func ForbiddenError(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// LedgerSubmissionError reports a transaction the ledger rejected outright.
func LedgerSubmissionError(txRef string, err error, format string, args ...any) *Error {
	return &Error{Kind: KindLedgerSubmission, Message: fmt.Sprintf(format, args...), TxRef: txRef, Err: err}
}

// LedgerTimeoutError reports a confirmation wait that ran past its deadline.
// The outcome is unknown: callers must re-query instead of re-submitting.
func LedgerTimeoutError(txRef string, err error) *Error {
	return &Error{Kind: KindLedgerTimeout, Message: "ledger confirmation deadline exceeded", TxRef: txRef, Err: err}
}

// LedgerReadError reports a contract read that could not be completed.
func LedgerReadError(err error, format string, args ...any) *Error {
	return &Error{Kind: KindLedgerRead, Message: fmt.Sprintf(format, args...), Err: err}
}

func StoreError(err error, format string, args ...any) *Error {
	return &Error{Kind: KindStore, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" when the
// chain holds none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

func IsValidation(err error) bool       { return KindOf(err) == KindValidation }
func IsNotFound(err error) bool         { return KindOf(err) == KindNotFound }
func IsLedgerSubmission(err error) bool { return KindOf(err) == KindLedgerSubmission }
func IsLedgerTimeout(err error) bool    { return KindOf(err) == KindLedgerTimeout }

// TxRefOf returns the transaction reference attached to err, if any.
func TxRefOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.TxRef
	}
	return ""
}
