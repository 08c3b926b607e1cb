package mpesa

import (
	"errors"
	"fmt"
)

// Every Safaricom call site classifies its failure into one of these
// kinds before returning, so callers never see a raw transport error.
type ErrorKind string

const (
	// ErrKindConfig means credentials are missing; fatal, operator must fix.
	ErrKindConfig ErrorKind = "CONFIG_ERROR"
	// ErrKindAuth means the token endpoint rejected us or returned garbage.
	ErrKindAuth ErrorKind = "AUTH_ERROR"
	// ErrKindNetwork means a timeout or connection failure; transient.
	ErrKindNetwork ErrorKind = "NETWORK_ERROR"
	// ErrKindBusiness means Safaricom explicitly declined the request.
	ErrKindBusiness ErrorKind = "BUSINESS_ERROR"
	// ErrKindSystem covers anything else (malformed responses and the like).
	ErrKindSystem ErrorKind = "SYSTEM_ERROR"
)

// Error is a classified failure from a Safaricom API call.
type Error struct {
	Kind ErrorKind
	// Code is the provider's response/result code, when one was returned.
	Code string
	// Desc is the provider's human-readable description, when available.
	Desc string
	Err  error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("mpesa: %s (code %s): %s", e.Kind, e.Code, e.Desc)
	}
	if e.Err != nil {
		return fmt.Sprintf("mpesa: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("mpesa: %s: %s", e.Kind, e.Desc)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the same call may be retried as-is.
func (e *Error) Retryable() bool {
	return e.Kind == ErrKindAuth || e.Kind == ErrKindNetwork
}

func configError(desc string) *Error {
	return &Error{Kind: ErrKindConfig, Desc: desc}
}

func authError(err error) *Error {
	return &Error{Kind: ErrKindAuth, Err: err}
}

func networkError(err error) *Error {
	return &Error{Kind: ErrKindNetwork, Err: err}
}

func businessError(code, desc string) *Error {
	return &Error{Kind: ErrKindBusiness, Code: code, Desc: desc}
}

func systemError(err error) *Error {
	return &Error{Kind: ErrKindSystem, Err: err}
}

// KindOf extracts the classification from err, or ErrKindSystem if err
// did not come from this package.
func KindOf(err error) ErrorKind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return ErrKindSystem
}
