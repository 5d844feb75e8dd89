// Package fault classifies errors crossing component boundaries so callers
// can decide between user-facing reporting, internal retry, and request failure.
package fault

import (
	"errors"
	"fmt"
)

// Kind enumerates the error classes the bot distinguishes.
type Kind int

const (
	// KindUnknown marks errors that carry no classification.
	KindUnknown Kind = iota
	// KindValidation marks bad user input; reported back, no state change.
	KindValidation
	// KindConflict marks an optimistic-concurrency loss; retried internally.
	KindConflict
	// KindBackend marks ledger rejection or unreachability; fails one request.
	KindBackend
	// KindTransport marks transient chat-transport failures; retried with backoff.
	KindTransport
)

// String returns the lowercase name used in logs.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindBackend:
		return "backend"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Error attaches a Kind to an underlying error or message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error renders the message, including the wrapped cause when present.
func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg == "" {
			return e.Err.Error()
		}
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error, keeping it available for unwrapping.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Validationf builds a user-input error.
func Validationf(format string, args ...any) error {
	return New(KindValidation, format, args...)
}

// Conflictf builds an optimistic-concurrency error.
func Conflictf(format string, args ...any) error {
	return New(KindConflict, format, args...)
}

// Backendf builds a ledger-side error.
func Backendf(format string, args ...any) error {
	return New(KindBackend, format, args...)
}

// Transportf builds a chat-transport error.
func Transportf(format string, args ...any) error {
	return New(KindTransport, format, args...)
}

// KindOf extracts the classification of err, or KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsValidation reports whether err is classified as bad user input.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsConflict reports whether err is an optimistic-concurrency loss.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsBackend reports whether err originates from the ledger backend.
func IsBackend(err error) bool { return KindOf(err) == KindBackend }

// IsTransport reports whether err is a transient transport failure.
func IsTransport(err error) bool { return KindOf(err) == KindTransport }
