// pkg/core/errors.go
package core

import (
	"errors"
	"fmt"
)

// Kind classifies a rejection so callers can tell "you can't afford this"
// apart from "you're too far away".
type Kind string

const (
	KindValidation             Kind = "validation_error"
	KindPlacementConflict      Kind = "placement_conflict"
	KindInsufficientFunds      Kind = "insufficient_funds"
	KindNotOwner               Kind = "not_owner"
	KindNotInRange             Kind = "not_in_range"
	KindInvalidStateTransition Kind = "invalid_state_transition"
	KindOutsideTerritory       Kind = "outside_territory"
	KindConcurrentModification Kind = "concurrent_modification"
	KindNotCapturable          Kind = "not_capturable"
	KindNotFound               Kind = "not_found"
	KindStorageUnavailable     Kind = "storage_unavailable"
)

// Sentinels for errors.Is. A sentinel matches any *Error of the same kind.
var (
	ErrValidation             = &Error{Kind: KindValidation}
	ErrPlacementConflict      = &Error{Kind: KindPlacementConflict}
	ErrInsufficientFunds      = &Error{Kind: KindInsufficientFunds}
	ErrNotOwner               = &Error{Kind: KindNotOwner}
	ErrNotInRange             = &Error{Kind: KindNotInRange}
	ErrInvalidStateTransition = &Error{Kind: KindInvalidStateTransition}
	ErrOutsideTerritory       = &Error{Kind: KindOutsideTerritory}
	ErrConcurrentModification = &Error{Kind: KindConcurrentModification}
	ErrNotCapturable          = &Error{Kind: KindNotCapturable}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrStorageUnavailable     = &Error{Kind: KindStorageUnavailable}
)

// Error is a typed, recoverable rejection carrying a human-readable reason.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

// Errorf builds an *Error of the given kind with a formatted reason.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around a cause.
func Wrap(kind Kind, err error, reason string) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Reason == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	case e.Reason == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality so wrapped errors match the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ReasonOf returns the human-readable reason of err, falling back to err.Error().
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
