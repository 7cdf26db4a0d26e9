// Package apperr defines the error taxonomy shared by the allocation engine.
// Callers branch on Kind to decide whether to retry, redirect the user or
// run compensating cleanup; Reason is the stable machine-readable code.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	KindValidation     Kind = "validation"
	KindConflict       Kind = "conflict"
	KindLockConflict   Kind = "lock_conflict"
	KindExpired        Kind = "expired"
	KindPartialFailure Kind = "partial_failure"
	KindNotFound       Kind = "not_found"
	KindForbidden      Kind = "forbidden"
)

type Reason string

const (
	ReasonInvalid         Reason = "invalid"
	ReasonCapacity        Reason = "capacity"
	ReasonGender          Reason = "gender"
	ReasonDuplicate       Reason = "duplicate"
	ReasonReserved        Reason = "reserved"
	ReasonPending         Reason = "pending"
	ReasonExpired         Reason = "expired"
	ReasonAlreadyAssigned Reason = "already_assigned"
	ReasonNotPending      Reason = "not_pending"
	ReasonNotFound        Reason = "not_found"
	ReasonForbidden       Reason = "forbidden"
	ReasonPartial         Reason = "partial"
)

// Error is the single error type returned across package boundaries.
type Error struct {
	Kind    Kind
	Reason  Reason
	Message string

	// Holder and Remaining describe the lock that caused a lock conflict.
	Holder    string
	Remaining time.Duration

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// RemainingSeconds rounds Remaining up so a live lock never reports zero.
func (e *Error) RemainingSeconds() int {
	if e.Remaining <= 0 {
		return 0
	}
	return int((e.Remaining + time.Second - 1) / time.Second)
}

func Validation(msg string, args ...any) *Error {
	return &Error{Kind: KindValidation, Reason: ReasonInvalid, Message: fmt.Sprintf(msg, args...)}
}

func Conflict(reason Reason, msg string, args ...any) *Error {
	return &Error{Kind: KindConflict, Reason: reason, Message: fmt.Sprintf(msg, args...)}
}

func LockConflict(reason Reason, holder string, remaining time.Duration, msg string, args ...any) *Error {
	return &Error{
		Kind:      KindLockConflict,
		Reason:    reason,
		Message:   fmt.Sprintf(msg, args...),
		Holder:    holder,
		Remaining: remaining,
	}
}

func Expired(msg string, args ...any) *Error {
	return &Error{Kind: KindExpired, Reason: ReasonExpired, Message: fmt.Sprintf(msg, args...)}
}

func NotFound(msg string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Reason: ReasonNotFound, Message: fmt.Sprintf(msg, args...)}
}

func Forbidden(msg string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Reason: ReasonForbidden, Message: fmt.Sprintf(msg, args...)}
}

// PartialFailure reports that an earlier step committed before err happened.
func PartialFailure(err error, msg string, args ...any) *Error {
	return &Error{Kind: KindPartialFailure, Reason: ReasonPartial, Message: fmt.Sprintf(msg, args...), Err: err}
}

// As extracts the *Error carried by err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

func ReasonOf(err error) Reason {
	if e, ok := As(err); ok {
		return e.Reason
	}
	return ""
}

// Is reports whether err carries the given reason.
func Is(err error, reason Reason) bool {
	return ReasonOf(err) == reason
}
