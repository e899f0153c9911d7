package model

import (
	"errors"
	"fmt"
)

// Input errors. No side effects are attempted when these are returned.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidEmail = fmt.Errorf("%w: invalid email", ErrInvalidInput)
)

// OTP validation outcomes, kept distinct end to end.
var (
	ErrNotFound        = errors.New("not found")
	ErrExpired         = errors.New("code expired")
	ErrMismatch        = errors.New("code mismatch")
	ErrAlreadyConsumed = errors.New("code already consumed")
	ErrConflict        = errors.New("concurrent modification")
)

// ErrRateLimited is returned while an email is locked out of an operation.
var ErrRateLimited = errors.New("too many attempts")

// External dependency failures.
var (
	ErrProvider    = errors.New("identity provider error")
	ErrRemote      = errors.New("mirror store returned an error")
	ErrUnreachable = errors.New("mirror store unreachable")
	ErrDelivery    = errors.New("notification delivery failed")
	ErrStore       = errors.New("pending code store unavailable")
)

// ErrorClass is the stable class reported to callers.
type ErrorClass string

const (
	ClassInvalidArgument    ErrorClass = "invalid-argument"
	ClassNotFound           ErrorClass = "not-found"
	ClassFailedPrecondition ErrorClass = "failed-precondition"
	ClassResourceExhausted  ErrorClass = "resource-exhausted"
	ClassInternal           ErrorClass = "internal"
)

// Classify maps any error onto its caller-facing class.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return ClassInvalidArgument
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrRateLimited):
		return ClassResourceExhausted
	case errors.Is(err, ErrExpired), errors.Is(err, ErrMismatch),
		errors.Is(err, ErrAlreadyConsumed), errors.Is(err, ErrConflict):
		return ClassFailedPrecondition
	default:
		return ClassInternal
	}
}

// ReasonFor maps an OTP validation error onto its reason. ok is false for
// errors that are not validation outcomes.
func ReasonFor(err error) (reason ValidationReason, ok bool) {
	switch {
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound, true
	case errors.Is(err, ErrExpired):
		return ReasonExpired, true
	case errors.Is(err, ErrMismatch):
		return ReasonMismatch, true
	case errors.Is(err, ErrAlreadyConsumed):
		return ReasonAlreadyConsumed, true
	case errors.Is(err, ErrConflict):
		return ReasonConflict, true
	default:
		return "", false
	}
}

// PublicError is what public operations return. It carries only the class and
// a caller-safe message; the underlying detail stays in the logs.
type PublicError struct {
	Class   ErrorClass
	Message string
}

func (e *PublicError) Error() string {
	return string(e.Class) + ": " + e.Message
}

// NewPublicError builds a PublicError of the given class.
func NewPublicError(class ErrorClass, message string) *PublicError {
	return &PublicError{Class: class, Message: message}
}

// ClassOf returns the class of err, honouring PublicError.
func ClassOf(err error) ErrorClass {
	var pub *PublicError
	if errors.As(err, &pub) {
		return pub.Class
	}
	return Classify(err)
}
