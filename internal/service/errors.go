package service

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind groups failures by how callers should react to them.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindNotFound    ErrorKind = "not_found"
	KindState       ErrorKind = "state"
	KindConflict    ErrorKind = "conflict"
	KindLimit       ErrorKind = "limit"
	KindUnavailable ErrorKind = "unavailable"
	KindInternal    ErrorKind = "internal"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("resource not found")
	ErrAlreadyRedeemed = errors.New("code already redeemed")
)

// Error is returned by the redemption and admin services. Code is a stable
// machine-readable identifier; Details is surfaced to the HTTP caller.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, code, msg string, details map[string]any) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Details: details}
}

// AsError extracts a *Error, wrapping unknown errors as internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ClassifyStoreError(err)
}

// ClassifyStoreError maps driver errors onto the taxonomy by message. Drivers
// do not share error types, so substring matching is the fallback that works
// for both sqlite and postgres.
func ClassifyStoreError(err error) *Error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "failed to connect"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "i/o timeout"),
		strings.Contains(msg, "database is closed"):
		return &Error{Kind: KindUnavailable, Code: "DATABASE_UNAVAILABLE", Message: "database unavailable", Err: err}
	case strings.Contains(msg, "no such table"),
		strings.Contains(msg, "does not exist"):
		return &Error{Kind: KindUnavailable, Code: "SCHEMA_MISSING", Message: "database schema not ready", Err: err}
	default:
		return &Error{Kind: KindInternal, Code: "INTERNAL_ERROR", Message: "internal error", Err: err}
	}
}
