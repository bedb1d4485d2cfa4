// Package aimwerr defines the closed error taxonomy shared by every
// component of the middleware. All public operations return errors built
// with New or Wrap so callers can branch with Is/Kind instead of matching
// strings.
package aimwerr

import (
	"errors"
	"fmt"
)

// Kind tags an Error with one member of the closed taxonomy.
type Kind string

const (
	// Timeout marks any bounded wait that elapsed before completion.
	Timeout Kind = "timeout"
	// NoCandidates marks a router search that found no eligible endpoint.
	NoCandidates Kind = "no_candidates"
	// RoutingExhausted marks a routing attempt where every alternative failed.
	RoutingExhausted Kind = "routing_exhausted"
	// ProviderError marks a non-2xx or malformed response from a model provider.
	ProviderError Kind = "provider_error"
	// StoreError marks a failed call into the underlying key-value store.
	StoreError Kind = "store_error"
	// ComplexityExceeded marks a query the optimizer refused to plan.
	ComplexityExceeded Kind = "complexity_exceeded"
	// Validation marks invalid configuration or endpoint registration.
	Validation Kind = "validation"
	// CacheMiss marks an expected internal miss; never meant to cross a
	// public API boundary uncaught.
	CacheMiss Kind = "cache_miss"
	// BreakerOpen is an internal signal that a circuit breaker is open;
	// callers should never observe this directly.
	BreakerOpen Kind = "breaker_open"
)

// Error is the concrete type behind every error this module returns.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a taxonomy error with no underlying cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf builds a taxonomy error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds a taxonomy error around an underlying cause.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind carried by err, or "" if err is not one of ours.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
