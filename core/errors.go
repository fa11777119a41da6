package core

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a pass failure in machine-readable form. Codes are
// stable identifiers intended for callers; they never surface in the
// natural-language response.
type ErrorCode string

const (
	// CodeRouting indicates the classification provider failed.
	CodeRouting ErrorCode = "routing_error"
	// CodeHandler indicates a capability handler returned an error or panicked.
	CodeHandler ErrorCode = "handler_error"
	// CodeCombiner indicates the synthesis provider failed (recovered via fallback).
	CodeCombiner ErrorCode = "combiner_error"
	// CodeTimeout indicates the overall pass deadline was exceeded.
	CodeTimeout ErrorCode = "timeout"
	// CodeLimit indicates a session quota prevented persisting the exchange.
	CodeLimit ErrorCode = "limit_exceeded"
	// CodeInternal indicates an unexpected engine fault.
	CodeInternal ErrorCode = "internal_error"
)

// StateError is the machine-readable error carried in the orchestration state
// and returned alongside the final response. Message describes the failure
// for operators; it is never included in the user-facing response.
type StateError struct {
	Code       ErrorCode `json:"code"`
	Capability string    `json:"capability,omitempty"`
	Message    string    `json:"message"`
}

func (e *StateError) Error() string {
	if e.Capability != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Capability, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ConfigurationError reports an invalid capability registration: duplicate
// name, duplicate intent tag, reserved tag, or registration after the graph
// has been compiled. It is fatal at startup only.
type ConfigurationError struct {
	Name   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for capability %q: %s", e.Name, e.Reason)
}

// RoutingError wraps a classification-provider failure.
type RoutingError struct {
	Err error
}

func (e *RoutingError) Error() string { return fmt.Sprintf("routing failed: %v", e.Err) }

// Unwrap exposes the underlying provider error.
func (e *RoutingError) Unwrap() error { return e.Err }

// HandlerError wraps a failure raised by a capability handler.
type HandlerError struct {
	Capability string
	Err        error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %q failed: %v", e.Capability, e.Err)
}

// Unwrap exposes the underlying handler error.
func (e *HandlerError) Unwrap() error { return e.Err }

// CombinerError wraps a synthesis-provider failure. It is always recovered:
// the combiner falls back to concatenating raw handler messages.
type CombinerError struct {
	Err error
}

func (e *CombinerError) Error() string { return fmt.Sprintf("combining failed: %v", e.Err) }

// Unwrap exposes the underlying provider error.
func (e *CombinerError) Unwrap() error { return e.Err }

// TimeoutError reports that the overall pass deadline elapsed before the
// dispatch graph reached a terminal node. It is routed through the same error
// node as a failed handler, so callers still receive a well-formed response.
type TimeoutError struct {
	Stage string // node that was about to run when the deadline hit
}

func (e *TimeoutError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("pass deadline exceeded before %s", e.Stage)
	}
	return "pass deadline exceeded"
}

// LimitExceededError reports that a user's session count is at its cap. It is
// surfaced distinctly because it is actionable: EvictionCandidate names the
// least-recently-updated non-pinned session, or is empty when every session
// is pinned.
type LimitExceededError struct {
	UserID            string
	Limit             int
	EvictionCandidate string
}

func (e *LimitExceededError) Error() string {
	if e.EvictionCandidate == "" {
		return fmt.Sprintf("user %s reached the session limit of %d and all sessions are pinned", e.UserID, e.Limit)
	}
	return fmt.Sprintf("user %s reached the session limit of %d; oldest evictable session is %s", e.UserID, e.Limit, e.EvictionCandidate)
}

// ErrSessionNotFound is returned when a session for the given scope / id pair
// does not exist in the underlying store. Cross-tenant lookups resolve to
// this error as well, never revealing existence.
var ErrSessionNotFound = errors.New("session not found")
