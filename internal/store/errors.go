// Package store persists payment transactions and the booking fields
// the payment service owns. Sentinel errors let handlers and workers
// distinguish failure cases without inspecting database errors.
package store

import "errors"

// ErrNotFound is returned when no row matches the lookup.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a uniqueness
// constraint, e.g. creating a second transaction for the same
// checkout request ID.
var ErrDuplicate = errors.New("duplicate record")

// ErrStateConflict is returned when a transition proposes a terminal
// status for a transaction already in a different terminal state.
// This signals racing finalizers disagreeing on the outcome and is a
// data-integrity problem, never silently overwritten.
var ErrStateConflict = errors.New("conflicting terminal state")
