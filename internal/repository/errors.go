// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// services and handlers to distinguish between different failure
// scenarios. For example, ErrNotFound indicates that no row matched the
// lookup, while ErrConflict signals that a conditional update found the
// row in a state it could not move from.
package repository

import "errors"

// ErrNotFound is returned when a lookup by id matches no row. Handlers
// should translate this into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts to read a resource
// owned by someone else. Handlers should translate this into an HTTP 403
// response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an update cannot be performed because of
// conflicting state, such as confirming an order that was already
// cancelled. Handlers should translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")
