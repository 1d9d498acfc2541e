package domain

import "errors"

// Sentinel errors for the client core. These provide consistent, checkable
// errors for expected failure states.
var (
	// ErrNoCredentials means no bearer token is stored locally. This is a
	// reachable state (logged-out user), not a fault.
	ErrNoCredentials = errors.New("no stored credentials")

	// ErrNotConnected means an operation needed a live socket connection.
	ErrNotConnected = errors.New("socket not connected")

	// ErrNotFound means the backend reported a missing resource.
	ErrNotFound = errors.New("requested resource not found")
)
