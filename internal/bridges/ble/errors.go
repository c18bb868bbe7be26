package ble

import "errors"

// Domain errors for the BLE bridge package.
//
// These are Go errors returned to callers of the package. Reasons delivered
// to pages are plain strings; see reasons.go.
var (
	// ErrAlreadyResolved is returned when resolving a transaction that is
	// already terminal. The second resolution has no effect.
	ErrAlreadyResolved = errors.New("ble: transaction already resolved")

	// ErrInvalidKey is returned when a request key lacks the
	// "<path>#<correlationId>" form.
	ErrInvalidKey = errors.New("ble: invalid request key")

	// ErrStopped is returned when submitting work to a stopped manager.
	ErrStopped = errors.New("ble: manager stopped")

	// ErrNotStarted is returned when submitting work before Start.
	ErrNotStarted = errors.New("ble: manager not started")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("ble: manager already started")

	// ErrGrantedElsewhere is returned when granting a peripheral that
	// another page already holds.
	ErrGrantedElsewhere = errors.New("ble: device granted to another page")
)
