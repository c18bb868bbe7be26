package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when no granted device has the identifier.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidDevice is returned when a device lacks an internal or external id.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrExternalIDInUse is returned when an external id is already bound to a
	// different peripheral.
	ErrExternalIDInUse = errors.New("device: external id already in use")
)
