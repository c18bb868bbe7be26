package radio

import "errors"

var (
	// ErrNotPowered is returned for commands issued while the adapter is off.
	ErrNotPowered = errors.New("radio: adapter not powered")

	// ErrUnknownPeripheral is returned for commands naming an unknown peripheral.
	ErrUnknownPeripheral = errors.New("radio: unknown peripheral")

	// ErrClosed is returned for commands issued after Close.
	ErrClosed = errors.New("radio: adapter closed")
)
