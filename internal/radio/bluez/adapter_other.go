//go:build !linux

package bluez

import (
	"errors"

	"github.com/nerrad567/webble-core/internal/radio"
)

// ErrUnsupportedPlatform is returned by Open on platforms without BlueZ.
var ErrUnsupportedPlatform = errors.New("bluez: only supported on linux")

// Options configures the BlueZ adapter.
type Options struct {
	Adapter     string
	EventBuffer int
	Logger      Logger
}

// Open always fails off Linux.
func Open(Options) (radio.Adapter, error) {
	return nil, ErrUnsupportedPlatform
}
