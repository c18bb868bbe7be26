package ble

import (
	"fmt"

	"github.com/nerrad567/webble-core/internal/radio"
)

// Failure reasons delivered to pages. Pages branch on these strings, so they
// must not change.
const (
	ReasonNoFilters              = "acceptAllDevices false but no filters passed"
	ReasonSelectionInProgress    = "Previous device request is still in progress"
	ReasonGetDevicesInProgress   = "Previous get devices request is still in progress"
	ReasonBadDeviceRequest       = "Bad device request"
	ReasonNoDevicesFound         = "no devices found"
	ReasonSuperseded             = "superseded"
	ReasonRateLimited            = "rate limited"
	ReasonConnectFailed          = "connection failed"
	ReasonDisconnected           = "device disconnected"
	ReasonBluetoothOff           = "StatusBluetoothOff"
	ReasonBluetoothUnauthorized  = "StatusBluetoothUnauthorized"
	ReasonAlreadyScanning        = "StatusAlreadyScanning"
	ReasonCacheUnavailable       = "device cache unavailable"
	ReasonDeviceInUse            = "device already granted to another page"
	reasonUnrecognisedTypeFormat = "Request type components not recognised %s"
	reasonInvalidTypeFormat      = "Invalid request type %s"
	reasonNoKnownDeviceFormat    = "No known device for device transaction %s"
	reasonUnsupportedFormat      = "Unsupported device request %s"
)

// ReasonUnrecognisedType is the failure for an unknown or empty type path.
func ReasonUnrecognisedType(k Key) string {
	return fmt.Sprintf(reasonUnrecognisedTypeFormat, k)
}

// ReasonInvalidType is the failure for a known kind with extra path components.
func ReasonInvalidType(k Key) string {
	return fmt.Sprintf(reasonInvalidTypeFormat, k)
}

// ReasonNoKnownDevice is the failure for a device request naming no granted
// or reconnectable device.
func ReasonNoKnownDevice(k Key) string {
	return fmt.Sprintf(reasonNoKnownDeviceFormat, k)
}

// ReasonUnsupported is the failure for a device sub-request this bridge does
// not implement.
func ReasonUnsupported(k Key) string {
	return fmt.Sprintf(reasonUnsupportedFormat, k)
}

// adapterReason maps an unusable adapter state to its failure reason.
// It returns "" when the adapter can scan.
func adapterReason(state radio.State, discovering bool) string {
	switch state {
	case radio.StatePoweredOn:
		if discovering {
			return ReasonAlreadyScanning
		}
		return ""
	case radio.StateUnauthorized:
		return ReasonBluetoothUnauthorized
	default:
		return ReasonBluetoothOff
	}
}

// poweredReason maps adapter state to a failure for device requests, which
// only need power. It returns "" when powered.
func poweredReason(state radio.State) string {
	return adapterReason(state, false)
}
