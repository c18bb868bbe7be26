package device

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/webble-core/internal/radio"
)

// Device is a peripheral granted to a page.
//
// InternalID is the radio-assigned peripheral identifier and never leaves the
// bridge. ExternalID is the opaque identifier given to the page.
type Device struct {
	// Identity
	InternalID string
	ExternalID string
	PageID     string

	// Advertisement captured when the device was granted.
	Name          string
	Advertisement radio.Advertisement

	State     ConnectionState
	GrantedAt time.Time
}

// Clone returns an independent copy of the device.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	if d.Advertisement.Services != nil {
		cpy.Advertisement.Services = append([]uuid.UUID(nil), d.Advertisement.Services...)
	}
	if d.Advertisement.TxPower != nil {
		tx := *d.Advertisement.TxPower
		cpy.Advertisement.TxPower = &tx
	}
	return &cpy
}

// Description is the page-visible form of a device.
type Description struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	AdData AdData `json:"adData"`
}

// AdData is the advertisement portion of a Description.
type AdData struct {
	RSSI         int      `json:"rssi"`
	TxPower      *int     `json:"txPower,omitempty"`
	ServiceUUIDs []string `json:"serviceUUIDs"`
}

// Description builds the page-visible description. It carries the external
// identifier only.
func (d *Device) Description() Description {
	name := d.Name
	if name == "" {
		name = d.Advertisement.LocalName
	}
	services := make([]string, 0, len(d.Advertisement.Services))
	for _, s := range d.Advertisement.Services {
		services = append(services, s.String())
	}
	return Description{
		ID:   d.ExternalID,
		Name: name,
		AdData: AdData{
			RSSI:         d.Advertisement.RSSI,
			TxPower:      d.Advertisement.TxPower,
			ServiceUUIDs: services,
		},
	}
}

// DescriptionJSON returns the description encoded as JSON.
func (d *Device) DescriptionJSON() (json.RawMessage, error) {
	return json.Marshal(d.Description())
}

// NewExternalID returns a fresh random external identifier.
func NewExternalID() string {
	return uuid.NewString()
}

// ConnectionState is the GATT connection state of a granted device.
type ConnectionState string

// Connection states. A device cycles
// Disconnected → Connecting → Connected → Disconnected.
const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
)

// AllConnectionStates returns all valid connection states.
func AllConnectionStates() []ConnectionState {
	return []ConnectionState{StateDisconnected, StateConnecting, StateConnected}
}
