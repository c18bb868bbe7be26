package radio

import "github.com/google/uuid"

// State is the adapter power/authorisation state.
type State int

// Adapter states.
const (
	StateUnknown State = iota
	StatePoweredOn
	StatePoweredOff
	StateUnauthorized
	StateUnsupported
)

// String returns the state name used in logs and status responses.
func (s State) String() string {
	switch s {
	case StatePoweredOn:
		return "powered_on"
	case StatePoweredOff:
		return "powered_off"
	case StateUnauthorized:
		return "unauthorized"
	case StateUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Peripheral is a BLE device as seen by the radio stack. ID is radio-assigned
// and stable for the process lifetime.
type Peripheral struct {
	ID   string
	Name string
}

// Advertisement is the advertisement snapshot captured at discovery.
type Advertisement struct {
	LocalName string
	Services  []uuid.UUID
	TxPower   *int
	RSSI      int
}

// Advertises reports whether service u is listed in the advertisement.
func (a Advertisement) Advertises(u uuid.UUID) bool {
	for _, s := range a.Services {
		if s == u {
			return true
		}
	}
	return false
}

// Adapter is the radio stack as consumed by the engine.
//
// Commands return immediately. Errors returned by a command mean the command
// was not issued; outcomes of issued commands arrive as Events.
type Adapter interface {
	// State returns the current adapter state.
	State() State

	// StartDiscovery begins scanning. A nil or empty services slice scans for
	// every peripheral; otherwise only peripherals advertising one of the
	// services are reported.
	StartDiscovery(services []uuid.UUID) error

	// StopDiscovery stops an active scan.
	StopDiscovery() error

	// IsDiscovering reports whether a scan is active.
	IsDiscovering() bool

	// RetrievePeripheral looks up a peripheral the radio stack already knows.
	RetrievePeripheral(id string) (Peripheral, bool)

	// Connect requests a connection. Completion arrives as Connected or
	// ConnectFailed.
	Connect(id string) error

	// Disconnect requests a disconnection. Completion arrives as Disconnected.
	Disconnect(id string) error

	// Events delivers radio callbacks in arrival order. The channel is closed
	// by Close.
	Events() <-chan Event

	// Close releases radio resources.
	Close() error
}
