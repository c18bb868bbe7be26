// Package ble implements the Web Bluetooth request engine for webble.
//
// Pages send Web Bluetooth calls as keyed requests over their transport. The
// engine classifies each request, drives BLE discovery through a radio
// adapter, grants selected devices to the page under opaque identifiers and
// replies asynchronously.
//
// # Architecture
//
//	┌──────────┐  frames   ┌──────────┐  Submit   ┌───────────┐  commands  ┌─────────┐
//	│   Page   │◄─────────►│   API    │──────────►│  Manager  │───────────►│  Radio  │
//	└──────────┘           └──────────┘           │ (engine)  │◄───────────│ Adapter │
//	                                              └───────────┘   events   └─────────┘
//
// # Requests
//
// A request key has the form "<dotted.type.path>#<correlationId>". The first
// path component selects the kind:
//
//   - requestDevice: run a device selection with filters or acceptAllDevices
//   - getDevices: list previously granted devices from the device cache
//   - device.<action>: connectGATT, disconnectGATT or forget on a granted device
//
// Every request becomes a Transaction that resolves exactly once. Failures
// carry the stable reason strings in reasons.go.
//
// # Selection
//
// Only one selection runs at a time. Discovered peripherals are matched
// against the filters (any clause; every constraint within a clause), kept
// once per radio identity and, when the window closes, the strongest signal
// wins. Ties go to the first peripheral seen.
//
// # Identity
//
// The page only ever sees external identifiers, random UUIDs issued at grant
// time. Radio identifiers stay inside the bridge.
//
// # Thread Safety
//
// Manager state is owned by the engine goroutine. Submit and TeardownPage are
// safe for concurrent use.
package ble
