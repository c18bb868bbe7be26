// Package radio defines the BLE radio adapter consumed by the bridge engine.
//
// An Adapter issues fire-and-forget commands (start/stop discovery, connect,
// disconnect) and reports every result later as an Event on a single channel.
// The engine never blocks on the radio; it reads Events() from its own loop.
//
// Implementations:
//   - radio/bluez: BlueZ over the D-Bus system bus (Linux)
//   - radio/simulated: in-process adapter for development and tests
package radio
