// Package influxdb records scan telemetry in InfluxDB v2.
//
// Two measurements are written:
//   - ble_discovery: one point per advertisement seen during a selection
//     (tag peripheral; fields rssi, accepted)
//   - ble_selection: one point per finished selection (tag outcome;
//     fields candidates, duration_ms)
//
// The Client satisfies the bridge's Telemetry interface. Writes are
// batched and non-blocking; use SetOnError to observe failures.
package influxdb
