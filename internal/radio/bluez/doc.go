// Package bluez implements radio.Adapter on top of BlueZ via D-Bus.
//
// The adapter talks to org.bluez on the system bus:
//
//   - Adapter1.SetDiscoveryFilter / StartDiscovery / StopDiscovery for scans
//   - ObjectManager.InterfacesAdded and Properties.PropertiesChanged signals
//     for advertisements, RSSI updates, power and link state
//   - Device1.Connect / Disconnect for connections
//
// It is only built on Linux. Other platforms use the simulated backend.
package bluez
