// Package device provides the registry of BLE peripherals granted to pages.
//
// Every granted device has two identities:
//
//   - InternalID: the identifier assigned by the radio stack (a Bluetooth
//     address on BlueZ). Used to route radio callbacks. Never sent to a page.
//   - ExternalID: a random UUIDv4 issued when the device is granted. This is
//     the only identifier a page ever sees.
//
// The Registry keeps one index per identity and updates both under a single
// lock, so a device is either reachable by both identifiers or by neither.
//
// # Usage
//
//	registry := device.NewRegistry()
//	registry.SetLogger(log)
//
//	dev := &device.Device{
//	    InternalID:    peripheral.ID,
//	    ExternalID:    device.NewExternalID(),
//	    PageID:        page.ID(),
//	    Advertisement: adv,
//	    State:         device.StateDisconnected,
//	}
//	if err := registry.Register(dev); err != nil {
//	    return err
//	}
//
//	// Page request carries the external id
//	dev, ok := registry.LookupByExternal(req.DeviceID)
//
//	// Radio callback carries the internal id
//	dev, ok := registry.LookupByInternal(ev.PeripheralID)
//
// # Thread Safety
//
// The Registry is safe for concurrent use. The engine mutates it from its
// own goroutine; the HTTP API reads it concurrently.
package device
