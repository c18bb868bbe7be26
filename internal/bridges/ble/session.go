package ble

import (
	"errors"

	"github.com/nerrad567/webble-core/internal/device"
	"github.com/nerrad567/webble-core/internal/radio"
)

// handleDevice runs per-device triage on the sub-path of a device request.
func (m *Manager) handleDevice(txn *Transaction, dev *device.Device, r *DeviceRequest) {
	switch r.Action() {
	case ActionConnectGATT:
		m.connectGATT(txn, dev)
	case ActionDisconnectGATT:
		m.disconnectGATT(txn, dev)
	case ActionForget:
		m.forget(txn, dev)
	default:
		m.fail(txn, ReasonUnsupported(txn.Key))
	}
}

// connectGATT resolves once the radio reports the connection. Concurrent
// requests for a connecting device share the outcome.
func (m *Manager) connectGATT(txn *Transaction, dev *device.Device) {
	id := dev.InternalID

	switch dev.State {
	case device.StateConnected:
		m.succeed(txn, ConnectResult{Connected: true})
		return
	case device.StateConnecting:
		m.pending[id] = append(m.pending[id], txn)
		return
	}

	if err := m.registry.SetState(id, device.StateConnecting); err != nil {
		m.logError("failed to update device state", err)
	}
	m.pending[id] = append(m.pending[id], txn)

	if err := m.adapter.Connect(id); err != nil {
		m.logWarn("connect request rejected by adapter", "external_id", dev.ExternalID, "error", err)
		if err := m.registry.SetState(id, device.StateDisconnected); err != nil {
			m.logError("failed to update device state", err)
		}
		reason := ReasonConnectFailed
		if errors.Is(err, radio.ErrNotPowered) {
			reason = ReasonBluetoothOff
		}
		m.failPending(id, reason)
		return
	}
	m.logDebug("connect requested", "external_id", dev.ExternalID)
}

// disconnectGATT asks the radio to drop the link. The device stays granted
// until the radio confirms the disconnection.
func (m *Manager) disconnectGATT(txn *Transaction, dev *device.Device) {
	switch dev.State {
	case device.StateConnecting:
		// A cancelled attempt may never report back.
		if err := m.registry.SetState(dev.InternalID, device.StateDisconnected); err != nil {
			m.logError("failed to update device state", err)
		}
		m.failPending(dev.InternalID, ReasonDisconnected)
		fallthrough
	case device.StateConnected:
		if err := m.adapter.Disconnect(dev.InternalID); err != nil {
			m.logWarn("disconnect request rejected by adapter", "external_id", dev.ExternalID, "error", err)
		}
	}
	m.succeed(txn, ConnectResult{Connected: false})
}

// forget disconnects the device and revokes its grant, including the
// persisted cache entry used for reconnection.
func (m *Manager) forget(txn *Transaction, dev *device.Device) {
	m.failPending(dev.InternalID, ReasonDisconnected)
	if dev.State != device.StateDisconnected {
		if err := m.adapter.Disconnect(dev.InternalID); err != nil {
			m.logDebug("disconnect on forget failed", "external_id", dev.ExternalID, "error", err)
		}
	}
	m.registry.Unregister(dev.InternalID)
	m.metrics.SetGrantedDevices(m.registry.Len())
	m.unpersist(dev.ExternalID)

	m.logInfo("device forgotten", "external_id", dev.ExternalID, "page_id", dev.PageID)
	m.succeed(txn, nil)
}

// didDisconnect moves a device to Disconnected, fails its pending connects and
// tells the owning page if the device had a link.
func (m *Manager) didDisconnect(dev *device.Device) {
	prev := dev.State
	if err := m.registry.SetState(dev.InternalID, device.StateDisconnected); err != nil {
		m.logError("failed to update device state", err)
	}
	m.failPending(dev.InternalID, ReasonDisconnected)

	if prev != device.StateDisconnected {
		m.emit(dev.PageID, EventGATTServerDisconnected, DisconnectedEvent{DeviceID: dev.ExternalID})
	}
}

func (m *Manager) resolvePending(internalID string, value any) {
	txns := m.pending[internalID]
	delete(m.pending, internalID)
	for _, txn := range txns {
		m.succeed(txn, value)
	}
}

func (m *Manager) failPending(internalID, reason string) {
	txns := m.pending[internalID]
	delete(m.pending, internalID)
	for _, txn := range txns {
		m.fail(txn, reason)
	}
}
