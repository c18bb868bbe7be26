package ble

import (
	"fmt"
	"strings"
	"time"
)

// MQTT topics used by the BLE bridge. These follow the flat scheme
// webble/{category}/{protocol}/{id}.
const (
	topicPrefix = "webble"
	protocol    = "ble"
)

// EventGATTServerDisconnected is emitted to the owning page when a granted
// device loses its connection.
const EventGATTServerDisconnected = "gattserverdisconnected"

// HealthTopic returns the topic for bridge health.
//
// Example: webble/health/ble
func HealthTopic() string {
	return fmt.Sprintf("%s/health/%s", topicPrefix, protocol)
}

// NavigateSubscribeTopic returns the wildcard topic the shell publishes page
// navigations to.
//
// Example: webble/command/page/+/navigate
func NavigateSubscribeTopic() string {
	return topicPrefix + "/command/page/+/navigate"
}

// parseNavigateTopic extracts the page id from a navigate topic.
func parseNavigateTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[0] != topicPrefix || parts[1] != "command" ||
		parts[2] != "page" || parts[4] != "navigate" || parts[3] == "" {
		return "", false
	}
	return parts[3], true
}

// DisconnectedEvent is the payload of EventGATTServerDisconnected.
type DisconnectedEvent struct {
	DeviceID string `json:"deviceId"`
}

// ConnectResult is the success value of connectGATT.
type ConnectResult struct {
	Connected bool `json:"connected"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthUnhealthy indicates the adapter cannot be used.
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthOffline is the LWT status set by the broker.
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is initialising.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates a graceful shutdown.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published by the bridge to report its status.
// Topic: webble/health/ble
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge         string       `json:"bridge"`
	Timestamp      time.Time    `json:"timestamp"`
	Status         HealthStatus `json:"status"`
	Reason         string       `json:"reason,omitempty"`
	Version        string       `json:"version,omitempty"`
	UptimeSeconds  int64        `json:"uptime_seconds,omitempty"`
	AdapterState   string       `json:"adapter_state,omitempty"`
	Scanning       bool         `json:"scanning"`
	GrantedDevices int          `json:"granted_devices"`
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, snap Status, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:         bridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		AdapterState:   snap.AdapterState,
		Scanning:       snap.Scanning,
		GrantedDevices: snap.GrantedDevices,
	}
}

// NewLWTMessage creates the Last Will and Testament message.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}
