package ble

import "time"

// Logger interface for dependency injection.
// Compatible with *logging.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the subset of the MQTT client the manager uses.
// This allows mocking the broker in tests.
type MQTTClient interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for messages matching the topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Notifier posts user-facing notifications to the shell.
type Notifier interface {
	Notify(title, message string) error
}

// Telemetry records scan activity in a time-series store.
type Telemetry interface {
	RecordDiscovery(peripheralID string, rssi int, accepted bool)
	RecordSelection(outcome string, candidates int, duration time.Duration)
}

// Metrics receives engine counters for the /metrics endpoint.
type Metrics interface {
	RequestHandled(kind, result string)
	DiscoveryObserved(accepted bool)
	SelectionFinished(result string, candidates int, duration time.Duration)
	SetGrantedDevices(n int)
	SetAdapterState(state string)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopTelemetry struct{}

func (noopTelemetry) RecordDiscovery(string, int, bool)          {}
func (noopTelemetry) RecordSelection(string, int, time.Duration) {}

type noopMetrics struct{}

func (noopMetrics) RequestHandled(string, string)                {}
func (noopMetrics) DiscoveryObserved(bool)                       {}
func (noopMetrics) SelectionFinished(string, int, time.Duration) {}
func (noopMetrics) SetGrantedDevices(int)                        {}
func (noopMetrics) SetAdapterState(string)                       {}
