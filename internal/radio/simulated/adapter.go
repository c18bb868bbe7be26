// Package simulated provides an in-process radio adapter.
//
// It keeps a set of peripherals that can be "advertised" on demand and
// answers connect/disconnect requests without hardware. The bridge uses it
// when bluetooth.backend is "simulated"; tests use it to script radio events.
package simulated

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/webble-core/internal/radio"
)

// Options configures a simulated adapter.
type Options struct {
	// InitialState is the adapter state at construction. Default: powered on.
	InitialState radio.State

	// ManualConnect disables automatic completion of Connect requests; tests
	// then complete them with CompleteConnect or FailConnect.
	ManualConnect bool
}

// Adapter is a radio.Adapter backed by memory.
//
// Thread Safety: all methods are safe for concurrent use. Events are
// delivered in the order they were produced.
type Adapter struct {
	mu          sync.Mutex
	state       radio.State
	discovering bool
	filter      []uuid.UUID
	known       map[string]radio.Peripheral
	connected   map[string]bool
	manual      bool
	closed      bool

	// Call log for assertions.
	startCalls [][]uuid.UUID
	stopCalls  int

	queue  *eventQueue
	events chan radio.Event
}

var _ radio.Adapter = (*Adapter)(nil)

// New creates a simulated adapter and starts its event pump.
func New(opts Options) *Adapter {
	state := opts.InitialState
	if state == radio.StateUnknown {
		state = radio.StatePoweredOn
	}
	a := &Adapter{
		state:     state,
		known:     make(map[string]radio.Peripheral),
		connected: make(map[string]bool),
		manual:    opts.ManualConnect,
		events:    make(chan radio.Event),
	}
	a.queue = newEventQueue(a.events)
	return a
}

// State returns the current adapter state.
func (a *Adapter) State() radio.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// StartDiscovery begins a simulated scan restricted to services.
func (a *Adapter) StartDiscovery(services []uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return radio.ErrClosed
	}
	if a.state != radio.StatePoweredOn {
		return radio.ErrNotPowered
	}
	a.discovering = true
	a.filter = append([]uuid.UUID(nil), services...)
	a.startCalls = append(a.startCalls, a.filter)
	return nil
}

// StopDiscovery ends the simulated scan.
func (a *Adapter) StopDiscovery() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return radio.ErrClosed
	}
	a.discovering = false
	a.filter = nil
	a.stopCalls++
	return nil
}

// IsDiscovering reports whether a scan is active.
func (a *Adapter) IsDiscovering() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.discovering
}

// RetrievePeripheral returns a peripheral previously added or advertised.
func (a *Adapter) RetrievePeripheral(id string) (radio.Peripheral, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.known[id]
	return p, ok
}

// Connect requests a connection. Unless ManualConnect is set the request
// completes immediately with a Connected event.
func (a *Adapter) Connect(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return radio.ErrClosed
	}
	if a.state != radio.StatePoweredOn {
		return radio.ErrNotPowered
	}
	if _, ok := a.known[id]; !ok {
		return radio.ErrUnknownPeripheral
	}
	if !a.manual {
		a.connected[id] = true
		a.queue.push(radio.Connected{PeripheralID: id})
	}
	return nil
}

// Disconnect requests a disconnection, completed immediately.
func (a *Adapter) Disconnect(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return radio.ErrClosed
	}
	if !a.connected[id] {
		return nil
	}
	delete(a.connected, id)
	a.queue.push(radio.Disconnected{PeripheralID: id})
	return nil
}

// Events returns the ordered event stream.
func (a *Adapter) Events() <-chan radio.Event {
	return a.events
}

// Close stops the event pump and closes the event channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()
	a.queue.close()
	return nil
}

// =============================================================================
// Scripting
// =============================================================================

// AddKnown registers a peripheral with the radio stack without advertising it,
// as if it had been seen in an earlier process run.
func (a *Adapter) AddKnown(p radio.Peripheral) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.known[p.ID] = p
}

// Advertise delivers a Discovered event when a scan is active and the
// advertisement passes the scan's service restriction. It reports whether the
// event was delivered.
func (a *Adapter) Advertise(p radio.Peripheral, adv radio.Advertisement) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.known[p.ID] = p
	if !a.discovering || a.closed {
		return false
	}
	if len(a.filter) > 0 && !advertisesAny(adv, a.filter) {
		return false
	}
	a.queue.push(radio.Discovered{Peripheral: p, Advertisement: adv})
	return true
}

// SetState changes the adapter state and emits StateChanged. Leaving the
// powered state ends any scan and drops connections silently, as a real
// adapter does.
func (a *Adapter) SetState(s radio.State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == s {
		return
	}
	a.state = s
	if s != radio.StatePoweredOn {
		a.discovering = false
		a.filter = nil
		a.connected = make(map[string]bool)
	}
	a.queue.push(radio.StateChanged{State: s})
}

// CompleteConnect finishes a pending manual connect.
func (a *Adapter) CompleteConnect(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected[id] = true
	a.queue.push(radio.Connected{PeripheralID: id})
}

// FailConnect fails a pending manual connect.
func (a *Adapter) FailConnect(id string, err error) {
	if err == nil {
		err = errors.New("simulated connect failure")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queue.push(radio.ConnectFailed{PeripheralID: id, Err: err})
}

// DropConnection simulates a link loss.
func (a *Adapter) DropConnection(id string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.connected, id)
	a.queue.push(radio.Disconnected{PeripheralID: id, Err: err})
}

// Emit pushes an arbitrary event, e.g. a stale callback for an unknown id.
func (a *Adapter) Emit(ev radio.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queue.push(ev)
}

// StartCalls returns the service restriction of every StartDiscovery call.
func (a *Adapter) StartCalls() [][]uuid.UUID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][]uuid.UUID(nil), a.startCalls...)
}

// StopCalls returns how many times StopDiscovery was called.
func (a *Adapter) StopCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopCalls
}

// IsConnected reports whether the simulated link to id is up.
func (a *Adapter) IsConnected(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected[id]
}

func advertisesAny(adv radio.Advertisement, services []uuid.UUID) bool {
	for _, s := range services {
		if adv.Advertises(s) {
			return true
		}
	}
	return false
}
