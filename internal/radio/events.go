package radio

// Event is a radio-stack callback delivered on Adapter.Events.
type Event interface {
	radioEvent()
}

// StateChanged reports an adapter state transition.
type StateChanged struct {
	State State
}

// Discovered reports an advertisement from a peripheral during discovery.
// Repeated advertisements from the same peripheral produce repeated events.
type Discovered struct {
	Peripheral    Peripheral
	Advertisement Advertisement
}

// Connected reports that a connection to the peripheral is established.
type Connected struct {
	PeripheralID string
}

// Disconnected reports that the peripheral disconnected. Err is nil for a
// requested disconnection.
type Disconnected struct {
	PeripheralID string
	Err          error
}

// ConnectFailed reports that a requested connection could not be made.
type ConnectFailed struct {
	PeripheralID string
	Err          error
}

func (StateChanged) radioEvent()  {}
func (Discovered) radioEvent()    {}
func (Connected) radioEvent()     {}
func (Disconnected) radioEvent()  {}
func (ConnectFailed) radioEvent() {}
