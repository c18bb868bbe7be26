//go:build linux

package bluez

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	dbus "github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/webble-core/internal/radio"
)

const (
	bluezService    = "org.bluez"
	adapterIface    = "org.bluez.Adapter1"
	deviceIface     = "org.bluez.Device1"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"
	propsIface      = "org.freedesktop.DBus.Properties"

	errAccessDenied   = "org.freedesktop.DBus.Error.AccessDenied"
	errNotPermitted   = "org.bluez.Error.NotPermitted"
	errUnknownObject  = "org.freedesktop.DBus.Error.UnknownObject"
	errUnknownMethod  = "org.freedesktop.DBus.Error.UnknownMethod"
	errServiceMissing = "org.freedesktop.DBus.Error.ServiceUnknown"

	signalBuffer   = 64
	connectTimeout = 30 * time.Second
)

// Options configures the BlueZ adapter.
type Options struct {
	// Adapter is the HCI adapter name, e.g. "hci0".
	Adapter string

	// EventBuffer is the capacity of the event channel.
	EventBuffer int

	// Logger receives diagnostic output. Nil disables logging.
	Logger Logger
}

// deviceInfo is what the adapter remembers about a BlueZ device object.
type deviceInfo struct {
	path     dbus.ObjectPath
	name     string
	services []uuid.UUID
	txPower  *int
	rssi     int
}

// Adapter drives a BlueZ HCI adapter over the D-Bus system bus.
//
// Peripheral IDs are Bluetooth addresses ("AA:BB:CC:DD:EE:FF").
//
// Thread Safety: all methods are safe for concurrent use.
type Adapter struct {
	mu          sync.Mutex
	bus         *dbus.Conn
	path        dbus.ObjectPath
	state       radio.State
	discovering bool
	filter      []uuid.UUID
	devices     map[string]*deviceInfo
	closed      bool

	logger Logger
	sigCh  chan *dbus.Signal
	events chan radio.Event
	done   chan struct{}
	wg     sync.WaitGroup
}

var _ radio.Adapter = (*Adapter)(nil)

// Open connects to the system bus, reads the adapter state and subscribes to
// BlueZ object and property signals.
func Open(opts Options) (*Adapter, error) {
	if opts.Adapter == "" {
		opts.Adapter = "hci0"
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = signalBuffer
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	bus, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: connect system bus: %w", err)
	}

	a := &Adapter{
		bus:     bus,
		path:    dbus.ObjectPath("/org/bluez/" + opts.Adapter),
		devices: make(map[string]*deviceInfo),
		logger:  opts.Logger,
		sigCh:   make(chan *dbus.Signal, signalBuffer),
		events:  make(chan radio.Event, opts.EventBuffer),
		done:    make(chan struct{}),
	}
	a.state = a.readState()

	if err := a.subscribe(); err != nil {
		return nil, err
	}
	if err := a.primeDevices(); err != nil {
		a.logger.Warn("bluez: reading managed objects failed", "error", err)
	}

	a.wg.Add(1)
	go a.signalLoop()

	a.logger.Info("bluez adapter opened", "adapter", opts.Adapter, "state", a.state.String())
	return a, nil
}

// State returns the current adapter state.
func (a *Adapter) State() radio.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// StartDiscovery sets an LE discovery filter and starts scanning.
func (a *Adapter) StartDiscovery(services []uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return radio.ErrClosed
	}
	if a.state != radio.StatePoweredOn {
		return radio.ErrNotPowered
	}

	uuids := make([]string, 0, len(services))
	for _, s := range services {
		uuids = append(uuids, s.String())
	}
	filter := map[string]dbus.Variant{
		"Transport":     dbus.MakeVariant("le"),
		"UUIDs":         dbus.MakeVariant(uuids),
		"DuplicateData": dbus.MakeVariant(true),
	}

	obj := a.bus.Object(bluezService, a.path)
	if call := obj.Call(adapterIface+".SetDiscoveryFilter", 0, filter); call.Err != nil {
		return fmt.Errorf("bluez: SetDiscoveryFilter: %w", call.Err)
	}
	if call := obj.Call(adapterIface+".StartDiscovery", 0); call.Err != nil {
		return fmt.Errorf("bluez: StartDiscovery: %w", call.Err)
	}

	a.discovering = true
	a.filter = append([]uuid.UUID(nil), services...)
	return nil
}

// StopDiscovery stops scanning.
func (a *Adapter) StopDiscovery() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return radio.ErrClosed
	}
	a.discovering = false
	a.filter = nil

	call := a.bus.Object(bluezService, a.path).Call(adapterIface+".StopDiscovery", 0)
	if call.Err != nil && dbusErrorName(call.Err) != "org.bluez.Error.Failed" {
		return fmt.Errorf("bluez: StopDiscovery: %w", call.Err)
	}
	return nil
}

// IsDiscovering reports whether a scan started by this adapter is active.
func (a *Adapter) IsDiscovering() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.discovering
}

// RetrievePeripheral returns a device BlueZ already holds an object for.
func (a *Adapter) RetrievePeripheral(id string) (radio.Peripheral, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	info, ok := a.devices[strings.ToUpper(id)]
	if !ok {
		return radio.Peripheral{}, false
	}
	return radio.Peripheral{ID: strings.ToUpper(id), Name: info.name}, true
}

// Connect issues Device1.Connect in the background. Success produces
// Connected; failure produces ConnectFailed.
func (a *Adapter) Connect(id string) error {
	obj, err := a.deviceObject(id)
	if err != nil {
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()

		call := obj.CallWithContext(ctx, deviceIface+".Connect", 0)
		if call.Err != nil {
			a.logger.Debug("bluez: connect failed", "peripheral", id, "error", call.Err)
			a.emit(radio.ConnectFailed{PeripheralID: id, Err: call.Err})
			return
		}
		a.emit(radio.Connected{PeripheralID: id})
	}()
	return nil
}

// Disconnect issues Device1.Disconnect in the background. Completion arrives
// as Disconnected through the Connected property signal.
func (a *Adapter) Disconnect(id string) error {
	obj, err := a.deviceObject(id)
	if err != nil {
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if call := obj.Call(deviceIface+".Disconnect", 0); call.Err != nil {
			a.logger.Debug("bluez: disconnect failed", "peripheral", id, "error", call.Err)
		}
	}()
	return nil
}

// Events returns the event stream.
func (a *Adapter) Events() <-chan radio.Event {
	return a.events
}

// Close stops discovery, removes signal matches and closes the event channel.
// The shared system bus connection stays open.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	wasDiscovering := a.discovering
	a.discovering = false
	a.mu.Unlock()

	if wasDiscovering {
		_ = a.bus.Object(bluezService, a.path).Call(adapterIface+".StopDiscovery", 0).Err //nolint:errcheck // best effort
	}

	a.bus.RemoveSignal(a.sigCh)
	_ = a.bus.RemoveMatchSignal( //nolint:errcheck // best effort
		dbus.WithMatchInterface(objManagerIface),
		dbus.WithMatchMember("InterfacesAdded"),
	)
	_ = a.bus.RemoveMatchSignal( //nolint:errcheck // best effort
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace(a.path),
	)

	close(a.done)
	a.wg.Wait()
	close(a.events)
	return nil
}

// =============================================================================
// Signals
// =============================================================================

func (a *Adapter) subscribe() error {
	if err := a.bus.AddMatchSignal(
		dbus.WithMatchInterface(objManagerIface),
		dbus.WithMatchMember("InterfacesAdded"),
	); err != nil {
		return fmt.Errorf("bluez: AddMatchSignal(InterfacesAdded): %w", err)
	}
	if err := a.bus.AddMatchSignal(
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace(a.path),
	); err != nil {
		return fmt.Errorf("bluez: AddMatchSignal(PropertiesChanged): %w", err)
	}
	a.bus.Signal(a.sigCh)
	return nil
}

func (a *Adapter) signalLoop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.done:
			return
		case sig, ok := <-a.sigCh:
			if !ok {
				return
			}
			if sig == nil {
				continue
			}
			switch sig.Name {
			case objManagerIface + ".InterfacesAdded":
				a.handleInterfacesAdded(sig)
			case propsIface + ".PropertiesChanged":
				a.handlePropertiesChanged(sig)
			}
		}
	}
}

func (a *Adapter) handleInterfacesAdded(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	path, _ := sig.Body[0].(dbus.ObjectPath)
	ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)
	props, ok := ifaces[deviceIface]
	if !ok || !strings.HasPrefix(string(path), string(a.path)+"/") {
		return
	}

	a.mu.Lock()
	id, info := a.storeDevice(path, props)
	ev, deliver := a.discoveredLocked(id, info)
	a.mu.Unlock()

	if deliver {
		a.emit(ev)
	}
}

func (a *Adapter) handlePropertiesChanged(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	iface, _ := sig.Body[0].(string)
	changed, _ := sig.Body[1].(map[string]dbus.Variant)
	if changed == nil {
		return
	}

	switch iface {
	case adapterIface:
		if sig.Path != a.path {
			return
		}
		a.adapterChanged(changed)
	case deviceIface:
		a.deviceChanged(sig.Path, changed)
	}
}

func (a *Adapter) adapterChanged(changed map[string]dbus.Variant) {
	v, ok := changed["Powered"]
	if !ok {
		return
	}
	powered, _ := v.Value().(bool)
	next := radio.StatePoweredOff
	if powered {
		next = radio.StatePoweredOn
	}

	a.mu.Lock()
	if a.state == next {
		a.mu.Unlock()
		return
	}
	a.state = next
	if next != radio.StatePoweredOn {
		a.discovering = false
		a.filter = nil
	}
	a.mu.Unlock()

	a.logger.Info("bluez adapter state changed", "state", next.String())
	a.emit(radio.StateChanged{State: next})
}

func (a *Adapter) deviceChanged(path dbus.ObjectPath, changed map[string]dbus.Variant) {
	id := macFromPath(path)
	if id == "" {
		return
	}

	if v, ok := changed["Connected"]; ok {
		if connected, _ := v.Value().(bool); !connected {
			a.emit(radio.Disconnected{PeripheralID: id})
		}
	}

	if _, ok := changed["RSSI"]; !ok {
		return
	}

	a.mu.Lock()
	info, known := a.devices[id]
	if !known {
		info = &deviceInfo{path: path}
		a.devices[id] = info
	}
	applyDeviceProps(info, changed)
	ev, deliver := a.discoveredLocked(id, info)
	a.mu.Unlock()

	if deliver {
		a.emit(ev)
	}
}

// discoveredLocked builds a Discovered event when a scan is running and the
// device passes its service restriction. Caller holds a.mu.
func (a *Adapter) discoveredLocked(id string, info *deviceInfo) (radio.Discovered, bool) {
	if !a.discovering {
		return radio.Discovered{}, false
	}
	if len(a.filter) > 0 && !containsAny(info.services, a.filter) {
		return radio.Discovered{}, false
	}
	return radio.Discovered{
		Peripheral: radio.Peripheral{ID: id, Name: info.name},
		Advertisement: radio.Advertisement{
			LocalName: info.name,
			Services:  append([]uuid.UUID(nil), info.services...),
			TxPower:   info.txPower,
			RSSI:      info.rssi,
		},
	}, true
}

func (a *Adapter) emit(ev radio.Event) {
	select {
	case a.events <- ev:
	case <-a.done:
	}
}

// =============================================================================
// Helpers
// =============================================================================

func (a *Adapter) readState() radio.State {
	obj := a.bus.Object(bluezService, a.path)
	var powered dbus.Variant
	call := obj.Call(propsIface+".Get", 0, adapterIface, "Powered")
	if call.Err != nil {
		switch dbusErrorName(call.Err) {
		case errAccessDenied, errNotPermitted:
			return radio.StateUnauthorized
		case errUnknownObject, errUnknownMethod, errServiceMissing:
			return radio.StateUnsupported
		default:
			a.logger.Warn("bluez: reading adapter power state failed", "error", call.Err)
			return radio.StateUnknown
		}
	}
	if err := call.Store(&powered); err != nil {
		return radio.StateUnknown
	}
	if on, _ := powered.Value().(bool); on {
		return radio.StatePoweredOn
	}
	return radio.StatePoweredOff
}

// primeDevices loads the devices BlueZ already knows so RetrievePeripheral
// works for peripherals seen before this process started.
func (a *Adapter) primeDevices() error {
	obj := a.bus.Object(bluezService, dbus.ObjectPath("/"))
	var objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if call := obj.Call(objManagerIface+".GetManagedObjects", 0); call.Err != nil {
		return fmt.Errorf("bluez: GetManagedObjects: %w", call.Err)
	} else if err := call.Store(&objs); err != nil {
		return fmt.Errorf("bluez: decode GetManagedObjects: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for path, ifaces := range objs {
		props, ok := ifaces[deviceIface]
		if !ok || !strings.HasPrefix(string(path), string(a.path)+"/") {
			continue
		}
		a.storeDevice(path, props)
	}
	return nil
}

// storeDevice records a device object. Caller holds a.mu.
func (a *Adapter) storeDevice(path dbus.ObjectPath, props map[string]dbus.Variant) (string, *deviceInfo) {
	id := ""
	if v, ok := props["Address"]; ok {
		id, _ = v.Value().(string)
	}
	if id == "" {
		id = macFromPath(path)
	}
	id = strings.ToUpper(id)

	info, ok := a.devices[id]
	if !ok {
		info = &deviceInfo{path: path}
		a.devices[id] = info
	}
	applyDeviceProps(info, props)
	return id, info
}

func (a *Adapter) deviceObject(id string) (dbus.BusObject, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, radio.ErrClosed
	}
	if a.state != radio.StatePoweredOn {
		return nil, radio.ErrNotPowered
	}
	info, ok := a.devices[strings.ToUpper(id)]
	if !ok {
		return nil, radio.ErrUnknownPeripheral
	}
	return a.bus.Object(bluezService, info.path), nil
}

func applyDeviceProps(info *deviceInfo, props map[string]dbus.Variant) {
	if v, ok := props["Name"]; ok {
		info.name, _ = v.Value().(string)
	} else if v, ok := props["Alias"]; ok && info.name == "" {
		info.name, _ = v.Value().(string)
	}
	if v, ok := props["UUIDs"]; ok {
		raw, _ := v.Value().([]string)
		info.services = parseUUIDs(raw)
	}
	if v, ok := props["RSSI"]; ok {
		if rssi, ok := v.Value().(int16); ok {
			info.rssi = int(rssi)
		}
	}
	if v, ok := props["TxPower"]; ok {
		if tx, ok := v.Value().(int16); ok {
			p := int(tx)
			info.txPower = &p
		}
	}
}

func parseUUIDs(raw []string) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		u, err := uuid.Parse(s)
		if err != nil {
			continue
		}
		out = append(out, u)
	}
	return out
}

func containsAny(have, want []uuid.UUID) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// macFromPath extracts "AA:BB:CC:DD:EE:FF" from ".../dev_AA_BB_CC_DD_EE_FF".
func macFromPath(p dbus.ObjectPath) string {
	s := string(p)
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return ""
	}
	return strings.ToUpper(strings.ReplaceAll(s[idx+5:], "_", ":"))
}

// dbusErrorName returns the D-Bus error name carried by err, or "".
func dbusErrorName(err error) string {
	var e dbus.Error
	if errors.As(err, &e) {
		return e.Name
	}
	var pe *dbus.Error
	if errors.As(err, &pe) && pe != nil {
		return pe.Name
	}
	return ""
}
