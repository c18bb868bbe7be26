package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/webble-core/internal/device"
	"github.com/nerrad567/webble-core/internal/devicecache"
	"github.com/nerrad567/webble-core/internal/radio"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultScanTimeout  = 10 * time.Second
	DefaultEventBuffer  = 64
	DefaultCacheTimeout = 2 * time.Second
	cacheQueueSize      = 64
)

// Config holds engine settings.
type Config struct {
	// BridgeID identifies this bridge in health messages.
	BridgeID string

	// ScanTimeout is used when a requestDevice call supplies no positive timeout.
	ScanTimeout time.Duration

	// EarlySelectRSSI finishes a selection as soon as a candidate at or above
	// this RSSI is discovered. Zero disables early selection.
	EarlySelectRSSI int

	// EventBuffer is the capacity of the inbound event queue.
	EventBuffer int

	// HealthInterval is how often health is published over MQTT.
	HealthInterval time.Duration

	// CacheTimeout bounds each device cache call.
	CacheTimeout time.Duration
}

// Options configures a Manager.
type Options struct {
	Config Config

	// Adapter is the radio stack. Required.
	Adapter radio.Adapter

	// Registry holds granted devices. A new registry is created when nil.
	Registry *device.Registry

	// Cache persists granted devices for getDevices and reconnection.
	// Optional; without it getDevices returns an empty list.
	Cache devicecache.Store

	// MQTT carries health and shell navigation. Optional.
	MQTT MQTTClient

	// Notifier posts shell notifications. Optional.
	Notifier Notifier

	// Telemetry records discoveries and selections. Optional.
	Telemetry Telemetry

	// Metrics receives engine counters. Optional.
	Metrics Metrics

	// Logger is an optional structured logger.
	Logger Logger

	// Version is reported in health messages.
	Version string
}

// Status is a point-in-time view of the engine for the API and health.
type Status struct {
	AdapterState   string `json:"adapter_state"`
	Scanning       bool   `json:"scanning"`
	GrantedDevices int    `json:"granted_devices"`
}

// Engine events. Producers only enqueue; the engine goroutine handles them.
type (
	submitEvent   struct{ txn *Transaction }
	timeoutEvent  struct{ gen uint64 }
	teardownEvent struct{ pageID string }
)

type cacheOp struct {
	put    *devicecache.Entry
	remove string
}

// Manager is the request and device lifecycle engine.
//
// Every request, radio event, scan timeout and page teardown is handled on a
// single goroutine started by Start. Submit and TeardownPage may be called
// from any goroutine. Transactions submitted to the manager must only be
// resolved by the manager.
type Manager struct {
	cfg       Config
	adapter   radio.Adapter
	registry  *device.Registry
	cache     devicecache.Store
	mqtt      MQTTClient
	notifier  Notifier
	telemetry Telemetry
	metrics   Metrics
	health    *HealthReporter

	// Engine goroutine state
	scan    *scanController
	pending map[string][]*Transaction // internal id -> connectGATT waiting on the radio
	pages   map[string]Page

	events   chan any
	cacheOps chan cacheOp

	scanning atomic.Bool
	started  atomic.Bool

	ctx       context.Context
	ctxCancel context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a manager. Call Start to begin processing.
func New(opts Options) (*Manager, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("radio adapter is required")
	}

	cfg := opts.Config
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = DefaultScanTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	if cfg.CacheTimeout <= 0 {
		cfg.CacheTimeout = DefaultCacheTimeout
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:       cfg,
		adapter:   opts.Adapter,
		registry:  opts.Registry,
		cache:     opts.Cache,
		mqtt:      opts.MQTT,
		notifier:  opts.Notifier,
		telemetry: opts.Telemetry,
		metrics:   opts.Metrics,
		pending:   make(map[string][]*Transaction),
		pages:     make(map[string]Page),
		events:    make(chan any, cfg.EventBuffer),
		cacheOps:  make(chan cacheOp, cacheQueueSize),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		done:      make(chan struct{}),
		logger:    opts.Logger,
	}
	if m.registry == nil {
		m.registry = device.NewRegistry()
	}
	if m.telemetry == nil {
		m.telemetry = noopTelemetry{}
	}
	if m.metrics == nil {
		m.metrics = noopMetrics{}
	}
	if m.logger == nil {
		m.logger = noopLogger{}
	}
	m.scan = newScanController(m.adapter, cfg.EarlySelectRSSI, m.armTimeout)

	if opts.MQTT != nil {
		m.health = NewHealthReporter(HealthReporterConfig{
			BridgeID:  cfg.BridgeID,
			Version:   opts.Version,
			Interval:  cfg.HealthInterval,
			Publisher: opts.MQTT,
			Status:    m.Status,
		})
		m.health.SetLogger(m.logger)
	}

	return m, nil
}

// Start subscribes to shell navigation, starts health reporting and runs
// the engine goroutine until ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	if m.started.Load() {
		return ErrAlreadyStarted
	}

	if m.health != nil {
		if err := m.health.PublishStarting(); err != nil {
			m.logError("failed to publish starting status", err)
		}
	}

	if m.mqtt != nil {
		topic := NavigateSubscribeTopic()
		if err := m.mqtt.Subscribe(topic, 1, m.handleNavigate); err != nil {
			return fmt.Errorf("subscribe to navigation: %w", err)
		}
		m.logInfo("subscribed to page navigation", "topic", topic)
	}

	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	m.metrics.SetAdapterState(m.adapter.State().String())
	m.metrics.SetGrantedDevices(m.registry.Len())

	m.wg.Add(2)
	go m.run()
	go m.cacheLoop()

	go func() {
		select {
		case <-ctx.Done():
			m.Stop()
		case <-m.done:
		}
	}()

	if m.health != nil {
		m.health.Start(ctx)
	}

	m.logInfo("bridge started",
		"adapter_state", m.adapter.State().String(),
		"scan_timeout", m.cfg.ScanTimeout.String())
	return nil
}

// Stop shuts the engine down. Outstanding transactions are abandoned.
// The adapter and cache are owned by the caller and left open.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.ctxCancel()

		if m.health != nil {
			m.health.Stop()
		}

		m.wg.Wait()
		m.logInfo("bridge stopped")
	})
}

// Submit enqueues a transaction for the engine.
func (m *Manager) Submit(ctx context.Context, txn *Transaction) error {
	if !m.started.Load() {
		return ErrNotStarted
	}
	select {
	case <-m.done:
		return ErrStopped
	default:
	}

	select {
	case m.events <- submitEvent{txn: txn}:
		return nil
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TeardownPage abandons the page's outstanding selection and releases every
// device granted to it. It is used when a page navigates away or closes.
func (m *Manager) TeardownPage(pageID string) {
	if pageID == "" || !m.started.Load() {
		return
	}
	m.enqueue(teardownEvent{pageID: pageID})
}

// Status returns a snapshot of the engine.
func (m *Manager) Status() Status {
	return Status{
		AdapterState:   m.adapter.State().String(),
		Scanning:       m.scanning.Load(),
		GrantedDevices: m.registry.Len(),
	}
}

// Registry returns the granted device registry.
func (m *Manager) Registry() *device.Registry {
	return m.registry
}

// SetLogger sets the logger for the manager and its health reporter.
func (m *Manager) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.loggerMu.Lock()
	m.logger = logger
	m.loggerMu.Unlock()

	if m.health != nil {
		m.health.SetLogger(logger)
	}
}

func (m *Manager) enqueue(ev any) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

func (m *Manager) armTimeout(d time.Duration, gen uint64) *time.Timer {
	return time.AfterFunc(d, func() {
		m.enqueue(timeoutEvent{gen: gen})
	})
}

// run is the engine goroutine.
func (m *Manager) run() {
	defer m.wg.Done()
	defer m.shutdown()

	radioEvents := m.adapter.Events()
	for {
		select {
		case <-m.done:
			return
		case ev := <-m.events:
			m.handleEvent(ev)
		case ev, ok := <-radioEvents:
			if !ok {
				m.logInfo("radio event stream closed")
				radioEvents = nil
				continue
			}
			m.handleRadioEvent(ev)
		}
	}
}

func (m *Manager) handleEvent(ev any) {
	switch e := ev.(type) {
	case submitEvent:
		m.handleSubmit(e.txn)
	case timeoutEvent:
		m.finishSelection(e.gen, "timeout")
	case teardownEvent:
		m.teardown(e.pageID)
	}
}

// shutdown abandons everything still outstanding when the engine exits.
func (m *Manager) shutdown() {
	if m.scan.active() {
		m.scan.session.txn.Abandon()
	}
	for id := range m.pending {
		m.failPending(id, ReasonSuperseded)
	}
	for {
		select {
		case ev := <-m.events:
			if s, ok := ev.(submitEvent); ok {
				s.txn.Abandon()
			}
		default:
			return
		}
	}
}

// =============================================================================
// Triage
// =============================================================================

func (m *Manager) handleSubmit(txn *Transaction) {
	if txn == nil {
		return
	}
	if p := txn.Page; p != nil {
		m.pages[p.ID()] = p
	}

	req, err := decodeRequest(txn)
	kind := "unknown"
	if err == nil {
		kind = req.Kind()
	}
	txn.AddCompletionHandler(func(o Outcome) {
		m.metrics.RequestHandled(kind, resultLabel(o))
	})

	if err != nil {
		var rej *rejection
		if errors.As(err, &rej) {
			m.logDebug("request rejected", "key", txn.Key.String(), "reason", rej.reason)
			m.fail(txn, rej.reason)
			return
		}
		m.fail(txn, ReasonUnrecognisedType(txn.Key))
		return
	}

	switch r := req.(type) {
	case *RequestDeviceRequest:
		m.requestDevice(txn, r)
	case *GetDevicesRequest:
		m.getDevices(txn)
	case *DeviceRequest:
		m.deviceRequest(txn, r)
	}
}

func (m *Manager) requestDevice(txn *Transaction, r *RequestDeviceRequest) {
	if m.scan.active() {
		m.fail(txn, ReasonSelectionInProgress)
		return
	}
	if reason := adapterReason(m.adapter.State(), m.adapter.IsDiscovering()); reason != "" {
		m.fail(txn, reason)
		return
	}

	timeout := r.Timeout
	if timeout <= 0 {
		if r.TimeoutSupplied {
			m.logWarn("non-positive scan timeout, using default",
				"key", txn.Key.String(), "default", m.cfg.ScanTimeout.String())
		}
		timeout = m.cfg.ScanTimeout
	}

	var filters []Filter
	if !r.AcceptAll {
		filters = r.Filters
	}

	if err := m.scan.start(txn, filters, timeout); err != nil {
		m.logError("failed to start discovery", err)
		reason := poweredReason(m.adapter.State())
		if reason == "" {
			reason = ReasonBluetoothOff
		}
		m.fail(txn, reason)
		return
	}
	m.scanning.Store(true)

	txn.AddCompletionHandler(func(Outcome) {
		m.scan.stopScanning()
		m.scanning.Store(false)
	})

	m.logInfo("device selection started",
		"page_id", txn.PageID(),
		"accept_all", r.AcceptAll,
		"filters", len(filters),
		"timeout", timeout.String())
}

func (m *Manager) getDevices(txn *Transaction) {
	if m.scan.active() {
		m.fail(txn, ReasonGetDevicesInProgress)
		return
	}
	if m.cache == nil {
		m.succeedMany(txn, nil)
		return
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.CacheTimeout)
	defer cancel()

	entries, err := m.cache.List(ctx)
	if err != nil {
		m.logError("failed to read device cache", err)
		m.fail(txn, ReasonCacheUnavailable)
		return
	}

	descs := devicecache.Descriptions(entries)
	values := make([]any, 0, len(descs))
	for _, d := range descs {
		values = append(values, d)
	}
	m.succeedMany(txn, values)
}

func (m *Manager) deviceRequest(txn *Transaction, r *DeviceRequest) {
	if reason := poweredReason(m.adapter.State()); reason != "" {
		m.fail(txn, reason)
		return
	}

	dev, ok := m.lookupDevice(txn, r)
	if !ok {
		m.fail(txn, ReasonNoKnownDevice(txn.Key))
		return
	}
	m.handleDevice(txn, dev, r)
}

// lookupDevice finds a granted device by external id, falling back to
// reconnection through a known peripheral.
func (m *Manager) lookupDevice(txn *Transaction, r *DeviceRequest) (*device.Device, bool) {
	if dev, ok := m.registry.LookupByExternal(r.DeviceID); ok {
		return dev, true
	}

	peripheralID := r.PeripheralID
	if peripheralID == "" && m.cache != nil {
		ctx, cancel := context.WithTimeout(m.ctx, m.cfg.CacheTimeout)
		id, err := m.cache.PeripheralFor(ctx, r.DeviceID)
		cancel()
		if err != nil && !errors.Is(err, devicecache.ErrNotFound) {
			m.logError("failed to read device cache", err)
		}
		peripheralID = id
	}
	if peripheralID == "" {
		return nil, false
	}

	p, ok := m.adapter.RetrievePeripheral(peripheralID)
	if !ok {
		return nil, false
	}

	// A live grant is never re-keyed. The owner keeps reaching it under its
	// own external id; anyone else gets no device.
	if existing, ok := m.registry.LookupByInternal(p.ID); ok {
		if existing.PageID != txn.PageID() {
			m.logWarn("reconnection to a device held by another page refused",
				"page_id", txn.PageID(), "owner_page_id", existing.PageID)
			return nil, false
		}
		return existing, true
	}

	dev := &device.Device{
		InternalID: p.ID,
		ExternalID: r.DeviceID,
		PageID:     txn.PageID(),
		Name:       p.Name,
		State:      device.StateDisconnected,
		GrantedAt:  time.Now().UTC(),
	}
	if err := m.registry.Register(dev); err != nil {
		m.logError("failed to register reconnected device", err)
		return nil, false
	}
	m.metrics.SetGrantedDevices(m.registry.Len())
	m.persist(dev)

	m.logInfo("device reconnected", "external_id", dev.ExternalID, "page_id", dev.PageID)
	return dev, true
}

// =============================================================================
// Selection
// =============================================================================

// finishSelection resolves the session named by gen. The timer and the early
// trigger both land here; claim lets only the first through.
func (m *Manager) finishSelection(gen uint64, trigger string) {
	sess, ok := m.scan.claim(gen)
	if !ok {
		m.logDebug("stale selection trigger ignored", "trigger", trigger)
		return
	}
	if m.adapter.IsDiscovering() {
		if err := m.adapter.StopDiscovery(); err != nil {
			m.logError("failed to stop discovery", err)
		}
	}

	elapsed := time.Since(sess.started)
	count := len(sess.candidates)

	best, found := sess.best()
	if !found {
		m.metrics.SelectionFinished("no_devices", 0, elapsed)
		m.telemetry.RecordSelection("no_devices", 0, elapsed)
		m.logInfo("device selection found nothing", "page_id", sess.txn.PageID(), "trigger", trigger)
		m.fail(sess.txn, ReasonNoDevicesFound)
		return
	}

	dev, err := m.grant(best, sess.txn.PageID())
	if errors.Is(err, ErrGrantedElsewhere) {
		m.metrics.SelectionFinished("in_use", count, elapsed)
		m.telemetry.RecordSelection("in_use", count, elapsed)
		m.logWarn("selected device is granted to another page", "page_id", sess.txn.PageID())
		m.fail(sess.txn, ReasonDeviceInUse)
		return
	}
	if err != nil {
		m.logError("failed to grant device", err)
		m.metrics.SelectionFinished("error", count, elapsed)
		m.fail(sess.txn, ReasonNoDevicesFound)
		return
	}

	m.metrics.SelectionFinished("granted", count, elapsed)
	m.telemetry.RecordSelection("granted", count, elapsed)
	m.logInfo("device granted",
		"external_id", dev.ExternalID,
		"page_id", dev.PageID,
		"candidates", count,
		"trigger", trigger)
	m.succeed(sess.txn, dev.Description())
}

// grant registers a selected candidate. A peripheral already granted to the
// same page keeps its external id; one held by another page is refused with
// ErrGrantedElsewhere.
func (m *Manager) grant(c candidate, pageID string) (*device.Device, error) {
	existing, held := m.registry.LookupByInternal(c.peripheral.ID)
	if held && existing.PageID != pageID {
		return nil, ErrGrantedElsewhere
	}

	name := c.adv.LocalName
	if name == "" {
		name = c.peripheral.Name
	}
	dev := &device.Device{
		InternalID:    c.peripheral.ID,
		ExternalID:    device.NewExternalID(),
		PageID:        pageID,
		Name:          name,
		Advertisement: c.adv,
		State:         device.StateDisconnected,
		GrantedAt:     time.Now().UTC(),
	}
	if held {
		dev.ExternalID = existing.ExternalID
		dev.State = existing.State
		dev.GrantedAt = existing.GrantedAt
	}

	if err := m.registry.Register(dev); err != nil {
		return nil, err
	}
	m.metrics.SetGrantedDevices(m.registry.Len())
	m.persist(dev)
	return dev, nil
}

// teardown releases everything owned by a page.
func (m *Manager) teardown(pageID string) {
	abandoned := false
	if m.scan.active() && m.scan.session.txn.PageID() == pageID {
		m.scan.session.txn.Abandon()
		abandoned = true
	}

	devices := m.registry.ListByPage(pageID)
	for _, dev := range devices {
		m.failPending(dev.InternalID, ReasonSuperseded)
		if dev.State != device.StateDisconnected {
			if err := m.adapter.Disconnect(dev.InternalID); err != nil {
				m.logDebug("disconnect on teardown failed", "external_id", dev.ExternalID, "error", err)
			}
		}
		m.registry.Unregister(dev.InternalID)
	}
	delete(m.pages, pageID)
	m.metrics.SetGrantedDevices(m.registry.Len())

	m.logInfo("page torn down",
		"page_id", pageID,
		"selection_abandoned", abandoned,
		"devices_released", len(devices))
}

// =============================================================================
// Radio events
// =============================================================================

func (m *Manager) handleRadioEvent(ev radio.Event) {
	switch e := ev.(type) {
	case radio.StateChanged:
		m.onStateChanged(e)
	case radio.Discovered:
		m.onDiscovered(e)
	case radio.Connected:
		m.onConnected(e)
	case radio.ConnectFailed:
		m.onConnectFailed(e)
	case radio.Disconnected:
		m.onDisconnected(e)
	}
}

func (m *Manager) onStateChanged(e radio.StateChanged) {
	m.metrics.SetAdapterState(e.State.String())
	m.logInfo("adapter state changed", "state", e.State.String())

	if e.State == radio.StatePoweredOn {
		return
	}

	// Candidates seen before the power loss are not grantable.
	if sess, ok := m.scan.claim(m.scan.currentGen()); ok {
		elapsed := time.Since(sess.started)
		m.metrics.SelectionFinished("adapter_off", len(sess.candidates), elapsed)
		m.telemetry.RecordSelection("adapter_off", len(sess.candidates), elapsed)
		m.logInfo("device selection ended by adapter state", "page_id", sess.txn.PageID(), "state", e.State.String())
		m.fail(sess.txn, poweredReason(e.State))
	}

	// No per-peripheral events arrive once the adapter is down.
	devices := m.registry.List()
	for _, dev := range devices {
		m.didDisconnect(dev)
	}
	m.notify("Bluetooth unavailable", fmt.Sprintf("Bluetooth adapter is %s", e.State))
}

func (m *Manager) onDiscovered(e radio.Discovered) {
	if !m.scan.active() {
		return
	}
	accepted, early := m.scan.onDiscovered(e)
	m.metrics.DiscoveryObserved(accepted)
	m.telemetry.RecordDiscovery(e.Peripheral.ID, e.Advertisement.RSSI, accepted)

	if early {
		m.finishSelection(m.scan.currentGen(), "early")
	}
}

func (m *Manager) onConnected(e radio.Connected) {
	dev, ok := m.registry.LookupByInternal(e.PeripheralID)
	if !ok {
		m.logDebug("connect event for unknown peripheral dropped", "peripheral_id", e.PeripheralID)
		return
	}
	if err := m.registry.SetState(dev.InternalID, device.StateConnected); err != nil {
		m.logError("failed to update device state", err)
	}
	m.resolvePending(dev.InternalID, ConnectResult{Connected: true})
	m.logInfo("device connected", "external_id", dev.ExternalID)
}

func (m *Manager) onConnectFailed(e radio.ConnectFailed) {
	dev, ok := m.registry.LookupByInternal(e.PeripheralID)
	if !ok {
		m.logDebug("connect failure for unknown peripheral dropped", "peripheral_id", e.PeripheralID)
		return
	}
	if err := m.registry.SetState(dev.InternalID, device.StateDisconnected); err != nil {
		m.logError("failed to update device state", err)
	}
	m.failPending(dev.InternalID, ReasonConnectFailed)
	m.logWarn("device connection failed", "external_id", dev.ExternalID, "error", e.Err)
}

func (m *Manager) onDisconnected(e radio.Disconnected) {
	dev, ok := m.registry.LookupByInternal(e.PeripheralID)
	if !ok {
		m.logDebug("disconnect event for unknown peripheral dropped", "peripheral_id", e.PeripheralID)
		return
	}
	m.didDisconnect(dev)
	m.registry.Unregister(dev.InternalID)
	m.metrics.SetGrantedDevices(m.registry.Len())

	if e.Err != nil {
		m.logWarn("device disconnected unexpectedly", "external_id", dev.ExternalID, "error", e.Err)
		name := dev.Name
		if name == "" {
			name = "Bluetooth device"
		}
		m.notify("Device disconnected", name+" disconnected")
		return
	}
	m.logInfo("device disconnected", "external_id", dev.ExternalID)
}

// =============================================================================
// Cache
// =============================================================================

// persist queues a cache write for a granted device. Cache writes are not
// coupled to the registry and may be dropped under load.
func (m *Manager) persist(dev *device.Device) {
	if m.cache == nil {
		return
	}
	desc, err := dev.DescriptionJSON()
	if err != nil {
		m.logError("failed to encode device description", err)
		return
	}
	m.queueCache(cacheOp{put: &devicecache.Entry{
		ExternalID:   dev.ExternalID,
		PeripheralID: dev.InternalID,
		Description:  desc,
		UpdatedAt:    time.Now().UTC(),
	}})
}

func (m *Manager) unpersist(externalID string) {
	if m.cache == nil {
		return
	}
	m.queueCache(cacheOp{remove: externalID})
}

func (m *Manager) queueCache(op cacheOp) {
	select {
	case m.cacheOps <- op:
	default:
		m.logWarn("device cache queue full, write dropped")
	}
}

// cacheLoop applies cache writes in order off the engine goroutine.
func (m *Manager) cacheLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.cacheOps:
			m.applyCacheOp(op)
		case <-m.done:
			for {
				select {
				case op := <-m.cacheOps:
					m.applyCacheOp(op)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) applyCacheOp(op cacheOp) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CacheTimeout)
	defer cancel()

	switch {
	case op.put != nil:
		if err := m.cache.Put(ctx, *op.put); err != nil {
			m.logError("failed to write device cache", err)
		}
	case op.remove != "":
		if err := m.cache.Remove(ctx, op.remove); err != nil {
			m.logError("failed to remove device from cache", err)
		}
	}
}

// =============================================================================
// Helpers
// =============================================================================

func (m *Manager) handleNavigate(topic string, _ []byte) {
	pageID, ok := parseNavigateTopic(topic)
	if !ok {
		m.logDebug("ignoring malformed navigate topic", "topic", topic)
		return
	}
	m.TeardownPage(pageID)
}

func (m *Manager) emit(pageID, event string, payload any) {
	page, ok := m.pages[pageID]
	if !ok {
		m.logDebug("no page for event", "page_id", pageID, "event", event)
		return
	}
	if err := page.Emit(event, payload); err != nil {
		m.logDebug("page event not delivered", "page_id", pageID, "event", event, "error", err)
	}
}

func (m *Manager) notify(title, message string) {
	if m.notifier == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.notifier.Notify(title, message); err != nil {
			m.logError("failed to post notification", err)
		}
	}()
}

func (m *Manager) succeed(txn *Transaction, value any) {
	if err := txn.ResolveAsSuccess(value); err != nil {
		m.logDebug("transaction already resolved", "key", txn.Key.String())
	}
}

func (m *Manager) succeedMany(txn *Transaction, values []any) {
	if err := txn.ResolveAsSuccessMany(values); err != nil {
		m.logDebug("transaction already resolved", "key", txn.Key.String())
	}
}

func (m *Manager) fail(txn *Transaction, reason string) {
	if err := txn.ResolveAsFailure(reason); err != nil {
		m.logDebug("transaction already resolved", "key", txn.Key.String())
	}
}

func resultLabel(o Outcome) string {
	switch {
	case o.Success:
		return "success"
	case o.Reason == ReasonSuperseded:
		return "abandoned"
	default:
		return "failure"
	}
}

func (m *Manager) getLogger() Logger {
	m.loggerMu.RLock()
	defer m.loggerMu.RUnlock()
	return m.logger
}

func (m *Manager) logInfo(msg string, keysAndValues ...any) {
	m.getLogger().Info(msg, keysAndValues...)
}

func (m *Manager) logWarn(msg string, keysAndValues ...any) {
	m.getLogger().Warn(msg, keysAndValues...)
}

func (m *Manager) logError(msg string, err error) {
	m.getLogger().Error(msg, "error", err)
}

func (m *Manager) logDebug(msg string, keysAndValues ...any) {
	m.getLogger().Debug(msg, keysAndValues...)
}
