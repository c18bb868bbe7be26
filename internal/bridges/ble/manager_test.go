package ble

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/webble-core/internal/device"
	"github.com/nerrad567/webble-core/internal/devicecache"
	"github.com/nerrad567/webble-core/internal/radio"
	"github.com/nerrad567/webble-core/internal/radio/simulated"
)

const replyWait = 2 * time.Second

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []string
	connected     bool
	handlers      map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, topic)
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

// Deliver simulates a broker message on topic, matched by the subscription
// pattern it was registered under.
func (m *MockMQTTClient) Deliver(pattern, topic string, payload []byte) {
	m.mu.Lock()
	handler, ok := m.handlers[pattern]
	m.mu.Unlock()
	if ok {
		handler(topic, payload)
	}
}

// fakePage delivers replies on a channel so tests can wait for them.
type fakePage struct {
	id      string
	replies chan Reply

	mu     sync.Mutex
	events []pageEvent
}

func newFakePage(id string) *fakePage {
	return &fakePage{id: id, replies: make(chan Reply, 32)}
}

func (p *fakePage) ID() string { return p.id }

func (p *fakePage) Reply(r Reply) error {
	p.replies <- r
	return nil
}

func (p *fakePage) Emit(event string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, pageEvent{Event: event, Payload: payload})
	return nil
}

func (p *fakePage) Events() []pageEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pageEvent(nil), p.events...)
}

func (p *fakePage) waitReply(t *testing.T) Reply {
	t.Helper()
	select {
	case r := <-p.replies:
		return r
	case <-time.After(replyWait):
		t.Fatalf("page %s: no reply within %v", p.id, replyWait)
		return Reply{}
	}
}

func (p *fakePage) expectNoReply(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case r := <-p.replies:
		t.Fatalf("page %s: unexpected reply %+v", p.id, r)
	case <-time.After(d):
	}
}

// fakeNotifier records notifications.
type fakeNotifier struct {
	mu    sync.Mutex
	posts []string
}

func (n *fakeNotifier) Notify(title, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.posts = append(n.posts, title)
	return nil
}

func (n *fakeNotifier) Titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.posts...)
}

type harness struct {
	m        *Manager
	adapter  *simulated.Adapter
	cache    *devicecache.Memory
	mqtt     *MockMQTTClient
	notifier *fakeNotifier
}

func newHarness(t *testing.T, cfg Config, adapterOpts simulated.Options) *harness {
	t.Helper()

	h := &harness{
		adapter:  simulated.New(adapterOpts),
		cache:    devicecache.NewMemory(),
		mqtt:     NewMockMQTTClient(),
		notifier: &fakeNotifier{},
	}
	if cfg.ScanTimeout == 0 {
		cfg.ScanTimeout = 200 * time.Millisecond
	}
	if cfg.HealthInterval == 0 {
		cfg.HealthInterval = time.Hour
	}
	cfg.BridgeID = "ble-test"

	m, err := New(Options{
		Config:   cfg,
		Adapter:  h.adapter,
		Cache:    h.cache,
		MQTT:     h.mqtt,
		Notifier: h.notifier,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.m = m

	t.Cleanup(func() {
		m.Stop()
		h.adapter.Close()
	})
	return h
}

func (h *harness) submit(t *testing.T, page Page, key string, data map[string]any) {
	t.Helper()
	if err := h.m.Submit(context.Background(), NewTransaction(mustKey(t, key), data, page)); err != nil {
		t.Fatalf("Submit(%s) error = %v", key, err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(replyWait)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) waitScanning(t *testing.T) {
	t.Helper()
	waitFor(t, "discovery", func() bool {
		return h.m.Status().Scanning && h.adapter.IsDiscovering()
	})
}

func (h *harness) advertise(t *testing.T, id string, rssi int) {
	t.Helper()
	p := radio.Peripheral{ID: id, Name: "dev-" + id}
	if !h.adapter.Advertise(p, radio.Advertisement{RSSI: rssi}) {
		t.Fatalf("advertisement from %s not delivered", id)
	}
}

// grant runs an accept-all selection that finds exactly one peripheral.
func (h *harness) grant(t *testing.T, page *fakePage, id string) device.Description {
	t.Helper()
	waitFor(t, "previous selection to clear", func() bool { return !h.m.Status().Scanning })
	h.submit(t, page, "requestDevice#grant-"+id, map[string]any{"acceptAllDevices": true, "timeout": 0.25})
	h.waitScanning(t)
	h.advertise(t, id, -50)
	r := page.waitReply(t)
	if !r.OK {
		t.Fatalf("grant of %s failed: %s", id, r.Error)
	}
	return r.Value.(device.Description)
}

func TestManager_RequestDevice_PicksStrongest(t *testing.T) {
	h := newHarness(t, Config{}, simulated.Options{})
	page := newFakePage("page-1")

	h.submit(t, page, "requestDevice#1", map[string]any{"acceptAllDevices": true, "timeout": 0.3})
	h.waitScanning(t)
	h.advertise(t, "p1", -80)
	h.advertise(t, "p2", -40)
	h.advertise(t, "p3", -60)

	r := page.waitReply(t)
	if !r.OK {
		t.Fatalf("reply failed: %s", r.Error)
	}
	if r.Key != "requestDevice#1" {
		t.Errorf("reply key = %q", r.Key)
	}
	desc, ok := r.Value.(device.Description)
	if !ok {
		t.Fatalf("reply value = %T, want device.Description", r.Value)
	}
	if desc.Name != "dev-p2" || desc.AdData.RSSI != -40 {
		t.Errorf("granted %+v, want dev-p2 at -40", desc)
	}
	if desc.ID == "p2" || desc.ID == "" {
		t.Errorf("external id %q leaks or is empty", desc.ID)
	}

	dev, ok := h.m.Registry().LookupByExternal(desc.ID)
	if !ok || dev.InternalID != "p2" || dev.PageID != "page-1" {
		t.Errorf("registry entry = %+v", dev)
	}
	if h.adapter.IsDiscovering() {
		t.Error("discovery still running after selection")
	}
	waitFor(t, "session cleared", func() bool { return !h.m.Status().Scanning })
}

func TestManager_RequestDevice_Dedup(t *testing.T) {
	h := newHarness(t, Config{}, simulated.Options{})
	page := newFakePage("page-1")

	h.submit(t, page, "requestDevice#1", map[string]any{"acceptAllDevices": true, "timeout": 0.3})
	h.waitScanning(t)
	h.advertise(t, "p1", -70)
	h.advertise(t, "p1", -30)
	h.advertise(t, "p2", -50)

	r := page.waitReply(t)
	desc := r.Value.(device.Description)
	if desc.Name != "dev-p2" {
		t.Errorf("granted %q, want dev-p2 (p1 must be buffered once at -70)", desc.Name)
	}
}

func TestManager_RequestDevice_Filters(t *testing.T) {
	h := newHarness(t, Config{}, simulated.Options{})
	page := newFakePage("page-1")

	h.submit(t, page, "requestDevice#1", map[string]any{
		"filters": []any{map[string]any{"name": "A"}, map[string]any{"namePrefix": "Z"}},
		"timeout": 0.3,
	})
	h.waitScanning(t)
	h.adapter.Advertise(radio.Peripheral{ID: "b"}, radio.Advertisement{LocalName: "B", RSSI: -10})
	h.adapter.Advertise(radio.Peripheral{ID: "z"}, radio.Advertisement{LocalName: "ZZZ", RSSI: -60})

	r := page.waitReply(t)
	if !r.OK || r.Value.(device.Description).Name != "ZZZ" {
		t.Errorf("reply = %+v, want ZZZ granted", r)
	}
}

func TestManager_RequestDevice_NoDevicesFound(t *testing.T) {
	h := newHarness(t, Config{}, simulated.Options{})
	page := newFakePage("page-1")

	start := time.Now()
	h.submit(t, page, "requestDevice#1", map[string]any{"acceptAllDevices": true, "timeout": 0.2})

	r := page.waitReply(t)
	if r.OK || r.Error != ReasonNoDevicesFound {
		t.Errorf("reply = %+v, want %q", r, ReasonNoDevicesFound)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("resolved after %v, before the window closed", elapsed)
	}
}

func TestManager_RequestDevice_DefaultTimeout(t *testing.T) {
	h := newHarness(t, Config{ScanTimeout: 100 * time.Millisecond}, simulated.Options{})
	page := newFakePage("page-1")

	h.submit(t, page, "requestDevice#1", map[string]any{"acceptAllDevices": true, "timeout": 0})

	r := page.waitReply(t)
	if r.Error != ReasonNoDevicesFound {
		t.Errorf("reply = %+v, want default window to close", r)
	}
}

func TestManager_RequestDevice_EarlySelection(t *testing.T) {
	h := newHarness(t, Config{EarlySelectRSSI: -50}, simulated.Options{})
	page := newFakePage("page-1")

	start := time.Now()
	h.submit(t, page, "requestDevice#1", map[string]any{"acceptAllDevices": true, "timeout": 5})
	h.waitScanning(t)
	h.advertise(t, "weak", -70)
	h.advertise(t, "strong", -45)

	r := page.waitReply(t)
	if !r.OK || r.Value.(device.Description).Name != "dev-strong" {
		t.Errorf("reply = %+v, want dev-strong", r)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("early selection waited for the timer")
	}
	page.expectNoReply(t, 100*time.Millisecond)
}

func TestManager_SelectionInProgress(t *testing.T) {
	h := newHarness(t, Config{}, simulated.Options{})
	owner := newFakePage("owner")
	other := newFakePage("other")

	h.submit(t, owner, "requestDevice#1", map[string]any{"acceptAllDevices": true, "timeout": 5})
	h.waitScanning(t)

	h.submit(t, other, "requestDevice#2", map[string]any{"acceptAllDevices": true})
	if r := other.waitReply(t); r.Error != ReasonSelectionInProgress {
		t.Errorf("second requestDevice = %+v, want %q", r, ReasonSelectionInProgress)
	}

	h.submit(t, other, "getDevices#3", nil)
	if r := other.waitReply(t); r.Error != ReasonGetDevicesInProgress {
		t.Errorf("getDevices = %+v, want %q", r, ReasonGetDevicesInProgress)
	}

	if !h.m.Status().Scanning {
		t.Error("Status().Scanning = false during selection")
	}
}

func TestManager_AdapterGate(t *testing.T) {
	tests := []struct {
		name  string
		state radio.State
		want  string
	}{
		{"off", radio.StatePoweredOff, ReasonBluetoothOff},
		{"unauthorized", radio.StateUnauthorized, ReasonBluetoothUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{}, simulated.Options{InitialState: tt.state})
			page := newFakePage("page-1")

			h.submit(t, page, "requestDevice#1", map[string]any{"acceptAllDevices": true})
			if r := page.waitReply(t); r.Error != tt.want {
				t.Errorf("requestDevice = %+v, want %q", r, tt.want)
			}

			h.submit(t, page, "device.connectGATT#2", map[string]any{"deviceId": "x"})
			if r := page.waitReply(t); r.Error != tt.want {
				t.Errorf("device request = %+v, want %q", r, tt.want)
			}
		})
	}
}

func TestManager_AlreadyScanning(t *testing.T) {
	h := newHarness(t, Config{}, simulated.Options{})
	page := newFakePage("page-1")

	// Another client of the adapter is scanning.
	if err := h.adapter.StartDiscovery(nil); err != nil {
		t.Fatalf("StartDiscovery() error = %v", err)
	}

	h.submit(t, page, "requestDevice#1", map[string]any{"acceptAllDevices": true})
	if r := page.waitReply(t); r.Error != ReasonAlreadyScanning {
		t.Errorf("reply = %+v, want %q", r, ReasonAlreadyScanning)
	}
}

func TestManager_MalformedRequests(t *testing.T) {
	h := newHarness(t, Config{}, simulated.Options{})
	page := newFakePage("page-1")

	tests := []struct {
		key  string
		data map[string]any
		want string
	}{
		{"bogus#1", nil, "Request type components not recognised bogus#1"},
		{"requestDevice.x#2", nil, "Invalid request type requestDevice.x#2"},
		{"requestDevice#3", map[string]any{}, ReasonNoFilters},
		{"device.connectGATT#4", map[string]any{}, ReasonBadDeviceRequest},
		{"device.connectGATT#5", map[string]any{"deviceId": "nobody"}, "No known device for device transaction device.connectGATT#5"},
	}

	for _, tt := range tests {
		h.submit(t, page, tt.key, tt.data)
		r := page.waitReply(t)
		if r.OK || r.Error != tt.want || r.Key != tt.key {
			t.Errorf("%s: reply = %+v, want %q", tt.key, r, tt.want)
		}
	}
}

func TestManager_GetDevicesReadsCache(t *testing.T) {
	h := newHarness(t, Config{}, simulated.Options{})
	page := newFakePage("page-1")
	ctx := context.Background()

	entries := []devicecache.Entry{
		{ExternalID: "e1", PeripheralID: "p1", Description: json.RawMessage(`{"id":"e1"}`), UpdatedAt: time.Unix(1, 0)},
		{ExternalID: "e2", PeripheralID: "p2", Description: json.RawMessage(`{"id":"e2"}`), UpdatedAt: time.Unix(2, 0)},
	}
	for _, e := range entries {
		if err := h.cache.Put(ctx, e); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	h.submit(t, page, "getDevices#1", nil)
	r := page.waitReply(t)
	values, ok := r.Value.([]any)
	if !r.OK || !ok || len(values) != 2 {
		t.Fatalf("reply = %+v, want two cached descriptions", r)
	}
	if string(values[0].(json.RawMessage)) != `{"id":"e1"}` {
		t.Errorf("values[0] = %s", values[0])
	}
}

func TestManager_TeardownAbandonsSelection(t *testing.T) {
	h := newHarness(t, Config{}, simulated.Options{})
	page := newFakePage("page-1")

	h.submit(t, page, "requestDevice#1", map[string]any{"acceptAllDevices": true, "timeout": 5})
	h.waitScanning(t)
	h.advertise(t, "p1", -60)

	h.m.TeardownPage("other-page")
	h.m.TeardownPage("page-1")
	h.m.TeardownPage("page-1")

	r := page.waitReply(t)
	if r.OK || r.Error != ReasonSuperseded {
		t.Errorf("reply = %+v, want %q", r, ReasonSuperseded)
	}
	page.expectNoReply(t, 100*time.Millisecond)

	if h.adapter.IsDiscovering() || h.m.Status().Scanning {
		t.Error("discovery still running after teardown")
	}
	if h.adapter.StopCalls() != 1 {
		t.Errorf("StopDiscovery calls = %d, want 1", h.adapter.StopCalls())
	}
	if h.m.Registry().Len() != 0 {
		t.Error("abandoned candidate was granted")
	}

	// A new selection may start after teardown.
	next := newFakePage("page-2")
	h.submit(t, next, "requestDevice#2", map[string]any{"acceptAllDevices": true, "timeout": 0.1})
	if r := next.waitReply(t); r.Error != ReasonNoDevicesFound {
		t.Errorf("follow-up selection = %+v", r)
	}
}

func TestManager_TeardownReleasesDevices(t *testing.T) {
	h := newHarness(t, Config{}, simulated.Options{})
	page := newFakePage("page-1")
	desc := h.grant(t, page, "p1")

	h.submit(t, page, "device.connectGATT#c", map[string]any{"deviceId": desc.ID})
	if r := page.waitReply(t); !r.OK {
		t.Fatalf("connect failed: %s", r.Error)
	}

	h.m.TeardownPage("page-1")
	waitFor(t, "device release", func() bool { return h.m.Registry().Len() == 0 })
	waitFor(t, "link drop", func() bool { return !h.adapter.IsConnected("p1") })
}

func TestManager_NavigateOverMQTT(t *testing.T) {
	h := newHarness(t, Config{}, simulated.Options{})
	page := newFakePage("page-7")

	h.submit(t, page, "requestDevice#1", map[string]any{"acceptAllDevices": true, "timeout": 5})
	h.waitScanning(t)

	h.mqtt.Deliver(NavigateSubscribeTopic(), "webble/command/page/page-7/navigate", nil)

	if r := page.waitReply(t); r.Error != ReasonSuperseded {
		t.Errorf("reply = %+v, want %q", r, ReasonSuperseded)
	}
}

func TestManager_ConnectGATT(t *testing.T) {
	h := newHarness(t, Config{}, simulated.Options{ManualConnect: true})
	page := newFakePage("page-1")
	desc := h.grant(t, page, "p1")

	h.submit(t, page, "device.connectGATT#1", map[string]any{"deviceId": desc.ID})
	h.submit(t, page, "device.connectGATT#2", map[string]any{"deviceId": desc.ID})
	waitFor(t, "connecting state", func() bool {
		dev, _ := h.m.Registry().LookupByExternal(desc.ID)
		return dev != nil && dev.State == device.StateConnecting
	})
	page.expectNoReply(t, 50*time.Millisecond)

	h.adapter.CompleteConnect("p1")

	for i := 0; i < 2; i++ {
		r := page.waitReply(t)
		res, ok := r.Value.(ConnectResult)
		if !r.OK || !ok || !res.Connected {
			t.Errorf("connect reply = %+v", r)
		}
	}

	// Already connected resolves immediately.
	h.submit(t, page, "device.connectGATT#3", map[string]any{"deviceId": desc.ID})
	if r := page.waitReply(t); !r.OK {
		t.Errorf("connect on connected device = %+v", r)
	}
}

func TestManager_ConnectFailed(t *testing.T) {
	h := newHarness(t, Config{}, simulated.Options{ManualConnect: true})
	page := newFakePage("page-1")
	desc := h.grant(t, page, "p1")

	h.submit(t, page, "device.connectGATT#1", map[string]any{"deviceId": desc.ID})
	waitFor(t, "connecting state", func() bool {
		dev, _ := h.m.Registry().LookupByExternal(desc.ID)
		return dev != nil && dev.State == device.StateConnecting
	})
	h.adapter.FailConnect("p1", errors.New("le-connection-abort-by-local"))

	if r := page.waitReply(t); r.Error != ReasonConnectFailed {
		t.Errorf("reply = %+v, want %q", r, ReasonConnectFailed)
	}
	dev, ok := h.m.Registry().LookupByExternal(desc.ID)
	if !ok || dev.State != device.StateDisconnected {
		t.Errorf("device after failure = %+v", dev)
	}
}

func TestManager_UnexpectedDisconnect(t *testing.T) {
	h := newHarness(t, Config{}, simulated.Options{})
	page := newFakePage("page-1")
	desc := h.grant(t, page, "p1")

	h.submit(t, page, "device.connectGATT#1", map[string]any{"deviceId": desc.ID})
	if r := page.waitReply(t); !r.OK {
		t.Fatalf("connect failed: %s", r.Error)
	}

	h.adapter.DropConnection("p1", errors.New("link lost"))

	waitFor(t, "gattserverdisconnected", func() bool { return len(page.Events()) == 1 })
	ev := page.Events()[0]
	if ev.Event != EventGATTServerDisconnected || ev.Payload.(DisconnectedEvent).DeviceID != desc.ID {
		t.Errorf("event = %+v", ev)
	}
	waitFor(t, "unregister", func() bool { return h.m.Registry().Len() == 0 })
	waitFor(t, "notification", func() bool { return len(h.notifier.Titles()) == 1 })
}

func TestManager_PowerOffImplicitDisconnect(t *testing.T) {
	h := newHarness(t, Config{}, simulated.Options{})
	page := newFakePage("page-1")
	connected := h.grant(t, page, "p1")
	idle := h.grant(t, page, "p2")

	h.submit(t, page, "device.connectGATT#1", map[string]any{"deviceId": connected.ID})
	if r := page.waitReply(t); !r.OK {
		t.Fatalf("connect failed: %s", r.Error)
	}

	h.adapter.SetState(radio.StatePoweredOff)

	waitFor(t, "implicit disconnect", func() bool { return len(page.Events()) == 1 })
	if got := page.Events()[0].Payload.(DisconnectedEvent).DeviceID; got != connected.ID {
		t.Errorf("disconnect event for %q, want %q", got, connected.ID)
	}
	for _, id := range []string{connected.ID, idle.ID} {
		dev, ok := h.m.Registry().LookupByExternal(id)
		if !ok {
			t.Errorf("device %s unregistered on power-off", id)
			continue
		}
		if dev.State != device.StateDisconnected {
			t.Errorf("device %s state = %s", id, dev.State)
		}
	}
	if h.m.Status().AdapterState != radio.StatePoweredOff.String() {
		t.Errorf("Status().AdapterState = %q", h.m.Status().AdapterState)
	}
	waitFor(t, "notification", func() bool { return len(h.notifier.Titles()) == 1 })
}

func TestManager_ReconnectFromCache(t *testing.T) {
	h := newHarness(t, Config{}, simulated.Options{})
	page := newFakePage("page-1")

	h.adapter.AddKnown(radio.Peripheral{ID: "AA:BB", Name: "Thermo"})
	if err := h.cache.Put(context.Background(), devicecache.Entry{
		ExternalID:   "ext-1",
		PeripheralID: "AA:BB",
		Description:  json.RawMessage(`{"id":"ext-1"}`),
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	h.submit(t, page, "device.connectGATT#1", map[string]any{"deviceId": "ext-1"})
	if r := page.waitReply(t); !r.OK {
		t.Fatalf("reconnect = %+v", r)
	}

	dev, ok := h.m.Registry().LookupByExternal("ext-1")
	if !ok || dev.InternalID != "AA:BB" || dev.State != device.StateConnected {
		t.Errorf("registry entry = %+v", dev)
	}
	if back, ok := h.m.Registry().LookupByInternal("AA:BB"); !ok || back.ExternalID != "ext-1" {
		t.Errorf("reverse lookup = %+v", back)
	}
}

func TestManager_ReconnectFromPayload(t *testing.T) {
	h := newHarness(t, Config{}, simulated.Options{})
	page := newFakePage("page-1")
	h.adapter.AddKnown(radio.Peripheral{ID: "CC:DD"})

	h.submit(t, page, "device.disconnectGATT#1", map[string]any{"deviceId": "ext-9", "peripheralId": "CC:DD"})
	if r := page.waitReply(t); !r.OK {
		t.Fatalf("reply = %+v", r)
	}
	if _, ok := h.m.Registry().LookupByExternal("ext-9"); !ok {
		t.Error("reconnected device not registered")
	}
	waitFor(t, "cache write", func() bool {
		id, err := h.cache.PeripheralFor(context.Background(), "ext-9")
		return err == nil && id == "CC:DD"
	})

	h.submit(t, page, "device.connectGATT#2", map[string]any{"deviceId": "ext-10", "peripheralId": "unknown"})
	if r := page.waitReply(t); r.Error != "No known device for device transaction device.connectGATT#2" {
		t.Errorf("reply = %+v", r)
	}
}

func TestManager_RegrantAcrossPages(t *testing.T) {
	h := newHarness(t, Config{}, simulated.Options{})
	pageA := newFakePage("page-a")
	pageB := newFakePage("page-b")
	held := h.grant(t, pageA, "p1")

	waitFor(t, "previous selection to clear", func() bool { return !h.m.Status().Scanning })
	h.submit(t, pageB, "requestDevice#b", map[string]any{"acceptAllDevices": true, "timeout": 0.25})
	h.waitScanning(t)
	h.advertise(t, "p1", -40)

	r := pageB.waitReply(t)
	if r.OK || r.Error != ReasonDeviceInUse {
		t.Fatalf("page-b selection = %+v, want %q", r, ReasonDeviceInUse)
	}

	dev, ok := h.m.Registry().LookupByInternal("p1")
	if !ok || dev.ExternalID != held.ID || dev.PageID != "page-a" {
		t.Fatalf("registry entry after page-b selection = %+v, want page-a's grant", dev)
	}

	// page-a's teardown still releases its device.
	h.m.TeardownPage("page-a")
	waitFor(t, "device release", func() bool { return h.m.Registry().Len() == 0 })
}

func TestManager_RegrantSamePageKeepsID(t *testing.T) {
	h := newHarness(t, Config{}, simulated.Options{})
	page := newFakePage("page-1")

	first := h.grant(t, page, "p1")
	second := h.grant(t, page, "p1")

	if first.ID != second.ID {
		t.Errorf("re-grant issued %q, want existing %q", second.ID, first.ID)
	}
	if h.m.Registry().Len() != 1 {
		t.Errorf("Registry().Len() = %d, want 1", h.m.Registry().Len())
	}
}

func TestManager_ReconnectNeverRekeysLiveGrant(t *testing.T) {
	h := newHarness(t, Config{}, simulated.Options{})
	pageA := newFakePage("page-a")
	pageB := newFakePage("page-b")
	held := h.grant(t, pageA, "p1")

	h.submit(t, pageB, "device.connectGATT#b", map[string]any{"deviceId": "forged", "peripheralId": "p1"})
	if r := pageB.waitReply(t); r.OK || r.Error != "No known device for device transaction device.connectGATT#b" {
		t.Errorf("page-b reconnect = %+v", r)
	}

	// The owner reaches its device through any id naming the peripheral.
	h.submit(t, pageA, "device.connectGATT#a", map[string]any{"deviceId": "other", "peripheralId": "p1"})
	if r := pageA.waitReply(t); !r.OK {
		t.Errorf("page-a reconnect = %+v", r)
	}

	if dev, ok := h.m.Registry().LookupByExternal(held.ID); !ok || dev.PageID != "page-a" {
		t.Errorf("page-a grant = %+v, %v", dev, ok)
	}
	for _, id := range []string{"forged", "other"} {
		if _, ok := h.m.Registry().LookupByExternal(id); ok {
			t.Errorf("external id %q registered over a live grant", id)
		}
	}
	if h.m.Registry().Len() != 1 {
		t.Errorf("Registry().Len() = %d, want 1", h.m.Registry().Len())
	}
}

func TestManager_PowerOffEndsSelection(t *testing.T) {
	h := newHarness(t, Config{}, simulated.Options{})
	page := newFakePage("page-1")

	h.submit(t, page, "requestDevice#1", map[string]any{"acceptAllDevices": true, "timeout": 5})
	h.waitScanning(t)
	h.advertise(t, "p1", -50)
	h.adapter.SetState(radio.StatePoweredOff)

	if r := page.waitReply(t); r.OK || r.Error != ReasonBluetoothOff {
		t.Fatalf("reply = %+v, want %q", r, ReasonBluetoothOff)
	}
	if h.m.Registry().Len() != 0 {
		t.Error("candidate seen before power loss was granted")
	}
	waitFor(t, "session cleared", func() bool { return !h.m.Status().Scanning })

	h.adapter.SetState(radio.StatePoweredOn)
	waitFor(t, "adapter on", func() bool { return h.m.Status().AdapterState == radio.StatePoweredOn.String() })
	h.submit(t, page, "requestDevice#2", map[string]any{"acceptAllDevices": true, "timeout": 0.1})
	if r := page.waitReply(t); r.Error != ReasonNoDevicesFound {
		t.Errorf("selection after power returns = %+v, want %q", r, ReasonNoDevicesFound)
	}
}

func TestManager_Forget(t *testing.T) {
	h := newHarness(t, Config{}, simulated.Options{})
	page := newFakePage("page-1")
	desc := h.grant(t, page, "p1")

	waitFor(t, "cache write", func() bool {
		_, err := h.cache.Get(context.Background(), desc.ID)
		return err == nil
	})

	h.submit(t, page, "device.forget#1", map[string]any{"deviceId": desc.ID})
	if r := page.waitReply(t); !r.OK {
		t.Fatalf("forget = %+v", r)
	}
	if h.m.Registry().Len() != 0 {
		t.Error("forgotten device still granted")
	}
	waitFor(t, "cache removal", func() bool {
		_, err := h.cache.Get(context.Background(), desc.ID)
		return errors.Is(err, devicecache.ErrNotFound)
	})
}

func TestManager_UnsupportedDeviceRequest(t *testing.T) {
	h := newHarness(t, Config{}, simulated.Options{})
	page := newFakePage("page-1")
	desc := h.grant(t, page, "p1")

	h.submit(t, page, "device.getPrimaryService#1", map[string]any{"deviceId": desc.ID})
	if r := page.waitReply(t); r.Error != "Unsupported device request device.getPrimaryService#1" {
		t.Errorf("reply = %+v", r)
	}
}

func TestManager_UnknownRadioEventsDropped(t *testing.T) {
	h := newHarness(t, Config{}, simulated.Options{})
	page := newFakePage("page-1")

	h.adapter.Emit(radio.Connected{PeripheralID: "ghost"})
	h.adapter.Emit(radio.ConnectFailed{PeripheralID: "ghost"})
	h.adapter.Emit(radio.Disconnected{PeripheralID: "ghost", Err: errors.New("gone")})
	h.adapter.Emit(radio.Discovered{Peripheral: radio.Peripheral{ID: "ghost"}})

	h.submit(t, page, "getDevices#1", nil)
	if r := page.waitReply(t); !r.OK {
		t.Errorf("engine unhealthy after stale events: %+v", r)
	}
	if h.m.Registry().Len() != 0 {
		t.Error("stale events created devices")
	}
	if len(page.Events()) != 0 || len(h.notifier.Titles()) != 0 {
		t.Error("stale events reached the page or notifier")
	}
}

func TestManager_StopAbandonsOutstanding(t *testing.T) {
	h := newHarness(t, Config{}, simulated.Options{})
	page := newFakePage("page-1")

	h.submit(t, page, "requestDevice#1", map[string]any{"acceptAllDevices": true, "timeout": 5})
	h.waitScanning(t)

	h.m.Stop()

	if r := page.waitReply(t); r.Error != ReasonSuperseded {
		t.Errorf("reply = %+v, want %q", r, ReasonSuperseded)
	}
	err := h.m.Submit(context.Background(), NewTransaction(mustKey(t, "getDevices#2"), nil, page))
	if !errors.Is(err, ErrStopped) {
		t.Errorf("Submit after Stop error = %v, want ErrStopped", err)
	}
}

func TestManager_Lifecycle(t *testing.T) {
	adapter := simulated.New(simulated.Options{})
	defer adapter.Close()

	if _, err := New(Options{}); err == nil {
		t.Error("New() without adapter succeeded")
	}

	m, err := New(Options{Adapter: adapter})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := m.Submit(context.Background(), NewTransaction(Key{}, nil, nil)); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Submit before Start error = %v, want ErrNotStarted", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start error = %v, want ErrAlreadyStarted", err)
	}
	m.Stop()
	m.Stop()
}

func TestManager_StopsOnContextCancel(t *testing.T) {
	adapter := simulated.New(simulated.Options{})
	defer adapter.Close()

	m, err := New(Options{Adapter: adapter})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()

	waitFor(t, "stop", func() bool {
		err := m.Submit(context.Background(), NewTransaction(Key{}, nil, nil))
		return errors.Is(err, ErrStopped)
	})
}

func TestManager_PublishesHealth(t *testing.T) {
	h := newHarness(t, Config{}, simulated.Options{})

	waitFor(t, "health publish", func() bool {
		for _, p := range h.mqtt.GetPublished() {
			if p.Topic == HealthTopic() && p.Retained && p.QoS == 1 {
				return true
			}
		}
		return false
	})

	subscribed := false
	h.mqtt.mu.Lock()
	for _, s := range h.mqtt.subscriptions {
		if s == NavigateSubscribeTopic() {
			subscribed = true
		}
	}
	h.mqtt.mu.Unlock()
	if !subscribed {
		t.Error("navigation topic not subscribed")
	}
}
