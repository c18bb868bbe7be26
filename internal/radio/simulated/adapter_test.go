package simulated

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/webble-core/internal/radio"
)

var heartRate = uuid.MustParse("0000180d-0000-1000-8000-00805f9b34fb")

func nextEvent(t *testing.T, a *Adapter) radio.Event {
	t.Helper()
	select {
	case ev, ok := <-a.Events():
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestAdapter_DefaultsToPoweredOn(t *testing.T) {
	a := New(Options{})
	defer a.Close()

	if got := a.State(); got != radio.StatePoweredOn {
		t.Errorf("State() = %v, want powered_on", got)
	}
}

func TestAdapter_AdvertiseRequiresDiscovery(t *testing.T) {
	a := New(Options{})
	defer a.Close()

	p := radio.Peripheral{ID: "AA:BB", Name: "Thermo"}
	if a.Advertise(p, radio.Advertisement{RSSI: -50}) {
		t.Fatal("Advertise delivered while not discovering")
	}
	// The peripheral is still known to the stack.
	if _, ok := a.RetrievePeripheral("AA:BB"); !ok {
		t.Error("advertised peripheral not retrievable")
	}

	if err := a.StartDiscovery(nil); err != nil {
		t.Fatalf("StartDiscovery: %v", err)
	}
	if !a.Advertise(p, radio.Advertisement{RSSI: -50}) {
		t.Fatal("Advertise not delivered during discovery")
	}

	ev, ok := nextEvent(t, a).(radio.Discovered)
	if !ok {
		t.Fatalf("expected Discovered event")
	}
	if ev.Peripheral.ID != "AA:BB" || ev.Advertisement.RSSI != -50 {
		t.Errorf("Discovered = %+v", ev)
	}
}

func TestAdapter_ServiceRestriction(t *testing.T) {
	a := New(Options{})
	defer a.Close()

	if err := a.StartDiscovery([]uuid.UUID{heartRate}); err != nil {
		t.Fatalf("StartDiscovery: %v", err)
	}

	if a.Advertise(radio.Peripheral{ID: "1"}, radio.Advertisement{}) {
		t.Error("advertisement without the service was delivered")
	}
	if !a.Advertise(radio.Peripheral{ID: "2"}, radio.Advertisement{Services: []uuid.UUID{heartRate}}) {
		t.Error("advertisement with the service was dropped")
	}

	calls := a.StartCalls()
	if len(calls) != 1 || len(calls[0]) != 1 || calls[0][0] != heartRate {
		t.Errorf("StartCalls() = %v", calls)
	}
}

func TestAdapter_StartDiscoveryWhilePoweredOff(t *testing.T) {
	a := New(Options{InitialState: radio.StatePoweredOff})
	defer a.Close()

	if err := a.StartDiscovery(nil); !errors.Is(err, radio.ErrNotPowered) {
		t.Errorf("StartDiscovery() error = %v, want ErrNotPowered", err)
	}
}

func TestAdapter_ConnectAndDisconnect(t *testing.T) {
	a := New(Options{})
	defer a.Close()

	if err := a.Connect("missing"); !errors.Is(err, radio.ErrUnknownPeripheral) {
		t.Fatalf("Connect(missing) error = %v", err)
	}

	a.AddKnown(radio.Peripheral{ID: "dev"})
	if err := a.Connect("dev"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if ev, ok := nextEvent(t, a).(radio.Connected); !ok || ev.PeripheralID != "dev" {
		t.Fatalf("expected Connected for dev, got %#v", ev)
	}
	if !a.IsConnected("dev") {
		t.Error("IsConnected() = false after Connected")
	}

	if err := a.Disconnect("dev"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if ev, ok := nextEvent(t, a).(radio.Disconnected); !ok || ev.Err != nil {
		t.Fatalf("expected clean Disconnected, got %#v", ev)
	}
}

func TestAdapter_ManualConnectFailure(t *testing.T) {
	a := New(Options{ManualConnect: true})
	defer a.Close()

	a.AddKnown(radio.Peripheral{ID: "dev"})
	if err := a.Connect("dev"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	a.FailConnect("dev", nil)

	ev, ok := nextEvent(t, a).(radio.ConnectFailed)
	if !ok || ev.Err == nil {
		t.Fatalf("expected ConnectFailed with error, got %#v", ev)
	}
}

func TestAdapter_PowerOffEndsScan(t *testing.T) {
	a := New(Options{})
	defer a.Close()

	if err := a.StartDiscovery(nil); err != nil {
		t.Fatalf("StartDiscovery: %v", err)
	}
	a.SetState(radio.StatePoweredOff)

	if a.IsDiscovering() {
		t.Error("still discovering after power off")
	}
	ev, ok := nextEvent(t, a).(radio.StateChanged)
	if !ok || ev.State != radio.StatePoweredOff {
		t.Fatalf("expected StateChanged(powered_off), got %#v", ev)
	}

	// Repeating the same state is not an event.
	a.SetState(radio.StatePoweredOff)
	a.SetState(radio.StatePoweredOn)
	if ev, ok := nextEvent(t, a).(radio.StateChanged); !ok || ev.State != radio.StatePoweredOn {
		t.Fatalf("expected StateChanged(powered_on), got %#v", ev)
	}
}

func TestAdapter_EventsKeepOrder(t *testing.T) {
	a := New(Options{})
	defer a.Close()

	for _, id := range []string{"a", "b", "c"} {
		a.Emit(radio.Connected{PeripheralID: id})
	}
	for _, want := range []string{"a", "b", "c"} {
		ev := nextEvent(t, a).(radio.Connected)
		if ev.PeripheralID != want {
			t.Errorf("event id = %q, want %q", ev.PeripheralID, want)
		}
	}
}

func TestAdapter_CloseClosesEvents(t *testing.T) {
	a := New(Options{})
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case _, ok := <-a.Events():
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("event channel not closed")
	}

	if err := a.StartDiscovery(nil); !errors.Is(err, radio.ErrClosed) {
		t.Errorf("StartDiscovery after Close error = %v, want ErrClosed", err)
	}
}
