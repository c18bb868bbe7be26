package notify

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

type mockPublisher struct {
	messages []published
	err      error
}

func (p *mockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, published{topic, payload, qos, retained})
	return nil
}

func TestMQTTNotifier_Notify(t *testing.T) {
	pub := &mockPublisher{}
	n := NewMQTTNotifier(pub, "ble-1")
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return fixed }

	if err := n.Notify("Device disconnected", "HR-1 disconnected"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	if len(pub.messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.messages))
	}
	got := pub.messages[0]
	if got.topic != "webble/notify" || got.qos != 1 || got.retained {
		t.Errorf("publish = %s qos=%d retained=%v", got.topic, got.qos, got.retained)
	}

	var msg Message
	if err := json.Unmarshal(got.payload, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Source != "ble-1" || msg.Title != "Device disconnected" || msg.Message != "HR-1 disconnected" {
		t.Errorf("message = %+v", msg)
	}
	if !msg.Timestamp.Equal(fixed) {
		t.Errorf("Timestamp = %v, want %v", msg.Timestamp, fixed)
	}
}

func TestMQTTNotifier_Errors(t *testing.T) {
	tests := []struct {
		name    string
		title   string
		pubErr  error
		wantErr error
	}{
		{"empty title", "", nil, ErrEmptyTitle},
		{"publish failure", "Bluetooth unavailable", errBroker, errBroker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NewMQTTNotifier(&mockPublisher{err: tt.pubErr}, "ble-1")
			if err := n.Notify(tt.title, "body"); !errors.Is(err, tt.wantErr) {
				t.Errorf("Notify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

var errBroker = errors.New("broker unavailable")
