// Package notify posts user-facing notifications for the browser shell.
//
// Notifications are published as JSON to webble/notify. The shell decides
// how (or whether) to present them.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/webble-core/internal/infrastructure/mqtt"
)

// ErrEmptyTitle is returned when a notification has no title.
var ErrEmptyTitle = errors.New("notify: title cannot be empty")

// Publisher is the subset of the MQTT client used to send notifications.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Message is the payload published for each notification.
type Message struct {
	Source    string    `json:"source"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// MQTTNotifier publishes notifications over MQTT. It satisfies the
// bridge's Notifier interface.
type MQTTNotifier struct {
	publisher Publisher
	source    string
	topic     string
	now       func() time.Time
}

// NewMQTTNotifier returns a notifier that tags each message with source
// (normally the bridge ID).
func NewMQTTNotifier(publisher Publisher, source string) *MQTTNotifier {
	return &MQTTNotifier{
		publisher: publisher,
		source:    source,
		topic:     mqtt.Topics{}.Notify(),
		now:       time.Now,
	}
}

// Notify publishes one notification at QoS 1, not retained.
func (n *MQTTNotifier) Notify(title, message string) error {
	if title == "" {
		return ErrEmptyTitle
	}

	payload, err := json.Marshal(Message{
		Source:    n.source,
		Title:     title,
		Message:   message,
		Timestamp: n.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("notify: marshalling message: %w", err)
	}

	if err := n.publisher.Publish(n.topic, payload, 1, false); err != nil {
		return fmt.Errorf("notify: publishing %q: %w", title, err)
	}
	return nil
}
