package mqtt

import "fmt"

// Topic prefixes. Everything the bridge publishes or listens to lives
// under "webble/".
const (
	TopicPrefix       = "webble"
	TopicPrefixSystem = "webble/system"
	TopicPrefixPage   = "webble/command/page"
)

// Topics provides builders for webble MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.BridgeHealth("ble") // "webble/health/ble"
type Topics struct{}

// SystemStatus returns the retained online/offline topic for the process.
//
// Example: webble/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// BridgeHealth returns the topic for a bridge's periodic health report.
//
// Example: webble/health/ble
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, protocol)
}

// Notify returns the topic for user-facing notifications.
//
// Example: webble/notify
func (Topics) Notify() string {
	return fmt.Sprintf("%s/notify", TopicPrefix)
}

// PageNavigate returns the command topic announcing that a page navigated
// away and its bridge state must be torn down.
//
// Example: webble/command/page/3f2a/navigate
func (Topics) PageNavigate(pageID string) string {
	return fmt.Sprintf("%s/%s/navigate", TopicPrefixPage, pageID)
}

// AllPageNavigations matches every page navigate command.
//
// Pattern: webble/command/page/+/navigate
func (Topics) AllPageNavigations() string {
	return fmt.Sprintf("%s/+/navigate", TopicPrefixPage)
}

// AllBridgeHealth matches every bridge health topic.
//
// Pattern: webble/health/+
func (Topics) AllBridgeHealth() string {
	return fmt.Sprintf("%s/health/+", TopicPrefix)
}

// AllTopics matches all webble traffic.
//
// Pattern: webble/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
