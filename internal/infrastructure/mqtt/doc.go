// Package mqtt provides the MQTT side channel for webble.
//
// The bridge engine does not need a broker to serve pages; MQTT is used
// when configured for:
//   - Retained process status with a Last Will (webble/system/status)
//   - Periodic bridge health reports (webble/health/ble)
//   - User-facing notifications (webble/notify)
//   - Remote page teardown commands (webble/command/page/{id}/navigate)
//
// The client wraps paho.mqtt.golang with auto-reconnect, subscription
// replay after reconnect, and panic recovery around handlers.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllPageNavigations(), 1,
//	    func(topic string, payload []byte) error {
//	        return nil
//	    })
package mqtt
