package device

import (
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Client is the part of the MQTT client the session drives.
// mqtt.Client satisfies it.
type Client interface {
	// Connect opens the network connection and sends CONNECT.
	Connect() mqtt.Token

	// Subscribe sends SUBSCRIBE; callback receives every matching message.
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token

	// Publish sends PUBLISH with the given payload.
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token

	// Disconnect waits up to quiesce milliseconds for in-flight work, then closes.
	Disconnect(quiesce uint)
}

// subscribeResulter is implemented by the token returned from Subscribe and
// carries the granted QoS per topic.
type subscribeResulter interface {
	Result() map[string]byte
}
