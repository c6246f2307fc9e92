// Package bus defines the Bus Client contract: the broker-mediated
// pub/sub backend that spec.md treats as an opaque external collaborator.
// pkg/bus/mqttbus provides the one concrete implementation this module
// ships, adapting the QoS0 mqtt0 client/broker.
package bus

import "context"

// ConnectionState describes a transition of the Bus Client's connection
// to its broker.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connected
	ConnectionLost
)

func (s ConnectionState) String() string {
	switch s {
	case Connected:
		return "connected"
	case ConnectionLost:
		return "connection_lost"
	default:
		return "disconnected"
	}
}

// Message is one inbound delivery from the broker.
type Message struct {
	Topic       string
	Payload     []byte
	Retain      bool
	SenderID    string
	ReplyTopic  string
	Correlation []byte
}

// Handler is invoked for every inbound Message matching a subscription.
type Handler func(msg *Message)

// SubscriptionHandle identifies one subscribe call for a later
// unsubscribe, mirroring the original MQ interface's opaque handle.
type SubscriptionHandle uint64

// Client is the Go rendering of the original MQ (Bus Client) interface:
// connect/disconnect, will, publish (with optional reply correlation),
// subscribe/unsubscribe, and topic comparison.
type Client interface {
	// SetConnectionCallback registers cb to be invoked on every
	// connection state transition.
	SetConnectionCallback(cb func(ConnectionState))
	// SetWill configures the last-will message published by the broker
	// if this client disconnects uncleanly.
	SetWill(topic string, payload []byte, retain bool) error
	// Connect dials host:port, authenticating with user/pass if set.
	Connect(ctx context.Context, host string, port int, user, pass string) error
	// Disconnect closes the connection cleanly (the will is not fired).
	Disconnect() error
	// Publish sends payload to topic.
	Publish(ctx context.Context, topic string, payload []byte, qos int, retain bool) error
	// PublishWithReply sends payload to topic, asking the receiver to
	// reply on replyTopic with the given correlation token.
	PublishWithReply(ctx context.Context, topic string, payload []byte, qos int, retain bool, replyTopic string, correlation []byte) error
	// SendReply completes a request started with PublishWithReply.
	SendReply(ctx context.Context, msg *Message, payload []byte, qos int, retain bool) error
	// Subscribe registers handler for topic (an MQTT-style filter).
	Subscribe(ctx context.Context, topic string, handler Handler, qos int) (SubscriptionHandle, error)
	// Unsubscribe cancels a subscription.
	Unsubscribe(ctx context.Context, handle SubscriptionHandle) error
	// CompareTopic reports whether topic matches filter.
	CompareTopic(filter, topic string) bool
}
