package transport

import "context"

// NullTransport replaces a protocol that failed to load (or was never
// built in): every operation is a no-op, Subscribe hands back a handle
// whose Unsubscribe returns a nil Handler, and CountSubscribers is always
// zero. Get never needs to fail because of this.
type NullTransport struct {
	protocol Protocol
}

// NewNullTransport returns a NullTransport reporting protocol p.
func NewNullTransport(p Protocol) *NullTransport {
	return &NullTransport{protocol: p}
}

func (n *NullTransport) Protocol() Protocol { return n.protocol }

func (n *NullTransport) Publish(ctx context.Context, topic string, payload []byte, qos int, retain bool) error {
	return nil
}

func (n *NullTransport) PublishWithReply(ctx context.Context, topic string, payload []byte, qos int, retain bool, replyTopic string, correlation []byte) error {
	return nil
}

func (n *NullTransport) Subscribe(ctx context.Context, topic string, handler Handler, qos int) (SubscriptionHandle, error) {
	return 0, nil
}

func (n *NullTransport) Unsubscribe(ctx context.Context, handle SubscriptionHandle) (Handler, error) {
	return nil, nil
}

func (n *NullTransport) SendReply(ctx context.Context, topic string, payload []byte, qos int, retain bool) error {
	return nil
}

func (n *NullTransport) CountSubscribers(topic string) int { return 0 }

func (n *NullTransport) Close() error { return nil }

var _ Transport = (*NullTransport)(nil)
