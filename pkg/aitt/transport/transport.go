// Package transport defines the broker-less Transport contract (TCP,
// TCP_SECURE, UDP_SRTP) and the Module Registry that hands instances of
// it out, the Go rendering of AittTransport.h/ModuleManager.
package transport

import (
	"context"
	"errors"
)

// Protocol identifies one broker-less transport. Unlike pkg/aitt.Protocol
// (a dispatch bitset that also includes BUS), this is a single-valued
// enum scoped to what the registry can hand out; BUS is included only as
// the sentinel Get rejects with ErrNoData, mirroring the original's
// single AittProtocol enum serving both roles split across two Go types
// to avoid an import cycle between pkg/aitt and pkg/aitt/transport.
type Protocol int

const (
	BUS Protocol = iota
	TCP
	TCPSecure
	UDPSRTP
	protocolCount
)

// valid reports whether p is one of the declared Protocol constants.
func (p Protocol) valid() bool { return p >= BUS && p < protocolCount }

func (p Protocol) String() string {
	switch p {
	case BUS:
		return "BUS"
	case TCP:
		return "TCP"
	case TCPSecure:
		return "TCP_SECURE"
	case UDPSRTP:
		return "UDP_SRTP"
	default:
		return "UNKNOWN"
	}
}

// ErrNoData is returned by Registry.Get(BUS): BUS is not a registry
// protocol, it is handled directly by the Bus Client.
var ErrNoData = errors.New("transport: BUS is not a registry protocol")

// ErrUnknownProtocol is returned by Registry.Get for a Protocol value
// outside the declared enumeration — a caller bug, surfaced distinctly
// from "module failed to load" rather than silently handed a null
// transport, per spec.md §4.4's invariant.
var ErrUnknownProtocol = errors.New("transport: protocol constant not in enumeration")

// Handler receives one inbound delivery on a subscribed topic.
type Handler func(topic string, payload []byte, retain bool, replyTopic string, correlation []byte)

// SubscriptionHandle identifies one Subscribe call for a later Unsubscribe.
type SubscriptionHandle uint64

// Transport is the broker-less counterpart of bus.Client: every
// operation a direct protocol exposes, in addition to whatever it does
// internally to move bytes.
type Transport interface {
	// Protocol reports which protocol this instance implements.
	Protocol() Protocol
	// Publish is fire-and-forget.
	Publish(ctx context.Context, topic string, payload []byte, qos int, retain bool) error
	// PublishWithReply sets reply metadata on the outgoing frame. Direct
	// transports are not required to implement this meaningfully and may
	// return ErrNotSupported.
	PublishWithReply(ctx context.Context, topic string, payload []byte, qos int, retain bool, replyTopic string, correlation []byte) error
	// Subscribe registers handler for topic.
	Subscribe(ctx context.Context, topic string, handler Handler, qos int) (SubscriptionHandle, error)
	// Unsubscribe cancels a subscription, returning the user data
	// originally registered with it (the handler), mirroring the
	// original's "returns the data originally registered" contract.
	Unsubscribe(ctx context.Context, handle SubscriptionHandle) (Handler, error)
	// SendReply completes a reply correlated via PublishWithReply.
	SendReply(ctx context.Context, topic string, payload []byte, qos int, retain bool) error
	// CountSubscribers reports the number of local subscriptions on topic.
	CountSubscribers(topic string) int
	// Close releases the transport's resources.
	Close() error
}

// ErrNotSupported is returned by PublishWithReply/SendReply on transports
// that don't implement reply correlation, per spec.md §4.6.
var ErrNotSupported = errors.New("transport: operation not supported")
