package aitt

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nnstreamer/aitt-go/pkg/aitt/discovery"
	"github.com/nnstreamer/aitt-go/pkg/aitt/stream"
	"github.com/nnstreamer/aitt-go/pkg/aitt/transport"
	"github.com/nnstreamer/aitt-go/pkg/bus"
	"github.com/nnstreamer/aitt-go/pkg/bus/mqttbus"
)

// Handler receives one inbound delivery for a facade-level subscription.
type Handler func(topic string, payload []byte, retain bool)

// SubscriptionHandle is the composite handle Subscribe returns: it hides
// the per-protocol handles (bus and/or transport) that make it up, so
// Unsubscribe can reverse all of them without the caller tracking any of
// that bookkeeping itself.
type SubscriptionHandle uint64

type subscriptionRecord struct {
	topic    string
	protocol Protocol
	qos      QoS
	handler  Handler

	hasBus    bool
	busHandle bus.SubscriptionHandle

	transportHandles map[Protocol]transport.SubscriptionHandle
}

// defaultPendingQueueLimit bounds the publish/subscribe queue a caller can
// build up before Connect succeeds. Past this many queued operations,
// Publish and Subscribe fail fast with ErrOperationFailed instead of
// growing the queue without bound.
const defaultPendingQueueLimit = 1024

type opKind int

const (
	opPublish opKind = iota
	opSubscribe
)

// pendingOp is one queued publish or subscribe issued before Connect
// succeeded. Publishes replay their arguments directly; subscribes
// replay by handle, since the handle (and its bookkeeping record) was
// already allocated and handed back to the caller at Subscribe time.
type pendingOp struct {
	kind opKind

	topic    string
	payload  []byte
	protocol Protocol
	qos      QoS
	retain   bool

	handle SubscriptionHandle
}

// AITT is the facade: it owns Discovery and the Module Registry, and
// dispatches every publish/subscribe/unsubscribe across the Bus Client
// and whichever direct transports the caller's Protocol bitset selects.
type AITT struct {
	id     string
	cfg    Config
	logger *slog.Logger

	busClient bus.Client
	disc      *discovery.Discovery
	registry  *transport.Registry

	mu         sync.Mutex
	connected  bool
	nextHandle uint64
	subs       map[SubscriptionHandle]*subscriptionRecord
	pending    []pendingOp
}

// New constructs an AITT instance identified as id. It does not dial
// anything; call Connect to join the broker and start Discovery.
func New(id string, opts ...Option) (*AITT, error) {
	if id == "" {
		return nil, NewError(KindInvalidArg, "id must not be empty")
	}

	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.setDefaults()

	busClient := mqttbus.New(id)
	disc := discovery.New(id, busClient)
	registry := transport.NewRegistry(cfg.localIP, disc, defaultFactories())

	a := &AITT{
		id:        id,
		cfg:       cfg,
		logger:    cfg.logger,
		busClient: busClient,
		disc:      disc,
		registry:  registry,
		subs:      make(map[SubscriptionHandle]*subscriptionRecord),
	}
	return a, nil
}

// SetConnectionCallback registers cb to be invoked on every transition of
// the Bus Client's connection state.
func (a *AITT) SetConnectionCallback(cb func(bus.ConnectionState)) {
	a.busClient.SetConnectionCallback(cb)
}

// Connect dials host:port, authenticating with user/pass if set, starts
// Discovery on this connection, and flushes every publish/subscribe
// queued while disconnected, in the order they were issued.
func (a *AITT) Connect(ctx context.Context, host string, port int, user, pass string) error {
	a.mu.Lock()
	if a.connected {
		a.mu.Unlock()
		return NewError(KindOperationFailed, "already connected")
	}
	a.mu.Unlock()

	if err := a.disc.Start(ctx, host, port, user, pass, a.cfg.clearSession); err != nil {
		return Wrap(KindBusErr, err, "start discovery")
	}

	a.mu.Lock()
	a.connected = true
	queue := a.pending
	a.pending = nil
	a.mu.Unlock()

	for _, op := range queue {
		if err := a.replay(ctx, op); err != nil {
			a.logger.Warn("aitt: replay of queued operation failed", "topic", op.topic, "error", err)
		}
	}
	return nil
}

// replay executes one queued operation after Connect succeeds. A queued
// subscribe whose handle was already unsubscribed while still pending is
// silently skipped: there is nothing left to flush.
func (a *AITT) replay(ctx context.Context, op pendingOp) error {
	switch op.kind {
	case opPublish:
		return a.doPublish(ctx, op.topic, op.payload, op.protocol, op.qos, op.retain)
	case opSubscribe:
		a.mu.Lock()
		rec, ok := a.subs[op.handle]
		a.mu.Unlock()
		if !ok {
			return nil
		}
		return a.doSubscribe(ctx, rec)
	default:
		return nil
	}
}

// Disconnect tears down in the order spec.md §5 requires: stop Discovery
// (publishes "disconnected" and unsubscribes the discovery topic) and
// disconnect the Bus Client first, then drop the direct transports (each
// releases the Discovery listener it registered for itself at
// construction). Every facade-level subscription still open is unwound
// first so no handle outlives the connection it was issued on.
func (a *AITT) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil
	}
	a.connected = false
	subs := a.subs
	a.subs = make(map[SubscriptionHandle]*subscriptionRecord)
	a.mu.Unlock()

	for _, rec := range subs {
		a.teardownSubscription(ctx, rec)
	}

	var firstErr error
	if err := a.disc.Stop(ctx); err != nil {
		firstErr = Wrap(KindBusErr, err, "stop discovery")
	}
	if err := a.busClient.Disconnect(); err != nil && firstErr == nil {
		firstErr = Wrap(KindBusErr, err, "disconnect bus client")
	}
	if err := a.registry.Close(); err != nil && firstErr == nil {
		firstErr = Wrap(KindOperationFailed, err, "close transport registry")
	}
	return firstErr
}

// Publish sends payload to topic over every transport protocol selects.
// Issued before Connect succeeds, it is queued and replayed in order
// once Connect flushes the pending queue.
func (a *AITT) Publish(ctx context.Context, topic string, payload []byte, protocol Protocol, qos QoS, retain bool) error {
	a.mu.Lock()
	if !a.connected {
		if len(a.pending) >= defaultPendingQueueLimit {
			a.mu.Unlock()
			return NewError(KindOperationFailed, "pending operation queue full")
		}
		a.pending = append(a.pending, pendingOp{
			kind: opPublish, topic: topic, payload: payload,
			protocol: protocol, qos: qos, retain: retain,
		})
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()
	return a.doPublish(ctx, topic, payload, protocol, qos, retain)
}

// PublishWithReply is the BUS-only request half of a reply exchange;
// direct transports either implement it meaningfully or return
// transport.ErrNotSupported, per spec.md §4.6.
func (a *AITT) PublishWithReply(ctx context.Context, topic string, payload []byte, protocol Protocol, qos QoS, retain bool, replyTopic string, correlation []byte) error {
	var firstErr error
	if protocol.Has(BUS) {
		if err := a.busClient.PublishWithReply(ctx, topic, payload, int(qos), retain, replyTopic, correlation); err != nil {
			firstErr = Wrap(KindBusErr, err, "bus publish with reply")
		}
	}
	for _, bit := range directProtocols {
		if !protocol.Has(bit) {
			continue
		}
		tr, err := a.registry.Get(toTransportProtocol(bit))
		if err != nil {
			if firstErr == nil {
				firstErr = Wrap(KindOperationFailed, err, "registry get")
			}
			continue
		}
		if err := tr.PublishWithReply(ctx, topic, payload, int(qos), retain, replyTopic, correlation); err != nil {
			if firstErr == nil {
				firstErr = Wrap(KindOperationFailed, err, "transport publish with reply")
			}
		}
	}
	return firstErr
}

func (a *AITT) doPublish(ctx context.Context, topic string, payload []byte, protocol Protocol, qos QoS, retain bool) error {
	var firstErr error
	if protocol.Has(BUS) {
		if err := a.busClient.Publish(ctx, topic, payload, int(qos), retain); err != nil {
			firstErr = Wrap(KindBusErr, err, "bus publish")
		}
	}
	for _, bit := range directProtocols {
		if !protocol.Has(bit) {
			continue
		}
		tr, err := a.registry.Get(toTransportProtocol(bit))
		if err != nil {
			if firstErr == nil {
				firstErr = Wrap(KindOperationFailed, err, "registry get")
			}
			continue
		}
		if err := tr.Publish(ctx, topic, payload, int(qos), retain); err != nil {
			if firstErr == nil {
				firstErr = Wrap(KindOperationFailed, err, "transport publish")
			}
		}
	}
	return firstErr
}

// Subscribe registers handler for topic on every transport protocol
// selects, and returns a composite handle recording each per-protocol
// handle in the order they were opened, so Unsubscribe can reverse them.
// The handle is allocated and returned immediately even if Connect
// hasn't succeeded yet; the underlying wire subscriptions are deferred
// until the pending queue flushes.
func (a *AITT) Subscribe(ctx context.Context, topic string, handler Handler, protocol Protocol, qos QoS) (SubscriptionHandle, error) {
	a.mu.Lock()
	if !a.connected && len(a.pending) >= defaultPendingQueueLimit {
		a.mu.Unlock()
		return 0, NewError(KindOperationFailed, "pending operation queue full")
	}
	a.nextHandle++
	handle := SubscriptionHandle(a.nextHandle)
	rec := &subscriptionRecord{
		topic:            topic,
		protocol:         protocol,
		qos:              qos,
		handler:          handler,
		transportHandles: make(map[Protocol]transport.SubscriptionHandle),
	}
	a.subs[handle] = rec

	if !a.connected {
		a.pending = append(a.pending, pendingOp{kind: opSubscribe, handle: handle})
		a.mu.Unlock()
		return handle, nil
	}
	a.mu.Unlock()

	if err := a.doSubscribe(ctx, rec); err != nil {
		a.mu.Lock()
		delete(a.subs, handle)
		a.mu.Unlock()
		return 0, err
	}
	return handle, nil
}

func (a *AITT) doSubscribe(ctx context.Context, rec *subscriptionRecord) error {
	if rec.protocol.Has(BUS) {
		h, err := a.busClient.Subscribe(ctx, rec.topic, func(msg *bus.Message) {
			rec.handler(msg.Topic, msg.Payload, msg.Retain)
		}, int(rec.qos))
		if err != nil {
			return Wrap(KindBusErr, err, "bus subscribe")
		}
		rec.hasBus = true
		rec.busHandle = h
	}

	for _, bit := range directProtocols {
		if !rec.protocol.Has(bit) {
			continue
		}
		tr, err := a.registry.Get(toTransportProtocol(bit))
		if err != nil {
			return Wrap(KindOperationFailed, err, "registry get")
		}
		h, err := tr.Subscribe(ctx, rec.topic, func(topic string, payload []byte, retain bool, replyTopic string, correlation []byte) {
			rec.handler(topic, payload, retain)
		}, int(rec.qos))
		if err != nil {
			return Wrap(KindOperationFailed, err, "transport subscribe")
		}
		rec.transportHandles[bit] = h
	}
	return nil
}

// Unsubscribe reverses every per-protocol handle a prior Subscribe
// opened, in the order they were recorded. A handle whose wire
// subscription never ran (Connect hadn't flushed it yet) is simply
// dropped: replay finds nothing under it and skips.
func (a *AITT) Unsubscribe(ctx context.Context, handle SubscriptionHandle) error {
	a.mu.Lock()
	rec, ok := a.subs[handle]
	if !ok {
		a.mu.Unlock()
		return NewError(KindInvalidArg, "unknown subscription handle")
	}
	delete(a.subs, handle)
	a.mu.Unlock()

	a.teardownSubscription(ctx, rec)
	return nil
}

func (a *AITT) teardownSubscription(ctx context.Context, rec *subscriptionRecord) {
	if rec.hasBus {
		if err := a.busClient.Unsubscribe(ctx, rec.busHandle); err != nil {
			a.logger.Debug("aitt: bus unsubscribe failed", "topic", rec.topic, "error", err)
		}
	}
	for _, bit := range directProtocols {
		h, ok := rec.transportHandles[bit]
		if !ok {
			continue
		}
		tr, err := a.registry.Get(toTransportProtocol(bit))
		if err != nil {
			continue
		}
		if _, err := tr.Unsubscribe(ctx, h); err != nil {
			a.logger.Debug("aitt: transport unsubscribe failed", "topic", rec.topic, "protocol", bit, "error", err)
		}
	}
}

// WatchDiscovery registers cb to observe discovery records carrying the
// given protocol tag (e.g. "tcp", "udp_srtp"); it is a thin pass-through
// to Discovery.AddListener, the only facade-level window onto peer
// presence spec.md allows (the reserved discovery topic itself is never
// exposed to user-level Subscribe calls). Returns an id for UnwatchDiscovery.
func (a *AITT) WatchDiscovery(tag string, cb discovery.Listener) int {
	return a.disc.AddListener(tag, cb)
}

// UnwatchDiscovery reverses a prior WatchDiscovery.
func (a *AITT) UnwatchDiscovery(id int) {
	a.disc.RemoveListener(id)
}

// OpenStream lazily constructs a streaming module for streamType bound
// to topic and role, the narrow WebRTC binding described in spec.md
// §4.4a; it does not negotiate media, only presence and lifecycle.
func (a *AITT) OpenStream(streamType, topic string, role stream.Role) (*stream.Module, error) {
	m, err := a.registry.NewStreamModule(streamType, topic, role)
	if err != nil {
		return nil, Wrap(KindOperationFailed, err, "open stream")
	}
	return m, nil
}

func toTransportProtocol(p Protocol) transport.Protocol {
	switch p {
	case TCP:
		return transport.TCP
	case TCPSecure:
		return transport.TCPSecure
	case UDPSRTP:
		return transport.UDPSRTP
	default:
		return transport.BUS
	}
}
