// Package discovery maintains the wire contract for peer presence on the
// reserved aitt/discovery topic and multiplexes inbound records to
// per-protocol listeners, the Go rendering of AittDiscovery.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nnstreamer/aitt-go/pkg/bus"
)

// Listener is invoked once per inbound record for the protocol tag it was
// registered with, with the sub-blob that record carries for that tag
// (nil if the sender isn't active on that protocol).
type Listener func(senderID, status string, blob []byte)

type listenerEntry struct {
	tag string
	cb  Listener
}

// Discovery owns the listener table and publishes this peer's own
// presence record over an injected bus.Client.
type Discovery struct {
	id     string
	client bus.Client

	mu         sync.Mutex
	listeners  map[int]*listenerEntry
	nextID     int
	blobs      map[string][]byte
	subHandle  bus.SubscriptionHandle
	subscribed bool
}

// New returns a Discovery that identifies this peer as id and publishes/
// subscribes through client.
func New(id string, client bus.Client) *Discovery {
	return &Discovery{
		id:        id,
		client:    client,
		listeners: make(map[int]*listenerEntry),
		blobs:     make(map[string][]byte),
	}
}

// AddListener registers cb for the sub-blob tagged tag; returns an opaque,
// monotonically increasing id for later RemoveListener calls.
func (d *Discovery) AddListener(tag string, cb Listener) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.listeners[id] = &listenerEntry{tag: tag, cb: cb}
	return id
}

// RemoveListener is safe to call from inside a Listener callback; the
// removal takes effect starting with the next dispatch, since dispatch
// works off a snapshot of the listener table.
func (d *Discovery) RemoveListener(id int) {
	d.mu.Lock()
	delete(d.listeners, id)
	d.mu.Unlock()
}

// Start registers the last-will disconnected record, connects the Bus
// Client, subscribes to the discovery topic, and publishes a connected
// record. If clearSession is true, a disconnected record for this peer id
// is published first, wiping any retained presence a prior session left
// behind before the new connected record lands.
func (d *Discovery) Start(ctx context.Context, host string, port int, user, pass string, clearSession bool) error {
	willPayload, err := encodeRecord(newRecord("disconnected", nil))
	if err != nil {
		return fmt.Errorf("discovery: encode will: %w", err)
	}
	if err := d.client.SetWill(Topic, willPayload, true); err != nil {
		return fmt.Errorf("discovery: set will: %w", err)
	}

	if err := d.client.Connect(ctx, host, port, user, pass); err != nil {
		return fmt.Errorf("discovery: connect: %w", err)
	}

	handle, err := d.client.Subscribe(ctx, Topic, d.dispatch, 1)
	if err != nil {
		return fmt.Errorf("discovery: subscribe: %w", err)
	}
	d.mu.Lock()
	d.subHandle = handle
	d.subscribed = true
	d.mu.Unlock()

	if clearSession {
		if err := d.publish(ctx, "disconnected"); err != nil {
			return fmt.Errorf("discovery: clear session: %w", err)
		}
	}

	return d.publish(ctx, "connected")
}

// Update replaces the sub-blob registered for tag and republishes the
// full connected record with retain=true and qos 1. The mqttbus backend
// ignores qos, so the record is delivered at QoS 0 (at most once).
func (d *Discovery) Update(ctx context.Context, tag string, blob []byte) error {
	d.mu.Lock()
	d.blobs[tag] = blob
	d.mu.Unlock()
	return d.publish(ctx, "connected")
}

// Stop publishes a disconnected record and unsubscribes.
func (d *Discovery) Stop(ctx context.Context) error {
	pubErr := d.publish(ctx, "disconnected")

	d.mu.Lock()
	handle := d.subHandle
	subscribed := d.subscribed
	d.subscribed = false
	d.mu.Unlock()

	if !subscribed {
		return pubErr
	}
	if err := d.client.Unsubscribe(ctx, handle); err != nil && pubErr == nil {
		return fmt.Errorf("discovery: unsubscribe: %w", err)
	}
	return pubErr
}

func (d *Discovery) publish(ctx context.Context, status string) error {
	d.mu.Lock()
	blobs := make(map[string][]byte, len(d.blobs))
	for tag, blob := range d.blobs {
		blobs[tag] = blob
	}
	d.mu.Unlock()

	data, err := encodeRecord(newRecord(status, blobs))
	if err != nil {
		return fmt.Errorf("discovery: encode record: %w", err)
	}
	return d.client.Publish(ctx, Topic, data, 1, true)
}

// dispatch is the single Bus Client subscription handler for Topic.
func (d *Discovery) dispatch(msg *bus.Message) {
	if msg.SenderID == d.id {
		return
	}

	rec, err := decodeRecord(msg.Payload)
	if err != nil {
		slog.Debug("discovery: malformed record", "sender", msg.SenderID, "error", err)
		return
	}
	status := rec.Status()

	d.mu.Lock()
	snapshot := make([]*listenerEntry, 0, len(d.listeners))
	for _, l := range d.listeners {
		snapshot = append(snapshot, l)
	}
	d.mu.Unlock()

	for _, l := range snapshot {
		l.cb(msg.SenderID, status, rec.Blob(l.tag))
	}
}
