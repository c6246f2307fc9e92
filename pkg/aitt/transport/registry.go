package transport

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/nnstreamer/aitt-go/pkg/aitt/discovery"
	"github.com/nnstreamer/aitt-go/pkg/aitt/stream"
	"github.com/nnstreamer/aitt-go/pkg/bus"
	"github.com/nnstreamer/aitt-go/pkg/bus/mqttbus"
)

// Factory builds the transport instance for one protocol, bound to the
// local IP address (for the sockets it opens) and the Discovery instance
// it should use to learn remote peers' sub-blobs.
type Factory func(localIP string, disc *discovery.Discovery) (Transport, error)

// Registry loads each protocol's transport at most once and caches a
// null transport in place of any protocol that fails to construct or has
// no factory registered, so a missing or failed module never makes Get
// fail. It is single-writer
// (construction/destruction); Get is read-only after a protocol's first
// lookup.
type Registry struct {
	localIP   string
	disc      *discovery.Discovery
	factories map[Protocol]Factory

	mu        sync.Mutex
	instances map[Protocol]Transport
}

// NewRegistry returns a Registry that builds transports via factories,
// keyed by the protocol each one serves (TCP, TCPSecure, UDPSRTP).
func NewRegistry(localIP string, disc *discovery.Discovery, factories map[Protocol]Factory) *Registry {
	return &Registry{
		localIP:   localIP,
		disc:      disc,
		factories: factories,
		instances: make(map[Protocol]Transport),
	}
}

// Get returns the transport for p, constructing it on first use. BUS is
// rejected with ErrNoData since it isn't a registry protocol, and a value
// outside the known enumeration is rejected with ErrUnknownProtocol;
// every other protocol returns a transport (real or null) and never
// errors.
func (r *Registry) Get(p Protocol) (Transport, error) {
	if p == BUS {
		return nil, ErrNoData
	}
	if !p.valid() {
		return nil, ErrUnknownProtocol
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.instances[p]; ok {
		return t, nil
	}

	factory, ok := r.factories[p]
	if !ok {
		t := NewNullTransport(p)
		r.instances[p] = t
		return t, nil
	}

	t, err := factory(r.localIP, r.disc)
	if err != nil {
		slog.Debug("transport: module load failed, using null transport", "protocol", p, "error", err)
		t = NewNullTransport(p)
	}
	r.instances[p] = t
	return t, nil
}

// NewStreamModule lazily constructs a streaming module instance for the
// given type, topic, and role, bound to this registry's Discovery.
func (r *Registry) NewStreamModule(streamType, topic string, role stream.Role) (*stream.Module, error) {
	s, err := stream.New(streamType, topic, role, r.disc)
	if err != nil {
		return nil, fmt.Errorf("transport: new stream module: %w", err)
	}
	return s, nil
}

// NewCustomBusClient constructs the custom Bus Client backend.
// mqttbus.Client is the one backend this module ships; options is
// accepted but not read.
func (r *Registry) NewCustomBusClient(id string, options map[string]string) (bus.Client, error) {
	return mqttbus.New(id), nil
}

// Close releases every constructed transport, in no particular order,
// after which the registry must not be used again. Handles are closed
// only here, at registry destruction, after all dependents are dropped.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, t := range r.instances {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.instances = nil
	return firstErr
}
