// Package stream is a thin binding onto the dropped WebRTC streaming
// subsystem (original_source/modules/webrtc/StreamManager.cc): it
// negotiates nothing on its own, but constructs a real
// github.com/pion/webrtc/v3 PeerConnection bound to a topic/role pair and
// registers a Discovery listener under its stream tag; it publishes no
// presence record of its own. SDP
// exchange, track negotiation, and RTP relaying belong to the full video
// stack this module does not implement.
package stream

import (
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v3"

	"github.com/nnstreamer/aitt-go/pkg/aitt/discovery"
)

// Role is which side of a stream this Module plays.
type Role int

const (
	// Publish sends media (the original's "src").
	Publish Role = iota
	// Subscribe receives media (the original's "sink").
	Subscribe
)

func (r Role) String() string {
	if r == Publish {
		return "publish"
	}
	return "subscribe"
}

// Stream is the narrow contract a streaming module satisfies: identity
// and lifecycle, not the data plane.
type Stream interface {
	Topic() string
	Role() Role
	Close() error
}

// Module is the one Stream implementation this package ships.
type Module struct {
	streamType string
	topic      string
	role       Role
	pc         *webrtc.PeerConnection
	listenerID int
	disc       *discovery.Discovery
}

// New constructs a Module for streamType bound to topic and role,
// registering a Discovery listener under the "stream:<streamType>" tag
// the same way a transport would register its own protocol tag.
func New(streamType, topic string, role Role, disc *discovery.Discovery) (*Module, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("stream: new peer connection: %w", err)
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		slog.Debug("stream: connection state changed", "topic", topic, "role", role, "state", state.String())
	})

	m := &Module{streamType: streamType, topic: topic, role: role, pc: pc, disc: disc}

	if disc != nil {
		m.listenerID = disc.AddListener("stream:"+streamType, func(sender, status string, blob []byte) {
			slog.Debug("stream: peer presence", "topic", topic, "sender", sender, "status", status)
		})
	}

	return m, nil
}

func (m *Module) Topic() string { return m.topic }
func (m *Module) Role() Role    { return m.role }

func (m *Module) Close() error {
	if m.disc != nil {
		m.disc.RemoveListener(m.listenerID)
	}
	return m.pc.Close()
}

var _ Stream = (*Module)(nil)
