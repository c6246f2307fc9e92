// Package aitt implements the AITT Facade: it connects the Bus Client,
// the module registry, and Discovery, and exposes publish/subscribe/
// connect/disconnect to applications.
package aitt

import "strings"

// Protocol is a bitset selecting which transports a publish/subscribe
// call should use. BUS is the default; the direct protocols may be
// combined with it or with each other.
type Protocol uint8

const (
	// BUS routes through the broker-mediated Bus Client.
	BUS Protocol = 1 << iota
	// TCP is the broker-less plain TCP transport.
	TCP
	// TCPSecure is TCP wrapped in TLS.
	TCPSecure
	// UDPSRTP is the broker-less SRTP/UDP transport.
	UDPSRTP
)

// Has reports whether p includes bit.
func (p Protocol) Has(bit Protocol) bool { return p&bit != 0 }

// String renders the set bits, e.g. "BUS|TCP".
func (p Protocol) String() string {
	if p == 0 {
		return "NONE"
	}
	var names []string
	if p.Has(BUS) {
		names = append(names, "BUS")
	}
	if p.Has(TCP) {
		names = append(names, "TCP")
	}
	if p.Has(TCPSecure) {
		names = append(names, "TCP_SECURE")
	}
	if p.Has(UDPSRTP) {
		names = append(names, "UDP_SRTP")
	}
	return strings.Join(names, "|")
}

// directProtocols lists the protocol bits the Module Registry holds
// transports for; BUS is handled by the Bus Client directly.
var directProtocols = []Protocol{TCP, TCPSecure, UDPSRTP}

// QoS mirrors the Bus Client's delivery guarantee for one publish or
// subscribe. Only AtMostOnce is implemented by the adapted Bus Client
// backend (pkg/mqtt0 is QoS 0 only); the others are accepted at the API
// boundary so callers compile against the full enumeration spec.md §3
// requires, but are downgraded to AtMostOnce by pkg/bus/mqttbus.
type QoS int

const (
	AtMostOnce QoS = iota
	AtLeastOnce
	ExactlyOnce
)
