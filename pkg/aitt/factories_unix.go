//go:build unix

package aitt

import (
	"github.com/nnstreamer/aitt-go/pkg/aitt/discovery"
	"github.com/nnstreamer/aitt-go/pkg/aitt/transport"
	"github.com/nnstreamer/aitt-go/pkg/aitt/transport/tcp"
	"github.com/nnstreamer/aitt-go/pkg/aitt/transport/udpsrtp"
)

// defaultFactories wires every broker-less transport this module ships
// into the Module Registry's factory table. udpsrtp.New uses mainloop.
// Native, a poll(2)-based reactor only buildable on unix, so only this
// build carries UDP_SRTP; the !unix build falls back to the registry's
// null transport for that one protocol, per spec.md §4.4's invariant
// that Get never fails.
func defaultFactories() map[transport.Protocol]transport.Factory {
	return map[transport.Protocol]transport.Factory{
		transport.TCP: func(localIP string, disc *discovery.Discovery) (transport.Transport, error) {
			return tcp.New(transport.TCP, localIP, disc)
		},
		transport.TCPSecure: func(localIP string, disc *discovery.Discovery) (transport.Transport, error) {
			return tcp.New(transport.TCPSecure, localIP, disc)
		},
		transport.UDPSRTP: func(localIP string, disc *discovery.Discovery) (transport.Transport, error) {
			return udpsrtp.New(localIP, disc)
		},
	}
}
