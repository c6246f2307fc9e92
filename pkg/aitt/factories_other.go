//go:build !unix

package aitt

import (
	"github.com/nnstreamer/aitt-go/pkg/aitt/discovery"
	"github.com/nnstreamer/aitt-go/pkg/aitt/transport"
	"github.com/nnstreamer/aitt-go/pkg/aitt/transport/tcp"
)

// defaultFactories omits UDP_SRTP outside unix builds: udpsrtp.New relies
// on mainloop.Native, which requires poll(2). Get(UDPSRTP) still
// succeeds on these platforms, just against a NullTransport.
func defaultFactories() map[transport.Protocol]transport.Factory {
	return map[transport.Protocol]transport.Factory{
		transport.TCP: func(localIP string, disc *discovery.Discovery) (transport.Transport, error) {
			return tcp.New(transport.TCP, localIP, disc)
		},
		transport.TCPSecure: func(localIP string, disc *discovery.Discovery) (transport.Transport, error) {
			return tcp.New(transport.TCPSecure, localIP, disc)
		},
	}
}
