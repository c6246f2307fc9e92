package commands

import (
	"github.com/google/uuid"

	"github.com/nnstreamer/aitt-go/pkg/aitt"
	"github.com/nnstreamer/aitt-go/pkg/cli"
)

// newFacade constructs an aitt.AITT for ctx, generating a peer id when
// the context doesn't pin one so repeated invocations don't collide on
// the discovery topic.
func newFacade(ctx *cli.Context) (*aitt.AITT, error) {
	peerID := ctx.PeerID
	if peerID == "" {
		peerID = "aittctl-" + uuid.NewString()
	}

	var opts []aitt.Option
	if ctx.ClearSession {
		opts = append(opts, aitt.WithClearSession(true))
	}
	if ctx.LocalIP != "" {
		opts = append(opts, aitt.WithLocalIP(ctx.LocalIP))
	}

	return aitt.New(peerID, opts...)
}

// protocolFromFlag maps a single --protocol flag value to one
// aitt.Protocol bit. Combinations such as "bus|tcp" are not parsed; they,
// like any unrecognized value, map to aitt.BUS.
func protocolFromFlag(name string) aitt.Protocol {
	switch name {
	case "tcp":
		return aitt.TCP
	case "tcp_secure", "tcp-secure":
		return aitt.TCPSecure
	case "udp_srtp", "udp-srtp":
		return aitt.UDPSRTP
	default:
		return aitt.BUS
	}
}
