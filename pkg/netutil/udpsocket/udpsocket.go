// Package udpsocket wraps a UDP socket with the multicast group and
// interface-selection operations the UDP_SRTP transport needs, the Go
// counterpart of the original AITT UDP helper.
package udpsocket

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv4"
)

// Socket is a UDP datagram socket with multicast membership control.
// Broadcast is enabled and multicast loopback is disabled on creation,
// matching the original socket defaults.
type Socket struct {
	conn *net.UDPConn
	pc   *ipv4.PacketConn
}

// Bind creates a socket bound to host:port. If port is 0, the kernel
// assigns an ephemeral port, which is returned so the caller can advertise
// it (e.g. in a discovery record).
func Bind(host string, port int) (*Socket, int, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, 0, fmt.Errorf("udpsocket: listen: %w", err)
	}

	s, err := newSocket(conn)
	if err != nil {
		conn.Close()
		return nil, 0, err
	}

	boundPort := conn.LocalAddr().(*net.UDPAddr).Port
	return s, boundPort, nil
}

// New creates an unbound socket, used only for sending.
func New() (*Socket, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("udpsocket: listen: %w", err)
	}
	return newSocket(conn)
}

func newSocket(conn *net.UDPConn) (*Socket, error) {
	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastLoopback(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("udpsocket: disable multicast loopback: %w", err)
	}
	return &Socket{conn: conn, pc: pc}, nil
}

// Send writes data to host:port. A partial write is not an error; the
// number of bytes actually sent is returned, matching the original
// Send(data, &szData, ...) out-parameter semantics.
func (s *Socket) Send(data []byte, host string, port int) (int, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
	n, err := s.conn.WriteToUDP(data, addr)
	if err != nil {
		return n, fmt.Errorf("udpsocket: send: %w", err)
	}
	return n, nil
}

// Recv reads one datagram into buf, returning the number of bytes read and
// the sender's address.
func (s *Socket) Recv(buf []byte) (n int, host string, port int, err error) {
	nn, addr, rerr := s.conn.ReadFromUDP(buf)
	if rerr != nil {
		return nn, "", 0, fmt.Errorf("udpsocket: recv: %w", rerr)
	}
	return nn, addr.IP.String(), addr.Port, nil
}

// SetReadDeadline sets the read deadline on the underlying connection.
func (s *Socket) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// JoinMulticast joins the multicast group at peer. If iface is non-empty
// it names the local interface to join on; if source is non-empty, the
// join is source-specific (SSM).
func (s *Socket) JoinMulticast(peer, iface, source string) error {
	group := net.ParseIP(peer)
	if group == nil || !group.IsMulticast() {
		return fmt.Errorf("udpsocket: %q is not a multicast address", peer)
	}

	ifi, err := resolveInterface(iface)
	if err != nil {
		return err
	}

	if source != "" {
		src := net.ParseIP(source)
		if src == nil {
			return fmt.Errorf("udpsocket: invalid source address %q", source)
		}
		return s.pc.JoinSourceSpecificGroup(ifi, &net.UDPAddr{IP: group}, &net.UDPAddr{IP: src})
	}
	return s.pc.JoinGroup(ifi, &net.UDPAddr{IP: group})
}

// LeaveMulticast mirrors JoinMulticast.
func (s *Socket) LeaveMulticast(peer, iface, source string) error {
	group := net.ParseIP(peer)
	if group == nil || !group.IsMulticast() {
		return fmt.Errorf("udpsocket: %q is not a multicast address", peer)
	}

	ifi, err := resolveInterface(iface)
	if err != nil {
		return err
	}

	if source != "" {
		src := net.ParseIP(source)
		if src == nil {
			return fmt.Errorf("udpsocket: invalid source address %q", source)
		}
		return s.pc.LeaveSourceSpecificGroup(ifi, &net.UDPAddr{IP: group}, &net.UDPAddr{IP: src})
	}
	return s.pc.LeaveGroup(ifi, &net.UDPAddr{IP: group})
}

// SetMulticastInterface selects the interface used to send outgoing
// multicast datagrams. An empty iface resets to the kernel default.
func (s *Socket) SetMulticastInterface(iface string) error {
	ifi, err := resolveInterface(iface)
	if err != nil {
		return err
	}
	if ifi == nil {
		return nil
	}
	return s.pc.SetMulticastInterface(ifi)
}

func resolveInterface(iface string) (*net.Interface, error) {
	if iface == "" {
		return nil, nil
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("udpsocket: invalid iface %q: %w", iface, err)
	}
	return ifi, nil
}

// RawHandle returns the socket's file descriptor for registration with a
// mainloop.Loop watch. The fd remains owned by Socket; callers must not
// close it directly and must stop watching before Close.
func (s *Socket) RawHandle() (int, error) {
	raw, err := s.conn.SyscallConn()
	if err != nil {
		return -1, fmt.Errorf("udpsocket: syscall conn: %w", err)
	}
	var fd int
	ctrlErr := raw.Control(func(rawFd uintptr) {
		fd = int(rawFd)
	})
	if ctrlErr != nil {
		return -1, fmt.Errorf("udpsocket: control: %w", ctrlErr)
	}
	return fd, nil
}

// LocalAddr returns the socket's local address.
func (s *Socket) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Close releases the socket.
func (s *Socket) Close() error { return s.conn.Close() }
