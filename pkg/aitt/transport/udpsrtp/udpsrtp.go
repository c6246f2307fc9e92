//go:build unix

// Package udpsrtp implements the UDP_SRTP broker-less transport: every
// topic maps onto its own administratively-scoped multicast group, derived
// deterministically from the topic string so publishers and subscribers
// never need to exchange an address out of band — the same role
// AittDiscovery's per-protocol sub-blob plays for TCP, simplified because
// a multicast group address needs no dialing.
//
// Encryption uses pkg/netutil/srtpenvelope (pion/srtp's AEAD_AES_256_GCM
// profile) keyed by a secret the caller supplies plus the topic name, so
// two peers publishing/subscribing to the same topic derive the same
// session key without a handshake. The default secret is a fixed,
// published constant: fine for same-deployment testing, not a substitute
// for WithPresharedSecret in anything that leaves a trusted network.
package udpsrtp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nnstreamer/aitt-go/pkg/aitt/discovery"
	"github.com/nnstreamer/aitt-go/pkg/aitt/transport"
	"github.com/nnstreamer/aitt-go/pkg/mainloop"
	"github.com/nnstreamer/aitt-go/pkg/netutil/srtpenvelope"
	"github.com/nnstreamer/aitt-go/pkg/netutil/udpsocket"
)

var defaultSecret = []byte("aitt-go udp_srtp default preshared secret, override with WithPresharedSecret")

const recvBufferSize = 64 * 1024

type subEntry struct {
	handle  transport.SubscriptionHandle
	handler transport.Handler
}

type topicSub struct {
	sock    *udpsocket.Socket
	conn    *srtpenvelope.Conn
	entries []subEntry
}

// Option customizes a Transport at construction.
type Option func(*Transport)

// WithPresharedSecret overrides the default, published key-derivation
// secret. Every peer that needs to interoperate must use the same one.
func WithPresharedSecret(secret []byte) Option {
	return func(t *Transport) { t.secret = secret }
}

// WithInterface pins multicast membership and sends to a specific local
// network interface instead of the kernel default.
func WithInterface(iface string) Option {
	return func(t *Transport) { t.iface = iface }
}

// WithLoop lets an embedding application supply its own mainloop.Loop
// (e.g. mainloop.NewHost bound to its own GoScheduler or event loop)
// instead of the package default, mainloop.Native.
func WithLoop(loop mainloop.Loop) Option {
	return func(t *Transport) { t.loop = loop }
}

// Transport is the Transport implementation for UDP_SRTP.
type Transport struct {
	disc    *discovery.Discovery
	secret  []byte
	iface   string
	loop    mainloop.Loop
	ownLoop bool

	sockOut *udpsocket.Socket

	nextHandle uint64

	mu        sync.Mutex
	subs      map[string]*topicSub
	outConns  map[string]*srtpenvelope.Conn
	closed    bool

	listenerID int
	loopCancel context.CancelFunc
}

// New constructs a UDP_SRTP transport. disc is used only for presence
// visibility; no address exchange over Discovery is required since every
// peer derives the same multicast group from the topic name.
func New(localIP string, disc *discovery.Discovery, opts ...Option) (*Transport, error) {
	sockOut, err := udpsocket.New()
	if err != nil {
		return nil, fmt.Errorf("udpsrtp: new outbound socket: %w", err)
	}

	t := &Transport{
		disc:     disc,
		secret:   defaultSecret,
		sockOut:  sockOut,
		subs:     make(map[string]*topicSub),
		outConns: make(map[string]*srtpenvelope.Conn),
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.loop == nil {
		native, nerr := mainloop.NewNative()
		if nerr != nil {
			sockOut.Close()
			return nil, fmt.Errorf("udpsrtp: new mainloop: %w", nerr)
		}
		t.loop = native
		t.ownLoop = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.loopCancel = cancel
	go func() {
		if err := t.loop.Run(ctx); err != nil {
			slog.Debug("udpsrtp: mainloop exited", "error", err)
		}
	}()

	if disc != nil {
		t.listenerID = disc.AddListener("udp_srtp", func(senderID, status string, blob []byte) {
			slog.Debug("udpsrtp: peer presence", "sender", senderID, "status", status)
		})
		if err := disc.Update(context.Background(), "udp_srtp", []byte(localIP)); err != nil {
			slog.Debug("udpsrtp: discovery update failed", "error", err)
		}
	}

	return t, nil
}

func (t *Transport) Protocol() transport.Protocol { return transport.UDPSRTP }

// deriveGroup maps topic onto a deterministic 239.0.0.0/8 group address
// and a port in [40000, 42000), so any peer can compute it unassisted.
func deriveGroup(topic string) (ip string, port int) {
	sum := sha256.Sum256([]byte("group:" + topic))
	ip = fmt.Sprintf("239.%d.%d.%d", sum[0], sum[1], sum[2])
	port = 40000 + int(binary.BigEndian.Uint16(sum[3:5])%2000)
	return ip, port
}

func (t *Transport) deriveKey(topic string) (key, salt []byte) {
	k := sha256.Sum256(append(append([]byte{}, t.secret...), []byte("key:"+topic)...))
	s := sha256.Sum256(append(append([]byte{}, t.secret...), []byte("salt:"+topic)...))
	return k[:32], s[:12]
}

func (t *Transport) outboundConn(topic string) (*srtpenvelope.Conn, error) {
	t.mu.Lock()
	if c, ok := t.outConns[topic]; ok {
		t.mu.Unlock()
		return c, nil
	}
	t.mu.Unlock()

	key, salt := t.deriveKey(topic)
	conn, err := srtpenvelope.New(t.sockOut, key, salt, randSSRC())
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if existing, ok := t.outConns[topic]; ok {
		t.mu.Unlock()
		return existing, nil
	}
	t.outConns[topic] = conn
	t.mu.Unlock()
	return conn, nil
}

func (t *Transport) publish(ctx context.Context, topic string, payload []byte) error {
	conn, err := t.outboundConn(topic)
	if err != nil {
		return fmt.Errorf("udpsrtp: outbound conn: %w", err)
	}
	group, port := deriveGroup(topic)
	if err := conn.Send(payload, group, port); err != nil {
		return fmt.Errorf("udpsrtp: send: %w", err)
	}
	return nil
}

func (t *Transport) Publish(ctx context.Context, topic string, payload []byte, qos int, retain bool) error {
	return t.publish(ctx, topic, payload)
}

// PublishWithReply is not meaningful over a fire-and-forget multicast
// group: there is no unicast return path to a specific sender.
func (t *Transport) PublishWithReply(ctx context.Context, topic string, payload []byte, qos int, retain bool, replyTopic string, correlation []byte) error {
	return transport.ErrNotSupported
}

func (t *Transport) SendReply(ctx context.Context, topic string, payload []byte, qos int, retain bool) error {
	return transport.ErrNotSupported
}

func (t *Transport) Subscribe(ctx context.Context, topic string, handler transport.Handler, qos int) (transport.SubscriptionHandle, error) {
	handle := transport.SubscriptionHandle(atomic.AddUint64(&t.nextHandle, 1))

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, fmt.Errorf("udpsrtp: transport closed")
	}
	sub, ok := t.subs[topic]
	t.mu.Unlock()

	if ok {
		t.mu.Lock()
		sub.entries = append(sub.entries, subEntry{handle: handle, handler: handler})
		t.mu.Unlock()
		return handle, nil
	}

	group, port := deriveGroup(topic)
	sock, _, err := udpsocket.Bind("0.0.0.0", port)
	if err != nil {
		return 0, fmt.Errorf("udpsrtp: bind: %w", err)
	}
	if err := sock.JoinMulticast(group, t.iface, ""); err != nil {
		sock.Close()
		return 0, fmt.Errorf("udpsrtp: join multicast: %w", err)
	}

	key, salt := t.deriveKey(topic)
	conn, err := srtpenvelope.New(sock, key, salt, randSSRC())
	if err != nil {
		sock.Close()
		return 0, fmt.Errorf("udpsrtp: new srtp conn: %w", err)
	}

	sub = &topicSub{sock: sock, conn: conn, entries: []subEntry{{handle: handle, handler: handler}}}

	t.mu.Lock()
	t.subs[topic] = sub
	t.mu.Unlock()

	fd, err := sock.RawHandle()
	if err != nil {
		t.mu.Lock()
		delete(t.subs, topic)
		t.mu.Unlock()
		sock.Close()
		return 0, fmt.Errorf("udpsrtp: raw handle: %w", err)
	}

	topicName := topic
	t.loop.AddWatch(fd, nil, func(result mainloop.Result, fd int, data any) mainloop.Disposition {
		if result != mainloop.Okay {
			return mainloop.Remove
		}
		buf := make([]byte, recvBufferSize)
		n, _, _, rerr := conn.Recv(buf)
		if rerr != nil {
			slog.Debug("udpsrtp: recv failed", "topic", topicName, "error", rerr)
			return mainloop.Continue
		}
		t.dispatch(topicName, buf[:n])
		return mainloop.Continue
	})

	return handle, nil
}

func (t *Transport) dispatch(topic string, payload []byte) {
	t.mu.Lock()
	sub, ok := t.subs[topic]
	var entries []subEntry
	if ok {
		entries = append(entries, sub.entries...)
	}
	t.mu.Unlock()

	for _, e := range entries {
		e.handler(topic, payload, false, "", nil)
	}
}

func (t *Transport) Unsubscribe(ctx context.Context, handle transport.SubscriptionHandle) (transport.Handler, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for topic, sub := range t.subs {
		for i, e := range sub.entries {
			if e.handle != handle {
				continue
			}
			removed := e.handler
			sub.entries = append(sub.entries[:i:i], sub.entries[i+1:]...)
			if len(sub.entries) == 0 {
				t.loop.RemoveWatch(mustFD(sub.sock))
				sub.sock.Close()
				delete(t.subs, topic)
			}
			return removed, nil
		}
	}
	return nil, nil
}

func mustFD(sock *udpsocket.Socket) int {
	fd, err := sock.RawHandle()
	if err != nil {
		return -1
	}
	return fd
}

func (t *Transport) CountSubscribers(topic string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	sub, ok := t.subs[topic]
	if !ok {
		return 0
	}
	return len(sub.entries)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	for _, sub := range t.subs {
		sub.sock.Close()
	}
	t.subs = nil
	t.outConns = nil
	t.mu.Unlock()

	if t.disc != nil {
		t.disc.RemoveListener(t.listenerID)
	}

	t.loopCancel()
	if t.ownLoop {
		t.loop.Quit()
	}
	return t.sockOut.Close()
}

var _ transport.Transport = (*Transport)(nil)

func randSSRC() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0xdeadbeef
	}
	return binary.BigEndian.Uint32(b[:])
}
