// Package tcp implements the TCP and TCP_SECURE broker-less transports: a
// direct socket peers dial into, advertised the same way the original's
// TCP/TLS modules advertised their listening port through AittDiscovery's
// per-protocol sub-blob (original_source/include/AittDiscovery.h), here
// carried as the "tcp"/"tcp_secure" Discovery tag.
//
// There is no per-topic rendezvous: a publish fans out to every peer this
// instance has learned about via Discovery, and each peer's own
// subscription trie decides locally whether a frame matches anything it
// cares about. It is the same filter-on-receive shape UDP_SRTP's multicast
// group necessarily uses, kept consistent across both direct transports.
package tcp

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nnstreamer/aitt-go/pkg/aitt/discovery"
	"github.com/nnstreamer/aitt-go/pkg/aitt/transport"
	"github.com/nnstreamer/aitt-go/pkg/trie"
)

const dialTimeout = 5 * time.Second

type subEntry struct {
	handle  transport.SubscriptionHandle
	handler transport.Handler
}

// Transport is the Transport implementation shared by TCP and TCP_SECURE;
// the only difference between the two is whether ln is wrapped in TLS.
type Transport struct {
	proto transport.Protocol
	disc  *discovery.Discovery
	tag   string

	ln net.Listener

	nextHandle uint64

	mu       sync.Mutex
	subs     *trie.Trie[[]subEntry]
	peers    map[string]string // senderID -> "host:port"
	peerConn map[string]net.Conn
	closed   bool

	listenerID int
}

// New binds a listener for proto on localIP (TCP_SECURE wraps it in an
// ephemeral self-signed TLS certificate) and advertises its address via
// disc, the Go rendering of a TransportModule's ModuleEntry constructor.
func New(proto transport.Protocol, localIP string, disc *discovery.Discovery) (*Transport, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(localIP, "0"))
	if err != nil {
		return nil, fmt.Errorf("tcp: listen: %w", err)
	}

	tag := "tcp"
	if proto == transport.TCPSecure {
		tag = "tcp_secure"
		cert, cerr := generateSelfSignedCert()
		if cerr != nil {
			ln.Close()
			return nil, fmt.Errorf("tcp: generate cert: %w", cerr)
		}
		ln = tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}})
	}

	t := &Transport{
		proto:    proto,
		disc:     disc,
		tag:      tag,
		ln:       ln,
		subs:     trie.New[[]subEntry](),
		peers:    make(map[string]string),
		peerConn: make(map[string]net.Conn),
	}

	if disc != nil {
		t.listenerID = disc.AddListener(tag, t.onPeerRecord)
		_, port, _ := net.SplitHostPort(ln.Addr().String())
		if err := disc.Update(context.Background(), tag, []byte(net.JoinHostPort(localIP, port))); err != nil {
			slog.Debug("tcp: discovery update failed", "error", err)
		}
	}

	go t.acceptLoop()

	return t, nil
}

func (t *Transport) Protocol() transport.Protocol { return t.proto }

func (t *Transport) onPeerRecord(senderID, status string, blob []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if status != "connected" || len(blob) == 0 {
		delete(t.peers, senderID)
		if c, ok := t.peerConn[senderID]; ok {
			c.Close()
			delete(t.peerConn, senderID)
		}
		return
	}
	t.peers[senderID] = string(blob)
}

func (t *Transport) acceptLoop() {
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			return
		}
		go t.serve(conn)
	}
}

func (t *Transport) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		topic, payload, retain, replyTopic, correlation, err := readFrame(r)
		if err != nil {
			if err != io.EOF {
				slog.Debug("tcp: frame read failed", "error", err)
			}
			return
		}
		t.dispatch(topic, payload, retain, replyTopic, correlation)
	}
}

func (t *Transport) dispatch(topic string, payload []byte, retain bool, replyTopic string, correlation []byte) {
	t.mu.Lock()
	var entries []subEntry
	if v, ok := t.subs.GetValue(topicPath(topic)); ok {
		entries = append(entries, v...)
	}
	t.mu.Unlock()

	for _, e := range entries {
		e.handler(topic, payload, retain, replyTopic, correlation)
	}
}

func (t *Transport) connFor(addr string) (net.Conn, error) {
	t.mu.Lock()
	if c, ok := t.peerConn[addr]; ok {
		t.mu.Unlock()
		return c, nil
	}
	t.mu.Unlock()

	var conn net.Conn
	var err error
	if t.proto == transport.TCPSecure {
		conn, err = tls.DialWithDialer(&net.Dialer{Timeout: dialTimeout}, "tcp", addr, &tls.Config{InsecureSkipVerify: true})
	} else {
		conn, err = net.DialTimeout("tcp", addr, dialTimeout)
	}
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if existing, ok := t.peerConn[addr]; ok {
		t.mu.Unlock()
		conn.Close()
		return existing, nil
	}
	t.peerConn[addr] = conn
	t.mu.Unlock()
	return conn, nil
}

func (t *Transport) publish(ctx context.Context, topic string, payload []byte, retain bool, replyTopic string, correlation []byte) error {
	t.mu.Lock()
	addrs := make([]string, 0, len(t.peers))
	for _, a := range t.peers {
		addrs = append(addrs, a)
	}
	t.mu.Unlock()

	frame, err := encodeFrame(topic, payload, retain, replyTopic, correlation)
	if err != nil {
		return fmt.Errorf("tcp: encode frame: %w", err)
	}

	var firstErr error
	for _, addr := range addrs {
		conn, derr := t.connFor(addr)
		if derr != nil {
			if firstErr == nil {
				firstErr = derr
			}
			continue
		}
		if _, werr := conn.Write(frame); werr != nil {
			t.mu.Lock()
			delete(t.peerConn, addr)
			t.mu.Unlock()
			conn.Close()
			if firstErr == nil {
				firstErr = werr
			}
		}
	}
	return firstErr
}

func (t *Transport) Publish(ctx context.Context, topic string, payload []byte, qos int, retain bool) error {
	return t.publish(ctx, topic, payload, retain, "", nil)
}

func (t *Transport) PublishWithReply(ctx context.Context, topic string, payload []byte, qos int, retain bool, replyTopic string, correlation []byte) error {
	return t.publish(ctx, topic, payload, retain, replyTopic, correlation)
}

func (t *Transport) SendReply(ctx context.Context, topic string, payload []byte, qos int, retain bool) error {
	return t.publish(ctx, topic, payload, retain, "", nil)
}

func (t *Transport) Subscribe(ctx context.Context, topic string, handler transport.Handler, qos int) (transport.SubscriptionHandle, error) {
	handle := transport.SubscriptionHandle(atomic.AddUint64(&t.nextHandle, 1))

	t.mu.Lock()
	defer t.mu.Unlock()
	err := t.subs.Set(topicPath(topic), func(ptr *[]subEntry, _ bool) error {
		*ptr = append(*ptr, subEntry{handle: handle, handler: handler})
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("tcp: subscribe: %w", err)
	}
	return handle, nil
}

func (t *Transport) Unsubscribe(ctx context.Context, handle transport.SubscriptionHandle) (transport.Handler, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed transport.Handler
	t.subs.Walk(func(path string, entries []subEntry, set bool) {
		if !set || removed != nil {
			return
		}
		for i, e := range entries {
			if e.handle == handle {
				removed = e.handler
				kept := append(entries[:i:i], entries[i+1:]...)
				t.subs.SetValue(path, kept)
				return
			}
		}
	})
	return removed, nil
}

func (t *Transport) CountSubscribers(topic string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.subs.GetValue(topicPath(topic))
	if !ok {
		return 0
	}
	return len(v)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	for _, c := range t.peerConn {
		c.Close()
	}
	t.peerConn = nil
	t.mu.Unlock()

	if t.disc != nil {
		t.disc.RemoveListener(t.listenerID)
	}
	return t.ln.Close()
}

var _ transport.Transport = (*Transport)(nil)

// topicPath prefixes a slash-separated MQTT-style topic with "/" (unless it
// already starts with one), giving the "/"-rooted path trie.Trie expects.
func topicPath(topic string) string {
	if len(topic) == 0 || topic[0] != '/' {
		return "/" + topic
	}
	return topic
}

func encodeFrame(topic string, payload []byte, retain bool, replyTopic string, correlation []byte) ([]byte, error) {
	buf := make([]byte, 0, 4+len(topic)+4+len(replyTopic)+4+len(correlation)+1+4+len(payload))
	buf = appendLV(buf, []byte(topic))
	buf = appendLV(buf, []byte(replyTopic))
	buf = appendLV(buf, correlation)
	if retain {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendLV(buf, payload)
	return buf, nil
}

func appendLV(buf, data []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, data...)
}

const maxFrameField = 16 << 20 // 16 MiB guards a corrupt length prefix from an unbounded allocation

func readLV(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameField {
		return nil, fmt.Errorf("tcp: frame field too large (%d bytes)", n)
	}
	if n == 0 {
		return nil, nil
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func readFrame(r *bufio.Reader) (topic string, payload []byte, retain bool, replyTopic string, correlation []byte, err error) {
	topicB, err := readLV(r)
	if err != nil {
		return "", nil, false, "", nil, err
	}
	replyB, err := readLV(r)
	if err != nil {
		return "", nil, false, "", nil, err
	}
	corrB, err := readLV(r)
	if err != nil {
		return "", nil, false, "", nil, err
	}
	retainB, err := r.ReadByte()
	if err != nil {
		return "", nil, false, "", nil, err
	}
	payloadB, err := readLV(r)
	if err != nil {
		return "", nil, false, "", nil, err
	}
	return string(topicB), payloadB, retainB != 0, string(replyB), corrB, nil
}

func generateSelfSignedCert() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "aitt-go tcp_secure transport"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:         true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}
