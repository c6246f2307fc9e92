package discovery

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/nnstreamer/aitt-go/pkg/bus/mqttbus"
	"github.com/nnstreamer/aitt-go/pkg/mqtt0"
)

// rawEnvelope mirrors mqttbus's unexported wire envelope so this package can
// hand-construct a peer's presence messages without going through a real
// mqttbus.Client.
type rawEnvelope struct {
	SenderID string `msgpack:"s,omitempty"`
	Payload  []byte `msgpack:"p"`
}

func startTestBroker(t *testing.T) (host string, port int, cleanup func()) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	broker := &mqtt0.Broker{}
	go broker.Serve(ln)
	time.Sleep(50 * time.Millisecond)

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port, func() {
		ln.Close()
		broker.Close()
	}
}

// TestScenarioS1DiscoveryJoin: node A starts first; node B registers a
// TCP listener and then starts. B's listener must see exactly one
// invocation, with sender "a" and status "connected".
func TestScenarioS1DiscoveryJoin(t *testing.T) {
	host, port, cleanup := startTestBroker(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	a := New("a", mqttbus.New("a"))
	require.NoError(t, a.Start(ctx, host, port, "", "", false))
	defer a.Stop(ctx)

	type record struct{ sender, status string }
	records := make(chan record, 8)
	b := New("b", mqttbus.New("b"))
	b.AddListener("tcp", func(sender, status string, blob []byte) {
		records <- record{sender, status}
	})
	require.NoError(t, b.Start(ctx, host, port, "", "", false))
	defer b.Stop(ctx)

	select {
	case r := <-records:
		require.Equal(t, "a", r.sender)
		require.Equal(t, "connected", r.status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for A's connected record")
	}

	select {
	case r := <-records:
		t.Fatalf("unexpected extra record: %+v", r)
	case <-time.After(300 * time.Millisecond):
	}
}

// TestScenarioS2DiscoveryLeaveViaWill: after an S1-style join, node A
// terminates ungracefully (no Stop call, no clean DISCONNECT) and B's
// listener must still see a "disconnected" record for sender "a", fired
// by the broker's last-will delivery rather than by A itself.
func TestScenarioS2DiscoveryLeaveViaWill(t *testing.T) {
	host, port, cleanup := startTestBroker(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type record struct{ sender, status string }
	records := make(chan record, 8)
	b := New("b", mqttbus.New("b"))
	b.AddListener("tcp", func(sender, status string, blob []byte) {
		records <- record{sender, status}
	})
	require.NoError(t, b.Start(ctx, host, port, "", "", false))
	defer b.Stop(ctx)

	// Node A, built from the raw wire protocol so the test can sever the
	// connection without mqtt0.Client ever sending a clean DISCONNECT —
	// the only way to exercise the broker's last-will path honestly.
	conn, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	require.NoError(t, err)

	disconnectedRecord, err := encodeRecord(newRecord("disconnected", nil))
	require.NoError(t, err)
	willPayload, err := msgpack.Marshal(&rawEnvelope{SenderID: "a", Payload: disconnectedRecord})
	require.NoError(t, err)

	require.NoError(t, mqtt0.WriteV4Packet(conn, &mqtt0.V4Connect{
		ClientID:     "a",
		CleanSession: true,
		KeepAlive:    60,
		WillTopic:    Topic,
		WillMessage:  willPayload,
		WillRetain:   true,
	}))
	reader := bufio.NewReader(conn)
	_, err = mqtt0.ReadV4Packet(reader, mqtt0.MaxPacketSize)
	require.NoError(t, err)

	connectedRecord, err := encodeRecord(newRecord("connected", nil))
	require.NoError(t, err)
	connectedPayload, err := msgpack.Marshal(&rawEnvelope{SenderID: "a", Payload: connectedRecord})
	require.NoError(t, err)
	require.NoError(t, mqtt0.WriteV4Packet(conn, &mqtt0.V4Publish{
		Topic:   Topic,
		Payload: connectedPayload,
		Retain:  true,
	}))

	select {
	case r := <-records:
		require.Equal(t, "a", r.sender)
		require.Equal(t, "connected", r.status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for A's connected record")
	}

	// Crash: sever the TCP connection with no DISCONNECT packet.
	require.NoError(t, conn.Close())

	select {
	case r := <-records:
		require.Equal(t, "a", r.sender)
		require.Equal(t, "disconnected", r.status)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for A's will-triggered disconnected record")
	}
}

func TestListenerSeesOneRecordPerUpdate(t *testing.T) {
	host, port, cleanup := startTestBroker(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	a := New("a", mqttbus.New("a"))
	require.NoError(t, a.Start(ctx, host, port, "", "", false))
	defer a.Stop(ctx)

	b := New("b", mqttbus.New("b"))

	type record struct {
		sender, status string
		blob           []byte
	}
	records := make(chan record, 8)
	b.AddListener("tcp", func(sender, status string, blob []byte) {
		records <- record{sender, status, blob}
	})
	require.NoError(t, b.Start(ctx, host, port, "", "", false))
	defer b.Stop(ctx)

	select {
	case r := <-records:
		require.Equal(t, "a", r.sender)
		require.Equal(t, "connected", r.status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for A's connected record")
	}

	require.NoError(t, a.Update(ctx, "tcp", []byte("127.0.0.1:9999")))

	select {
	case r := <-records:
		require.Equal(t, "a", r.sender)
		require.Equal(t, "connected", r.status)
		require.Equal(t, "127.0.0.1:9999", string(r.blob))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for A's update record")
	}
}

func TestStartPublishesConnectedRecord(t *testing.T) {
	host, port, cleanup := startTestBroker(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	b := New("b", mqttbus.New("b"))
	records := make(chan string, 4)
	b.AddListener("tcp", func(sender, status string, blob []byte) {
		records <- status
	})
	require.NoError(t, b.Start(ctx, host, port, "", "", false))
	defer b.Stop(ctx)

	a := New("a", mqttbus.New("a"))
	require.NoError(t, a.Start(ctx, host, port, "", "", false))

	select {
	case status := <-records:
		require.Equal(t, "connected", status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connected record")
	}

	require.NoError(t, a.Stop(ctx))

	select {
	case status := <-records:
		require.Equal(t, "disconnected", status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnected record")
	}
}

func TestIgnoresOwnRecords(t *testing.T) {
	host, port, cleanup := startTestBroker(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	a := New("a", mqttbus.New("a"))
	seen := make(chan string, 4)
	a.AddListener("tcp", func(sender, status string, blob []byte) {
		seen <- sender
	})
	require.NoError(t, a.Start(ctx, host, port, "", "", false))
	defer a.Stop(ctx)

	select {
	case sender := <-seen:
		t.Fatalf("listener saw its own record from %q", sender)
	case <-time.After(300 * time.Millisecond):
	}
}
