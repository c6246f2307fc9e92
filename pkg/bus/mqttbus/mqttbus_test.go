package mqttbus

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nnstreamer/aitt-go/pkg/bus"
	"github.com/nnstreamer/aitt-go/pkg/mqtt0"
)

// startTestBroker starts a QoS0 mqtt0 broker on an ephemeral port, mirroring
// pkg/mqtt0's own client_test.go helper.
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

func TestPublishSubscribeRoundTrip(t *testing.T) {
	host, port, cleanup := startTestBroker(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub := New("subscriber")
	require.NoError(t, sub.Connect(ctx, host, port, "", ""))
	defer sub.Disconnect()

	received := make(chan *bus.Message, 1)
	_, err := sub.Subscribe(ctx, "room/+/temp", func(msg *bus.Message) {
		received <- msg
	}, 0)
	require.NoError(t, err)

	pub := New("publisher")
	require.NoError(t, pub.Connect(ctx, host, port, "", ""))
	defer pub.Disconnect()

	require.NoError(t, pub.Publish(ctx, "room/kitchen/temp", []byte("21C"), 0, false))

	select {
	case msg := <-received:
		require.Equal(t, "room/kitchen/temp", msg.Topic)
		require.Equal(t, "21C", string(msg.Payload))
		require.Equal(t, "publisher", msg.SenderID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	host, port, cleanup := startTestBroker(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub := New("subscriber")
	require.NoError(t, sub.Connect(ctx, host, port, "", ""))
	defer sub.Disconnect()

	received := make(chan *bus.Message, 4)
	handle, err := sub.Subscribe(ctx, "topic", func(msg *bus.Message) {
		received <- msg
	}, 0)
	require.NoError(t, err)

	pub := New("publisher")
	require.NoError(t, pub.Connect(ctx, host, port, "", ""))
	defer pub.Disconnect()

	require.NoError(t, pub.Publish(ctx, "topic", []byte("one"), 0, false))
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first message")
	}

	require.NoError(t, sub.Unsubscribe(ctx, handle))
	require.NoError(t, pub.Publish(ctx, "topic", []byte("two"), 0, false))

	select {
	case msg := <-received:
		t.Fatalf("received unexpected message after unsubscribe: %s", msg.Payload)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestPublishWithReplyAndSendReply(t *testing.T) {
	host, port, cleanup := startTestBroker(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	responder := New("responder")
	require.NoError(t, responder.Connect(ctx, host, port, "", ""))
	defer responder.Disconnect()

	requester := New("requester")
	require.NoError(t, requester.Connect(ctx, host, port, "", ""))
	defer requester.Disconnect()

	replies := make(chan *bus.Message, 1)
	_, err := requester.Subscribe(ctx, "reply/requester", func(msg *bus.Message) {
		replies <- msg
	}, 0)
	require.NoError(t, err)

	_, err = responder.Subscribe(ctx, "request", func(msg *bus.Message) {
		require.Equal(t, "reply/requester", msg.ReplyTopic)
		require.Equal(t, []byte("corr-1"), msg.Correlation)
		require.NoError(t, responder.SendReply(ctx, msg, []byte("pong"), 0, false))
	}, 0)
	require.NoError(t, err)

	require.NoError(t, requester.PublishWithReply(ctx, "request", []byte("ping"), 0, false, "reply/requester", []byte("corr-1")))

	select {
	case msg := <-replies:
		require.Equal(t, "pong", string(msg.Payload))
		require.Equal(t, []byte("corr-1"), msg.Correlation)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
	}
}
