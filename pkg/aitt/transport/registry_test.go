package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nnstreamer/aitt-go/pkg/aitt/discovery"
)

type stubTransport struct {
	protocol Protocol
}

func (s *stubTransport) Protocol() Protocol { return s.protocol }
func (s *stubTransport) Publish(ctx context.Context, topic string, payload []byte, qos int, retain bool) error {
	return nil
}
func (s *stubTransport) PublishWithReply(ctx context.Context, topic string, payload []byte, qos int, retain bool, replyTopic string, correlation []byte) error {
	return ErrNotSupported
}
func (s *stubTransport) Subscribe(ctx context.Context, topic string, handler Handler, qos int) (SubscriptionHandle, error) {
	return 1, nil
}
func (s *stubTransport) Unsubscribe(ctx context.Context, handle SubscriptionHandle) (Handler, error) {
	return nil, nil
}
func (s *stubTransport) SendReply(ctx context.Context, topic string, payload []byte, qos int, retain bool) error {
	return ErrNotSupported
}
func (s *stubTransport) CountSubscribers(topic string) int { return 0 }
func (s *stubTransport) Close() error                      { return nil }

func TestGetBusIsNoData(t *testing.T) {
	r := NewRegistry("127.0.0.1", nil, nil)
	_, err := r.Get(BUS)
	require.ErrorIs(t, err, ErrNoData)
}

func TestGetTCPReturnsTCPProtocol(t *testing.T) {
	r := NewRegistry("127.0.0.1", nil, map[Protocol]Factory{
		TCP: func(localIP string, disc *discovery.Discovery) (Transport, error) {
			return &stubTransport{protocol: TCP}, nil
		},
	})

	tr, err := r.Get(TCP)
	require.NoError(t, err)
	require.Equal(t, TCP, tr.Protocol())
}

func TestGetUnknownProtocolErrors(t *testing.T) {
	r := NewRegistry("127.0.0.1", nil, nil)
	_, err := r.Get(Protocol(99))
	require.ErrorIs(t, err, ErrUnknownProtocol)
}

// TestScenarioS6 is spec.md's "Null transport" scenario: a protocol with
// no registered factory (load never attempted/failed, the "BUS_LIKE_UNKNOWN"
// case) still yields a usable transport whose operations are harmless no-ops.
func TestScenarioS6(t *testing.T) {
	r := NewRegistry("127.0.0.1", nil, nil)

	tr, err := r.Get(UDPSRTP)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, tr.Publish(ctx, "t", []byte("x"), 0, false))
	require.Equal(t, 0, tr.CountSubscribers("t"))
}

func TestGetCachesInstance(t *testing.T) {
	calls := 0
	r := NewRegistry("127.0.0.1", nil, map[Protocol]Factory{
		TCP: func(localIP string, disc *discovery.Discovery) (Transport, error) {
			calls++
			return &stubTransport{protocol: TCP}, nil
		},
	})

	first, err := r.Get(TCP)
	require.NoError(t, err)
	second, err := r.Get(TCP)
	require.NoError(t, err)
	require.True(t, first == second)
	require.Equal(t, 1, calls)
}
