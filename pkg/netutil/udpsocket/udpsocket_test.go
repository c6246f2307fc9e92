package udpsocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSendRecvRoundTrip(t *testing.T) {
	recv, port, err := Bind("127.0.0.1", 0)
	require.NoError(t, err)
	defer recv.Close()
	require.NotZero(t, port)

	sender, err := New()
	require.NoError(t, err)
	defer sender.Close()

	n, err := sender.Send([]byte("hello"), "127.0.0.1", port)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	require.NoError(t, recv.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	n, host, _, err := recv.Recv(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
	require.Equal(t, "127.0.0.1", host)
}

// TestScenarioS4: an unbound client sends "ping" (4 bytes) to
// 127.0.0.1:P, where P is the ephemeral port a 0.0.0.0:0 bind filled in;
// the server's Recv yields those 4 bytes and reports a loopback sender.
func TestScenarioS4(t *testing.T) {
	server, port, err := Bind("0.0.0.0", 0)
	require.NoError(t, err)
	defer server.Close()
	require.NotZero(t, port)

	client, err := New()
	require.NoError(t, err)
	defer client.Close()

	n, err := client.Send([]byte("ping"), "127.0.0.1", port)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	n, host, _, err := server.Recv(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))
	require.Equal(t, "127.0.0.1", host)
}

func TestBindAssignsEphemeralPort(t *testing.T) {
	s, port, err := Bind("127.0.0.1", 0)
	require.NoError(t, err)
	defer s.Close()
	require.Greater(t, port, 0)
}

func TestJoinMulticastRejectsUnicast(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Close()

	err = s.JoinMulticast("127.0.0.1", "", "")
	require.Error(t, err)
}
