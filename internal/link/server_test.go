package link

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/pulselink/internal/telemetry"
)

func startServer(t *testing.T, opts ServerOptions) (*Server, string) {
	t.Helper()
	opts.Host = "127.0.0.1"
	s := NewServer(opts)
	require.NoError(t, s.Start(0))
	t.Cleanup(func() { _ = s.Stop() })
	return s, "ws://" + s.Addr() + "/hr"
}

func dialConsumer(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrames(t *testing.T, conn *websocket.Conn, n int) []string {
	t.Helper()
	var out []string
	for len(out) < n {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		out = append(out, string(msg))
	}
	return out
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, msg, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame %q", msg)
	var ne net.Error
	require.True(t, errors.As(err, &ne) && ne.Timeout(), "want timeout, got %v", err)
}

func waitConsumers(t *testing.T, s *Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Consumers() == n }, 2*time.Second, 5*time.Millisecond)
}

func portOf(t *testing.T, addr string) int {
	t.Helper()
	_, p, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(p)
	require.NoError(t, err)
	return port
}

func TestBroadcastWithNoConsumers(t *testing.T) {
	s, _ := startServer(t, ServerOptions{})
	s.Broadcast(telemetry.HeartRate(70))
	assert.Equal(t, 0, s.Consumers())
	assert.Equal(t, uint64(0), s.Status().Sent)
}

func TestReplayLastKnownInTagOrder(t *testing.T) {
	s, url := startServer(t, ServerOptions{})
	s.Broadcast(telemetry.ChargingState(true))
	s.Broadcast(telemetry.HeartRate(80))
	s.Broadcast(telemetry.BatteryLevel(40))
	s.Broadcast(telemetry.HeartRate(81))

	conn := dialConsumer(t, url)
	assert.Equal(t, []string{"0|81", "1|40", "2|true"}, readFrames(t, conn, 3))
	expectSilence(t, conn)
}

func TestReplayOnlyObservedFields(t *testing.T) {
	s, url := startServer(t, ServerOptions{})
	conn := dialConsumer(t, url)
	waitConsumers(t, s, 1)

	s.Broadcast(telemetry.HeartRate(65))
	assert.Equal(t, []string{"0|65"}, readFrames(t, conn, 1))

	late := dialConsumer(t, url)
	assert.Equal(t, []string{"0|65"}, readFrames(t, late, 1))
	expectSilence(t, late)
}

func TestReplayKeepsNegativeValues(t *testing.T) {
	s, url := startServer(t, ServerOptions{})
	s.Broadcast(telemetry.HeartRate(-1))
	s.Broadcast(telemetry.BatteryLevel(-1))

	conn := dialConsumer(t, url)
	assert.Equal(t, []string{"0|-1", "1|-1"}, readFrames(t, conn, 2))
	expectSilence(t, conn)
}

func TestBroadcastReachesEveryConsumerInOrder(t *testing.T) {
	s, url := startServer(t, ServerOptions{})
	conns := []*websocket.Conn{dialConsumer(t, url), dialConsumer(t, url), dialConsumer(t, url)}
	waitConsumers(t, s, 3)

	s.Broadcast(telemetry.HeartRate(100))
	s.Broadcast(telemetry.BatteryLevel(99))
	s.Broadcast(telemetry.HeartRate(101))

	for _, c := range conns {
		assert.Equal(t, []string{"0|100", "1|99", "0|101"}, readFrames(t, c, 3))
	}
	require.Eventually(t, func() bool { return s.Status().Sent == 9 }, 2*time.Second, 5*time.Millisecond)
}

func TestDeadConsumerRemovedAlone(t *testing.T) {
	s, url := startServer(t, ServerOptions{})
	gone := dialConsumer(t, url)
	alive := dialConsumer(t, url)
	waitConsumers(t, s, 2)

	require.NoError(t, gone.Close())
	waitConsumers(t, s, 1)

	s.Broadcast(telemetry.HeartRate(77))
	assert.Equal(t, []string{"0|77"}, readFrames(t, alive, 1))
}

func TestStopClosesConsumersWithGoingAway(t *testing.T) {
	s, url := startServer(t, ServerOptions{})
	conn := dialConsumer(t, url)
	waitConsumers(t, s, 1)

	require.NoError(t, s.Stop())
	assert.Equal(t, 0, s.Consumers())
	assert.False(t, s.Running())
	assert.Empty(t, s.Addr())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)
	assert.Equal(t, "server shutting down", ce.Text)

	assert.NoError(t, s.Stop())
}

func TestRestartOnSamePort(t *testing.T) {
	s, _ := startServer(t, ServerOptions{})
	port := portOf(t, s.Addr())

	start := time.Now()
	require.NoError(t, s.Stop())
	assert.Less(t, time.Since(start), 2*time.Second)

	require.NoError(t, s.Start(port))
	assert.Equal(t, port, portOf(t, s.Addr()))

	conn := dialConsumer(t, "ws://"+s.Addr()+"/")
	waitConsumers(t, s, 1)
	s.Broadcast(telemetry.BatteryLevel(12))
	assert.Equal(t, []string{"1|12"}, readFrames(t, conn, 1))
}

func TestStartIsIdempotent(t *testing.T) {
	s, _ := startServer(t, ServerOptions{})
	addr := s.Addr()
	require.NoError(t, s.Start(0))
	assert.Equal(t, addr, s.Addr())
}

func TestBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := NewServer(ServerOptions{Host: "127.0.0.1"})
	err = s.Start(portOf(t, ln.Addr().String()))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBind)
	assert.False(t, s.Running())
}

func TestNotifyReportsConsumerCount(t *testing.T) {
	var mu sync.Mutex
	var counts []int
	s, url := startServer(t, ServerOptions{Notify: func(st Status) {
		mu.Lock()
		counts = append(counts, st.Consumers)
		mu.Unlock()
	}})

	conn := dialConsumer(t, url)
	waitConsumers(t, s, 1)
	require.NoError(t, conn.Close())
	waitConsumers(t, s, 0)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(counts) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// listening, connected, disconnected
	assert.Equal(t, []int{0, 1, 0}, counts[:3])
}

func TestExpectedCloseClassification(t *testing.T) {
	assert.False(t, isExpectedClose(nil))
	assert.True(t, isExpectedClose(net.ErrClosed))
	assert.True(t, isExpectedClose(&websocket.CloseError{Code: websocket.CloseGoingAway}))
	assert.False(t, isExpectedClose(&websocket.CloseError{Code: websocket.CloseProtocolError}))
	assert.False(t, isExpectedClose(errors.New("tls: bad certificate")))
}
