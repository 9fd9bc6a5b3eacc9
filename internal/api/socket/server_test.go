package socket_test

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"ozzus/sensu-agent/internal/api/socket"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingHandler struct {
	mu       sync.Mutex
	payloads []string
}

func (h *recordingHandler) HandleLocalPayload(_ context.Context, data []byte) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.payloads = append(h.payloads, string(data))
	if string(data) == "ping" {
		return "pong"
	}
	return "ok"
}

func (h *recordingHandler) last() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.payloads) == 0 {
		return ""
	}
	return h.payloads[len(h.payloads)-1]
}

func startServer(t *testing.T) (*socket.Server, *recordingHandler) {
	t.Helper()
	handler := &recordingHandler{}
	server := socket.NewServer(nil, "127.0.0.1:0", handler)
	require.NoError(t, server.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = server.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return server, handler
}

func TestTCPPing(t *testing.T) {
	t.Parallel()
	server, _ := startServer(t)

	conn, err := net.Dial("tcp", server.TCPAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	reply, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.Equal(t, "pong", string(reply))
}

func TestTCPResultInChunks(t *testing.T) {
	t.Parallel()
	server, handler := startServer(t)

	conn, err := net.Dial("tcp", server.TCPAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(`{"name":"app","output":`))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = conn.Write([]byte(`"fine","status":0}`))
	require.NoError(t, err)

	reply, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.Equal(t, "ok", string(reply))
	require.JSONEq(t, `{"name":"app","output":"fine","status":0}`, handler.last())
}

func TestTCPIncompletePayloadTimesOut(t *testing.T) {
	t.Parallel()
	server, handler := startServer(t)

	conn, err := net.Dial("tcp", server.TCPAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(`{"name":`))
	require.NoError(t, err)

	reply, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.Equal(t, "ok", string(reply))
	require.Equal(t, `{"name":`, handler.last())
}

func TestUDPPing(t *testing.T) {
	t.Parallel()
	server, _ := startServer(t)

	conn, err := net.Dial("udp", server.UDPAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	reply := make([]byte, 16)
	n, err := conn.Read(reply)
	require.NoError(t, err)
	require.Equal(t, "pong", string(reply[:n]))
}

func TestServeWithoutListen(t *testing.T) {
	t.Parallel()
	server := socket.NewServer(nil, "127.0.0.1:0", &recordingHandler{})
	require.Error(t, server.Serve(context.Background()))
}
