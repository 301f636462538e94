package mcpserver

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerStartStop(t *testing.T) {
	srv := NewWithLogger(Config{Port: 0, EngineURL: "http://localhost:3000"}, testLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Start(ctx))

	port := srv.Port()
	require.NotZero(t, port, "port 0 resolves to the bound port")

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	require.NoError(t, err, "server accepts connections after Start returns")
	_ = conn.Close()

	assert.Contains(t, srv.SSEEndpoint(), fmt.Sprintf(":%d/sse", port))
	assert.Contains(t, srv.StreamableHTTPEndpoint(), fmt.Sprintf(":%d/mcp", port))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, srv.Stop(stopCtx))

	_, err = net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 200*time.Millisecond)
	assert.Error(t, err, "listener is closed after Stop")
}

func TestServerRejectsDoubleStart(t *testing.T) {
	srv := NewWithLogger(Config{Port: 0, EngineURL: "http://localhost:3000"}, testLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Start(ctx))
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = srv.Stop(stopCtx)
	})

	assert.Error(t, srv.Start(ctx))
}

func TestStopWithoutStartIsNoOp(t *testing.T) {
	srv := NewWithLogger(Config{Port: 0, EngineURL: "http://localhost:3000"}, testLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, srv.Stop(ctx))
}

func TestProvideStartsAndCleansUp(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv, cleanup, err := Provide(ctx, Config{Port: 0, EngineURL: "http://localhost:3000"}, testLogger(t))
	require.NoError(t, err)
	require.NotNil(t, srv)

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()), time.Second)
	require.NoError(t, err)
	_ = conn.Close()

	require.NoError(t, cleanup())
	assert.NoError(t, cleanup(), "cleanup is idempotent")
}
