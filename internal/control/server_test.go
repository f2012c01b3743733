package control

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) (*Server, *websocket.Conn) {
	t.Helper()

	srv := NewServer(NewHandler(newTestController(t), zerolog.Nop()), zerolog.Nop())
	srv.grace = time.Millisecond

	require.NoError(t, srv.Listen("127.0.0.1:0"))
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return srv, conn
}

func TestServerHealthRoundTrip(t *testing.T) {
	_, conn := startServer(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("health")))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "Good", string(data))
}

func TestServerSurvivesUnknownCommands(t *testing.T) {
	_, conn := startServer(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("Reboot")))
	// The connection must still answer subsequent commands.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("health")))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "Good", string(data))
}

func TestServerKillClosesConnection(t *testing.T) {
	srv, conn := startServer(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("Kill")))

	select {
	case <-srv.Killed():
	case <-time.After(5 * time.Second):
		t.Fatal("kill signal never fired")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "server must close the channel after Kill")
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure) ||
		websocket.IsUnexpectedCloseError(err))
}
