package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/vedikabops/splitstream/internal/protocol"
)

var fixedNow = time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)

type testRelay struct {
	url    string
	hub    *Hub
	server *Server
}

func newTestRelay(t *testing.T, hopts HubOptions, sopts ServerOptions) *testRelay {
	t.Helper()
	if hopts.Now == nil {
		hopts.Now = func() time.Time { return fixedNow }
	}
	hub := NewHub(hopts)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := NewServer(hub, sopts)
	subDone := make(chan struct{})
	ready := make(chan struct{})
	go func() {
		defer close(subDone)
		_ = srv.RunRedisSubscriber(ctx, ready)
	}()
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("redis subscriber not ready")
	}

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
		<-subDone
		ts.Close()
	})
	return &testRelay{url: ts.URL, hub: hub, server: srv}
}

func (r *testRelay) wsURL() string {
	return "ws" + strings.TrimPrefix(r.url, "http") + "/ws"
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, eventType string, payload any) {
	t.Helper()
	frame, err := protocol.Encode(eventType, payload)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, frame))
}

// next reads one event and checks its type.
func next(t *testing.T, ws *websocket.Conn, wantType string) protocol.Envelope {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env protocol.Envelope
	require.NoError(t, ws.ReadJSON(&env))
	require.Equal(t, wantType, env.Type, "payload %s", env.Payload)
	return env
}

func decode[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, env.Decode(&v))
	return v
}

// join connects a watcher to room and consumes its room-state.
func (r *testRelay) join(t *testing.T, room, username string) (*websocket.Conn, protocol.State) {
	t.Helper()
	ws := dial(t, r.wsURL(), nil)
	send(t, ws, protocol.JoinRoom, protocol.Join{RoomID: room, Username: username})
	st := decode[protocol.State](t, next(t, ws, protocol.RoomState))
	return ws, st
}
