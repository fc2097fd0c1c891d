package relay

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vedikabops/splitstream/internal/protocol"
)

func makeTestAccessToken(t *testing.T, secret []byte, userID, typ string) string {
	t.Helper()
	claims := &TokenClaims{
		UserID:    userID,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestServer_HandleHealth(t *testing.T) {
	r := newTestRelay(t, HubOptions{}, ServerOptions{})
	r.join(t, "ROOM01", "alice")
	r.join(t, "ROOM01", "bob")
	r.join(t, "ROOM02", "carol")

	resp, err := http.Get(r.url + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "relay", body["service"])
	assert.Equal(t, float64(2), body["activeRooms"])
	assert.Equal(t, float64(3), body["totalUsers"])
}

func TestServer_HandleHealth_HubStopped(t *testing.T) {
	hub := NewHub(HubOptions{})
	close(hub.done)
	s := NewServer(hub, ServerOptions{})

	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer_CreateRoom(t *testing.T) {
	r := newTestRelay(t, HubOptions{}, ServerOptions{})

	resp, err := http.Post(r.url+"/rooms", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Regexp(t, `^[A-Z0-9]{6}$`, body["roomId"])
}

func TestServer_RoomEvents(t *testing.T) {
	r := newTestRelay(t, HubOptions{}, ServerOptions{})
	alice, _ := r.join(t, "ROOM01", "alice")

	post := func(room, body string) *http.Response {
		resp, err := http.Post(r.url+"/rooms/"+room+"/events", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	t.Run("Seek reaches members", func(t *testing.T) {
		resp := post("room01", `{"type":"seek-video","payload":{"timestamp":75}}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		p := decode[protocol.Playback](t, next(t, alice, protocol.VideoSeek))
		assert.Equal(t, "ROOM01", p.RoomID)
		assert.Equal(t, 75.0, p.Timestamp)
	})

	t.Run("Load is validated", func(t *testing.T) {
		resp := post("ROOM01", `{"type":"load-video","payload":{"videoUrl":"not a url"}}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp = post("ROOM01", `{"type":"load-video","payload":{"videoUrl":"https://youtu.be/abc123"}}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		l := decode[protocol.Load](t, next(t, alice, protocol.VideoLoaded))
		assert.Equal(t, "https://youtu.be/abc123", l.VideoURL)
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		resp := post("ROOM01", "invalid json")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Join is rejected", func(t *testing.T) {
		resp := post("ROOM01", `{"type":"join-room","payload":{"roomId":"ROOM01","username":"ghost"}}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Unknown event", func(t *testing.T) {
		resp := post("ROOM01", `{"type":"explode","payload":{}}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "unknown event explode", body["error"])
	})
}

func TestServer_Router(t *testing.T) {
	r := newTestRelay(t, HubOptions{}, ServerOptions{})
	router := r.server.Router()

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/health"},
		{http.MethodGet, "/ws"},
		{http.MethodPost, "/rooms"},
		{http.MethodPost, "/rooms/ROOM01/events"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString("{}"))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.NotEqual(t, http.StatusNotFound, w.Code, "%s %s", tt.method, tt.path)
	}
}

func TestServer_HandleWS_Origin(t *testing.T) {
	r := newTestRelay(t, HubOptions{}, ServerOptions{FrontendBaseURL: "http://localhost:3000/"})

	t.Run("Allowed origin", func(t *testing.T) {
		header := http.Header{}
		header.Set("Origin", "http://localhost:3000")
		dial(t, r.wsURL(), header)
	})

	t.Run("No origin", func(t *testing.T) {
		dial(t, r.wsURL(), nil)
	})

	t.Run("Forbidden origin", func(t *testing.T) {
		header := http.Header{}
		header.Set("Origin", "http://evil.com")
		_, resp, err := websocket.DefaultDialer.Dial(r.wsURL(), header)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestServer_JWT(t *testing.T) {
	secret := []byte("test-secret")
	r := newTestRelay(t, HubOptions{}, ServerOptions{JWTSecret: secret})

	t.Run("Missing token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(r.wsURL(), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("Query token", func(t *testing.T) {
		token := makeTestAccessToken(t, secret, "user-123", "access")
		ws := dial(t, r.wsURL()+"?token="+token, nil)
		send(t, ws, protocol.JoinRoom, protocol.Join{RoomID: "ROOM01", Username: "alice"})
		next(t, ws, protocol.RoomState)
	})

	t.Run("Bearer header", func(t *testing.T) {
		token := makeTestAccessToken(t, secret, "user-123", "access")
		header := http.Header{}
		header.Set("Authorization", "Bearer "+token)
		dial(t, r.wsURL(), header)
	})

	t.Run("Refresh token rejected", func(t *testing.T) {
		token := makeTestAccessToken(t, secret, "user-123", "refresh")
		_, resp, err := websocket.DefaultDialer.Dial(r.wsURL()+"?token="+token, nil)
		require.Error(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("Wrong secret", func(t *testing.T) {
		token := makeTestAccessToken(t, []byte("other"), "user-123", "access")
		_, resp, err := websocket.DefaultDialer.Dial(r.wsURL()+"?token="+token, nil)
		require.Error(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("Events endpoint", func(t *testing.T) {
		body := `{"type":"seek-video","payload":{"timestamp":1}}`
		resp, err := http.Post(r.url+"/rooms/ROOM01/events", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		req, err := http.NewRequest(http.MethodPost, r.url+"/rooms/ROOM01/events", strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+makeTestAccessToken(t, secret, "svc", "access"))
		resp, err = http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("Health stays public", func(t *testing.T) {
		resp, err := http.Get(r.url + "/health")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestJWTAuthMiddleware_DisabledWithoutSecret(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_, ok := ClaimsFrom(r.Context())
		assert.False(t, ok)
	})

	w := httptest.NewRecorder()
	jwtAuthMiddleware(nil)(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))

	assert.True(t, called)
}

func TestJWTAuthMiddleware_StoresClaims(t *testing.T) {
	secret := []byte("test-secret")
	var got *TokenClaims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = ClaimsFrom(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+makeTestAccessToken(t, secret, "user-42", "access"))
	w := httptest.NewRecorder()
	jwtAuthMiddleware(secret)(next).ServeHTTP(w, req)

	require.NotNil(t, got)
	assert.Equal(t, "user-42", got.UserID)

	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Token abc")
	w = httptest.NewRecorder()
	jwtAuthMiddleware(secret)(next).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
