package relay

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vedikabops/splitstream/internal/protocol"
)

// newClusterRelay starts a relay instance sharing mr with the other instances.
func newClusterRelay(t *testing.T, mr *miniredis.Miniredis) *testRelay {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	bus := NewRedisBus(rdb, nil)
	return newTestRelay(t, HubOptions{Publisher: bus}, ServerOptions{Bus: bus})
}

func TestRedisBus_PlaybackAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newClusterRelay(t, mr)
	b := newClusterRelay(t, mr)

	alice, _ := a.join(t, "ROOM01", "alice")
	bob, _ := b.join(t, "ROOM01", "bob")
	dave, _ := a.join(t, "ROOM01", "dave")
	next(t, alice, protocol.UserJoined)

	send(t, alice, protocol.PauseVideo, protocol.Playback{Timestamp: 31, OriginID: "client-a"})

	p := decode[protocol.Playback](t, next(t, bob, protocol.VideoPause))
	assert.Equal(t, "ROOM01", p.RoomID)
	assert.Equal(t, 31.0, p.Timestamp)
	assert.Equal(t, "client-a", p.OriginID)
	next(t, dave, protocol.VideoPause)

	// the pause never comes back to alice
	send(t, bob, protocol.SendMessage, protocol.ChatMessage{Message: "hi"})
	m := decode[protocol.ChatMessage](t, next(t, alice, protocol.ReceiveMessage))
	assert.Equal(t, "bob", m.Username)
}

func TestRedisBus_StateFollowsRemoteEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newClusterRelay(t, mr)
	b := newClusterRelay(t, mr)

	alice, _ := a.join(t, "ROOM01", "alice")
	bob, _ := b.join(t, "ROOM01", "bob")

	url := "https://youtu.be/abc123"
	send(t, alice, protocol.LoadVideo, protocol.Load{VideoURL: url})
	send(t, alice, protocol.SendMessage, protocol.ChatMessage{Message: "watch this"})
	next(t, bob, protocol.VideoLoaded)
	next(t, bob, protocol.ReceiveMessage)

	_, st := b.join(t, "ROOM01", "carol")
	assert.Equal(t, url, st.VideoURL)
	require.Len(t, st.Messages, 1)
	assert.Equal(t, "alice", st.Messages[0].Username)
	// presence is per instance
	assert.Equal(t, []string{"bob", "carol"}, st.Users)
}

func TestRedisBus_GlobalBroadcast(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newClusterRelay(t, mr)
	b := newClusterRelay(t, mr)

	alice, _ := a.join(t, "ROOM01", "alice")
	bob, _ := b.join(t, "OTHER1", "bob")
	idle := dial(t, b.wsURL(), nil)
	send(t, idle, protocol.PlayVideo, protocol.Playback{})
	next(t, idle, protocol.Error)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	require.NoError(t, rdb.Publish(context.Background(), BroadcastChannel, "not json").Err())

	data, err := json.Marshal(Message{Type: "maintenance", Payload: json.RawMessage(`{"in":60}`)})
	require.NoError(t, err)
	require.NoError(t, rdb.Publish(context.Background(), BroadcastChannel, data).Err())

	for _, got := range []struct {
		name string
		env  protocol.Envelope
	}{
		{"alice", next(t, alice, "maintenance")},
		{"bob", next(t, bob, "maintenance")},
		{"idle", next(t, idle, "maintenance")},
	} {
		assert.JSONEq(t, `{"in":60}`, string(got.env.Payload), got.name)
	}
}

func TestRedisBus_PublishFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newClusterRelay(t, mr)
	alice, _ := a.join(t, "ROOM01", "alice")

	mr.SetError("ERR server unavailable")
	send(t, alice, protocol.PlayVideo, protocol.Playback{Timestamp: 1})
	e := decode[protocol.ErrorPayload](t, next(t, alice, protocol.Error))
	assert.Equal(t, "broadcast unavailable", e.Message)

	mr.SetError("")
	send(t, alice, protocol.SendMessage, protocol.ChatMessage{Message: "back"})
	next(t, alice, protocol.ReceiveMessage)
}
