package playback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type staticPosition float64

func (p staticPosition) Position() float64 { return float64(p) }

func newTestGate(g *Guard, pos float64) *Gate {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return NewGate(g, staticPosition(pos), "me", func() time.Time { return at })
}

func TestGate_Classify(t *testing.T) {
	t.Run("buffering is always suppressed", func(t *testing.T) {
		var g Guard
		gate := newTestGate(&g, 3)
		d := gate.Classify(StatusBuffering)
		assert.False(t, d.Emit)
		assert.Equal(t, reasonBuffering, d.Reason)
	})

	t.Run("buffering does not consume the echo", func(t *testing.T) {
		var g Guard
		g.ArmRemote(ActionPlay)
		gate := newTestGate(&g, 3)
		gate.Classify(StatusBuffering)
		assert.True(t, g.IncomingApply())
	})

	t.Run("playing and paused become intents", func(t *testing.T) {
		var g Guard
		gate := newTestGate(&g, 42.5)

		d := gate.Classify(StatusPlaying)
		assert.True(t, d.Emit)
		assert.Equal(t, ActionPlay, d.Intent.Action)
		assert.InDelta(t, 42.5, d.Intent.Position, 1e-9)
		assert.Equal(t, ClientID("me"), d.Intent.Origin)
		assert.False(t, d.Intent.EmittedAt.IsZero())

		d = gate.Classify(StatusPaused)
		assert.True(t, d.Emit)
		assert.Equal(t, ActionPause, d.Intent.Action)
	})

	t.Run("other statuses are ignored", func(t *testing.T) {
		var g Guard
		gate := newTestGate(&g, 0)
		for _, st := range []Status{StatusEnded, StatusCued, StatusUnstarted} {
			d := gate.Classify(st)
			assert.False(t, d.Emit, st.String())
			assert.Equal(t, reasonIgnored, d.Reason)
		}
	})

	t.Run("echo suppressed exactly once", func(t *testing.T) {
		var g Guard
		g.ArmRemote(ActionPlay)
		g.Settle()
		gate := newTestGate(&g, 10)

		d := gate.Classify(StatusPlaying)
		assert.False(t, d.Emit)
		assert.Equal(t, reasonEcho, d.Reason)

		d = gate.Classify(StatusPaused)
		assert.True(t, d.Emit)
		assert.Equal(t, ActionPause, d.Intent.Action)
	})

	t.Run("settling guard suppresses without clearing", func(t *testing.T) {
		var g Guard
		g.ArmRemote(ActionSeek)
		gate := newTestGate(&g, 10)

		assert.Equal(t, reasonEcho, gate.Classify(StatusPaused).Reason)
		for i := 0; i < 3; i++ {
			d := gate.Classify(StatusPlaying)
			assert.False(t, d.Emit)
			assert.Equal(t, reasonSettling, d.Reason)
		}
		assert.True(t, g.Scrubbing())
	})
}
