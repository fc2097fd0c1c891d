package playback

import "time"

// Decision is the gate's verdict on one player notification.
type Decision struct {
	Emit   bool
	Intent Intent
	// Reason names why a notification was suppressed.
	Reason string
}

const (
	reasonBuffering = "buffering"
	reasonEcho      = "echo"
	reasonSettling  = "settling"
	reasonIgnored   = "ignored status"
)

// Gate decides whether a locally observed status change is a genuine user
// action. It is a heuristic: the player reports programmatic and user driven
// changes through the same notifications.
type Gate struct {
	guard  *Guard
	player PositionReader
	origin ClientID
	now    func() time.Time
}

func NewGate(guard *Guard, player PositionReader, origin ClientID, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{guard: guard, player: player, origin: origin, now: now}
}

// Classify applies the rules in order: buffering is transitional, an armed
// incomingApply swallows exactly one notification, settling guards swallow
// without clearing, and only playing/paused become intents. The position is
// read here rather than taken from the notification.
func (g *Gate) Classify(st Status) Decision {
	if st == StatusBuffering {
		return Decision{Reason: reasonBuffering}
	}
	if g.guard.ConsumeEcho() {
		return Decision{Reason: reasonEcho}
	}
	if g.guard.Settling() {
		return Decision{Reason: reasonSettling}
	}

	var action Action
	switch st {
	case StatusPlaying:
		action = ActionPlay
	case StatusPaused:
		action = ActionPause
	default:
		return Decision{Reason: reasonIgnored}
	}
	return Decision{
		Emit: true,
		Intent: Intent{
			Action:    action,
			Position:  g.player.Position(),
			Origin:    g.origin,
			EmittedAt: g.now(),
		},
	}
}
