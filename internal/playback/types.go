// Package playback keeps a local media player converged with the rest of a
// room: it turns genuine local actions into intents and applies remote
// intents without echoing them back.
package playback

import (
	"context"
	"fmt"
	"time"
)

// ClientID identifies one watcher session. It is stamped on every intent so
// the originator can recognise its own events when the relay echoes them.
type ClientID string

// Action is a playback intent kind.
type Action uint8

const (
	ActionPlay Action = iota + 1
	ActionPause
	ActionSeek
)

func (a Action) String() string {
	switch a {
	case ActionPlay:
		return "play"
	case ActionPause:
		return "pause"
	case ActionSeek:
		return "seek"
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// Status is a raw player state notification. Values follow the YouTube
// iframe player codes.
type Status int

const (
	StatusUnstarted Status = -1
	StatusEnded     Status = 0
	StatusPlaying   Status = 1
	StatusPaused    Status = 2
	StatusBuffering Status = 3
	StatusCued      Status = 5
)

func (s Status) String() string {
	switch s {
	case StatusUnstarted:
		return "unstarted"
	case StatusEnded:
		return "ended"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusBuffering:
		return "buffering"
	case StatusCued:
		return "cued"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Intent is a genuine local action on its way to the peers. It is never
// mutated after creation.
type Intent struct {
	Action    Action
	Position  float64 // seconds
	Origin    ClientID
	EmittedAt time.Time
}

// SyncEvent is an intent as delivered by the relay for one room.
type SyncEvent struct {
	RoomID string
	Intent
}

// PositionReader is the read-only view of the player the gate needs.
type PositionReader interface {
	Position() float64
}

// Player is the local media player. The engine is its only writer.
type Player interface {
	PositionReader
	Play() error
	Pause() error
	SeekTo(seconds float64) error
	Status() Status
}

// Emitter publishes intents to the room.
type Emitter interface {
	Emit(ctx context.Context, in Intent) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, in Intent) error

func (f EmitterFunc) Emit(ctx context.Context, in Intent) error {
	return f(ctx, in)
}
