// Package protocol holds the named events exchanged between watchers and the
// relay, and their JSON payloads.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Client -> relay.
const (
	JoinRoom    = "join-room"
	LoadVideo   = "load-video"
	PlayVideo   = "play-video"
	PauseVideo  = "pause-video"
	SeekVideo   = "seek-video"
	SendMessage = "send-message"
)

// Relay -> client.
const (
	RoomState      = "room-state"
	VideoLoaded    = "video-loaded"
	VideoPlay      = "video-play"
	VideoPause     = "video-pause"
	VideoSeek      = "video-seek"
	ReceiveMessage = "receive-message"
	UserJoined     = "user-joined"
	UserLeft       = "user-left"
	UsersUpdate    = "users-update"
	Error          = "error"
)

// Envelope is the frame sent over the wire in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(eventType string, payload any) (Envelope, error) {
	env := Envelope{Type: eventType}
	if payload == nil {
		return env, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("protocol: encode %s: %w", eventType, err)
	}
	env.Payload = b
	return env, nil
}

// Encode marshals a whole envelope.
func Encode(eventType string, payload any) ([]byte, error) {
	env, err := NewEnvelope(eventType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("protocol: %s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("protocol: decode %s: %w", e.Type, err)
	}
	return nil
}

type Join struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

type Load struct {
	RoomID   string `json:"roomId"`
	VideoURL string `json:"videoUrl"`
}

// Playback carries play/pause/seek in both directions. Timestamp is the
// playback position in seconds.
type Playback struct {
	RoomID    string  `json:"roomId"`
	Timestamp float64 `json:"timestamp"`
	OriginID  string  `json:"originId,omitempty"`
	EmittedAt int64   `json:"emittedAt,omitempty"` // unix millis
}

// EmittedTime converts EmittedAt, zero when the sender did not stamp it.
func (p Playback) EmittedTime() time.Time {
	if p.EmittedAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(p.EmittedAt)
}

const (
	MessageUser   = "user"
	MessageSystem = "system"
)

type ChatMessage struct {
	RoomID    string `json:"roomId,omitempty"`
	Type      string `json:"type,omitempty"`
	Username  string `json:"username,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"` // RFC3339
}

type State struct {
	VideoURL string        `json:"videoUrl,omitempty"`
	Messages []ChatMessage `json:"messages"`
	Users    []string      `json:"users"`
}

type Presence struct {
	Username string   `json:"username"`
	Users    []string `json:"users"`
}

type Users struct {
	Users []string `json:"users"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// IsPlayback reports whether the relay->client event type is a playback event.
func IsPlayback(eventType string) bool {
	switch eventType {
	case VideoPlay, VideoPause, VideoSeek:
		return true
	}
	return false
}

// Outbound maps a client->relay playback command onto the event name the relay
// fans out to the room.
func Outbound(eventType string) (string, bool) {
	switch eventType {
	case PlayVideo:
		return VideoPlay, true
	case PauseVideo:
		return VideoPause, true
	case SeekVideo:
		return VideoSeek, true
	}
	return "", false
}
