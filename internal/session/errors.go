package session

import "errors"

// ErrorKind classifies errors surfaced to the user.
type ErrorKind int

const (
	UnparsableReference ErrorKind = iota + 1
	UnplayableMedia
	TransportDisconnected
	RelayError
)

func (k ErrorKind) String() string {
	switch k {
	case UnparsableReference:
		return "unparsable-reference"
	case UnplayableMedia:
		return "unplayable-media"
	case TransportDisconnected:
		return "transport-disconnected"
	case RelayError:
		return "relay-error"
	}
	return "unknown"
}

var (
	ErrUnparsableReference   = errors.New("session: unparsable media reference")
	ErrUnplayableMedia       = errors.New("session: unplayable media")
	ErrTransportDisconnected = errors.New("session: transport disconnected")
	ErrRelay                 = errors.New("session: relay error")

	errMediaRejected = errors.New("session: player rejected media")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case UnparsableReference:
		return ErrUnparsableReference
	case UnplayableMedia:
		return ErrUnplayableMedia
	case TransportDisconnected:
		return ErrTransportDisconnected
	case RelayError:
		return ErrRelay
	}
	return nil
}

// Error is a user-facing session error. Message is safe to display.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

const (
	msgEmptyURL         = "Please enter a YouTube URL"
	msgInvalidVideo     = "Invalid YouTube Video URL. Please check and try again."
	msgInvalidPlaylist  = "Invalid YouTube Playlist URL. Please check and try again."
	msgPlaylistRejected = "This playlist may be private, unavailable, or restricted. Try a public playlist or a single video."
	msgVideoRejected    = "This video is unavailable or restricted."
	msgDisconnected     = "Connection to the room was lost."
)
