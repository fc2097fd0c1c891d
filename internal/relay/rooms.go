package relay

import (
	"errors"
	"math/rand"
	"sort"
	"strings"
	"unicode"

	"github.com/vedikabops/splitstream/internal/protocol"
)

const (
	roomCodeLength   = 6
	roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxRoomIDLength  = 32
)

var errInvalidRoomID = errors.New("relay: invalid room id")

// NormalizeRoomID upper-cases a room code and strips whitespace.
func NormalizeRoomID(raw string) (string, error) {
	id := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, raw)
	if id == "" || len(id) > maxRoomIDLength {
		return "", errInvalidRoomID
	}
	return id, nil
}

func newRoomCode() string {
	b := make([]byte, roomCodeLength)
	for i := range b {
		b[i] = roomCodeAlphabet[rand.Intn(len(roomCodeAlphabet))]
	}
	return string(b)
}

// room is owned by the hub goroutine.
type room struct {
	id       string
	videoURL string
	messages []protocol.ChatMessage
	members  map[*Client]bool
}

func newRoom(id string) *room {
	return &room{id: id, members: make(map[*Client]bool)}
}

func (r *room) usernames() []string {
	out := make([]string, 0, len(r.members))
	for c := range r.members {
		out = append(out, c.username)
	}
	sort.Strings(out)
	return out
}

func (r *room) addMessage(m protocol.ChatMessage, max int) {
	r.messages = append(r.messages, m)
	if over := len(r.messages) - max; max > 0 && over > 0 {
		r.messages = append([]protocol.ChatMessage(nil), r.messages[over:]...)
	}
}

func (r *room) state() protocol.State {
	return protocol.State{
		VideoURL: r.videoURL,
		Messages: append([]protocol.ChatMessage{}, r.messages...),
		Users:    r.usernames(),
	}
}
