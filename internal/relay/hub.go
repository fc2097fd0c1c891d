package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vedikabops/splitstream/internal/media"
	"github.com/vedikabops/splitstream/internal/protocol"
)

const (
	defaultMaxMessages = 100
	publishTimeout     = 5 * time.Second
)

// Message is a room event on its way to the room's members. With a bus it
// travels through Redis so every relay instance delivers it to its own
// connections. An empty RoomID reaches every connection.
type Message struct {
	RoomID  string          `json:"roomId,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	// Exclude is the connection id of the sender of a playback event.
	Exclude string `json:"exclude,omitempty"`
}

// Publisher fans a message out to every relay instance.
type Publisher interface {
	Publish(ctx context.Context, m Message) error
}

// relayError carries the HTTP status and the message shown to the sender.
type relayError struct {
	status int
	msg    string
}

func (e *relayError) Error() string { return e.msg }

var errHubStopped = errors.New("relay: hub stopped")

type inbound struct {
	client *Client
	// roomID addresses injected events, which have no client.
	roomID string
	env    protocol.Envelope
	reply  chan error
}

// Stats are the counters reported on /health.
type Stats struct {
	ActiveRooms int `json:"activeRooms"`
	TotalUsers  int `json:"totalUsers"`
}

type HubOptions struct {
	// Publisher is nil for a single instance relay.
	Publisher   Publisher
	MaxMessages int
	Logger      *zerolog.Logger
	Now         func() time.Time
}

// Hub owns the connected clients and the rooms. Everything it owns is only
// touched by the goroutine running Run.
type Hub struct {
	clients map[*Client]bool
	rooms   map[string]*room

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	deliver    chan Message
	queries    chan func()
	done       chan struct{}

	pub         Publisher
	maxMessages int
	now         func() time.Time
	log         zerolog.Logger
	ctx         context.Context
}

func NewHub(opts HubOptions) *Hub {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = defaultMaxMessages
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := zerolog.Nop()
	if opts.Logger != nil {
		l = *opts.Logger
	}
	return &Hub{
		clients:     make(map[*Client]bool),
		rooms:       make(map[string]*room),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		inbound:     make(chan inbound, 256),
		deliver:     make(chan Message, 256),
		queries:     make(chan func()),
		done:        make(chan struct{}),
		pub:         opts.Publisher,
		maxMessages: opts.MaxMessages,
		now:         opts.Now,
		log:         l.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	h.ctx = ctx
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = true

		case c := <-h.unregister:
			h.remove(c)

		case in := <-h.inbound:
			err := h.handle(in)
			if in.reply != nil {
				in.reply <- err
			} else if err != nil && in.client != nil {
				h.sendError(in.client, err)
			}

		case m := <-h.deliver:
			h.apply(m)

		case fn := <-h.queries:
			fn()
		}
	}
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Deliver hands a message received from the bus to the local members.
func (h *Hub) Deliver(ctx context.Context, m Message) error {
	select {
	case h.deliver <- m:
		return nil
	case <-h.done:
		return errHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inject processes a client command on behalf of a server-side publisher.
func (h *Hub) Inject(ctx context.Context, roomID string, env protocol.Envelope) error {
	reply := make(chan error, 1)
	select {
	case h.inbound <- inbound{roomID: roomID, env: env, reply: reply}:
	case <-h.done:
		return errHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-h.done:
		return errHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := h.query(ctx, func() {
		s.ActiveRooms = len(h.rooms)
		for _, r := range h.rooms {
			s.TotalUsers += len(r.members)
		}
	})
	return s, err
}

// NewRoomCode returns a code no local room is using.
func (h *Hub) NewRoomCode(ctx context.Context) (string, error) {
	var code string
	err := h.query(ctx, func() {
		for {
			code = newRoomCode()
			if _, taken := h.rooms[code]; !taken {
				return
			}
		}
	})
	return code, err
}

func (h *Hub) query(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	select {
	case h.queries <- func() { fn(); close(ran) }:
	case <-h.done:
		return errHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-ran
	return nil
}

func (h *Hub) handle(in inbound) error {
	if in.env.Type == protocol.JoinRoom {
		if in.client == nil {
			return &relayError{status: http.StatusBadRequest, msg: "join-room needs a connection"}
		}
		var p protocol.Join
		if err := in.env.Decode(&p); err != nil {
			return &relayError{status: http.StatusBadRequest, msg: "invalid join-room payload"}
		}
		return h.join(in.client, p)
	}

	roomID := in.roomID
	username := ""
	exclude := ""
	if in.client != nil {
		if in.client.roomID == "" {
			return &relayError{status: http.StatusConflict, msg: "join a room first"}
		}
		roomID = in.client.roomID
		username = in.client.username
		exclude = in.client.id
	}

	switch in.env.Type {
	case protocol.LoadVideo:
		var p protocol.Load
		if err := in.env.Decode(&p); err != nil {
			return &relayError{status: http.StatusBadRequest, msg: "invalid load-video payload"}
		}
		p.VideoURL = strings.TrimSpace(p.VideoURL)
		if _, err := media.Parse(p.VideoURL); err != nil {
			return &relayError{status: http.StatusBadRequest, msg: "Invalid YouTube URL"}
		}
		p.RoomID = roomID
		return h.publish(roomID, protocol.VideoLoaded, p, "")

	case protocol.PlayVideo, protocol.PauseVideo, protocol.SeekVideo:
		var p protocol.Playback
		if err := in.env.Decode(&p); err != nil {
			return &relayError{status: http.StatusBadRequest, msg: "invalid " + in.env.Type + " payload"}
		}
		if p.Timestamp < 0 {
			return &relayError{status: http.StatusBadRequest, msg: "timestamp must not be negative"}
		}
		p.RoomID = roomID
		out, _ := protocol.Outbound(in.env.Type)
		return h.publish(roomID, out, p, exclude)

	case protocol.SendMessage:
		var p protocol.ChatMessage
		if err := in.env.Decode(&p); err != nil {
			return &relayError{status: http.StatusBadRequest, msg: "invalid send-message payload"}
		}
		p.Message = sanitizeText(p.Message)
		if p.Message == "" {
			return nil
		}
		if username != "" {
			p.Username = username
		} else {
			p.Username = sanitizeUsername(p.Username)
		}
		p.RoomID = roomID
		p.Type = protocol.MessageUser
		if p.Timestamp == "" {
			p.Timestamp = h.now().UTC().Format(time.RFC3339)
		}
		return h.publish(roomID, protocol.ReceiveMessage, p, "")
	}
	return &relayError{status: http.StatusBadRequest, msg: "unknown event " + in.env.Type}
}

func (h *Hub) join(c *Client, p protocol.Join) error {
	roomID, err := NormalizeRoomID(p.RoomID)
	if err != nil {
		return &relayError{status: http.StatusBadRequest, msg: "invalid room id"}
	}
	username := sanitizeUsername(p.Username)
	if username == "" {
		return &relayError{status: http.StatusBadRequest, msg: "username is required"}
	}
	if c.roomID == roomID {
		h.rejoin(c, username)
		return nil
	}
	if c.roomID != "" {
		h.leave(c)
	}

	r, ok := h.rooms[roomID]
	if !ok {
		r = newRoom(roomID)
		h.rooms[roomID] = r
	}
	r.members[c] = true
	c.roomID = roomID
	c.username = username

	h.log.Info().Str("room", roomID).Str("username", username).Str("conn", c.id).Msg("joined")
	h.sendTo(c, protocol.RoomState, r.state())
	presence := protocol.Presence{Username: username, Users: r.usernames()}
	for m := range r.members {
		if m != c {
			h.sendTo(m, protocol.UserJoined, presence)
		}
	}
	return nil
}

// rejoin answers a repeated join for the client's current room with the room
// state. The room is kept, so its media and history survive.
func (h *Hub) rejoin(c *Client, username string) {
	r, ok := h.rooms[c.roomID]
	if !ok {
		return
	}
	renamed := c.username != username
	c.username = username
	h.sendTo(c, protocol.RoomState, r.state())
	if !renamed {
		return
	}
	update := protocol.Users{Users: r.usernames()}
	for m := range r.members {
		if m != c {
			h.sendTo(m, protocol.UsersUpdate, update)
		}
	}
}

func (h *Hub) leave(c *Client) {
	r, ok := h.rooms[c.roomID]
	c.roomID = ""
	if !ok {
		return
	}
	delete(r.members, c)
	h.log.Info().Str("room", r.id).Str("username", c.username).Str("conn", c.id).Msg("left")
	if len(r.members) == 0 {
		delete(h.rooms, r.id)
		return
	}
	presence := protocol.Presence{Username: c.username, Users: r.usernames()}
	for m := range r.members {
		h.sendTo(m, protocol.UserLeft, presence)
	}
}

// publish sends a room event through the bus, or applies it directly when
// there is none.
func (h *Hub) publish(roomID, eventType string, payload any, exclude string) error {
	env, err := protocol.NewEnvelope(eventType, payload)
	if err != nil {
		return err
	}
	m := Message{RoomID: roomID, Type: env.Type, Payload: env.Payload, Exclude: exclude}
	if h.pub == nil {
		h.apply(m)
		return nil
	}
	ctx, cancel := context.WithTimeout(h.ctx, publishTimeout)
	defer cancel()
	if err := h.pub.Publish(ctx, m); err != nil {
		h.log.Error().Err(err).Str("room", roomID).Str("type", eventType).Msg("publish failed")
		return &relayError{status: http.StatusServiceUnavailable, msg: "broadcast unavailable"}
	}
	return nil
}

// apply records the event in the room state and fans it out to the local
// members.
func (h *Hub) apply(m Message) {
	frame, err := json.Marshal(protocol.Envelope{Type: m.Type, Payload: m.Payload})
	if err != nil {
		h.log.Error().Err(err).Str("type", m.Type).Msg("encode frame")
		return
	}
	if m.RoomID == "" {
		for c := range h.clients {
			h.write(c, frame)
		}
		return
	}

	r, ok := h.rooms[m.RoomID]
	if !ok {
		return
	}
	switch m.Type {
	case protocol.VideoLoaded:
		var p protocol.Load
		if err := json.Unmarshal(m.Payload, &p); err == nil {
			r.videoURL = p.VideoURL
		}
	case protocol.ReceiveMessage:
		var p protocol.ChatMessage
		if err := json.Unmarshal(m.Payload, &p); err == nil {
			r.addMessage(p, h.maxMessages)
		}
	}
	for c := range r.members {
		if c.id != m.Exclude {
			h.write(c, frame)
		}
	}
}

func (h *Hub) sendTo(c *Client, eventType string, payload any) {
	frame, err := protocol.Encode(eventType, payload)
	if err != nil {
		h.log.Error().Err(err).Str("type", eventType).Msg("encode frame")
		return
	}
	h.write(c, frame)
}

func (h *Hub) sendError(c *Client, err error) {
	msg := "internal error"
	var re *relayError
	if errors.As(err, &re) {
		msg = re.msg
	}
	h.sendTo(c, protocol.Error, protocol.ErrorPayload{Message: msg})
}

// write queues a frame. A client whose buffer is full is dropped.
func (h *Hub) write(c *Client, frame []byte) {
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- frame:
	default:
		h.log.Warn().Str("conn", c.id).Msg("send buffer full, dropping client")
		h.remove(c)
	}
}

func (h *Hub) remove(c *Client) {
	if !h.clients[c] {
		return
	}
	if c.roomID != "" {
		h.leave(c)
	}
	h.drop(c)
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
}
