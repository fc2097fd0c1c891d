// Package session binds one room to one player: it joins the room over a
// transport, turns relay events into player loads and reconciler input, and
// keeps the room's chat and participant list for rendering.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vedikabops/splitstream/internal/media"
	"github.com/vedikabops/splitstream/internal/playback"
	"github.com/vedikabops/splitstream/internal/protocol"
)

// Transport carries protocol events between the session and the relay.
type Transport interface {
	Send(ctx context.Context, eventType string, payload any) error
	// Events is closed when the connection ends.
	Events() <-chan protocol.Envelope
	Close() error
}

// Player is a playback.Player that can also load media.
type Player interface {
	playback.Player
	Load(ref media.Reference) error
}

// Players that push notifications are wired to the session automatically.
type statusSource interface {
	OnStatus(fn func(playback.Status))
}

type errorSource interface {
	OnError(fn func(code int))
}

// Observer receives session notifications. Nil callbacks are skipped.
// Callbacks may run on different goroutines.
type Observer struct {
	OnMediaChanged    func(ref media.Reference)
	OnPlaybackApplied func(action playback.Action, position float64)
	OnError           func(kind ErrorKind, message string)
	OnMessage         func(msg protocol.ChatMessage)
	OnParticipants    func(users []string)
}

const defaultMaxMessages = 200

type Options struct {
	RoomID   string
	Username string
	// ClientID stamps outgoing playback events. A random UUID when empty.
	ClientID    playback.ClientID
	Playback    playback.Config
	Observer    Observer
	MaxMessages int
	Logger      *zerolog.Logger
}

// Snapshot is the room state as last reported by the relay.
type Snapshot struct {
	Media        *media.Reference
	Messages     []protocol.ChatMessage
	Participants []string
}

// Controller is the session of one user in one room.
type Controller struct {
	roomID      string
	username    string
	transport   Transport
	player      Player
	engine      *playback.Engine
	obs         Observer
	clock       clock.Clock
	maxMessages int
	log         zerolog.Logger

	mu           sync.Mutex
	media        *media.Reference
	messages     []protocol.ChatMessage
	participants []string
	loading      bool
	lastErr      *Error
	// rejected is set by PlayerError and cleared before every load.
	rejected bool

	left      chan struct{}
	leaveOnce sync.Once
	leaveErr  error
}

func New(t Transport, p Player, opts Options) (*Controller, error) {
	if t == nil || p == nil {
		return nil, errors.New("session: transport and player are required")
	}
	roomID := strings.TrimSpace(opts.RoomID)
	if roomID == "" {
		return nil, errors.New("session: room id is required")
	}
	username := strings.TrimSpace(opts.Username)
	if username == "" {
		return nil, errors.New("session: username is required")
	}
	if opts.ClientID == "" {
		opts.ClientID = playback.ClientID(uuid.NewString())
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = defaultMaxMessages
	}

	base := zerolog.Nop()
	if opts.Logger != nil {
		base = *opts.Logger
	}
	clk := opts.Playback.Clock
	if clk == nil {
		clk = clock.New()
	}

	c := &Controller{
		roomID:      roomID,
		username:    username,
		transport:   t,
		player:      p,
		obs:         opts.Observer,
		clock:       clk,
		maxMessages: opts.MaxMessages,
		log:         base.With().Str("component", "session").Str("room", roomID).Logger(),
		left:        make(chan struct{}),
	}

	cfg := opts.Playback
	cfg.Clock = clk
	if cfg.Logger == nil {
		cfg.Logger = &base
	}
	applied := cfg.OnApplied
	cfg.OnApplied = func(a playback.Action, pos float64) {
		if applied != nil {
			applied(a, pos)
		}
		if c.obs.OnPlaybackApplied != nil {
			c.obs.OnPlaybackApplied(a, pos)
		}
	}
	c.engine = playback.NewEngine(opts.ClientID, p, playback.EmitterFunc(c.emit), cfg)

	if src, ok := p.(statusSource); ok {
		src.OnStatus(c.engine.Observe)
	}
	if src, ok := p.(errorSource); ok {
		src.OnError(c.PlayerError)
	}
	return c, nil
}

// ClientID returns the id stamped on this session's playback events.
func (c *Controller) ClientID() playback.ClientID {
	return c.engine.ID()
}

// Engine exposes the reconciler. Players that do not push notifications
// themselves forward them to Engine().Observe.
func (c *Controller) Engine() *playback.Engine {
	return c.engine
}

// Join announces the user to the room. The relay answers with room-state.
func (c *Controller) Join(ctx context.Context) error {
	err := c.transport.Send(ctx, protocol.JoinRoom, protocol.Join{RoomID: c.roomID, Username: c.username})
	if err != nil {
		return fmt.Errorf("session: join %s: %w", c.roomID, err)
	}
	c.log.Info().Str("username", c.username).Msg("joining room")
	return nil
}

// Run pumps transport events until ctx is cancelled, Leave is called or the
// transport closes. A closed transport ends the session with a
// TransportDisconnected error.
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() { _ = c.engine.Run(ctx) }()
	defer func() {
		_ = c.Leave()
		<-c.engine.Done()
	}()

	events := c.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.left:
			return nil
		case env, ok := <-events:
			if !ok {
				select {
				case <-c.left:
					return nil
				default:
				}
				return c.fail(TransportDisconnected, msgDisconnected, nil)
			}
			c.handle(env)
		}
	}
}

// Leave disposes the reconciler and closes the transport. It is safe to call
// more than once.
func (c *Controller) Leave() error {
	c.leaveOnce.Do(func() {
		close(c.left)
		c.engine.Dispose()
		c.leaveErr = c.transport.Close()
		c.log.Info().Msg("left room")
	})
	return c.leaveErr
}

// LoadMedia validates rawURL and asks the room to switch to it. The player
// is only reloaded once the relay confirms with video-loaded.
func (c *Controller) LoadMedia(ctx context.Context, rawURL string) error {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return c.fail(UnparsableReference, msgEmptyURL, nil)
	}
	if _, err := media.Parse(raw); err != nil {
		return c.fail(UnparsableReference, invalidURLMessage(raw), err)
	}

	c.mu.Lock()
	c.loading = true
	c.lastErr = nil
	c.mu.Unlock()

	if err := c.transport.Send(ctx, protocol.LoadVideo, protocol.Load{RoomID: c.roomID, VideoURL: raw}); err != nil {
		c.setLoading(false)
		return fmt.Errorf("session: load media: %w", err)
	}
	return nil
}

// SendMessage posts a chat message. Blank text is ignored.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	msg := protocol.ChatMessage{
		RoomID:    c.roomID,
		Type:      protocol.MessageUser,
		Username:  c.username,
		Message:   text,
		Timestamp: c.clock.Now().UTC().Format(time.RFC3339),
	}
	if err := c.transport.Send(ctx, protocol.SendMessage, msg); err != nil {
		return fmt.Errorf("session: send message: %w", err)
	}
	return nil
}

// PlayerError reports that the player refused the current media.
func (c *Controller) PlayerError(code int) {
	c.mu.Lock()
	playlist := c.media != nil && c.media.IsPlaylist()
	c.loading = false
	c.rejected = true
	c.mu.Unlock()

	msg := msgVideoRejected
	if playlist {
		msg = msgPlaylistRejected
	}
	_ = c.fail(UnplayableMedia, msg, fmt.Errorf("player error %d", code))
}

// Media returns the current media reference.
func (c *Controller) Media() (media.Reference, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.media == nil {
		return media.Reference{}, false
	}
	return *c.media, true
}

// Loading reports whether a load request is waiting for confirmation.
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// LastError returns the error currently shown to the user, if any.
func (c *Controller) LastError() *Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Messages:     append([]protocol.ChatMessage(nil), c.messages...),
		Participants: append([]string(nil), c.participants...),
	}
	if c.media != nil {
		ref := *c.media
		s.Media = &ref
	}
	return s
}

func (c *Controller) handle(env protocol.Envelope) {
	switch env.Type {
	case protocol.RoomState:
		var st protocol.State
		if !c.decode(env, &st) {
			return
		}
		c.mu.Lock()
		c.messages = c.capMessages(append([]protocol.ChatMessage(nil), st.Messages...))
		c.participants = append([]string(nil), st.Users...)
		c.mu.Unlock()
		c.notifyParticipants(st.Users)
		if st.VideoURL != "" {
			c.applyMedia(st.VideoURL)
		}

	case protocol.VideoLoaded:
		var p protocol.Load
		if !c.decode(env, &p) {
			return
		}
		c.applyMedia(p.VideoURL)

	case protocol.VideoPlay, protocol.VideoPause, protocol.VideoSeek:
		var p protocol.Playback
		if !c.decode(env, &p) {
			return
		}
		c.engine.Deliver(playback.SyncEvent{
			RoomID: p.RoomID,
			Intent: playback.Intent{
				Action:    actionFor(env.Type),
				Position:  p.Timestamp,
				Origin:    playback.ClientID(p.OriginID),
				EmittedAt: p.EmittedTime(),
			},
		})

	case protocol.ReceiveMessage:
		var m protocol.ChatMessage
		if !c.decode(env, &m) {
			return
		}
		c.appendMessage(m)

	case protocol.UserJoined, protocol.UserLeft:
		var p protocol.Presence
		if !c.decode(env, &p) {
			return
		}
		verb := "joined"
		if env.Type == protocol.UserLeft {
			verb = "left"
		}
		c.setParticipants(p.Users)
		c.appendMessage(protocol.ChatMessage{
			RoomID:    c.roomID,
			Type:      protocol.MessageSystem,
			Message:   fmt.Sprintf("%s %s the room", p.Username, verb),
			Timestamp: c.clock.Now().UTC().Format(time.RFC3339),
		})

	case protocol.UsersUpdate:
		var p protocol.Users
		if !c.decode(env, &p) {
			return
		}
		c.setParticipants(p.Users)

	case protocol.Error:
		var p protocol.ErrorPayload
		if !c.decode(env, &p) {
			return
		}
		c.setLoading(false)
		_ = c.fail(RelayError, p.Message, nil)

	default:
		c.log.Debug().Str("type", env.Type).Msg("unhandled event")
	}
}

func (c *Controller) decode(env protocol.Envelope, v any) bool {
	if err := env.Decode(v); err != nil {
		c.log.Warn().Err(err).Str("type", env.Type).Msg("malformed event dropped")
		return false
	}
	return true
}

// applyMedia switches the player to the media named by raw. It never emits
// playback events: a joiner adopts the room's media silently.
func (c *Controller) applyMedia(raw string) {
	ref, err := media.Parse(raw)
	if err != nil {
		c.setLoading(false)
		_ = c.fail(UnparsableReference, invalidURLMessage(raw), err)
		return
	}

	c.mu.Lock()
	c.media = &ref
	c.loading = false
	c.lastErr = nil
	c.rejected = false
	c.mu.Unlock()

	err = c.engine.Activate(func() error {
		if err := c.player.Load(ref); err != nil {
			return err
		}
		// a player that refuses the media while loading has already
		// reported it through PlayerError
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.rejected {
			return errMediaRejected
		}
		return nil
	})
	if errors.Is(err, playback.ErrStopped) {
		return
	}
	if errors.Is(err, errMediaRejected) {
		c.log.Debug().Str("media", ref.URL()).Msg("player rejected media")
		return
	}
	if err != nil {
		msg := msgVideoRejected
		if ref.IsPlaylist() {
			msg = msgPlaylistRejected
		}
		_ = c.fail(UnplayableMedia, msg, err)
		return
	}

	ev := c.log.Info().Str("kind", string(ref.Kind)).Str("video", ref.VideoID).Str("playlist", ref.PlaylistID)
	if idx, ok := ref.Index(); ok {
		ev = ev.Int("index", idx)
	}
	ev.Msg("media loaded")
	if c.obs.OnMediaChanged != nil {
		c.obs.OnMediaChanged(ref)
	}
}

func (c *Controller) emit(ctx context.Context, in playback.Intent) error {
	event, ok := commandFor(in.Action)
	if !ok {
		return fmt.Errorf("session: no event for action %s", in.Action)
	}
	p := protocol.Playback{
		RoomID:    c.roomID,
		Timestamp: in.Position,
		OriginID:  string(in.Origin),
	}
	if !in.EmittedAt.IsZero() {
		p.EmittedAt = in.EmittedAt.UnixMilli()
	}
	return c.transport.Send(ctx, event, p)
}

func (c *Controller) fail(kind ErrorKind, msg string, cause error) *Error {
	e := &Error{Kind: kind, Message: msg, Err: cause}
	c.mu.Lock()
	c.lastErr = e
	c.mu.Unlock()

	c.log.Warn().Err(cause).Stringer("kind", kind).Msg(msg)
	if c.obs.OnError != nil {
		c.obs.OnError(kind, msg)
	}
	return e
}

func (c *Controller) setLoading(v bool) {
	c.mu.Lock()
	c.loading = v
	c.mu.Unlock()
}

func (c *Controller) setParticipants(users []string) {
	c.mu.Lock()
	c.participants = append([]string(nil), users...)
	c.mu.Unlock()
	c.notifyParticipants(users)
}

func (c *Controller) notifyParticipants(users []string) {
	if c.obs.OnParticipants != nil {
		c.obs.OnParticipants(append([]string(nil), users...))
	}
}

func (c *Controller) appendMessage(m protocol.ChatMessage) {
	c.mu.Lock()
	c.messages = c.capMessages(append(c.messages, m))
	c.mu.Unlock()
	if c.obs.OnMessage != nil {
		c.obs.OnMessage(m)
	}
}

func (c *Controller) capMessages(msgs []protocol.ChatMessage) []protocol.ChatMessage {
	if over := len(msgs) - c.maxMessages; over > 0 {
		return msgs[over:]
	}
	return msgs
}

func invalidURLMessage(raw string) string {
	if strings.Contains(raw, "list=") {
		return msgInvalidPlaylist
	}
	return msgInvalidVideo
}

func actionFor(eventType string) playback.Action {
	switch eventType {
	case protocol.VideoPlay:
		return playback.ActionPlay
	case protocol.VideoPause:
		return playback.ActionPause
	}
	return playback.ActionSeek
}

func commandFor(a playback.Action) (string, bool) {
	switch a {
	case playback.ActionPlay:
		return protocol.PlayVideo, true
	case playback.ActionPause:
		return protocol.PauseVideo, true
	case playback.ActionSeek:
		return protocol.SeekVideo, true
	}
	return "", false
}
