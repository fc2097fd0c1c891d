// Package wsclient is the watcher side of the relay websocket: it dials the
// relay, decodes incoming frames into protocol envelopes and serializes
// outgoing ones.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vedikabops/splitstream/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 64 * 1024
	eventBuffer    = 64
)

var ErrClosed = errors.New("wsclient: connection closed")

type Options struct {
	// Token is sent as the token query parameter when set.
	Token  string
	Header http.Header
	Dialer *websocket.Dialer
	Logger *zerolog.Logger
}

// Conn is a relay connection. Send may be called from any goroutine.
type Conn struct {
	ws     *websocket.Conn
	events chan protocol.Envelope
	log    zerolog.Logger

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
	readDone  chan struct{}

	errMu sync.Mutex
	err   error
}

// Dial connects to the relay websocket at rawURL.
func Dial(ctx context.Context, rawURL string, opts Options) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("wsclient: parse url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("wsclient: unsupported scheme %q", u.Scheme)
	}
	if opts.Token != "" {
		q := u.Query()
		q.Set("token", opts.Token)
		u.RawQuery = q.Encode()
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, u.String(), opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("wsclient: dial %s: %w (status %d)", u.Host, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("wsclient: dial %s: %w", u.Host, err)
	}

	l := zerolog.Nop()
	if opts.Logger != nil {
		l = *opts.Logger
	}
	c := &Conn{
		ws:       ws,
		events:   make(chan protocol.Envelope, eventBuffer),
		log:      l.With().Str("component", "wsclient").Str("relay", u.Host).Logger(),
		closed:   make(chan struct{}),
		readDone: make(chan struct{}),
	}
	go c.readPump()
	return c, nil
}

// Events delivers relay frames. It is closed when the connection ends; Err
// then reports why.
func (c *Conn) Events() <-chan protocol.Envelope {
	return c.events
}

func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Send writes one event frame.
func (c *Conn) Send(ctx context.Context, eventType string, payload any) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	data, err := protocol.Encode(eventType, payload)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("wsclient: write %s: %w", eventType, err)
	}
	return nil
}

// Close sends a close frame and tears the connection down. It waits for the
// read loop to exit.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.ws.Close()
		<-c.readDone
	})
	return err
}

func (c *Conn) readPump() {
	defer close(c.readDone)
	defer close(c.events)

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPingHandler(func(appData string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		err := c.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.setErr(err)
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			c.log.Warn().Err(err).Int("bytes", len(data)).Msg("malformed frame dropped")
			continue
		}
		select {
		case c.events <- env:
		case <-c.closed:
			c.setErr(ErrClosed)
			return
		}
	}
}

func (c *Conn) setErr(err error) {
	select {
	case <-c.closed:
		err = ErrClosed
	default:
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			c.log.Info().Msg("relay closed the connection")
		} else {
			c.log.Warn().Err(err).Msg("read failed")
		}
	}
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}
