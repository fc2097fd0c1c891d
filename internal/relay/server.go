// Package relay is the room event relay: it keeps each room's current media,
// chat history and presence, and fans playback events out to the other
// members of the room, across instances through Redis when configured.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vedikabops/splitstream/internal/protocol"
)

const statsTimeout = 2 * time.Second

type ServerOptions struct {
	// FrontendBaseURL is the only browser origin allowed to open a
	// websocket. Empty allows any origin.
	FrontendBaseURL string
	JWTSecret       []byte
	// Bus is nil for a single instance relay.
	Bus    *RedisBus
	Logger *zerolog.Logger
}

type Server struct {
	hub       *Hub
	bus       *RedisBus
	jwtSecret []byte
	upgrader  websocket.Upgrader
	log       zerolog.Logger
}

func NewServer(hub *Hub, opts ServerOptions) *Server {
	l := zerolog.Nop()
	if opts.Logger != nil {
		l = *opts.Logger
	}
	s := &Server{
		hub:       hub,
		bus:       opts.Bus,
		jwtSecret: opts.JWTSecret,
		log:       l.With().Str("component", "server").Logger(),
	}
	origin := strings.TrimRight(opts.FrontendBaseURL, "/")
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			o := r.Header.Get("Origin")
			// non-browser watchers send no origin
			return origin == "" || o == "" || strings.TrimRight(o, "/") == origin
		},
	}
	return s
}

// Router creates the chi.Router with the relay routes.
func (s *Server) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	for _, mw := range middlewares {
		r.Use(mw)
	}

	r.Get("/health", s.handleHealth)
	r.Post("/rooms", s.handleCreateRoom)

	r.Group(func(r chi.Router) {
		r.Use(jwtAuthMiddleware(s.jwtSecret))
		r.Get("/ws", s.handleWS)
		r.Post("/rooms/{roomId}/events", s.handleRoomEvent)
	})

	return r
}

// RunRedisSubscriber feeds the hub from the broadcast channel. It returns
// immediately for a single instance relay.
func (s *Server) RunRedisSubscriber(ctx context.Context, ready chan<- struct{}) error {
	if s.bus == nil {
		if ready != nil {
			close(ready)
		}
		return nil
	}
	return s.bus.Subscribe(ctx, s.hub, ready)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
	defer cancel()
	stats, err := s.hub.Stats(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "relay unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"service":     "relay",
		"activeRooms": stats.ActiveRooms,
		"totalUsers":  stats.TotalUsers,
	})
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	code, err := s.hub.NewRoomCode(r.Context())
	if err != nil {
		writeRelayError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"roomId": code})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("ws upgrade")
		return
	}

	userID := ""
	if claims, ok := ClaimsFrom(r.Context()); ok {
		userID = claims.UserID
	}
	client := newClient(s.hub, conn, userID)

	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		_ = conn.Close()
		return
	}
	s.log.Debug().Str("conn", client.id).Str("user", userID).Msg("connected")

	go client.writePump()
	go client.readPump()
}

func (s *Server) handleRoomEvent(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	roomID, err := NormalizeRoomID(chi.URLParam(r, "roomId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}
	var env protocol.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil || env.Type == "" {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.hub.Inject(r.Context(), roomID, env); err != nil {
		var re *relayError
		if !errors.As(err, &re) {
			s.log.Error().Err(err).Str("room", roomID).Msg("inject event")
		}
		writeRelayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
