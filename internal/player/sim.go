// Package player provides a headless media player that behaves like an
// embedded video player. Status changes are reported asynchronously and in
// order, every play and seek passes through buffering, and notifications can
// be delayed to mimic a device that settles late.
package player

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vedikabops/splitstream/internal/media"
	"github.com/vedikabops/splitstream/internal/playback"
)

// Error codes reported through OnError, numbered like the embedded player's.
const (
	ErrCodeNotFound     = 100
	ErrCodeNotEmbedable = 150
)

var ErrNoMedia = errors.New("player: no media loaded")

// Options configures a Sim.
type Options struct {
	Clock clock.Clock
	// NotifyDelay postpones every status notification. Zero queues them
	// for immediate delivery.
	NotifyDelay time.Duration
	// Unavailable holds video or playlist ids that fail to load.
	Unavailable []string
	Logger      *zerolog.Logger
}

// Sim is a simulated player. It is safe for concurrent use.
type Sim struct {
	clock clock.Clock
	delay time.Duration
	log   zerolog.Logger

	mu          sync.Mutex
	status      playback.Status
	base        float64
	anchor      time.Time
	media       *media.Reference
	unavailable map[string]bool
	notify      func(playback.Status)
	onError     func(code int)
	timers      []*clock.Timer
	pending     []playback.Status

	wake      chan struct{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func New(opts Options) *Sim {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	l := zerolog.Nop()
	if opts.Logger != nil {
		l = *opts.Logger
	}
	s := &Sim{
		clock:       opts.Clock,
		delay:       opts.NotifyDelay,
		log:         l.With().Str("component", "player").Logger(),
		status:      playback.StatusUnstarted,
		unavailable: make(map[string]bool, len(opts.Unavailable)),
		wake:        make(chan struct{}, 1),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, id := range opts.Unavailable {
		s.unavailable[id] = true
	}
	go s.dispatch()
	return s
}

// Close stops notification delivery. Queued notifications are dropped.
func (s *Sim) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.cancelPendingLocked()
		s.pending = nil
		s.mu.Unlock()
		close(s.quit)
		<-s.done
	})
}

// OnStatus registers the status notification callback.
func (s *Sim) OnStatus(fn func(playback.Status)) {
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
}

// OnError registers the load failure callback.
func (s *Sim) OnError(fn func(code int)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

// Load cues ref without starting playback. Playlists start at their index.
func (s *Sim) Load(ref media.Reference) error {
	if err := ref.Validate(); err != nil {
		return fmt.Errorf("player: load: %w", err)
	}

	s.mu.Lock()
	s.cancelPendingLocked()
	s.pending = nil
	s.media = &ref
	s.base = 0
	s.anchor = s.clock.Now()
	onError := s.onError
	if s.unavailable[ref.VideoID] || s.unavailable[ref.PlaylistID] {
		s.status = playback.StatusUnstarted
		s.mu.Unlock()
		code := ErrCodeNotEmbedable
		if ref.IsPlaylist() {
			code = ErrCodeNotFound
		}
		s.log.Debug().Int("code", code).Str("media", ref.URL()).Msg("media unavailable")
		if onError != nil {
			onError(code)
		}
		return nil
	}
	s.status = playback.StatusCued
	s.mu.Unlock()

	s.log.Debug().Str("media", ref.URL()).Msg("media cued")
	s.emit(playback.StatusCued)
	return nil
}

// Media returns the loaded reference, if any.
func (s *Sim) Media() (media.Reference, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.media == nil {
		return media.Reference{}, false
	}
	return *s.media, true
}

func (s *Sim) Play() error {
	s.mu.Lock()
	if s.media == nil {
		s.mu.Unlock()
		return ErrNoMedia
	}
	if s.status == playback.StatusPlaying {
		s.mu.Unlock()
		return nil
	}
	s.base = s.positionLocked()
	s.anchor = s.clock.Now()
	s.status = playback.StatusPlaying
	s.mu.Unlock()

	s.emit(playback.StatusBuffering, playback.StatusPlaying)
	return nil
}

func (s *Sim) Pause() error {
	s.mu.Lock()
	if s.media == nil {
		s.mu.Unlock()
		return ErrNoMedia
	}
	if s.status == playback.StatusPaused {
		s.mu.Unlock()
		return nil
	}
	s.base = s.positionLocked()
	s.anchor = s.clock.Now()
	s.status = playback.StatusPaused
	s.mu.Unlock()

	s.emit(playback.StatusPaused)
	return nil
}

// SeekTo moves the playhead. A playing player rebuffers and resumes; a paused
// one moves silently.
func (s *Sim) SeekTo(seconds float64) error {
	if seconds < 0 {
		seconds = 0
	}
	s.mu.Lock()
	if s.media == nil {
		s.mu.Unlock()
		return ErrNoMedia
	}
	s.base = seconds
	s.anchor = s.clock.Now()
	playing := s.status == playback.StatusPlaying
	s.mu.Unlock()

	if playing {
		s.emit(playback.StatusBuffering, playback.StatusPlaying)
	}
	return nil
}

func (s *Sim) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionLocked()
}

func (s *Sim) Status() playback.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Sim) positionLocked() float64 {
	if s.status != playback.StatusPlaying {
		return s.base
	}
	return s.base + s.clock.Since(s.anchor).Seconds()
}

func (s *Sim) emit(states ...playback.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delay <= 0 {
		s.enqueueLocked(states)
		return
	}
	var t *clock.Timer
	t = s.clock.AfterFunc(s.delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.forgetLocked(t)
		s.enqueueLocked(states)
	})
	s.timers = append(s.timers, t)
}

func (s *Sim) enqueueLocked(states []playback.Status) {
	s.pending = append(s.pending, states...)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// dispatch delivers queued notifications one at a time, outside the lock, so
// a callback may call back into the player.
func (s *Sim) dispatch() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.pending) == 0 {
				s.mu.Unlock()
				break
			}
			st := s.pending[0]
			s.pending = s.pending[1:]
			fn := s.notify
			s.mu.Unlock()
			if fn != nil {
				fn(st)
			}
		}
	}
}

func (s *Sim) forgetLocked(t *clock.Timer) {
	for i, x := range s.timers {
		if x == t {
			s.timers = append(s.timers[:i], s.timers[i+1:]...)
			return
		}
	}
}

func (s *Sim) cancelPendingLocked() {
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}
