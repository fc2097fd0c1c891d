package playback

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// Phase is the reconciler state.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseApplyingRemote
	PhaseAwaitingSettle
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseApplyingRemote:
		return "applying-remote"
	case PhaseAwaitingSettle:
		return "awaiting-settle"
	}
	return "unknown"
}

// Snapshot is a point-in-time view of the engine state.
type Snapshot struct {
	Phase      Phase
	Guard      Guard
	Sampling   bool
	LastSample float64
}

const queueSize = 128

// ErrStopped is returned by calls that need a running engine.
var ErrStopped = errors.New("playback: engine stopped")

// Engine is the synchronization reconciler of one room session. Everything
// that touches the player or the suppression state runs on the goroutine
// started by Run: inbound events, player notifications, settle timers and
// drift ticks all arrive as messages, so a genuine action can never interleave
// with a guard being cleared.
type Engine struct {
	id     ClientID
	player Player
	out    Emitter
	cfg    Config
	clock  clock.Clock
	log    zerolog.Logger

	// inbox keeps relay events, player notifications and control calls in
	// the order they were submitted.
	inbox   chan func()
	settled chan uint64
	quit    chan struct{}
	done    chan struct{}

	stopOnce sync.Once
	runOnce  sync.Once

	// owned by the Run goroutine
	ctx         context.Context
	phase       Phase
	guard       Guard
	gate        *Gate
	drift       *DriftMonitor
	lastApplied time.Time
	settleTimer *clock.Timer
	settleSeq   uint64
	ticker      *clock.Ticker
}

func NewEngine(id ClientID, player Player, out Emitter, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		id:      id,
		player:  player,
		out:     out,
		cfg:     cfg,
		clock:   cfg.Clock,
		log:     cfg.Logger.With().Str("component", "reconciler").Str("client", string(id)).Logger(),
		inbox:   make(chan func(), queueSize),
		settled: make(chan uint64, 8),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		drift:   NewDriftMonitor(cfg.DriftThreshold),
	}
	e.gate = NewGate(&e.guard, player, id, e.clock.Now)
	return e
}

// ID returns the client id stamped on emitted intents.
func (e *Engine) ID() ClientID {
	return e.id
}

// Run processes messages until ctx is cancelled or Dispose is called. It must
// be called once.
func (e *Engine) Run(ctx context.Context) error {
	started := false
	e.runOnce.Do(func() { started = true })
	if !started {
		return nil
	}
	defer close(e.done)
	defer e.teardown()
	e.ctx = ctx

	for {
		var tick <-chan time.Time
		if e.ticker != nil {
			tick = e.ticker.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.quit:
			return nil
		case fn := <-e.inbox:
			fn()
		case seq := <-e.settled:
			e.onSettle(seq)
		case <-tick:
			e.sample()
		}
	}
}

// Dispose stops the engine: pending timers and the sampling loop are
// cancelled and later calls are ignored.
func (e *Engine) Dispose() {
	e.stopOnce.Do(func() { close(e.quit) })
}

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Deliver queues an inbound event from the relay.
func (e *Engine) Deliver(ev SyncEvent) {
	e.submit(func() { e.applyRemote(ev) })
}

// Observe queues a raw player notification.
func (e *Engine) Observe(st Status) {
	e.submit(func() { e.observe(st) })
}

func (e *Engine) submit(fn func()) {
	select {
	case e.inbox <- fn:
	case <-e.quit:
	case <-e.done:
	}
}

// Activate runs load on the engine goroutine, so the player keeps a single
// writer, then starts drift sampling from the new position. load may be nil.
func (e *Engine) Activate(load func() error) error {
	var err error
	ran := e.do(func() {
		if load != nil {
			if err = load(); err != nil {
				e.stopTicker()
				e.drift.Clear()
				return
			}
		}
		e.drift.Reset(e.player.Position())
		if e.ticker != nil {
			return
		}
		e.ticker = e.clock.Ticker(e.cfg.SampleInterval)
		e.log.Debug().Dur("interval", e.cfg.SampleInterval).Msg("drift sampling started")
	})
	if !ran {
		return ErrStopped
	}
	return err
}

// Deactivate stops drift sampling.
func (e *Engine) Deactivate() {
	e.do(func() {
		e.stopTicker()
		e.drift.Clear()
	})
}

// Snapshot returns the current state, or the zero value once stopped.
func (e *Engine) Snapshot() Snapshot {
	var s Snapshot
	e.do(func() {
		last, _ := e.drift.Last()
		s = Snapshot{Phase: e.phase, Guard: e.guard, Sampling: e.ticker != nil, LastSample: last}
	})
	return s
}

// do runs fn on the engine goroutine after everything queued before it and
// waits for it. It reports false when the engine stopped first.
func (e *Engine) do(fn func()) bool {
	ran := make(chan struct{})
	select {
	case e.inbox <- func() { fn(); close(ran) }:
	case <-e.quit:
		return false
	case <-e.done:
		return false
	}
	select {
	case <-ran:
		return true
	case <-e.done:
		return false
	}
}

func (e *Engine) observe(st Status) {
	d := e.gate.Classify(st)
	if !d.Emit {
		e.log.Debug().Stringer("status", st).Str("reason", d.Reason).Stringer("guard", e.guard).Msg("notification suppressed")
		return
	}
	e.emit(d.Intent)
}

func (e *Engine) sample() {
	pos := e.player.Position()
	suppressed := e.guard.IncomingApply() || e.guard.Scrubbing()
	if !e.drift.Sample(pos, suppressed) {
		return
	}
	e.log.Debug().Float64("position", pos).Msg("manual scrub detected")
	e.emit(Intent{
		Action:    ActionSeek,
		Position:  pos,
		Origin:    e.id,
		EmittedAt: e.clock.Now(),
	})
}

func (e *Engine) emit(in Intent) {
	if e.out == nil {
		return
	}
	if err := e.out.Emit(e.ctx, in); err != nil {
		e.log.Warn().Err(err).Stringer("action", in.Action).Msg("emit intent")
		return
	}
	e.log.Debug().Stringer("action", in.Action).Float64("position", in.Position).Msg("intent emitted")
}

func (e *Engine) applyRemote(ev SyncEvent) {
	if ev.Origin != "" && ev.Origin == e.id {
		e.log.Debug().Stringer("action", ev.Action).Msg("own event echoed by relay, dropped")
		return
	}

	now := e.clock.Now()
	if !e.lastApplied.IsZero() && now.Sub(e.lastApplied) < e.cfg.DebounceWindow {
		e.log.Debug().Stringer("action", ev.Action).Dur("since", now.Sub(e.lastApplied)).Msg("inbound event debounced")
		return
	}
	e.lastApplied = now

	e.phase = PhaseApplyingRemote
	e.guard.ArmRemote(ev.Action)

	target := ev.Position
	var err error
	switch ev.Action {
	case ActionPlay:
		target = e.compensate(ev, now)
		if math.Abs(e.player.Position()-target) > e.cfg.DriftThreshold {
			if err = e.player.SeekTo(target); err == nil {
				e.drift.Reset(target)
			}
		}
		if err == nil {
			err = e.player.Play()
		}
	case ActionPause:
		if err = e.player.SeekTo(target); err == nil {
			e.drift.Reset(target)
			err = e.player.Pause()
		}
	case ActionSeek:
		if err = e.player.SeekTo(target); err == nil {
			e.drift.Reset(target)
		}
	default:
		e.log.Debug().Stringer("action", ev.Action).Msg("unknown inbound action ignored")
	}
	if err != nil {
		e.log.Warn().Err(err).Stringer("action", ev.Action).Msg("apply remote event")
	} else if e.cfg.OnApplied != nil {
		e.cfg.OnApplied(ev.Action, target)
	}

	e.phase = PhaseAwaitingSettle
	e.restartSettle()
}

func (e *Engine) compensate(ev SyncEvent, now time.Time) float64 {
	if e.cfg.MaxTransitCompensation <= 0 || ev.EmittedAt.IsZero() {
		return ev.Position
	}
	transit := now.Sub(ev.EmittedAt)
	if transit < 0 {
		return ev.Position
	}
	if transit > e.cfg.MaxTransitCompensation {
		transit = e.cfg.MaxTransitCompensation
	}
	return ev.Position + transit.Seconds()
}

func (e *Engine) restartSettle() {
	if e.settleTimer != nil {
		e.settleTimer.Stop()
	}
	e.settleSeq++
	seq := e.settleSeq
	e.settleTimer = e.clock.AfterFunc(e.cfg.SettleWindow, func() {
		select {
		case e.settled <- seq:
		case <-e.quit:
		case <-e.done:
		}
	})
}

func (e *Engine) onSettle(seq uint64) {
	if seq != e.settleSeq || e.phase != PhaseAwaitingSettle {
		// superseded by a later inbound event
		return
	}
	e.guard.Settle()
	e.phase = PhaseIdle
	e.settleTimer = nil
	e.log.Debug().Stringer("guard", e.guard).Msg("settled")
}

func (e *Engine) stopTicker() {
	if e.ticker != nil {
		e.ticker.Stop()
		e.ticker = nil
	}
}

func (e *Engine) teardown() {
	if e.settleTimer != nil {
		e.settleTimer.Stop()
		e.settleTimer = nil
	}
	e.stopTicker()
	e.guard.Reset()
	e.phase = PhaseIdle
}
