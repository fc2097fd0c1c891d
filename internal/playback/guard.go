package playback

import "strings"

type guardFlag uint8

const (
	// flagIncomingApply: a remote event is being applied; the next
	// non-buffering notification is its echo.
	flagIncomingApply guardFlag = 1 << iota
	// flagScrub: a programmatic seek is settling.
	flagScrub
	// flagAction: a programmatic play/pause is settling.
	flagAction
)

// Guard is the suppression state of one engine. It only changes through the
// transitions below:
//
//	ArmRemote(play|pause)  sets incomingApply and action
//	ArmRemote(seek)        sets incomingApply and scrub
//	ConsumeEcho            clears incomingApply, once
//	Settle                 clears action and scrub; when scrub was set it also
//	                       clears incomingApply, since a seek may settle
//	                       without producing any notification
//	Reset                  clears everything
//
// A Guard is owned by the engine goroutine and is not safe for concurrent use.
type Guard struct {
	flags guardFlag
}

func (g *Guard) ArmRemote(a Action) {
	g.flags |= flagIncomingApply
	if a == ActionSeek {
		g.flags |= flagScrub
	} else {
		g.flags |= flagAction
	}
}

// ConsumeEcho clears incomingApply and reports whether it was set.
func (g *Guard) ConsumeEcho() bool {
	if g.flags&flagIncomingApply == 0 {
		return false
	}
	g.flags &^= flagIncomingApply
	return true
}

func (g *Guard) Settle() {
	if g.flags&flagScrub != 0 {
		g.flags &^= flagIncomingApply
	}
	g.flags &^= flagScrub | flagAction
}

func (g *Guard) Reset() {
	g.flags = 0
}

func (g Guard) IncomingApply() bool { return g.flags&flagIncomingApply != 0 }
func (g Guard) Scrubbing() bool     { return g.flags&flagScrub != 0 }
func (g Guard) Acting() bool        { return g.flags&flagAction != 0 }

// Settling reports whether a timer-owned guard is up.
func (g Guard) Settling() bool { return g.flags&(flagScrub|flagAction) != 0 }

// Active reports whether any flag is set.
func (g Guard) Active() bool { return g.flags != 0 }

func (g Guard) String() string {
	if g.flags == 0 {
		return "none"
	}
	var parts []string
	if g.IncomingApply() {
		parts = append(parts, "incoming")
	}
	if g.Scrubbing() {
		parts = append(parts, "scrub")
	}
	if g.Acting() {
		parts = append(parts, "action")
	}
	return strings.Join(parts, "|")
}
