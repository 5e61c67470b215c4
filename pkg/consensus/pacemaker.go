// file: pkg/consensus/pacemaker.go
package consensus

import (
	"time"

	"github.com/hadv/ockham/pkg/util"
)

// PacemakerTimers configures the capped-exponential timeout schedule
// (spec §4.4): Δ(V) = base_timeout * min(cap, 2^consecutive_timeouts).
type PacemakerTimers struct {
	BaseTimeout time.Duration
	Cap         float64 // multiplier cap, e.g. 8 means at most 8x BaseTimeout
}

// Pacemaker owns the current view and its timeout. It never mutates other
// components directly; it only tells the reactor (via LocalTimeouts) when a
// view's timer has fired, and the reactor drives everything else.
type Pacemaker struct {
	timers PacemakerTimers
	clock  util.Clock

	currentView        View
	consecutiveTimeouts int
	deadlineTag         uint64 // monotonically bumped on every re-arm, to ignore stale timers

	timeoutCh chan View
}

func NewPacemaker(timers PacemakerTimers, clock util.Clock, startView View) *Pacemaker {
	if timers.Cap <= 0 {
		timers.Cap = 8
	}
	return &Pacemaker{
		timers:      timers,
		clock:       clock,
		currentView: startView,
		timeoutCh:   make(chan View, 1),
	}
}

func (p *Pacemaker) CurrentView() View { return p.currentView }

// LocalTimeouts delivers LocalTimeout(V) events to the reactor's select loop.
func (p *Pacemaker) LocalTimeouts() <-chan View { return p.timeoutCh }

func (p *Pacemaker) delta() time.Duration {
	mult := 1 << uint(p.consecutiveTimeouts)
	if float64(mult) > p.timers.Cap {
		mult = int(p.timers.Cap)
	}
	return p.timers.BaseTimeout * time.Duration(mult)
}

// ArmCurrent (re-)arms the timer for the current view. Engine.Start calls
// it on startup; OnQC and OnTimeout call it themselves.
func (p *Pacemaker) ArmCurrent() {
	view := p.currentView
	p.deadlineTag++
	tag := p.deadlineTag
	d := p.delta()
	go func(view View, tag uint64) {
		<-p.clock.After(d)
		if tag != p.deadlineTag {
			return // superseded by a later re-arm; drop this stale timer
		}
		select {
		case p.timeoutCh <- view:
		default:
		}
	}(view, tag)
}

// OnQC advances the view on a fresh QC, per spec §4.4, and resets (or bumps)
// the consecutive-timeout counter depending on whether the QC was a dummy.
func (p *Pacemaker) OnQC(qc QuorumCertificate) {
	if qc.View < p.currentView {
		return
	}
	p.currentView = qc.View + 1
	if qc.IsDummy() {
		p.consecutiveTimeouts++
	} else {
		p.consecutiveTimeouts = 0
	}
	p.ArmCurrent()
}

// OnTimeout is called by the reactor after it has reacted to a
// LocalTimeout(V) (cast a dummy-notarize vote); the pacemaker itself does
// not advance the view here — view advancement only happens on QC
// formation (spec: "whichever quorum forms first wins the view").
func (p *Pacemaker) OnTimeout(v View) {
	if v != p.currentView {
		return
	}
	p.ArmCurrent()
}
