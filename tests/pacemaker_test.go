// file: tests/pacemaker_test.go
package tests

import (
	"testing"
	"time"

	"github.com/hadv/ockham/pkg/consensus"
)

// manualClock lets a test fire timers on demand instead of sleeping.
type manualClock struct {
	ch chan time.Time
}

func newManualClock() *manualClock { return &manualClock{ch: make(chan time.Time, 8)} }

func (c *manualClock) After(d time.Duration) <-chan time.Time { return c.ch }
func (c *manualClock) Now() time.Time                         { return time.Now() }
func (c *manualClock) fire()                                  { c.ch <- time.Now() }

func TestPacemakerOnQCAdvancesView(t *testing.T) {
	clock := newManualClock()
	pm := consensus.NewPacemaker(consensus.PacemakerTimers{BaseTimeout: time.Millisecond, Cap: 8}, clock, 1)

	if pm.CurrentView() != 1 {
		t.Fatalf("initial view = %d, want 1", pm.CurrentView())
	}
	qc := consensus.QuorumCertificate{View: 1, BlockHash: consensus.Hash{0x1}}
	pm.OnQC(qc)
	if pm.CurrentView() != 2 {
		t.Fatalf("view after OnQC(view=1) = %d, want 2", pm.CurrentView())
	}

	// A QC for a view behind the current one must not move the view backward.
	pm.OnQC(consensus.QuorumCertificate{View: 0, BlockHash: consensus.Hash{0x2}})
	if pm.CurrentView() != 2 {
		t.Fatalf("view after stale QC = %d, want still 2", pm.CurrentView())
	}
}

func TestPacemakerDummyThenRealQCAdvancesView(t *testing.T) {
	clock := newManualClock()
	pm := consensus.NewPacemaker(consensus.PacemakerTimers{BaseTimeout: time.Millisecond, Cap: 4}, clock, 1)

	dummy := consensus.QuorumCertificate{View: 1, BlockHash: consensus.DummyHash}
	pm.OnQC(dummy)
	if pm.CurrentView() != 2 {
		t.Fatalf("view after dummy QC = %d, want 2", pm.CurrentView())
	}

	real := consensus.QuorumCertificate{View: 2, BlockHash: consensus.Hash{0x9}}
	pm.OnQC(real)
	if pm.CurrentView() != 3 {
		t.Fatalf("view after real QC = %d, want 3", pm.CurrentView())
	}
}

func TestPacemakerArmCurrentDeliversLocalTimeout(t *testing.T) {
	clock := newManualClock()
	pm := consensus.NewPacemaker(consensus.PacemakerTimers{BaseTimeout: time.Millisecond, Cap: 8}, clock, 3)

	pm.ArmCurrent()
	clock.fire()

	select {
	case v := <-pm.LocalTimeouts():
		if v != 3 {
			t.Fatalf("timeout fired for view %d, want 3", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for local timeout delivery")
	}
}

func TestPacemakerOnTimeoutIgnoresSupersededView(t *testing.T) {
	clock := newManualClock()
	pm := consensus.NewPacemaker(consensus.PacemakerTimers{BaseTimeout: time.Millisecond, Cap: 8}, clock, 1)

	pm.OnQC(consensus.QuorumCertificate{View: 1, BlockHash: consensus.Hash{0x3}}) // view -> 2
	pm.OnTimeout(1)                                                              // stale, should be a no-op
	if pm.CurrentView() != 2 {
		t.Fatalf("view after stale OnTimeout = %d, want still 2", pm.CurrentView())
	}
}
