package engine

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/tvarr/internal/playout/asrun"
	"github.com/jmylchreest/tvarr/internal/playout/clock"
	"github.com/jmylchreest/tvarr/internal/playout/errs"
	"github.com/jmylchreest/tvarr/internal/playout/frame"
)

// eofStubProducer is a minimal producer.Producer + producer.EOFReporter
// double used to drive the engine's deficit watcher without a real
// FileProducer/asset on disk.
type eofStubProducer struct {
	eof atomic.Bool
}

func (s *eofStubProducer) Start() error                              { return nil }
func (s *eofStubProducer) Stop() error                               { return nil }
func (s *eofStubProducer) SetBarrier(bool)                           {}
func (s *eofStubProducer) Format() (frame.ProgramFormat, bool)       { return frame.ProgramFormat{}, true }
func (s *eofStubProducer) ReachedEOF() bool                          { return s.eof.Load() }

func testFormat() frame.ProgramFormat {
	return frame.ProgramFormat{
		Video: frame.VideoFormat{Width: 1280, Height: 720, FrameRateNum: 30, FrameRateDen: 1},
		Audio: frame.AudioFormat{SampleRate: 48000, Channels: 2},
	}
}

func newTestEngine(t *testing.T) (*PlayoutEngine, *clock.FakeClock) {
	t.Helper()
	fc := clock.NewFakeClock(1_000_000_000)
	cfg := DefaultConfig(uuid.New(), testFormat())
	cfg.TeardownGraceTimeout = 200 * time.Millisecond
	return NewWithClock(cfg, fc), fc
}

func TestStartChannel_InitializesSession(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.StartChannel(); err != nil {
		t.Fatalf("StartChannel: %v", err)
	}
	if e.State() != StateIdle {
		t.Fatalf("state after StartChannel = %s, want IDLE", e.State())
	}
}

func TestSwitchToLive_FailsWithoutPreview(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.StartChannel(); err != nil {
		t.Fatalf("StartChannel: %v", err)
	}

	err := e.SwitchToLive()
	if err == nil {
		t.Fatal("expected error switching to live with no preview loaded")
	}
	if class, ok := errs.ClassOf(err); !ok || class != errs.ClassBoundary {
		t.Fatalf("ClassOf(err) = %v, %v; want ClassBoundary, true", class, ok)
	}
}

func TestUpdatePlan_FailsWithoutArmedBoundary(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.StartChannel(); err != nil {
		t.Fatalf("StartChannel: %v", err)
	}

	if err := e.UpdatePlan(1234, 30); err == nil {
		t.Fatal("expected error updating plan with no armed boundary")
	}
}

func TestLoadPreview_MissingAssetForcesFailedTerminal(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.StartChannel(); err != nil {
		t.Fatalf("StartChannel: %v", err)
	}

	_, err := e.LoadPreview("/nonexistent/does-not-exist.ts", 0, 0, 5_000, 150)
	if err == nil {
		t.Fatal("expected error loading a preview for a nonexistent asset")
	}
	if e.State() != StateFailedTerminal {
		t.Fatalf("state after failed LoadPreview = %s, want FAILED_TERMINAL", e.State())
	}
}

func TestRequestTeardown_ExecutesImmediatelyFromStableState(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.StartChannel(); err != nil {
		t.Fatalf("StartChannel: %v", err)
	}

	e.RequestTeardown("test shutdown")

	if e.State() != StateIdle {
		t.Fatalf("state after teardown from IDLE = %s, want IDLE", e.State())
	}
}

func TestRequestTeardown_DefersFromTransientStateThenGraceTimeoutForcesTerminal(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.StartChannel(); err != nil {
		t.Fatalf("StartChannel: %v", err)
	}

	if err := e.sm.transitionTo(StateArmed); err != nil {
		t.Fatalf("transitionTo(ARMED): %v", err)
	}

	e.RequestTeardown("transient teardown")

	// Immediately after RequestTeardown, a transient state must not have
	// been forced to IDLE/FAILED_TERMINAL yet — teardown is deferred.
	if e.State() != StateArmed {
		t.Fatalf("state immediately after deferred teardown = %s, want ARMED", e.State())
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.State() == StateFailedTerminal {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("grace timeout did not force FAILED_TERMINAL, state = %s", e.State())
}

func TestCheckDeficit_EngagesFailsafeAndEmitsEvents(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.StartChannel(); err != nil {
		t.Fatalf("StartChannel: %v", err)
	}

	events := e.AsRunEvents(8)

	content := &eofStubProducer{}
	if err := e.producers.LoadPreview(content); err != nil {
		t.Fatalf("LoadPreview: %v", err)
	}
	if _, err := e.producers.PromotePreviewToLive(); err != nil {
		t.Fatalf("PromotePreviewToLive: %v", err)
	}

	if err := e.sm.transitionTo(StateArmed); err != nil {
		t.Fatalf("transitionTo(ARMED): %v", err)
	}
	e.mu.Lock()
	e.liveBoundary = &boundary{id: uuid.New()}
	e.mu.Unlock()

	content.eof.Store(true)
	e.checkDeficit()

	deadline := time.Now().Add(2 * time.Second)
	var sawEarlyEOF, sawDeficitStart bool
	for !(sawEarlyEOF && sawDeficitStart) && time.Now().Before(deadline) {
		select {
		case ev := <-events:
			switch ev.Kind {
			case asrun.EventEarlyEOF:
				sawEarlyEOF = true
			case asrun.EventContentDeficitFillStart:
				sawDeficitStart = true
			}
		case <-time.After(50 * time.Millisecond):
		}
	}
	if !sawEarlyEOF {
		t.Fatal("expected EARLY_EOF event")
	}
	if !sawDeficitStart {
		t.Fatal("expected CONTENT_DEFICIT_FILL_START event")
	}

	live, ok := e.producers.LiveProducer()
	if !ok {
		t.Fatal("expected a live producer after deficit engagement")
	}
	if live == content {
		t.Fatal("expected live producer replaced by the failsafe pad producer")
	}

	// A second call while deficitActive is a no-op: it must not emit a
	// second pair of events.
	e.checkDeficit()
	select {
	case ev := <-events:
		t.Fatalf("unexpected extra event after deficit already active: %v", ev.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAsRunEvents_SubscribeReturnsChannel(t *testing.T) {
	e, _ := newTestEngine(t)
	ch := e.AsRunEvents(4)
	if ch == nil {
		t.Fatal("expected a non-nil subscription channel")
	}
}
