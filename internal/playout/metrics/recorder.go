package metrics

import (
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/tvarr/internal/playout/asrun"
)

// allBoundaryStateNames mirrors engine.BoundaryState's String() values.
// Duplicated here (rather than importing internal/playout/engine) to
// avoid a metrics->engine import cycle; engine already imports neither
// metrics nor asrun's Recorder, so this stays a one-way dependency.
var allBoundaryStateNames = []string{
	"IDLE", "ARMED", "PREFEED_ISSUED", "SWITCH_SCHEDULED", "LIVE", "FAILED_TERMINAL",
}

// Recorder drains an asrun.Emitter subscription and folds each Event
// into the Registry's collectors, translating the event stream spec.md
// section 6 defines into the metrics surface it also defines.
type Recorder struct {
	reg    *Registry
	events <-chan asrun.Event
	stop   chan struct{}
	done   chan struct{}

	deficitStartedAt map[uuid.UUID]time.Time
}

// NewRecorder subscribes to emitter and returns a Recorder ready to Run.
func NewRecorder(reg *Registry, emitter *asrun.Emitter, subscriptionCapacity int) *Recorder {
	return &Recorder{
		reg:              reg,
		events:           emitter.Subscribe(subscriptionCapacity),
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
		deficitStartedAt: make(map[uuid.UUID]time.Time),
	}
}

// Run drains events until Stop is called. Intended to run on its own
// goroutine.
func (r *Recorder) Run() {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			return
		case ev, ok := <-r.events:
			if !ok {
				return
			}
			r.record(ev)
		}
	}
}

func (r *Recorder) record(ev asrun.Event) {
	id := ev.ChannelID.String()

	switch ev.Kind {
	case asrun.EventBoundaryStateTransition:
		r.reg.ChannelState.Set(ev.ChannelID, allBoundaryStateNames, ev.Detail)

		deltaMs := float64(ev.CommittedCTUs-ev.PlannedCTUs) / 1000
		if deltaMs < 0 {
			deltaMs = -deltaMs
		}
		r.reg.SwitchBoundaryDeltaMs.WithLabelValues(id).Observe(deltaMs)
		const violationToleranceMs = 50
		if deltaMs > violationToleranceMs {
			r.reg.SwitchBoundaryViolations.WithLabelValues(id).Inc()
		}

	case asrun.EventEarlyEOF, asrun.EventContentTruncated:
		r.reg.FramesDroppedTotal.WithLabelValues(id, "video", ev.Kind.String()).Inc()

	case asrun.EventContentDeficitFillStart:
		r.reg.ContentDeficitTotal.WithLabelValues(id).Inc()
		r.deficitStartedAt[ev.ChannelID] = ev.WallClock

	case asrun.EventContentDeficitFillEnd:
		if ev.DurationMs > 0 {
			r.reg.ContentDeficitDurationMs.WithLabelValues(id).Observe(float64(ev.DurationMs))
		}
		delete(r.deficitStartedAt, ev.ChannelID)

	case asrun.EventPadWhileDepthHighViolation:
		r.reg.PadWhileDepthHighTotal.WithLabelValues(id).Inc()
	}
}

// Stop halts the recorder and waits for Run to return.
func (r *Recorder) Stop() {
	close(r.stop)
	<-r.done
}
