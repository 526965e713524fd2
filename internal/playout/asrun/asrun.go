// Package asrun implements the as-run event emitter named in spec.md
// section 4.8: it records committed segment boundaries and related
// lifecycle events for external reconciliation, without persisting them
// itself (spec.md section 6: "as-run events are emitted but not stored
// by the core"). Grounded on the Broadcaster interface in
// other_examples/76fffe68_zsiec-prism__internal-pipeline-pipeline.go.go
// — a typed-frame broadcast to a downstream relay — generalized from
// per-frame media broadcast to per-lifecycle-event broadcast over a
// bounded channel.
package asrun

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies the category of an as-run Event, matching the
// event stream spec.md section 6 names explicitly.
type EventKind int

const (
	EventSegmentStart EventKind = iota
	EventSegmentEnd
	EventEarlyEOF
	EventContentTruncated
	EventContentDeficitFillStart
	EventContentDeficitFillEnd
	EventBoundaryStateTransition
	EventPadWhileDepthHighViolation
	EventEquilibriumWarning
)

func (k EventKind) String() string {
	switch k {
	case EventSegmentStart:
		return "segment_start"
	case EventSegmentEnd:
		return "segment_end"
	case EventEarlyEOF:
		return "early_eof"
	case EventContentTruncated:
		return "content_truncated"
	case EventContentDeficitFillStart:
		return "content_deficit_fill_start"
	case EventContentDeficitFillEnd:
		return "content_deficit_fill_end"
	case EventBoundaryStateTransition:
		return "boundary_state_transition"
	case EventPadWhileDepthHighViolation:
		return "pad_while_depth_high_violation"
	case EventEquilibriumWarning:
		return "equilibrium_warning"
	default:
		return "unknown"
	}
}

// Event carries every as-run event's shared metadata — "every event
// carries segment_id, CT, wall-clock, and a build/version stamp" per
// spec.md section 6 — plus kind-specific detail fields left zero when
// not applicable.
type Event struct {
	Kind        EventKind
	ChannelID   uuid.UUID
	SegmentID   uuid.UUID
	CTUs        int64
	WallClock   time.Time
	BuildStamp  string

	// PlannedCTUs/CommittedCTUs are set on boundary-related events to
	// support after-the-fact reconciliation of planned vs. committed
	// boundaries (spec.md section 6's "propagation policy").
	PlannedCTUs   int64
	CommittedCTUs int64
	// DurationMs is set on fill-end events.
	DurationMs int64
	// Detail is a free-form human-readable note (e.g. a state name, a
	// rejection reason) for events without a dedicated field.
	Detail string
}

// Emitter fans out Events to any number of subscribers over bounded
// channels. A slow or absent subscriber never blocks emission: Emit
// drops the event for that subscriber and logs, rather than blocking
// the caller (always the engine or a producer, never free to stall).
type Emitter struct {
	logger      *slog.Logger
	buildStamp  string
	subscribers []chan Event
}

// New constructs an Emitter that stamps every event with buildStamp
// (e.g. a version string from internal/version).
func New(logger *slog.Logger, buildStamp string) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{logger: logger, buildStamp: buildStamp}
}

// Subscribe registers a new channel that receives a copy of every
// subsequent emitted event, buffered to capacity.
func (e *Emitter) Subscribe(capacity int) <-chan Event {
	ch := make(chan Event, capacity)
	e.subscribers = append(e.subscribers, ch)
	return ch
}

// Emit stamps and broadcasts ev to every subscriber. Never blocks.
func (e *Emitter) Emit(ev Event) {
	ev.WallClock = time.Now()
	ev.BuildStamp = e.buildStamp

	for _, ch := range e.subscribers {
		select {
		case ch <- ev:
		default:
			e.logger.Debug("asrun: dropping event for slow subscriber",
				slog.String("kind", ev.Kind.String()),
				slog.String("segment_id", ev.SegmentID.String()))
		}
	}
}
