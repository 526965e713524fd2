// Package timeline implements TimelineController, the sole authority
// that assigns channel time (CT) to admitted frames from their media
// time (MT), per spec.md section 4.3. It is grounded on the
// state-field-plus-transitionTo style of internal/relay/circuit_breaker.go
// in the teacher repo, generalized from a binary open/closed state to
// an explicit SegmentMapping sum type.
package timeline

import (
	"sync"

	"github.com/jmylchreest/tvarr/internal/playout/clock"
	"github.com/jmylchreest/tvarr/internal/playout/errs"
)

// Config configures a TimelineController's admission tolerances.
type Config struct {
	FramePeriodUs   int64
	ToleranceUs     int64
	LateThresholdUs int64
	// EarlyThresholdUs bounds how far ahead of the expected cursor an
	// admitted frame's computed CT may be before being rejected.
	EarlyThresholdUs int64
	// CatchUpLimitUs bounds how far lag may grow before ShouldRestart
	// reports true.
	CatchUpLimitUs int64
}

const (
	defaultCatchUpLimitUs = 5_000_000
	maxLateThresholdUs    = 500_000
)

// FromFPS derives a Config from a target frame rate (as a rational) and
// tolerance multipliers expressed in frame counts, per spec.md's
// "Derivable via from_fps(fps, late_frames, early_frames)".
func FromFPS(fpsNum, fpsDen int, lateFrames, earlyFrames float64) Config {
	framePeriodUs := int64(fpsDen) * 1_000_000 / int64(fpsNum)

	lateUs := int64(float64(framePeriodUs) * lateFrames)
	if lateUs > maxLateThresholdUs {
		lateUs = maxLateThresholdUs
	}

	return Config{
		FramePeriodUs:    framePeriodUs,
		ToleranceUs:      framePeriodUs,
		LateThresholdUs:  lateUs,
		EarlyThresholdUs: int64(float64(framePeriodUs) * earlyFrames),
		CatchUpLimitUs:   defaultCatchUpLimitUs,
	}
}

// DefaultConfig returns FromFPS(fps, 5, 30) per spec.md's stated
// defaults: late_threshold_us = min(500ms, 5 frame periods),
// early_threshold_us = 30 frame periods.
func DefaultConfig(fpsNum, fpsDen int) Config {
	return FromFPS(fpsNum, fpsDen, 5, 30)
}

// AdmissionOutcome identifies the result category of an AdmitFrame call.
type AdmissionOutcome int

const (
	// Admitted means the frame was stamped with CT and should flow
	// onward into the ring buffer.
	Admitted AdmissionOutcome = iota
	// RejectedLate means the frame arrived too far behind the expected
	// cursor; the producer should drop it and decode the next one.
	RejectedLate
	// RejectedEarly means the frame arrived too far ahead of the
	// expected cursor.
	RejectedEarly
	// RejectedNoMapping means there is no active session/mapping; a
	// programming error outside the transition window.
	RejectedNoMapping
)

// AdmissionResult is the outcome of a single AdmitFrame call.
type AdmissionResult struct {
	Outcome AdmissionOutcome
	CTUs    int64
	Err     error
}

// Stats is a point-in-time snapshot of controller counters, used for
// the equivalent of internal/relay/circuit_breaker.go's Stats() pattern.
type Stats struct {
	Admitted          uint64
	RejectedLate      uint64
	RejectedEarly     uint64
	RejectedNoMapping uint64
	CTCursorUs        int64
	LagUs             int64
}

// pendingMode tracks what kind of segment-begin transition is
// outstanding; it mirrors mapping.kind but is tracked independently so
// Controller can distinguish "no transition pending" from "mapping is
// the resolved result of a prior transition".
type pendingMode int

const (
	pendingNone pendingMode = iota
	pendingAwaitPreviewFrame
)

// Controller is the sole authority assigning CT to frames. Producers
// emit MT via AdmitFrame; Controller returns CT. No other component
// writes CT (spec.md section 4.3).
type Controller struct {
	cfg   Config
	clock clock.Clock

	mu        sync.Mutex
	active    bool
	ctCursor  int64
	mapping   SegmentMapping
	hasMapping bool
	pending   pendingMode

	stats Stats
}

// New creates a Controller bound to the given clock (real or fake) and
// admission configuration.
func New(cfg Config, c clock.Clock) *Controller {
	return &Controller{cfg: cfg, clock: c}
}

// StartSession clears cursor/mapping state and marks the controller
// active. The clock's own epoch is owned and set separately by the
// engine via TrySetEpochOnce; StartSession does not touch the epoch.
func (c *Controller) StartSession() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active = true
	c.ctCursor = 0
	c.hasMapping = false
	c.mapping = SegmentMapping{}
	c.pending = pendingNone
	c.stats = Stats{}
}

// BeginSegmentAbsolute installs a fully-resolved mapping immediately;
// no pending state is created.
func (c *Controller) BeginSegmentAbsolute(ctStart, mtStart int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mapping = AbsoluteMapping(ctStart, mtStart)
	c.hasMapping = true
	c.pending = pendingNone
}

// BeginSegmentFromPreview arms a pending AwaitFirstFrame transition: the
// next admitted frame atomically locks both CT (from wall clock minus
// epoch) and MT (from the frame's own PTS). CT is derived from the
// current wall clock rather than a buffered/dropped frame so dropped
// preview frames cannot skew the mapping.
func (c *Controller) BeginSegmentFromPreview() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hasMapping = false
	c.mapping = SegmentMapping{}
	c.pending = pendingAwaitPreviewFrame
}

// AdmitFrame is the sole CT-assignment entry point. See spec.md section
// 4.3 for the full admission algorithm this implements.
func (c *Controller) AdmitFrame(mtUs int64) AdmissionResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active || (!c.hasMapping && c.pending == pendingNone) {
		c.stats.RejectedNoMapping++
		return AdmissionResult{Outcome: RejectedNoMapping, Err: errs.ErrRejectedNoMapping}
	}

	if c.pending == pendingAwaitPreviewFrame {
		epoch, _ := c.clock.GetEpoch()
		ctStart := c.clock.NowUTCUs() - epoch
		c.mapping = awaitingMapping().resolve(ctStart, mtUs)
		c.hasMapping = true
		c.pending = pendingNone
		c.ctCursor = ctStart
		c.stats.Admitted++
		c.stats.CTCursorUs = c.ctCursor
		return AdmissionResult{Outcome: Admitted, CTUs: ctStart}
	}

	ctComputed := c.mapping.CTStart() + (mtUs - c.mapping.MTStart())
	ctExpected := c.ctCursor + c.cfg.FramePeriodUs

	diff := ctComputed - ctExpected
	if diff < 0 {
		diff = -diff
	}

	if diff <= c.cfg.ToleranceUs {
		c.ctCursor = ctExpected
		c.stats.Admitted++
		c.stats.CTCursorUs = c.ctCursor
		return AdmissionResult{Outcome: Admitted, CTUs: ctExpected}
	}

	if ctComputed < ctExpected-c.cfg.LateThresholdUs {
		c.stats.RejectedLate++
		return AdmissionResult{Outcome: RejectedLate, Err: errs.ErrRejectedLate}
	}

	if ctComputed > ctExpected+c.cfg.EarlyThresholdUs {
		c.stats.RejectedEarly++
		return AdmissionResult{Outcome: RejectedEarly, Err: errs.ErrRejectedEarly}
	}

	c.ctCursor = ctComputed
	c.stats.Admitted++
	c.stats.CTCursorUs = c.ctCursor
	return AdmissionResult{Outcome: Admitted, CTUs: ctComputed}
}

// CTCursor returns the last admitted channel-time value.
func (c *Controller) CTCursor() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctCursor
}

// Lag returns (now - epoch) - ct_cursor: how far real time has advanced
// past the last admitted frame's CT.
func (c *Controller) Lag() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	epoch, _ := c.clock.GetEpoch()
	return (c.clock.NowUTCUs() - epoch) - c.ctCursor
}

// IsInCatchUp reports whether lag exceeds two frame periods.
func (c *Controller) IsInCatchUp() bool {
	return c.Lag() > 2*c.cfg.FramePeriodUs
}

// ShouldRestart reports whether lag has exceeded the configured catch-up
// limit, signaling the session is unrecoverable without a restart.
func (c *Controller) ShouldRestart() bool {
	return c.Lag() > c.cfg.CatchUpLimitUs
}

// IsMappingPending reports whether a BeginSegmentFromPreview transition
// is outstanding, awaiting its first admitted frame.
func (c *Controller) IsMappingPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending == pendingAwaitPreviewFrame
}

// SegmentMapping returns the current mapping and whether one is set.
func (c *Controller) SegmentMapping() (SegmentMapping, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mapping, c.hasMapping
}

// StatsSnapshot returns a copy of the controller's current counters.
func (c *Controller) StatsSnapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.CTCursorUs = c.ctCursor
	return s
}
