package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/tvarr/internal/playout/asrun"
	"github.com/jmylchreest/tvarr/internal/playout/bus"
	"github.com/jmylchreest/tvarr/internal/playout/clock"
	"github.com/jmylchreest/tvarr/internal/playout/errs"
	"github.com/jmylchreest/tvarr/internal/playout/frame"
	"github.com/jmylchreest/tvarr/internal/playout/mux"
	"github.com/jmylchreest/tvarr/internal/playout/producer"
	"github.com/jmylchreest/tvarr/internal/playout/ring"
	"github.com/jmylchreest/tvarr/internal/playout/timeline"
)

// Config configures a PlayoutEngine instance for one channel.
type Config struct {
	ChannelID uuid.UUID
	Format    frame.ProgramFormat

	RingConfig     ring.Config
	TimelineConfig timeline.Config
	// MuxConfig selects the output encoder's video/audio codec, applied
	// when AttachSink builds this channel's Encoder.
	MuxConfig mux.EncoderConfig

	// TeardownGraceTimeout bounds how long a pending teardown waits for
	// a transient BoundaryState to resolve before forcing
	// FAILED_TERMINAL, per spec.md section 4.6.
	TeardownGraceTimeout time.Duration
	// MinPrefeedLeadTimeMs is the minimum lead time (prefeed issuance to
	// declared boundary) a LoadPreview must satisfy to be feasible,
	// spec.md section 4.6's "typically >= ~2s".
	MinPrefeedLeadTimeMs int64
	// ConvergenceTimeout bounds how long StartChannel may skip
	// infeasible boundaries before forcing FAILED_TERMINAL, spec.md
	// section 4.6's "startup convergence".
	ConvergenceTimeout time.Duration

	Logger     *slog.Logger
	BuildStamp string
}

// DefaultConfig returns the Open-Question defaults recorded in
// DESIGN.md: a 10s teardown grace timeout (matching the teacher's
// defaultShutdownTimeout) and a 2000ms minimum prefeed lead.
func DefaultConfig(channelID uuid.UUID, format frame.ProgramFormat) Config {
	fps := format.Video.FrameRateNum
	fpsDen := format.Video.FrameRateDen
	if fps <= 0 {
		fps, fpsDen = 30, 1
	}
	return Config{
		ChannelID:            channelID,
		Format:               format,
		RingConfig:           ring.DefaultConfig(),
		TimelineConfig:       timeline.DefaultConfig(fps, fpsDen),
		TeardownGraceTimeout: 10 * time.Second,
		MinPrefeedLeadTimeMs: 2000,
		ConvergenceTimeout:   30 * time.Second,
	}
}

// boundary holds the plan for a single segment-switch boundary, the
// parameters carried by spec.md section 6's LoadPreview request.
type boundary struct {
	id                   uuid.UUID
	assetPath            string
	startOffsetMs        int64
	hardStopTimeMs       int64
	targetBoundaryTimeMs int64
	plannedFrameCount    int64
}

// PlayoutEngine owns every child component for one channel: the
// TimelineController, ProducerBus, FrameRingBuffer, Pacer/Encoder/Sink,
// and the BoundaryStateMachine governing segment switches. Grounded on
// internal/relay/session.go's RelaySession, the teacher's own
// "one object owns everything for one logical stream" shape.
type PlayoutEngine struct {
	cfg    Config
	logger *slog.Logger

	clock      clock.Clock
	controller *timeline.Controller
	ringBuf    *ring.FrameRingBuffer
	producers  *bus.ProducerBus
	emitter    *asrun.Emitter

	sm *boundaryStateMachine

	pacerMu sync.Mutex
	pacer   *mux.Pacer

	mu          sync.Mutex
	pendingBoundary *boundary
	liveBoundary    *boundary
	switchTimer     *time.Timer
	converged       bool
	teardownPending bool
	teardownReason  string

	deficitActive    bool
	deficitStartCTUs int64

	// deficitPollInterval is how often the deficit watcher checks the
	// live producer's EOF status; overridable by tests so they do not
	// have to wait on the production default.
	deficitPollInterval time.Duration

	grp    *errgroup.Group
	grpCtx context.Context
	cancel context.CancelFunc

	startedAt time.Time
}

// New constructs a PlayoutEngine with a real MasterClock. Tests supply
// their own via NewWithClock.
func New(cfg Config) *PlayoutEngine {
	return NewWithClock(cfg, clock.NewMasterClock())
}

// NewWithClock constructs a PlayoutEngine bound to the given clock,
// allowing deterministic tests to inject a *clock.FakeClock.
func NewWithClock(cfg Config, c clock.Clock) *PlayoutEngine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	grp, grpCtx := errgroup.WithContext(ctx)

	e := &PlayoutEngine{
		cfg:                 cfg,
		logger:              cfg.Logger,
		clock:               c,
		controller:          timeline.New(cfg.TimelineConfig, c),
		ringBuf:             ring.New(cfg.RingConfig),
		producers:           bus.New(),
		emitter:             asrun.New(cfg.Logger, cfg.BuildStamp),
		sm:                  newBoundaryStateMachine(),
		grp:                 grp,
		grpCtx:               grpCtx,
		cancel:              cancel,
		deficitPollInterval: 50 * time.Millisecond,
	}
	e.grp.Go(func() error {
		e.runDeficitWatcher()
		return nil
	})
	return e
}

// StartChannel brings the engine's session online: active state is set
// but no boundary is armed yet. Session creation is never gated on
// boundary feasibility, per spec.md section 4.6.
func (e *PlayoutEngine) StartChannel() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.controller.StartSession()
	e.startedAt = time.Now()
	return nil
}

// LoadPreview installs a producer into the preview slot in shadow-decode
// mode and arms the named boundary, per spec.md section 6. Returns an
// error if the channel has not been started or a teardown is pending.
func (e *PlayoutEngine) LoadPreview(assetPath string, startOffsetMs, hardStopTimeMs, targetBoundaryTimeMs, plannedFrameCount int64) (bool, error) {
	e.mu.Lock()
	if e.teardownPending {
		e.mu.Unlock()
		return false, errs.ErrTeardownPending
	}
	if e.sm.current() == StateFailedTerminal {
		e.mu.Unlock()
		return false, errs.ErrEngineTerminal
	}
	e.mu.Unlock()

	id := uuid.New()
	b := &boundary{
		id:                   id,
		assetPath:            assetPath,
		startOffsetMs:        startOffsetMs,
		hardStopTimeMs:       hardStopTimeMs,
		targetBoundaryTimeMs: targetBoundaryTimeMs,
		plannedFrameCount:    plannedFrameCount,
	}

	if err := e.sm.transitionTo(StateArmed); err != nil {
		return false, &errs.BoundaryError{Op: "LoadPreview", Err: err}
	}

	p := producer.NewFileProducer(producer.FileProducerConfig{
		Path:     assetPath,
		Logger:   e.logger,
		Admitter: e.controller,
		Sink:     e.ringBuf,
	})
	p.SetBarrier(true) // shadow decode: do not push until promoted

	if err := p.Start(); err != nil {
		e.sm.forceFailedTerminal()
		return false, &errs.BoundaryError{Op: "LoadPreview", Err: err}
	}
	if err := e.producers.LoadPreview(p); err != nil {
		e.sm.forceFailedTerminal()
		return false, &errs.BoundaryError{Op: "LoadPreview", Err: err}
	}

	e.mu.Lock()
	e.pendingBoundary = b
	e.mu.Unlock()

	if err := e.sm.transitionTo(StatePrefeedIssued); err != nil {
		e.sm.forceFailedTerminal()
		return false, &errs.BoundaryError{Op: "LoadPreview", Err: err}
	}

	if !e.checkFeasibility(targetBoundaryTimeMs) {
		e.mu.Lock()
		skip := !e.converged
		e.mu.Unlock()
		if !skip {
			e.sm.forceFailedTerminal()
			return true, &errs.BoundaryError{Op: "LoadPreview", Err: errors.New("boundary infeasible after convergence")}
		}
		e.logger.Info("playout engine: skipping infeasible boundary before convergence", slog.String("boundary_id", id.String()))
	}

	e.emitter.Emit(asrun.Event{Kind: asrun.EventSegmentStart, ChannelID: e.cfg.ChannelID, SegmentID: id})

	return true, nil
}

// checkFeasibility reports whether targetBoundaryTimeMs leaves at least
// MinPrefeedLeadTimeMs between now and the declared boundary.
func (e *PlayoutEngine) checkFeasibility(targetBoundaryTimeMs int64) bool {
	nowMs := e.clock.NowUTCUs() / 1000
	return targetBoundaryTimeMs-nowMs >= e.cfg.MinPrefeedLeadTimeMs
}

// UpdatePlan hot-swaps the target boundary time and planned frame count
// of the currently armed boundary without re-decoding the preview
// asset, per spec.md section 6's "optional/legacy hot-swap". It is a
// no-op error once SwitchToLive has scheduled the commit timer — at
// that point the deadline is authoritative and no longer editable.
func (e *PlayoutEngine) UpdatePlan(targetBoundaryTimeMs, plannedFrameCount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pendingBoundary == nil {
		return &errs.BoundaryError{Op: "UpdatePlan", Err: errors.New("no armed boundary")}
	}
	if state := e.sm.current(); state != StateArmed && state != StatePrefeedIssued {
		return &errs.BoundaryError{Op: "UpdatePlan", Err: fmt.Errorf("plan no longer editable in state %s", state)}
	}

	e.pendingBoundary.targetBoundaryTimeMs = targetBoundaryTimeMs
	e.pendingBoundary.plannedFrameCount = plannedFrameCount
	return nil
}

// SwitchToLive schedules the deadline-authoritative promotion of the
// armed boundary via time.AfterFunc, per the REDESIGN FLAG: the clock
// decides when to switch, not content readiness. Returns an error if no
// preview is loaded.
func (e *PlayoutEngine) SwitchToLive() error {
	if !e.producers.HasPreview() {
		return &errs.BoundaryError{Op: "SwitchToLive", Err: errs.ErrNoPreviewLoaded}
	}

	e.mu.Lock()
	b := e.pendingBoundary
	e.mu.Unlock()
	if b == nil {
		return &errs.BoundaryError{Op: "SwitchToLive", Err: errors.New("no armed boundary")}
	}

	if !e.sm.tryIssue(b.id.String()) {
		return nil // duplicate issuance suppressed, per spec.md's one-shot guard
	}
	if err := e.sm.transitionTo(StateSwitchScheduled); err != nil {
		e.sm.forceFailedTerminal()
		return &errs.BoundaryError{Op: "SwitchToLive", Err: err}
	}

	nowMs := e.clock.NowUTCUs() / 1000
	delay := time.Duration(b.targetBoundaryTimeMs-nowMs) * time.Millisecond
	if delay < 0 {
		delay = 0
	}

	e.mu.Lock()
	e.switchTimer = time.AfterFunc(delay, func() { e.commitSwitch(b) })
	e.mu.Unlock()

	return nil
}

// commitSwitch performs the actual preview-to-live promotion at the
// deadline the timer fired for. Any panic/exception here forces
// FAILED_TERMINAL per spec.md's issuance-exception invariant.
func (e *PlayoutEngine) commitSwitch(b *boundary) {
	defer func() {
		if r := recover(); r != nil {
			e.sm.forceFailedTerminal()
			e.logger.Error("playout engine: panic during boundary commit, forcing FAILED_TERMINAL",
				slog.Any("panic", r), slog.String("boundary_id", b.id.String()))
		}
	}()

	e.controller.BeginSegmentFromPreview()
	outgoing, err := e.producers.PromotePreviewToLive()
	if err != nil {
		e.sm.forceFailedTerminal()
		return
	}
	if outgoing != nil {
		if stopErr := outgoing.Stop(); stopErr != nil {
			e.logger.Warn("playout engine: error stopping outgoing producer after commit",
				slog.String("error", stopErr.Error()))
		}
	}

	if err := e.sm.transitionTo(StateLive); err != nil {
		e.sm.forceFailedTerminal()
		return
	}

	ctCursor := e.controller.CTCursor()

	e.mu.Lock()
	e.converged = true
	e.pendingBoundary = nil
	e.liveBoundary = b
	wasDeficit := e.deficitActive
	deficitStart := e.deficitStartCTUs
	e.deficitActive = false
	e.mu.Unlock()

	if wasDeficit {
		e.emitter.Emit(asrun.Event{
			Kind:       asrun.EventContentDeficitFillEnd,
			ChannelID:  e.cfg.ChannelID,
			SegmentID:  b.id,
			CTUs:       ctCursor,
			DurationMs: (ctCursor - deficitStart) / 1000,
		})
	}

	e.emitter.Emit(asrun.Event{
		Kind:          asrun.EventBoundaryStateTransition,
		ChannelID:     e.cfg.ChannelID,
		SegmentID:     b.id,
		CTUs:          ctCursor,
		PlannedCTUs:   b.targetBoundaryTimeMs * 1000,
		CommittedCTUs: ctCursor,
		Detail:        StateLive.String(),
	})

	e.runPostCommitTeardownIfPending()
}

// runDeficitWatcher polls the live producer for EOF while a boundary is
// outstanding, engaging the BlackFrameProducer failsafe the instant
// content is exhausted before its declared boundary, per spec.md
// section 4.6's "Deficit fill": the clock-driven switch is never
// delayed waiting for content, so a gap is filled rather than stalled.
// Runs for the engine's lifetime on its errgroup, exiting when the
// engine's context is cancelled (StopChannel/teardown).
func (e *PlayoutEngine) runDeficitWatcher() {
	ticker := time.NewTicker(e.deficitPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.grpCtx.Done():
			return
		case <-ticker.C:
			e.checkDeficit()
		}
	}
}

// checkDeficit engages the failsafe producer the first time it observes
// the live producer reporting EOF while a boundary is still outstanding
// (any state other than IDLE/LIVE/FAILED_TERMINAL), per spec.md
// section 4.1's "If frames_delivered < planned_frame_count: emit
// EARLY_EOF; notify engine OnProducerEarlyEOF". Idempotent: once
// deficitActive is set, repeated polls are no-ops until the boundary
// commits.
func (e *PlayoutEngine) checkDeficit() {
	switch e.sm.current() {
	case StateArmed, StatePrefeedIssued, StateSwitchScheduled:
	default:
		return
	}

	live, ok := e.producers.LiveProducer()
	if !ok {
		return
	}
	reporter, ok := live.(producer.EOFReporter)
	if !ok || !reporter.ReachedEOF() {
		return
	}

	e.mu.Lock()
	if e.deficitActive {
		e.mu.Unlock()
		return
	}
	e.deficitActive = true
	deficitStart := e.controller.CTCursor()
	e.deficitStartCTUs = deficitStart
	liveBoundary := e.liveBoundary
	e.mu.Unlock()

	segID := uuid.Nil
	if liveBoundary != nil {
		segID = liveBoundary.id
	}

	e.emitter.Emit(asrun.Event{Kind: asrun.EventEarlyEOF, ChannelID: e.cfg.ChannelID, SegmentID: segID, CTUs: deficitStart})

	pad := producer.NewBlackFrameProducer(producer.BlackFrameProducerConfig{
		Format:   e.cfg.Format,
		Admitter: &deficitAdmitter{ctrl: e.controller, ctStart: deficitStart},
		Sink:     e.ringBuf,
	})
	if err := pad.Start(); err != nil {
		e.logger.Error("playout engine: failed to start deficit-fill failsafe producer", slog.String("error", err.Error()))
		return
	}
	if _, err := e.producers.EngageFailsafe(pad); err != nil {
		e.logger.Error("playout engine: failed to engage deficit-fill failsafe producer", slog.String("error", err.Error()))
		return
	}

	e.emitter.Emit(asrun.Event{Kind: asrun.EventContentDeficitFillStart, ChannelID: e.cfg.ChannelID, SegmentID: segID, CTUs: deficitStart})
}

// deficitAdmitter wraps the engine's timeline.Controller so the
// failsafe pad producer's own independent media-time sequence (it has
// no real source asset, so it counts 0, period, 2*period, ...) is
// re-based onto the already-established segment mapping instead of
// being admitted against mt=0. Without this, the pad producer's first
// tick would compute a CT far behind ct_cursor and be rejected as
// RejectedLate every time (the mapping's mt_start belongs to the
// exhausted content producer, not to the pad producer's own clock).
type deficitAdmitter struct {
	ctrl    *timeline.Controller
	ctStart int64
}

// AdmitFrame re-bases the pad producer's self-relative mt (starting at
// 0) onto ct_start so its first admitted frame lands at ct_start, the
// channel time at which the deficit was detected, and every subsequent
// tick advances by exactly one frame period from there — continuing
// the channel's CT cursor rather than restarting it.
func (d *deficitAdmitter) AdmitFrame(mtUs int64) timeline.AdmissionResult {
	mapping, ok := d.ctrl.SegmentMapping()
	if !ok || mapping.IsPending() {
		return d.ctrl.AdmitFrame(mtUs)
	}
	rebased := mapping.MTStart() + (d.ctStart - mapping.CTStart()) + mtUs
	return d.ctrl.AdmitFrame(rebased)
}

// runPostCommitTeardownIfPending executes a deferred teardown the
// instant a stable state (LIVE here) is entered, per spec.md section
// 4.6.
func (e *PlayoutEngine) runPostCommitTeardownIfPending() {
	e.mu.Lock()
	pending := e.teardownPending
	reason := e.teardownReason
	e.mu.Unlock()
	if pending {
		e.doTeardown(reason)
	}
}

// RequestTeardown is idempotent; it executes immediately from a stable
// state (IDLE or LIVE) and defers otherwise, per spec.md section 4.6.
func (e *PlayoutEngine) RequestTeardown(reason string) {
	e.mu.Lock()
	e.teardownPending = true
	e.teardownReason = reason
	e.mu.Unlock()

	if e.sm.isStable() {
		e.doTeardown(reason)
		return
	}

	if e.sm.isTransient() {
		time.AfterFunc(e.cfg.TeardownGraceTimeout, func() {
			if e.sm.isTransient() {
				e.sm.forceFailedTerminal()
				e.logger.Warn("playout engine: teardown grace timeout exceeded, forcing FAILED_TERMINAL",
					slog.String("reason", reason))
				e.doTeardown(reason)
			}
		})
	}
}

func (e *PlayoutEngine) doTeardown(reason string) {
	e.mu.Lock()
	if e.switchTimer != nil {
		e.switchTimer.Stop()
	}
	e.cancel()
	e.mu.Unlock()

	e.pacerMu.Lock()
	p := e.pacer
	e.pacer = nil
	e.pacerMu.Unlock()
	if p != nil {
		p.Stop()
	}

	if err := e.producers.Close(); err != nil {
		e.logger.Warn("playout engine: error stopping producers during teardown", slog.String("error", err.Error()))
	}
	_ = e.sm.transitionTo(StateIdle)
	e.logger.Info("playout engine: teardown complete", slog.String("channel_id", e.cfg.ChannelID.String()), slog.String("reason", reason))
}

// StopChannel signals stop to every child goroutine and waits for the
// errgroup to drain within the teardown grace timeout, per spec.md
// section 5's cancellation contract.
func (e *PlayoutEngine) StopChannel() error {
	e.RequestTeardown("StopChannel")

	done := make(chan error, 1)
	go func() { done <- e.grp.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(e.cfg.TeardownGraceTimeout):
		return fmt.Errorf("stop channel: grace timeout exceeded")
	}
}

// IsLive reports whether the channel is currently in the LIVE boundary
// state — the sole liveness signal spec.md section 4.6 defines.
func (e *PlayoutEngine) IsLive() bool {
	return e.sm.current() == StateLive
}

// State returns the current BoundaryState.
func (e *PlayoutEngine) State() BoundaryState {
	return e.sm.current()
}

// AsRunEvents subscribes to the engine's as-run event stream.
func (e *PlayoutEngine) AsRunEvents(capacity int) <-chan asrun.Event {
	return e.emitter.Subscribe(capacity)
}

// Emitter returns the engine's underlying as-run Emitter, so a metrics
// recorder or other long-lived subscriber can attach without going
// through AsRunEvents' capacity-per-call Subscribe.
func (e *PlayoutEngine) Emitter() *asrun.Emitter {
	return e.emitter
}

// AttachSink wires sink as this channel's output destination: it builds
// a mux.Encoder/Pacer pair bound to the engine's ProgramFormat and
// starts the PCR-paced drain loop (spec.md section 4.7) on the
// engine's errgroup, so StopChannel's grp.Wait() also waits for the
// pacer to drain. Replaces any previously attached sink/pacer, stopping
// the old one first. Returns the attached Pacer so callers (e.g. a
// metrics scrape loop) can read StatsSnapshot.
func (e *PlayoutEngine) AttachSink(sink mux.OutputSink) *mux.Pacer {
	p := e.mustEncoderFor(sink)

	e.pacerMu.Lock()
	old := e.pacer
	e.pacer = p
	e.pacerMu.Unlock()

	if old != nil {
		old.Stop()
	}

	e.grp.Go(func() error {
		p.Run()
		return nil
	})
	return p
}

// mustEncoderFor builds a mux.Encoder bound to sink for this engine's
// program format. Exposed so control-surface wiring can attach a real
// output connection once one is available.
func (e *PlayoutEngine) mustEncoderFor(sink mux.OutputSink) *mux.Pacer {
	encCfg := e.cfg.MuxConfig
	encCfg.Logger = e.logger
	encCfg.Audio = e.cfg.Format.Audio
	enc := mux.NewEncoder(&sinkWriter{sink: sink}, encCfg)
	return mux.NewPacer(mux.PacerConfig{Logger: e.logger, Clock: e.clock, Encoder: enc, Sink: sink}, e.ringBuf)
}

// sinkWriter adapts an OutputSink to io.Writer for Encoder, which
// writes through a plain io.Writer boundary so it stays decoupled from
// the non-blocking-write concern OutputSink owns.
type sinkWriter struct{ sink mux.OutputSink }

func (w *sinkWriter) Write(p []byte) (int, error) { return w.sink.Write(p) }
