// Package control implements the channel control surface named in
// spec.md section 6: StartChannel/LoadPreview/SwitchToLive/UpdatePlan/
// StopChannel/GetVersion, as a direct Go method-call boundary rather
// than a wire protocol — spec.md section 6 states "semantic shape, not
// wire." Grounded on internal/relay/manager.go's Manager: a
// sync.RWMutex-guarded map keyed by ID with get-or-create/close
// lifecycle methods, narrowed here from an arbitrary-cardinality
// session map to one *engine.PlayoutEngine per channel ID.
package control

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jmylchreest/tvarr/internal/playout/engine"
	"github.com/jmylchreest/tvarr/internal/playout/errs"
	"github.com/jmylchreest/tvarr/internal/playout/frame"
	"github.com/jmylchreest/tvarr/internal/playout/metrics"
	"github.com/jmylchreest/tvarr/internal/playout/mux"
)

// APIVersion is returned by GetVersion, the capability-discovery call
// spec.md section 6 names.
const APIVersion = "1.0.0"

// Response is the uniform result envelope spec.md section 6 specifies:
// "{success: bool, error_message: string}".
type Response struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func ok() Response { return Response{Success: true} }

func fail(err error) Response {
	return Response{Success: false, ErrorMessage: err.Error()}
}

// LoadPreviewRequest carries the parameters spec.md section 6's
// LoadPreview call takes: an asset reference plus the planned boundary.
type LoadPreviewRequest struct {
	ChannelID            uuid.UUID
	AssetPath            string
	StartOffsetMs        int64
	HardStopTimeMs       int64
	TargetBoundaryTimeMs int64
	PlannedFrameCount    int64
}

// UpdatePlanRequest carries the hot-swap fields spec.md section 6's
// UpdatePlan call accepts.
type UpdatePlanRequest struct {
	ChannelID            uuid.UUID
	TargetBoundaryTimeMs int64
	PlannedFrameCount    int64
}

// Manager owns one *engine.PlayoutEngine per active channel, keyed by
// channel ID, mirroring internal/relay/manager.go's Manager shape.
type Manager struct {
	metricsReg *metrics.Registry

	mu        sync.RWMutex
	channels  map[uuid.UUID]*engine.PlayoutEngine
	recorders map[uuid.UUID]*metrics.Recorder
}

// NewManager constructs an empty channel Manager. metricsReg may be nil,
// in which case no per-channel metrics.Recorder is attached.
func NewManager(metricsReg *metrics.Registry) *Manager {
	return &Manager{
		metricsReg: metricsReg,
		channels:   make(map[uuid.UUID]*engine.PlayoutEngine),
		recorders:  make(map[uuid.UUID]*metrics.Recorder),
	}
}

// StartChannel creates (or returns the existing) PlayoutEngine for
// channelID and brings its session online. Calling StartChannel twice
// for the same channel ID is idempotent: the existing engine is reused
// rather than replaced, matching the teacher's GetOrCreateSession
// pattern. When the Manager was constructed with a metrics registry, a
// metrics.Recorder is attached to the new engine's as-run event stream.
func (m *Manager) StartChannel(channelID uuid.UUID, format frame.ProgramFormat) Response {
	return m.StartChannelWithConfig(engine.DefaultConfig(channelID, format))
}

// StartChannelWithConfig is StartChannel for a caller that needs full
// control over engine.Config (e.g. a cmd entrypoint translating
// internal/config.PlayoutConfig into admission tolerances, ring
// capacities, and mux codec selection) rather than accepting
// engine.DefaultConfig's Open-Question defaults.
func (m *Manager) StartChannelWithConfig(cfg engine.Config) Response {
	channelID := cfg.ChannelID
	m.mu.Lock()
	e, exists := m.channels[channelID]
	if !exists {
		e = engine.New(cfg)
		m.channels[channelID] = e
		if m.metricsReg != nil {
			rec := metrics.NewRecorder(m.metricsReg, e.Emitter(), 64)
			m.recorders[channelID] = rec
			go rec.Run()
		}
	}
	m.mu.Unlock()

	if err := e.StartChannel(); err != nil {
		return fail(fmt.Errorf("start channel: %w", err))
	}
	return ok()
}

// LoadPreview arms the boundary named in req against channelID's
// engine. Returns an error if the channel has not been started, per
// spec.md section 6's "LoadPreview before StartChannel -> error" floor.
func (m *Manager) LoadPreview(req LoadPreviewRequest) Response {
	e, ok2 := m.get(req.ChannelID)
	if !ok2 {
		return fail(errs.ErrChannelNotStarted)
	}

	if _, err := e.LoadPreview(req.AssetPath, req.StartOffsetMs, req.HardStopTimeMs, req.TargetBoundaryTimeMs, req.PlannedFrameCount); err != nil {
		return fail(err)
	}
	return ok()
}

// SwitchToLive schedules the deadline-authoritative commit of the
// currently armed boundary. Returns an error if no preview is loaded,
// per spec.md section 6's "SwitchToLive with no preview -> error" floor.
func (m *Manager) SwitchToLive(channelID uuid.UUID) Response {
	e, ok2 := m.get(channelID)
	if !ok2 {
		return fail(errs.ErrChannelNotStarted)
	}

	if err := e.SwitchToLive(); err != nil {
		return fail(err)
	}
	return ok()
}

// UpdatePlan hot-swaps the armed boundary's target time/frame count,
// spec.md section 6's "optional/legacy hot-swap".
func (m *Manager) UpdatePlan(req UpdatePlanRequest) Response {
	e, ok2 := m.get(req.ChannelID)
	if !ok2 {
		return fail(errs.ErrChannelNotStarted)
	}

	if err := e.UpdatePlan(req.TargetBoundaryTimeMs, req.PlannedFrameCount); err != nil {
		return fail(err)
	}
	return ok()
}

// StopChannel idempotently tears down channelID's engine and removes
// it from the manager.
func (m *Manager) StopChannel(channelID uuid.UUID) Response {
	m.mu.Lock()
	e, exists := m.channels[channelID]
	rec, hasRec := m.recorders[channelID]
	if exists {
		delete(m.channels, channelID)
		delete(m.recorders, channelID)
	}
	m.mu.Unlock()

	if !exists {
		return ok() // idempotent: stopping an unknown channel is not an error
	}
	if hasRec {
		rec.Stop()
	}

	if err := e.StopChannel(); err != nil {
		return fail(fmt.Errorf("stop channel: %w", err))
	}
	return ok()
}

// GetVersion reports the control surface's API version, spec.md
// section 6's capability-discovery call.
func (m *Manager) GetVersion() string { return APIVersion }

// Engine returns the PlayoutEngine for channelID, if a session has been
// started for it. Exposed so a cmd entrypoint can attach Pacer/Encoder
// output wiring once a real sink connection is available.
func (m *Manager) Engine(channelID uuid.UUID) (*engine.PlayoutEngine, bool) {
	return m.get(channelID)
}

// AttachSink wires sink as channelID's output destination, starting its
// PCR-paced drain loop (spec.md section 4.7). Returns an error if the
// channel has not been started. Intended for a cmd entrypoint once a
// real TCP/unix-socket connection to a downstream consumer accepts.
func (m *Manager) AttachSink(channelID uuid.UUID, sink mux.OutputSink) error {
	e, ok := m.get(channelID)
	if !ok {
		return errs.ErrChannelNotStarted
	}
	e.AttachSink(sink)
	return nil
}

func (m *Manager) get(channelID uuid.UUID) (*engine.PlayoutEngine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.channels[channelID]
	return e, ok
}
