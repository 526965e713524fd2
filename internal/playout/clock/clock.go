// Package clock provides the MasterClock abstraction: a monotonic
// wall-clock with a per-channel epoch settable exactly once, per
// spec.md section 4.1. Two implementations are provided: a real
// monotonic clock for production and a deterministic fake clock that
// makes the entire playout core replay-deterministic in tests.
package clock

import (
	"sync/atomic"
	"time"
)

// Role identifies which producer role is attempting to set the epoch.
// Only LIVE producers may set the epoch; PREVIEW is always rejected.
type Role int

const (
	// RolePreview is rejected by TrySetEpochOnce.
	RolePreview Role = iota
	// RoleLive is the only role allowed to set the epoch.
	RoleLive
)

// Clock is the interface both the real and fake clocks satisfy.
type Clock interface {
	// NowUTCUs returns the current wall-clock time in microseconds since
	// the Unix epoch.
	NowUTCUs() int64
	// ScheduledToUTCUs converts a channel-time offset to an absolute
	// wall-clock instant: epoch + pts.
	ScheduledToUTCUs(ptsUs int64) int64
	// IsFake reports whether this is the deterministic test clock.
	IsFake() bool
	// TrySetEpochOnce sets the epoch exactly once per session. Returns
	// false if the epoch was already set this session, or if role is
	// RolePreview.
	TrySetEpochOnce(epochUs int64, role Role) bool
	// GetEpoch returns the current epoch, or (0, false) if unset.
	GetEpoch() (int64, bool)
	// IsEpochLocked reports whether the epoch has been set this session.
	IsEpochLocked() bool
	// ResetForNewSession clears the epoch so it may be set again.
	ResetForNewSession()
}

// MasterClock is the real, monotonic wall-clock implementation.
//
// The epoch is guarded by a CAS-style "set once" flag: epochSet flips
// from 0 to 1 exactly once via atomic.CompareAndSwap, after which
// epochUs is immutable until ResetForNewSession.
type MasterClock struct {
	epochUs  atomic.Int64
	epochSet atomic.Bool
}

// NewMasterClock creates a new real-time MasterClock with no epoch set.
func NewMasterClock() *MasterClock {
	return &MasterClock{}
}

// NowUTCUs returns the current wall-clock time in microseconds.
func (c *MasterClock) NowUTCUs() int64 {
	return time.Now().UnixMicro()
}

// ScheduledToUTCUs returns epoch + pts. Callers must check IsEpochLocked
// first if they need to distinguish "epoch unset" from "epoch is zero".
func (c *MasterClock) ScheduledToUTCUs(ptsUs int64) int64 {
	return c.epochUs.Load() + ptsUs
}

// IsFake always returns false for the real clock.
func (c *MasterClock) IsFake() bool { return false }

// TrySetEpochOnce sets the epoch exactly once. PREVIEW role is always
// rejected regardless of current state.
func (c *MasterClock) TrySetEpochOnce(epochUs int64, role Role) bool {
	if role != RoleLive {
		return false
	}
	if !c.epochSet.CompareAndSwap(false, true) {
		return false
	}
	c.epochUs.Store(epochUs)
	return true
}

// GetEpoch returns the current epoch and whether it has been set.
func (c *MasterClock) GetEpoch() (int64, bool) {
	if !c.epochSet.Load() {
		return 0, false
	}
	return c.epochUs.Load(), true
}

// IsEpochLocked reports whether the epoch has been set this session.
func (c *MasterClock) IsEpochLocked() bool {
	return c.epochSet.Load()
}

// ResetForNewSession clears the epoch, allowing it to be set again for a
// fresh session (e.g. after StopChannel followed by StartChannel).
func (c *MasterClock) ResetForNewSession() {
	c.epochSet.Store(false)
	c.epochUs.Store(0)
}

// FakeClock is a deterministic clock for tests: time only advances when
// Advance or SetNow is called explicitly.
type FakeClock struct {
	nowUs    atomic.Int64
	epochUs  atomic.Int64
	epochSet atomic.Bool
}

// NewFakeClock creates a deterministic clock starting at the given
// wall-clock time (microseconds since Unix epoch).
func NewFakeClock(startUs int64) *FakeClock {
	fc := &FakeClock{}
	fc.nowUs.Store(startUs)
	return fc
}

// NowUTCUs returns the clock's current simulated time.
func (c *FakeClock) NowUTCUs() int64 { return c.nowUs.Load() }

// ScheduledToUTCUs returns epoch + pts.
func (c *FakeClock) ScheduledToUTCUs(ptsUs int64) int64 {
	return c.epochUs.Load() + ptsUs
}

// IsFake always returns true.
func (c *FakeClock) IsFake() bool { return true }

// Advance moves the simulated clock forward by deltaUs microseconds.
// deltaUs must be non-negative; callers needing to rewind should use
// SetNow explicitly (intended only for test setup, not steady-state use).
func (c *FakeClock) Advance(deltaUs int64) {
	if deltaUs < 0 {
		deltaUs = 0
	}
	c.nowUs.Add(deltaUs)
}

// SetNow pins the simulated clock to an absolute wall-clock instant.
func (c *FakeClock) SetNow(utcUs int64) {
	c.nowUs.Store(utcUs)
}

// TrySetEpochOnce sets the epoch exactly once; PREVIEW role is rejected.
func (c *FakeClock) TrySetEpochOnce(epochUs int64, role Role) bool {
	if role != RoleLive {
		return false
	}
	if !c.epochSet.CompareAndSwap(false, true) {
		return false
	}
	c.epochUs.Store(epochUs)
	return true
}

// GetEpoch returns the current epoch and whether it has been set.
func (c *FakeClock) GetEpoch() (int64, bool) {
	if !c.epochSet.Load() {
		return 0, false
	}
	return c.epochUs.Load(), true
}

// IsEpochLocked reports whether the epoch has been set this session.
func (c *FakeClock) IsEpochLocked() bool { return c.epochSet.Load() }

// ResetForNewSession clears the epoch for a fresh session.
func (c *FakeClock) ResetForNewSession() {
	c.epochSet.Store(false)
	c.epochUs.Store(0)
}

var _ Clock = (*MasterClock)(nil)
var _ Clock = (*FakeClock)(nil)
