// Package engine implements PlayoutEngine and BoundaryStateMachine, the
// top-level owner of every other playout component, per spec.md
// sections 4.5/4.6. It is grounded on internal/relay/session.go's
// RelaySession (the teacher's single "owns everything for one logical
// stream" object) for lifecycle/ownership shape, and on
// internal/relay/circuit_breaker.go's field-plus-transitionTo state
// machine idiom for BoundaryStateMachine.
package engine

import (
	"fmt"
	"sync"
)

// BoundaryState is one state of the unidirectional boundary-switching
// state machine spec.md section 4.5 defines.
type BoundaryState int

const (
	StateIdle BoundaryState = iota
	StateArmed
	StatePrefeedIssued
	StateSwitchScheduled
	StateLive
	StateFailedTerminal
)

func (s BoundaryState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateArmed:
		return "ARMED"
	case StatePrefeedIssued:
		return "PREFEED_ISSUED"
	case StateSwitchScheduled:
		return "SWITCH_SCHEDULED"
	case StateLive:
		return "LIVE"
	case StateFailedTerminal:
		return "FAILED_TERMINAL"
	default:
		return "UNKNOWN"
	}
}

// isStable reports whether s is one of the two states
// request_teardown may execute immediately from (spec.md section 4.6).
func (s BoundaryState) isStable() bool {
	return s == StateIdle || s == StateLive
}

// isTransient reports whether s is one of the three states a pending
// teardown must wait out before executing (spec.md section 4.6).
func (s BoundaryState) isTransient() bool {
	return s == StateArmed || s == StatePrefeedIssued || s == StateSwitchScheduled
}

// validTransitions enumerates the unidirectional edges spec.md section
// 4.5 allows. LIVE -> IDLE is permitted once ("after the segment fully
// passes"); every other state is reachable from FAILED_TERMINAL by
// nothing — it is terminal.
var validTransitions = map[BoundaryState]map[BoundaryState]bool{
	StateIdle:            {StateArmed: true, StateFailedTerminal: true},
	StateArmed:           {StatePrefeedIssued: true, StateFailedTerminal: true},
	StatePrefeedIssued:   {StateSwitchScheduled: true, StateFailedTerminal: true},
	StateSwitchScheduled: {StateLive: true, StateFailedTerminal: true},
	StateLive:            {StateIdle: true, StateFailedTerminal: true},
	StateFailedTerminal:  {},
}

// boundaryStateMachine tracks a single channel's current BoundaryState
// and enforces the unidirectional transition table plus one-shot
// issuance per boundary, per spec.md's "exactly one issuance per
// boundary" invariant.
type boundaryStateMachine struct {
	mu          sync.Mutex
	state       BoundaryState
	issuedFor   map[string]bool // boundary id -> issuance recorded
}

func newBoundaryStateMachine() *boundaryStateMachine {
	return &boundaryStateMachine{state: StateIdle, issuedFor: make(map[string]bool)}
}

// current returns the machine's current state.
func (m *boundaryStateMachine) current() BoundaryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// transitionTo attempts to move to next, returning an error if the edge
// is not in validTransitions. Mirrors
// internal/relay/circuit_breaker.go's transitionTo: a single guarded
// mutation point other methods funnel through.
func (m *boundaryStateMachine) transitionTo(next BoundaryState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == next {
		return nil
	}
	if !validTransitions[m.state][next] {
		return fmt.Errorf("invalid boundary transition %s -> %s", m.state, next)
	}
	m.state = next
	return nil
}

// forceFailedTerminal unconditionally moves to FAILED_TERMINAL; called
// when an exception occurs during issuance, per spec.md's "exception
// during issuance forces FAILED_TERMINAL" invariant. Always succeeds,
// even from FAILED_TERMINAL itself (idempotent).
func (m *boundaryStateMachine) forceFailedTerminal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateFailedTerminal
}

// tryIssue records a one-shot issuance for boundaryID, returning false
// if it was already issued (spec.md's "duplicate issuance is suppressed
// by a one-shot guard keyed by boundary id").
func (m *boundaryStateMachine) tryIssue(boundaryID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.issuedFor[boundaryID] {
		return false
	}
	m.issuedFor[boundaryID] = true
	return true
}

// isStable/isTransient expose the current state's teardown category.
func (m *boundaryStateMachine) isStable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.isStable()
}

func (m *boundaryStateMachine) isTransient() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.isTransient()
}
