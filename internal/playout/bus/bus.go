// Package bus implements ProducerBus: the two-slot preview/live
// producer holder described in spec.md section 4.4. It is grounded on
// internal/relay/manager.go's Manager — a mutex-guarded map keyed by
// session ID with a short critical-section pattern for
// get-or-create/swap operations — narrowed from an arbitrary-cardinality
// session map to exactly two named slots (preview, live).
package bus

import (
	"sync"

	"github.com/jmylchreest/tvarr/internal/playout/errs"
	"github.com/jmylchreest/tvarr/internal/playout/producer"
)

// ProducerBus holds at most one preview producer and exactly one live
// producer (once a channel has started), and promotes preview to live
// under a short critical section so the mux never observes a state with
// neither or both pointing at the same stale producer.
type ProducerBus struct {
	mu      sync.Mutex
	preview producer.Producer
	live    producer.Producer
}

// New creates an empty ProducerBus.
func New() *ProducerBus {
	return &ProducerBus{}
}

// LoadPreview installs p as the preview producer, replacing and
// stopping any existing preview producer. Does not touch live.
func (b *ProducerBus) LoadPreview(p producer.Producer) error {
	b.mu.Lock()
	old := b.preview
	b.preview = p
	b.mu.Unlock()

	if old != nil {
		return old.Stop()
	}
	return nil
}

// ClearPreview stops and removes the current preview producer, if any.
func (b *ProducerBus) ClearPreview() error {
	b.mu.Lock()
	old := b.preview
	b.preview = nil
	b.mu.Unlock()

	if old != nil {
		return old.Stop()
	}
	return nil
}

// PromotePreviewToLive atomically swaps preview into the live slot.
// Before the swap it sets a write barrier on the outgoing live producer
// so it stops pushing frames while its Stop teardown runs in the
// background — per spec.md's "set barrier before swap, teardown
// follows" ordering, which avoids a window where two producers both
// push into the ring buffer. Returns an error if no preview producer is
// loaded.
func (b *ProducerBus) PromotePreviewToLive() (producer.Producer, error) {
	b.mu.Lock()
	if b.preview == nil {
		b.mu.Unlock()
		return nil, errs.ErrNoPreviewLoaded
	}

	outgoing := b.live
	incoming := b.preview

	if outgoing != nil {
		outgoing.SetBarrier(true)
	}

	b.live = incoming
	b.preview = nil
	b.mu.Unlock()

	return outgoing, nil
}

// EngageFailsafe swaps p directly into the live slot without touching
// preview, for the dead-man fallback spec.md section 4.4 describes:
// "the engine switches to it when the live producer underruns... no
// explicit command is required from the scheduler to engage it
// (switching back does require one)". The outgoing live producer is
// barred first so it stops mutating shared state, then stopped; per
// spec.md section 4.1 the content producer "stays alive until explicit
// stop" only in the steady (non-deficit) EOF case — here the engine
// itself is the one deciding to stop it, since it has been replaced.
func (b *ProducerBus) EngageFailsafe(p producer.Producer) (producer.Producer, error) {
	b.mu.Lock()
	outgoing := b.live
	if outgoing != nil {
		outgoing.SetBarrier(true)
	}
	b.live = p
	b.mu.Unlock()

	if outgoing != nil {
		return outgoing, outgoing.Stop()
	}
	return nil, nil
}

// LiveProducer returns the current live producer, if any.
func (b *ProducerBus) LiveProducer() (producer.Producer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live, b.live != nil
}

// PreviewProducer returns the current preview producer, if any.
func (b *ProducerBus) PreviewProducer() (producer.Producer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.preview, b.preview != nil
}

// HasPreview reports whether a preview producer is currently loaded,
// the feasibility gate spec.md requires before arming a switch.
func (b *ProducerBus) HasPreview() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.preview != nil
}

// Close stops both slots' producers. Used during channel teardown.
func (b *ProducerBus) Close() error {
	b.mu.Lock()
	preview, live := b.preview, b.live
	b.preview, b.live = nil, nil
	b.mu.Unlock()

	var firstErr error
	if preview != nil {
		if err := preview.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if live != nil {
		if err := live.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
