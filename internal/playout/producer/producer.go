// Package producer implements spec.md section 4.1's Producer role:
// components that decode source media into frame.Frame/AudioFrame
// values and submit them for admission. It is grounded on
// internal/relay/ts_demuxer.go's TSDemuxer (a mediacommon-backed MPEG-TS
// reader wired to per-codec sample callbacks), adapted from a
// relay-to-SharedESBuffer pipeline into a playout source that submits
// every decoded access unit to a TimelineController for CT admission
// before handing it to a ring buffer.
package producer

import (
	"sync/atomic"

	"github.com/jmylchreest/tvarr/internal/playout/frame"
	"github.com/jmylchreest/tvarr/internal/playout/timeline"
)

// Admitter is the subset of *timeline.Controller a Producer depends on.
// Narrowed to an interface so BlackFrameProducer and tests can supply a
// stub without importing the concrete controller.
type Admitter interface {
	AdmitFrame(mtUs int64) timeline.AdmissionResult
}

// Sink receives admitted frames. *ring.FrameRingBuffer satisfies this.
type Sink interface {
	PushVideo(f *frame.Frame) bool
	PushAudio(f *frame.AudioFrame) bool
	WaitForSlotChan() <-chan struct{}
}

// EOFReporter is implemented by producers that can exhaust their
// source (FileProducer) and need to signal it so the engine can engage
// content-deficit fill. BlackFrameProducer deliberately does not
// implement it: the failsafe has no source to exhaust.
type EOFReporter interface {
	// ReachedEOF reports whether the producer has fully decoded its
	// source, the trigger for spec.md section 4.1's EARLY_EOF /
	// content-deficit handling.
	ReachedEOF() bool
}

// Producer is any component that decodes source media and drives it
// through a TimelineController into a Sink. FileProducer and
// BlackFrameProducer are the two implementations spec.md names.
type Producer interface {
	// Start begins decoding; it runs until Stop is called or the source
	// is exhausted. Start must not block the caller — implementations
	// run their decode loop on an internal goroutine.
	Start() error
	// Stop halts decoding and releases any held resources. Idempotent.
	Stop() error
	// SetBarrier controls whether decoded frames are pushed to the
	// sink. When barred, decoding continues (keeping decoder state
	// warm for an instant promotion) but frames are silently dropped
	// rather than pushed, per spec.md's shadow-decode write barrier.
	SetBarrier(barred bool)
	// Format reports the format the producer decodes into. Valid only
	// after Start's track discovery has completed.
	Format() (frame.ProgramFormat, bool)
}

// writeBarrier is a small atomic gate shared by both producer
// implementations, keeping the barred-vs-active check lock-free on the
// decode hot path.
type writeBarrier struct {
	barred atomic.Bool
}

func (b *writeBarrier) set(v bool)  { b.barred.Store(v) }
func (b *writeBarrier) isSet() bool { return b.barred.Load() }

var (
	_ Producer    = (*FileProducer)(nil)
	_ Producer    = (*BlackFrameProducer)(nil)
	_ EOFReporter = (*FileProducer)(nil)
)
