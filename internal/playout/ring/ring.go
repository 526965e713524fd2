// Package ring implements FrameRingBuffer: a bounded, slot-based SPSC
// queue of video and audio frames, per spec.md section 4.2. It is
// adapted from internal/relay/cyclic_buffer.go's CyclicBuffer (the
// teacher's multi-client byte-chunk ring buffer), narrowed to a single
// producer/single consumer frame queue with slot-based — not
// time/hysteresis-based — backpressure, and with independent video and
// audio queues coordinated so neither stream runs more than one frame
// ahead of the other.
package ring

import (
	"sync"

	"github.com/jmylchreest/tvarr/internal/playout/frame"
)

// Config configures a FrameRingBuffer's capacities.
type Config struct {
	VideoCapacity int
	AudioCapacity int
}

// DefaultConfig returns the capacities suggested by spec.md section 4.2:
// video around 60 frames, audio around a few hundred packets.
func DefaultConfig() Config {
	return Config{VideoCapacity: 60, AudioCapacity: 300}
}

// Stats is a point-in-time snapshot of buffer occupancy and drops,
// modeled on internal/relay/cyclic_buffer.go's CyclicBufferStats.
type Stats struct {
	VideoDepth    int
	VideoCapacity int
	AudioDepth    int
	AudioCapacity int
	VideoDropped  uint64
	AudioDropped  uint64
}

// FrameRingBuffer is a bounded, slot-based queue of video and audio
// frames shared between exactly one producer (writer) and one mux
// (reader) goroutine, per spec.md section 5. Push/pop never block; Push
// returns false (and the caller's decode gate blocks on that result)
// when the relevant queue is at capacity.
type FrameRingBuffer struct {
	cfg Config

	mu          sync.Mutex
	video       []*frame.Frame
	audio       []*frame.AudioFrame
	videoDrops  uint64
	audioDrops  uint64

	// notify wakes any goroutine blocked in WaitForSlot once a slot
	// frees, satisfying spec.md invariant 10 ("resumes within one
	// scheduler tick, no low-water mark").
	notify chan struct{}
}

// New creates a FrameRingBuffer with the given capacities.
func New(cfg Config) *FrameRingBuffer {
	return &FrameRingBuffer{
		cfg:    cfg,
		video:  make([]*frame.Frame, 0, cfg.VideoCapacity),
		audio:  make([]*frame.AudioFrame, 0, cfg.AudioCapacity),
		notify: make(chan struct{}, 1),
	}
}

func (r *FrameRingBuffer) wake() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// PushVideo attempts to enqueue a video frame. Returns false without
// blocking when the video queue is at capacity; the caller's decode
// gate should block and retry (or call WaitForSlot) rather than drop.
func (r *FrameRingBuffer) PushVideo(f *frame.Frame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.video) >= r.cfg.VideoCapacity {
		return false
	}
	r.video = append(r.video, f)
	r.wake()
	return true
}

// PushAudio attempts to enqueue an audio frame. Same non-blocking
// contract as PushVideo.
func (r *FrameRingBuffer) PushAudio(f *frame.AudioFrame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.audio) >= r.cfg.AudioCapacity {
		return false
	}
	r.audio = append(r.audio, f)
	r.wake()
	return true
}

// PopVideo dequeues the oldest video frame, if any.
func (r *FrameRingBuffer) PopVideo() (*frame.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.video) == 0 {
		return nil, false
	}
	f := r.video[0]
	r.video = r.video[1:]
	r.wake()
	return f, true
}

// PopAudio dequeues the oldest audio frame, if any.
func (r *FrameRingBuffer) PopAudio() (*frame.AudioFrame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.audio) == 0 {
		return nil, false
	}
	f := r.audio[0]
	r.audio = r.audio[1:]
	r.wake()
	return f, true
}

// PeekVideo returns the next video frame without dequeuing it.
func (r *FrameRingBuffer) PeekVideo() (*frame.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.video) == 0 {
		return nil, false
	}
	return r.video[0], true
}

// DropOldestVideo drops the oldest video frame under output backpressure
// (spec.md's "drop policy at output backpressure: on full, drop
// oldest"). Returns the dropped frame, if any, so the caller can release
// its pooled buffers.
func (r *FrameRingBuffer) DropOldestVideo() (*frame.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.video) == 0 {
		return nil, false
	}
	f := r.video[0]
	r.video = r.video[1:]
	r.videoDrops++
	return f, true
}

// DropOldestAudio drops the oldest audio frame under output backpressure.
func (r *FrameRingBuffer) DropOldestAudio() (*frame.AudioFrame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.audio) == 0 {
		return nil, false
	}
	f := r.audio[0]
	r.audio = r.audio[1:]
	r.audioDrops++
	return f, true
}

// VideoSize returns the current video queue depth.
func (r *FrameRingBuffer) VideoSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.video)
}

// AudioSize returns the current audio queue depth.
func (r *FrameRingBuffer) AudioSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.audio)
}

// VideoCapacity returns the configured video queue capacity.
func (r *FrameRingBuffer) VideoCapacity() int { return r.cfg.VideoCapacity }

// AudioCapacity returns the configured audio queue capacity.
func (r *FrameRingBuffer) AudioCapacity() int { return r.cfg.AudioCapacity }

// IsAVCoordinatedFull reports whether either stream is at capacity; per
// spec.md section 4.2, when either stream is at capacity both streams'
// decode gates must block so |audio_frames - video_frames| <= 1 frame
// equivalent holds.
func (r *FrameRingBuffer) IsAVCoordinatedFull() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.video) >= r.cfg.VideoCapacity || len(r.audio) >= r.cfg.AudioCapacity
}

// WaitForSlotChan returns the channel a decode gate should select on to
// wake immediately when a slot frees, without polling or a low-water
// mark.
func (r *FrameRingBuffer) WaitForSlotChan() <-chan struct{} {
	return r.notify
}

// Stats returns a point-in-time snapshot of buffer occupancy and drops.
func (r *FrameRingBuffer) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		VideoDepth:    len(r.video),
		VideoCapacity: r.cfg.VideoCapacity,
		AudioDepth:    len(r.audio),
		AudioCapacity: r.cfg.AudioCapacity,
		VideoDropped:  r.videoDrops,
		AudioDropped:  r.audioDrops,
	}
}
