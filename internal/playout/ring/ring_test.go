package ring

import (
	"testing"

	"github.com/jmylchreest/tvarr/internal/playout/frame"
)

func TestPushPopVideo_FIFO(t *testing.T) {
	r := New(Config{VideoCapacity: 4, AudioCapacity: 4})

	for i := 0; i < 3; i++ {
		f := frame.NewVideoFrame(1, 1, []int{1})
		f.PTSUs = int64(i)
		if !r.PushVideo(f) {
			t.Fatalf("push %d: expected success", i)
		}
	}

	for i := 0; i < 3; i++ {
		f, ok := r.PopVideo()
		if !ok {
			t.Fatalf("pop %d: expected a frame", i)
		}
		if f.PTSUs != int64(i) {
			t.Fatalf("pop %d: PTS = %d, want %d (FIFO order)", i, f.PTSUs, i)
		}
	}

	if _, ok := r.PopVideo(); ok {
		t.Fatal("expected empty queue")
	}
}

// TestPushVideo_BackpressureAtCapacity verifies slot-based backpressure:
// Push fails the instant the queue hits capacity, with no hysteresis
// window before it resumes accepting pushes.
func TestPushVideo_BackpressureAtCapacity(t *testing.T) {
	r := New(Config{VideoCapacity: 2, AudioCapacity: 2})

	if !r.PushVideo(frame.NewVideoFrame(1, 1, []int{1})) {
		t.Fatal("push 1: expected success")
	}
	if !r.PushVideo(frame.NewVideoFrame(1, 1, []int{1})) {
		t.Fatal("push 2: expected success")
	}
	if r.PushVideo(frame.NewVideoFrame(1, 1, []int{1})) {
		t.Fatal("push 3: expected failure at capacity")
	}

	// A single pop must immediately free exactly one slot — no low-water
	// mark, no waiting for the queue to drain further.
	if _, ok := r.PopVideo(); !ok {
		t.Fatal("expected a frame to pop")
	}
	if !r.PushVideo(frame.NewVideoFrame(1, 1, []int{1})) {
		t.Fatal("push after single pop: expected success immediately")
	}
}

func TestDropOldestVideo_IncrementsStats(t *testing.T) {
	r := New(Config{VideoCapacity: 2, AudioCapacity: 2})
	r.PushVideo(frame.NewVideoFrame(1, 1, []int{1}))
	r.PushVideo(frame.NewVideoFrame(1, 1, []int{1}))

	dropped, ok := r.DropOldestVideo()
	if !ok || dropped == nil {
		t.Fatal("expected a dropped frame")
	}
	stats := r.Stats()
	if stats.VideoDropped != 1 {
		t.Fatalf("VideoDropped = %d, want 1", stats.VideoDropped)
	}
	if stats.VideoDepth != 1 {
		t.Fatalf("VideoDepth = %d, want 1", stats.VideoDepth)
	}
}

func TestIsAVCoordinatedFull(t *testing.T) {
	r := New(Config{VideoCapacity: 1, AudioCapacity: 4})
	if r.IsAVCoordinatedFull() {
		t.Fatal("empty buffer should not report full")
	}
	r.PushVideo(frame.NewVideoFrame(1, 1, []int{1}))
	if !r.IsAVCoordinatedFull() {
		t.Fatal("video at capacity should report coordinated full, gating audio too")
	}
}

func TestWaitForSlotChan_WakesOnPop(t *testing.T) {
	r := New(Config{VideoCapacity: 1, AudioCapacity: 1})
	r.PushVideo(frame.NewVideoFrame(1, 1, []int{1}))

	ch := r.WaitForSlotChan()
	select {
	case <-ch:
		t.Fatal("should not be woken before any pop")
	default:
	}

	r.PopVideo()
	select {
	case <-ch:
	default:
		t.Fatal("expected wake notification after pop freed a slot")
	}
}

func TestAudioQueue_IndependentOfVideo(t *testing.T) {
	r := New(Config{VideoCapacity: 2, AudioCapacity: 2})
	a := frame.NewAudioFrame(48000, 2, 1024, frame.SampleFormatS16)
	if !r.PushAudio(a) {
		t.Fatal("expected audio push success")
	}
	if r.VideoSize() != 0 {
		t.Fatalf("VideoSize = %d, want 0 (independent queues)", r.VideoSize())
	}
	if r.AudioSize() != 1 {
		t.Fatalf("AudioSize = %d, want 1", r.AudioSize())
	}
}
