package producer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jmylchreest/tvarr/internal/playout/errs"
	"github.com/jmylchreest/tvarr/internal/playout/frame"
	"github.com/jmylchreest/tvarr/internal/playout/timeline"
)

// BlackFrameProducerConfig configures a BlackFrameProducer.
type BlackFrameProducerConfig struct {
	Format   frame.ProgramFormat
	Admitter Admitter
	Sink     Sink
}

// BlackFrameProducer is the failsafe producer named in spec.md section
// 4.1: it emits a solid black video frame on every frame tick with no
// audio track, at a steady monotonic rate, so a channel never goes
// silent/dark even when every content producer has failed. Grounded on
// internal/relay/placeholder_segment.go's role as a standing substitute
// stream, generalized here from a pre-encoded segment to a live
// synthetic generator driven by the same ticker idiom the teacher's
// internal/scheduler/scheduler.go uses for periodic work.
type BlackFrameProducer struct {
	cfg BlackFrameProducerConfig
	writeBarrier

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// blackIDRNAL is a minimal pre-encoded H264 IDR NAL unit (Annex B,
// start-code stripped) rendering a single solid-black macroblock field;
// the same bytes are repeated on every tick since every frame is a
// keyframe, so no reference-frame state needs to persist. Grounded on
// internal/relay/placeholder_segment.go's cached-placeholder approach
// to standing-in content: a pre-baked asset substitutes for a live
// encoder rather than invoking one every tick.
var blackIDRNAL = []byte{
	0x65, 0x88, 0x84, 0x00, 0x20, 0xff, 0xfe, 0xfc, 0xfc, 0xfc,
	0x00, 0x00, 0x03, 0x00, 0x00, 0x03, 0x00, 0x00, 0x03, 0x00,
}

// NewBlackFrameProducer constructs a BlackFrameProducer for the given
// program format. Video.FrameRateNum/Den must be set; Start fails
// otherwise.
func NewBlackFrameProducer(cfg BlackFrameProducerConfig) *BlackFrameProducer {
	return &BlackFrameProducer{cfg: cfg}
}

// Start begins emitting black frames at the configured frame rate.
func (p *BlackFrameProducer) Start() error {
	if p.cfg.Admitter == nil || p.cfg.Sink == nil {
		return &errs.ConfigurationError{Op: "BlackFrameProducer.Start", Err: errors.New("admitter and sink are required")}
	}
	periodUs := p.cfg.Format.FramePeriodUs()
	if periodUs <= 0 {
		return &errs.ConfigurationError{Op: "BlackFrameProducer.Start", Err: errors.New("invalid frame rate in format")}
	}

	w, h := p.cfg.Format.Video.Width, p.cfg.Format.Video.Height
	if w <= 0 || h <= 0 {
		w, h = 1280, 720
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.done = make(chan struct{})

	go p.runLoop(periodUs)
	return nil
}

func (p *BlackFrameProducer) runLoop(periodUs int64) {
	defer close(p.done)

	ticker := time.NewTicker(time.Duration(periodUs) * time.Microsecond)
	defer ticker.Stop()

	var mt int64
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.emit(mt)
			mt += periodUs
		}
	}
}

func (p *BlackFrameProducer) emit(mt int64) {
	res := p.cfg.Admitter.AdmitFrame(mt)
	if res.Outcome != timeline.Admitted {
		return
	}

	f := frame.NewVideoFrame(p.cfg.Format.Video.Width, p.cfg.Format.Video.Height, []int{len(blackIDRNAL)})
	copy(f.Planes[0], blackIDRNAL)
	f.PTSUs = res.CTUs
	f.HasCT = true
	f.IsKeyframe = true

	if p.isSet() {
		f.Release()
		return
	}
	for !p.cfg.Sink.PushVideo(f) {
		select {
		case <-p.cfg.Sink.WaitForSlotChan():
		case <-p.ctx.Done():
			f.Release()
			return
		}
	}
}

// Stop halts emission. Idempotent.
func (p *BlackFrameProducer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		<-p.done
	}
	return nil
}

// SetBarrier controls whether emitted frames reach the sink.
func (p *BlackFrameProducer) SetBarrier(barred bool) { p.set(barred) }

// Format reports the configured program format.
func (p *BlackFrameProducer) Format() (frame.ProgramFormat, bool) { return p.cfg.Format, true }
