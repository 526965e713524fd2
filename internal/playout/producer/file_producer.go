package producer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/tvarr/internal/playout/errs"
	"github.com/jmylchreest/tvarr/internal/playout/frame"
	"github.com/jmylchreest/tvarr/internal/playout/timeline"
)

// FileProducerConfig configures a FileProducer.
type FileProducerConfig struct {
	Path   string
	Logger *slog.Logger
	// Admitter stamps CT onto each decoded access unit's MT. Nil panics
	// at Start.
	Admitter Admitter
	// Sink receives frames that pass admission and are not barred.
	Sink Sink
}

// FileProducer decodes a pre-muxed MPEG-TS asset from disk and submits
// its access units for admission, per spec.md section 4.1. Modeled on
// internal/relay/ts_demuxer.go's TSDemuxer: a mediacommon mpegts.Reader
// driven by a background goroutine, with one callback registered per
// discovered track.
type FileProducer struct {
	cfg FileProducerConfig
	writeBarrier

	mu         sync.Mutex
	file       *os.File
	reader     *mpegts.Reader
	format     frame.ProgramFormat
	formatOK   atomic.Bool
	audioKind  audioCodecKind

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	hitEOF   atomic.Bool
	startErr error
}

type audioCodecKind int

const (
	audioNone audioCodecKind = iota
	audioAAC
	audioAC3
	audioEAC3
	audioMP3
	audioOpus
)

// NewFileProducer constructs a FileProducer bound to an on-disk asset.
func NewFileProducer(cfg FileProducerConfig) *FileProducer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &FileProducer{cfg: cfg}
}

// Start opens the asset, probes its tracks, and begins the decode loop
// on a background goroutine. Returns once track discovery has completed
// (or failed), matching spec.md's "producer init must fail fast on an
// unsupported signal" requirement.
func (p *FileProducer) Start() error {
	if p.cfg.Admitter == nil || p.cfg.Sink == nil {
		return &errs.ConfigurationError{Op: "FileProducer.Start", Err: errors.New("admitter and sink are required")}
	}

	f, err := os.Open(p.cfg.Path)
	if err != nil {
		return &errs.ConfigurationError{Op: "FileProducer.Start", Err: fmt.Errorf("open %s: %w", p.cfg.Path, err)}
	}
	p.file = f

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.done = make(chan struct{})

	p.reader = &mpegts.Reader{R: f}
	if err := p.reader.Initialize(); err != nil {
		_ = f.Close()
		return &errs.DecodeError{Op: "FileProducer.Start", Err: fmt.Errorf("initialize mpegts reader: %w", err)}
	}

	for _, track := range p.reader.Tracks() {
		if err := p.setupTrack(track); err != nil {
			_ = f.Close()
			return err
		}
	}
	if !p.formatOK.Load() {
		_ = f.Close()
		return &errs.ConfigurationError{Op: "FileProducer.Start", Err: errors.New("no video track discovered")}
	}

	p.reader.OnDecodeError(func(err error) {
		p.cfg.Logger.Debug("file producer decode error", slog.String("path", p.cfg.Path), slog.String("error", err.Error()))
	})

	go p.runLoop()
	return nil
}

func (p *FileProducer) setupTrack(track *mpegts.Track) error {
	switch codec := track.Codec.(type) {
	case *mpegts.CodecH264:
		p.format.Video = frame.VideoFormat{FrameRateNum: 30, FrameRateDen: 1}
		p.formatOK.Store(true)
		p.reader.OnDataH264(track, func(pts, dts int64, au [][]byte) error {
			return p.handleVideoAU(pts, dts, au)
		})
	case *mpegts.CodecH265:
		p.format.Video = frame.VideoFormat{FrameRateNum: 30, FrameRateDen: 1}
		p.formatOK.Store(true)
		p.reader.OnDataH265(track, func(pts, dts int64, au [][]byte) error {
			return p.handleVideoAU(pts, dts, au)
		})
	case *mpegts.CodecMPEG4Audio:
		sr := codec.Config.SampleRate
		if sr <= 0 {
			sr = 48000
		}
		p.format.Audio = frame.AudioFormat{SampleRate: sr, Channels: codec.Config.ChannelCount}
		p.audioKind = audioAAC
		p.reader.OnDataMPEG4Audio(track, func(pts int64, aus [][]byte) error {
			return p.handleAudioAUs(pts, aus, sr, codec.Config.ChannelCount)
		})
	case *mpegts.CodecAC3:
		p.format.Audio = frame.AudioFormat{SampleRate: codec.SampleRate, Channels: codec.ChannelCount}
		p.audioKind = audioAC3
		p.reader.OnDataAC3(track, func(pts int64, fr []byte) error {
			return p.handleAudioAUs(pts, [][]byte{fr}, codec.SampleRate, codec.ChannelCount)
		})
	case *mpegts.CodecEAC3:
		p.format.Audio = frame.AudioFormat{SampleRate: codec.SampleRate, Channels: codec.ChannelCount}
		p.audioKind = audioEAC3
		p.reader.OnDataEAC3(track, func(pts int64, fr []byte) error {
			return p.handleAudioAUs(pts, [][]byte{fr}, codec.SampleRate, codec.ChannelCount)
		})
	default:
		// mpeg1audio, opus, and any other codec mediacommon exposes: not
		// part of spec.md's S16/FLTP supported-audio-formats decision
		// (see DESIGN.md); reject rather than silently drop the track.
		return &errs.ConfigurationError{Op: "FileProducer.setupTrack", Err: fmt.Errorf("unsupported track codec %T", codec)}
	}
	return nil
}

func (p *FileProducer) handleVideoAU(pts, dts int64, au [][]byte) error {
	sizes := make([]int, len(au))
	for i, nal := range au {
		sizes[i] = len(nal)
	}
	f := frame.NewVideoFrame(0, 0, sizes)
	for i, nal := range au {
		copy(f.Planes[i], nal)
	}
	f.PTSUs = ptsFrom90kHz(pts)
	f.DTSUs = ptsFrom90kHz(dts)
	f.IsKeyframe = isKeyframeAU(au)
	p.submitVideo(f)
	return nil
}

// isKeyframeAU is a best-effort H264 IDR check used only to decide
// whether to prepend parameter sets at mux time, not for admission.
// H265 streams are treated as non-keyframe here; the mux package
// re-derives keyframe status from the codec-specific NAL types it
// already parses for parameter-set handling.
func isKeyframeAU(au [][]byte) bool {
	for _, nal := range au {
		if len(nal) == 0 {
			continue
		}
		if h264.NALUType(nal[0]&0x1F) == h264.NALUTypeIDR {
			return true
		}
	}
	return false
}

func (p *FileProducer) handleAudioAUs(pts int64, aus [][]byte, sampleRate, channels int) error {
	for i, au := range aus {
		f := frame.NewAudioFrame(sampleRate, channels, len(au)/max(1, channels*2), frame.SampleFormatS16)
		copy(f.Samples, au)
		f.PTSUs = ptsFrom90kHz(pts) + int64(i)*1000
		p.submitAudio(f)
	}
	return nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func ptsFrom90kHz(ticks int64) int64 {
	return ticks * 1_000_000 / 90_000
}

func (p *FileProducer) submitVideo(f *frame.Frame) {
	res := p.cfg.Admitter.AdmitFrame(f.PTSUs)
	if res.Outcome != timeline.Admitted {
		f.Release()
		return
	}
	f.HasCT = true
	f.PTSUs = res.CTUs
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

func (p *FileProducer) submitAudio(f *frame.AudioFrame) {
	res := p.cfg.Admitter.AdmitFrame(f.PTSUs)
	if res.Outcome != timeline.Admitted {
		f.Release()
		return
	}
	f.HasCT = true
	f.PTSUs = res.CTUs
	if p.isSet() {
		f.Release()
		return
	}
	for !p.cfg.Sink.PushAudio(f) {
		select {
		case <-p.cfg.Sink.WaitForSlotChan():
		case <-p.ctx.Done():
			f.Release()
			return
		}
	}
}

func (p *FileProducer) runLoop() {
	defer close(p.done)
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}
		if err := p.reader.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				p.hitEOF.Store(true)
				p.cfg.Logger.Debug("file producer reached end of asset", slog.String("path", p.cfg.Path))
				return
			}
			p.cfg.Logger.Info("file producer read error", slog.String("path", p.cfg.Path), slog.String("error", err.Error()))
			return
		}
	}
}

// Stop halts decoding and closes the underlying file. Idempotent.
func (p *FileProducer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		<-p.done
	}
	if p.file != nil {
		err := p.file.Close()
		p.file = nil
		return err
	}
	return nil
}

// SetBarrier controls whether decoded frames reach the sink. Decoding
// continues regardless, keeping decoder state warm for an instant
// promotion (spec.md's shadow-decode requirement).
func (p *FileProducer) SetBarrier(barred bool) { p.set(barred) }

// ReachedEOF reports whether the asset has been fully decoded, the
// trigger for spec.md's EARLY_EOF / content-deficit handling.
func (p *FileProducer) ReachedEOF() bool { return p.hitEOF.Load() }

// Format reports the discovered program format. Valid only once Start
// has returned successfully.
func (p *FileProducer) Format() (frame.ProgramFormat, bool) {
	return p.format, p.formatOK.Load()
}
