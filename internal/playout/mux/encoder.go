// Package mux implements the PCR-paced Mux/Output Sink described in
// spec.md section 4.7: it drains the ring buffer at a wall-clock-paced
// cadence and re-muxes admitted frames into an MPEG-TS elementary
// stream, writing to a sink that never blocks the pacing loop. Encoder
// is adapted directly from internal/relay/ts_muxer.go's TSMuxer: same
// mediacommon mpegts.Writer wrapping, same per-codec track/write
// dispatch, narrowed to the two codecs the timeline/frame packages
// already assume (H264 video, AAC/AC3/EAC3 audio) and driven by
// frame.Frame/AudioFrame instead of raw byte/PTS parameters.
package mux

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/tvarr/internal/playout/frame"
)

// Codec pin identifiers for the two PIDs this encoder always allocates,
// mirroring internal/relay/ts_muxer.go's TSVideoPID/TSAudioPID.
const (
	VideoPID uint16 = 0x0100
	AudioPID uint16 = 0x0101
)

// AudioCodec identifies which mpegts audio codec track to create.
type AudioCodec int

const (
	AudioCodecAAC AudioCodec = iota
	AudioCodecAC3
	AudioCodecEAC3
)

// EncoderConfig configures an Encoder.
type EncoderConfig struct {
	Logger     *slog.Logger
	VideoH265  bool
	AudioCodec AudioCodec
	AACConfig  *mpeg4audio.AudioSpecificConfig
	Audio      frame.AudioFormat
}

// Encoder wraps a mediacommon mpegts.Writer bound to a single io.Writer,
// re-muxing CT-stamped frames into an MPEG-TS byte stream.
type Encoder struct {
	cfg EncoderConfig

	mu          sync.Mutex
	writer      io.Writer
	muxer       *mpegts.Writer
	videoTrack  *mpegts.Track
	audioTrack  *mpegts.Track
	initialized bool
}

// NewEncoder constructs an Encoder that writes to w once initialized.
func NewEncoder(w io.Writer, cfg EncoderConfig) *Encoder {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Encoder{cfg: cfg, writer: w}
}

func (e *Encoder) initialize() error {
	if e.initialized {
		return nil
	}

	var videoCodec mpegts.Codec
	if e.cfg.VideoH265 {
		videoCodec = &mpegts.CodecH265{}
	} else {
		videoCodec = &mpegts.CodecH264{}
	}
	e.videoTrack = &mpegts.Track{PID: VideoPID, Codec: videoCodec}

	var audioCodec mpegts.Codec
	switch e.cfg.AudioCodec {
	case AudioCodecAC3:
		audioCodec = &mpegts.CodecAC3{SampleRate: e.cfg.Audio.SampleRate, ChannelCount: e.cfg.Audio.Channels}
	case AudioCodecEAC3:
		audioCodec = &mpegts.CodecEAC3{SampleRate: e.cfg.Audio.SampleRate, ChannelCount: e.cfg.Audio.Channels}
	default:
		aacConfig := e.cfg.AACConfig
		if aacConfig == nil {
			aacConfig = &mpeg4audio.AudioSpecificConfig{
				Type:         mpeg4audio.ObjectTypeAACLC,
				SampleRate:   e.cfg.Audio.SampleRate,
				ChannelCount: e.cfg.Audio.Channels,
			}
		}
		audioCodec = &mpegts.CodecMPEG4Audio{Config: *aacConfig}
	}
	e.audioTrack = &mpegts.Track{PID: AudioPID, Codec: audioCodec}

	e.muxer = &mpegts.Writer{W: e.writer, Tracks: []*mpegts.Track{e.videoTrack, e.audioTrack}}
	if err := e.muxer.Initialize(); err != nil {
		return fmt.Errorf("initializing mpegts writer: %w", err)
	}
	e.initialized = true
	return nil
}

// WriteVideo re-muxes one CT-stamped video frame. f.Planes holds the
// frame's NAL units; f must have HasCT == true (enforced by the pacer,
// not re-checked here).
func (e *Encoder) WriteVideo(f *frame.Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.initialize(); err != nil {
		return err
	}
	if len(f.Planes) == 0 {
		return nil
	}

	switch e.videoTrack.Codec.(type) {
	case *mpegts.CodecH265:
		return e.muxer.WriteH265(e.videoTrack, f.PTSUs*90/1000, f.DTSUs*90/1000, f.Planes)
	default:
		return e.muxer.WriteH264(e.videoTrack, f.PTSUs*90/1000, f.DTSUs*90/1000, f.Planes)
	}
}

// WriteAudio re-muxes one CT-stamped audio frame.
func (e *Encoder) WriteAudio(f *frame.AudioFrame) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.initialize(); err != nil {
		return err
	}
	if len(f.Samples) == 0 {
		return nil
	}

	ptsTicks := f.PTSUs * 90 / 1000
	switch e.audioTrack.Codec.(type) {
	case *mpegts.CodecAC3:
		return e.muxer.WriteAC3(e.audioTrack, ptsTicks, f.Samples)
	case *mpegts.CodecEAC3:
		return e.muxer.WriteEAC3(e.audioTrack, ptsTicks, f.Samples)
	default:
		return e.muxer.WriteMPEG4Audio(e.audioTrack, ptsTicks, [][]byte{f.Samples})
	}
}
