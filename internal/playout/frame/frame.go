// Package frame defines the core media data model shared by the
// playout pipeline: Frame (video), AudioFrame, and ProgramFormat, per
// spec.md section 3. Pixel planes and sample buffers are pooled via
// internal/bufpool to avoid per-frame GC churn at sustained frame rates.
package frame

import "github.com/jmylchreest/tvarr/internal/bufpool"

// SampleFormat identifies a supported audio sample layout. Per spec.md's
// open question, only S16 interleaved and FLTP planar are supported;
// any other format must fail producer init rather than silently coerce.
type SampleFormat int

const (
	// SampleFormatS16 is interleaved signed 16-bit PCM.
	SampleFormatS16 SampleFormat = iota
	// SampleFormatFLTP is planar 32-bit float PCM.
	SampleFormatFLTP
)

// VideoFormat describes the channel's canonical video signal shape.
type VideoFormat struct {
	Width  int
	Height int
	// FrameRateNum/FrameRateDen express frame rate as a rational, e.g.
	// 30000/1001 for 29.97fps or 30/1 for an exact 30fps.
	FrameRateNum int
	FrameRateDen int
}

// AudioFormat describes the channel's canonical audio signal shape.
type AudioFormat struct {
	SampleRate int
	Channels   int
}

// ProgramFormat is the per-channel canonical signal format: immutable
// for the lifetime of a PlayoutInstance, set at StartChannel. Producers
// and sinks must operate in this format or fail fast.
type ProgramFormat struct {
	Video VideoFormat
	Audio AudioFormat
}

// FramePeriodUs returns the nominal duration of one video frame in
// microseconds, derived from the format's frame rate rational.
func (f ProgramFormat) FramePeriodUs() int64 {
	if f.Video.FrameRateNum <= 0 {
		return 0
	}
	return int64(f.Video.FrameRateDen) * 1_000_000 / int64(f.Video.FrameRateNum)
}

// Frame is a single decoded video access unit flowing through the
// pipeline. PTSUs holds media time (MT) while has_ct is false (shadow
// decode) and channel time (CT) once TimelineController.AdmitFrame has
// stamped it — rewritten exactly once, per spec.md's Frame invariant.
type Frame struct {
	Width  int
	Height int
	// Planes holds the frame's encoded elementary-stream payload: each
	// slice is one NAL unit (H264/H265 access unit), pooled via bufpool
	// and released by Release. The playout core re-muxes compressed
	// bitstreams rather than decoding to raw pixels — mediacommon, the
	// only codec library in the domain stack, is a remuxer, not a
	// pixel decoder/encoder (see DESIGN.md).
	Planes [][]byte

	PTSUs      int64
	DTSUs      int64
	DurationUs int64
	AssetURI   string
	// HasCT is true only after TimelineController.AdmitFrame has
	// stamped this frame with channel time. Consumed by output only
	// when true (spec.md's shadow-gating invariant).
	HasCT bool
	// IsKeyframe marks a frame eligible for parameter-set prepending at
	// mux time.
	IsKeyframe bool
}

// NewVideoFrame allocates a Frame with pooled planes sized per plane.
func NewVideoFrame(width, height int, planeSizes []int) *Frame {
	planes := make([][]byte, len(planeSizes))
	for i, sz := range planeSizes {
		planes[i] = bufpool.Get(sz)
	}
	return &Frame{Width: width, Height: height, Planes: planes}
}

// Release returns the frame's pixel planes to the shared pool. After
// Release the frame must not be used; this mirrors "destroyed when
// popped from the ring buffer and encoded" in spec.md's Frame lifecycle.
func (f *Frame) Release() {
	for _, p := range f.Planes {
		bufpool.Put(p)
	}
	f.Planes = nil
}

// AudioFrame is a single decoded audio packet, same ownership/lifecycle
// as Frame (spec.md section 3).
type AudioFrame struct {
	PTSUs      int64
	SampleRate int
	Channels   int
	NbSamples  int
	Format     SampleFormat
	// Samples holds interleaved S16 data when Format is SampleFormatS16,
	// pooled via bufpool.
	Samples []byte
	HasCT   bool
}

// NewAudioFrame allocates an AudioFrame with a pooled sample buffer.
func NewAudioFrame(sampleRate, channels, nbSamples int, format SampleFormat) *AudioFrame {
	bytesPerSample := 2
	size := nbSamples * channels * bytesPerSample
	return &AudioFrame{
		SampleRate: sampleRate,
		Channels:   channels,
		NbSamples:  nbSamples,
		Format:     format,
		Samples:    bufpool.Get(size),
	}
}

// Release returns the audio frame's sample buffer to the shared pool.
func (a *AudioFrame) Release() {
	bufpool.Put(a.Samples)
	a.Samples = nil
}
