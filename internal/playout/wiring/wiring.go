// Package wiring translates internal/config's PlayoutConfig (the
// viper-bound settings a cmd entrypoint reads from flags/env/file) into
// the engine.Config, frame.ProgramFormat, and mux.EncoderConfig values
// the playout core's constructors expect. Kept as its own leaf package,
// rather than a method on config.PlayoutConfig or engine.Config, so
// neither internal/config nor internal/playout/engine needs to import
// the other.
package wiring

import (
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/tvarr/internal/config"
	"github.com/jmylchreest/tvarr/internal/playout/engine"
	"github.com/jmylchreest/tvarr/internal/playout/frame"
	"github.com/jmylchreest/tvarr/internal/playout/mux"
	"github.com/jmylchreest/tvarr/internal/playout/ring"
	"github.com/jmylchreest/tvarr/internal/playout/timeline"
)

// ProgramFormat converts a ProgramFormatConfig into the frame package's
// ProgramFormat, spec.md section 3's immutable per-channel signal shape.
func ProgramFormat(c config.ProgramFormatConfig) frame.ProgramFormat {
	return frame.ProgramFormat{
		Video: frame.VideoFormat{
			Width:        c.VideoWidth,
			Height:       c.VideoHeight,
			FrameRateNum: c.VideoFrameRateNum,
			FrameRateDen: c.VideoFrameRateDen,
		},
		Audio: frame.AudioFormat{
			SampleRate: c.AudioSampleRate,
			Channels:   c.AudioChannels,
		},
	}
}

// timelineConfig converts TimelineConfig, filling in FramePeriodUs from
// the format's frame rate since it is derived rather than independently
// configured (spec.md section 4.3's "Derivable via from_fps").
func timelineConfig(c config.TimelineConfig, format frame.ProgramFormat) timeline.Config {
	return timeline.Config{
		FramePeriodUs:    format.FramePeriodUs(),
		ToleranceUs:      c.ToleranceUs,
		LateThresholdUs:  c.LateThresholdUs,
		EarlyThresholdUs: c.EarlyThresholdUs,
		CatchUpLimitUs:   c.CatchUpLimitUs,
	}
}

func ringConfig(c config.RingConfig) ring.Config {
	return ring.Config{VideoCapacity: c.VideoCapacity, AudioCapacity: c.AudioCapacity}
}

// muxEncoderConfig maps the configured audio codec name to mux's
// AudioCodec enum, defaulting to AAC for an unrecognized value (config
// validation already rejects anything outside aac/ac3/eac3).
func muxEncoderConfig(c config.MuxConfig) mux.EncoderConfig {
	codec := mux.AudioCodecAAC
	switch c.AudioCodec {
	case "ac3":
		codec = mux.AudioCodecAC3
	case "eac3":
		codec = mux.AudioCodecEAC3
	}
	return mux.EncoderConfig{VideoH265: c.VideoH265, AudioCodec: codec}
}

// EngineConfig builds a full engine.Config for channelID from a
// PlayoutConfig section, the translation a serve-style cmd entrypoint
// needs instead of engine.DefaultConfig's Open-Question defaults.
func EngineConfig(channelID uuid.UUID, c config.PlayoutConfig) engine.Config {
	format := ProgramFormat(c.Format)
	teardownGrace := c.TeardownGraceTimeout
	if teardownGrace <= 0 {
		teardownGrace = 10 * time.Second
	}
	convergence := c.ConvergenceTimeout
	if convergence <= 0 {
		convergence = 30 * time.Second
	}
	minPrefeedLeadMs := c.MinPrefeedLeadTimeMs
	if minPrefeedLeadMs <= 0 {
		minPrefeedLeadMs = 2000
	}

	return engine.Config{
		ChannelID:            channelID,
		Format:               format,
		RingConfig:           ringConfig(c.Ring),
		TimelineConfig:       timelineConfig(c.Timeline, format),
		MuxConfig:            muxEncoderConfig(c.Mux),
		TeardownGraceTimeout: teardownGrace,
		MinPrefeedLeadTimeMs: minPrefeedLeadMs,
		ConvergenceTimeout:   convergence,
	}
}
