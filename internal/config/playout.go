package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Default playout configuration values.
const (
	defaultPlayoutVideoWidth         = 1280
	defaultPlayoutVideoHeight        = 720
	defaultPlayoutFrameRateNum       = 30
	defaultPlayoutFrameRateDen       = 1
	defaultPlayoutAudioSampleRate    = 48000
	defaultPlayoutAudioChannels      = 2
	defaultPlayoutRingVideoCapacity  = 60
	defaultPlayoutRingAudioCapacity  = 300
	defaultPlayoutToleranceUs        = 20_000
	defaultPlayoutLateThresholdUs    = 100_000
	defaultPlayoutEarlyThresholdUs   = 100_000
	defaultPlayoutCatchUpLimitUs     = 5_000_000
	defaultPlayoutTeardownGrace      = 10 * time.Second
	defaultPlayoutMinPrefeedLeadMs   = 2000
	defaultPlayoutConvergenceTimeout = 30 * time.Second
	defaultPlayoutListenAddr         = ""
)

// PlayoutConfig holds configuration for the real-time channel playout
// core named in spec.md sections 4-6: the per-channel ProgramFormat,
// TimelineConfig admission tolerances, ring buffer capacities, boundary
// state machine timing, and the output mux. Mirrors the teacher's
// RelayConfig/BufferConfig nesting in internal/config/config.go.
type PlayoutConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// ListenAddr is the address the control surface's output sink
	// listens on for downstream packager/bridge connections (empty =
	// disabled; output wiring happens out-of-process in that case).
	ListenAddr string `mapstructure:"listen_addr"`

	Format   ProgramFormatConfig `mapstructure:"format"`
	Timeline TimelineConfig      `mapstructure:"timeline"`
	Ring     RingConfig          `mapstructure:"ring"`
	Mux      MuxConfig           `mapstructure:"mux"`

	// TeardownGraceTimeout bounds how long a pending teardown waits for
	// a transient BoundaryState to resolve before forcing
	// FAILED_TERMINAL, spec.md section 4.6.
	TeardownGraceTimeout time.Duration `mapstructure:"teardown_grace_timeout"`
	// MinPrefeedLeadTimeMs is the minimum lead time a LoadPreview must
	// satisfy to be feasible, spec.md section 4.6's "typically >= ~2s".
	MinPrefeedLeadTimeMs int64 `mapstructure:"min_prefeed_lead_time_ms"`
	// ConvergenceTimeout bounds startup convergence, spec.md section 4.6.
	ConvergenceTimeout time.Duration `mapstructure:"convergence_timeout"`
}

// ProgramFormatConfig describes the canonical per-channel signal shape,
// spec.md section 2's ProgramFormat: immutable for the lifetime of a
// channel, set once at StartChannel.
type ProgramFormatConfig struct {
	VideoWidth        int `mapstructure:"video_width"`
	VideoHeight       int `mapstructure:"video_height"`
	VideoFrameRateNum int `mapstructure:"video_frame_rate_num"`
	VideoFrameRateDen int `mapstructure:"video_frame_rate_den"`
	AudioSampleRate   int `mapstructure:"audio_sample_rate"`
	AudioChannels     int `mapstructure:"audio_channels"`
}

// TimelineConfig holds the admission-window tolerances spec.md section
// 4.3 names for the continuous time unit cursor.
type TimelineConfig struct {
	ToleranceUs     int64 `mapstructure:"tolerance_us"`
	LateThresholdUs int64 `mapstructure:"late_threshold_us"`
	// EarlyThresholdUs bounds how far ahead of the expected cursor an
	// admitted frame's computed CT may be before being rejected.
	EarlyThresholdUs int64 `mapstructure:"early_threshold_us"`
	// CatchUpLimitUs bounds how far lag may grow before a restart is
	// requested.
	CatchUpLimitUs int64 `mapstructure:"catch_up_limit_us"`
}

// RingConfig holds the frame ring buffer capacities spec.md section 4.2
// names: roughly one GOP of video, a few hundred audio packets.
type RingConfig struct {
	VideoCapacity int `mapstructure:"video_capacity"`
	AudioCapacity int `mapstructure:"audio_capacity"`
}

// MuxConfig holds the output mux's codec selection, spec.md section
// 4.7's PCR-paced MPEG-TS mux.
type MuxConfig struct {
	VideoH265  bool   `mapstructure:"video_h265"`
	AudioCodec string `mapstructure:"audio_codec"` // aac, ac3, eac3
}

// setPlayoutDefaults configures default values for the playout section.
// Mirrors the teacher's SetDefaults grouping in internal/config/config.go.
func setPlayoutDefaults(v *viper.Viper) {
	v.SetDefault("playout.enabled", false)
	v.SetDefault("playout.listen_addr", defaultPlayoutListenAddr)

	v.SetDefault("playout.format.video_width", defaultPlayoutVideoWidth)
	v.SetDefault("playout.format.video_height", defaultPlayoutVideoHeight)
	v.SetDefault("playout.format.video_frame_rate_num", defaultPlayoutFrameRateNum)
	v.SetDefault("playout.format.video_frame_rate_den", defaultPlayoutFrameRateDen)
	v.SetDefault("playout.format.audio_sample_rate", defaultPlayoutAudioSampleRate)
	v.SetDefault("playout.format.audio_channels", defaultPlayoutAudioChannels)

	v.SetDefault("playout.timeline.tolerance_us", defaultPlayoutToleranceUs)
	v.SetDefault("playout.timeline.late_threshold_us", defaultPlayoutLateThresholdUs)
	v.SetDefault("playout.timeline.early_threshold_us", defaultPlayoutEarlyThresholdUs)
	v.SetDefault("playout.timeline.catch_up_limit_us", defaultPlayoutCatchUpLimitUs)

	v.SetDefault("playout.ring.video_capacity", defaultPlayoutRingVideoCapacity)
	v.SetDefault("playout.ring.audio_capacity", defaultPlayoutRingAudioCapacity)

	v.SetDefault("playout.mux.video_h265", false)
	v.SetDefault("playout.mux.audio_codec", "aac")

	v.SetDefault("playout.teardown_grace_timeout", defaultPlayoutTeardownGrace)
	v.SetDefault("playout.min_prefeed_lead_time_ms", defaultPlayoutMinPrefeedLeadMs)
	v.SetDefault("playout.convergence_timeout", defaultPlayoutConvergenceTimeout)
}

// validate checks the playout configuration section for errors. A
// disabled playout section is not validated further.
func (c *PlayoutConfig) validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Format.VideoFrameRateNum <= 0 || c.Format.VideoFrameRateDen <= 0 {
		return errors.New("playout.format frame rate must be positive")
	}
	if c.Ring.VideoCapacity < 1 || c.Ring.AudioCapacity < 1 {
		return errors.New("playout.ring capacities must be at least 1")
	}
	validAudioCodecs := map[string]bool{"aac": true, "ac3": true, "eac3": true}
	if !validAudioCodecs[c.Mux.AudioCodec] {
		return errors.New("playout.mux.audio_codec must be one of: aac, ac3, eac3")
	}
	return nil
}
