// Package metrics registers the Prometheus collectors named in spec.md
// section 6's metrics surface. Grounded on the
// github.com/prometheus/client_golang usage the pack's snapetech-plexTuner
// repo declares in its go.mod (a services-repo pulling in the
// ecosystem-standard metrics client) — wired here with promauto's
// register-at-construction idiom, since that repo's own source does not
// exercise the dependency it declares.
package metrics

import (
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "retrovue_playout"

// Registry holds every collector the playout core emits, one labeled by
// channel_id where a metric is per-channel.
type Registry struct {
	ChannelState                BoundaryStateGauge
	BufferDepthFrames           *prometheus.GaugeVec
	FrameGapSeconds             *prometheus.GaugeVec
	DecodeFailureCount          *prometheus.CounterVec
	FramesDecodedTotal          *prometheus.CounterVec
	FramesDroppedTotal          *prometheus.CounterVec
	BufferUnderrunTotal         *prometheus.CounterVec
	DecodeLatencySeconds        *prometheus.HistogramVec
	ChannelUptimeSeconds        *prometheus.GaugeVec
	SwitchBoundaryDeltaMs       *prometheus.HistogramVec
	SwitchBoundaryViolations    *prometheus.CounterVec
	ContentDeficitTotal         *prometheus.CounterVec
	ContentDeficitDurationMs    *prometheus.HistogramVec
	PadWhileDepthHighTotal      *prometheus.CounterVec
}

// BoundaryStateGauge exposes channel_state as a gauge of the current
// BoundaryState's ordinal value, labeled by channel_id and state name,
// mirroring the "one gauge row per possible enum value, 1 for current"
// convention common to Prometheus state-machine exports.
type BoundaryStateGauge struct {
	vec *prometheus.GaugeVec
}

// Set marks state as current for channelID and zeroes every other known
// state label for that channel so exactly one row reads 1.
func (g BoundaryStateGauge) Set(channelID uuid.UUID, allStates []string, current string) {
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1.0
		}
		g.vec.WithLabelValues(channelID.String(), s).Set(v)
	}
}

// NewRegistry constructs and registers every collector against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the global
// default registry across test runs.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		ChannelState: BoundaryStateGauge{vec: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_state",
			Help:      "Current BoundaryState for a channel (1 for the active state, 0 otherwise).",
		}, []string{"channel_id", "state"})},

		BufferDepthFrames: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_depth_frames",
			Help:      "Current FrameRingBuffer depth.",
		}, []string{"channel_id", "stream"}),

		FrameGapSeconds: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frame_gap_seconds",
			Help:      "Time since the last frame was admitted for a channel.",
		}, []string{"channel_id"}),

		DecodeFailureCount: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failure_count",
			Help:      "Count of producer decode failures.",
		}, []string{"channel_id"}),

		FramesDecodedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_decoded_total",
			Help:      "Total frames successfully decoded by a producer.",
		}, []string{"channel_id", "stream"}),

		FramesDroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total frames dropped at admission or output backpressure.",
		}, []string{"channel_id", "stream", "reason"}),

		BufferUnderrunTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_underrun_total",
			Help:      "Total sustained-empty-buffer events treated as end-of-segment.",
		}, []string{"channel_id"}),

		DecodeLatencySeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decode_latency_seconds",
			Help:      "Latency of a single producer decode call.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel_id"}),

		ChannelUptimeSeconds: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_uptime_seconds",
			Help:      "Seconds since StartChannel for this channel.",
		}, []string{"channel_id"}),

		SwitchBoundaryDeltaMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "switch_boundary_delta_ms",
			Help:      "Delta in milliseconds between planned and committed boundary CT.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"channel_id"}),

		SwitchBoundaryViolations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "switch_boundary_violations_total",
			Help:      "Total boundary commits whose delta exceeded tolerance.",
		}, []string{"channel_id"}),

		ContentDeficitTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_deficit_total",
			Help:      "Total deficit-fill episodes (content exhausted before boundary).",
		}, []string{"channel_id"}),

		ContentDeficitDurationMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "content_deficit_duration_ms",
			Help:      "Duration in milliseconds of each deficit-fill episode.",
			Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"channel_id"}),

		PadWhileDepthHighTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pad_while_depth_high_total",
			Help:      "Total pad-while-depth-high contract violations observed by the pacer.",
		}, []string{"channel_id"}),
	}
}
