package metrics

import (
	"sync/atomic"

	"streamflow/config"
)

// Feature groups the metrics of one subsystem so it can be switched off.
type Feature string

const (
	FeatureSession   Feature = "session"
	FeatureStreamer  Feature = "streamer"
	FeatureRecorder  Feature = "recorder"
	FeatureQueueSize Feature = "queue_size"
)

// Component names used when emitting metrics.
const (
	ComponentSession  = "streaming_session"
	ComponentStreamer = "streamer"
	ComponentRecorder = "recorder"
	ComponentQueues   = "event_queues"
	ComponentDrops    = "event_drops"
)

var enabledFeatures atomic.Pointer[map[Feature]bool]

// Configure applies the feature toggles from the metrics configuration.
func Configure(cfg config.MetricsConfig) {
	features := map[Feature]bool{
		FeatureSession:   cfg.Session,
		FeatureStreamer:  cfg.Streamer,
		FeatureRecorder:  cfg.Recorder,
		FeatureQueueSize: cfg.QueueSize,
	}
	enabledFeatures.Store(&features)
}

// IsFeatureEnabled reports whether metrics of the given feature are emitted.
// Everything is enabled until Configure is called.
func IsFeatureEnabled(feature Feature) bool {
	features := enabledFeatures.Load()
	if features == nil {
		return true
	}
	enabled, ok := (*features)[feature]
	return !ok || enabled
}

func componentFeature(component string) (Feature, bool) {
	switch component {
	case ComponentSession:
		return FeatureSession, true
	case ComponentStreamer:
		return FeatureStreamer, true
	case ComponentRecorder:
		return FeatureRecorder, true
	case ComponentQueues:
		return FeatureQueueSize, true
	}
	return "", false
}
