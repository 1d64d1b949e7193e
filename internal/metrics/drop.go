package metrics

import "streamflow/logger"

// DropMetric identifies the metric name emitted when an inbound event is discarded.
type DropMetric string

const (
	// DropMetricMalformedFrame records frames that could not be parsed as JSON.
	DropMetricMalformedFrame DropMetric = "malformed_frames_dropped"
	// DropMetricSnapshot records snapshot frames, which are not forwarded.
	DropMetricSnapshot DropMetric = "snapshot_frames_dropped"
	// DropMetricUnknownKind records events whose callback kind is out of range.
	DropMetricUnknownKind DropMetric = "unknown_kind_events_dropped"
	// DropMetricLateEvent records events arriving after the router closed.
	DropMetricLateEvent DropMetric = "late_events_dropped"
	// DropMetricRecorderFull records events the recorder refused because its buffer was full.
	DropMetricRecorderFull DropMetric = "recorder_events_dropped"
)

// EmitDropMetric emits one dropped-event count. Service and stage are added
// as dimensions when set.
func EmitDropMetric(log *logger.Log, metric DropMetric, service, stage string) {
	fields := logger.Fields{}
	if service != "" {
		fields["service"] = service
	}
	if stage != "" {
		fields["stage"] = stage
	}

	EmitMetric(log, ComponentDrops, string(metric), 1, "counter", fields)
}
