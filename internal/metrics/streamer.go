package metrics

import "streamflow/logger"

// StreamerStats holds counters for one streamer connection.
type StreamerStats struct {
	ConnectionID  string
	FramesRead    int64
	BytesRead     int64
	RequestsSent  int64
	Heartbeats    int64
	ListenTimeout int64
}

// ReportStreamer emits the connection counters tagged with the connection id.
func ReportStreamer(log *logger.Log, stats StreamerStats) {
	if log == nil {
		log = logger.GetLogger()
	}
	fields := logger.Fields{}
	if stats.ConnectionID != "" {
		fields["connection_id"] = stats.ConnectionID
	}

	EmitMetric(log, ComponentStreamer, "frames_read", stats.FramesRead, "counter", fields)
	EmitMetric(log, ComponentStreamer, "bytes_read", stats.BytesRead, "counter", mergeFields(fields, logger.Fields{"unit": "bytes"}))
	EmitMetric(log, ComponentStreamer, "requests_sent", stats.RequestsSent, "counter", fields)
	EmitMetric(log, ComponentStreamer, "heartbeats", stats.Heartbeats, "counter", fields)
	EmitMetric(log, ComponentStreamer, "listen_timeouts", stats.ListenTimeout, "counter", fields)
}

func mergeFields(a, b logger.Fields) logger.Fields {
	out := make(logger.Fields, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
