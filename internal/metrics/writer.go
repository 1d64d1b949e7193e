package metrics

import "streamflow/logger"

// RecorderStats holds counters for the event recorder.
type RecorderStats struct {
	EventsBuffered int64
	FilesWritten   int64
	BytesWritten   int64
	ErrorsCount    int64
	PendingEvents  int
}

// ReportRecorder emits the recorder counters and logs a summary line.
func ReportRecorder(log *logger.Log, stats RecorderStats) {
	if log == nil {
		log = logger.GetLogger()
	}

	errorRate := float64(0)
	if stats.FilesWritten+stats.ErrorsCount > 0 {
		errorRate = float64(stats.ErrorsCount) / float64(stats.FilesWritten+stats.ErrorsCount)
	}

	avgBytesPerFile := float64(0)
	if stats.FilesWritten > 0 {
		avgBytesPerFile = float64(stats.BytesWritten) / float64(stats.FilesWritten)
	}

	EmitMetric(log, ComponentRecorder, "events_buffered", stats.EventsBuffered, "counter", nil)
	EmitMetric(log, ComponentRecorder, "files_written", stats.FilesWritten, "counter", nil)
	EmitMetric(log, ComponentRecorder, "bytes_written", stats.BytesWritten, "counter", logger.Fields{"unit": "bytes"})
	EmitMetric(log, ComponentRecorder, "errors_count", stats.ErrorsCount, "counter", nil)
	EmitMetric(log, ComponentRecorder, "error_rate", errorRate, "gauge", logger.Fields{"unit": "percent"})
	EmitMetric(log, ComponentRecorder, "avg_bytes_per_file", avgBytesPerFile, "gauge", logger.Fields{"unit": "bytes"})
	EmitMetric(log, ComponentRecorder, "pending_events", stats.PendingEvents, "gauge", nil)

	entry := log.WithComponent(ComponentRecorder).WithFields(logger.Fields{
		"events_buffered":    stats.EventsBuffered,
		"files_written":      stats.FilesWritten,
		"bytes_written":      stats.BytesWritten,
		"errors_count":       stats.ErrorsCount,
		"error_rate":         errorRate,
		"avg_bytes_per_file": avgBytesPerFile,
		"pending_events":     stats.PendingEvents,
	})

	if stats.ErrorsCount > 0 {
		entry.Warn("recorder metrics")
		return
	}
	entry.Info("recorder metrics")
}
