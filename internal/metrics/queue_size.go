package metrics

import (
	"context"
	"sort"
	"time"

	"streamflow/logger"
)

// QueueDepth reports the number of items currently waiting in a queue.
type QueueDepth func() int

// StartQueueSizeMetrics emits a gauge per named queue every interval until
// ctx is cancelled. When interval <= 0 a one-second cadence is used.
func StartQueueSizeMetrics(ctx context.Context, queues map[string]QueueDepth, interval time.Duration) {
	if !IsFeatureEnabled(FeatureQueueSize) || len(queues) == 0 {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	names := make([]string, 0, len(queues))
	for name, depth := range queues {
		if depth != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, name := range names {
					EmitMetric(log, ComponentQueues, name+"_length", queues[name](), "gauge", logger.Fields{
						"queue": name,
					})
				}
			}
		}
	}()
}
