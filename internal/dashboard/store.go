package dashboard

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"streamflow/internal/metrics"
)

// metricQuery narrows a metric snapshot. Empty fields match everything.
type metricQuery struct {
	Component string
	Service   string
	Name      string
}

func (q metricQuery) matches(m metrics.Metric) bool {
	return (q.Component == "" || m.Component == q.Component) &&
		(q.Service == "" || m.Service == q.Service) &&
		(q.Name == "" || m.Name == q.Name)
}

// serviceTotals sums the counter metrics one streaming service has produced.
type serviceTotals struct {
	Service  string             `json:"service"`
	Counters map[string]float64 `json:"counters"`
	LastSeen time.Time          `json:"last_seen"`
}

// metricStore keeps a window of recent metrics plus running counter totals
// per streaming service. Totals survive the window trimming.
type metricStore struct {
	mu     sync.RWMutex
	items  []metrics.Metric
	limit  int
	totals map[string]*serviceTotals
}

func newMetricStore(limit int) *metricStore {
	if limit <= 0 {
		limit = 200
	}
	return &metricStore{limit: limit, totals: make(map[string]*serviceTotals)}
}

func (s *metricStore) handle(metric metrics.Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append(s.items, metric)
	if len(s.items) > s.limit {
		s.items = append([]metrics.Metric(nil), s.items[len(s.items)-s.limit:]...)
	}

	if metric.Service == "" || metric.Type != "counter" {
		return
	}
	v, ok := metric.Float()
	if !ok {
		return
	}
	t := s.totals[metric.Service]
	if t == nil {
		t = &serviceTotals{Service: metric.Service, Counters: make(map[string]float64)}
		s.totals[metric.Service] = t
	}
	t.Counters[metric.Name] += v
	if metric.Timestamp.After(t.LastSeen) {
		t.LastSeen = metric.Timestamp
	}
}

func (s *metricStore) snapshot() []metrics.Metric {
	return s.query(metricQuery{})
}

func (s *metricStore) query(q metricQuery) []metrics.Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]metrics.Metric, 0, len(s.items))
	for _, m := range s.items {
		if q.matches(m) {
			out = append(out, m)
		}
	}
	return out
}

// serviceTotals returns a copy of the per-service totals ordered by service name.
func (s *metricStore) serviceTotals() []serviceTotals {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]serviceTotals, 0, len(s.totals))
	for _, t := range s.totals {
		counters := make(map[string]float64, len(t.Counters))
		for k, v := range t.Counters {
			counters[k] = v
		}
		out = append(out, serviceTotals{Service: t.Service, Counters: counters, LastSeen: t.LastSeen})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// logRecord is a captured log entry as served by /api/logs. The session
// identity fields are promoted out of Fields.
type logRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Service   string                 `json:"service,omitempty"`
	Account   string                 `json:"account,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// promotedLogFields are lifted into logRecord and left out of Fields.
var promotedLogFields = map[string]struct{}{"component": {}, "service": {}, "account": {}}

func stringField(data logrus.Fields, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

// logStore is a logrus hook that keeps the most recent records.
type logStore struct {
	mu      sync.RWMutex
	items   []logRecord
	limit   int
	enabled atomic.Bool
}

func newLogStore(limit int) *logStore {
	if limit <= 0 {
		limit = 200
	}
	ls := &logStore{limit: limit}
	ls.enabled.Store(true)
	return ls
}

func (s *logStore) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (s *logStore) Fire(entry *logrus.Entry) error {
	if !s.enabled.Load() {
		return nil
	}

	record := logRecord{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
	}

	record.Component = stringField(entry.Data, "component")
	record.Service = stringField(entry.Data, "service")
	record.Account = stringField(entry.Data, "account")

	if len(entry.Data) > 0 {
		record.Fields = make(map[string]interface{}, len(entry.Data))
		for k, v := range entry.Data {
			if _, ok := promotedLogFields[k]; ok {
				continue
			}

			switch val := v.(type) {
			case error:
				record.Fields[k] = val.Error()
			case fmt.Stringer:
				record.Fields[k] = val.String()
			default:
				record.Fields[k] = val
			}
		}
	}

	s.mu.Lock()
	s.items = append(s.items, record)
	if len(s.items) > s.limit {
		s.items = append([]logRecord(nil), s.items[len(s.items)-s.limit:]...)
	}
	s.mu.Unlock()
	return nil
}

func (s *logStore) snapshot() []logRecord {
	return s.query("", "")
}

// query returns the records matching component and service; empty matches all.
func (s *logStore) query(component, service string) []logRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]logRecord, 0, len(s.items))
	for _, r := range s.items {
		if (component == "" || r.Component == component) && (service == "" || r.Service == service) {
			out = append(out, r)
		}
	}
	return out
}

func (s *logStore) close() {
	s.enabled.Store(false)
}
