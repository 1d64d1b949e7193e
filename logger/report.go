package logger

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	warnCounts     sync.Map // map[string]*int64 keyed by component
	errorCounts    sync.Map // map[string]*int64 keyed by component
	callbackCounts sync.Map // map[string]*int64 keyed by callback kind
	channels       sync.Map // map[string]*channelStat

	reportPublisher atomic.Pointer[func(context.Context, Report)]
)

// Report is a point-in-time view of the process counters.
type Report struct {
	Goroutines int                         `json:"goroutines"`
	HeapMB     int64                       `json:"heap_mb"`
	Warns      map[string]int64            `json:"warns"`
	Errors     map[string]int64            `json:"errors"`
	Callbacks  map[string]int64            `json:"callbacks"`
	Channels   map[string]map[string]int64 `json:"channels"`
}

func incr(m *sync.Map, key string) {
	v, _ := m.LoadOrStore(key, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func recordWarn(component string) {
	incr(&warnCounts, component)
}

func recordError(component string) {
	incr(&errorCounts, component)
}

// RecordCallbackEvent counts one event handed to a user callback.
func RecordCallbackEvent(kind string) {
	incr(&callbackCounts, kind)
}

// RecordChannelMessage counts a message of size bytes seen on a named channel
// such as the streamer socket or the recorder upload path.
func RecordChannelMessage(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// SetReportPublisher installs fn to receive every periodic report in addition
// to the log line. Passing nil removes it.
func SetReportPublisher(fn func(context.Context, Report)) {
	if fn == nil {
		reportPublisher.Store(nil)
		return
	}
	reportPublisher.Store(&fn)
}

// Snapshot returns the current counters.
func Snapshot() Report {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	r := Report{
		Goroutines: runtime.NumGoroutine(),
		HeapMB:     int64(mem.HeapAlloc) / 1024 / 1024,
		Warns:      loadCounts(&warnCounts),
		Errors:     loadCounts(&errorCounts),
		Callbacks:  loadCounts(&callbackCounts),
		Channels:   map[string]map[string]int64{},
	}
	channels.Range(func(k, v any) bool {
		cs := v.(*channelStat)
		r.Channels[k.(string)] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})
	return r
}

// ChannelNames lists the channels seen so far in sorted order.
func ChannelNames() []string {
	var names []string
	channels.Range(func(k, _ any) bool {
		names = append(names, k.(string))
		return true
	})
	sort.Strings(names)
	return names
}

func loadCounts(m *sync.Map) map[string]int64 {
	out := map[string]int64{}
	m.Range(func(k, v any) bool {
		out[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}

func resetReport() {
	for _, m := range []*sync.Map{&warnCounts, &errorCounts, &callbackCounts, &channels} {
		m.Range(func(k, _ any) bool {
			m.Delete(k)
			return true
		})
	}
}

// StartReport logs a runtime report every interval until ctx is done.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	r := Snapshot()
	log.WithComponent("report").WithFields(Fields{
		"goroutines": r.Goroutines,
		"heap_mb":    r.HeapMB,
		"warns":      r.Warns,
		"errors":     r.Errors,
		"callbacks":  r.Callbacks,
		"channels":   r.Channels,
	}).Info("runtime report")

	if fn := reportPublisher.Load(); fn != nil {
		(*fn)(ctx, r)
	}
}
