package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"streamflow/internal/metrics"
	"streamflow/logger"
	"streamflow/models"
)

// Callback receives every inbound event as (kind, service, timestamp, payload).
// It runs on the session's delivery goroutine and must not call back into
// the session that invoked it.
type Callback func(kind models.CallbackKind, service models.ServiceType, timestamp int64, payload interface{})

// CallbackRouter decodes raw transport events and hands them to the user
// callback on a dedicated delivery goroutine, preserving arrival order.
type CallbackRouter struct {
	callback Callback
	log      *logger.Entry

	mu     sync.Mutex
	queue  []models.RawEvent
	closed bool
	wake   chan struct{}
	done   chan struct{}

	deliveryID atomic.Int64
	delivered  atomic.Int64
}

// NewCallbackRouter starts the delivery goroutine for callback.
func NewCallbackRouter(callback Callback) *CallbackRouter {
	r := &CallbackRouter{
		callback: callback,
		log:      logger.GetLogger().WithComponent("callback_router"),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	r.deliveryID.Store(-1)
	go r.run()
	return r
}

// Sink queues an event for delivery. It never blocks on the callback and
// is a valid EventSink.
func (r *CallbackRouter) Sink(ev models.RawEvent) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.log.WithField("kind", ev.Kind.String()).Debug("router closed; event discarded")
		metrics.EmitDropMetric(nil, metrics.DropMetricLateEvent, ev.Service.String(), "router")
		return
	}
	r.queue = append(r.queue, ev)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Close stops accepting events, delivers what is already queued and waits
// for the delivery goroutine to exit. Repeated calls are no-ops.
func (r *CallbackRouter) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	<-r.done
}

// OnDeliveryGoroutine reports whether the caller is running inside the callback.
func (r *CallbackRouter) OnDeliveryGoroutine() bool {
	id := r.deliveryID.Load()
	return id >= 0 && id == goroutineID()
}

// Pending returns the number of queued events not yet handed to the callback.
func (r *CallbackRouter) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Delivered returns how many events reached the callback.
func (r *CallbackRouter) Delivered() int64 {
	return r.delivered.Load()
}

func (r *CallbackRouter) run() {
	defer close(r.done)
	r.deliveryID.Store(goroutineID())

	for {
		r.mu.Lock()
		batch := r.queue
		r.queue = nil
		closed := r.closed
		r.mu.Unlock()

		for _, ev := range batch {
			r.deliver(ev)
		}

		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-r.wake
	}
}

func (r *CallbackRouter) deliver(raw models.RawEvent) {
	if !raw.Kind.Valid() {
		r.log.WithField("kind", int(raw.Kind)).Warn("dropping event with unknown callback kind")
		metrics.EmitDropMetric(nil, metrics.DropMetricUnknownKind, raw.Service.String(), "router")
		return
	}
	ev := Decode(raw)
	if ev.Payload == nil && len(raw.Payload) > 0 {
		r.log.WithFields(logger.Fields{
			"kind":    ev.Kind.String(),
			"service": ev.Service.String(),
			"bytes":   len(raw.Payload),
		}).Debug("payload failed to decode; delivering null")
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.WithField("panic", fmt.Sprint(rec)).Error("streaming callback panicked")
		}
	}()

	logger.RecordCallbackEvent(ev.Kind.String())
	r.delivered.Add(1)
	r.callback(ev.Kind, ev.Service, ev.Timestamp, ev.Payload)
}

// Decode converts a raw event into its typed form. An empty or malformed
// payload decodes to nil and an unknown service to ServiceNone.
func Decode(raw models.RawEvent) models.CallbackEvent {
	ev := models.CallbackEvent{
		Kind:      raw.Kind,
		Service:   raw.Service,
		Timestamp: raw.Timestamp,
	}
	if !ev.Service.Valid() {
		ev.Service = models.ServiceNone
	}
	if len(raw.Payload) == 0 {
		return ev
	}
	var payload interface{}
	if err := json.Unmarshal(raw.Payload, &payload); err != nil {
		return ev
	}
	ev.Payload = payload
	return ev
}
