package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"streamflow/internal/metrics"
	"streamflow/logger"
	"streamflow/models"
)

// State is the lifecycle state of a StreamingSession.
type State int

const (
	StateInactive State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "inactive"
}

const component = "streaming_session"

// StreamingSession owns one Transport, the logical subscription set and the
// negotiated QOS, and routes inbound events to a single user callback.
//
// Start, AddSubscriptions, Stop, SetQOS and Close block until the transport
// answers or its timeouts expire. None of them may be called from inside the
// callback; doing so returns ErrReentrantCall.
type StreamingSession struct {
	ops sync.Mutex // serializes caller operations

	mu        sync.RWMutex
	state     State
	qos       models.QOS
	pending   *models.QOS
	subs      subscriptionSet
	closed    bool
	closeOnce sync.Once

	transport Transport
	router    *CallbackRouter
	timeouts  Timeouts
	log       *logger.Log
}

// New creates an inactive session. The transport is created immediately and
// released by Close.
func New(creds *models.Credentials, callback Callback, factory TransportFactory, timeouts Timeouts) (*StreamingSession, error) {
	if creds == nil {
		return nil, ErrNilCredentials
	}
	if callback == nil {
		return nil, ErrNilCallback
	}
	if factory == nil {
		return nil, ErrNilTransportFactory
	}

	timeouts = timeouts.Normalize()
	router := NewCallbackRouter(callback)

	transport, err := factory(creds, router.Sink, timeouts)
	if err != nil {
		router.Close()
		return nil, fmt.Errorf("create transport: %w", err)
	}

	s := &StreamingSession{
		state:     StateInactive,
		qos:       models.DefaultQOS,
		transport: transport,
		router:    router,
		timeouts:  timeouts,
		log:       logger.GetLogger(),
	}

	s.log.WithComponent(component).WithFields(logger.Fields{
		"account":           creds.AccountID,
		"connect_timeout":   timeouts.Connect.String(),
		"listening_timeout": timeouts.Listening.String(),
		"subscribe_timeout": timeouts.Subscribe.String(),
	}).Info("streaming session created")
	return s, nil
}

// Timeouts returns the normalized timeouts the transport was created with.
func (s *StreamingSession) Timeouts() Timeouts {
	return s.timeouts
}

// IsActive reports whether the session is started and its transport is live.
func (s *StreamingSession) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateActive && s.transport.IsActive()
}

// State returns the lifecycle state without consulting the transport.
func (s *StreamingSession) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// PendingEvents returns how many events wait for the callback goroutine.
func (s *StreamingSession) PendingEvents() int {
	return s.router.Pending()
}

// GetQOS returns the last QOS the server acknowledged.
func (s *StreamingSession) GetQOS() models.QOS {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.qos
}

// Subscriptions returns deep copies of the accepted subscriptions.
func (s *StreamingSession) Subscriptions() []*models.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subs.snapshot()
}

// Start logs in and sends the initial batch. On success the session is
// Active and the result holds one entry per subscription; a login failure
// leaves it Inactive and is returned as an error. An unanswered batch after
// a successful login is reported as a TIMEOUT event, not an error.
func (s *StreamingSession) Start(ctx context.Context, subs ...*models.Subscription) ([]bool, error) {
	if s.router.OnDeliveryGoroutine() {
		return nil, ErrReentrantCall
	}
	s.ops.Lock()
	defer s.ops.Unlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()

	if state == StateActive {
		if s.transport.IsActive() {
			return nil, ErrSessionActive
		}
		s.log.WithComponent(component).Warn("transport went inactive; resetting session before restart")
		s.teardown(ctx)
	}

	batch, err := prepareBatch(subs)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	results, err := s.transport.Start(ctx, batch)
	batchTimeout := err != nil && results != nil && errors.Is(err, ErrTimeout)
	if err != nil && !batchTimeout {
		s.log.WithComponent(component).WithError(err).Warn("streaming session failed to start")
		metrics.EmitMetric(s.log, component, "session_start_failures", 1, "counter", nil)
		return nil, fmt.Errorf("start streaming session: %w", err)
	}
	results = alignResults(results, len(batch))

	s.mu.Lock()
	s.state = StateActive
	s.qos = s.transport.QOS()
	pending := s.pending
	s.pending = nil
	for i, ok := range results {
		if ok {
			s.subs.apply(batch[i])
		}
	}
	s.mu.Unlock()

	if batchTimeout {
		s.raiseTimeout("start", batch[0].Service(), err)
	}
	s.reportBatch("start", batch, results)
	logger.LogPerformanceEntry(s.log.WithComponent(component), component, "start", time.Since(started), nil)
	metrics.EmitMetric(s.log, component, "session_start", 1, "counter", nil)

	if pending != nil {
		if _, err := s.setQOSLocked(ctx, *pending); err != nil {
			s.log.WithComponent(component).WithError(err).Warn("failed to apply requested qos after start")
		}
	}
	return results, nil
}

// StartOne is Start for a single subscription.
func (s *StreamingSession) StartOne(ctx context.Context, sub *models.Subscription) (bool, error) {
	results, err := s.Start(ctx, sub)
	if err != nil {
		return false, err
	}
	return results[0], nil
}

// AddSubscriptions sends another batch to an active session. A timeout while
// waiting for responses is reported as a TIMEOUT event and leaves the
// unanswered entries false. SetQOS treats an unanswered request the same way.
func (s *StreamingSession) AddSubscriptions(ctx context.Context, subs ...*models.Subscription) ([]bool, error) {
	if s.router.OnDeliveryGoroutine() {
		return nil, ErrReentrantCall
	}
	s.ops.Lock()
	defer s.ops.Unlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if !s.IsActive() {
		return nil, ErrSessionInactive
	}

	batch, err := prepareBatch(subs)
	if err != nil {
		return nil, err
	}

	results, err := s.transport.AddSubscriptions(ctx, batch)
	if err != nil {
		if !errors.Is(err, ErrTimeout) {
			return nil, fmt.Errorf("add subscriptions: %w", err)
		}
		s.raiseTimeout("add", batch[0].Service(), err)
	}
	results = alignResults(results, len(batch))

	s.mu.Lock()
	for i, ok := range results {
		if ok {
			s.subs.apply(batch[i])
		}
	}
	s.mu.Unlock()

	s.reportBatch("add", batch, results)
	return results, nil
}

// AddSubscription is AddSubscriptions for a single subscription.
func (s *StreamingSession) AddSubscription(ctx context.Context, sub *models.Subscription) (bool, error) {
	results, err := s.AddSubscriptions(ctx, sub)
	if err != nil {
		return false, err
	}
	return results[0], nil
}

// Stop logs out and returns the session to Inactive. Stopping an inactive
// session is a no-op. Transport errors during teardown are logged.
func (s *StreamingSession) Stop(ctx context.Context) error {
	if s.router.OnDeliveryGoroutine() {
		return ErrReentrantCall
	}
	s.ops.Lock()
	defer s.ops.Unlock()

	s.teardown(ctx)
	return nil
}

// SetQOS asks the server for a new push cadence and reports whether it was
// acknowledged. While inactive the request is remembered and negotiated on
// the next successful Start; the call then returns false.
func (s *StreamingSession) SetQOS(ctx context.Context, qos models.QOS) (bool, error) {
	if s.router.OnDeliveryGoroutine() {
		return false, ErrReentrantCall
	}
	if !qos.Valid() {
		return false, fmt.Errorf("%w: %d", ErrInvalidQOS, int(qos))
	}
	s.ops.Lock()
	defer s.ops.Unlock()

	if err := s.checkOpen(); err != nil {
		return false, err
	}
	if !s.IsActive() {
		s.mu.Lock()
		s.pending = &qos
		s.mu.Unlock()
		s.log.WithComponent(component).WithField("qos", qos.String()).Info("session inactive; qos request deferred until start")
		return false, nil
	}
	return s.setQOSLocked(ctx, qos)
}

func (s *StreamingSession) setQOSLocked(ctx context.Context, qos models.QOS) (bool, error) {
	ok, err := s.transport.SetQOS(ctx, qos)
	if err != nil {
		if !errors.Is(err, ErrTimeout) {
			return false, fmt.Errorf("set qos: %w", err)
		}
		s.raiseTimeout("qos", models.ServiceAdmin, err)
	}

	s.mu.Lock()
	previous := s.qos
	if ok {
		s.qos = qos
	}
	s.mu.Unlock()

	s.log.WithComponent(component).WithFields(logger.Fields{
		"requested":    qos.String(),
		"previous":     previous.String(),
		"acknowledged": ok,
	}).Info("qos negotiated")
	if ok {
		metrics.EmitMetric(s.log, component, "qos_changes", 1, "counter", logger.Fields{"qos": qos.String()})
	}
	return ok, nil
}

// Close stops the session and releases the transport exactly once. Release
// errors are logged, never returned.
func (s *StreamingSession) Close() error {
	if s.router.OnDeliveryGoroutine() {
		return ErrReentrantCall
	}
	s.closeOnce.Do(func() {
		s.ops.Lock()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeouts.Connect)
		s.teardown(ctx)
		cancel()

		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if err := s.transport.Close(); err != nil {
			s.log.WithComponent(component).WithError(err).Warn("failed to release transport")
		}
		s.ops.Unlock()

		s.router.Close()
		s.log.WithComponent(component).WithField("delivered", s.router.Delivered()).Info("streaming session closed")
	})
	return nil
}

func (s *StreamingSession) teardown(ctx context.Context) {
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()
	if state == StateInactive {
		return
	}

	if err := s.transport.Stop(ctx); err != nil {
		s.log.WithComponent(component).WithError(err).Warn("transport stop reported an error")
	}

	s.mu.Lock()
	s.state = StateInactive
	s.subs.reset()
	s.mu.Unlock()

	s.log.WithComponent(component).Info("streaming session stopped")
}

// raiseTimeout reports an unanswered request batch as a TIMEOUT event.
func (s *StreamingSession) raiseTimeout(op string, service models.ServiceType, err error) {
	s.router.Sink(models.RawEvent{
		Kind:      models.CallbackTimeout,
		Service:   service,
		Timestamp: time.Now().UnixMilli(),
	})
	fields := logger.Fields{"operation": op, "service": service.String()}
	s.log.WithComponent(component).WithError(err).WithFields(fields).Warn("request batch timed out")
	metrics.EmitMetric(s.log, component, "request_timeouts", 1, "counter", fields)
}

func (s *StreamingSession) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

func (s *StreamingSession) reportBatch(op string, batch []*models.Subscription, results []bool) {
	accepted := 0
	for _, ok := range results {
		if ok {
			accepted++
		}
	}
	rejected := len(results) - accepted

	entry := s.log.WithComponent(component).WithFields(logger.Fields{
		"operation": op,
		"batch":     len(batch),
		"accepted":  accepted,
		"rejected":  rejected,
	})
	if rejected > 0 {
		for i, ok := range results {
			if !ok {
				entry.WithField("subscription", batch[i].String()).Warn("subscription rejected")
			}
		}
	}
	entry.Info("subscription batch processed")

	metrics.EmitMetric(s.log, component, "subscriptions_accepted", accepted, "counter", logger.Fields{"operation": op})
	metrics.EmitMetric(s.log, component, "subscriptions_rejected", rejected, "counter", logger.Fields{"operation": op})
}

// prepareBatch re-validates each subscription and returns private copies.
func prepareBatch(subs []*models.Subscription) ([]*models.Subscription, error) {
	if len(subs) == 0 {
		return nil, ErrNoSubscriptions
	}
	if len(subs) > MaxSubscriptions {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManySubscriptions, len(subs), MaxSubscriptions)
	}
	batch := make([]*models.Subscription, len(subs))
	for i, sub := range subs {
		if err := sub.Validate(); err != nil {
			return nil, fmt.Errorf("subscription %d: %w", i, err)
		}
		batch[i] = sub.Clone()
	}
	return batch, nil
}

func alignResults(results []bool, n int) []bool {
	if len(results) == n {
		return results
	}
	out := make([]bool, n)
	copy(out, results)
	return out
}
