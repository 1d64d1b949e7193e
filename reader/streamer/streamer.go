package streamer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"streamflow/config"
	"streamflow/internal/metrics"
	"streamflow/logger"
	"streamflow/models"
	"streamflow/session"
)

const (
	component = "streamer"

	// LogoutTimeout bounds the wait for the LOGOUT acknowledgement.
	LogoutTimeout = 1000 * time.Millisecond

	channelName = "streamer_ws"
)

var (
	// ErrNotConnected is returned for requests sent while no connection is live.
	ErrNotConnected = errors.New("streamer not connected")
	// ErrAccountInUse is returned when another connection holds the account.
	ErrAccountInUse = errors.New("account already has an active streaming connection")
)

// Options configures the websocket endpoint and client behaviour.
type Options struct {
	URL               string
	Keepalive         time.Duration
	RequestsPerSecond int
	Burst             int
	ReadBufferBytes   int
	Header            http.Header
}

// OptionsFromConfig maps the streaming configuration section to Options.
func OptionsFromConfig(cfg config.StreamingConfig) Options {
	return Options{
		URL:               cfg.URL,
		Keepalive:         cfg.Keepalive,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.BurstSize,
		ReadBufferBytes:   cfg.ReadBufferBytes,
	}
}

type pendingRequest struct {
	service string
	command string
	ch      chan responseEntry
}

// Streamer is a session.Transport speaking the streamer JSON protocol over
// a gorilla websocket.
type Streamer struct {
	opts     Options
	creds    models.Credentials
	sink     session.EventSink
	timeouts session.Timeouts
	limiter  *rate.Limiter
	dialer   *websocket.Dialer
	log      *logger.Log

	mu           sync.Mutex
	conn         *websocket.Conn
	connID       string
	active       bool
	stopping     bool
	closed       bool
	listenerDone chan struct{}
	pingCancel   context.CancelFunc
	pending      map[string]*pendingRequest
	qos          models.QOS
	serverID     string

	writeMu sync.Mutex
	nextID  atomic.Int64

	lastHeartbeat atomic.Int64
	framesRead    atomic.Int64
	bytesRead     atomic.Int64
	requestsSent  atomic.Int64
	heartbeats    atomic.Int64
	listenTimeout atomic.Int64
}

// NewFactory returns a session.TransportFactory producing Streamers for opts.
func NewFactory(opts Options) session.TransportFactory {
	return func(creds *models.Credentials, sink session.EventSink, timeouts session.Timeouts) (session.Transport, error) {
		return New(opts, creds, sink, timeouts)
	}
}

// New validates the identity and endpoint; no connection is made until Start.
func New(opts Options, creds *models.Credentials, sink session.EventSink, timeouts session.Timeouts) (*Streamer, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("%w: streamer url is required", session.ErrConnection)
	}
	if creds == nil {
		return nil, session.ErrNilCredentials
	}
	if creds.AccountID == "" || creds.Token == "" {
		return nil, fmt.Errorf("%w: account id and token are required", session.ErrAuthentication)
	}
	if creds.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: token expired at %s", session.ErrAuthentication, creds.Expiry.Format(time.RFC3339))
	}
	if sink == nil {
		return nil, session.ErrNilCallback
	}
	if timeouts.Connect <= 0 {
		timeouts.Connect = session.DefaultConnectTimeout
	}
	if timeouts.Listening <= 0 {
		timeouts.Listening = session.DefaultListeningTimeout
	}
	if timeouts.Subscribe <= 0 {
		timeouts.Subscribe = session.DefaultSubscribeTimeout
	}

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Streamer{
		opts:     opts,
		creds:    *creds,
		sink:     sink,
		timeouts: timeouts,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeouts.Connect,
			ReadBufferSize:   opts.ReadBufferBytes,
			Proxy:            http.ProxyFromEnvironment,
		},
		log:     logger.GetLogger(),
		pending: make(map[string]*pendingRequest),
		qos:     models.DefaultQOS,
	}, nil
}

func (s *Streamer) entry() *logger.Entry {
	s.mu.Lock()
	connID := s.connID
	s.mu.Unlock()
	return s.log.WithComponent(component).WithFields(logger.Fields{
		"account":       s.creds.AccountID,
		"connection_id": connID,
	})
}

// Start connects, logs in and sends the initial batch. When the batch gets
// no answer at all the connection stays live and the all-false results are
// returned with an error wrapping session.ErrTimeout.
func (s *Streamer) Start(ctx context.Context, subs []*models.Subscription) ([]bool, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, session.ErrSessionClosed
	}
	if s.active {
		s.mu.Unlock()
		return nil, session.ErrSessionActive
	}
	connID := uuid.NewString()
	if !claimAccount(s.creds.AccountID, connID) {
		s.mu.Unlock()
		return nil, ErrAccountInUse
	}
	s.connID = connID
	s.mu.Unlock()

	conn, err := s.connect(ctx)
	if err != nil {
		releaseAccount(s.creds.AccountID, connID)
		return nil, err
	}

	log := s.entry()
	done := make(chan struct{})
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		closeConn(conn)
		releaseAccount(s.creds.AccountID, connID)
		return nil, session.ErrSessionClosed
	}
	s.conn = conn
	s.active = true
	s.stopping = false
	s.listenerDone = done
	s.pingCancel = startPingLoop(context.Background(), conn, s.opts.Keepalive, log)
	serverID := s.serverID
	s.mu.Unlock()

	go s.listen(conn, done)

	log.WithFields(logger.Fields{"server_id": serverID}).Info("streamer connected")

	if len(subs) == 0 {
		return []bool{}, nil
	}
	results, _, err := s.sendBatch(ctx, subs)
	if err != nil {
		s.entry().WithError(err).Warn("initial subscription batch failed")
		if errors.Is(err, session.ErrTimeout) {
			return results, err
		}
	}
	return results, nil
}

// connect dials and performs the LOGIN handshake.
func (s *Streamer) connect(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.timeouts.Connect)
	defer cancel()

	conn, _, err := s.dialer.DialContext(dialCtx, s.opts.URL, s.opts.Header)
	if err != nil {
		if isTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: dial %s: %v", session.ErrTimeout, s.opts.URL, err)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", session.ErrConnection, s.opts.URL, err)
	}

	if err := s.login(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (s *Streamer) login(ctx context.Context, conn *websocket.Conn) error {
	req := s.newRequest(models.ServiceAdmin.String(), commandLogin, loginParameters(&s.creds))
	if err := s.write(ctx, conn, req); err != nil {
		return fmt.Errorf("%w: send login: %v", session.ErrConnection, err)
	}

	deadline := time.Now().Add(s.timeouts.Listening)
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				return fmt.Errorf("%w: no login response within %s", session.ErrTimeout, s.timeouts.Listening)
			}
			return fmt.Errorf("%w: read login response: %v", session.ErrConnection, err)
		}

		var frame map[string]json.RawMessage
		if err := json.Unmarshal(msg, &frame); err != nil {
			continue
		}
		raw, ok := frame[frameResponse]
		if !ok {
			continue
		}
		var entries []responseEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return fmt.Errorf("%w: invalid login response: %v", session.ErrAuthentication, err)
		}
		for _, resp := range entries {
			if string(resp.RequestID) != req.RequestID {
				continue
			}
			if resp.Service != models.ServiceAdmin.String() || resp.Command != commandLogin {
				return fmt.Errorf("%w: unexpected response %s/%s to login", session.ErrAuthentication, resp.Service, resp.Command)
			}
			if !resp.ok() {
				return fmt.Errorf("%w: code %d: %s", session.ErrAuthentication, resp.Content.Code, resp.Content.Msg)
			}
			s.mu.Lock()
			s.serverID = resp.Content.Msg
			s.mu.Unlock()
			return nil
		}
	}
}

// AddSubscriptions sends a batch on the live connection.
func (s *Streamer) AddSubscriptions(ctx context.Context, subs []*models.Subscription) ([]bool, error) {
	if !s.IsActive() {
		return nil, ErrNotConnected
	}
	results, _, err := s.sendBatch(ctx, subs)
	return results, err
}

// SetQOS requests a new update rate and reports whether the server accepted it.
func (s *Streamer) SetQOS(ctx context.Context, qos models.QOS) (bool, error) {
	if !qos.Valid() {
		return false, session.ErrInvalidQOS
	}
	if !s.IsActive() {
		return false, ErrNotConnected
	}
	req := s.newRequest(models.ServiceAdmin.String(), commandQOS, qosParameters(qos))
	results, _, err := s.exchange(ctx, []request{req}, s.timeouts.Subscribe)
	if err != nil {
		return false, err
	}
	if results[0] {
		s.mu.Lock()
		s.qos = qos
		s.mu.Unlock()
	}
	return results[0], nil
}

// QOS returns the last acknowledged quality of service.
func (s *Streamer) QOS() models.QOS {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.qos
}

// IsActive reports whether the connection is logged in and listening.
func (s *Streamer) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active && !s.stopping
}

// LastHeartbeat returns the server time of the most recent heartbeat.
func (s *Streamer) LastHeartbeat() time.Time {
	ms := s.lastHeartbeat.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Stop logs out and closes the connection. It waits up to LogoutTimeout for
// the logout acknowledgement.
func (s *Streamer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.active || s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	conn := s.conn
	done := s.listenerDone
	s.mu.Unlock()

	req := s.newRequest(models.ServiceAdmin.String(), commandLogout, nil)
	results, _, err := s.exchange(ctx, []request{req}, LogoutTimeout)
	if err != nil || !results[0] {
		s.entry().WithError(err).Warn("logout not acknowledged")
	}

	closeConn(conn)
	<-done
	return nil
}

// Close stops the connection if needed. Repeated calls are no-ops.
func (s *Streamer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.Stop(context.Background())
}

func (s *Streamer) newRequest(service, command string, params map[string]string) request {
	return request{
		Service:    service,
		RequestID:  strconv.FormatInt(s.nextID.Add(1)-1, 10),
		Command:    command,
		Account:    s.creds.AccountID,
		Source:     s.creds.AppID,
		Parameters: params,
	}
}

func (s *Streamer) sendBatch(ctx context.Context, subs []*models.Subscription) ([]bool, int, error) {
	reqs := make([]request, len(subs))
	for i, sub := range subs {
		reqs[i] = s.newRequest(sub.ServiceName(), sub.CommandName(), subscriptionParameters(sub))
	}
	return s.exchange(ctx, reqs, s.timeouts.Subscribe)
}

// exchange sends reqs in one message and waits for their responses. The
// result holds one entry per request; unanswered entries are false. When
// none are answered the error wraps session.ErrTimeout.
func (s *Streamer) exchange(ctx context.Context, reqs []request, timeout time.Duration) ([]bool, int, error) {
	results := make([]bool, len(reqs))

	s.mu.Lock()
	conn := s.conn
	done := s.listenerDone
	waits := make([]*pendingRequest, len(reqs))
	for i, req := range reqs {
		p := &pendingRequest{service: req.Service, command: req.Command, ch: make(chan responseEntry, 1)}
		s.pending[req.RequestID] = p
		waits[i] = p
	}
	s.mu.Unlock()

	if conn == nil {
		s.forget(reqs)
		return results, 0, ErrNotConnected
	}

	if err := s.write(ctx, conn, reqs...); err != nil {
		s.forget(reqs)
		return results, 0, fmt.Errorf("%w: %v", session.ErrConnection, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	answered := 0
	expired := false
	for i, p := range waits {
		if expired {
			select {
			case resp := <-p.ch:
				results[i] = resp.ok()
				answered++
			default:
			}
			continue
		}
		select {
		case resp := <-p.ch:
			results[i] = resp.ok()
			answered++
		case <-timer.C:
			expired = true
		case <-done:
			expired = true
		case <-ctx.Done():
			expired = true
		}
	}
	s.forget(reqs)

	if answered == 0 {
		return results, 0, fmt.Errorf("%w: no response to %d request(s) within %s", session.ErrTimeout, len(reqs), timeout)
	}
	return results, answered, nil
}

func (s *Streamer) forget(reqs []request) {
	s.mu.Lock()
	for _, req := range reqs {
		delete(s.pending, req.RequestID)
	}
	s.mu.Unlock()
}

func (s *Streamer) write(ctx context.Context, conn *websocket.Conn, reqs ...request) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	data, err := json.Marshal(requestEnvelope{Requests: reqs})
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.timeouts.Connect))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	s.requestsSent.Add(int64(len(reqs)))
	logger.RecordChannelMessage(channelName+"_out", len(data))
	return nil
}

// listen is the only goroutine that calls the sink once the connection is live.
func (s *Streamer) listen(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	s.emit(models.CallbackListeningStart, models.ServiceNone, 0, nil)

	kind := models.CallbackListeningStop
	var payload []byte
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.timeouts.Listening))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			stopping := s.stopping
			s.mu.Unlock()
			switch {
			case stopping:
			case isTimeout(err):
				kind = models.CallbackTimeout
				s.listenTimeout.Add(1)
				s.entry().Warn("no frames within listening timeout; resetting connection")
			default:
				kind = models.CallbackError
				payload, _ = json.Marshal(map[string]string{"error": err.Error()})
				s.entry().WithError(err).Error("streamer read failed")
			}
			break
		}
		s.handleFrame(msg)
	}

	s.teardown(conn)
	s.emit(kind, models.ServiceNone, 0, payload)
}

func (s *Streamer) teardown(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	if s.pingCancel != nil {
		s.pingCancel()
		s.pingCancel = nil
	}
	connID := s.connID
	s.conn = nil
	s.active = false
	s.stopping = false
	s.mu.Unlock()

	_ = conn.Close()
	releaseAccount(s.creds.AccountID, connID)

	metrics.ReportStreamer(s.log, metrics.StreamerStats{
		ConnectionID:  connID,
		FramesRead:    s.framesRead.Load(),
		BytesRead:     s.bytesRead.Load(),
		RequestsSent:  s.requestsSent.Load(),
		Heartbeats:    s.heartbeats.Load(),
		ListenTimeout: s.listenTimeout.Load(),
	})
	s.log.WithComponent(component).WithFields(logger.Fields{"connection_id": connID}).Info("streamer disconnected")
}

func (s *Streamer) emit(kind models.CallbackKind, service models.ServiceType, ts int64, payload []byte) {
	s.sink(models.RawEvent{Kind: kind, Service: service, Timestamp: ts, Payload: payload})
}

func (s *Streamer) handleFrame(msg []byte) {
	s.framesRead.Add(1)
	s.bytesRead.Add(int64(len(msg)))
	logger.RecordChannelMessage(channelName, len(msg))

	var frame map[string]json.RawMessage
	if err := json.Unmarshal(msg, &frame); err != nil || len(frame) == 0 {
		metrics.EmitDropMetric(s.log, metrics.DropMetricMalformedFrame, "", "decode")
		s.emit(models.CallbackData, models.ServiceNone, 0, nil)
		return
	}

	for _, key := range frameSections(frame) {
		raw := frame[key]
		switch key {
		case frameResponse:
			var entries []json.RawMessage
			if err := json.Unmarshal(raw, &entries); err != nil {
				s.entry().WithError(err).Warn("invalid response frame")
				continue
			}
			for _, e := range entries {
				s.handleResponse(e)
			}
		case frameNotify:
			var entries []json.RawMessage
			if err := json.Unmarshal(raw, &entries); err != nil {
				s.entry().WithError(err).Warn("invalid notify frame")
				continue
			}
			for _, e := range entries {
				s.handleNotify(e)
			}
		case frameData:
			var entries []dataEntry
			if err := json.Unmarshal(raw, &entries); err != nil {
				metrics.EmitDropMetric(s.log, metrics.DropMetricMalformedFrame, "", "data")
				s.emit(models.CallbackData, models.ServiceNone, 0, nil)
				continue
			}
			for _, e := range entries {
				s.emit(models.CallbackData, parseService(e.Service), e.Timestamp, e.Content)
			}
		case frameSnapshot:
			s.entry().Debug("ignoring snapshot frame")
			metrics.EmitDropMetric(s.log, metrics.DropMetricSnapshot, "", "listener")
		default:
			s.entry().WithFields(logger.Fields{"frame": key}).Warn("unknown frame type")
			metrics.EmitDropMetric(s.log, metrics.DropMetricMalformedFrame, "", key)
		}
	}
}

func (s *Streamer) handleResponse(raw json.RawMessage) {
	var resp responseEntry
	if err := json.Unmarshal(raw, &resp); err != nil {
		s.entry().WithError(err).Warn("invalid response entry")
		return
	}

	s.mu.Lock()
	p, ok := s.pending[string(resp.RequestID)]
	if ok {
		delete(s.pending, string(resp.RequestID))
	}
	s.mu.Unlock()

	if !ok {
		s.entry().WithFields(logger.Fields{"requestid": string(resp.RequestID)}).Debug("response to unknown request")
	} else {
		if resp.Service != p.service || resp.Command != p.command {
			s.entry().WithFields(logger.Fields{
				"requestid": string(resp.RequestID),
				"expected":  p.service + "/" + p.command,
				"received":  resp.Service + "/" + resp.Command,
			}).Warn("response does not match request")
			resp.Content.Code = -1
		}
		p.ch <- resp
	}

	s.emit(models.CallbackRequestResponse, parseService(resp.Service), resp.Timestamp, raw)
}

func (s *Streamer) handleNotify(raw json.RawMessage) {
	var n notifyEntry
	if err := json.Unmarshal(raw, &n); err == nil && n.Heartbeat != nil {
		if ms, err := strconv.ParseInt(string(*n.Heartbeat), 10, 64); err == nil {
			s.lastHeartbeat.Store(ms)
		}
		s.heartbeats.Add(1)
		return
	}
	s.emit(models.CallbackNotify, models.ServiceNone, 0, raw)
}
