package streamer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamflow/models"
	"streamflow/session"
)

// fakeServer answers streamer requests over an httptest websocket.
type fakeServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu          sync.Mutex
	conn        *websocket.Conn
	loginCode   int
	silentLogin bool
	silentSubs  bool
	reject      map[string]bool
	requests    []request
	onLogin     func()
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{reject: map[string]bool{}}
	fs.srv = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	fs.mu.Lock()
	fs.conn = conn
	fs.mu.Unlock()
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env requestEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			continue
		}
		for _, req := range env.Requests {
			fs.mu.Lock()
			fs.requests = append(fs.requests, req)
			code, silent := 0, false
			switch req.Command {
			case commandLogin:
				code, silent = fs.loginCode, fs.silentLogin
				if fs.onLogin != nil {
					hook := fs.onLogin
					fs.mu.Unlock()
					hook()
					fs.mu.Lock()
				}
			case commandLogout, commandQOS:
			default:
				silent = fs.silentSubs
				if fs.reject[req.Parameters["keys"]] {
					code = 11
				}
			}
			fs.mu.Unlock()
			if silent {
				continue
			}
			fs.push(fmt.Sprintf(`{"response":[{"service":%q,"requestid":%q,"command":%q,"timestamp":1700000000000,"content":{"code":%d,"msg":"server-1"}}]}`,
				req.Service, req.RequestID, req.Command, code))
		}
	}
}

func (fs *fakeServer) push(frame string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.conn != nil {
		_ = fs.conn.WriteMessage(websocket.TextMessage, []byte(frame))
	}
}

func (fs *fakeServer) dropConnection() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.conn != nil {
		_ = fs.conn.Close()
	}
}

func (fs *fakeServer) received() []request {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]request(nil), fs.requests...)
}

func (fs *fakeServer) commands() []string {
	var out []string
	for _, r := range fs.received() {
		out = append(out, r.Service+"/"+r.Command)
	}
	return out
}

type sinkRecorder struct {
	events chan models.RawEvent
}

func newSinkRecorder() *sinkRecorder {
	return &sinkRecorder{events: make(chan models.RawEvent, 64)}
}

func (r *sinkRecorder) sink(ev models.RawEvent) { r.events <- ev }

// waitFor returns the next event of kind, skipping others.
func (r *sinkRecorder) waitFor(t *testing.T, kind models.CallbackKind) models.RawEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-r.events:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
			return models.RawEvent{}
		}
	}
}

var testTimeouts = session.Timeouts{Connect: time.Second, Listening: 2 * time.Second, Subscribe: 300 * time.Millisecond}

func testCreds(account string) *models.Credentials {
	return &models.Credentials{AccountID: account, AppID: "app", Token: "tok", Credential: "cred"}
}

func newTestStreamer(t *testing.T, fs *fakeServer, account string, timeouts session.Timeouts) (*Streamer, *sinkRecorder) {
	t.Helper()
	rec := newSinkRecorder()
	s, err := New(Options{URL: fs.url(), RequestsPerSecond: 1000, Burst: 100}, testCreds(account), rec.sink, timeouts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, rec
}

func quote(t *testing.T, symbols ...string) *models.Subscription {
	t.Helper()
	sub, err := models.NewQuotesSubscription(symbols, []models.FieldID{0, 1, 2})
	require.NoError(t, err)
	return sub
}

func TestNewValidatesIdentity(t *testing.T) {
	sink := func(models.RawEvent) {}

	_, err := New(Options{}, testCreds("a"), sink, testTimeouts)
	assert.ErrorIs(t, err, session.ErrConnection)

	_, err = New(Options{URL: "ws://x"}, &models.Credentials{AccountID: "a"}, sink, testTimeouts)
	assert.ErrorIs(t, err, session.ErrAuthentication)

	expired := testCreds("a")
	expired.Expiry = time.Now().Add(-time.Minute)
	_, err = New(Options{URL: "ws://x"}, expired, sink, testTimeouts)
	assert.ErrorIs(t, err, session.ErrAuthentication)

	_, err = New(Options{URL: "ws://x"}, testCreds("a"), nil, testTimeouts)
	assert.ErrorIs(t, err, session.ErrNilCallback)
}

func TestStartLogsInAndSendsBatch(t *testing.T) {
	fs := newFakeServer(t)
	fs.reject["QQQ"] = true
	s, rec := newTestStreamer(t, fs, "acct-start", testTimeouts)

	results, err := s.Start(context.Background(), []*models.Subscription{quote(t, "spy"), quote(t, "qqq")})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, results)
	assert.True(t, s.IsActive())
	assert.True(t, AccountInUse("acct-start"))

	rec.waitFor(t, models.CallbackListeningStart)
	resp := rec.waitFor(t, models.CallbackRequestResponse)
	assert.Equal(t, models.ServiceQuote, resp.Service)
	assert.Equal(t, int64(1700000000000), resp.Timestamp)

	reqs := fs.received()
	require.GreaterOrEqual(t, len(reqs), 3)
	login := reqs[0]
	assert.Equal(t, "ADMIN", login.Service)
	assert.Equal(t, commandLogin, login.Command)
	assert.Equal(t, "acct-start", login.Account)
	assert.Equal(t, "app", login.Source)
	assert.Equal(t, map[string]string{"token": "tok", "version": "1.0", "credential": "cred"}, login.Parameters)
	assert.Equal(t, "QUOTE", reqs[1].Service)
	assert.Equal(t, "SUBS", reqs[1].Command)
	assert.Equal(t, "0,1,2", reqs[1].Parameters["fields"])
}

func TestStartLoginRejected(t *testing.T) {
	fs := newFakeServer(t)
	fs.loginCode = 3
	s, _ := newTestStreamer(t, fs, "acct-rejected", testTimeouts)

	_, err := s.Start(context.Background(), []*models.Subscription{quote(t, "SPY")})
	assert.ErrorIs(t, err, session.ErrAuthentication)
	assert.False(t, s.IsActive())
	assert.False(t, AccountInUse("acct-rejected"))
}

func TestStartLoginTimeout(t *testing.T) {
	fs := newFakeServer(t)
	fs.silentLogin = true
	timeouts := testTimeouts
	timeouts.Listening = 150 * time.Millisecond
	s, _ := newTestStreamer(t, fs, "acct-silent", timeouts)

	_, err := s.Start(context.Background(), nil)
	assert.ErrorIs(t, err, session.ErrTimeout)
	assert.False(t, AccountInUse("acct-silent"))
}

func TestStartDialFailure(t *testing.T) {
	rec := newSinkRecorder()
	s, err := New(Options{URL: "ws://127.0.0.1:1/ws"}, testCreds("acct-dial"), rec.sink, testTimeouts)
	require.NoError(t, err)

	_, err = s.Start(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, session.ErrConnection) || errors.Is(err, session.ErrTimeout))
	assert.False(t, AccountInUse("acct-dial"))
}

func TestOneConnectionPerAccount(t *testing.T) {
	fs := newFakeServer(t)
	first, _ := newTestStreamer(t, fs, "acct-shared", testTimeouts)
	second, _ := newTestStreamer(t, fs, "acct-shared", testTimeouts)

	_, err := first.Start(context.Background(), nil)
	require.NoError(t, err)

	_, err = second.Start(context.Background(), nil)
	assert.ErrorIs(t, err, ErrAccountInUse)

	require.NoError(t, first.Stop(context.Background()))
	_, err = second.Start(context.Background(), nil)
	assert.NoError(t, err)
}

func TestListenerRoutesFrames(t *testing.T) {
	fs := newFakeServer(t)
	s, rec := newTestStreamer(t, fs, "acct-frames", testTimeouts)

	_, err := s.Start(context.Background(), nil)
	require.NoError(t, err)
	rec.waitFor(t, models.CallbackListeningStart)

	fs.push(`{"notify":[{"heartbeat":"1700000000123"}]}`)
	fs.push(`{"snapshot":[{"service":"NEWS_HEADLINE_LIST"}]}`)
	fs.push(`{"data":[{"service":"QUOTE","timestamp":5,"command":"SUBS","content":[{"key":"SPY","1":101.5}]}]}`)
	fs.push(`{"notify":[{"service":"ADMIN","content":{"code":30,"msg":"Stop streaming due to empty subscription"}}]}`)
	fs.push(`not json`)

	data := rec.waitFor(t, models.CallbackData)
	assert.Equal(t, models.ServiceQuote, data.Service)
	assert.Equal(t, int64(5), data.Timestamp)
	assert.JSONEq(t, `[{"key":"SPY","1":101.5}]`, string(data.Payload))

	notify := rec.waitFor(t, models.CallbackNotify)
	assert.Contains(t, string(notify.Payload), "empty subscription")

	bad := rec.waitFor(t, models.CallbackData)
	assert.Equal(t, models.ServiceNone, bad.Service)
	assert.Nil(t, bad.Payload)

	assert.Equal(t, int64(1700000000123), s.LastHeartbeat().UnixMilli())
}

func TestFrameSectionsDeliveredInFixedOrder(t *testing.T) {
	fs := newFakeServer(t)
	s, rec := newTestStreamer(t, fs, "acct-order", testTimeouts)

	_, err := s.Start(context.Background(), nil)
	require.NoError(t, err)
	rec.waitFor(t, models.CallbackListeningStart)

	for i := 0; i < 20; i++ {
		fs.push(`{"data":[{"service":"QUOTE","timestamp":9,"content":[]}],"notify":[{"service":"ADMIN","content":{"code":0}}]}`)
		first := <-rec.events
		second := <-rec.events
		require.Equal(t, models.CallbackNotify, first.Kind, "iteration %d", i)
		require.Equal(t, models.CallbackData, second.Kind, "iteration %d", i)
	}

	fs.push(`{"data":[{"service":"QUOTE","timestamp":9,"content":[]}],"response":[{"service":"QUOTE","requestid":"999","command":"SUBS","content":{"code":0}}]}`)
	assert.Equal(t, models.CallbackRequestResponse, (<-rec.events).Kind)
	assert.Equal(t, models.CallbackData, (<-rec.events).Kind)
}

func TestListeningTimeoutResetsConnection(t *testing.T) {
	fs := newFakeServer(t)
	timeouts := testTimeouts
	timeouts.Listening = 200 * time.Millisecond
	s, rec := newTestStreamer(t, fs, "acct-quiet", timeouts)

	_, err := s.Start(context.Background(), nil)
	require.NoError(t, err)

	rec.waitFor(t, models.CallbackTimeout)
	assert.Eventually(t, func() bool { return !s.IsActive() }, time.Second, 10*time.Millisecond)
	assert.False(t, AccountInUse("acct-quiet"))
}

func TestServerDisconnectEmitsError(t *testing.T) {
	fs := newFakeServer(t)
	s, rec := newTestStreamer(t, fs, "acct-drop", testTimeouts)

	_, err := s.Start(context.Background(), nil)
	require.NoError(t, err)
	rec.waitFor(t, models.CallbackListeningStart)

	fs.dropConnection()
	ev := rec.waitFor(t, models.CallbackError)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.NotEmpty(t, payload["error"])
	assert.Eventually(t, func() bool { return !s.IsActive() }, time.Second, 10*time.Millisecond)
}

func TestStopLogsOut(t *testing.T) {
	fs := newFakeServer(t)
	s, rec := newTestStreamer(t, fs, "acct-stop", testTimeouts)

	_, err := s.Start(context.Background(), nil)
	require.NoError(t, err)

	require.NoError(t, s.Stop(context.Background()))
	rec.waitFor(t, models.CallbackListeningStop)
	assert.False(t, s.IsActive())
	assert.False(t, AccountInUse("acct-stop"))
	assert.Contains(t, fs.commands(), "ADMIN/LOGOUT")

	assert.NoError(t, s.Stop(context.Background()))
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestSetQOS(t *testing.T) {
	fs := newFakeServer(t)
	s, _ := newTestStreamer(t, fs, "acct-qos", testTimeouts)

	ok, err := s.SetQOS(context.Background(), models.QOSExpress)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, ok)

	_, err = s.Start(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultQOS, s.QOS())

	ok, err = s.SetQOS(context.Background(), models.QOSExpress)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.QOSExpress, s.QOS())

	reqs := fs.received()
	last := reqs[len(reqs)-1]
	assert.Equal(t, commandQOS, last.Command)
	assert.Equal(t, "0", last.Parameters["qoslevel"])
}

func TestAddSubscriptionsWithoutResponseTimesOut(t *testing.T) {
	fs := newFakeServer(t)
	s, _ := newTestStreamer(t, fs, "acct-add", testTimeouts)

	_, err := s.AddSubscriptions(context.Background(), []*models.Subscription{quote(t, "SPY")})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = s.Start(context.Background(), nil)
	require.NoError(t, err)

	fs.mu.Lock()
	fs.silentSubs = true
	fs.mu.Unlock()

	results, err := s.AddSubscriptions(context.Background(), []*models.Subscription{quote(t, "SPY"), quote(t, "IWM")})
	assert.ErrorIs(t, err, session.ErrTimeout)
	assert.Equal(t, []bool{false, false}, results)
}

func TestStartBatchWithoutResponseTimesOut(t *testing.T) {
	fs := newFakeServer(t)
	fs.silentSubs = true
	s, _ := newTestStreamer(t, fs, "acct-silent-batch", testTimeouts)

	results, err := s.Start(context.Background(), []*models.Subscription{quote(t, "SPY")})
	assert.ErrorIs(t, err, session.ErrTimeout)
	assert.Equal(t, []bool{false}, results)
	assert.True(t, s.IsActive())
}

func TestCloseDuringLoginAbortsStart(t *testing.T) {
	fs := newFakeServer(t)
	s, _ := newTestStreamer(t, fs, "acct-close-login", testTimeouts)
	fs.mu.Lock()
	fs.onLogin = func() { _ = s.Close() }
	fs.mu.Unlock()

	_, err := s.Start(context.Background(), []*models.Subscription{quote(t, "SPY")})
	assert.ErrorIs(t, err, session.ErrSessionClosed)
	assert.False(t, s.IsActive())
	assert.False(t, AccountInUse("acct-close-login"))
}

func TestSessionStartBatchTimeoutRaisesTimeoutEvent(t *testing.T) {
	fs := newFakeServer(t)
	fs.silentSubs = true

	events := make(chan models.CallbackKind, 32)
	cb := func(kind models.CallbackKind, _ models.ServiceType, _ int64, _ interface{}) {
		events <- kind
	}
	opts := Options{URL: fs.url(), RequestsPerSecond: 1000, Burst: 100}
	sess, err := session.New(testCreds("acct-session-silent"), cb, NewFactory(opts), testTimeouts)
	require.NoError(t, err)
	defer sess.Close()

	results, err := sess.Start(context.Background(), quote(t, "SPY"))
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, results)
	assert.True(t, sess.IsActive())

	deadline := time.After(3 * time.Second)
	for {
		select {
		case kind := <-events:
			if kind == models.CallbackTimeout {
				return
			}
		case <-deadline:
			t.Fatal("timeout event not delivered")
		}
	}
}

func TestSessionOverStreamer(t *testing.T) {
	fs := newFakeServer(t)

	events := make(chan models.CallbackKind, 32)
	cb := func(kind models.CallbackKind, _ models.ServiceType, _ int64, _ interface{}) {
		events <- kind
	}
	opts := Options{URL: fs.url(), RequestsPerSecond: 1000, Burst: 100}
	sess, err := session.New(testCreds("acct-session"), cb, NewFactory(opts), testTimeouts)
	require.NoError(t, err)
	defer sess.Close()

	results, err := sess.Start(context.Background(), quote(t, "SPY"))
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, results)
	assert.True(t, sess.IsActive())

	ok, err := sess.SetQOS(context.Background(), models.QOSSlow)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.QOSSlow, sess.GetQOS())

	require.NoError(t, sess.Stop(context.Background()))
	assert.False(t, sess.IsActive())

	seen := map[models.CallbackKind]bool{}
	deadline := time.After(3 * time.Second)
	for !seen[models.CallbackListeningStop] {
		select {
		case kind := <-events:
			seen[kind] = true
		case <-deadline:
			t.Fatalf("listening stop not delivered, saw %v", seen)
		}
	}
	assert.True(t, seen[models.CallbackListeningStart])
	assert.True(t, seen[models.CallbackRequestResponse])
}
