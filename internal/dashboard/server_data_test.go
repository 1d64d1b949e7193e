package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamflow/config"
	"streamflow/internal/metrics"
	"streamflow/logger"
	"streamflow/models"
)

type fakeStatus struct {
	active bool
	qos    models.QOS
	subs   []*models.Subscription
}

func (f *fakeStatus) IsActive() bool                        { return f.active }
func (f *fakeStatus) GetQOS() models.QOS                    { return f.qos }
func (f *fakeStatus) Subscriptions() []*models.Subscription { return f.subs }

func newTestServer(t *testing.T, status StatusProvider) (*Server, http.Handler) {
	t.Helper()
	srv, err := NewServer(config.DashboardConfig{Enabled: true, MaxMetrics: 10, MaxLogs: 10}, logger.Logger(), status)
	require.NoError(t, err)
	require.NotNil(t, srv)
	t.Cleanup(srv.cleanup)

	router, err := srv.buildRouter()
	require.NoError(t, err)
	return srv, router
}

func get(t *testing.T, h http.Handler, target string) map[string]interface{} {
	t.Helper()
	res := httptest.NewRecorder()
	h.ServeHTTP(res, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusOK, res.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	return body
}

func TestStatusEndpointReportsSession(t *testing.T) {
	quotes, err := models.NewQuotesSubscription([]string{"SPY", "QQQ"}, []models.FieldID{0, 1})
	require.NoError(t, err)
	options, err := models.NewOptionsSubscription([]string{"SPY_081718C276"}, []models.FieldID{0})
	require.NoError(t, err)

	_, router := newTestServer(t, &fakeStatus{
		active: true,
		qos:    models.QOSExpress,
		subs:   []*models.Subscription{quotes, options},
	})

	body := get(t, router, "/api/status")
	assert.Equal(t, true, body["active"])
	assert.Equal(t, models.QOSExpress.String(), body["qos"])
	assert.EqualValues(t, 2, body["subscription_count"])
	assert.Equal(t, []interface{}{"OPTION", "QUOTE"}, body["services"])
}

func TestMetricsEndpointEmitsStoredMetrics(t *testing.T) {
	srv, router := newTestServer(t, &fakeStatus{})
	log := logger.Logger()

	metrics.EmitMetric(log, metrics.ComponentQueues, "recorder_length", 5, "gauge", logger.Fields{"capacity": 10})
	metrics.EmitMetric(log, metrics.ComponentStreamer, "frames_read", 7, "counter", nil)
	require.NotEmpty(t, srv.metricStore.snapshot())

	body := get(t, router, "/api/metrics?component="+metrics.ComponentStreamer)
	list, ok := body["metrics"].([]interface{})
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Equal(t, "frames_read", list[0].(map[string]interface{})["name"])
}

func TestLogsEndpointReturnsHookedRecords(t *testing.T) {
	srv, router := newTestServer(t, &fakeStatus{})
	srv.log.WithComponent("streaming_session").Info("session started")
	srv.log.WithComponent("recorder").Info("flushed")

	body := get(t, router, "/api/logs?component=streaming_session")
	list, ok := body["logs"].([]interface{})
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Equal(t, "session started", list[0].(map[string]interface{})["message"])
}

func TestServiceTotalsEndpointAggregatesCounters(t *testing.T) {
	_, router := newTestServer(t, &fakeStatus{})
	log := logger.Logger()

	metrics.EmitMetric(log, metrics.ComponentStreamer, "events_read", 3, "counter", logger.Fields{"service": "QUOTE"})
	metrics.EmitMetric(log, metrics.ComponentStreamer, "events_read", 4, "counter", logger.Fields{"service": "QUOTE"})
	metrics.EmitMetric(log, metrics.ComponentStreamer, "events_read", 1, "counter", logger.Fields{"service": "OPTION"})

	body := get(t, router, "/api/metrics/services")
	list, ok := body["services"].([]interface{})
	require.True(t, ok)
	require.Len(t, list, 2)

	option := list[0].(map[string]interface{})
	quote := list[1].(map[string]interface{})
	assert.Equal(t, "OPTION", option["service"])
	assert.Equal(t, "QUOTE", quote["service"])
	assert.EqualValues(t, 7, quote["counters"].(map[string]interface{})["events_read"])

	filtered := get(t, router, "/api/metrics?service=OPTION")
	assert.Len(t, filtered["metrics"], 1)
}
