package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"streamflow/logger"
)

type cloudWatchState struct {
	client        *cloudwatch.Client
	namespace     string
	dashboardName string
	region        string
}

var cwState atomic.Pointer[cloudWatchState]

var (
	// cloudWatchPublishInterval bounds how often one metric series is sent.
	cloudWatchPublishInterval = 30 * time.Second
	timeNow                   = time.Now
	publishMetricsFunc        = publishMetrics

	lastPublishMu sync.Mutex
	lastPublish   = map[string]time.Time{}
)

func init() {
	cwState.Store(&cloudWatchState{
		namespace:     "StreamFlow",
		dashboardName: "StreamFlow",
	})
}

// InitCloudWatch creates the CloudWatch client and publishes the dashboard.
// When the AWS configuration cannot be loaded publishing stays disabled.
func InitCloudWatch(region, namespace, dashboard string, interval time.Duration) {
	log := logger.GetLogger().WithComponent("cloudwatch")

	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if interval > 0 {
		cloudWatchPublishInterval = interval
	}

	ctx := context.Background()
	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	state := cloudWatchState{}
	if current := cwState.Load(); current != nil {
		state = *current
	}

	state.client = cloudwatch.NewFromConfig(cfg)
	if namespace != "" {
		state.namespace = namespace
	}
	if dashboard != "" {
		state.dashboardName = dashboard
	}
	state.region = region
	if cfg.Region != "" {
		state.region = cfg.Region
	}

	cwState.Store(&state)

	log.WithFields(logger.Fields{
		"region":    state.region,
		"namespace": state.namespace,
	}).Info("initialized CloudWatch client")

	if err := CreateDashboard(ctx); err != nil {
		log.WithError(err).Warn("failed to create CloudWatch dashboard")
	}
}

// EmitMetric logs the metric, hands it to registered handlers and publishes
// numeric values to CloudWatch when a client is configured.
func EmitMetric(log *logger.Log, component string, metric string, value interface{}, metricType string, fields logger.Fields) {
	metricEvent, ok := recordMetric(log, component, metric, value, metricType, fields)
	if !ok {
		return
	}

	numericValue, ok := toFloat64(metricEvent.Value)
	if !ok {
		logger.GetLogger().WithComponent("cloudwatch").WithFields(logger.Fields{"metric": metricEvent.Name}).Debug("non-numeric metric value; skipping publish")
		return
	}

	publishMetricDatum(metricEvent, numericValue)
}

// PublishReport sends the periodic runtime report as CloudWatch metrics.
func PublishReport(ctx context.Context, r logger.Report) {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}

	data := []cwtypes.MetricDatum{
		datum("Goroutines", float64(r.Goroutines), cwtypes.StandardUnitCount, nil),
		datum("HeapMB", float64(r.HeapMB), cwtypes.StandardUnitMegabytes, nil),
	}
	for kind, n := range r.Callbacks {
		data = append(data, datum("CallbackEvents", float64(n), cwtypes.StandardUnitCount, dimension("Kind", kind)))
	}
	for component, n := range r.Warns {
		data = append(data, datum("Warnings", float64(n), cwtypes.StandardUnitCount, dimension("component", component)))
	}
	for component, n := range r.Errors {
		data = append(data, datum("Errors", float64(n), cwtypes.StandardUnitCount, dimension("component", component)))
	}
	for name, stats := range r.Channels {
		data = append(data,
			datum("ChannelMessages", float64(stats["messages"]), cwtypes.StandardUnitCount, dimension("Channel", name)),
			datum("ChannelBytes", float64(stats["bytes"]), cwtypes.StandardUnitBytes, dimension("Channel", name)),
		)
	}

	publishMetricsFunc(ctx, state, data)
}

// CreateDashboard builds the dashboard definition for the configured namespace
// and region and stores it in CloudWatch.
func CreateDashboard(ctx context.Context) error {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	body, err := dashboardBody(state.namespace, state.region)
	if err != nil {
		return err
	}

	_, err = state.client.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(state.dashboardName),
		DashboardBody: aws.String(body),
	})
	if err != nil {
		return err
	}

	logger.GetLogger().WithComponent("cloudwatch").Debug("updated CloudWatch dashboard")
	return nil
}

type dashboardWidget struct {
	Type       string                 `json:"type"`
	X          int                    `json:"x"`
	Y          int                    `json:"y"`
	Width      int                    `json:"width"`
	Height     int                    `json:"height"`
	Properties map[string]interface{} `json:"properties"`
}

var dashboardPanels = []struct {
	title   string
	metrics [][]string
}{
	{"Session", [][]string{{"session_start", "component", ComponentSession}, {"subscriptions_accepted", "component", ComponentSession}, {"subscriptions_rejected", "component", ComponentSession}, {"qos_changes", "component", ComponentSession}}},
	{"Streamer", [][]string{{"frames_read", "component", ComponentStreamer}, {"heartbeats", "component", ComponentStreamer}, {"listen_timeouts", "component", ComponentStreamer}}},
	{"Recorder", [][]string{{"files_written", "component", ComponentRecorder}, {"errors_count", "component", ComponentRecorder}}},
	{"Runtime", [][]string{{"Goroutines"}, {"HeapMB"}}},
}

func dashboardBody(namespace, region string) (string, error) {
	if region == "" {
		region = "us-east-1"
	}
	widgets := make([]dashboardWidget, 0, len(dashboardPanels))
	for i, panel := range dashboardPanels {
		rows := make([][]string, 0, len(panel.metrics))
		for _, m := range panel.metrics {
			rows = append(rows, append([]string{namespace}, m...))
		}
		widgets = append(widgets, dashboardWidget{
			Type:   "metric",
			X:      (i % 2) * 12,
			Y:      (i / 2) * 6,
			Width:  12,
			Height: 6,
			Properties: map[string]interface{}{
				"title":   panel.title,
				"region":  region,
				"stat":    "Sum",
				"period":  60,
				"view":    "timeSeries",
				"metrics": rows,
			},
		})
	}

	body, err := json.Marshal(map[string]interface{}{"widgets": widgets})
	if err != nil {
		return "", fmt.Errorf("encode dashboard: %w", err)
	}
	return string(body), nil
}

func publishMetricDatum(metric Metric, value float64) {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}

	key := metric.Component + "/" + metric.Name
	now := timeNow()
	lastPublishMu.Lock()
	if last, ok := lastPublish[key]; ok && now.Sub(last) < cloudWatchPublishInterval {
		lastPublishMu.Unlock()
		return
	}
	lastPublish[key] = now
	lastPublishMu.Unlock()

	unit := cwtypes.StandardUnitCount
	if rawUnit, ok := metric.Fields["unit"]; ok {
		if unitStr, ok := rawUnit.(string); ok {
			if parsedUnit, found := metricUnitFromString(unitStr); found {
				unit = parsedUnit
			} else {
				logger.GetLogger().WithComponent("cloudwatch").WithFields(logger.Fields{"metric": metric.Name, "unit": unitStr}).Debug("unsupported metric unit; defaulting to Count")
			}
		}
	}

	dims := dimension("component", metric.Component)
	for k, v := range metric.Fields {
		if k == "unit" {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			dims = append(dims, dimension(k, s)...)
		}
	}

	d := datum(metric.Name, value, unit, dims)
	if !metric.Timestamp.IsZero() {
		d.Timestamp = aws.Time(metric.Timestamp)
	}
	publishMetricsFunc(context.Background(), state, []cwtypes.MetricDatum{d})
}

func resetMetricPublishTimes() {
	lastPublishMu.Lock()
	lastPublish = map[string]time.Time{}
	lastPublishMu.Unlock()
}

func publishMetrics(ctx context.Context, state *cloudWatchState, data []cwtypes.MetricDatum) {
	if state == nil || state.client == nil || len(data) == 0 {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := state.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(state.namespace),
		MetricData: data,
	}); err != nil {
		logger.GetLogger().WithComponent("cloudwatch").WithError(err).Warn("failed to publish CloudWatch metrics")
		return
	}

	names := make([]string, 0, len(data))
	for _, d := range data {
		if d.MetricName != nil {
			names = append(names, *d.MetricName)
		}
	}
	logger.GetLogger().WithComponent("cloudwatch").WithFields(logger.Fields{"metrics": strings.Join(names, ",")}).Debug("published metrics to CloudWatch")
}

func datum(name string, value float64, unit cwtypes.StandardUnit, dims []cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Dimensions: dims,
		Unit:       unit,
		Value:      aws.Float64(value),
	}
}

func dimension(name, value string) []cwtypes.Dimension {
	return []cwtypes.Dimension{{Name: aws.String(name), Value: aws.String(value)}}
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func metricUnitFromString(unit string) (cwtypes.StandardUnit, bool) {
	switch strings.ToLower(unit) {
	case "count":
		return cwtypes.StandardUnitCount, true
	case "percent":
		return cwtypes.StandardUnitPercent, true
	case "bytes":
		return cwtypes.StandardUnitBytes, true
	case "milliseconds":
		return cwtypes.StandardUnitMilliseconds, true
	default:
		return cwtypes.StandardUnitCount, false
	}
}
