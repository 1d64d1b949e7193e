package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"

	appconfig "streamflow/config"
	"streamflow/internal/metrics"
	"streamflow/logger"
	"streamflow/models"
)

const component = "recorder"

// Recorder buffers DATA events per service and uploads them to S3 as
// Parquet files. Record never performs I/O, so it is safe to call from the
// session's delivery goroutine.
type Recorder struct {
	cfg      appconfig.RecorderConfig
	bucket   string
	uploader ObjectUploader
	codec    parquet.CompressionCodec
	log      *logger.Log
	now      func() time.Time

	mu       sync.Mutex
	buffer   map[models.ServiceType][]eventRecord
	buffered int
	running  bool

	flushReq chan models.ServiceType
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	eventsBuffered atomic.Int64
	filesWritten   atomic.Int64
	bytesWritten   atomic.Int64
	errorsCount    atomic.Int64
}

// NewRecorder validates the recorder section and binds it to an uploader.
func NewRecorder(cfg appconfig.RecorderConfig, bucket string, uploader ObjectUploader) (*Recorder, error) {
	if uploader == nil {
		return nil, fmt.Errorf("recorder requires an uploader")
	}
	if bucket == "" {
		return nil, fmt.Errorf("recorder requires a bucket")
	}
	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 10000
	}
	if cfg.MaxBuffered < cfg.MaxEvents {
		cfg.MaxBuffered = cfg.MaxEvents * 10
	}
	return &Recorder{
		cfg:      cfg,
		bucket:   bucket,
		uploader: uploader,
		codec:    codec,
		log:      logger.GetLogger(),
		now:      time.Now,
		buffer:   make(map[models.ServiceType][]eventRecord),
		flushReq: make(chan models.ServiceType, 16),
	}, nil
}

// Start launches the flush goroutine.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("recorder already running")
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	r.wg.Add(1)
	go r.flushLoop()

	r.log.WithComponent(component).WithFields(logger.Fields{
		"bucket":         r.bucket,
		"prefix":         r.cfg.Prefix,
		"flush_interval": r.cfg.FlushInterval.String(),
	}).Info("event recorder started")
	return nil
}

// Stop halts the flush goroutine and uploads whatever is still buffered.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	r.flushAll(context.Background())
	r.report()
	r.log.WithComponent(component).Info("event recorder stopped")
}

// Record buffers a DATA event. Other kinds are ignored.
func (r *Recorder) Record(ev models.CallbackEvent) {
	if ev.Kind != models.CallbackData {
		return
	}

	payload := ""
	if ev.Payload != nil {
		if b, err := json.Marshal(ev.Payload); err == nil {
			payload = string(b)
		}
	}
	rec := eventRecord{
		Service:      ev.Service.String(),
		Kind:         ev.Kind.String(),
		Timestamp:    ev.Timestamp,
		ReceivedTime: r.now().UnixMilli(),
		Payload:      payload,
	}

	r.mu.Lock()
	if r.buffered >= r.cfg.MaxBuffered {
		r.mu.Unlock()
		metrics.EmitDropMetric(r.log, metrics.DropMetricRecorderFull, ev.Service.String(), "record")
		return
	}
	r.buffer[ev.Service] = append(r.buffer[ev.Service], rec)
	r.buffered++
	full := len(r.buffer[ev.Service]) >= r.cfg.MaxEvents
	r.mu.Unlock()

	r.eventsBuffered.Add(1)
	if full {
		select {
		case r.flushReq <- ev.Service:
		default:
		}
	}
}

// Pending returns the number of buffered events.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buffered
}

func (r *Recorder) flushLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case svc := <-r.flushReq:
			r.flushService(r.ctx, svc)
		case <-ticker.C:
			r.flushAll(r.ctx)
			r.report()
		}
	}
}

func (r *Recorder) flushAll(ctx context.Context) {
	r.mu.Lock()
	services := make([]models.ServiceType, 0, len(r.buffer))
	for svc := range r.buffer {
		services = append(services, svc)
	}
	r.mu.Unlock()
	sort.Slice(services, func(i, j int) bool { return services[i] < services[j] })
	for _, svc := range services {
		r.flushService(ctx, svc)
	}
}

func (r *Recorder) flushService(ctx context.Context, svc models.ServiceType) {
	r.mu.Lock()
	records := r.buffer[svc]
	if len(records) == 0 {
		r.mu.Unlock()
		return
	}
	delete(r.buffer, svc)
	r.buffered -= len(records)
	r.mu.Unlock()

	log := r.log.WithComponent(component).WithFields(logger.Fields{"service": svc.String(), "records": len(records)})

	data, err := createParquet(records, r.codec)
	if err != nil {
		r.errorsCount.Add(1)
		log.WithError(err).Error("create parquet failed")
		return
	}
	key := r.s3Key(svc, r.now())
	started := time.Now()
	if err := r.upload(ctx, key, data); err != nil {
		r.errorsCount.Add(1)
		log.WithError(err).Error("upload to s3 failed")
		return
	}
	r.filesWritten.Add(1)
	r.bytesWritten.Add(int64(len(data)))
	logger.RecordChannelMessage("s3_recorder_write", len(data))
	logger.LogDataFlowEntry(log, "session", "s3", len(records), svc.String())
	logger.LogPerformanceEntry(log, component, "upload", time.Since(started), logger.Fields{"s3_key": key, "bytes": len(data)})
}

func (r *Recorder) upload(ctx context.Context, key string, data []byte) error {
	_, err := r.uploader.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/vnd.apache.parquet"),
	})
	return err
}

func (r *Recorder) s3Key(svc models.ServiceType, ts time.Time) string {
	ts = ts.UTC()
	name := svc.String()
	return path.Join(
		r.cfg.Prefix,
		fmt.Sprintf("service=%s", name),
		fmt.Sprintf("%04d", ts.Year()),
		fmt.Sprintf("%02d", int(ts.Month())),
		fmt.Sprintf("%02d", ts.Day()),
		fmt.Sprintf("%02d", ts.Hour()),
		fmt.Sprintf("events_%s_%s.parquet", name, uuid.NewString()),
	)
}

func (r *Recorder) report() {
	metrics.ReportRecorder(r.log, metrics.RecorderStats{
		EventsBuffered: r.eventsBuffered.Load(),
		FilesWritten:   r.filesWritten.Load(),
		BytesWritten:   r.bytesWritten.Load(),
		ErrorsCount:    r.errorsCount.Load(),
		PendingEvents:  r.Pending(),
	})
}
