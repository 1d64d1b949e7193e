package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"streamflow/config"
	"streamflow/internal/dashboard"
	"streamflow/internal/metrics"
	"streamflow/logger"
	"streamflow/models"
	"streamflow/reader/streamer"
	"streamflow/session"
	"streamflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolvePath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	env := config.AppEnvironment()
	log.WithEnv("APP_ENV", "AWS_REGION").WithFields(logger.Fields{
		"service":     cfg.Streamflow.Name,
		"version":     cfg.Streamflow.Version,
		"environment": env,
	}).Info("starting streamflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.Configure(cfg.Metrics)
	if cw := cfg.Metrics.CloudWatch; cw.Enabled {
		metrics.InitCloudWatch(cw.Region, cw.Namespace, cw.Dashboard, cw.PublishInterval)
		logger.SetReportPublisher(metrics.PublishReport)
		if err := metrics.CreateDashboard(ctx); err != nil {
			log.WithError(err).Warn("failed to create CloudWatch dashboard")
		}
	}

	if strings.ToLower(cfg.Logging.Level) == "report" || cfg.Metrics.CloudWatch.Enabled {
		logger.StartReport(ctx, log, cfg.Logging.ReportInterval)
	}

	creds := cfg.Credentials()
	if creds.Expired(time.Now()) {
		if config.IsProductionLike(env) {
			log.WithFields(logger.Fields{"token_expiry": cfg.Streaming.TokenExpiry}).Error("streamer token has expired")
			os.Exit(1)
		}
		log.WithFields(logger.Fields{"token_expiry": cfg.Streaming.TokenExpiry}).Warn("streamer token has expired; login will likely be rejected")
	}

	subs, err := cfg.BuildSubscriptions()
	if err != nil {
		log.WithError(err).Error("invalid subscription configuration")
		os.Exit(1)
	}

	var recorder *writer.Recorder
	if cfg.Recorder.Enabled {
		client, err := writer.NewS3Client(ctx, cfg.Storage.S3)
		if err != nil {
			log.WithError(err).Error("failed to create S3 client")
			os.Exit(1)
		}
		recorder, err = writer.NewRecorder(cfg.Recorder, cfg.Storage.S3.Bucket, client)
		if err != nil {
			log.WithError(err).Error("failed to create event recorder")
			os.Exit(1)
		}
		if err := recorder.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start event recorder")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("event recorder disabled")
	}

	events := log.WithComponent("events")
	callback := func(kind models.CallbackKind, service models.ServiceType, timestamp int64, payload interface{}) {
		fields := logger.Fields{"kind": kind.String(), "service": service.String(), "timestamp": timestamp}
		switch kind {
		case models.CallbackData:
			events.WithFields(fields).Debug("data event")
		case models.CallbackError, models.CallbackTimeout:
			fields["payload"] = payload
			events.WithFields(fields).Warn("connection event")
		default:
			fields["payload"] = payload
			events.WithFields(fields).Info("streaming event")
		}
		if recorder != nil {
			recorder.Record(models.CallbackEvent{Kind: kind, Service: service, Timestamp: timestamp, Payload: payload})
		}
	}

	timeouts := session.Timeouts{
		Connect:   cfg.Streaming.ConnectTimeout,
		Listening: cfg.Streaming.ListeningTimeout,
		Subscribe: cfg.Streaming.SubscribeTimeout,
	}
	sess, err := session.New(creds, callback, streamer.NewFactory(streamer.OptionsFromConfig(cfg.Streaming)), timeouts)
	if err != nil {
		log.WithError(err).Error("failed to create streaming session")
		os.Exit(1)
	}

	results, err := sess.Start(ctx, subs...)
	if err != nil {
		log.WithError(err).Error("failed to start streaming session")
		_ = sess.Close()
		os.Exit(1)
	}
	for i, ok := range results {
		if !ok {
			log.WithFields(logger.Fields{"subscription": subs[i].String()}).Warn("subscription rejected")
		}
	}

	if qos := cfg.QOS(); qos != sess.GetQOS() {
		ok, err := sess.SetQOS(ctx, qos)
		if err != nil || !ok {
			log.WithError(err).WithFields(logger.Fields{"qos": qos.String()}).Warn("qos change not acknowledged")
		}
	}

	dash, err := dashboard.NewServer(cfg.Dashboard, log, sess)
	if err != nil {
		log.WithError(err).Error("failed to create dashboard")
		os.Exit(1)
	}
	dashDone := make(chan struct{})
	go func() {
		defer close(dashDone)
		if err := dash.Run(ctx); err != nil {
			log.WithError(err).Warn("dashboard stopped")
		}
	}()

	if cfg.Metrics.QueueSize {
		queues := map[string]metrics.QueueDepth{"callback_queue": sess.PendingEvents}
		if recorder != nil {
			queues["recorder_buffer"] = recorder.Pending
		}
		metrics.StartQueueSizeMetrics(ctx, queues, cfg.Metrics.QueueInterval)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := sess.Stop(stopCtx); err != nil {
		log.WithError(err).Warn("streaming session stop failed")
	}
	if err := sess.Close(); err != nil {
		log.WithError(err).Warn("streaming session close failed")
	}

	cancel()

	if recorder != nil {
		log.Info("stopping event recorder")
		recorder.Stop()
	}

	select {
	case <-dashDone:
	case <-time.After(10 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("streamflow stopped")
}
