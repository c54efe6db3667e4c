package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BearBump/TrackMail/config"
	"github.com/BearBump/TrackMail/internal/api/mailtrack_api"
	"github.com/BearBump/TrackMail/internal/broker/kafka"
	"github.com/BearBump/TrackMail/internal/cache/rediscache"
	"github.com/BearBump/TrackMail/internal/integrations/mailer"
	"github.com/BearBump/TrackMail/internal/integrations/mailer/fake"
	"github.com/BearBump/TrackMail/internal/integrations/mailer/resendhttp"
	"github.com/BearBump/TrackMail/internal/integrations/mailer/sesmail"
	"github.com/BearBump/TrackMail/internal/models"
	"github.com/BearBump/TrackMail/internal/services/health"
	"github.com/BearBump/TrackMail/internal/services/mailtrack"
	"github.com/BearBump/TrackMail/internal/storage/memtracking"
	"github.com/BearBump/TrackMail/internal/storage/pgtracking"
)

type trackingStore interface {
	mailtrack.Repository
	Ping(ctx context.Context) error
	Close()
}

type trackMailApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   trackMailOpts

	api      *mailtrack_api.MailTrackAPI
	svc      *mailtrack.Service
	consumer *kafka.Consumer

	closers []func()
}

func mustBootstrapTrackMail() *trackMailApp {
	cfg, err := config.Load(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	setupLogger(cfg.TrackMail.LogFormat, cfg.TrackMail.LogLevel)

	httpAddr := cfg.TrackMail.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":7000"
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		swaggerPath = "api/swagger.json"
	}
	storageDriver := cfg.TrackMail.StorageDriver
	if storageDriver == "" {
		storageDriver = "postgres"
	}
	recordTimeout := time.Duration(cfg.TrackMail.RecordTimeoutMs) * time.Millisecond
	if recordTimeout <= 0 {
		recordTimeout = 2 * time.Second
	}
	topic := cfg.Kafka.MailOpenedTopicName
	if topic == "" {
		topic = "mail.opened"
	}
	consumerGroup := cfg.TrackMail.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "track-mail"
	}
	cacheTTL := time.Duration(cfg.Redis.TrackingTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	app := &trackMailApp{}

	var st trackingStore
	switch storageDriver {
	case "memory":
		slog.Warn("using in-memory tracking store, records are lost on restart")
		st = memtracking.New()
	default:
		st = mustOpenPostgresWithRetry(cfg.Database.PostgresURL(), 60*time.Second)
	}
	app.closers = append(app.closers, st.Close)

	m, err := newMailer(context.Background(), cfg)
	if err != nil {
		app.Close()
		panic(fmt.Sprintf("mail provider: %v", err))
	}

	svc := mailtrack.New(st, m, cfg.TrackMail.Secret).
		WithOrphanPolicy(cfg.TrackMail.OrphanPolicy).
		WithRecordTimeout(recordTimeout)

	reporter := health.New(st, st, time.Now()).
		WithEndpoints(mailtrack_api.Endpoints())

	if cfg.Redis.Addr != "" {
		rc := rediscache.New(cfg.Redis.Addr)
		app.closers = append(app.closers, func() { _ = rc.Close() })
		svc.WithCache(rc, cacheTTL)
		reporter.WithCache(rc)
	}

	if cfg.TrackMail.RecordingMode == models.RecordingModeKafka {
		brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
		producer := kafka.NewProducer(brokers)
		app.closers = append(app.closers, func() { _ = producer.Close() })
		svc.WithKafkaRecording(producer, topic)
		app.consumer = kafka.NewConsumer(brokers, topic, consumerGroup)
	}
	reporter.WithInfo(storageDriver, svc.RecordingMode())

	app.ctx, app.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app.svc = svc
	app.api = mailtrack_api.New(svc, reporter, mailtrack_api.Options{
		TrustProxy:     cfg.TrackMail.TrustProxy,
		AllowedOrigins: cfg.TrackMail.AllowedOrigins,
	})
	app.opts = trackMailOpts{
		httpAddr:      httpAddr,
		swaggerPath:   swaggerPath,
		topic:         topic,
		consumerGroup: consumerGroup,
	}

	slog.Info("track-mail configured",
		"http_addr", httpAddr,
		"storage", storageDriver,
		"mail_provider", cfg.Mail.Provider,
		"recording_mode", svc.RecordingMode(),
		"orphan_policy", cfg.TrackMail.OrphanPolicy,
		"cache", cfg.Redis.Addr != "")
	return app
}

func newMailer(ctx context.Context, cfg *config.Config) (mailer.Client, error) {
	msg := mailer.Message{
		From:    cfg.Mail.From,
		Subject: cfg.Mail.Subject,
		BaseURL: cfg.TrackMail.BaseURL,
	}
	switch cfg.Mail.Provider {
	case "resend":
		return resendhttp.New(cfg.Mail.ResendBaseURL, cfg.Mail.ResendAPIKey, msg), nil
	case "ses":
		return sesmail.New(ctx, cfg.Mail.SESRegion, cfg.Mail.SESAccessKey, cfg.Mail.SESSecretKey, msg)
	default:
		// Локально без ключей: письма только в лог.
		return fake.New(msg), nil
	}
}

func setupLogger(format, level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil || level == "" {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	if format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h).With("service", "track-mail"))
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgtracking.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgtracking.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		slog.Warn("postgres is not ready, retrying", "error", err.Error())
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *trackMailApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *trackMailApp) Run() error {
	// nil *kafka.Consumer нельзя передавать как интерфейс.
	var consumer kafkaConsumer
	if a.consumer != nil {
		consumer = a.consumer
	}
	return runTrackMail(a.ctx, a.opts, a.api, a.svc, consumer)
}
