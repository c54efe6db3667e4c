package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/TrackMail/internal/api/mailtrack_api"
	"github.com/BearBump/TrackMail/internal/broker/kafka"
	"github.com/BearBump/TrackMail/internal/broker/messages"
	"github.com/BearBump/TrackMail/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

const (
	shutdownTimeout     = 5 * time.Second
	defaultConsumeRetry = time.Second
)

type trackMailOpts struct {
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string
	// consumeRetry: пауза между повторами записи открытия и перезапусками консьюмера.
	consumeRetry time.Duration

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

type openEventApplier interface {
	ApplyOpenEvent(ctx context.Context, msg messages.MailOpened) error
}

// runTrackMail serves HTTP until ctx is done. consumer == nil means opens are
// written directly from the pixel handler and nothing is read from Kafka.
// Consumer failures never stop the HTTP server.
func runTrackMail(ctx context.Context, opts trackMailOpts, api *mailtrack_api.MailTrackAPI, svc openEventApplier, consumer kafkaConsumer) error {
	if opts.consumeRetry <= 0 {
		opts.consumeRetry = defaultConsumeRetry
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, lis, newRouter(api, opts.swaggerPath))
	}()

	if consumer != nil {
		go runConsumer(ctx, opts, consumer, handleMailOpened(ctx, svc, opts.consumeRetry))
	}

	select {
	case <-ctx.Done():
		<-httpErr
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}

// runConsumer перезапускает Consume после ошибки, пока ctx жив.
func runConsumer(ctx context.Context, opts trackMailOpts, consumer kafkaConsumer, handler func(key, value []byte) error) {
	for {
		slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
		err := consumer.Consume(ctx, handler)
		if ctx.Err() != nil {
			return
		}
		slog.Error("mail opened consumer stopped, restarting",
			"topic", opts.topic,
			"retry_in", opts.consumeRetry.String(),
			"error", errorString(err))
		if !sleepCtx(ctx, opts.consumeRetry) {
			return
		}
	}
}

// handleMailOpened: битые сообщения пропускаем с коммитом. Ошибку хранилища
// повторяем, пока запись не пройдёт, так что сообщение не коммитится и не теряется.
func handleMailOpened(ctx context.Context, svc openEventApplier, retry time.Duration) func(key, value []byte) error {
	return func(_key, value []byte) error {
		var m messages.MailOpened
		if err := json.Unmarshal(value, &m); err != nil {
			return errors.Wrapf(kafka.ErrSkipMessage, "decode mail opened: %v", err)
		}
		for {
			err := svc.ApplyOpenEvent(ctx, m)
			if err == nil {
				return nil
			}
			if errors.Is(err, models.ErrValidation) {
				return errors.Wrap(kafka.ErrSkipMessage, err.Error())
			}
			slog.Warn("apply mail opened, retrying",
				"tracking_id", m.TrackingID,
				"retry_in", retry.String(),
				"error", err.Error())
			if !sleepCtx(ctx, retry) {
				return errors.Wrap(ctx.Err(), "apply mail opened")
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func errorString(err error) string {
	if err == nil {
		return "consumer returned without error"
	}
	return err.Error()
}

func newRouter(api *mailtrack_api.MailTrackAPI, swaggerPath string) chi.Router {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())

	if swaggerPath != "" {
		if fi, err := os.Stat(swaggerPath); err == nil {
			r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Cache-Control", "no-store")
				http.ServeFile(w, r, swaggerPath)
			})
			swaggerURL := fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
			r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
		} else {
			slog.Warn("swagger file not found, docs disabled", "path", swaggerPath)
		}
	}

	r.Mount("/", api.Routes())
	return r
}

func runHTTPServer(ctx context.Context, lis net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
