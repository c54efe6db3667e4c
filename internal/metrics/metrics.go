package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Результаты запроса пикселя.
const (
	PixelRecorded = "recorded"
	PixelUnknown  = "unknown"
	PixelFailed   = "failed"
	PixelQueued   = "queued"
)

var (
	MailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackmail_mails_sent_total",
			Help: "Tracked mails handed to the mail provider",
		},
		[]string{"status"}, // success, failed
	)

	TrackingsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trackmail_trackings_created_total",
			Help: "Tracking records created",
		},
	)

	PixelFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackmail_pixel_fetches_total",
			Help: "Tracking pixel fetches by outcome of the open recording",
		},
		[]string{"result"},
	)

	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trackmail_store_op_duration_seconds",
			Help:    "Tracking store operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"op"},
	)
)

func ObserveStoreOp(op string, started time.Time) {
	StoreOpDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func MailSent(ok bool) {
	status := "success"
	if !ok {
		status = "failed"
	}
	MailsSent.WithLabelValues(status).Inc()
}

func PixelFetched(result string) {
	PixelFetches.WithLabelValues(result).Inc()
}
