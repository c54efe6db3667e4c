package mailtrack

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BearBump/TrackMail/internal/broker/messages"
	"github.com/BearBump/TrackMail/internal/cache"
	"github.com/BearBump/TrackMail/internal/integrations/mailer"
	"github.com/BearBump/TrackMail/internal/metrics"
	"github.com/BearBump/TrackMail/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	CreateTracking(ctx context.Context) (string, error)
	RecordOpen(ctx context.Context, trackingID, sourceIP string) (bool, error)
	GetTracking(ctx context.Context, trackingID string) (*models.TrackedMail, error)
	CountTrackings(ctx context.Context) (int64, error)
	DeleteTracking(ctx context.Context, trackingID string) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

const (
	maxRecipients        = 50
	defaultRecordTimeout = 2 * time.Second
)

type Service struct {
	repo   Repository
	mailer mailer.Client
	secret string

	cache    cache.BytesCache
	cacheTTL time.Duration

	orphanPolicy  string
	recordTimeout time.Duration

	producer Producer
	topic    string

	// opensApplied растёт на каждое записанное открытие; по нему GetTracking
	// понимает, что прочитанная запись могла устареть до заполнения кэша.
	opensApplied atomic.Uint64
}

func New(repo Repository, m mailer.Client, secret string) *Service {
	return &Service{
		repo:          repo,
		mailer:        m,
		secret:        secret,
		orphanPolicy:  models.OrphanPolicyKeep,
		recordTimeout: defaultRecordTimeout,
	}
}

// WithCache включает кэш записей для GetTracking. c == nil или ttl <= 0 выключают кэш.
func (s *Service) WithCache(c cache.BytesCache, ttl time.Duration) *Service {
	s.cache = c
	s.cacheTTL = ttl
	return s
}

func (s *Service) WithOrphanPolicy(policy string) *Service {
	if policy == models.OrphanPolicyRollback {
		s.orphanPolicy = policy
	} else {
		s.orphanPolicy = models.OrphanPolicyKeep
	}
	return s
}

func (s *Service) WithRecordTimeout(d time.Duration) *Service {
	if d > 0 {
		s.recordTimeout = d
	}
	return s
}

// WithKafkaRecording переводит учёт открытий в асинхронный режим: пиксель
// публикует MailOpened, а запись в хранилище делает ApplyOpenEvent.
func (s *Service) WithKafkaRecording(p Producer, topic string) *Service {
	s.producer = p
	s.topic = topic
	return s
}

func (s *Service) RecordingMode() string {
	if s.producer != nil && s.topic != "" {
		return models.RecordingModeKafka
	}
	return models.RecordingModeDirect
}

// SendTrackedMail validates the request, creates one tracking record and hands
// the mail to the provider. Nothing is written when validation fails.
func (s *Service) SendTrackedMail(ctx context.Context, in models.SendMailInput) (string, error) {
	emails, err := cleanEmails(in.Emails)
	if err != nil {
		return "", err
	}
	if !s.checkSecret(in.Password) {
		return "", models.ErrAuth
	}

	started := time.Now()
	trackingID, err := s.repo.CreateTracking(ctx)
	metrics.ObserveStoreOp("create", started)
	if err != nil {
		return "", models.WithKind(models.ErrStorage, err)
	}
	metrics.TrackingsCreated.Inc()

	if err := s.mailer.Send(ctx, emails, trackingID); err != nil {
		metrics.MailSent(false)
		s.handleOrphan(ctx, trackingID)
		return "", models.WithKind(models.ErrDispatch, errors.Wrapf(err, "send tracking %s", trackingID))
	}
	metrics.MailSent(true)

	slog.Info("tracked mail sent", "tracking_id", trackingID, "recipients", len(emails))
	return trackingID, nil
}

func (s *Service) handleOrphan(ctx context.Context, trackingID string) {
	if s.orphanPolicy != models.OrphanPolicyRollback {
		slog.Warn("dispatch failed, tracking kept", "tracking_id", trackingID)
		return
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.recordTimeout)
	defer cancel()
	if err := s.repo.DeleteTracking(dctx, trackingID); err != nil {
		slog.Error("rollback orphan tracking", "tracking_id", trackingID, "error", err.Error())
		return
	}
	slog.Warn("dispatch failed, tracking rolled back", "tracking_id", trackingID)
}

func (s *Service) checkSecret(password string) bool {
	if s.secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(s.secret)) == 1
}

func cleanEmails(in []string) ([]string, error) {
	if len(in) == 0 {
		return nil, models.WithKind(models.ErrValidation, errors.New("emails must be a non-empty array of strings"))
	}
	if len(in) > maxRecipients {
		return nil, models.WithKind(models.ErrValidation, errors.Errorf("too many emails (max %d)", maxRecipients))
	}
	out := make([]string, 0, len(in))
	for i, e := range in {
		e = strings.TrimSpace(e)
		if e == "" {
			return nil, models.WithKind(models.ErrValidation, errors.Errorf("emails[%d] is empty", i))
		}
		out = append(out, e)
	}
	return out, nil
}

// RecordOpen never fails towards the caller: the pixel is served whatever
// happens here. The returned value is one of the metrics.Pixel* results.
func (s *Service) RecordOpen(ctx context.Context, trackingID, sourceIP, userAgent string) string {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.recordTimeout)
	defer cancel()

	result := s.recordOpen(ctx, trackingID, sourceIP, userAgent)
	metrics.PixelFetched(result)
	return result
}

func (s *Service) recordOpen(ctx context.Context, trackingID, sourceIP, userAgent string) string {
	if trackingID == "" {
		return metrics.PixelUnknown
	}

	if s.RecordingMode() == models.RecordingModeKafka {
		b, _ := json.Marshal(messages.MailOpened{
			TrackingID: trackingID,
			SourceIP:   sourceIP,
			UserAgent:  userAgent,
			OpenedAt:   time.Now().UTC(),
		})
		err := s.producer.Publish(ctx, s.topic, []byte(trackingID), b)
		if err == nil {
			return metrics.PixelQueued
		}
		// Kafka недоступна: пишем напрямую, чтобы не потерять открытие.
		slog.Warn("publish mail opened, falling back to direct write", "tracking_id", trackingID, "error", err.Error())
	}

	found, err := s.applyOpen(ctx, trackingID, sourceIP)
	if err != nil {
		slog.Error("record open", "tracking_id", trackingID, "error", err.Error())
		return metrics.PixelFailed
	}
	if !found {
		slog.Debug("pixel for unknown tracking", "tracking_id", trackingID)
		return metrics.PixelUnknown
	}
	return metrics.PixelRecorded
}

func (s *Service) applyOpen(ctx context.Context, trackingID, sourceIP string) (bool, error) {
	started := time.Now()
	found, err := s.repo.RecordOpen(ctx, trackingID, sourceIP)
	metrics.ObserveStoreOp("record_open", started)
	if err != nil {
		return false, models.WithKind(models.ErrStorage, err)
	}
	if found {
		s.opensApplied.Add(1)
	}
	if found && s.cacheEnabled() {
		if err := s.cache.Delete(ctx, cacheKey(trackingID)); err != nil {
			slog.Warn("invalidate tracking cache", "tracking_id", trackingID, "error", err.Error())
		}
	}
	return found, nil
}

// ApplyOpenEvent records an open delivered through Kafka. Unknown ids are
// accepted silently, same as on the pixel path.
func (s *Service) ApplyOpenEvent(ctx context.Context, msg messages.MailOpened) error {
	if msg.TrackingID == "" {
		return models.WithKind(models.ErrValidation, errors.New("tracking_id is required"))
	}
	_, err := s.applyOpen(ctx, msg.TrackingID, msg.SourceIP)
	return err
}

func (s *Service) GetTracking(ctx context.Context, trackingID string) (*models.TrackedMail, error) {
	if trackingID == "" {
		return nil, models.WithKind(models.ErrValidation, errors.New("trackingId is required"))
	}

	if s.cacheEnabled() {
		b, ok, err := s.cache.Get(ctx, cacheKey(trackingID))
		if err == nil && ok {
			var t models.TrackedMail
			if json.Unmarshal(b, &t) == nil {
				return &t, nil
			}
		}
	}

	seq := s.opensApplied.Load()
	started := time.Now()
	t, err := s.repo.GetTracking(ctx, trackingID)
	metrics.ObserveStoreOp("get", started)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, models.WithKind(models.ErrStorage, err)
	}

	// Открытие, записанное во время чтения, уже сбросило ключ: старую копию не кладём.
	if s.cacheEnabled() && s.opensApplied.Load() == seq {
		b, _ := json.Marshal(t)
		_ = s.cache.Set(ctx, cacheKey(trackingID), b, s.cacheTTL)
	}
	return t, nil
}

func (s *Service) CountTrackings(ctx context.Context) (int64, error) {
	started := time.Now()
	n, err := s.repo.CountTrackings(ctx)
	metrics.ObserveStoreOp("count", started)
	if err != nil {
		return 0, models.WithKind(models.ErrStorage, err)
	}
	return n, nil
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.cacheTTL > 0
}

func cacheKey(trackingID string) string {
	return "trackmail:" + trackingID
}
