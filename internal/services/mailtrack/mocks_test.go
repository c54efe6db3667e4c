package mailtrack

import (
	"context"
	"time"

	"github.com/BearBump/TrackMail/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateTracking(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockRepository) RecordOpen(ctx context.Context, trackingID, sourceIP string) (bool, error) {
	args := m.Called(ctx, trackingID, sourceIP)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) GetTracking(ctx context.Context, trackingID string) (*models.TrackedMail, error) {
	args := m.Called(ctx, trackingID)
	t, _ := args.Get(0).(*models.TrackedMail)
	return t, args.Error(1)
}

func (m *MockRepository) CountTrackings(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) DeleteTracking(ctx context.Context, trackingID string) error {
	return m.Called(ctx, trackingID).Error(0)
}

type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(ctx context.Context, recipients []string, trackingID string) error {
	return m.Called(ctx, recipients, trackingID).Error(0)
}

type MockBytesCache struct {
	mock.Mock
}

func (m *MockBytesCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	args := m.Called(ctx, key)
	b, _ := args.Get(0).([]byte)
	return b, args.Bool(1), args.Error(2)
}

func (m *MockBytesCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}

func (m *MockBytesCache) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	return m.Called(ctx, topic, key, value).Error(0)
}
