// Package memtracking is an in-process tracking store for local runs and tests.
// Records live only as long as the process.
package memtracking

import (
	"context"
	"sync"
	"time"

	"github.com/BearBump/TrackMail/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Storage struct {
	mu      sync.Mutex
	records map[string]*models.TrackedMail
	now     func() time.Time
}

func New() *Storage {
	return &Storage{
		records: make(map[string]*models.TrackedMail),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Storage) CreateTracking(ctx context.Context) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", errors.Wrap(err, "generate tracking id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id.String()]; ok {
		return "", errors.Errorf("tracking id collision: %s", id)
	}
	now := s.now()
	s.records[id.String()] = &models.TrackedMail{
		TrackingID: id.String(),
		ViewerIPs:  []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return id.String(), nil
}

func (s *Storage) RecordOpen(ctx context.Context, trackingID, sourceIP string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.records[trackingID]
	if !ok {
		return false, nil
	}
	t.Opens++
	t.ViewerIPs = append(t.ViewerIPs, sourceIP)
	t.UpdatedAt = s.now()
	return true, nil
}

func (s *Storage) GetTracking(ctx context.Context, trackingID string) (*models.TrackedMail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.records[trackingID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *t
	cp.ViewerIPs = append([]string{}, t.ViewerIPs...)
	return &cp, nil
}

func (s *Storage) CountTrackings(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.records)), nil
}

func (s *Storage) DeleteTracking(ctx context.Context, trackingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, trackingID)
	return nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Storage) Close() {}
