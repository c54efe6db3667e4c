package pgtracking

import (
	"context"
	"time"

	"github.com/BearBump/TrackMail/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) CreateTracking(ctx context.Context) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", errors.Wrap(err, "generate tracking id")
	}
	now := time.Now().UTC()

	// Коллизию uuid не ретраим: уникальный ключ вернёт ошибку и запрос упадёт.
	_, err = s.db.Exec(ctx, `
INSERT INTO tracked_mails (tracking_id, opens, viewer_ips, created_at, updated_at)
VALUES ($1, 0, '{}', $2, $2)
`, id.String(), now)
	if err != nil {
		return "", errors.Wrap(err, "insert tracking")
	}
	return id.String(), nil
}

// RecordOpen увеличивает счётчик и дописывает IP одним UPDATE, поэтому
// параллельные открытия одного письма не теряются.
func (s *Storage) RecordOpen(ctx context.Context, trackingID, sourceIP string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE tracked_mails
SET
  opens = opens + 1,
  viewer_ips = array_append(viewer_ips, $2),
  updated_at = now()
WHERE tracking_id = $1
`, trackingID, sourceIP)
	if err != nil {
		return false, errors.Wrap(err, "record open")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Storage) GetTracking(ctx context.Context, trackingID string) (*models.TrackedMail, error) {
	var t models.TrackedMail
	err := s.db.QueryRow(ctx, `
SELECT tracking_id, opens, viewer_ips, created_at, updated_at
FROM tracked_mails
WHERE tracking_id = $1
`, trackingID).Scan(&t.TrackingID, &t.Opens, &t.ViewerIPs, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select tracking")
	}
	if t.ViewerIPs == nil {
		t.ViewerIPs = []string{}
	}
	return &t, nil
}

func (s *Storage) CountTrackings(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM tracked_mails`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count trackings")
	}
	return n, nil
}

func (s *Storage) DeleteTracking(ctx context.Context, trackingID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM tracked_mails WHERE tracking_id = $1`, trackingID)
	return errors.Wrap(err, "delete tracking")
}
