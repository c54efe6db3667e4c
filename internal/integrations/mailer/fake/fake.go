package fake

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BearBump/TrackMail/internal/integrations/mailer"
)

// FakeClient ничего не отправляет: пишет в лог ссылку на пиксель и запоминает
// отправки. Нужен для локального запуска без ключей провайдера.
type FakeClient struct {
	msg mailer.Message

	mu   sync.Mutex
	sent []Sent
}

type Sent struct {
	Recipients []string
	TrackingID string
	HTML       string
}

func New(msg mailer.Message) *FakeClient { return &FakeClient{msg: msg} }

func (f *FakeClient) Send(ctx context.Context, recipients []string, trackingID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, Sent{
		Recipients: append([]string{}, recipients...),
		TrackingID: trackingID,
		HTML:       f.msg.HTML(trackingID),
	})
	f.mu.Unlock()

	slog.Info("fake mailer: mail not sent",
		"recipients", len(recipients),
		"tracking_id", trackingID,
		"pixel_url", mailer.PixelURL(f.msg.BaseURL, trackingID))
	return nil
}

func (f *FakeClient) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent{}, f.sent...)
}
