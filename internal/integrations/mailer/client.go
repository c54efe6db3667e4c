package mailer

import (
	"context"
	"fmt"
	"html"
	"strings"
)

// Client отправляет письмо со скрытым пикселем. Любая ошибка провайдера
// (неверный адрес, недоступность, квоты) возвращается как есть, без ретраев.
type Client interface {
	Send(ctx context.Context, recipients []string, trackingID string) error
}

const (
	DefaultFrom    = "onboarding@resend.dev"
	DefaultSubject = "Tracking Dead Pixel"
)

// Message describes what every provider puts into the outgoing email.
type Message struct {
	From    string
	Subject string
	BaseURL string
}

func (m Message) withDefaults() Message {
	if m.From == "" {
		m.From = DefaultFrom
	}
	if m.Subject == "" {
		m.Subject = DefaultSubject
	}
	return m
}

func (m Message) FromAddress() string { return m.withDefaults().From }

func (m Message) SubjectLine() string { return m.withDefaults().Subject }

// PixelURL returns {baseURL}/track-mail/{trackingID}.
func PixelURL(baseURL, trackingID string) string {
	return strings.TrimRight(baseURL, "/") + "/track-mail/" + trackingID
}

func (m Message) HTML(trackingID string) string {
	id := html.EscapeString(trackingID)
	return fmt.Sprintf(
		`<h1>Tracking Id: %s</h1>`+
			`<img src="%s" width="1" height="1" alt="" style="display:none;border:0;width:1px;height:1px">`,
		id, html.EscapeString(PixelURL(m.BaseURL, trackingID)),
	)
}
