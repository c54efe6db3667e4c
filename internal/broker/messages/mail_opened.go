package messages

import "time"

// MailOpened публикуется на каждый запрос пикселя в режиме recording_mode=kafka.
type MailOpened struct {
	TrackingID string    `json:"tracking_id"`
	SourceIP   string    `json:"source_ip"`
	UserAgent  string    `json:"user_agent,omitempty"`
	OpenedAt   time.Time `json:"opened_at"`
}
