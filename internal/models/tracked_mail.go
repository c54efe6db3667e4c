package models

import "time"

// TrackedMail is one outbound email whose opens are counted through the pixel.
// Opens always equals len(ViewerIPs).
type TrackedMail struct {
	TrackingID string    `json:"trackingId"`
	Opens      int64     `json:"opens"`
	ViewerIPs  []string  `json:"viewerIps"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// SendMailInput is a validated send-mail request.
type SendMailInput struct {
	Emails   []string
	Password string
}

// Способы учёта открытий.
const (
	RecordingModeDirect = "direct"
	RecordingModeKafka  = "kafka"
)

// Политики для записи, созданной под письмо, которое не удалось отправить.
const (
	OrphanPolicyKeep     = "keep"
	OrphanPolicyRollback = "rollback"
)
