package notifier

import "time"

// Config controls the async notification pipeline.
type Config struct {
	Enabled    bool
	Workers    int
	QueueSize  int
	RatePerSec int
}

type HistoryItem struct {
	At     time.Time
	ChatID int64
	Text   string
}

// Event types published on the bus.
const (
	EventQueued  = "notifier.queued"
	EventSent    = "notifier.sent"
	EventFailed  = "notifier.failed"
	EventDropped = "notifier.dropped"
)

// NotificationEvent is the payload of notifier bus events.
type NotificationEvent struct {
	ChatID int64     `json:"chat_id"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}
