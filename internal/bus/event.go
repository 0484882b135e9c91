package bus

import "time"

// Event kinds published in this process, grouped by namespace prefix:
//
//	identity.*  local identity changes
//	outbox.*    send pipeline transitions
//	notify.*    notification bridge activity
const (
	KindIdentityChanged = "identity.changed"

	KindOutboxQueued         = "outbox.queued"
	KindOutboxUploadProgress = "outbox.upload_progress"
	KindOutboxSent           = "outbox.sent"
	KindOutboxFailed         = "outbox.failed"

	KindNotifyShown   = "notify.shown"
	KindNotifyCleared = "notify.cleared"
)

// Event is a domain event delivered through the in-process bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// UploadProgress is the payload for outbox.upload_progress events.
type UploadProgress struct {
	MessageID string
	Current   int
	Total     int
}
