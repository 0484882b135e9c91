package backend

import "context"

// DefaultWindow is the live subscription window: the backend streams the
// most recent N messages on every change.
const DefaultWindow = 50

// DefaultPageSize bounds one older-page fetch.
const DefaultPageSize = 20

// Subscription is a live feed of the chat room. Windows carries the full
// current message window (ascending timestamp) after every backend change;
// consumers replace their list wholesale, there are no deltas. Errs carries
// non-fatal subscription errors; the feed keeps running after one.
type Subscription struct {
	Windows <-chan []Message
	Errs    <-chan error
}

// Gateway is the backend read/write surface for the chat room. All writes
// target a message id, so re-sends overwrite instead of duplicating; the
// backend's own last-write-wins ordering arbitrates concurrent writers.
type Gateway interface {
	// Send upserts the message record by id.
	Send(ctx context.Context, msg Message) error
	// Delete removes the record by id. Hard delete, no tombstone.
	Delete(ctx context.Context, messageID string) error
	// FetchOlder returns up to limit messages strictly older than beforeTs,
	// ascending by timestamp.
	FetchOlder(ctx context.Context, beforeTs int64, limit int) ([]Message, error)
	// Subscribe opens a live window feed. It runs until ctx is cancelled.
	Subscribe(ctx context.Context, window int) (*Subscription, error)

	// SetTyping advertises deviceID as typing under the given display name.
	// The advertisement expires on its own if not refreshed.
	SetTyping(ctx context.Context, deviceID, name string) error
	// ClearTyping removes deviceID's typing advertisement.
	ClearTyping(ctx context.Context, deviceID string) error
	// SubscribeTyping streams the display names of everyone currently
	// typing, local user included; filtering self is the caller's job.
	SubscribeTyping(ctx context.Context) (<-chan []string, error)

	Close() error
}
