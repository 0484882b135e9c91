package backend

// Status is the lifecycle state of a message as stored in the backend.
type Status string

const (
	StatusSending Status = "SENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

// Message is the domain message record. The id is client-generated and
// stable across the whole send pipeline; timestamp (epoch millis) doubles
// as the pagination key.
type Message struct {
	ID         string
	Text       *string
	MediaURLs  []string
	SenderID   string
	SenderName string
	Timestamp  int64
	Status     Status
}

// HasMedia reports whether the message carries at least one media reference.
func (m Message) HasMedia() bool {
	return len(m.MediaURLs) > 0
}
