package notify

import "sync"

// PendingMessage is one not-yet-acknowledged message shown in a
// notification.
type PendingMessage struct {
	ID         string
	SenderID   string
	SenderName string
	Text       string
	Timestamp  int64
}

// PendingStore tracks pending messages grouped by sender, so each sender's
// notification can list everything unread from them. It is an injectable
// value, not process-global state, and safe for concurrent use.
type PendingStore struct {
	mu       sync.Mutex
	bySender map[string][]PendingMessage
}

// NewPendingStore creates an empty store.
func NewPendingStore() *PendingStore {
	return &PendingStore{bySender: make(map[string][]PendingMessage)}
}

// Add appends msg to its sender's group, deduplicating by message id, and
// returns the sender's full pending list. added is false when the id was
// already present.
func (p *PendingStore) Add(msg PendingMessage) (pending []PendingMessage, added bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	group := p.bySender[msg.SenderID]
	for _, m := range group {
		if m.ID == msg.ID {
			return append([]PendingMessage(nil), group...), false
		}
	}
	group = append(group, msg)
	p.bySender[msg.SenderID] = group
	return append([]PendingMessage(nil), group...), true
}

// Pending returns the sender's pending messages.
func (p *PendingStore) Pending(senderID string) []PendingMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PendingMessage(nil), p.bySender[senderID]...)
}

// Clear drops the sender's group.
func (p *PendingStore) Clear(senderID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.bySender, senderID)
}

// ClearAll drops every group.
func (p *PendingStore) ClearAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bySender = make(map[string][]PendingMessage)
}

// Senders lists the sender ids with pending messages.
func (p *PendingStore) Senders() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.bySender))
	for id := range p.bySender {
		out = append(out, id)
	}
	return out
}
