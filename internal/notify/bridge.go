package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mrocha/chatline/internal/backend"
	"github.com/mrocha/chatline/internal/bus"
	"github.com/mrocha/chatline/internal/identity"
)

// Sender re-enters a reply into the send pipeline. Satisfied by the outbox
// queue.
type Sender interface {
	Queue(ctx context.Context, text string, mediaURIs []string) (string, error)
}

// PushPayload is the inbound push message shape.
type PushPayload struct {
	MessageID   string `json:"messageId" binding:"required"`
	SenderID    string `json:"senderId" binding:"required"`
	SenderName  string `json:"senderName"`
	MessageText string `json:"messageText"`
	Timestamp   int64  `json:"timestamp"`
}

// Bridge turns incoming messages into per-sender grouped notifications.
// It stays quiet while the client is foregrounded; backgrounding records a
// cutoff so only messages after it notify. Both the live window feed and
// pushed payloads funnel through the same dedup and grouping.
type Bridge struct {
	gateway  backend.Gateway
	identity *identity.Store
	sender   Sender
	store    *PendingStore
	notifier Notifier
	bus      *bus.Bus
	logger   *zap.Logger

	mu         sync.Mutex
	foreground bool
	lastSeen   int64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewBridge wires a stopped bridge.
func NewBridge(gw backend.Gateway, id *identity.Store, sender Sender, store *PendingStore, notifier Notifier, b *bus.Bus, logger *zap.Logger) *Bridge {
	return &Bridge{
		gateway:  gw,
		identity: id,
		sender:   sender,
		store:    store,
		notifier: notifier,
		bus:      b,
		logger:   logger,
		lastSeen: time.Now().UnixMilli(),
	}
}

// Start opens the live window subscription and begins observing. History
// present before Start never notifies.
func (b *Bridge) Start() error {
	deviceID, err := b.identity.DeviceID()
	if err != nil {
		return fmt.Errorf("load device id: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := b.gateway.Subscribe(ctx, backend.DefaultWindow)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe: %w", err)
	}

	b.cancel = cancel
	b.done = make(chan struct{})
	go b.observe(ctx, deviceID, sub)
	return nil
}

// Stop halts observation.
func (b *Bridge) Stop() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	<-b.done
}

// SetForeground flips the visibility gate. Foregrounding clears every
// pending notification (the user is looking at the room); backgrounding
// stamps the cutoff for future notifications.
func (b *Bridge) SetForeground(fg bool) {
	b.mu.Lock()
	b.foreground = fg
	if !fg {
		b.lastSeen = time.Now().UnixMilli()
	}
	b.mu.Unlock()

	if fg {
		b.store.ClearAll()
		b.notifier.CancelAll()
		b.bus.Publish(bus.Event{Kind: bus.KindNotifyCleared, Timestamp: time.Now()})
	}
}

// HandlePush renders a notification for a pushed payload. Pushes for the
// local user's own messages and pushes arriving while foregrounded are
// dropped.
func (b *Bridge) HandlePush(p PushPayload) {
	deviceID, err := b.identity.DeviceID()
	if err != nil {
		b.logger.Error("load device id", zap.Error(err))
		return
	}
	b.consider(deviceID, PendingMessage{
		ID:         p.MessageID,
		SenderID:   p.SenderID,
		SenderName: p.SenderName,
		Text:       p.MessageText,
		Timestamp:  p.Timestamp,
	})
}

// Reply sends text back into the room and acknowledges the sender's
// notifications, exactly like replying from a notification action.
func (b *Bridge) Reply(ctx context.Context, senderID, text string) error {
	if _, err := b.sender.Queue(ctx, text, nil); err != nil {
		return fmt.Errorf("queue reply: %w", err)
	}
	b.store.Clear(senderID)
	b.notifier.Cancel(senderID)
	b.bus.Publish(bus.Event{Kind: bus.KindNotifyCleared, Timestamp: time.Now(), Payload: senderID})
	return nil
}

func (b *Bridge) observe(ctx context.Context, deviceID string, sub *backend.Subscription) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case win, ok := <-sub.Windows:
			if !ok {
				return
			}
			for _, msg := range win {
				b.consider(deviceID, pendingFromMessage(msg))
			}
		case err, ok := <-sub.Errs:
			if !ok {
				continue
			}
			b.logger.Warn("notification subscription", zap.Error(err))
		}
	}
}

// consider applies the gate and, for a genuinely new message, re-renders
// the sender's grouped notification.
func (b *Bridge) consider(deviceID string, msg PendingMessage) {
	if msg.SenderID == "" || msg.SenderID == deviceID {
		return
	}

	b.mu.Lock()
	foreground := b.foreground
	lastSeen := b.lastSeen
	b.mu.Unlock()
	if foreground || msg.Timestamp <= lastSeen {
		return
	}

	pending, added := b.store.Add(msg)
	if !added {
		return
	}

	lines := make([]string, len(pending))
	for i, m := range pending {
		lines[i] = m.Text
	}
	b.notifier.Show(Notification{
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Lines:      lines,
	})
	b.bus.Publish(bus.Event{Kind: bus.KindNotifyShown, Timestamp: time.Now(), Payload: msg.ID})
}

// pendingFromMessage renders a window message for notification display.
// Media-only messages get a placeholder line.
func pendingFromMessage(msg backend.Message) PendingMessage {
	var text string
	switch {
	case msg.Text != nil && *msg.Text != "":
		text = *msg.Text
	case len(msg.MediaURLs) == 1:
		text = "Sent a photo"
	case len(msg.MediaURLs) > 1:
		text = fmt.Sprintf("Sent %d photos", len(msg.MediaURLs))
	}
	return PendingMessage{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Text:       text,
		Timestamp:  msg.Timestamp,
	}
}
