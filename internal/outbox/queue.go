package outbox

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mrocha/chatline/internal/backend"
	"github.com/mrocha/chatline/internal/bus"
	"github.com/mrocha/chatline/internal/identity"
	"github.com/mrocha/chatline/internal/media"
	"github.com/mrocha/chatline/internal/store"
)

// DefaultSenderName is used when no username was set before the first send.
const DefaultSenderName = "Anonymous"

// ErrEmptyMessage is returned when a send carries neither text nor media.
var ErrEmptyMessage = errors.New("message has no text and no media")

// Queue accepts new sends: it stages media, writes an optimistic SENDING
// record to the backend so the message shows up immediately, and enqueues
// a durable job for the runner to drain.
type Queue struct {
	db       *store.DB
	gateway  backend.Gateway
	stager   *media.Stager
	identity *identity.Store
	bus      *bus.Bus
	logger   *zap.Logger
}

// NewQueue creates a send queue.
func NewQueue(db *store.DB, gw backend.Gateway, stager *media.Stager, id *identity.Store, b *bus.Bus, logger *zap.Logger) *Queue {
	return &Queue{db: db, gateway: gw, stager: stager, identity: id, bus: b, logger: logger}
}

// Queue enqueues one message for delivery and returns its id. The message
// is durable from this point: delivery survives restarts.
func (q *Queue) Queue(ctx context.Context, text string, mediaURIs []string) (string, error) {
	trimmed := strings.TrimSpace(text)
	staged := q.stager.Stage(ctx, mediaURIs)
	if trimmed == "" && len(staged) == 0 {
		return "", ErrEmptyMessage
	}

	deviceID, err := q.identity.DeviceID()
	if err != nil {
		return "", err
	}
	senderName, err := q.identity.Username()
	if err != nil {
		return "", err
	}
	if senderName == "" {
		senderName = DefaultSenderName
	}

	id := uuid.NewString()
	now := time.Now().UnixMilli()

	var body *string
	if trimmed != "" {
		body = &trimmed
	}

	// Optimistic write: the message appears in everyone's window as SENDING
	// right away. Failure here is tolerable, the job re-sends by the same id.
	optimistic := backend.Message{
		ID:         id,
		Text:       body,
		MediaURLs:  staged,
		SenderID:   deviceID,
		SenderName: senderName,
		Timestamp:  now,
		Status:     backend.StatusSending,
	}
	if err := q.gateway.Send(ctx, optimistic); err != nil {
		q.logger.Warn("optimistic send failed, job will retry",
			zap.String("message_id", id), zap.Error(err))
	}

	job := &store.Job{
		MessageID:  id,
		Body:       body,
		MediaURIs:  staged,
		SenderID:   deviceID,
		SenderName: senderName,
		Timestamp:  now,
		Stage:      stageFor(staged),
	}
	if err := q.db.InsertJob(job); err != nil {
		return "", err
	}

	q.bus.Publish(bus.Event{Kind: bus.KindOutboxQueued, Timestamp: time.Now(), Payload: id})
	q.logger.Debug("queued message",
		zap.String("message_id", id),
		zap.String("stage", job.Stage),
		zap.Int("media", len(staged)))
	return id, nil
}

// stageFor picks the first stage: uploads only happen when some staged item
// is still a local path.
func stageFor(staged []string) string {
	for _, uri := range staged {
		if !media.IsRemoteURL(uri) {
			return store.StageUpload
		}
	}
	return store.StageSend
}
