package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mrocha/chatline/internal/backend"
	"github.com/mrocha/chatline/internal/bus"
	"github.com/mrocha/chatline/internal/media"
	"github.com/mrocha/chatline/internal/store"
)

const (
	// drainInterval is how often the runner polls for due jobs.
	drainInterval = 500 * time.Millisecond

	// maxAttempts bounds retries per stage. A stage that fails this many
	// times moves the job to terminal failure.
	maxAttempts = 3

	// retryBackoff scales linearly with the attempt count.
	retryBackoff = 2 * time.Second
)

// Runner drains the durable outbox: it polls for due jobs and runs their
// current stage, uploading staged media and then writing the final message
// to the backend. One runner per process.
type Runner struct {
	db       *store.DB
	gateway  backend.Gateway
	uploader media.Uploader
	bus      *bus.Bus
	logger   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewRunner creates a stopped runner.
func NewRunner(db *store.DB, gw backend.Gateway, up media.Uploader, b *bus.Bus, logger *zap.Logger) *Runner {
	return &Runner{db: db, gateway: gw, uploader: up, bus: b, logger: logger}
}

// Start recovers jobs orphaned by a previous process and begins draining.
func (r *Runner) Start() error {
	recovered, err := r.db.RecoverStaleJobs()
	if err != nil {
		return fmt.Errorf("recover stale jobs: %w", err)
	}
	if recovered > 0 {
		r.logger.Info("recovered interrupted outbox jobs", zap.Int("count", recovered))
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.loop(ctx)
	return nil
}

// Stop halts the drain loop and waits for the in-flight job to finish.
func (r *Runner) Stop() {
	r.once.Do(func() {
		if r.cancel == nil {
			return
		}
		r.cancel()
		<-r.done
	})
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.drain(ctx)
		}
	}
}

// drain runs every due job once, oldest first.
func (r *Runner) drain(ctx context.Context) {
	jobs, err := r.db.DueJobs(time.Now().UnixMilli())
	if err != nil {
		r.logger.Error("list due jobs", zap.Error(err))
		return
	}
	for i := range jobs {
		if ctx.Err() != nil {
			return
		}
		r.runJob(ctx, &jobs[i])
	}
}

func (r *Runner) runJob(ctx context.Context, job *store.Job) {
	if err := r.db.MarkJobRunning(job.MessageID); err != nil {
		r.logger.Error("mark job running", zap.String("message_id", job.MessageID), zap.Error(err))
		return
	}

	var err error
	switch job.Stage {
	case store.StageUpload:
		err = r.runUpload(ctx, job)
	case store.StageSend:
		err = r.runSend(ctx, job)
	default:
		err = fmt.Errorf("unknown stage %q", job.Stage)
	}
	if err != nil {
		r.handleFailure(ctx, job, err)
	}
}

// runUpload uploads every staged item, advances the job to the send stage,
// and runs the send immediately instead of waiting for the next poll.
func (r *Runner) runUpload(ctx context.Context, job *store.Job) error {
	urls := make([]string, 0, len(job.MediaURIs))
	total := len(job.MediaURIs)
	for i, uri := range job.MediaURIs {
		if media.IsRemoteURL(uri) {
			urls = append(urls, uri)
		} else {
			url, err := r.uploader.Upload(ctx, uri)
			if err != nil {
				return fmt.Errorf("upload item %d/%d: %w", i+1, total, err)
			}
			urls = append(urls, url)
		}
		r.bus.Publish(bus.Event{
			Kind:      bus.KindOutboxUploadProgress,
			Timestamp: time.Now(),
			Payload:   bus.UploadProgress{MessageID: job.MessageID, Current: i + 1, Total: total},
		})
	}

	if err := r.db.AdvanceJobToSend(job.MessageID, urls); err != nil {
		return fmt.Errorf("advance to send: %w", err)
	}

	job.Stage = store.StageSend
	job.MediaURLs = urls
	job.Attempts = 0
	return r.runSend(ctx, job)
}

// runSend writes the final SENT record to the backend, overwriting the
// optimistic SENDING record by id.
func (r *Runner) runSend(ctx context.Context, job *store.Job) error {
	msg := finalMessage(job)
	if err := r.gateway.Send(ctx, msg); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	if err := r.db.MarkJobSent(job.MessageID); err != nil {
		r.logger.Error("mark job sent", zap.String("message_id", job.MessageID), zap.Error(err))
	}
	r.bus.Publish(bus.Event{Kind: bus.KindOutboxSent, Timestamp: time.Now(), Payload: job.MessageID})
	r.logger.Debug("message delivered", zap.String("message_id", job.MessageID))
	return nil
}

// handleFailure either reschedules the stage with backoff or, with the
// retry budget spent, fails the job terminally and flips the backend record
// to FAILED so other clients see it.
func (r *Runner) handleFailure(ctx context.Context, job *store.Job, cause error) {
	attempts := job.Attempts + 1
	if attempts < maxAttempts {
		nextRun := time.Now().Add(time.Duration(attempts) * retryBackoff).UnixMilli()
		if err := r.db.RescheduleJob(job.MessageID, attempts, nextRun, cause.Error()); err != nil {
			r.logger.Error("reschedule job", zap.String("message_id", job.MessageID), zap.Error(err))
			return
		}
		r.logger.Warn("outbox stage failed, retrying",
			zap.String("message_id", job.MessageID),
			zap.String("stage", job.Stage),
			zap.Int("attempt", attempts),
			zap.Error(cause))
		return
	}

	// Best effort: the FAILED record lets other clients render the failure,
	// but if the backend is the thing that is down this write fails too.
	msg := finalMessage(job)
	msg.Status = backend.StatusFailed
	if err := r.gateway.Send(ctx, msg); err != nil {
		r.logger.Warn("could not record failed status on backend",
			zap.String("message_id", job.MessageID), zap.Error(err))
	}

	if err := r.db.MarkJobFailed(job.MessageID, cause.Error()); err != nil {
		r.logger.Error("mark job failed", zap.String("message_id", job.MessageID), zap.Error(err))
	}
	r.bus.Publish(bus.Event{Kind: bus.KindOutboxFailed, Timestamp: time.Now(), Payload: job.MessageID})
	r.logger.Error("message delivery failed",
		zap.String("message_id", job.MessageID),
		zap.String("stage", job.Stage),
		zap.Error(cause))
}

// finalMessage builds the backend record for a job, preferring uploaded
// URLs over staged URIs.
func finalMessage(job *store.Job) backend.Message {
	urls := job.MediaURLs
	if len(urls) == 0 {
		urls = job.MediaURIs
	}
	return backend.Message{
		ID:         job.MessageID,
		Text:       job.Body,
		MediaURLs:  urls,
		SenderID:   job.SenderID,
		SenderName: job.SenderName,
		Timestamp:  job.Timestamp,
		Status:     backend.StatusSent,
	}
}
