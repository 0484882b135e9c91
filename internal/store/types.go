package store

// Job stages. A job with media starts at StageUpload and advances to
// StageSend once every item has a remote URL; a text-only job starts at
// StageSend directly.
const (
	StageUpload = "upload"
	StageSend   = "send"
)

// Job statuses.
const (
	JobPending = "pending"
	JobRunning = "running"
	JobSent    = "sent"
	JobFailed  = "failed"
)

// Job is one durable outbox entry: everything needed to re-run the
// upload/send chain after a crash or restart. MessageID doubles as the
// backend message identifier, so re-runs overwrite rather than duplicate.
type Job struct {
	MessageID  string
	Body       *string
	MediaURIs  []string // staged local paths, or remote pass-through URLs
	MediaURLs  []string // output of the upload stage
	SenderID   string
	SenderName string
	Timestamp  int64
	Stage      string
	Status     string
	Attempts   int
	LastError  string
	NextRunAt  int64
	CreatedAt  int64
	UpdatedAt  int64
}
